package convo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ironcoreai/VoicePipe/internal/models"
)

// mockOracle returns a scripted decision or error for engine tests.
type mockOracle struct {
	decision *models.OracleDecision
	err      error
	delay    time.Duration
	calls    int
	lastCall *models.CallContext
}

func (m *mockOracle) Decide(ctx context.Context, script *models.Script, call *models.CallContext, utterance string) (*models.OracleDecision, error) {
	m.calls++
	m.lastCall = call.Clone()
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.decision, nil
}

func decisionFor(stage, reply string, end bool) *models.OracleDecision {
	return &models.OracleDecision{
		Reply: reply,
		Context: models.CallContext{
			Stage:  stage,
			Fields: map[string]string{"issue": "furnace"},
		},
		End: end,
	}
}

func TestTurnAdoptsOracleContext(t *testing.T) {
	script := models.DefaultScript()
	oracle := &mockOracle{decision: decisionFor("collecting", "Got it. What's your name?", false)}
	engine := NewEngine(script, oracle)

	prior := script.NewContext("CA1", "+15550100")
	result := engine.Turn(context.Background(), prior, "I need help with my furnace")

	if oracle.calls != 1 {
		t.Fatalf("expected exactly one oracle call, got %d", oracle.calls)
	}
	if result.EndCall {
		t.Errorf("expected call to continue")
	}
	if result.Degraded {
		t.Errorf("expected normal turn, got degraded")
	}
	if result.Context.Stage != "collecting" {
		t.Errorf("expected stage collecting, got %s", result.Context.Stage)
	}
	if result.Context.Fields["issue"] != "furnace" {
		t.Errorf("expected oracle fields adopted, got %+v", result.Context.Fields)
	}
	if result.Utterance != "Got it. What's your name?" {
		t.Errorf("unexpected utterance %q", result.Utterance)
	}
	// Correlation identifiers survive even though the oracle dropped them.
	if result.Context.CallID != "CA1" || result.Context.Caller != "+15550100" {
		t.Errorf("expected correlation identifiers preserved, got %+v", result.Context)
	}
	// Transcript continuity is engine-owned: caller turn then agent turn,
	// regardless of what transcript the oracle returned.
	tr := result.Context.Transcript
	if len(tr) != 2 {
		t.Fatalf("expected 2 transcript entries, got %+v", tr)
	}
	if tr[0].Role != models.SpeakerCaller || tr[1].Role != models.SpeakerAgent {
		t.Errorf("expected caller then agent entries, got %+v", tr)
	}
}

func TestTurnDoesNotMutatePriorContext(t *testing.T) {
	script := models.DefaultScript()
	oracle := &mockOracle{decision: decisionFor("collecting", "Noted.", false)}
	engine := NewEngine(script, oracle)

	prior := script.NewContext("CA1", "+15550100")
	engine.Turn(context.Background(), prior, "hello")

	if prior.Stage != script.InitialStage {
		t.Errorf("prior context stage mutated to %s", prior.Stage)
	}
	if len(prior.Transcript) != 0 {
		t.Errorf("prior context transcript mutated: %+v", prior.Transcript)
	}
}

func TestTurnCallerUtteranceSeenByOracle(t *testing.T) {
	script := models.DefaultScript()
	oracle := &mockOracle{decision: decisionFor("collecting", "Sure.", false)}
	engine := NewEngine(script, oracle)

	prior := script.NewContext("CA1", "")
	engine.Turn(context.Background(), prior, "my AC is broken")

	tr := oracle.lastCall.Transcript
	if len(tr) == 0 || tr[len(tr)-1].Text != "my AC is broken" || tr[len(tr)-1].Role != models.SpeakerCaller {
		t.Errorf("expected caller utterance appended before oracle call, got %+v", tr)
	}
}

func TestTurnEmptyUtterancePlaceholder(t *testing.T) {
	script := models.DefaultScript()
	oracle := &mockOracle{decision: decisionFor("intro", "Could you repeat that?", false)}
	engine := NewEngine(script, oracle)

	prior := script.NewContext("CA1", "")
	engine.Turn(context.Background(), prior, "   ")

	tr := oracle.lastCall.Transcript
	if len(tr) == 0 || tr[len(tr)-1].Text != UnintelligiblePlaceholder {
		t.Errorf("expected placeholder for empty speech, got %+v", tr)
	}
}

func TestTurnOracleErrorFallsBack(t *testing.T) {
	script := models.DefaultScript()
	oracle := &mockOracle{err: errors.New("boom")}
	engine := NewEngine(script, oracle)

	prior := script.NewContext("CA1", "")
	prior.Fields["caller_name"] = "Dana"
	result := engine.Turn(context.Background(), prior, "hello?")

	if !result.Degraded {
		t.Errorf("expected degraded result")
	}
	if result.EndCall {
		t.Errorf("oracle failure must not end the call")
	}
	if result.Utterance != script.FallbackLine {
		t.Errorf("expected fallback line, got %q", result.Utterance)
	}
	// Prior context retained, with the caller turn still appended.
	if result.Context.Stage != prior.Stage {
		t.Errorf("expected stage unchanged, got %s", result.Context.Stage)
	}
	if result.Context.Fields["caller_name"] != "Dana" {
		t.Errorf("expected fields unchanged, got %+v", result.Context.Fields)
	}
	if len(result.Context.Transcript) != 2 {
		t.Fatalf("expected caller turn + fallback appended, got %+v", result.Context.Transcript)
	}
	if result.Context.Transcript[0].Role != models.SpeakerCaller || result.Context.Transcript[0].Text != "hello?" {
		t.Errorf("expected caller turn recorded, got %+v", result.Context.Transcript[0])
	}
}

func TestTurnMissingReplyFallsBack(t *testing.T) {
	script := models.DefaultScript()
	oracle := &mockOracle{decision: &models.OracleDecision{
		Reply:   "",
		Context: models.CallContext{Stage: "collecting"},
	}}
	engine := NewEngine(script, oracle)

	result := engine.Turn(context.Background(), script.NewContext("CA1", ""), "hi")

	if !result.Degraded {
		t.Errorf("expected degraded result for missing reply")
	}
	if result.Utterance == "" {
		t.Errorf("fallback utterance must be non-empty")
	}
	if result.EndCall {
		t.Errorf("missing reply must not end the call")
	}
}

func TestTurnInvalidOracleStageFallsBack(t *testing.T) {
	script := models.DefaultScript()
	oracle := &mockOracle{decision: decisionFor("daydreaming", "Okay!", false)}
	engine := NewEngine(script, oracle)

	result := engine.Turn(context.Background(), script.NewContext("CA1", ""), "hi")

	if !result.Degraded {
		t.Errorf("expected degraded result for unknown stage")
	}
	if result.Context.Stage != script.InitialStage {
		t.Errorf("expected prior stage retained, got %s", result.Context.Stage)
	}
}

func TestTurnOracleTimeoutFallsBack(t *testing.T) {
	script := models.DefaultScript()
	oracle := &mockOracle{
		decision: decisionFor("collecting", "too late", false),
		delay:    time.Second,
	}
	engine := NewEngine(script, oracle, WithOracleTimeout(10*time.Millisecond))

	start := time.Now()
	result := engine.Turn(context.Background(), script.NewContext("CA1", ""), "hello")

	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("turn did not respect oracle timeout, took %v", elapsed)
	}
	if !result.Degraded {
		t.Errorf("expected degraded result on timeout")
	}
	if result.EndCall {
		t.Errorf("timeout must not end the call")
	}
}

func TestTurnEndFlagWins(t *testing.T) {
	// Oracle says end=true but returns a non-terminal stage: termination wins.
	script := models.DefaultScript()
	oracle := &mockOracle{decision: decisionFor("confirm", "Thanks, goodbye!", true)}
	engine := NewEngine(script, oracle)

	result := engine.Turn(context.Background(), script.NewContext("CA1", ""), "yes that's right")

	if !result.EndCall {
		t.Errorf("expected end flag alone to terminate the call")
	}
}

func TestTurnTerminalStageWins(t *testing.T) {
	// Oracle says end=false but moves to the terminal stage: termination wins.
	script := models.DefaultScript()
	oracle := &mockOracle{decision: decisionFor("done", "All set, goodbye!", false)}
	engine := NewEngine(script, oracle)

	result := engine.Turn(context.Background(), script.NewContext("CA1", ""), "yes")

	if !result.EndCall {
		t.Errorf("expected terminal stage alone to terminate the call")
	}
}

func TestTurnTranscriptBounded(t *testing.T) {
	script := models.DefaultScript()
	oracle := &mockOracle{decision: decisionFor("collecting", "And then?", false)}
	engine := NewEngine(script, oracle, WithTranscriptLimit(4))

	ctx := script.NewContext("CA1", "")
	for i := 0; i < 10; i++ {
		result := engine.Turn(context.Background(), ctx, "more details")
		// Carry the result forward as the next prior, simulating the
		// token round trip between turns.
		ctx = result.Context
		if len(ctx.Transcript) > 4 {
			t.Fatalf("transcript exceeded bound after turn %d: %d entries", i, len(ctx.Transcript))
		}
	}
}

func TestTurnClampsStageRegression(t *testing.T) {
	script := models.DefaultScript() // AllowRegression is false by default
	oracle := &mockOracle{decision: decisionFor("intro", "Let's start over.", false)}
	engine := NewEngine(script, oracle)

	prior := script.NewContext("CA1", "")
	prior.Stage = "confirm"
	result := engine.Turn(context.Background(), prior, "hm")

	if result.Context.Stage != "confirm" {
		t.Errorf("expected regression clamped at confirm, got %s", result.Context.Stage)
	}
	if result.Degraded {
		t.Errorf("clamped regression is still a normal turn")
	}
}

func TestTurnAllowsStageRegressionWhenConfigured(t *testing.T) {
	script := models.DefaultScript()
	script.AllowRegression = true
	oracle := &mockOracle{decision: decisionFor("intro", "Let's start over.", false)}
	engine := NewEngine(script, oracle)

	prior := script.NewContext("CA1", "")
	prior.Stage = "confirm"
	result := engine.Turn(context.Background(), prior, "actually I gave you the wrong number")

	if result.Context.Stage != "intro" {
		t.Errorf("expected regression allowed, got %s", result.Context.Stage)
	}
}
