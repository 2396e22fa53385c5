package convo

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ironcoreai/VoicePipe/internal/models"
)

// UnintelligiblePlaceholder is substituted for empty or inaudible caller
// speech so the oracle always receives something actionable.
const UnintelligiblePlaceholder = "The caller said nothing intelligible. Ask them to repeat themselves."

// Default engine configuration
const (
	// DefaultOracleTimeout bounds the single oracle call per turn. A live
	// caller is waiting, so a stalled oracle degrades to the fallback line
	// instead of blocking.
	DefaultOracleTimeout = 8 * time.Second
)

// Oracle is the external decision function that advances the conversation.
// It receives the full current context plus the caller's latest utterance and
// returns a strictly shaped decision. Implementations are expected to be
// unreliable; the engine treats every error as a recoverable per-turn fault.
type Oracle interface {
	Decide(ctx context.Context, script *models.Script, call *models.CallContext, utterance string) (*models.OracleDecision, error)
}

// Engine performs the turn transition (priorContext, callerUtterance) ->
// (newContext, agentUtterance, endCall). It consults the oracle exactly once
// per turn and never fails: every oracle fault degrades to the script's
// fallback line with the prior context retained.
type Engine struct {
	script          *models.Script
	oracle          Oracle
	transcriptLimit int
	oracleTimeout   time.Duration
}

// Option defines a configuration option for the turn engine.
type Option func(*Engine)

// WithTranscriptLimit sets how many transcript entries the context retains.
func WithTranscriptLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.transcriptLimit = n
		}
	}
}

// WithOracleTimeout bounds the per-turn oracle call.
func WithOracleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.oracleTimeout = d
		}
	}
}

// NewEngine creates a turn engine for the given script and oracle.
func NewEngine(script *models.Script, oracle Oracle, opts ...Option) *Engine {
	e := &Engine{
		script:          script,
		oracle:          oracle,
		transcriptLimit: models.DefaultTranscriptLimit,
		oracleTimeout:   DefaultOracleTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	slog.Debug("Engine.NewEngine: created turn engine",
		"script", script.Name, "transcriptLimit", e.transcriptLimit, "oracleTimeout", e.oracleTimeout)
	return e
}

// Script returns the script policy this engine runs.
func (e *Engine) Script() *models.Script {
	return e.script
}

// TranscriptLimit returns the configured transcript bound.
func (e *Engine) TranscriptLimit() int {
	return e.transcriptLimit
}

// Turn advances the conversation by one exchange. The prior context is never
// mutated; callers receive a fresh context to encode into the next callback
// URL. Turn does not return an error: oracle faults of any kind produce the
// script's fallback line with the caller's utterance still recorded.
func (e *Engine) Turn(ctx context.Context, prior *models.CallContext, utterance string) models.TurnResult {
	call := prior.Clone()

	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		slog.Debug("Engine.Turn: empty caller utterance, substituting placeholder", "callID", call.CallID)
		utterance = UnintelligiblePlaceholder
	}
	call.AppendTranscript(models.SpeakerCaller, utterance, e.transcriptLimit)

	octx, cancel := context.WithTimeout(ctx, e.oracleTimeout)
	defer cancel()

	decision, err := e.oracle.Decide(octx, e.script, call, utterance)
	if err != nil {
		return e.fallback(call, "oracle call failed", err)
	}
	if decision == nil || strings.TrimSpace(decision.Reply) == "" {
		return e.fallback(call, "oracle decision missing reply", nil)
	}
	if err := decision.Context.Validate(e.script); err != nil {
		return e.fallback(call, "oracle returned invalid context", err)
	}

	// Adopt the oracle's stage and collected fields. The transcript and the
	// correlation identifiers stay engine-owned: working memory must remain
	// bounded and continuous even when the oracle echoes it back mangled.
	next := decision.Context.Clone()
	next.Transcript = call.Transcript
	next.CallID = call.CallID
	next.Caller = call.Caller

	if !e.script.AllowRegression {
		if e.script.StageIndex(next.Stage) < e.script.StageIndex(call.Stage) {
			slog.Info("Engine.Turn: clamping oracle stage regression",
				"callID", call.CallID, "from", call.Stage, "to", next.Stage)
			next.Stage = call.Stage
		}
	}

	reply := strings.TrimSpace(decision.Reply)
	next.AppendTranscript(models.SpeakerAgent, reply, e.transcriptLimit)

	// Either signal alone ends the call. When the end flag and the stage
	// disagree, termination wins: never strand a caller in a dead loop and
	// never keep a finished call open.
	end := decision.End || e.script.IsTerminal(next.Stage)

	slog.Debug("Engine.Turn: turn completed",
		"callID", call.CallID, "stage", next.Stage, "end", end, "transcriptLength", len(next.Transcript))
	return models.TurnResult{Context: next, Utterance: reply, EndCall: end}
}

// fallback produces the degraded turn result: the script's canned apology,
// the prior context with only the caller's utterance appended, and the call
// kept alive.
func (e *Engine) fallback(call *models.CallContext, reason string, err error) models.TurnResult {
	slog.Warn("Engine.Turn: degrading to fallback utterance",
		"reason", reason, "error", err, "callID", call.CallID, "stage", call.Stage)
	call.AppendTranscript(models.SpeakerAgent, e.script.FallbackLine, e.transcriptLimit)
	return models.TurnResult{
		Context:   call,
		Utterance: e.script.FallbackLine,
		Degraded:  true,
	}
}
