// Package models defines the core data structures for VoicePipe.
//
// It includes the conversation context carried between webhook turns, the
// oracle decision contract, and shared API response types.
package models

import (
	"errors"
	"unicode/utf8"
)

// SpeakerRole identifies who produced a transcript entry.
type SpeakerRole string

const (
	// SpeakerCaller marks transcript entries spoken by the caller.
	SpeakerCaller SpeakerRole = "caller"
	// SpeakerAgent marks transcript entries spoken by the agent.
	SpeakerAgent SpeakerRole = "agent"
)

// Validation constants for input validation
const (
	// MaxUtteranceLength defines the maximum length of a single transcript entry
	MaxUtteranceLength = 1024
	// DefaultTranscriptLimit defines how many transcript entries a context retains
	DefaultTranscriptLimit = 8
)

// Error variables for better error handling and testability
var (
	ErrEmptyStage         = errors.New("context stage cannot be empty")
	ErrUnknownStage       = errors.New("context stage is not declared by the script")
	ErrInvalidRole        = errors.New("transcript role must be caller or agent")
	ErrEmptyReply         = errors.New("oracle decision reply cannot be empty")
	ErrMissingScript      = errors.New("script is required")
	ErrNoStages           = errors.New("script must declare at least one stage")
	ErrMissingTerminal    = errors.New("script terminal stage must be declared in stages")
	ErrMissingInitial     = errors.New("script initial stage must be declared in stages")
	ErrEmptyCallTarget    = errors.New("call target cannot be empty")
	ErrEmptySynthesisText = errors.New("synthesis text cannot be empty")
)

// IsValidSpeakerRole checks if the given transcript role is supported.
func IsValidSpeakerRole(r SpeakerRole) bool {
	return r == SpeakerCaller || r == SpeakerAgent
}

// TranscriptEntry is one utterance in the bounded conversation transcript.
type TranscriptEntry struct {
	Role SpeakerRole `json:"role"`
	Text string      `json:"text"`
}

// CallContext is the conversation state threaded through a call. It is created
// on the first webhook turn, round-tripped through the carrier inside the
// response's callback URL, and discarded when the call ends. Nothing about it
// is stored server-side.
type CallContext struct {
	Stage      string            `json:"stage"`
	Fields     map[string]string `json:"fields,omitempty"`
	Transcript []TranscriptEntry `json:"transcript,omitempty"`
	CallID     string            `json:"call_id,omitempty"`
	Caller     string            `json:"caller,omitempty"`
}

// AppendTranscript appends an utterance and drops the oldest entries so the
// transcript never exceeds limit. A non-positive limit keeps no transcript.
// Oversized text is truncated on a rune boundary; a split rune would survive
// as invalid UTF-8 and break the token round trip when JSON re-encodes it.
func (c *CallContext) AppendTranscript(role SpeakerRole, text string, limit int) {
	if len(text) > MaxUtteranceLength {
		cut := MaxUtteranceLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	c.Transcript = append(c.Transcript, TranscriptEntry{Role: role, Text: text})
	if limit < 0 {
		limit = 0
	}
	if len(c.Transcript) > limit {
		c.Transcript = c.Transcript[len(c.Transcript)-limit:]
	}
}

// Clone returns a deep copy so one turn can never mutate another turn's state.
func (c *CallContext) Clone() *CallContext {
	out := &CallContext{
		Stage:  c.Stage,
		CallID: c.CallID,
		Caller: c.Caller,
	}
	if c.Fields != nil {
		out.Fields = make(map[string]string, len(c.Fields))
		for k, v := range c.Fields {
			out.Fields[k] = v
		}
	}
	if c.Transcript != nil {
		out.Transcript = make([]TranscriptEntry, len(c.Transcript))
		copy(out.Transcript, c.Transcript)
	}
	return out
}

// Equal reports structural equality between two contexts.
func (c *CallContext) Equal(other *CallContext) bool {
	if other == nil {
		return false
	}
	if c.Stage != other.Stage || c.CallID != other.CallID || c.Caller != other.Caller {
		return false
	}
	if len(c.Fields) != len(other.Fields) {
		return false
	}
	for k, v := range c.Fields {
		if ov, ok := other.Fields[k]; !ok || ov != v {
			return false
		}
	}
	if len(c.Transcript) != len(other.Transcript) {
		return false
	}
	for i, e := range c.Transcript {
		if other.Transcript[i] != e {
			return false
		}
	}
	return true
}

// Validate checks the context for structural soundness against a script.
func (c *CallContext) Validate(script *Script) error {
	if script == nil {
		return ErrMissingScript
	}
	if c.Stage == "" {
		return ErrEmptyStage
	}
	if !script.HasStage(c.Stage) {
		return ErrUnknownStage
	}
	for _, e := range c.Transcript {
		if !IsValidSpeakerRole(e.Role) {
			return ErrInvalidRole
		}
	}
	return nil
}

// OracleDecision is the strict contract for decision oracle output: exactly a
// reply utterance, an updated context, and an end flag.
type OracleDecision struct {
	Reply   string      `json:"reply"`
	Context CallContext `json:"context"`
	End     bool        `json:"end"`
}

// TurnResult is the outcome of one conversational turn.
type TurnResult struct {
	Context   *CallContext // updated state to carry into the next turn
	Utterance string       // what the agent speaks this turn
	EndCall   bool         // hang up instead of re-arming capture
	Degraded  bool         // the oracle failure fallback path was taken
}

// API Response types for consistent JSON responses

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates a successful operation.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates a failed operation.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
