// Package genai provides the OpenAI-backed decision oracle for VoicePipe.
//
// The oracle receives the full conversation context plus the caller's latest
// utterance and must answer with a strictly shaped JSON decision. Everything
// the model returns is treated as untrusted input: the response is parsed
// and validated here before the turn engine ever sees it.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/ironcoreai/VoicePipe/internal/models"
)

// Default model parameters, matching the production deployment.
const (
	DefaultModel       = string(openai.ChatModelGPT4oMini)
	DefaultTemperature = 0.6
	DefaultMaxTokens   = 300
)

// decisionContract is appended to every script's system prompt so the model
// knows the exact output shape. Deviations are rejected by ParseDecision.
const decisionContract = `
You must respond with a single JSON object and nothing else. The object has exactly three keys:
  "reply": what you say to the caller next, one or two short spoken sentences;
  "context": the updated conversation state, an object with "stage" (one of: %s) and "fields" (an object of collected values for the slots: %s);
  "end": true only when the conversation is finished.
Copy every field you have already collected into "fields" and add new values as the caller provides them. When the call is complete, set "stage" to %q and "end" to true.`

// chatService defines the minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the oracle client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// Option defines a configuration option for the oracle client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens overrides the completion token limit.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// Client wraps the OpenAI chat completion service as a decision oracle.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
}

// NewClient initializes the oracle client. The API key falls back to the
// OPENAI_API_KEY environment variable when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("GenAI client initialized", "model", cfg.Model, "temperature", cfg.Temperature, "maxTokens", cfg.MaxTokens)
	return &Client{
		chat:        &cli.Chat.Completions,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Decide asks the model for the next turn. It returns an error for transport
// failures and for any response that does not satisfy the decision contract;
// the caller is expected to degrade gracefully in both cases.
func (c *Client) Decide(ctx context.Context, script *models.Script, call *models.CallContext, utterance string) (*models.OracleDecision, error) {
	stateJSON, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation context: %w", err)
	}

	system := script.SystemPrompt + fmt.Sprintf(decisionContract,
		strings.Join(script.Stages, ", "),
		strings.Join(script.Slots, ", "),
		script.TerminalStage)
	user := fmt.Sprintf("Current conversation state:\n%s\n\nThe caller just said: %q\nRespond with the decision JSON.",
		stateJSON, utterance)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: param.NewOpt(c.temperature),
		MaxTokens:   param.NewOpt(c.maxTokens),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		slog.Error("GenAI Decide: chat completion failed", "error", err, "callID", call.CallID)
		return nil, fmt.Errorf("oracle request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("oracle returned no choices")
	}

	decision, err := ParseDecision(resp.Choices[0].Message.Content)
	if err != nil {
		slog.Warn("GenAI Decide: oracle output rejected", "error", err, "callID", call.CallID)
		return nil, err
	}

	slog.Debug("GenAI Decide: decision accepted",
		"callID", call.CallID, "stage", decision.Context.Stage, "end", decision.End)
	return decision, nil
}

// ParseDecision parses raw model output into an OracleDecision. The contract
// is strict: a single JSON object with exactly the reply/context/end keys,
// each present. Markdown code fences are tolerated since models add them
// despite instructions; anything else is a contract violation.
func ParseDecision(raw string) (*models.OracleDecision, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return nil, fmt.Errorf("oracle returned empty output")
	}

	// Pointer fields distinguish "key absent" from a zero value, so a missing
	// end flag or context is rejected instead of silently defaulting.
	var decision struct {
		Reply   *string             `json:"reply"`
		Context *models.CallContext `json:"context"`
		End     *bool               `json:"end"`
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&decision); err != nil {
		return nil, fmt.Errorf("oracle output is not a valid decision: %w", err)
	}
	// Reject trailing content after the decision object.
	if dec.More() {
		return nil, fmt.Errorf("oracle output contains extraneous content")
	}
	if decision.Reply == nil || decision.Context == nil || decision.End == nil {
		return nil, fmt.Errorf("oracle output is missing required decision keys")
	}

	return &models.OracleDecision{
		Reply:   *decision.Reply,
		Context: *decision.Context,
		End:     *decision.End,
	}, nil
}
