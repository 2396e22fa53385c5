// Package tts provides speech synthesis for VoicePipe using the OpenAI
// audio API. The TwiML responses point the carrier's <Play> verb at the
// /tts endpoint, which streams the synthesized audio produced here.
package tts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ironcoreai/VoicePipe/internal/models"
)

// Default synthesis parameters, matching the production deployment.
const (
	DefaultModel = string(openai.SpeechModelGPT4oMiniTTS)
	DefaultVoice = string(openai.AudioSpeechNewParamsVoiceAlloy)
	// ContentType is the media type of synthesized audio.
	ContentType = "audio/mpeg"
)

// speechService defines the minimal interface for speech synthesis.
type speechService interface {
	New(ctx context.Context, body openai.AudioSpeechNewParams, opts ...option.RequestOption) (*http.Response, error)
}

// Opts holds configuration options for the synthesis client.
type Opts struct {
	APIKey string
	Model  string
	Voice  string
}

// Option defines a configuration option for the synthesis client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the speech model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithVoice overrides the synthesis voice.
func WithVoice(voice string) Option {
	return func(o *Opts) { o.Voice = voice }
}

// Client wraps the OpenAI speech service.
type Client struct {
	speech speechService
	model  string
	voice  string
}

// NewClient initializes the synthesis client. The API key falls back to the
// OPENAI_API_KEY environment variable when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model: DefaultModel,
		Voice: DefaultVoice,
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
	slog.Debug("TTS client initialized", "model", cfg.Model, "voice", cfg.Voice)
	return &Client{
		speech: &cli.Audio.Speech,
		model:  cfg.Model,
		voice:  cfg.Voice,
	}, nil
}

// Synthesize converts text to speech and returns the audio stream. The caller
// must close the returned reader.
func (c *Client) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	if text == "" {
		return nil, models.ErrEmptySynthesisText
	}

	resp, err := c.speech.New(ctx, openai.AudioSpeechNewParams{
		Model: openai.SpeechModel(c.model),
		Voice: openai.AudioSpeechNewParamsVoice(c.voice),
		Input: text,
	})
	if err != nil {
		slog.Error("TTS Synthesize: speech request failed", "error", err, "textLength", len(text))
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}

	slog.Debug("TTS Synthesize: audio stream ready", "textLength", len(text))
	return resp.Body, nil
}
