// Package api provides HTTP handlers and the main server logic for VoicePipe.
//
// It exposes the telephony webhook endpoints (/voice, /turn), the speech
// synthesis endpoint (/tts), the SIP handoff endpoint (/dial), and a small
// JSON management surface (/calls, /health). The webhook endpoints uphold a
// strict transport contract: every response is HTTP 200 with a well-formed
// TwiML document, because an error status would drop the call with no spoken
// message.
package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ironcoreai/VoicePipe/internal/convo"
	"github.com/ironcoreai/VoicePipe/internal/genai"
	"github.com/ironcoreai/VoicePipe/internal/models"
	"github.com/ironcoreai/VoicePipe/internal/tts"
	"github.com/ironcoreai/VoicePipe/internal/twiliocalls"
	"github.com/ironcoreai/VoicePipe/internal/twiml"
)

// DefaultAddr is the default API server listen address.
const DefaultAddr = ":8080"

// speechSynthesizer defines the minimal interface for the audio rendering
// collaborator. Only success or failure matters to the handlers.
type speechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// Server holds the wired collaborators for the webhook endpoints.
type Server struct {
	addr       string
	baseURL    string
	sipTarget  string
	engine     *convo.Engine
	codec      *convo.Codec
	builder    *twiml.Builder
	speech     speechSynthesizer      // nil: degrade to <Say>
	callPlacer twiliocalls.CallPlacer // nil: /calls disabled
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	BaseURL       string
	SIPTarget     string
	GatherTimeout int
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithBaseURL sets the public base URL used in callback and audio URLs.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithSIPTarget sets the SIP address for the /dial handoff endpoint.
func WithSIPTarget(target string) Option {
	return func(o *Opts) { o.SIPTarget = target }
}

// WithGatherTimeout sets the speech capture wait in seconds.
func WithGatherTimeout(seconds int) Option {
	return func(o *Opts) { o.GatherTimeout = seconds }
}

// NewServer creates a Server with explicit collaborators. Run wires the
// production collaborators; tests inject mocks here.
func NewServer(engine *convo.Engine, codec *convo.Codec, builder *twiml.Builder, speech speechSynthesizer, callPlacer twiliocalls.CallPlacer, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		addr:       cfg.Addr,
		baseURL:    cfg.BaseURL,
		sipTarget:  cfg.SIPTarget,
		engine:     engine,
		codec:      codec,
		builder:    builder,
		speech:     speech,
		callPlacer: callPlacer,
	}
}

// Run builds the production modules from their options and serves until the
// listener fails. The script defines the conversation policy; the oracle and
// speech clients are both optional in the sense that their absence degrades
// the call experience instead of refusing to start.
func Run(script *models.Script, engineOpts []convo.Option, genaiOpts []genai.Option, ttsOpts []tts.Option, twilioOpts []twiliocalls.Option, apiOpts []Option) error {
	oracle, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize oracle client: %w", err)
	}

	var speech speechSynthesizer
	if ttsClient, err := tts.NewClient(ttsOpts...); err != nil {
		slog.Warn("api.Run: speech synthesis unavailable, degrading to carrier voice", "error", err)
	} else {
		speech = ttsClient
	}

	var callPlacer twiliocalls.CallPlacer
	if twilioClient, err := twiliocalls.NewClient(twilioOpts...); err != nil {
		slog.Warn("api.Run: outbound calling unavailable", "error", err)
	} else {
		callPlacer = twilioClient
	}

	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	engine := convo.NewEngine(script, oracle, engineOpts...)
	codec := convo.NewCodec(script)
	builderOpts := []twiml.Option{twiml.WithSynthesis(speech != nil)}
	if cfg.GatherTimeout > 0 {
		builderOpts = append(builderOpts, twiml.WithGatherTimeout(cfg.GatherTimeout))
	}
	builder := twiml.NewBuilder(cfg.BaseURL, builderOpts...)

	server := NewServer(engine, codec, builder, speech, callPlacer, apiOpts...)

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	slog.Info("VoicePipe API running", "addr", server.addr, "baseURL", server.baseURL,
		"synthesis", speech != nil, "outboundCalls", callPlacer != nil, "script", script.Name)
	return http.ListenAndServe(server.addr, mux)
}

// RegisterRoutes attaches all endpoints to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/voice", s.recoverTwiML(s.voiceHandler))
	mux.HandleFunc("/turn", s.recoverTwiML(s.turnHandler))
	mux.HandleFunc("/tts", s.ttsHandler)
	mux.HandleFunc("/dial", s.recoverTwiML(s.dialHandler))
	mux.HandleFunc("/calls", s.callsHandler)
	mux.HandleFunc("/health", s.healthHandler)
}

// recoverTwiML is the top-level backstop for the webhook endpoints: any
// unhandled fault becomes a generic apology document with HTTP 200, never a
// transport-level error.
func (s *Server) recoverTwiML(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Server.recoverTwiML: recovered from panic", "panic", rec, "path", r.URL.Path)
				writeFallbackTwiML(w)
			}
		}()
		next(w, r)
	}
}
