package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/ironcoreai/VoicePipe/internal/models"
	"github.com/ironcoreai/VoicePipe/internal/tts"
	"github.com/ironcoreai/VoicePipe/internal/util"
)

// voiceHandler answers the first webhook of a call with the script's greeting
// and a fresh state token. Twilio fetches this for both inbound calls (as the
// number's voice URL) and outbound calls placed via /calls.
func (s *Server) voiceHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("voiceHandler: failed to parse form", "error", err)
	}

	callID := r.FormValue("CallSid")
	if callID == "" {
		callID = util.GenerateCallID()
	}
	caller := r.FormValue("From")

	script := s.engine.Script()
	ctx := script.NewContext(callID, caller)
	ctx.AppendTranscript(models.SpeakerAgent, script.Greeting, s.engine.TranscriptLimit())
	token := s.codec.Encode(ctx)

	slog.Info("voiceHandler: greeting new call", "callID", callID, "caller", caller, "tokenLength", len(token))
	writeTwiML(w, s.builder.Continue(script.Greeting, token))
}

// turnHandler drives one conversational turn: decode the prior state token
// from the URL, run the turn engine on the transcribed speech, and respond
// with a continue or end document carrying the new token. Always HTTP 200.
func (s *Server) turnHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("turnHandler: failed to parse form", "error", err)
	}

	utterance := r.FormValue("SpeechResult")
	callID := r.FormValue("CallSid")
	caller := r.FormValue("From")

	// The prior-state token rides on the action URL, not the form body, so
	// it is uniformly absent on a first turn and present afterwards.
	token := r.URL.Query().Get("state")
	prior := s.codec.Decode(token)
	if prior == nil {
		if callID == "" {
			callID = util.GenerateCallID()
		}
		slog.Info("turnHandler: no usable prior state, starting fresh context",
			"callID", callID, "tokenPresent", token != "")
		prior = s.engine.Script().NewContext(callID, caller)
	}

	result := s.engine.Turn(r.Context(), prior, utterance)

	slog.Info("turnHandler: turn complete", "callID", prior.CallID, "stage", result.Context.Stage,
		"end", result.EndCall, "degraded", result.Degraded)

	if result.EndCall {
		writeTwiML(w, s.builder.End(result.Utterance))
		return
	}
	writeTwiML(w, s.builder.Continue(result.Utterance, s.codec.Encode(result.Context)))
}

// ttsHandler streams synthesized speech for the text query parameter. The
// TwiML <Play> verbs point here. With no text it speaks the script greeting.
func (s *Server) ttsHandler(w http.ResponseWriter, r *http.Request) {
	if s.speech == nil {
		slog.Warn("ttsHandler: speech synthesis not configured")
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Speech synthesis not configured"))
		return
	}

	text := r.URL.Query().Get("text")
	if text == "" {
		text = s.engine.Script().Greeting
	}

	audio, err := s.speech.Synthesize(r.Context(), text)
	if err != nil {
		slog.Error("ttsHandler: synthesis failed", "error", err, "textLength", len(text))
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Speech synthesis failed"))
		return
	}
	defer audio.Close()

	w.Header().Set("Content-Type", tts.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, audio); err != nil {
		slog.Error("ttsHandler: failed to stream audio", "error", err)
	}
}

// dialHandler hands the call off to the configured SIP agent. Without a
// target it still answers 200 with a spoken apology, honoring the webhook
// transport contract.
func (s *Server) dialHandler(w http.ResponseWriter, r *http.Request) {
	if s.sipTarget == "" {
		slog.Warn("dialHandler: no SIP target configured")
		writeTwiML(w, s.builder.Apology("Sorry, no agent is available to take this call right now. Goodbye."))
		return
	}
	slog.Info("dialHandler: handing off call", "sipTarget", s.sipTarget)
	writeTwiML(w, s.builder.SipHandoff(s.sipTarget))
}

// callsHandler originates an outbound call answered by /voice.
func (s *Server) callsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	if s.callPlacer == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Outbound calling not configured"))
		return
	}

	var req struct {
		To string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("callsHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.To == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyCallTarget.Error()))
		return
	}

	sid, err := s.callPlacer.PlaceCall(r.Context(), req.To, s.baseURL+"/voice")
	if err != nil {
		slog.Error("callsHandler: failed to place call", "error", err, "to", req.To)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to place call"))
		return
	}

	slog.Info("callsHandler: call placed", "to", req.To, "sid", sid)
	writeJSONResponse(w, http.StatusCreated, models.Success(map[string]string{"call_sid": sid}))
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{
		"service": "VoicePipe",
		"script":  s.engine.Script().Name,
	}))
}
