// Package convo implements the stateless conversation protocol for VoicePipe:
// the state token codec and the turn engine that advance a call one webhook
// invocation at a time.
package convo

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"

	"github.com/ironcoreai/VoicePipe/internal/models"
)

// MaxTokenLength bounds the encoded state token. Tokens ride inside the
// Gather action URL, and Twilio caps TwiML attribute values at 4096
// characters; 3072 leaves headroom for the callback path and other params.
const MaxTokenLength = 3072

// Codec serializes conversation contexts to and from URL-safe state tokens.
// Encode never fails and Decode never errors: a token that cannot be decoded
// means "start a new conversation", which is a normal condition on the first
// turn of every call.
type Codec struct {
	script *models.Script
}

// NewCodec creates a codec that validates decoded contexts against script.
func NewCodec(script *models.Script) *Codec {
	return &Codec{script: script}
}

// Encode serializes a context to a compact URL-safe token. If the full
// transcript pushes the token past MaxTokenLength, the oldest transcript
// entries are dropped until it fits. Returns an empty token (treated by
// callers as "no state") only if even a transcript-free context cannot be
// encoded.
func (c *Codec) Encode(ctx *models.CallContext) string {
	if ctx == nil {
		return ""
	}

	token, err := encodeContext(ctx)
	if err == nil && len(token) <= MaxTokenLength {
		return token
	}
	if err != nil {
		slog.Error("Codec.Encode: failed to marshal context", "error", err, "callID", ctx.CallID)
		return ""
	}

	// Token too large: shed transcript history, oldest first.
	clamped := ctx.Clone()
	for len(clamped.Transcript) > 0 {
		clamped.Transcript = clamped.Transcript[1:]
		token, err = encodeContext(clamped)
		if err == nil && len(token) <= MaxTokenLength {
			slog.Debug("Codec.Encode: clamped transcript to fit token budget",
				"callID", ctx.CallID, "dropped", len(ctx.Transcript)-len(clamped.Transcript), "tokenLength", len(token))
			return token
		}
	}

	slog.Error("Codec.Encode: context does not fit token budget even without transcript",
		"callID", ctx.CallID, "stage", ctx.Stage)
	return ""
}

// Decode is the inverse of Encode. It returns nil for a missing, malformed,
// or structurally invalid token; the caller creates a fresh context in that
// case. Decode never returns an error.
func (c *Codec) Decode(token string) *models.CallContext {
	if token == "" {
		return nil
	}

	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		slog.Debug("Codec.Decode: token is not valid base64url, starting fresh", "error", err)
		return nil
	}

	var ctx models.CallContext
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ctx); err != nil {
		slog.Debug("Codec.Decode: token payload is not a context, starting fresh", "error", err)
		return nil
	}

	if err := ctx.Validate(c.script); err != nil {
		slog.Debug("Codec.Decode: decoded context failed validation, starting fresh",
			"error", err, "stage", ctx.Stage)
		return nil
	}

	return &ctx
}

func encodeContext(ctx *models.CallContext) (string, error) {
	data, err := json.Marshal(ctx)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}
