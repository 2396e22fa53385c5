// Package api provides HTTP response utilities for VoicePipe.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ironcoreai/VoicePipe/internal/models"
	"github.com/ironcoreai/VoicePipe/internal/twiml"
)

// ApologyLine is spoken when an unexpected internal fault reaches the
// transport boundary.
const ApologyLine = "I'm sorry, something went wrong on our end. Please call back in a moment. Goodbye."

// Pre-rendered fallback responses to avoid runtime encoding failures
var (
	fallbackApologyTwiML  []byte
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be rendered
func init() {
	var err error
	fallbackApologyTwiML, err = twiml.NewBuilder("").Apology(ApologyLine).Render()
	if err != nil {
		panic(fmt.Sprintf("Failed to render fallback apology TwiML at startup: %v", err))
	}
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeTwiML writes a TwiML document with HTTP 200. Rendering failures fall
// back to the pre-rendered apology document; the telephony transport must
// never see an error status or a malformed body.
func writeTwiML(w http.ResponseWriter, doc *twiml.Document) {
	body, err := doc.Render()
	if err != nil {
		slog.Error("Server.writeTwiML: failed to render document, using fallback", "error", err)
		body = fallbackApologyTwiML
	}

	w.Header().Set("Content-Type", twiml.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write(body); writeErr != nil {
		slog.Error("Server.writeTwiML: failed to write response", "error", writeErr)
	}
}

// writeFallbackTwiML writes the pre-rendered apology document with HTTP 200.
func writeFallbackTwiML(w http.ResponseWriter) {
	w.Header().Set("Content-Type", twiml.ContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(fallbackApologyTwiML); err != nil {
		slog.Error("Server.writeFallbackTwiML: failed to write response", "error", err)
	}
}

// writeJSONResponse writes a JSON response for the management endpoints.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first to catch encoding errors before writing headers
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
