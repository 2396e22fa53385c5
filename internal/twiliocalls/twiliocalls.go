// Package twiliocalls wraps the Twilio API for outbound call origination in VoicePipe.
package twiliocalls

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// phoneNumberRegex strips everything but digits and a leading plus.
var phoneNumberRegex = regexp.MustCompile(`[^\d+]`)

// CallPlacer originates outbound calls that are answered by a TwiML URL.
type CallPlacer interface {
	PlaceCall(ctx context.Context, to string, voiceURL string) (string, error)
}

// Opts holds configuration options for the Twilio calls client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Option defines a configuration option for the Twilio calls client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the caller ID for outbound calls.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// Client wraps the Twilio REST API for voice calls.
type Client struct {
	client     *twilio.RestClient
	fromNumber string // E.164 caller ID, e.g. "+15550100"
}

// NewClient creates a Twilio calls client. Credentials fall back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER environment
// variables when not provided via options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio calls client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:     client,
		fromNumber: cfg.FromNumber,
	}, nil
}

// ValidateAndCanonicalizeNumber validates and canonicalizes a phone number.
// It strips formatting characters and requires at least 6 digits.
func ValidateAndCanonicalizeNumber(number string) (string, error) {
	if number == "" {
		return "", fmt.Errorf("number cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(number, "")
	digits := len(canonical)
	if len(canonical) > 0 && canonical[0] == '+' {
		digits--
	}
	if digits < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", number)
	}
	if number != canonical {
		slog.Debug("Twilio calls canonicalized number", "original", number, "canonical", canonical)
	}
	return canonical, nil
}

// PlaceCall originates an outbound call; when answered, Twilio fetches
// voiceURL for its TwiML instructions. Returns the carrier call SID.
func (c *Client) PlaceCall(ctx context.Context, to string, voiceURL string) (string, error) {
	canonicalTo, err := ValidateAndCanonicalizeNumber(to)
	if err != nil {
		slog.Error("Twilio PlaceCall validation error", "error", err, "to", to)
		return "", err
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(canonicalTo)
	params.SetFrom(c.fromNumber)
	params.SetUrl(voiceURL)
	params.SetMethod("POST")

	resp, err := c.client.Api.CreateCall(params)
	if err != nil {
		slog.Error("Twilio PlaceCall failed", "to", canonicalTo, "error", err)
		return "", fmt.Errorf("failed to place call to %s: %w", canonicalTo, err)
	}

	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Info("Twilio call placed", "to", canonicalTo, "sid", sid)
	return sid, nil
}

// MockClient records placed calls for testing.
type MockClient struct {
	PlacedCalls []PlacedCall
	Err         error
}

// PlacedCall is one recorded outbound call.
type PlacedCall struct {
	To       string
	VoiceURL string
}

// NewMockClient creates an empty mock.
func NewMockClient() *MockClient {
	return &MockClient{PlacedCalls: []PlacedCall{}}
}

// PlaceCall records the call and returns a synthetic SID.
func (m *MockClient) PlaceCall(ctx context.Context, to string, voiceURL string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.PlacedCalls = append(m.PlacedCalls, PlacedCall{To: to, VoiceURL: voiceURL})
	return fmt.Sprintf("CA-mock-%d", len(m.PlacedCalls)), nil
}
