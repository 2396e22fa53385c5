package twiliocalls

import (
	"context"
	"testing"
)

func TestMockClientPlaceCall(t *testing.T) {
	mock := NewMockClient()

	sid, err := mock.PlaceCall(context.Background(), "+15550100", "https://voice.example.com/voice")
	if err != nil {
		t.Fatalf("PlaceCall failed: %v", err)
	}
	if sid == "" {
		t.Errorf("expected a call SID")
	}
	if len(mock.PlacedCalls) != 1 {
		t.Fatalf("expected 1 placed call, got %d", len(mock.PlacedCalls))
	}
	if mock.PlacedCalls[0].To != "+15550100" {
		t.Errorf("unexpected destination %q", mock.PlacedCalls[0].To)
	}
	if mock.PlacedCalls[0].VoiceURL != "https://voice.example.com/voice" {
		t.Errorf("unexpected voice URL %q", mock.PlacedCalls[0].VoiceURL)
	}
}

func TestValidateAndCanonicalizeNumber(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"+1 (555) 010-0123", "+15550100123", false},
		{"555.010.0123", "5550100123", false},
		{"", "", true},
		{"+1", "", true},
		{"abc", "", true},
	}
	for _, tc := range cases {
		got, err := ValidateAndCanonicalizeNumber(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("%q: expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestNewClientRequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Errorf("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); err == nil {
		t.Errorf("expected error without from number")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromNumber("+15550100")); err != nil {
		t.Errorf("expected client creation to succeed, got %v", err)
	}
}
