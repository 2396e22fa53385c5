package twiml

import (
	"encoding/xml"
	"strings"
	"testing"
)

func TestContinueDocumentShape(t *testing.T) {
	b := NewBuilder("https://voice.example.com", WithSynthesis(true), WithGatherTimeout(5))
	doc := b.Continue("What's your callback number?", "TOKEN123")

	out, err := doc.Render()
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	rendered := string(out)

	if !strings.Contains(rendered, `input="speech"`) {
		t.Errorf("missing speech input: %s", rendered)
	}
	if !strings.Contains(rendered, `action="https://voice.example.com/turn?state=TOKEN123"`) {
		t.Errorf("missing state token on action URL: %s", rendered)
	}
	if !strings.Contains(rendered, `timeout="5"`) {
		t.Errorf("missing gather timeout: %s", rendered)
	}
	if !strings.Contains(rendered, "/tts?text=") {
		t.Errorf("expected Play via /tts: %s", rendered)
	}
	// No-input fallback: a spoken line and a definite end of interaction.
	if !strings.Contains(rendered, NoInputLine) {
		t.Errorf("missing no-input fallback line: %s", rendered)
	}
	if !strings.Contains(rendered, "<Hangup>") {
		t.Errorf("missing hangup backstop: %s", rendered)
	}
}

func TestContinueWithoutSynthesisUsesSay(t *testing.T) {
	b := NewBuilder("https://voice.example.com")
	doc := b.Continue("Hello there", "T")

	if doc.Gather.Play != nil {
		t.Errorf("expected no Play without synthesis")
	}
	if doc.Gather.Say == nil || doc.Gather.Say.Text != "Hello there" {
		t.Errorf("expected Say fallback, got %+v", doc.Gather.Say)
	}
}

func TestContinueEmptyTokenOmitsStateParam(t *testing.T) {
	b := NewBuilder("https://voice.example.com")
	doc := b.Continue("Hi", "")
	if doc.Gather.Action != "https://voice.example.com/turn" {
		t.Errorf("unexpected action %q", doc.Gather.Action)
	}
}

func TestEndDocumentShape(t *testing.T) {
	b := NewBuilder("https://voice.example.com", WithSynthesis(true))
	doc := b.End("Thanks for calling. Goodbye!")

	out, err := doc.Render()
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	rendered := string(out)

	if strings.Contains(rendered, "<Gather") {
		t.Errorf("end document must not re-arm capture: %s", rendered)
	}
	if !strings.Contains(rendered, "<Hangup>") {
		t.Errorf("missing hangup: %s", rendered)
	}
	if !strings.Contains(rendered, "/tts?text=") {
		t.Errorf("expected Play via /tts: %s", rendered)
	}
}

func TestEmptyUtteranceNeverRendersEmptyDocument(t *testing.T) {
	b := NewBuilder("https://voice.example.com")
	for _, doc := range []*Document{b.Continue("", "T"), b.End(""), b.Apology("")} {
		out, err := doc.Render()
		if err != nil {
			t.Fatalf("render failed: %v", err)
		}
		if !strings.Contains(string(out), DefaultLine) && !strings.Contains(string(out), NoInputLine) {
			t.Errorf("expected a default spoken line, got %s", out)
		}
	}
}

func TestUtteranceIsXMLEscaped(t *testing.T) {
	b := NewBuilder("https://voice.example.com")
	doc := b.End(`You said "AC & heater <broken>"`)

	out, err := doc.Render()
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	rendered := string(out)
	if strings.Contains(rendered, "<broken>") {
		t.Errorf("utterance not escaped: %s", rendered)
	}

	var parsed Document
	if err := xml.Unmarshal(out, &parsed); err != nil {
		t.Fatalf("rendered document is not well-formed XML: %v", err)
	}
	if parsed.Say.Text != `You said "AC & heater <broken>"` {
		t.Errorf("round-trip mismatch: %q", parsed.Say.Text)
	}
}

func TestTTSURLEscapesText(t *testing.T) {
	b := NewBuilder("https://voice.example.com", WithSynthesis(true))
	doc := b.Continue("Is it heating & cooling?", "T")
	if strings.Contains(doc.Gather.Play.URL, " ") || strings.Contains(doc.Gather.Play.URL, "&c") {
		t.Errorf("tts URL not escaped: %s", doc.Gather.Play.URL)
	}
}

func TestSipHandoff(t *testing.T) {
	b := NewBuilder("https://voice.example.com")
	doc := b.SipHandoff("sip:agent@example.com")

	out, err := doc.Render()
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(string(out), "<Sip>sip:agent@example.com</Sip>") {
		t.Errorf("missing sip target: %s", out)
	}
}

func TestApologyDocument(t *testing.T) {
	b := NewBuilder("https://voice.example.com", WithSynthesis(true))
	doc := b.Apology("Something went wrong on our end. Please call back shortly.")

	if doc.Play != nil {
		t.Errorf("apology must not depend on the tts endpoint")
	}
	if doc.Say == nil || doc.Hangup == nil {
		t.Errorf("apology must speak and hang up: %+v", doc)
	}
}
