// Package twiml renders the TwiML documents VoicePipe returns to the
// telephony carrier. Only two terminal shapes are produced: "speak and
// listen again, posting back with the new state token" and "speak and hang
// up". Both are always well-formed, even for an empty utterance.
package twiml

import (
	"encoding/xml"
	"fmt"
	"net/url"
)

// ContentType is the media type for TwiML responses.
const ContentType = "text/xml"

// Canned lines used when no utterance is available.
const (
	// DefaultLine replaces an empty agent utterance; a response document must
	// never be silent.
	DefaultLine = "Sorry, I didn't have a response ready. Could you say that once more?"
	// NoInputLine is spoken when the capture window elapses with no speech.
	// It precedes a hangup so the call never waits forever.
	NoInputLine = "I didn't catch that. Goodbye."
)

// DefaultGatherTimeout is the capture wait in seconds before the no-input
// fallback runs.
const DefaultGatherTimeout = 3

// Document is a TwiML <Response>.
type Document struct {
	XMLName xml.Name `xml:"Response"`
	Gather  *Gather  `xml:"Gather,omitempty"`
	Play    *Play    `xml:"Play,omitempty"`
	Say     *Say     `xml:"Say,omitempty"`
	Dial    *Dial    `xml:"Dial,omitempty"`
	Hangup  *Hangup  `xml:"Hangup,omitempty"`
}

// Gather captures caller speech and posts it back to the action URL.
type Gather struct {
	Input         string `xml:"input,attr"`
	Action        string `xml:"action,attr"`
	Method        string `xml:"method,attr"`
	Timeout       int    `xml:"timeout,attr"`
	SpeechTimeout string `xml:"speechTimeout,attr"`
	Play          *Play  `xml:"Play,omitempty"`
	Say           *Say   `xml:"Say,omitempty"`
}

// Play fetches and plays an audio URL.
type Play struct {
	URL string `xml:",chardata"`
}

// Say speaks text with the carrier's built-in voice.
type Say struct {
	Text string `xml:",chardata"`
}

// Dial connects the call to another endpoint.
type Dial struct {
	Sip string `xml:"Sip,omitempty"`
}

// Hangup ends the call.
type Hangup struct{}

// Render serializes the document with an XML declaration.
func (d *Document) Render() ([]byte, error) {
	body, err := xml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to render TwiML: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Builder constructs VoicePipe's response documents. When speech synthesis is
// enabled, utterances are rendered as <Play> nodes pointing at the /tts
// endpoint; otherwise the carrier's <Say> voice is the degraded path.
type Builder struct {
	baseURL       string
	gatherTimeout int
	synthesize    bool
}

// Option defines a configuration option for the builder.
type Option func(*Builder)

// WithGatherTimeout sets the speech capture wait in seconds.
func WithGatherTimeout(seconds int) Option {
	return func(b *Builder) {
		if seconds > 0 {
			b.gatherTimeout = seconds
		}
	}
}

// WithSynthesis toggles <Play>-via-/tts rendering of utterances.
func WithSynthesis(enabled bool) Option {
	return func(b *Builder) { b.synthesize = enabled }
}

// NewBuilder creates a response builder. baseURL is the public base URL of
// this service (scheme and host, no trailing slash).
func NewBuilder(baseURL string, opts ...Option) *Builder {
	b := &Builder{
		baseURL:       baseURL,
		gatherTimeout: DefaultGatherTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Continue renders "speak the utterance, then listen again". The freshly
// encoded state token rides on the Gather action URL so the next webhook
// carries the conversation forward. If the capture window elapses, the
// no-input line plays and the call ends rather than hanging open.
func (b *Builder) Continue(utterance, token string) *Document {
	doc := &Document{
		Gather: &Gather{
			Input:         "speech",
			Action:        b.turnURL(token),
			Method:        "POST",
			Timeout:       b.gatherTimeout,
			SpeechTimeout: "auto",
		},
		Say:    &Say{Text: NoInputLine},
		Hangup: &Hangup{},
	}
	b.speakInto(doc.Gather, utterance)
	return doc
}

// End renders "speak the utterance, then hang up". No callback is armed.
func (b *Builder) End(utterance string) *Document {
	doc := &Document{Hangup: &Hangup{}}
	utterance = nonEmpty(utterance)
	if b.synthesize {
		doc.Play = &Play{URL: b.ttsURL(utterance)}
	} else {
		doc.Say = &Say{Text: utterance}
	}
	return doc
}

// Apology renders a spoken apology followed by a hangup. It is the top-level
// backstop document for unexpected internal faults and deliberately avoids
// the /tts indirection: a <Say> cannot fail a second time.
func (b *Builder) Apology(line string) *Document {
	return &Document{
		Say:    &Say{Text: nonEmpty(line)},
		Hangup: &Hangup{},
	}
}

// SipHandoff renders a <Dial><Sip> transfer to an external voice agent.
func (b *Builder) SipHandoff(target string) *Document {
	return &Document{Dial: &Dial{Sip: target}}
}

func (b *Builder) speakInto(g *Gather, utterance string) {
	utterance = nonEmpty(utterance)
	if b.synthesize {
		g.Play = &Play{URL: b.ttsURL(utterance)}
	} else {
		g.Say = &Say{Text: utterance}
	}
}

func (b *Builder) turnURL(token string) string {
	if token == "" {
		return b.baseURL + "/turn"
	}
	return b.baseURL + "/turn?state=" + url.QueryEscape(token)
}

func (b *Builder) ttsURL(text string) string {
	return b.baseURL + "/tts?text=" + url.QueryEscape(text)
}

func nonEmpty(utterance string) string {
	if utterance == "" {
		return DefaultLine
	}
	return utterance
}
