// Package models defines script policy data for VoicePipe conversations.
package models

import (
	"encoding/json"
	"fmt"
	"os"
)

// Script is the injectable policy data that shapes a conversation: the ordered
// stage set, the slot names the agent collects, and the canned lines used when
// the oracle cannot be consulted. The turn engine is script-agnostic; swapping
// scripts swaps the receptionist's personality and checklist without touching
// the protocol.
type Script struct {
	Name            string   `json:"name"`
	Stages          []string `json:"stages"`
	InitialStage    string   `json:"initial_stage"`
	TerminalStage   string   `json:"terminal_stage"`
	Slots           []string `json:"slots"`
	SystemPrompt    string   `json:"system_prompt"`
	Greeting        string   `json:"greeting"`
	FallbackLine    string   `json:"fallback_line"`
	GoodbyeLine     string   `json:"goodbye_line"`
	AllowRegression bool     `json:"allow_regression"`
}

// Validate checks that the script declares a usable stage machine.
func (s *Script) Validate() error {
	if len(s.Stages) == 0 {
		return ErrNoStages
	}
	if !s.HasStage(s.InitialStage) {
		return ErrMissingInitial
	}
	if !s.HasStage(s.TerminalStage) {
		return ErrMissingTerminal
	}
	return nil
}

// HasStage reports whether stage is one of the script's declared stages.
func (s *Script) HasStage(stage string) bool {
	return s.StageIndex(stage) >= 0
}

// StageIndex returns the position of stage in the declared order, or -1.
func (s *Script) StageIndex(stage string) int {
	for i, st := range s.Stages {
		if st == stage {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether stage ends the conversation.
func (s *Script) IsTerminal(stage string) bool {
	return stage != "" && stage == s.TerminalStage
}

// NewContext creates a fresh conversation context at the script's initial
// stage. CallID and caller are opaque correlation identifiers from the
// inbound request; they are logged but never parsed.
func (s *Script) NewContext(callID, caller string) *CallContext {
	return &CallContext{
		Stage:  s.InitialStage,
		Fields: make(map[string]string),
		CallID: callID,
		Caller: caller,
	}
}

// LoadScript reads a script definition from a JSON file and validates it.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}
	var script Script
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("failed to parse script file %s: %w", path, err)
	}
	if err := script.Validate(); err != nil {
		return nil, fmt.Errorf("invalid script %s: %w", path, err)
	}
	return &script, nil
}

// DefaultScript returns the built-in HVAC receptionist script.
func DefaultScript() *Script {
	return &Script{
		Name:          "hvac-reception",
		Stages:        []string{"intro", "collecting", "confirm", "done"},
		InitialStage:  "intro",
		TerminalStage: "done",
		Slots:         []string{"caller_name", "callback_number", "issue", "appointment_time"},
		SystemPrompt: "You are Michael with Iron-Core AI Systems, a fast, confident phone " +
			"receptionist for an HVAC service company. Speak in one or two short sentences, " +
			"conversational phone style, no emojis. Collect the caller's name, a callback " +
			"number, a description of their furnace or AC issue, and a preferred appointment " +
			"time. Move to the confirm stage once every slot is filled, read the details back, " +
			"and move to done after the caller confirms.",
		Greeting: "Hey, my name is Michael with Iron-Core AI Systems. Are you calling about " +
			"a heating or cooling issue, or something else I can help with?",
		FallbackLine: "Sorry, I'm having a little trouble on my end. Could you say that once more?",
		GoodbyeLine:  "Thanks for calling Iron-Core. Goodbye!",
	}
}
