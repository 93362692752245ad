// Package dialog implements the per-user conversation context window.
// The window keeps a bounded ordered history of role-tagged turns with the
// system prompt pinned at the head; it is persisted per user in the users
// table as a JSON envelope.
package dialog

import (
	"encoding/json"
	"fmt"
)

// Roles of a conversation turn, matching the provider wire format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultMaxTurns is the context window bound applied when none is configured.
const DefaultMaxTurns = 10

// DefaultSystemPrompt seeds the context of a user with no stored history.
const DefaultSystemPrompt = "You're an AI assistant integrated from SBER's GigaChat API."

// Turn is one immutable role-tagged message in a dialogue history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Window is a bounded ordered sequence of turns for one user.
//
// Invariants:
//   - the first turn has role "system" and is never evicted
//   - the window never holds more than maxTurns turns; appending beyond the
//     bound evicts the oldest non-system turn first
type Window struct {
	turns    []Turn
	maxTurns int
}

// NewWindow creates a window seeded with a single system turn.
func NewWindow(systemPrompt string, maxTurns int) *Window {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	if maxTurns < 2 {
		maxTurns = DefaultMaxTurns
	}
	return &Window{
		turns:    []Turn{{Role: RoleSystem, Content: systemPrompt}},
		maxTurns: maxTurns,
	}
}

// Append adds a turn, evicting the oldest non-system turn when the window is
// full. The system turn at index 0 is pinned.
func (w *Window) Append(role, content string) {
	// Loop rather than drop once: a stored history may exceed the configured
	// bound when the operator lowers MaxTurns between restarts.
	for len(w.turns) >= w.maxTurns {
		w.turns = append(w.turns[:1], w.turns[2:]...)
	}
	w.turns = append(w.turns, Turn{Role: role, Content: content})
}

// Turns returns a copy of the current history, oldest first.
func (w *Window) Turns() []Turn {
	out := make([]Turn, len(w.turns))
	copy(out, w.turns)
	return out
}

// Len returns the number of turns currently held.
func (w *Window) Len() int {
	return len(w.turns)
}

// envelope is the storage serialization of a window, matching the
// {"data":[...]} column format.
type envelope struct {
	Data []Turn `json:"data"`
}

// Marshal serializes the window into its storage envelope.
func (w *Window) Marshal() ([]byte, error) {
	raw, err := json.Marshal(envelope{Data: w.turns})
	if err != nil {
		return nil, fmt.Errorf("dialog: marshal window: %w", err)
	}
	return raw, nil
}

// Unmarshal decodes a storage envelope into a window with the given bound.
// A decoded history longer than maxTurns is trimmed to the bound on the next
// Append rather than eagerly, preserving what was stored.
func Unmarshal(raw []byte, maxTurns int) (*Window, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("dialog: unmarshal window: %w", err)
	}
	if maxTurns < 2 {
		maxTurns = DefaultMaxTurns
	}
	if len(env.Data) == 0 {
		return NewWindow("", maxTurns), nil
	}
	return &Window{turns: env.Data, maxTurns: maxTurns}, nil
}
