// Package session owns the per-user conversation state machine and the
// orchestration of dialogue turns: it consumes inbound Telegram updates,
// reads and writes the persisted conversation window, dispatches provider
// requests, and emits outbound messages.
package session

// State is a user's position in the conversation state machine. State is
// in-memory only; after a restart every user starts over at Idle and re-arms
// a mode through the menu.
type State int

const (
	// Idle means no mode is armed; free text gets the main menu.
	Idle State = iota

	// AwaitingTextQuery means the next plain-text message is a dialogue
	// query. The state re-arms itself after every answered turn until the
	// stop token is received.
	AwaitingTextQuery

	// AwaitingImageQuery means the next plain-text message is a one-shot
	// image description; the state drops back to Idle after the attempt.
	AwaitingImageQuery
)

func (s State) String() string {
	switch s {
	case AwaitingTextQuery:
		return "awaiting_text_query"
	case AwaitingImageQuery:
		return "awaiting_image_query"
	default:
		return "idle"
	}
}
