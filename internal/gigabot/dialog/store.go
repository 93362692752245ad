package dialog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bdobrica/gigabot/internal/gigabot/store"
)

// ContextStore persists per-user conversation windows.
//
// Get never fails for a user with no stored context — it returns a fresh
// default window instead. Get followed by Put is not atomic; the session
// controller serializes per-user work so there is at most one writer per user
// at a time.
type ContextStore interface {
	Get(ctx context.Context, userID int64) (*Window, error)
	Put(ctx context.Context, userID int64, w *Window) error
	Clear(ctx context.Context, userID int64) error
}

// Store is the SQLite-backed ContextStore.
type Store struct {
	db           *store.Store
	systemPrompt string
	maxTurns     int
}

// NewStore creates a ContextStore over the application database.
func NewStore(db *store.Store, systemPrompt string, maxTurns int) *Store {
	return &Store{db: db, systemPrompt: systemPrompt, maxTurns: maxTurns}
}

// Get loads the user's window, lazily creating the default single-system-turn
// window when nothing is stored. A corrupt stored envelope is logged and
// replaced by the default window rather than failing the turn.
func (s *Store) Get(ctx context.Context, userID int64) (*Window, error) {
	raw, err := s.db.Context(ctx, userID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return NewWindow(s.systemPrompt, s.maxTurns), nil
	}

	w, err := Unmarshal(raw, s.maxTurns)
	if err != nil {
		slog.Warn("dialog: stored context is unreadable, starting fresh",
			"user_id", userID, "err", err)
		return NewWindow(s.systemPrompt, s.maxTurns), nil
	}
	return w, nil
}

// Put serializes and stores the user's window.
func (s *Store) Put(ctx context.Context, userID int64, w *Window) error {
	raw, err := w.Marshal()
	if err != nil {
		return err
	}
	if err := s.db.SetContext(ctx, userID, raw); err != nil {
		return fmt.Errorf("dialog: put context: %w", err)
	}
	return nil
}

// Clear removes the user's stored window; the next Get returns the default.
func (s *Store) Clear(ctx context.Context, userID int64) error {
	if err := s.db.ClearContext(ctx, userID); err != nil {
		return fmt.Errorf("dialog: clear context: %w", err)
	}
	return nil
}

var _ ContextStore = (*Store)(nil)
