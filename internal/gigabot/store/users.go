package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Profile is the denormalized Telegram profile snapshot written the first
// time a user row is created. Later changes to the Telegram profile are not
// tracked.
type Profile struct {
	TelegramID int64
	Username   string
	Firstname  string
	Lastname   string
}

// IncrementQueries adds by to the user's AI-query counter, creating the row
// (with the profile snapshot) when the user has not been seen before.
//
// The upsert is a single statement so concurrent increments for the same user
// cannot lose updates.
func (s *Store) IncrementQueries(ctx context.Context, p Profile, by int) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (telegram_id, telegram_username, firstname, lastname, count_of_ai_queries, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET
			count_of_ai_queries = count_of_ai_queries + excluded.count_of_ai_queries,
			updated_at          = excluded.updated_at
	`, p.TelegramID, p.Username, p.Firstname, p.Lastname, by, now, now)
	if err != nil {
		return fmt.Errorf("store: increment queries for %d: %w", p.TelegramID, err)
	}
	return nil
}

// QueryCount returns the user's AI-query counter. Unknown users have a count
// of zero; this is not an error.
func (s *Store) QueryCount(ctx context.Context, telegramID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT count_of_ai_queries FROM users WHERE telegram_id = ?`, telegramID,
	).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: query count for %d: %w", telegramID, err)
	}
	return count, nil
}

// Context returns the raw serialized conversation context for the user, or
// nil when the user has no stored context (unknown user or NULL column).
func (s *Store) Context(ctx context.Context, telegramID int64) ([]byte, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT context FROM users WHERE telegram_id = ?`, telegramID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get context for %d: %w", telegramID, err)
	}
	if !raw.Valid {
		return nil, nil
	}
	return []byte(raw.String), nil
}

// SetContext stores the raw serialized conversation context for the user,
// creating the row when absent so a context write never depends on a prior
// counter increment.
func (s *Store) SetContext(ctx context.Context, telegramID int64, raw []byte) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (telegram_id, context, count_of_ai_queries, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET
			context    = excluded.context,
			updated_at = excluded.updated_at
	`, telegramID, string(raw), now, now)
	if err != nil {
		return fmt.Errorf("store: set context for %d: %w", telegramID, err)
	}
	return nil
}

// ClearContext nulls out the stored conversation context for the user.
// Clearing an unknown user is a no-op.
func (s *Store) ClearContext(ctx context.Context, telegramID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET context = NULL, updated_at = ? WHERE telegram_id = ?`,
		time.Now().UTC(), telegramID,
	)
	if err != nil {
		return fmt.Errorf("store: clear context for %d: %w", telegramID, err)
	}
	return nil
}

// UserCount returns the number of user rows. Used by the status endpoint.
func (s *Store) UserCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: user count: %w", err)
	}
	return count, nil
}
