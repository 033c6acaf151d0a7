package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/usersync/internal/canon"
	"github.com/roach88/usersync/internal/usercontext"
)

// StoredPreferences is one row of the preferences table.
type StoredPreferences struct {
	UserID      string                  `json:"user_id"`
	Preferences usercontext.Preferences `json:"preferences"`
	UpdatedAt   time.Time               `json:"updated_at"`
}

// SavePreferences upserts the preferences of userID. The record is stored as
// canonical JSON so identical preferences always produce identical bytes.
func (s *Store) SavePreferences(ctx context.Context, userID string, prefs usercontext.Preferences) error {
	if userID == "" {
		return errors.New("save preferences: empty user id")
	}
	body, err := canon.Marshal(prefs.CanonicalMap())
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO preferences (user_id, prefs, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			prefs = excluded.prefs,
			updated_at = excluded.updated_at
	`, userID, string(body), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// LoadPreferences returns the stored preferences of userID. found is false
// when nothing was ever saved.
func (s *Store) LoadPreferences(ctx context.Context, userID string) (usercontext.Preferences, bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT prefs FROM preferences WHERE user_id = ?`, userID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return usercontext.Preferences{}, false, nil
	}
	if err != nil {
		return usercontext.Preferences{}, false, fmt.Errorf("load preferences: %w", err)
	}

	prefs, err := decodePreferences(body)
	if err != nil {
		return usercontext.Preferences{}, false, fmt.Errorf("load preferences %s: %w", userID, err)
	}
	return prefs, true, nil
}

// ListPreferences returns every stored record ordered by user id.
func (s *Store) ListPreferences(ctx context.Context) ([]StoredPreferences, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, prefs, updated_at FROM preferences
		ORDER BY user_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	var out []StoredPreferences
	for rows.Next() {
		var (
			rec       StoredPreferences
			body      string
			updatedAt int64
		)
		if err := rows.Scan(&rec.UserID, &body, &updatedAt); err != nil {
			return nil, fmt.Errorf("list preferences: %w", err)
		}
		rec.Preferences, err = decodePreferences(body)
		if err != nil {
			return nil, fmt.Errorf("list preferences %s: %w", rec.UserID, err)
		}
		rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeletePreferences removes the record of userID.
func (s *Store) DeletePreferences(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete preferences: %w", err)
	}
	return nil
}

func decodePreferences(body string) (usercontext.Preferences, error) {
	var prefs usercontext.Preferences
	if err := json.Unmarshal([]byte(body), &prefs); err != nil {
		return prefs, err
	}
	if err := prefs.Validate(); err != nil {
		return prefs, err
	}
	return prefs, nil
}
