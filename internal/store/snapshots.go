package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/usersync/internal/codec"
	"github.com/roach88/usersync/internal/usercontext"
)

// SnapshotVersion is bumped when the snapshot body changes shape.
const SnapshotVersion = 1

// CurrentSlot is the slot holding the last applied context.
const CurrentSlot = "current"

// Snapshot is the CBOR body of a snapshots row.
type Snapshot struct {
	Version int                     `cbor:"version"`
	SavedAt time.Time               `cbor:"saved_at"`
	Context usercontext.UserContext `cbor:"context"`
}

// SaveSnapshot stores c in the current slot.
func (s *Store) SaveSnapshot(ctx context.Context, c usercontext.UserContext, savedAt time.Time) error {
	return s.SaveSnapshotSlot(ctx, CurrentSlot, c, savedAt)
}

// LoadSnapshot returns the context in the current slot.
func (s *Store) LoadSnapshot(ctx context.Context) (usercontext.UserContext, time.Time, bool, error) {
	snap, found, err := s.LoadSnapshotSlot(ctx, CurrentSlot)
	return snap.Context, snap.SavedAt, found, err
}

// SaveSnapshotSlot stores c under slot, replacing what was there.
func (s *Store) SaveSnapshotSlot(ctx context.Context, slot string, c usercontext.UserContext, savedAt time.Time) error {
	body, err := codec.Marshal(Snapshot{Version: SnapshotVersion, SavedAt: savedAt, Context: c})
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (slot, version, fingerprint, saved_at, body)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(slot) DO UPDATE SET
			version = excluded.version,
			fingerprint = excluded.fingerprint,
			saved_at = excluded.saved_at,
			body = excluded.body
	`, slot, SnapshotVersion, c.Fingerprint(), savedAt.UnixMilli(), body)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshotSlot returns the snapshot under slot. Rows written by a newer
// snapshot version are reported as an error, not decoded.
func (s *Store) LoadSnapshotSlot(ctx context.Context, slot string) (Snapshot, bool, error) {
	var (
		version int
		body    []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, body FROM snapshots WHERE slot = ?`, slot,
	).Scan(&version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	if version > SnapshotVersion {
		return Snapshot{}, false, fmt.Errorf("load snapshot: version %d is newer than %d", version, SnapshotVersion)
	}

	var snap Snapshot
	if err := codec.Unmarshal(body, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, true, nil
}

// SnapshotBody returns the raw CBOR body under slot, for inspection.
func (s *Store) SnapshotBody(ctx context.Context, slot string) ([]byte, bool, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM snapshots WHERE slot = ?`, slot).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapshot body: %w", err)
	}
	return body, true, nil
}

// DeleteSnapshot removes the snapshot under slot.
func (s *Store) DeleteSnapshot(ctx context.Context, slot string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE slot = ?`, slot); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}
