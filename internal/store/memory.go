package store

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/usersync/internal/usercontext"
)

// Memory keeps preferences and the current snapshot in process memory.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	prefs     map[string]usercontext.Preferences
	snapshot  *Snapshot
	saveErr   error
	loadErr   error
	saves     int
	snapSaves int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{prefs: make(map[string]usercontext.Preferences)}
}

// FailSaves makes SavePreferences and SaveSnapshot return err. Nil clears it.
func (m *Memory) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// FailLoads makes LoadPreferences and LoadSnapshot return err. Nil clears it.
func (m *Memory) FailLoads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadErr = err
}

// Saves returns how many preference saves succeeded.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// SnapshotSaves returns how many snapshot saves succeeded.
func (m *Memory) SnapshotSaves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapSaves
}

// SavePreferences stores prefs for userID.
func (m *Memory) SavePreferences(ctx context.Context, userID string, prefs usercontext.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.prefs[userID] = prefs
	m.saves++
	return nil
}

// LoadPreferences returns the stored prefs of userID.
func (m *Memory) LoadPreferences(ctx context.Context, userID string) (usercontext.Preferences, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return usercontext.Preferences{}, false, m.loadErr
	}
	p, ok := m.prefs[userID]
	return p, ok, nil
}

// SaveSnapshot stores c as the current snapshot.
func (m *Memory) SaveSnapshot(ctx context.Context, c usercontext.UserContext, savedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshot = &Snapshot{Version: SnapshotVersion, SavedAt: savedAt, Context: c.Clone()}
	m.snapSaves++
	return nil
}

// LoadSnapshot returns the current snapshot.
func (m *Memory) LoadSnapshot(ctx context.Context) (usercontext.UserContext, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return usercontext.UserContext{}, time.Time{}, false, m.loadErr
	}
	if m.snapshot == nil {
		return usercontext.UserContext{}, time.Time{}, false, nil
	}
	return m.snapshot.Context.Clone(), m.snapshot.SavedAt, true, nil
}
