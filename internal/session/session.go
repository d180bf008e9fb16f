// Package session holds the local player's identity: a random session ID and
// at most one bound handle.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ernie/spinboard/internal/cache"
)

// Store persists the session record
type Store interface {
	LoadSession() (cache.SessionRecord, bool)
	SaveSession(cache.SessionRecord) error
	ClearSession() error
}

// Session is the bound identity of this device. Safe for concurrent use.
type Session struct {
	store Store

	mu      sync.RWMutex
	id      string
	handle  string
	boundAt time.Time
}

// Load restores the persisted session, or starts a fresh unbound one
func Load(store Store) *Session {
	s := &Session{store: store}
	if rec, ok := store.LoadSession(); ok {
		s.id = rec.ID
		s.handle = rec.Handle
		s.boundAt = rec.BoundAt
		return s
	}
	s.id = uuid.NewString()
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Handle returns the bound handle, if any
func (s *Session) Handle() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle, s.handle != ""
}

// BoundAt returns when the current handle was bound
func (s *Session) BoundAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.boundAt
}

// Bind sets and persists the handle. The in-memory state only changes once
// the record is stored.
func (s *Session) Bind(handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := cache.SessionRecord{ID: s.id, Handle: handle, BoundAt: time.Now().UTC()}
	if err := s.store.SaveSession(rec); err != nil {
		return err
	}
	s.handle = rec.Handle
	s.boundAt = rec.BoundAt
	return nil
}

// Clear signs out: the record is removed and a new session ID is issued
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.ClearSession(); err != nil {
		return err
	}
	s.id = uuid.NewString()
	s.handle = ""
	s.boundAt = time.Time{}
	return nil
}
