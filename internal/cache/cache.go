// Package cache is the on-device mirror of the leaderboard and the home of
// the session record.
//
// Both live in one badger database under fixed keys. Values are JSON. Any
// value that fails to decode is treated as absent so a damaged cache never
// blocks the player.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ernie/spinboard/internal/domain"
)

// Capacity is the most entries the local leaderboard keeps
const Capacity = 100

var (
	leaderboardKey = []byte("spinboard/leaderboard")
	sessionKey     = []byte("spinboard/session")
)

// SessionRecord is the persisted session identity
type SessionRecord struct {
	ID      string    `json:"id"`
	Handle  string    `json:"handle,omitempty"`
	BoundAt time.Time `json:"bound_at,omitzero"`
}

// Cache is a bounded local leaderboard plus the session record.
//
// An on-disk cache holds the badger directory lock only for the length of
// each operation, so several processes can share one cache path. An
// in-memory cache keeps its database open until Close.
type Cache struct {
	cfg    Config
	logger *slog.Logger

	// mu serializes database access within this process
	mu sync.Mutex
	db *badger.DB
}

// Open prepares the cache. For an on-disk cache the database itself is opened
// lazily by each operation.
func Open(cfg Config) (*Cache, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	c := &Cache{cfg: cfg, logger: logger}

	if cfg.InMemory {
		db, err := openBadger(cfg)
		if err != nil {
			return nil, err
		}
		c.db = db
		return c, nil
	}
	if err := prepareDir(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Close closes the database if it is held open
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// LoadAll returns the stored entries in stored order. Missing or corrupt
// data, or a cache that cannot be opened, reads as an empty list.
func (c *Cache) LoadAll() []domain.ScoreEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entries []domain.ScoreEntry
	err := c.withDB(func(db *badger.DB) error {
		entries = c.loadEntries(db)
		return nil
	})
	if err != nil {
		c.logger.Warn("local cache unavailable, treating leaderboard as empty", "error", err)
		return []domain.ScoreEntry{}
	}
	return entries
}

// SaveAll overwrites the stored entries
func (c *Cache) SaveAll(entries []domain.ScoreEntry) error {
	if entries == nil {
		entries = []domain.ScoreEntry{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.withDB(func(db *badger.DB) error {
		return put(db, leaderboardKey, entries)
	})
}

// Replace records score for handle, keeping at most one entry per handle and
// at most Capacity entries. The lowest ranked entries are evicted first.
func (c *Cache) Replace(handle string, score int64, recordedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.withDB(func(db *badger.DB) error {
		current := c.loadEntries(db)
		entries := make([]domain.ScoreEntry, 0, len(current)+1)
		for _, e := range current {
			if e.Handle != handle {
				entries = append(entries, e)
			}
		}
		entries = append(entries, domain.ScoreEntry{Handle: handle, Score: score, RecordedAt: recordedAt.UTC()})

		domain.SortEntries(entries)
		if len(entries) > Capacity {
			entries = entries[:Capacity]
		}
		return put(db, leaderboardKey, entries)
	})
}

// Contains reports whether handle has a local entry
func (c *Cache) Contains(handle string) bool {
	for _, e := range c.LoadAll() {
		if e.Handle == handle {
			return true
		}
	}
	return false
}

// LoadSession returns the stored session record. A missing or corrupt record
// reports false.
func (c *Cache) LoadSession() (SessionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var rec SessionRecord
	var found bool
	err := c.withDB(func(db *badger.DB) error {
		var err error
		found, err = get(db, sessionKey, &rec)
		return err
	})
	if err != nil {
		c.logger.Warn("session record unreadable, treating as unset", "error", err)
		return SessionRecord{}, false
	}
	if !found || rec.ID == "" {
		return SessionRecord{}, false
	}
	return rec, true
}

// SaveSession stores rec
func (c *Cache) SaveSession(rec SessionRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.withDB(func(db *badger.DB) error {
		return put(db, sessionKey, rec)
	})
}

// ClearSession removes the session record
func (c *Cache) ClearSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.withDB(func(db *badger.DB) error {
		err := db.Update(func(txn *badger.Txn) error {
			return txn.Delete(sessionKey)
		})
		if err != nil {
			return fmt.Errorf("%w: clear session: %w", domain.ErrLocalPersistence, err)
		}
		return nil
	})
}

// withDB runs fn against the database, opening and closing it around the call
// when it is not held open. Callers hold c.mu.
func (c *Cache) withDB(fn func(db *badger.DB) error) error {
	if c.db != nil {
		return fn(c.db)
	}
	db, err := acquire(c.cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrLocalPersistence, err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			c.logger.Warn("closing local cache", "error", err)
		}
	}()
	return fn(db)
}

func (c *Cache) loadEntries(db *badger.DB) []domain.ScoreEntry {
	var entries []domain.ScoreEntry
	found, err := get(db, leaderboardKey, &entries)
	if err != nil {
		c.logger.Warn("local leaderboard unreadable, treating as empty", "error", err)
		return []domain.ScoreEntry{}
	}
	if !found || entries == nil {
		return []domain.ScoreEntry{}
	}
	return entries
}

func get(db *badger.DB, key []byte, v any) (bool, error) {
	var data []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func put(db *badger.DB, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", domain.ErrLocalPersistence, key, err)
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", domain.ErrLocalPersistence, key, err)
	}
	return nil
}
