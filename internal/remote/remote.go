// Package remote talks to the authoritative leaderboard table.
//
// The table holds rows of {id, handle, score, recorded_at} and is not
// required to have a unique index on handle, so every read may return
// several physical rows for one player. Two interchangeable implementations
// exist: REST speaks the PostgREST protocol directly, SQL goes through
// database/sql drivers. Failures are returned as errors wrapping
// domain.ErrRemoteUnavailable; adapters never panic past their methods.
package remote

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ernie/spinboard/internal/domain"
)

// findLimit caps how many physical rows a handle lookup returns
const findLimit = 100

// DefaultOversample is how many physical rows FetchTop requests per logical row
const DefaultOversample = 3

// Action reports what an upsert did to the table
type Action string

const (
	ActionInserted Action = "inserted"
	ActionUpdated  Action = "updated"
	// ActionUpserted is reported by the atomic path when the store does not
	// say whether the row was new
	ActionUpserted Action = "upserted"
)

// Row is one physical row of the remote table
type Row struct {
	ID         int64     `json:"id"`
	Handle     string    `json:"handle"`
	Score      int64     `json:"score"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Entry converts the row into a ScoreEntry
func (r Row) Entry() domain.ScoreEntry {
	h := r.Handle
	if h == "" {
		h = domain.UnknownHandle
	}
	return domain.ScoreEntry{Handle: h, Score: r.Score, RecordedAt: r.RecordedAt}
}

// Store is the remote leaderboard table
type Store interface {
	// FindByHandle returns every physical row for handle (at most 100)
	FindByHandle(ctx context.Context, handle string) ([]Row, error)
	// FetchTop returns rows ordered by score desc, recorded_at asc. It asks
	// for limit times the oversample factor so duplicates can be collapsed.
	FetchTop(ctx context.Context, limit int) ([]Row, error)
	// Upsert writes score for handle, inserting or updating as needed
	Upsert(ctx context.Context, handle string, score int64, recordedAt time.Time) (Action, error)
}

// unavailable wraps err so callers can match domain.ErrRemoteUnavailable
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrRemoteUnavailable, op, err)
}

// recoverInto converts a panic inside an adapter method into an error
func recoverInto(op string, err *error) {
	if r := recover(); r != nil {
		*err = unavailable(op, fmt.Errorf("panic: %v", r))
	}
}

var identifierRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateTable rejects table names that cannot be used as a bare identifier
func validateTable(table string) error {
	if !identifierRegex.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	return nil
}

func oversampled(limit, factor int) int {
	if factor < DefaultOversample {
		factor = DefaultOversample
	}
	if limit < 1 {
		limit = 1
	}
	return limit * factor
}
