// Package leaderboard builds the ranked view shown to players.
package leaderboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/ernie/spinboard/internal/domain"
	"github.com/ernie/spinboard/internal/metrics"
	"github.com/ernie/spinboard/internal/remote"
)

// DefaultLimit is how many rows a board shows when no limit is given
const DefaultLimit = 10

// NoticeLocalScores is attached to boards served from the local cache
const NoticeLocalScores = "Could not reach remote — showing local scores."

// LocalSource is the local leaderboard mirror
type LocalSource interface {
	LoadAll() []domain.ScoreEntry
}

// Identity reports the bound handle so its row can be marked
type Identity interface {
	Handle() (string, bool)
}

// Aggregator reads the remote table, collapses duplicate handles and ranks
// the result. It falls back to the local cache when the remote fails.
type Aggregator struct {
	remote   remote.Store
	local    LocalSource
	identity Identity
	limit    int
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewAggregator creates an Aggregator. defaultLimit <= 0 means DefaultLimit.
// identity may be nil.
func NewAggregator(store remote.Store, local LocalSource, identity Identity, defaultLimit int, logger *slog.Logger, m *metrics.Metrics) *Aggregator {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		remote:   store,
		local:    local,
		identity: identity,
		limit:    defaultLimit,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
		metrics:  m,
	}
}

// Top returns at most limit ranked rows with one row per handle
func (a *Aggregator) Top(ctx context.Context, limit int) domain.Board {
	if limit <= 0 {
		limit = a.limit
	}
	board := domain.Board{FetchedAt: a.now()}

	var entries []domain.ScoreEntry
	rows, err := a.remote.FetchTop(ctx, limit)
	if err == nil {
		entries = Dedupe(rows)
		board.Source = domain.SourceRemote
	} else {
		a.logger.Warn("remote leaderboard unavailable, showing local scores", "error", err)
		a.metrics.Fallback("leaderboard")
		entries = a.local.LoadAll()
		domain.SortEntries(entries)
		board.Source = domain.SourceLocal
		board.Notice = NoticeLocalScores
	}
	a.metrics.LeaderboardRead(string(board.Source))

	if len(entries) > limit {
		entries = entries[:limit]
	}
	board.Entries = domain.Rank(entries, a.me())
	return board
}

func (a *Aggregator) me() string {
	if a.identity == nil {
		return ""
	}
	h, _ := a.identity.Handle()
	return h
}

// Dedupe keeps the best row per handle (highest score, then earliest
// recorded) and returns the survivors in rank order
func Dedupe(rows []remote.Row) []domain.ScoreEntry {
	best := make(map[string]int, len(rows))
	entries := make([]domain.ScoreEntry, 0, len(rows))
	for _, r := range rows {
		e := r.Entry()
		i, seen := best[e.Handle]
		if !seen {
			best[e.Handle] = len(entries)
			entries = append(entries, e)
			continue
		}
		cur := entries[i]
		if e.Score > cur.Score || (e.Score == cur.Score && e.RecordedAt.Before(cur.RecordedAt)) {
			entries[i] = e
		}
	}
	domain.SortEntries(entries)
	return entries
}
