package leaderboard

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ernie/spinboard/internal/domain"
)

// DefaultRefreshInterval is how often the displayed board is refreshed
const DefaultRefreshInterval = 20 * time.Second

// Source produces boards
type Source interface {
	Top(ctx context.Context, limit int) domain.Board
}

// Poller keeps the displayed board fresh: once on start, on every tick, and
// whenever Trigger is called. Overlapping refreshes are allowed; the last to
// finish is what Current returns.
type Poller struct {
	source   Source
	limit    int
	interval time.Duration
	logger   *slog.Logger

	trigger chan struct{}
	updates chan domain.Board

	mu      sync.RWMutex
	current domain.Board
	loaded  bool
}

// NewPoller creates a Poller. interval <= 0 means DefaultRefreshInterval.
func NewPoller(source Source, limit int, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		source:   source,
		limit:    limit,
		interval: interval,
		logger:   logger,
		trigger:  make(chan struct{}, 1),
		updates:  make(chan domain.Board, 16),
	}
}

// Run refreshes until ctx is done
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial render
	p.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Refresh(ctx)
		case <-p.trigger:
			p.Refresh(ctx)
		}
	}
}

// Trigger asks the running loop for an immediate refresh. Requests made while
// one is already pending are merged.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Refresh fetches a board now and makes it current
func (p *Poller) Refresh(ctx context.Context) domain.Board {
	board := p.source.Top(ctx, p.limit)

	p.mu.Lock()
	p.current = board
	p.loaded = true
	p.mu.Unlock()

	p.logger.Debug("leaderboard refreshed", "source", board.Source, "rows", len(board.Entries))

	select {
	case p.updates <- board:
	default:
		// Nobody is reading, drop the update
	}
	return board
}

// Current returns the last refreshed board
func (p *Poller) Current() (domain.Board, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current, p.loaded
}

// Updates delivers each refreshed board. Slow readers miss updates.
func (p *Poller) Updates() <-chan domain.Board {
	return p.updates
}
