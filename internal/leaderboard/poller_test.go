package leaderboard

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/spinboard/internal/domain"
)

type countingSource struct{ calls atomic.Int64 }

func (c *countingSource) Top(_ context.Context, limit int) domain.Board {
	n := c.calls.Add(1)
	return domain.Board{
		Source:  domain.SourceRemote,
		Entries: []domain.RankedEntry{{Rank: 1, ScoreEntry: domain.ScoreEntry{Handle: "A", Score: n}}},
	}
}

func TestPollerInitialRefreshAndTrigger(t *testing.T) {
	src := &countingSource{}
	p := NewPoller(src, 10, time.Hour, slog.New(slog.DiscardHandler))

	_, ok := p.Current()
	assert.False(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case b := <-p.Updates():
		assert.Equal(t, int64(1), b.Entries[0].Score)
	case <-time.After(5 * time.Second):
		t.Fatal("no initial refresh")
	}

	p.Trigger()
	select {
	case b := <-p.Updates():
		assert.Equal(t, int64(2), b.Entries[0].Score)
	case <-time.After(5 * time.Second):
		t.Fatal("trigger did not refresh")
	}

	current, ok := p.Current()
	require.True(t, ok)
	assert.Equal(t, int64(2), current.Entries[0].Score)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPollerTicks(t *testing.T) {
	src := &countingSource{}
	p := NewPoller(src, 10, 10*time.Millisecond, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	assert.Eventually(t, func() bool { return src.calls.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
}

func TestTriggerWithoutLoopDoesNotBlock(t *testing.T) {
	p := NewPoller(&countingSource{}, 10, 0, nil)
	for i := 0; i < 5; i++ {
		p.Trigger()
	}
	assert.Equal(t, DefaultRefreshInterval, p.interval)
}
