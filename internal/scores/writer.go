// Package scores records the bound player's latest score.
package scores

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ernie/spinboard/internal/domain"
	"github.com/ernie/spinboard/internal/metrics"
	"github.com/ernie/spinboard/internal/remote"
)

// Status lines shown after a submission
const (
	NoticeSavedRemote = "Score saved to remote."
	NoticeSavedLocal  = "Saved locally (remote unreachable)."
	NoticeFailed      = "Failed to save."
)

// Identity reports the bound handle
type Identity interface {
	Handle() (string, bool)
}

// LocalStore is the local leaderboard mirror
type LocalStore interface {
	Replace(handle string, score int64, recordedAt time.Time) error
}

// Refresher is poked after every successful write
type Refresher interface {
	Trigger()
}

// Receipt describes where a submitted score ended up
type Receipt struct {
	Handle string        `json:"handle"`
	Score  int64         `json:"score"`
	Source domain.Source `json:"source"`
	// Action is what the remote did; empty for local-only writes
	Action remote.Action `json:"action,omitempty"`
	Notice string        `json:"notice"`
}

// Degraded reports whether only the local cache holds the score
func (r Receipt) Degraded() bool {
	return r.Source == domain.SourceLocal
}

// Writer submits scores to the remote store and mirrors them locally. The two
// writes are not transactional.
type Writer struct {
	identity  Identity
	remote    remote.Store
	local     LocalStore
	refresher Refresher
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// NewWriter creates a Writer. refresher may be nil.
func NewWriter(identity Identity, store remote.Store, local LocalStore, refresher Refresher, logger *slog.Logger, m *metrics.Metrics) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		identity:  identity,
		remote:    store,
		local:     local,
		refresher: refresher,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
		metrics:   m,
	}
}

// Submit records score for the bound handle. A remote failure degrades to a
// local-only write; only a failed local write is an error.
func (w *Writer) Submit(ctx context.Context, score int64) (Receipt, error) {
	h, ok := w.identity.Handle()
	if !ok {
		return Receipt{}, domain.ErrNoIdentity
	}
	if score < 0 {
		return Receipt{}, fmt.Errorf("%w: %d is negative", domain.ErrInvalidScore, score)
	}

	recordedAt := w.now()
	receipt := Receipt{Handle: h, Score: score}

	action, err := w.remote.Upsert(ctx, h, score, recordedAt)
	if err == nil {
		receipt.Source = domain.SourceRemote
		receipt.Action = action
		receipt.Notice = NoticeSavedRemote
		// the mirror is best effort once the remote has the score
		if err := w.local.Replace(h, score, recordedAt); err != nil {
			w.logger.Warn("local mirror write failed", "handle", h, "error", err)
		}
	} else {
		w.logger.Warn("remote upsert failed, saving locally", "handle", h, "error", err)
		w.metrics.Fallback("submit")
		if err := w.local.Replace(h, score, recordedAt); err != nil {
			w.metrics.Submission("failed")
			if !errors.Is(err, domain.ErrLocalPersistence) {
				err = fmt.Errorf("%w: %w", domain.ErrLocalPersistence, err)
			}
			return Receipt{}, err
		}
		receipt.Source = domain.SourceLocal
		receipt.Notice = NoticeSavedLocal
	}

	w.metrics.Submission(string(receipt.Source))
	w.logger.Info("score submitted", "handle", h, "score", score, "source", receipt.Source, "action", receipt.Action)

	if w.refresher != nil {
		w.refresher.Trigger()
	}
	return receipt, nil
}
