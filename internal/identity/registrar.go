// Package identity admits a player handle for the local session.
//
// A candidate passes, in order, the format check, the content-policy gate and
// a uniqueness check against the remote table. When the remote cannot be
// asked, uniqueness is checked against the local cache only and the handle is
// admitted with a notice unless it is already known locally.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ernie/spinboard/internal/domain"
	"github.com/ernie/spinboard/internal/handle"
	"github.com/ernie/spinboard/internal/metrics"
	"github.com/ernie/spinboard/internal/remote"
	"github.com/ernie/spinboard/internal/session"
)

// NoticeRegisteredLocally accompanies a handle admitted without the remote
const NoticeRegisteredLocally = "registered locally — remote unreachable"

// Prompter is the text-entry surface
type Prompter interface {
	// Prompt asks for a handle, pre-filled with initial. It returns
	// domain.ErrCancelled when the player backs out.
	Prompt(ctx context.Context, initial string) (string, error)
	// Reject shows why the last candidate was refused
	Reject(ctx context.Context, rejection *domain.Rejection)
}

// Flagger is the content-policy check
type Flagger interface {
	IsFlagged(ctx context.Context, candidate string) bool
}

// LocalIndex answers whether a handle already has a local entry
type LocalIndex interface {
	Contains(handle string) bool
}

// Refresher is poked after a handle is bound so the board picks up the change
type Refresher interface {
	Trigger()
}

// Result is the outcome of a registration
type Result struct {
	Admitted bool   `json:"admitted"`
	Handle   string `json:"handle,omitempty"`
	Notice   string `json:"notice,omitempty"`
}

// Config wires a Registrar
type Config struct {
	Gate    Flagger
	Remote  remote.Store
	Local   LocalIndex
	Session *session.Session

	// Refresher is optional
	Refresher Refresher

	// FlashDelay is how long a rejection stays up before the next prompt
	FlashDelay time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Registrar runs the admission flow
type Registrar struct {
	gate       Flagger
	remote     remote.Store
	local      LocalIndex
	session    *session.Session
	refresher  Refresher
	flashDelay time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// New creates a Registrar
func New(cfg Config) *Registrar {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Registrar{
		gate:       cfg.Gate,
		remote:     cfg.Remote,
		local:      cfg.Local,
		session:    cfg.Session,
		refresher:  cfg.Refresher,
		flashDelay: cfg.FlashDelay,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Register prompts until a handle is admitted or the player cancels.
// Cancelling returns a zero Result and no error; the session is untouched.
func (r *Registrar) Register(ctx context.Context, p Prompter) (Result, error) {
	seed, _ := r.session.Handle()

	for {
		raw, err := p.Prompt(ctx, seed)
		if errors.Is(err, domain.ErrCancelled) {
			r.metrics.Registration("cancelled")
			return Result{}, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("prompting for handle: %w", err)
		}

		res, err := r.Admit(ctx, raw)
		var rejection *domain.Rejection
		if !errors.As(err, &rejection) {
			return res, err
		}

		p.Reject(ctx, rejection)
		if err := r.flash(ctx); err != nil {
			return Result{}, err
		}
	}
}

// Admit runs one candidate through the checks and binds it on success.
// Refusals are returned as *domain.Rejection.
func (r *Registrar) Admit(ctx context.Context, raw string) (Result, error) {
	candidate := handle.Normalize(raw)

	if !handle.IsWellFormed(candidate) {
		r.metrics.Registration("invalid_format")
		return Result{}, domain.Reject(domain.ErrInvalidFormat, domain.ReasonInvalidFormat)
	}

	if r.gate.IsFlagged(ctx, candidate) {
		r.metrics.Registration("policy_rejected")
		return Result{}, domain.Reject(domain.ErrPolicyRejected, domain.ReasonDisallowed)
	}

	bound, _ := r.session.Handle()
	notice := ""

	rows, err := r.remote.FindByHandle(ctx, candidate)
	switch {
	case err != nil:
		r.logger.Warn("remote uniqueness check failed, checking local cache", "handle", candidate, "error", err)
		r.metrics.Fallback("register")
		if candidate != bound && r.local.Contains(candidate) {
			r.metrics.Registration("taken")
			return Result{}, domain.Reject(domain.ErrHandleTaken, domain.ReasonTakenLocally)
		}
		notice = NoticeRegisteredLocally

	case len(rows) > 0 && candidate != bound:
		r.metrics.Registration("taken")
		return Result{}, domain.Reject(domain.ErrHandleTaken, domain.ReasonTakenRemote)
	}

	if err := r.session.Bind(candidate); err != nil {
		return Result{}, fmt.Errorf("binding handle: %w", err)
	}

	if notice != "" {
		r.metrics.Registration("degraded")
	} else {
		r.metrics.Registration("admitted")
	}
	r.logger.Info("handle registered", "handle", candidate, "session", r.session.ID(), "degraded", notice != "")

	if r.refresher != nil {
		r.refresher.Trigger()
	}
	return Result{Admitted: true, Handle: candidate, Notice: notice}, nil
}

func (r *Registrar) flash(ctx context.Context) error {
	if r.flashDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(r.flashDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
