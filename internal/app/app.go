// Package app wires the leaderboard components from configuration and exposes
// the three caller-facing operations: register an identity, submit a score and
// read the leaderboard.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/ernie/spinboard/internal/cache"
	"github.com/ernie/spinboard/internal/config"
	"github.com/ernie/spinboard/internal/domain"
	"github.com/ernie/spinboard/internal/identity"
	"github.com/ernie/spinboard/internal/leaderboard"
	"github.com/ernie/spinboard/internal/metrics"
	"github.com/ernie/spinboard/internal/policy"
	"github.com/ernie/spinboard/internal/remote"
	"github.com/ernie/spinboard/internal/scores"
	"github.com/ernie/spinboard/internal/session"
)

// App is a fully wired leaderboard client
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Cache      *cache.Cache
	Remote     remote.Store
	Session    *session.Session
	Registrar  *identity.Registrar
	Writer     *scores.Writer
	Aggregator *leaderboard.Aggregator
	Poller     *leaderboard.Poller

	closers []io.Closer
}

// New builds every component described by cfg
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a := &App{Config: cfg, Logger: logger, Registry: reg, Metrics: m}

	c, err := cache.Open(cache.Config{
		Path:        cfg.Cache.Path,
		InMemory:    cfg.Cache.InMemory,
		SyncWrites:  cfg.Cache.SyncWrites,
		LockTimeout: cfg.Cache.LockTimeout,
		Logger:      logger.With("component", "badger"),
	})
	if err != nil {
		return nil, fmt.Errorf("opening local cache: %w", err)
	}
	a.Cache = c
	a.closers = append(a.closers, c)

	store, closer, err := remote.Open(cfg.Remote, logger.With("component", "remote"), m)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening remote store: %w", err)
	}
	a.Remote = store
	a.closers = append(a.closers, closer)

	a.Session = session.Load(c)

	a.Aggregator = leaderboard.NewAggregator(store, c, a.Session, cfg.Leaderboard.Limit, logger.With("component", "leaderboard"), m)
	a.Poller = leaderboard.NewPoller(a.Aggregator, cfg.Leaderboard.Limit, cfg.Leaderboard.RefreshInterval, logger.With("component", "poller"))

	gateClient := http.DefaultClient
	if cfg.Policy.Timeout > 0 {
		gateClient = &http.Client{Timeout: cfg.Policy.Timeout}
	}
	var limiter *rate.Limiter
	if cfg.Policy.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Policy.Rate), cfg.Policy.Burst)
	}
	gate := policy.NewGate(cfg.Policy.Endpoint,
		policy.WithHTTPClient(gateClient),
		policy.WithLimiter(limiter),
		policy.WithLogger(logger.With("component", "policy")),
		policy.WithMetrics(m),
	)

	a.Registrar = identity.New(identity.Config{
		Gate:       gate,
		Remote:     store,
		Local:      c,
		Session:    a.Session,
		Refresher:  a.Poller,
		FlashDelay: cfg.Registration.FlashDelay,
		Logger:     logger.With("component", "identity"),
		Metrics:    m,
	})
	a.Writer = scores.NewWriter(a.Session, store, c, a.Poller, logger.With("component", "scores"), m)

	return a, nil
}

// RegisterIdentity runs the interactive admission flow
func (a *App) RegisterIdentity(ctx context.Context, p identity.Prompter) (identity.Result, error) {
	return a.Registrar.Register(ctx, p)
}

// SubmitScore records score for the bound handle
func (a *App) SubmitScore(ctx context.Context, score int64) (scores.Receipt, error) {
	return a.Writer.Submit(ctx, score)
}

// Leaderboard returns the top limit rows; limit <= 0 uses the configured default
func (a *App) Leaderboard(ctx context.Context, limit int) domain.Board {
	return a.Aggregator.Top(ctx, limit)
}

// SignOut forgets the bound handle
func (a *App) SignOut() error {
	if err := a.Session.Clear(); err != nil {
		return err
	}
	a.Poller.Trigger()
	return nil
}

// Close releases the cache and remote store
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
