package remote

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ernie/spinboard/internal/config"
	"github.com/ernie/spinboard/internal/metrics"
)

// Open builds the Store selected by cfg.Driver. The returned closer releases
// any database handle and is never nil.
func Open(cfg config.RemoteConfig, logger *slog.Logger, m *metrics.Metrics) (Store, io.Closer, error) {
	switch cfg.Driver {
	case config.DriverREST:
		client := http.DefaultClient
		if cfg.Timeout > 0 {
			client = &http.Client{Timeout: cfg.Timeout}
		}
		store, err := NewREST(RESTConfig{
			URL:        cfg.URL,
			APIKey:     cfg.APIKey,
			Table:      cfg.Table,
			Oversample: cfg.Oversample,
			Client:     client,
			Logger:     logger,
			Metrics:    m,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, nopCloser{}, nil

	case config.DriverSQL:
		store, err := OpenSQL(SQLConfig{
			Driver:       cfg.SQLDriver,
			DSN:          cfg.DSN,
			Table:        cfg.Table,
			Oversample:   cfg.Oversample,
			CreateSchema: cfg.CreateSchema,
			Logger:       logger,
			Metrics:      m,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}
	return nil, nil, fmt.Errorf("unknown remote driver %q", cfg.Driver)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
