package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DefaultLockTimeout is how long an operation waits for another process to
// release the cache directory
const DefaultLockTimeout = 2 * time.Second

const lockRetryInterval = 20 * time.Millisecond

// Config holds configuration for the cache database
type Config struct {
	// Path is the badger directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM; used by tests
	InMemory bool

	// SyncWrites fsyncs every write
	SyncWrites bool

	// LockTimeout bounds the wait for a directory lock held by another
	// process. Zero uses DefaultLockTimeout.
	LockTimeout time.Duration

	// Logger receives badger's internal log lines. Nil disables them.
	Logger *slog.Logger
}

// badgerLogger adapts slog.Logger to badger's Logger interface
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// Infof is demoted to debug; badger reports table loading at info on every open
func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func prepareDir(cfg Config) error {
	if cfg.Path == "" {
		return errors.New("cache path is required unless in_memory is set")
	}
	if err := os.MkdirAll(cfg.Path, 0750); err != nil {
		return fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
	}
	return nil
}

// acquire opens the on-disk database, retrying while another process holds
// the directory lock
func acquire(cfg Config) (*badger.DB, error) {
	deadline := time.Now().Add(cfg.LockTimeout)
	for {
		db, err := openBadger(cfg)
		if err == nil {
			return db, nil
		}
		if !isLockBusy(err) || time.Now().After(deadline) {
			return nil, err
		}
		time.Sleep(lockRetryInterval)
	}
}

func isLockBusy(err error) bool {
	return strings.Contains(err.Error(), "Cannot acquire directory lock")
}

func openBadger(cfg Config) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := prepareDir(cfg); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}
