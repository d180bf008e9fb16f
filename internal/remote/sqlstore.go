package remote

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ernie/spinboard/internal/metrics"
)

// sqliteTimestampLayout is fixed width so text comparison matches time order.
// The Z suffix keeps the value UTC when read back.
const sqliteTimestampLayout = "2006-01-02T15:04:05.000000000Z"

//go:embed schema.sql
var schema string

// dialect captures what differs between the SQL drivers
type dialect struct {
	name string
	// atomicReturnsInserted is true when the upsert statement can report
	// whether it inserted
	atomicReturnsInserted bool
	rebind                func(query string) string
	timeArg               func(t time.Time) any
	isUniqueViolation     func(err error) bool
	isNoConflictTarget    func(err error) bool
	// timeOrder is the ORDER BY expression for recorded_at
	timeOrder string
}

var postgresDialect = dialect{
	name:                  "postgres",
	atomicReturnsInserted: true,
	rebind:                rebindDollar,
	timeArg:               func(t time.Time) any { return t.UTC() },
	timeOrder:             "recorded_at",
	isUniqueViolation: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
	},
	isNoConflictTarget: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == pgNoConflictTarget
	},
}

var sqliteDialect = dialect{
	name:    "sqlite",
	rebind:  func(q string) string { return q },
	timeArg: func(t time.Time) any { return t.UTC().Format(sqliteTimestampLayout) },
	// text comparison breaks when other writers use SQLite's space-separated form
	timeOrder: "julianday(recorded_at)",
	isUniqueViolation: func(err error) bool {
		var sqliteErr *sqlite.Error
		if !errors.As(err, &sqliteErr) {
			return false
		}
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	},
	isNoConflictTarget: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "ON CONFLICT clause does not match")
	},
}

// rebindDollar turns ? placeholders into $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLConfig configures a SQL store
type SQLConfig struct {
	Driver       string // "postgres" or "sqlite"
	DSN          string
	Table        string
	Oversample   int
	CreateSchema bool // SQLite only: create the development schema
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// SQL is a Store backed by database/sql
type SQL struct {
	db         *sql.DB
	dialect    dialect
	table      string
	oversample int
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// atomicUnsupported is set once the table rejects ON CONFLICT (handle)
	atomicUnsupported atomic.Bool
}

// OpenSQL opens the database and returns a SQL store
func OpenSQL(cfg SQLConfig) (*SQL, error) {
	var d dialect
	switch cfg.Driver {
	case "postgres":
		d = postgresDialect
	case "sqlite":
		d = sqliteDialect
	default:
		return nil, fmt.Errorf("unknown sql driver %q", cfg.Driver)
	}
	if cfg.Table == "" {
		cfg.Table = "leaderboard"
	}
	if err := validateTable(cfg.Table); err != nil {
		return nil, err
	}
	if cfg.CreateSchema && d.name != "sqlite" {
		return nil, fmt.Errorf("create_schema is only supported for sqlite")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := sql.Open(d.name, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if d.name == "sqlite" {
		// SQLite only supports one writer at a time, so limit connections
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if _, err := db.Exec("PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragmas: %w", err)
		}
	}

	if cfg.CreateSchema {
		if _, err := db.Exec(strings.ReplaceAll(schema, "leaderboard", cfg.Table)); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &SQL{
		db:         db,
		dialect:    d,
		table:      cfg.Table,
		oversample: cfg.Oversample,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Close closes the database connection
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) query(q string) string {
	return s.dialect.rebind(strings.ReplaceAll(q, "{table}", s.table))
}

// FindByHandle returns every row stored under handle
func (s *SQL) FindByHandle(ctx context.Context, handle string) (rows []Row, err error) {
	defer func() { s.metrics.RemoteOp("find", err) }()
	defer recoverInto("find by handle", &err)

	res, err := s.db.QueryContext(ctx, s.query(`
		SELECT id, handle, score, recorded_at FROM {table}
		WHERE handle = ?
		ORDER BY id
		LIMIT ?
	`), handle, findLimit)
	if err != nil {
		return nil, unavailable("find by handle", err)
	}
	rows, err = scanRows(res)
	if err != nil {
		return nil, unavailable("find by handle", err)
	}
	return rows, nil
}

// FetchTop returns the highest rows, oversampled to absorb duplicates
func (s *SQL) FetchTop(ctx context.Context, limit int) (rows []Row, err error) {
	defer func() { s.metrics.RemoteOp("top", err) }()
	defer recoverInto("fetch top", &err)

	res, err := s.db.QueryContext(ctx, s.query(`
		SELECT id, handle, score, recorded_at FROM {table}
		ORDER BY COALESCE(score, 0) DESC, `+s.dialect.timeOrder+` ASC, id ASC
		LIMIT ?
	`), oversampled(limit, s.oversample))
	if err != nil {
		return nil, unavailable("fetch top", err)
	}
	rows, err = scanRows(res)
	if err != nil {
		return nil, unavailable("fetch top", err)
	}
	return rows, nil
}

// Upsert tries INSERT ... ON CONFLICT first and falls back to
// update, insert, update when the table has no unique index on handle
func (s *SQL) Upsert(ctx context.Context, handle string, score int64, recordedAt time.Time) (action Action, err error) {
	defer func() {
		s.metrics.RemoteOp("upsert", err)
		if err == nil {
			s.metrics.UpsertAction(string(action))
		}
	}()
	defer recoverInto("upsert", &err)

	if !s.atomicUnsupported.Load() {
		action, err := s.upsertAtomic(ctx, handle, score, recordedAt)
		if err == nil {
			return action, nil
		}
		if s.dialect.isNoConflictTarget(err) {
			s.atomicUnsupported.Store(true)
			s.logger.Info("table has no unique handle constraint, using update/insert fallback", "table", s.table)
		} else {
			s.logger.Warn("atomic upsert failed, trying update/insert fallback", "handle", handle, "error", err)
		}
	}

	return s.upsertFallback(ctx, handle, score, recordedAt)
}

func (s *SQL) upsertAtomic(ctx context.Context, handle string, score int64, recordedAt time.Time) (Action, error) {
	stmt := `
		INSERT INTO {table} (handle, score, recorded_at)
		VALUES (?, ?, ?)
		ON CONFLICT (handle) DO UPDATE SET
			score = excluded.score,
			recorded_at = excluded.recorded_at
	`
	args := []any{handle, score, s.dialect.timeArg(recordedAt)}

	if s.dialect.atomicReturnsInserted {
		var inserted bool
		if err := s.db.QueryRowContext(ctx, s.query(stmt+" RETURNING (xmax = 0)"), args...).Scan(&inserted); err != nil {
			return "", err
		}
		if inserted {
			return ActionInserted, nil
		}
		return ActionUpdated, nil
	}

	if _, err := s.db.ExecContext(ctx, s.query(stmt), args...); err != nil {
		return "", err
	}
	return ActionUpserted, nil
}

func (s *SQL) upsertFallback(ctx context.Context, handle string, score int64, recordedAt time.Time) (Action, error) {
	n, err := s.update(ctx, handle, score, recordedAt)
	if err != nil {
		return "", unavailable("update", err)
	}
	if n > 0 {
		return ActionUpdated, nil
	}

	err = s.insert(ctx, handle, score, recordedAt)
	if err == nil {
		return ActionInserted, nil
	}
	if !s.dialect.isUniqueViolation(err) {
		return "", unavailable("insert", err)
	}

	// Someone inserted the handle between our update and insert
	n, err = s.update(ctx, handle, score, recordedAt)
	if err != nil {
		return "", unavailable("update after conflict", err)
	}
	if n == 0 {
		return "", unavailable("update after conflict", errors.New("no rows matched"))
	}
	return ActionUpdated, nil
}

// update sets score on every row matching handle and returns how many changed
func (s *SQL) update(ctx context.Context, handle string, score int64, recordedAt time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.query(`
		UPDATE {table} SET score = ?, recorded_at = ?
		WHERE handle = ?
	`), score, s.dialect.timeArg(recordedAt), handle)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *SQL) insert(ctx context.Context, handle string, score int64, recordedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.query(`
		INSERT INTO {table} (handle, score, recorded_at)
		VALUES (?, ?, ?)
	`), handle, score, s.dialect.timeArg(recordedAt))
	return err
}
