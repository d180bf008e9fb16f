package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ernie/spinboard/internal/metrics"
)

// maxResponseBytes caps how much of a PostgREST response is buffered
const maxResponseBytes = 1 << 20

const selectColumns = "id,handle,score,recorded_at"

// PostgREST / Postgres error codes the fallback protocol cares about
const (
	pgUniqueViolation    = "23505"
	pgNoConflictTarget   = "42P10"
	restTimestampLayout  = "2006-01-02T15:04:05.999999999Z07:00"
	restTimestampNoZone  = "2006-01-02T15:04:05.999999999"
	restTimestampSpacedZ = "2006-01-02 15:04:05.999999999Z07:00"
)

// StatusError is a non-2xx answer from the REST endpoint
type StatusError struct {
	Status int
	Code   string // Postgres error code from the JSON body, when present
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("remote returned %d", e.Status)
	}
	return fmt.Sprintf("remote returned %d: %s", e.Status, e.Body)
}

// RESTConfig configures a REST store
type RESTConfig struct {
	URL        string // project base URL; requests go to URL/rest/v1/Table
	APIKey     string
	Table      string
	Oversample int
	Client     *http.Client
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// REST is a Store speaking the PostgREST protocol
type REST struct {
	endpoint   string
	apiKey     string
	oversample int
	client     *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// atomicUnsupported is set once the table rejects on_conflict upserts
	atomicUnsupported atomic.Bool
}

// NewREST creates a REST store
func NewREST(cfg RESTConfig) (*REST, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote url is required")
	}
	if cfg.Table == "" {
		cfg.Table = "leaderboard"
	}
	if err := validateTable(cfg.Table); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &REST{
		endpoint:   strings.TrimRight(cfg.URL, "/") + "/rest/v1/" + cfg.Table,
		apiKey:     cfg.APIKey,
		oversample: cfg.Oversample,
		client:     cfg.Client,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

// FindByHandle returns every row stored under handle
func (s *REST) FindByHandle(ctx context.Context, handle string) (rows []Row, err error) {
	defer func() { s.metrics.RemoteOp("find", err) }()
	defer recoverInto("find by handle", &err)

	q := url.Values{}
	q.Set("handle", "eq."+handle)
	q.Set("select", selectColumns)
	q.Set("limit", strconv.Itoa(findLimit))

	body, err := s.do(ctx, http.MethodGet, q, nil, "")
	if err != nil {
		return nil, unavailable("find by handle", err)
	}
	rows, err = decodeRows(body)
	if err != nil {
		return nil, unavailable("find by handle", err)
	}
	return rows, nil
}

// FetchTop returns the highest rows, oversampled to absorb duplicates
func (s *REST) FetchTop(ctx context.Context, limit int) (rows []Row, err error) {
	defer func() { s.metrics.RemoteOp("top", err) }()
	defer recoverInto("fetch top", &err)

	q := url.Values{}
	q.Set("select", selectColumns)
	q.Set("order", "score.desc,recorded_at.asc")
	q.Set("limit", strconv.Itoa(oversampled(limit, s.oversample)))

	body, err := s.do(ctx, http.MethodGet, q, nil, "")
	if err != nil {
		return nil, unavailable("fetch top", err)
	}
	rows, err = decodeRows(body)
	if err != nil {
		return nil, unavailable("fetch top", err)
	}
	return rows, nil
}

// Upsert tries a single on_conflict upsert and falls back to
// update, insert, update when the table cannot arbitrate conflicts itself
func (s *REST) Upsert(ctx context.Context, handle string, score int64, recordedAt time.Time) (action Action, err error) {
	defer func() {
		s.metrics.RemoteOp("upsert", err)
		if err == nil {
			s.metrics.UpsertAction(string(action))
		}
	}()
	defer recoverInto("upsert", &err)

	if !s.atomicUnsupported.Load() {
		err := s.upsertAtomic(ctx, handle, score, recordedAt)
		if err == nil {
			return ActionUpserted, nil
		}
		var se *StatusError
		if !errors.As(err, &se) {
			return "", unavailable("upsert", err)
		}
		if se.Code == pgNoConflictTarget {
			s.atomicUnsupported.Store(true)
		}
		s.logger.Warn("atomic upsert rejected, using update/insert fallback", "handle", handle, "error", err)
	}

	return s.upsertFallback(ctx, handle, score, recordedAt)
}

func (s *REST) upsertFallback(ctx context.Context, handle string, score int64, recordedAt time.Time) (Action, error) {
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
	if !isRESTConflict(err) {
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

func (s *REST) upsertAtomic(ctx context.Context, handle string, score int64, recordedAt time.Time) error {
	q := url.Values{}
	q.Set("on_conflict", "handle")
	_, err := s.do(ctx, http.MethodPost, q, []restWrite{newRESTWrite(handle, score, recordedAt)},
		"resolution=merge-duplicates,return=minimal")
	return err
}

// update patches every row matching handle and returns how many changed
func (s *REST) update(ctx context.Context, handle string, score int64, recordedAt time.Time) (int, error) {
	q := url.Values{}
	q.Set("handle", "eq."+handle)
	q.Set("select", selectColumns)

	body, err := s.do(ctx, http.MethodPatch, q, restPatch{Score: score, RecordedAt: formatRESTTime(recordedAt)},
		"return=representation")
	if err != nil {
		return 0, err
	}
	rows, err := decodeRows(body)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (s *REST) insert(ctx context.Context, handle string, score int64, recordedAt time.Time) error {
	_, err := s.do(ctx, http.MethodPost, nil, []restWrite{newRESTWrite(handle, score, recordedAt)},
		"return=minimal")
	return err
}

// do sends one request and returns the body of a 2xx response
func (s *REST) do(ctx context.Context, method string, q url.Values, payload any, prefer string) ([]byte, error) {
	target := s.endpoint
	if len(q) > 0 {
		// PostgREST filters want %20 rather than + for spaces
		target += "?" + strings.ReplaceAll(q.Encode(), "+", "%20")
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("apikey", s.apiKey)
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		var pgErr struct {
			Code string `json:"code"`
		}
		if json.Unmarshal(data, &pgErr) == nil {
			se.Code = pgErr.Code
		}
		return nil, se
	}
	return data, nil
}

func isRESTConflict(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Status == http.StatusConflict || se.Code == pgUniqueViolation
}

// restWrite is the insert payload
type restWrite struct {
	Handle     string `json:"handle"`
	Score      int64  `json:"score"`
	RecordedAt string `json:"recorded_at"`
}

func newRESTWrite(handle string, score int64, recordedAt time.Time) restWrite {
	return restWrite{Handle: handle, Score: score, RecordedAt: formatRESTTime(recordedAt)}
}

// restPatch is the update payload
type restPatch struct {
	Score      int64  `json:"score"`
	RecordedAt string `json:"recorded_at"`
}

// restRow tolerates the loose typing PostgREST tables end up with
type restRow struct {
	ID         int64           `json:"id"`
	Handle     *string         `json:"handle"`
	Score      json.RawMessage `json:"score"`
	RecordedAt *string         `json:"recorded_at"`
}

func decodeRows(body []byte) ([]Row, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []Row{}, nil
	}
	var raw []restRow
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding rows: %w", err)
	}

	rows := make([]Row, 0, len(raw))
	for _, r := range raw {
		row := Row{ID: r.ID, Score: parseRESTScore(r.Score)}
		if r.Handle != nil {
			row.Handle = *r.Handle
		}
		if r.RecordedAt != nil {
			row.RecordedAt = parseRESTTime(*r.RecordedAt)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// parseRESTScore accepts numbers or numeric strings; anything else is 0
func parseRESTScore(raw json.RawMessage) int64 {
	var n int64
	if json.Unmarshal(raw, &n) == nil {
		return n
	}
	var f float64
	if json.Unmarshal(raw, &f) == nil {
		return int64(f)
	}
	var str string
	if json.Unmarshal(raw, &str) == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(str), 10, 64); err == nil {
			return v
		}
	}
	return 0
}

func formatRESTTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseRESTTime handles timestamptz and plain timestamp columns; unparseable
// values become the zero time so they sort first among equal scores
func parseRESTTime(s string) time.Time {
	for _, layout := range []string{restTimestampLayout, restTimestampSpacedZ, restTimestampNoZone} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
