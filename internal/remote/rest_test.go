package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/spinboard/internal/domain"
)

// fakePostgREST serves just enough of the PostgREST protocol for the adapter
type fakePostgREST struct {
	mu     sync.Mutex
	rows   []Row
	nextID int64

	uniqueHandle    bool // emulate a unique index so on_conflict works
	conflictInserts int  // number of plain inserts to answer with 409
	failAll         bool

	calls []string // "METHOD kind" in order
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAll {
		http.Error(w, `{"message":"upstream down"}`, http.StatusServiceUnavailable)
		return
	}
	if r.Header.Get("apikey") != "test-key" || r.Header.Get("Authorization") != "Bearer test-key" {
		http.Error(w, `{"message":"no api key"}`, http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	switch r.Method {
	case http.MethodGet:
		f.calls = append(f.calls, "GET")
		f.writeRows(w, f.selectRows(q))

	case http.MethodPatch:
		f.calls = append(f.calls, "PATCH")
		var patch restPatch
		json.NewDecoder(r.Body).Decode(&patch)
		handle := strings.TrimPrefix(q.Get("handle"), "eq.")
		var changed []Row
		for i := range f.rows {
			if f.rows[i].Handle == handle {
				f.rows[i].Score = patch.Score
				f.rows[i].RecordedAt = parseRESTTime(patch.RecordedAt)
				changed = append(changed, f.rows[i])
			}
		}
		f.writeRows(w, changed)

	case http.MethodPost:
		var writes []restWrite
		json.NewDecoder(r.Body).Decode(&writes)
		if q.Get("on_conflict") != "" {
			f.calls = append(f.calls, "POST upsert")
			if !f.uniqueHandle {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"code":"42P10","message":"there is no unique or exclusion constraint matching the ON CONFLICT specification"}`))
				return
			}
			for _, wr := range writes {
				if !f.updateExisting(wr) {
					f.appendRow(wr)
				}
			}
			w.WriteHeader(http.StatusCreated)
			return
		}
		f.calls = append(f.calls, "POST insert")
		if f.conflictInserts > 0 {
			f.conflictInserts--
			// another client won the race
			for _, wr := range writes {
				f.appendRow(restWrite{Handle: wr.Handle, Score: 1, RecordedAt: wr.RecordedAt})
			}
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"code":"23505","message":"duplicate key value violates unique constraint"}`))
			return
		}
		for _, wr := range writes {
			f.appendRow(wr)
		}
		w.WriteHeader(http.StatusCreated)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakePostgREST) selectRows(q map[string][]string) []Row {
	var out []Row
	handle := ""
	if h, ok := q["handle"]; ok {
		handle = strings.TrimPrefix(h[0], "eq.")
	}
	for _, r := range f.rows {
		if handle == "" || r.Handle == handle {
			out = append(out, r)
		}
	}
	if order, ok := q["order"]; ok && order[0] == "score.desc,recorded_at.asc" {
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Score != out[j].Score {
				return out[i].Score > out[j].Score
			}
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		})
	}
	if l, ok := q["limit"]; ok {
		n, _ := strconv.Atoi(l[0])
		if n < len(out) {
			out = out[:n]
		}
	}
	return out
}

func (f *fakePostgREST) updateExisting(wr restWrite) bool {
	found := false
	for i := range f.rows {
		if f.rows[i].Handle == wr.Handle {
			f.rows[i].Score = wr.Score
			f.rows[i].RecordedAt = parseRESTTime(wr.RecordedAt)
			found = true
		}
	}
	return found
}

func (f *fakePostgREST) appendRow(wr restWrite) {
	f.nextID++
	f.rows = append(f.rows, Row{ID: f.nextID, Handle: wr.Handle, Score: wr.Score, RecordedAt: parseRESTTime(wr.RecordedAt)})
}

func (f *fakePostgREST) writeRows(w http.ResponseWriter, rows []Row) {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, map[string]any{
			"id":          r.ID,
			"handle":      r.Handle,
			"score":       r.Score,
			"recorded_at": r.RecordedAt.Format("2006-01-02T15:04:05.999999-07:00"),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func newTestREST(t *testing.T, fake *fakePostgREST) *REST {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewREST(RESTConfig{
		URL:    srv.URL,
		APIKey: "test-key",
		Logger: slog.New(slog.DiscardHandler),
	})
	require.NoError(t, err)
	return store
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRESTFindByHandleReturnsDuplicates(t *testing.T) {
	fake := &fakePostgREST{}
	fake.appendRow(restWrite{Handle: "Buddy", Score: 3, RecordedAt: formatRESTTime(t0)})
	fake.appendRow(restWrite{Handle: "Buddy", Score: 7, RecordedAt: formatRESTTime(t0)})
	fake.appendRow(restWrite{Handle: "Rex 01", Score: 5, RecordedAt: formatRESTTime(t0)})
	store := newTestREST(t, fake)

	rows, err := store.FindByHandle(context.Background(), "Buddy")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = store.FindByHandle(context.Background(), "Rex 01")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(5), rows[0].Score)
	assert.True(t, rows[0].RecordedAt.Equal(t0))

	rows, err = store.FindByHandle(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRESTFetchTopOversamples(t *testing.T) {
	fake := &fakePostgREST{}
	for i := 0; i < 50; i++ {
		fake.appendRow(restWrite{Handle: "p" + strconv.Itoa(i), Score: int64(i), RecordedAt: formatRESTTime(t0)})
	}
	store := newTestREST(t, fake)

	rows, err := store.FetchTop(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, rows, 30)
	assert.Equal(t, int64(49), rows[0].Score)
}

func TestRESTUpsertFallbackInsertThenUpdate(t *testing.T) {
	fake := &fakePostgREST{}
	store := newTestREST(t, fake)
	ctx := context.Background()

	action, err := store.Upsert(ctx, "Rex_01", 42, t0)
	require.NoError(t, err)
	assert.Equal(t, ActionInserted, action)
	assert.True(t, store.atomicUnsupported.Load())

	action, err = store.Upsert(ctx, "Rex_01", 50, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, action)

	// the atomic attempt is skipped after the first rejection
	assert.Equal(t, []string{"POST upsert", "PATCH", "POST insert", "PATCH"}, fake.calls)

	rows, err := store.FindByHandle(ctx, "Rex_01")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(50), rows[0].Score)
}

func TestRESTUpsertAtomic(t *testing.T) {
	fake := &fakePostgREST{uniqueHandle: true}
	store := newTestREST(t, fake)

	action, err := store.Upsert(context.Background(), "Rex_01", 42, t0)
	require.NoError(t, err)
	assert.Equal(t, ActionUpserted, action)
	assert.Equal(t, []string{"POST upsert"}, fake.calls)
}

func TestRESTUpsertRetriesUpdateAfterInsertConflict(t *testing.T) {
	fake := &fakePostgREST{conflictInserts: 1}
	store := newTestREST(t, fake)
	store.atomicUnsupported.Store(true)

	action, err := store.Upsert(context.Background(), "Rex_01", 42, t0)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, action)
	assert.Equal(t, []string{"PATCH", "POST insert", "PATCH"}, fake.calls)

	rows, err := store.FindByHandle(context.Background(), "Rex_01")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(42), rows[0].Score)
}

func TestRESTFailuresWrapRemoteUnavailable(t *testing.T) {
	fake := &fakePostgREST{failAll: true}
	store := newTestREST(t, fake)
	ctx := context.Background()

	_, err := store.FindByHandle(ctx, "Rex_01")
	assert.True(t, errors.Is(err, domain.ErrRemoteUnavailable))

	_, err = store.FetchTop(ctx, 10)
	assert.True(t, errors.Is(err, domain.ErrRemoteUnavailable))

	_, err = store.Upsert(ctx, "Rex_01", 1, t0)
	assert.True(t, errors.Is(err, domain.ErrRemoteUnavailable))
}

func TestRESTUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	store, err := NewREST(RESTConfig{URL: url, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)

	_, err = store.Upsert(context.Background(), "Rex_01", 1, t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRemoteUnavailable))
}

func TestRESTMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{not json")
	}))
	defer srv.Close()

	store, err := NewREST(RESTConfig{URL: srv.URL, Logger: slog.New(slog.DiscardHandler)})
	require.NoError(t, err)

	_, err = store.FetchTop(context.Background(), 10)
	assert.True(t, errors.Is(err, domain.ErrRemoteUnavailable))
}

func TestDecodeRowsLooseTypes(t *testing.T) {
	rows, err := decodeRows([]byte(`[
		{"id": 1, "handle": "A", "score": "17", "recorded_at": "2026-03-01T12:00:00"},
		{"id": 2, "handle": null, "score": 4.0, "recorded_at": null},
		{"id": 3, "handle": "C", "score": "lots", "recorded_at": "2026-03-01 12:00:00+00"}
	]`))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, int64(17), rows[0].Score)
	assert.True(t, rows[0].RecordedAt.Equal(t0))
	assert.Equal(t, domain.UnknownHandle, rows[1].Entry().Handle)
	assert.Equal(t, int64(4), rows[1].Score)
	assert.Equal(t, int64(0), rows[2].Score)
}

func TestNewRESTRejectsBadTable(t *testing.T) {
	_, err := NewREST(RESTConfig{URL: "http://localhost", Table: "leaderboard; drop"})
	assert.Error(t, err)
}
