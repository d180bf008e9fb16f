package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/spinboard/internal/app"
	"github.com/ernie/spinboard/internal/config"
	"github.com/ernie/spinboard/internal/domain"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	policy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "false")
	}))
	t.Cleanup(policy.Close)

	cfg := config.Default()
	cfg.Remote.Driver = config.DriverSQL
	cfg.Remote.SQLDriver = "sqlite"
	cfg.Remote.DSN = filepath.Join(t.TempDir(), "remote.db")
	cfg.Remote.CreateSchema = true
	cfg.Cache.InMemory = true
	cfg.Policy.Endpoint = policy.URL
	cfg.Policy.Rate = 0

	a, err := app.New(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return NewRouter(a)
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v))
	return v
}

func TestRegisterSubmitAndRead(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/scores", `{"score": 5}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, r, http.MethodPost, "/api/identity", `{"handle": "Rex_01"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[map[string]any](t, rec)
	assert.Equal(t, true, res["admitted"])
	assert.Equal(t, "Rex_01", res["handle"])

	rec = do(t, r, http.MethodGet, "/api/identity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Rex_01", decode[identityResponse](t, rec).Handle)

	rec = do(t, r, http.MethodPost, "/api/scores", `{"score": 42}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sub := decode[map[string]any](t, rec)
	assert.Equal(t, true, sub["ok"])
	assert.Equal(t, "remote", sub["source"])

	rec = do(t, r, http.MethodGet, "/api/leaderboard?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode[domain.Board](t, rec)
	assert.Equal(t, domain.SourceRemote, board.Source)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, int64(42), board.Entries[0].Score)
	assert.True(t, board.Entries[0].Me)

	rec = do(t, r, http.MethodGet, "/api/leaderboard/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[domain.Board](t, rec).Entries, 1)

	rec = do(t, r, http.MethodDelete, "/api/identity", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, r, http.MethodGet, "/api/identity", "")
	assert.False(t, decode[identityResponse](t, rec).Bound)
}

func TestRegisterRejections(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/api/identity", `{"handle": "x"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rej := decode[rejectionResponse](t, rec)
	assert.Equal(t, "invalid_format", rej.Kind)
	assert.Equal(t, domain.ReasonInvalidFormat, rej.Error)

	rec = do(t, r, http.MethodPost, "/api/identity", `{"nope": true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitValidation(t *testing.T) {
	r := newTestRouter(t)
	do(t, r, http.MethodPost, "/api/identity", `{"handle": "Rex_01"}`)

	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/api/scores", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/api/scores", `{"score": -3}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodPost, "/api/scores", `not json`).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	do(t, r, http.MethodGet, "/api/leaderboard", "")
	rec = do(t, r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "spinboard_leaderboard_reads_total")
}

func TestCORSPreflight(t *testing.T) {
	r := newTestRouter(t)
	rec := do(t, r, http.MethodOptions, "/api/scores", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestParseLimit(t *testing.T) {
	for query, want := range map[string]int{"": 10, "limit=3": 3, "limit=0": 10, "limit=500": 10, "limit=abc": 10} {
		req := httptest.NewRequest(http.MethodGet, "/api/leaderboard?"+query, nil)
		assert.Equal(t, want, parseLimit(req, 10, maxLimit), query)
	}
}
