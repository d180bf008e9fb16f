package api

import (
	"log/slog"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ernie/spinboard/internal/app"
)

// maxLimit caps the limit query parameter
const maxLimit = 100

// Router holds the HTTP routes and dependencies
type Router struct {
	mux     *http.ServeMux
	handler http.Handler
	app     *app.App
	logger  *slog.Logger
}

// NewRouter creates a new HTTP router
func NewRouter(a *app.App) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		app:    a,
		logger: a.Logger.With("component", "api"),
	}

	r.mux.HandleFunc("GET /api/leaderboard", r.handleGetLeaderboard)
	r.mux.HandleFunc("GET /api/leaderboard/current", r.handleGetCurrentLeaderboard)

	r.mux.HandleFunc("GET /api/identity", r.handleGetIdentity)
	r.mux.HandleFunc("POST /api/identity", r.handleRegisterIdentity)
	r.mux.HandleFunc("DELETE /api/identity", r.handleSignOut)

	r.mux.HandleFunc("POST /api/scores", r.handleSubmitScore)

	// Health check
	r.mux.HandleFunc("GET /health", r.handleHealth)

	r.mux.Handle("GET /metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	r.handler = gzhttp.GzipHandler(r.mux)
	return r
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// CORS headers for API
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	r.handler.ServeHTTP(w, req)
}
