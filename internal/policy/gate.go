// Package policy asks an external text classifier whether a handle contains
// disallowed content. Any failure to get a clear answer counts as flagged.
package policy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/ernie/spinboard/internal/metrics"
)

// maxVerdictBytes caps how much of the response body is read
const maxVerdictBytes = 64

// Gate checks candidates against the content-policy endpoint
type Gate struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a Gate
type Option func(*Gate)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gate) { g.client = c }
}

// WithLimiter throttles outgoing checks. A nil limiter disables throttling.
func WithLimiter(l *rate.Limiter) Option {
	return func(g *Gate) { g.limiter = l }
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// NewGate creates a gate for an endpoint that takes the candidate in the
// "text" query parameter and answers with a boolean body
func NewGate(endpoint string, opts ...Option) *Gate {
	g := &Gate{
		endpoint: endpoint,
		client:   http.DefaultClient,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsFlagged reports whether candidate must be refused. It returns true when
// the service says so and also whenever the check could not be completed.
func (g *Gate) IsFlagged(ctx context.Context, candidate string) bool {
	flagged, err := g.check(ctx, candidate)
	if err != nil {
		g.logger.Warn("content policy check failed, treating as flagged", "error", err)
		g.metrics.PolicyCheck("error")
		return true
	}
	if flagged {
		g.metrics.PolicyCheck("flagged")
	} else {
		g.metrics.PolicyCheck("clean")
	}
	return flagged
}

func (g *Gate) check(ctx context.Context, candidate string) (flagged bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("policy check panicked: %v", r)
		}
	}()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	u, err := url.Parse(g.endpoint)
	if err != nil {
		return false, fmt.Errorf("parsing endpoint: %w", err)
	}
	q := u.Query()
	q.Set("text", candidate)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVerdictBytes))
	if err != nil {
		return false, fmt.Errorf("reading verdict: %w", err)
	}

	verdict, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(string(body))))
	if err != nil {
		return false, fmt.Errorf("parsing verdict %q: %w", string(body), err)
	}
	return verdict, nil
}
