// Package metrics holds the Prometheus instruments for the leaderboard.
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spinboard"

// Metrics holds all counters exported at /metrics
type Metrics struct {
	// RemoteOps counts remote store calls.
	// Labels: op (find, top, upsert), result (ok, error)
	RemoteOps *prometheus.CounterVec

	// UpsertActions counts successful upserts by what the store did.
	// Labels: action (inserted, updated, upserted)
	UpsertActions *prometheus.CounterVec

	// Fallbacks counts operations served by the local cache instead of the remote.
	// Labels: op (register, submit, leaderboard)
	Fallbacks *prometheus.CounterVec

	// Registrations counts registration attempts by outcome.
	// Labels: outcome (admitted, degraded, invalid_format, policy_rejected, taken, cancelled)
	Registrations *prometheus.CounterVec

	// Submissions counts score submissions by source.
	// Labels: source (remote, local, failed)
	Submissions *prometheus.CounterVec

	// PolicyChecks counts content-policy verdicts.
	// Labels: verdict (clean, flagged, error)
	PolicyChecks *prometheus.CounterVec

	// LeaderboardReads counts aggregator reads by source.
	// Labels: source (remote, local)
	LeaderboardReads *prometheus.CounterVec
}

// New creates the instruments and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RemoteOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "operations_total",
			Help:      "Remote store operations by op and result.",
		}, []string{"op", "result"}),
		UpsertActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "upsert_actions_total",
			Help:      "Successful remote upserts by resulting action.",
		}, []string{"action"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "fallbacks_total",
			Help:      "Operations served from the local cache because the remote failed.",
		}, []string{"op"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "identity",
			Name:      "registrations_total",
			Help:      "Handle registration attempts by outcome.",
		}, []string{"outcome"}),
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scores",
			Name:      "submissions_total",
			Help:      "Score submissions by the store that accepted them.",
		}, []string{"source"}),
		PolicyChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "checks_total",
			Help:      "Content-policy checks by verdict.",
		}, []string{"verdict"}),
		LeaderboardReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "reads_total",
			Help:      "Leaderboard reads by serving source.",
		}, []string{"source"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RemoteOps,
			m.UpsertActions,
			m.Fallbacks,
			m.Registrations,
			m.Submissions,
			m.PolicyChecks,
			m.LeaderboardReads,
		)
	}
	return m
}

// RemoteOp records one remote call
func (m *Metrics) RemoteOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.RemoteOps.WithLabelValues(op, result).Inc()
}

// UpsertAction records what a successful upsert did
func (m *Metrics) UpsertAction(action string) {
	if m == nil {
		return
	}
	m.UpsertActions.WithLabelValues(action).Inc()
}

// Fallback records an operation that fell back to the local cache
func (m *Metrics) Fallback(op string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(op).Inc()
}

// Registration records a registration outcome
func (m *Metrics) Registration(outcome string) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(outcome).Inc()
}

// Submission records a score submission
func (m *Metrics) Submission(source string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(source).Inc()
}

// PolicyCheck records a content-policy verdict
func (m *Metrics) PolicyCheck(verdict string) {
	if m == nil {
		return
	}
	m.PolicyChecks.WithLabelValues(verdict).Inc()
}

// LeaderboardRead records which source served a board
func (m *Metrics) LeaderboardRead(source string) {
	if m == nil {
		return
	}
	m.LeaderboardReads.WithLabelValues(source).Inc()
}
