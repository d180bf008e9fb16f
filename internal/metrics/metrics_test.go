package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RemoteOp("find", nil)
	m.RemoteOp("find", errors.New("boom"))
	m.RemoteOp("find", errors.New("boom"))
	m.Fallback("submit")
	m.Submission("local")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RemoteOps.WithLabelValues("find", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RemoteOps.WithLabelValues("find", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Fallbacks.WithLabelValues("submit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions.WithLabelValues("local")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RemoteOp("top", nil)
		m.UpsertAction("inserted")
		m.Fallback("leaderboard")
		m.Registration("admitted")
		m.Submission("remote")
		m.PolicyCheck("clean")
		m.LeaderboardRead("remote")
	})
}
