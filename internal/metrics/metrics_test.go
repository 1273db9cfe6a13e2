package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ArtifactLoaded("spending", nil)
		m.ProofGenerated("spending", time.Second, nil)
		m.Verified("spending", true, nil)
		m.Reservation("reserved")
		m.Settlement("committed")
		m.Inflight(1)
		m.Request("GET", "/health", 200)
	})
	require.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()

	m.ArtifactLoaded("spending", nil)
	m.ArtifactLoaded("spending", errors.New("boom"))
	m.ArtifactLoaded("spending", nil)
	require.Equal(t, 2.0, testutil.ToFloat64(m.artifactLoads.WithLabelValues("spending", "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.artifactLoads.WithLabelValues("spending", "error")))

	m.Verified("spending", false, nil)
	require.Equal(t, 1.0, testutil.ToFloat64(m.verifications.WithLabelValues("spending", "invalid")))

	m.Inflight(2)
	m.Inflight(-1)
	require.Equal(t, 1.0, testutil.ToFloat64(m.inflight))

	m.Request("POST", "/prove", 503)
	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("POST", "/prove", "5xx")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}
