// Package metrics holds the prometheus collectors of the proof service and
// the settlement pipeline. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "zkspend"

type Metrics struct {
	registry *prometheus.Registry

	artifactLoads *prometheus.CounterVec
	proofs        *prometheus.CounterVec
	proofSeconds  *prometheus.HistogramVec
	verifications *prometheus.CounterVec
	reservations  *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	inflight      prometheus.Gauge
	httpRequests  *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, along with the Go and
// process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{registry: registry}

	m.artifactLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "artifact_loads_total",
		Help:      "Circuit artifact loads from disk by circuit and result",
	}, []string{"circuit", "result"})

	m.proofs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proofs_total",
		Help:      "Proof generation attempts by circuit and result",
	}, []string{"circuit", "result"})

	m.proofSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "proof_duration_seconds",
		Help:      "Time spent in groth16 proving",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"circuit"})

	m.verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verifications_total",
		Help:      "Proof verifications by circuit and outcome",
	}, []string{"circuit", "result"})

	m.reservations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservations_total",
		Help:      "Spending reservations by outcome",
	}, []string{"result"})

	m.settlements = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlements_total",
		Help:      "Payments by final outcome",
	}, []string{"result"})

	m.inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "payments_inflight",
		Help:      "Payments currently between reservation and resolution",
	})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Proof service requests by route and status",
	}, []string{"method", "route", "status"})

	registry.MustRegister(
		m.artifactLoads,
		m.proofs,
		m.proofSeconds,
		m.verifications,
		m.reservations,
		m.settlements,
		m.inflight,
		m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ArtifactLoaded(circuit string, err error) {
	if m == nil {
		return
	}
	m.artifactLoads.WithLabelValues(circuit, result(err)).Inc()
}

func (m *Metrics) ProofGenerated(circuit string, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.proofs.WithLabelValues(circuit, result(err)).Inc()
	if err == nil {
		m.proofSeconds.WithLabelValues(circuit).Observe(took.Seconds())
	}
}

func (m *Metrics) Verified(circuit string, valid bool, err error) {
	if m == nil {
		return
	}
	r := result(err)
	if err == nil && !valid {
		r = "invalid"
	}
	m.verifications.WithLabelValues(circuit, r).Inc()
}

// Reservation records a TryReserve outcome: "reserved", or the rejection
// reason.
func (m *Metrics) Reservation(outcome string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Settlement(outcome string) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Inflight(delta int) {
	if m == nil {
		return
	}
	m.inflight.Add(float64(delta))
}

func (m *Metrics) Request(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusText(status)).Inc()
}

func statusText(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
