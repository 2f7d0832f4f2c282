// Package metrics exposes ingestion and triage counters on a dedicated
// Prometheus registry, keeping process defaults out of the scrape.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Report outcomes.
const (
	OutcomeStored      = "stored"
	OutcomeFiltered    = "filtered"
	OutcomeRejected    = "rejected"
	OutcomeRateLimited = "rate_limited"
)

type Metrics struct {
	registry *prometheus.Registry

	reportsTotal   *prometheus.CounterVec
	directiveTotal *prometheus.CounterVec
	filteredTotal  *prometheus.CounterVec
	ingestDuration *prometheus.HistogramVec
	groups         *prometheus.GaugeVec
}

func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cspwatch_reports_total",
				Help: "CSP report deliveries by outcome",
			},
			[]string{"project", "outcome"},
		),
		directiveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cspwatch_directive_reports_total",
				Help: "Stored reports by effective directive",
			},
			[]string{"project", "directive"},
		),
		filteredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cspwatch_filtered_total",
				Help: "Reports dropped by ingest policy, by reason",
			},
			[]string{"project", "reason"},
		),
		ingestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cspwatch_ingest_duration_seconds",
				Help:    "Time to parse, filter, and store one delivery",
				Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"project"},
		),
		groups: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cspwatch_groups",
				Help: "Violation groups by triage status",
			},
			[]string{"status"},
		),
	}

	collectors := []prometheus.Collector{
		m.reportsTotal,
		m.directiveTotal,
		m.filteredTotal,
		m.ingestDuration,
		m.groups,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (m *Metrics) ReportStored(project, directive string) {
	m.reportsTotal.WithLabelValues(project, OutcomeStored).Inc()
	m.directiveTotal.WithLabelValues(project, directive).Inc()
}

func (m *Metrics) ReportFiltered(project, reason string) {
	m.reportsTotal.WithLabelValues(project, OutcomeFiltered).Inc()
	m.filteredTotal.WithLabelValues(project, reason).Inc()
}

func (m *Metrics) ReportRejected(project string) {
	m.reportsTotal.WithLabelValues(project, OutcomeRejected).Inc()
}

func (m *Metrics) ReportRateLimited(project string) {
	m.reportsTotal.WithLabelValues(project, OutcomeRateLimited).Inc()
}

func (m *Metrics) ObserveIngest(project string, seconds float64) {
	m.ingestDuration.WithLabelValues(project).Observe(seconds)
}

func (m *Metrics) SetGroupCount(status string, count float64) {
	m.groups.WithLabelValues(status).Set(count)
}
