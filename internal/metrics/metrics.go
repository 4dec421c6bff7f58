// Package metrics exposes Prometheus collectors for parsing, reconciliation,
// workflow runs and event delivery. A nil *Metrics is valid and records
// nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dues_ledger"

type Metrics struct {
	registry *prometheus.Registry

	stageRuns       *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	stageEntities   *prometheus.CounterVec
	parsedRecords   *prometheus.CounterVec
	reconciliations *prometheus.CounterVec
	events          *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		stageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_runs_total",
			Help:      "Workflow stage runs by outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall time of workflow stage runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"stage"}),
		stageEntities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_entities_total",
			Help:      "Entities touched by workflow stages, by count name.",
		}, []string{"stage", "count"}),
		parsedRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remittance_records_total",
			Help:      "Parsed remittance rows by format and validity.",
		}, []string{"format", "result"}),
		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_items_total",
			Help:      "Reconciliation outcomes per item.",
		}, []string{"outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Event bus deliveries by type and outcome.",
		}, []string{"type", "outcome"}),
	}

	reg.MustRegister(m.stageRuns, m.stageDuration, m.stageEntities, m.parsedRecords, m.reconciliations, m.events)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveStageRun(stage, outcome string, took time.Duration, counts map[string]int) {
	if m == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, outcome).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(took.Seconds())
	for name, n := range counts {
		m.stageEntities.WithLabelValues(stage, name).Add(float64(n))
	}
}

func (m *Metrics) ObserveParse(format string, valid, invalid int) {
	if m == nil {
		return
	}
	m.parsedRecords.WithLabelValues(format, "valid").Add(float64(valid))
	m.parsedRecords.WithLabelValues(format, "invalid").Add(float64(invalid))
}

func (m *Metrics) ObserveReconciliation(exact, fuzzy, unmatchedSource, unmatchedLedger int) {
	if m == nil {
		return
	}
	m.reconciliations.WithLabelValues("exact").Add(float64(exact))
	m.reconciliations.WithLabelValues("fuzzy").Add(float64(fuzzy))
	m.reconciliations.WithLabelValues("unmatched_source").Add(float64(unmatchedSource))
	m.reconciliations.WithLabelValues("unmatched_ledger").Add(float64(unmatchedLedger))
}

func (m *Metrics) ObserveEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType, outcome).Inc()
}
