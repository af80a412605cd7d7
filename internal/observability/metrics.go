package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "citewatch"

// Metrics holds the counters and gauges of a single pipeline run.
// Each run owns a private registry; nothing is registered globally.
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// APIRequests counts HTTP attempts against the bibliographic API, labeled by outcome.
	APIRequests *prometheus.CounterVec

	// APIRetries counts retried attempts.
	APIRetries prometheus.Counter

	// PagesFetched counts cursor pages received.
	PagesFetched prometheus.Counter

	// RecordsSkipped counts malformed records dropped during pagination.
	RecordsSkipped prometheus.Counter

	// WorksFetched counts citing works yielded by the paginator.
	WorksFetched prometheus.Counter

	// WorksHidden counts works dropped by the override patch.
	WorksHidden prometheus.Counter

	// WorksAdded is the number of works absent from the previous snapshot.
	WorksAdded prometheus.Gauge

	// TotalWorks is the size of the persisted collection.
	TotalWorks prometheus.Gauge

	// CitationsSum is the total cited-by count over the persisted collection.
	CitationsSum prometheus.Gauge

	// RunDuration is the wall-clock duration of the last run in seconds.
	RunDuration prometheus.Gauge

	// LastSuccess is the Unix time of the last successful persist.
	LastSuccess prometheus.Gauge
}

// NewMetrics creates and registers the run metrics on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "HTTP requests issued to the bibliographic API, by outcome.",
		}, []string{"outcome"}),
		APIRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_retries_total",
			Help:      "Retried API requests.",
		}),
		PagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Cursor pages fetched.",
		}),
		RecordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_skipped_total",
			Help:      "Malformed records skipped during pagination.",
		}),
		WorksFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "works_fetched_total",
			Help:      "Citing works fetched.",
		}),
		WorksHidden: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "works_hidden_total",
			Help:      "Works hidden by curator overrides.",
		}),
		WorksAdded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "works_added",
			Help:      "Works not present in the previous snapshot.",
		}),
		TotalWorks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "works_total",
			Help:      "Works in the persisted collection.",
		}),
		CitationsSum: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "citations_sum",
			Help:      "Sum of cited-by counts over the persisted collection.",
		}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of the pipeline run.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful persist.",
		}),
	}

	m.registry.MustRegister(
		m.APIRequests, m.APIRetries, m.PagesFetched, m.RecordsSkipped,
		m.WorksFetched, m.WorksHidden, m.WorksAdded, m.TotalWorks,
		m.CitationsSum, m.RunDuration, m.LastSuccess,
	)
	return m
}

// Registry exposes the run registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRequest records one API attempt with the given outcome (ok, retry, error).
func (m *Metrics) ObserveRequest(outcome string) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(outcome).Inc()
}

// ObserveRetry records a retried attempt.
func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.APIRetries.Inc()
}

// ObservePage records a fetched page and the records it yielded and skipped.
func (m *Metrics) ObservePage(works, skipped int) {
	if m == nil {
		return
	}
	m.PagesFetched.Inc()
	m.WorksFetched.Add(float64(works))
	m.RecordsSkipped.Add(float64(skipped))
}

// ObserveHidden records works dropped by overrides.
func (m *Metrics) ObserveHidden(n int) {
	if m == nil {
		return
	}
	m.WorksHidden.Add(float64(n))
}

// ObserveRun records the outcome of a successful persist.
func (m *Metrics) ObserveRun(total, citations, added int, duration time.Duration, at time.Time) {
	if m == nil {
		return
	}
	m.TotalWorks.Set(float64(total))
	m.CitationsSum.Set(float64(citations))
	m.WorksAdded.Set(float64(added))
	m.RunDuration.Set(duration.Seconds())
	m.LastSuccess.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in Prometheus text format for the
// node-exporter textfile collector. The write is atomic.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
