package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the revshare service.
// All Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	// Report metrics
	ReportLatency   *prometheus.HistogramVec
	ReportErrors    *prometheus.CounterVec
	MissingDays     prometheus.Counter
	SourceFailures  *prometheus.CounterVec
	InvalidPolicies prometheus.Counter

	// Allocation metrics
	LedgerRecords   prometheus.Counter
	UnmappedRevenue prometheus.Counter
	PoolAllocations *prometheus.CounterVec

	// Cache metrics
	CacheRequests      *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec

	// Event consumer metrics
	LedgerEvents *prometheus.CounterVec

	// System metrics
	DBConnections *prometheus.GaugeVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on reg.
func NewMetricsWith(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReportLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "report_latency_seconds",
				Help:      "Report computation latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"report", "cache"},
		),
		ReportErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_errors_total",
				Help:      "Reports that failed to compute",
			},
			[]string{"report"},
		),
		MissingDays: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_missing_days_total",
				Help:      "Days reported as missing after ledger query failures",
			},
		),
		SourceFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_failures_total",
				Help:      "Failed reads from upstream data sources",
			},
			[]string{"source"},
		),
		InvalidPolicies: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalid_rate_policies_total",
				Help:      "Stored rate policies rejected at report time",
			},
		),

		LedgerRecords: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_records_processed_total",
				Help:      "Ledger records processed by the engine",
			},
		),
		UnmappedRevenue: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unmapped_ad_unit_records_total",
				Help:      "Direct-attribution records without a mapping, attributed to partners",
			},
		),
		PoolAllocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_allocations_total",
				Help:      "Pool allocations computed per bucket",
			},
			[]string{"bucket"},
		),

		CacheRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_requests_total",
				Help:      "Aggregate cache lookups by result",
			},
			[]string{"report", "result"},
		),
		CacheInvalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_invalidations_total",
				Help:      "Owner cache invalidations by trigger",
			},
			[]string{"trigger"},
		),

		LedgerEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_events_total",
				Help:      "Ledger update notifications consumed",
			},
			[]string{"status"},
		),

		DBConnections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "db_connections",
				Help:      "Database connection pool stats",
			},
			[]string{"state"},
		),

		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit hits",
			},
			[]string{"endpoint"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordReport records a report computation.
func (m *Metrics) RecordReport(report string, cached bool, latency time.Duration) {
	if m == nil {
		return
	}
	cache := "miss"
	if cached {
		cache = "hit"
	}
	m.ReportLatency.WithLabelValues(report, cache).Observe(latency.Seconds())
}

// RecordReportError records a failed report.
func (m *Metrics) RecordReportError(report string) {
	if m == nil {
		return
	}
	m.ReportErrors.WithLabelValues(report).Inc()
}

// RecordMissingDays records days counted as zero after ledger failures.
func (m *Metrics) RecordMissingDays(n int) {
	if m == nil || n == 0 {
		return
	}
	m.MissingDays.Add(float64(n))
}

// RecordSourceFailure records a failed read from source.
func (m *Metrics) RecordSourceFailure(source string) {
	if m == nil {
		return
	}
	m.SourceFailures.WithLabelValues(source).Inc()
}

// RecordInvalidPolicy records a stored policy the engine could not apply.
func (m *Metrics) RecordInvalidPolicy() {
	if m == nil {
		return
	}
	m.InvalidPolicies.Inc()
}

// RecordLedger records processed and unmapped ledger records.
func (m *Metrics) RecordLedger(processed, unmapped int) {
	if m == nil {
		return
	}
	m.LedgerRecords.Add(float64(processed))
	m.UnmappedRevenue.Add(float64(unmapped))
}

// RecordPoolAllocation records a pool allocation into bucket.
func (m *Metrics) RecordPoolAllocation(bucket string) {
	if m == nil {
		return
	}
	m.PoolAllocations.WithLabelValues(bucket).Inc()
}

// RecordCache records a cache lookup result: hit, miss or error.
func (m *Metrics) RecordCache(report, result string) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues(report, result).Inc()
}

// RecordInvalidation records an owner cache invalidation.
func (m *Metrics) RecordInvalidation(trigger string) {
	if m == nil {
		return
	}
	m.CacheInvalidations.WithLabelValues(trigger).Inc()
}

// RecordLedgerEvent records a consumed ledger notification.
func (m *Metrics) RecordLedgerEvent(status string) {
	if m == nil {
		return
	}
	m.LedgerEvents.WithLabelValues(status).Inc()
}

// UpdateDBStats updates database connection metrics.
func (m *Metrics) UpdateDBStats(idle, inUse, total int) {
	if m == nil {
		return
	}
	m.DBConnections.WithLabelValues("idle").Set(float64(idle))
	m.DBConnections.WithLabelValues("in_use").Set(float64(inUse))
	m.DBConnections.WithLabelValues("total").Set(float64(total))
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}
