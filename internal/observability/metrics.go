package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	engineDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	scanSizeBuckets       = []float64{1, 5, 10, 25, 50, 100, 250, 500}
)

// Metrics holds all Prometheus metric instruments for the case API.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Case state machine metrics
	CaseAdvancesTotal    *prometheus.CounterVec
	CaseUpdateRetries    prometheus.Counter
	CasesCreatedTotal    prometheus.Counter
	CasesClosedTotal     prometheus.Counter
	CasesDeletedTotal    *prometheus.CounterVec
	EvidenceRecordsAdded prometheus.Counter

	// Engine gateway metrics
	EngineRequestsTotal       *prometheus.CounterVec
	EngineRequestDuration     *prometheus.HistogramVec
	EngineCircuitBreakerState *prometheus.GaugeVec

	// Correlation metrics
	CorrelationsTotal       *prometheus.CounterVec
	CorrelationScanDuration prometheus.Histogram
	CorrelationCasesScanned prometheus.Histogram
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casetrack_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casetrack_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		// Case state machine
		CaseAdvancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casetrack_case_advances_total",
			Help: "Total advance attempts by step and outcome (advanced, patched, mismatch).",
		}, []string{"step", "outcome"}),
		CaseUpdateRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casetrack_case_update_retries_total",
			Help: "Total retried case variable updates.",
		}),
		CasesCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casetrack_cases_created_total",
			Help: "Total cases created.",
		}),
		CasesClosedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casetrack_cases_closed_total",
			Help: "Total cases driven to their terminal workflow state.",
		}),
		CasesDeletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casetrack_cases_deleted_total",
			Help: "Total case deletions by outcome (ok, partial).",
		}, []string{"outcome"}),
		EvidenceRecordsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "casetrack_evidence_records_added_total",
			Help: "Total evidence records attached to cases.",
		}),

		// Engine gateway
		EngineRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casetrack_engine_requests_total",
			Help: "Total workflow engine requests by operation and outcome.",
		}, []string{"operation", "status"}),
		EngineRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "casetrack_engine_request_duration_seconds",
			Help:    "Workflow engine request duration in seconds.",
			Buckets: engineDurationBuckets,
		}, []string{"operation"}),
		EngineCircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "casetrack_engine_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}, []string{"backend"}),

		// Correlation
		CorrelationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "casetrack_correlations_total",
			Help: "Total correlation attempts by outcome (matched, not_found, ambiguous).",
		}, []string{"outcome"}),
		CorrelationScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "casetrack_correlation_scan_duration_seconds",
			Help:    "Full-table correlation scan duration in seconds.",
			Buckets: engineDurationBuckets,
		}),
		CorrelationCasesScanned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "casetrack_correlation_cases_scanned",
			Help:    "Number of open cases inspected per correlation scan.",
			Buckets: scanSizeBuckets,
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		// Case state machine
		m.CaseAdvancesTotal,
		m.CaseUpdateRetries,
		m.CasesCreatedTotal,
		m.CasesClosedTotal,
		m.CasesDeletedTotal,
		m.EvidenceRecordsAdded,
		// Engine gateway
		m.EngineRequestsTotal,
		m.EngineRequestDuration,
		m.EngineCircuitBreakerState,
		// Correlation
		m.CorrelationsTotal,
		m.CorrelationScanDuration,
		m.CorrelationCasesScanned,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordAdvance records an advance attempt outcome for a step.
func (m *Metrics) RecordAdvance(step, outcome string) {
	m.CaseAdvancesTotal.WithLabelValues(step, outcome).Inc()
}

// RecordEngineRequest records one workflow engine call.
func (m *Metrics) RecordEngineRequest(operation, status string, duration time.Duration) {
	m.EngineRequestsTotal.WithLabelValues(operation, status).Inc()
	m.EngineRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordCorrelation records the outcome of one correlation scan.
func (m *Metrics) RecordCorrelation(outcome string, duration time.Duration, casesScanned int) {
	m.CorrelationsTotal.WithLabelValues(outcome).Inc()
	m.CorrelationScanDuration.Observe(duration.Seconds())
	m.CorrelationCasesScanned.Observe(float64(casesScanned))
}
