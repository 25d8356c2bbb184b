package stats

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const (
	metricPrefix = "icms_"

	resultSuccess  = "success"
	resultError    = "error"
	resultRateMiss = "rate_miss"
	resultInvalid  = "invalid"
)

var (
	registerOnce sync.Once

	calculationsTotal   *prometheus.CounterVec
	calculationLatency  *prometheus.HistogramVec
	calculationMonths   prometheus.Histogram
	indemnificationSum  prometheus.Counter
	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec
)

// Init registers the metrics with the default Prometheus registry. Safe to
// call more than once.
func Init() {
	registerOnce.Do(func() {
		calculationsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "calculations_total",
				Help: "Total calculations by result",
			},
			[]string{"result"},
		)
		calculationLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "calculation_latency_seconds",
				Help:    "Calculation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		calculationMonths = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "calculation_eligible_months",
				Help:    "Eligible months per successful calculation",
				Buckets: prometheus.LinearBuckets(0, 6, 10),
			},
		)
		indemnificationSum = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "indemnification_brl_total",
				Help: "Sum of final indemnification amounts in BRL",
			},
		)
		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			calculationsTotal,
			calculationLatency,
			calculationMonths,
			indemnificationSum,
			reportExportTotal,
			reportExportLatency,
		)
	})
}

// ObserveCalculation records a calculation outcome. months is only
// observed on success.
func ObserveCalculation(result string, months int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if calculationsTotal != nil {
		calculationsTotal.WithLabelValues(result).Inc()
	}
	if calculationLatency != nil {
		calculationLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if result == resultSuccess && calculationMonths != nil {
		calculationMonths.Observe(float64(months))
	}
}

// AddIndemnification adds a final amount to the running BRL counter.
func AddIndemnification(amount decimal.Decimal) {
	if indemnificationSum == nil || amount.IsNegative() {
		return
	}
	f, _ := amount.Float64()
	indemnificationSum.Add(f)
}

// ObserveReportExport records report export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess  = resultSuccess
	ResultError    = resultError
	ResultRateMiss = resultRateMiss
	ResultInvalid  = resultInvalid
)
