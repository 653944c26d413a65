package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Store holds the Prometheus metrics collectors.
type Store struct {
	Registry               *prometheus.Registry
	OperationsTotal        *prometheus.CounterVec
	OperationDuration      *prometheus.HistogramVec
	StatementsTotal        *prometheus.CounterVec
	VerificationsTotal     *prometheus.CounterVec
	DifferencesTotal       *prometheus.CounterVec
	OrderingFallbacksTotal *prometheus.CounterVec
	ConnectionErrorsTotal  *prometheus.CounterVec
	RegisteredDataSources  prometheus.Gauge
}

// NewMetricsStore creates and registers Prometheus metrics on a private registry.
func NewMetricsStore() *Store {
	registry := prometheus.NewRegistry()

	return &Store{
		Registry: registry,
		OperationsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dbtester_operations_total",
			Help: "Dataset operations applied, labeled by operation and outcome.",
		}, []string{"operation", "status"}),
		OperationDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dbtester_operation_duration_seconds",
			Help:    "Duration of one dataset operation including its transaction.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"operation"}),
		StatementsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dbtester_statements_total",
			Help: "SQL statements issued by the executor, labeled by table and statement kind.",
		}, []string{"table", "statement"}),
		VerificationsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dbtester_verifications_total",
			Help: "Expected-state verifications, labeled by outcome (passed, failed, error).",
		}, []string{"status"}),
		DifferencesTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dbtester_differences_total",
			Help: "Differences found by the comparator, labeled by table.",
		}, []string{"table"}),
		OrderingFallbacksTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dbtester_ordering_fallbacks_total",
			Help: "Times table ordering fell back, labeled by strategy and reason.",
		}, []string{"strategy", "reason"}),
		ConnectionErrorsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dbtester_connection_errors_total",
			Help: "Failed connection attempts, labeled by data source and reason.",
		}, []string{"data_source", "reason"}),
		RegisteredDataSources: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "dbtester_registered_data_sources",
			Help: "Number of data sources currently registered.",
		}),
	}
}
