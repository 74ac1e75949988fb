package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ColumnsAnalyzed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapsmith_columns_analyzed_total",
			Help: "Total columns analyzed, by detected data type",
		},
		[]string{"detected_type"},
	)

	AnalysisConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mapsmith_analysis_confidence",
			Help:    "Confidence of column type detections",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	CorrectionsStored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mapsmith_corrections_stored_total",
			Help: "Total mapping corrections stored",
		},
	)

	BoostsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapsmith_boosts_applied_total",
			Help: "Learned boost applications, by outcome",
		},
		[]string{"outcome"},
	)

	CustomFieldsDiscovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mapsmith_custom_fields_discovered_total",
			Help: "Total new custom field definitions created",
		},
	)

	AliasesRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mapsmith_custom_field_aliases_total",
			Help: "Total new header aliases recorded for existing custom fields",
		},
	)

	StorageFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapsmith_storage_failures_total",
			Help: "Swallowed persistence failures, by operation",
		},
		[]string{"operation"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapsmith_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapsmith_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ImportBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapsmith_import_batches_total",
			Help: "Import batches processed, by final status",
		},
		[]string{"status"},
	)
)

func Init() {
	prometheus.MustRegister(ColumnsAnalyzed)
	prometheus.MustRegister(AnalysisConfidence)
	prometheus.MustRegister(CorrectionsStored)
	prometheus.MustRegister(BoostsApplied)
	prometheus.MustRegister(CustomFieldsDiscovered)
	prometheus.MustRegister(AliasesRecorded)
	prometheus.MustRegister(StorageFailures)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ImportBatches)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
