// Package metrics holds Prometheus instruments that are used across the
// catalog.  All collectors are registered with the global registry, so
// serving promhttp.Handler() in cmd/catalog is enough to expose them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_scans_total",
			Help: "Scan runs by mode (full, incremental) and final status.",
		}, []string{"mode", "status"})

	TablesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_tables_processed_total",
			Help: "Tables synced into the catalog, by scan mode.",
		}, []string{"mode"})

	ScanErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_scan_errors_total",
			Help: "Per-table scan failures, by scan mode.",
		}, []string{"mode"})

	ScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_scan_duration_seconds",
			Help:    "Wall time of scan runs.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"mode"})

	ChangeDetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_change_detections_total",
			Help: "Change-detection passes, labelled by whether drift was found.",
		}, []string{"changed"})

	FingerprintTables = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "catalog_fingerprint_tables",
			Help: "Tables held in the fingerprint baseline, per database.",
		}, []string{"database"})

	AnnotationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_annotations_total",
			Help: "Column annotations produced, by winning stage (ai, rule, none).",
		}, []string{"source"})

	AnnotationFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_annotation_fallbacks_total",
			Help: "Annotation stage failures that fell through to the next stage.",
		})

	VersionsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_versions_created_total",
			Help: "Version ledger entries appended.",
		})

	SnapshotsCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_snapshots_created_total",
			Help: "Metadata snapshots created.",
		})

	SourcePoolsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_source_pools_open",
			Help: "Source connection pools currently held by the discovery pool.",
		})

	SourcePoolLoadsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_source_pool_loads_total",
			Help: "Source connection pools opened.",
		})

	SourcePoolLoadErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_source_pool_load_errors_total",
			Help: "Source connection pool open failures.",
		})

	SourcePoolEvictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_source_pool_evict_total",
			Help: "Source connection pools evicted (idle or LRU pressure).",
		})
)

func init() {
	prometheus.MustRegister(
		ScansTotal,
		TablesProcessedTotal,
		ScanErrorsTotal,
		ScanDuration,
		ChangeDetectionsTotal,
		FingerprintTables,
		AnnotationsTotal,
		AnnotationFallbacksTotal,
		VersionsCreatedTotal,
		SnapshotsCreatedTotal,
		SourcePoolsOpen,
		SourcePoolLoadsTotal,
		SourcePoolLoadErrorsTotal,
		SourcePoolEvictTotal,
	)
}
