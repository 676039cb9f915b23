// Package metrics provides Prometheus instrumentation for the storage engine
// and the backup runner. Collection is opt-in: until Init is called every
// recording function is a no-op with zero overhead.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry

	chunksUploaded   prometheus.Counter
	chunksDownloaded prometheus.Counter
	bytesUploaded    prometheus.Counter
	bytesDownloaded  prometheus.Counter
	blobRetries      prometheus.Counter
	uploadDuration   prometheus.Histogram

	taskRuns     *prometheus.CounterVec
	taskDuration prometheus.Histogram

	reconcilerDeleted prometheus.Counter
)

// Init creates the registry and registers every metric family. Safe to call
// once; subsequent calls are ignored.
func Init() {
	mu.Lock()
	defer mu.Unlock()
	if registry != nil {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	chunksUploaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ddrive", Subsystem: "chunks", Name: "uploaded_total",
		Help: "Chunks uploaded to the blob substrate.",
	})
	chunksDownloaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ddrive", Subsystem: "chunks", Name: "downloaded_total",
		Help: "Chunks downloaded from the blob substrate.",
	})
	bytesUploaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ddrive", Subsystem: "chunks", Name: "uploaded_bytes_total",
		Help: "Plaintext bytes uploaded.",
	})
	bytesDownloaded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ddrive", Subsystem: "chunks", Name: "downloaded_bytes_total",
		Help: "Plaintext bytes downloaded.",
	})
	blobRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ddrive", Subsystem: "blob", Name: "retries_total",
		Help: "Blob operations retried after transient failures or rate limits.",
	})
	uploadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ddrive", Subsystem: "chunks", Name: "upload_duration_seconds",
		Help:    "Per-chunk upload latency.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	taskRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ddrive", Subsystem: "tasks", Name: "runs_total",
		Help: "Backup task runs by outcome.",
	}, []string{"outcome"})
	taskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ddrive", Subsystem: "tasks", Name: "run_duration_seconds",
		Help:    "Backup task run duration.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})

	reconcilerDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ddrive", Subsystem: "reconciler", Name: "deleted_total",
		Help: "Orphaned substrate messages deleted by the reconciler.",
	})

	registry.MustRegister(
		chunksUploaded, chunksDownloaded, bytesUploaded, bytesDownloaded,
		blobRetries, uploadDuration, taskRuns, taskDuration, reconcilerDeleted,
	)
}

// Registry returns the metrics registry, or nil when metrics are disabled.
func Registry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// IsEnabled reports whether Init has been called.
func IsEnabled() bool {
	return Registry() != nil
}

// ObserveChunkUpload records one uploaded chunk of the given plaintext size.
func ObserveChunkUpload(plainBytes int, d time.Duration) {
	if !IsEnabled() {
		return
	}
	chunksUploaded.Inc()
	bytesUploaded.Add(float64(plainBytes))
	uploadDuration.Observe(d.Seconds())
}

// ObserveChunkDownload records one downloaded chunk.
func ObserveChunkDownload(plainBytes int) {
	if !IsEnabled() {
		return
	}
	chunksDownloaded.Inc()
	bytesDownloaded.Add(float64(plainBytes))
}

// ObserveBlobRetry records a retried blob operation.
func ObserveBlobRetry() {
	if IsEnabled() {
		blobRetries.Inc()
	}
}

// ObserveTaskRun records a finished task run. Outcome is one of
// "success", "failed", "cancelled".
func ObserveTaskRun(outcome string, d time.Duration) {
	if !IsEnabled() {
		return
	}
	taskRuns.WithLabelValues(outcome).Inc()
	taskDuration.Observe(d.Seconds())
}

// ObserveReconcilerDelete records orphaned messages deleted in a sweep.
func ObserveReconcilerDelete(n int) {
	if IsEnabled() {
		reconcilerDeleted.Add(float64(n))
	}
}
