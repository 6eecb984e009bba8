package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var itemsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wdf_indexer_items_total",
	Help: "counter of crawler items run through the pipeline, by action",
}, []string{"action"})

var chunkDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "wdf_indexer_chunk_duration_seconds",
	Help:    "histogram of per-chunk processing durations",
	Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
})

var maxRSSMegabytesGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "wdf_indexer_max_rss_megabytes",
	Help: "peak resident set size of the process, sampled per chunk",
})
