package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline-level metrics. Stages label their outcome so dashboards can tell a
// stalled pipeline (retries climbing) from a dead one (errors climbing).
var (
	StageDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpora",
			Name:      "pipeline_documents_total",
			Help:      "Documents processed per pipeline stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "corpora",
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Wall time of a single document stage execution",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"stage"},
	)

	SemanticBlocksDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corpora",
			Name:      "chunker_semantic_blocks_dropped_total",
			Help:      "Semantic segmentation blocks dropped due to malformed model output",
		},
	)

	ChunkEmbeddingFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "corpora",
			Name:      "embedder_chunk_failures_total",
			Help:      "Individual chunk embedding persistence failures (retryable)",
		},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "corpora",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache lookups by result (hit/miss)",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		StageDocumentsTotal,
		StageDuration,
		SemanticBlocksDropped,
		ChunkEmbeddingFailures,
		EmbeddingCacheTotal,
	)
}
