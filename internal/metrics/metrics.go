// Package metrics centralizes Prometheus collectors for the pipeline,
// query path and workers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Embedding client
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_embedding_requests_total",
			Help: "Embedding server requests by model, kind and status",
		},
		[]string{"model", "kind", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "passage_embedding_request_duration_seconds",
			Help:    "Embedding server request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "kind"},
	)

	EmbeddingBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "passage_embedding_batch_size",
			Help:    "Texts per dispatched embedding batch",
			Buckets: []float64{1, 2, 5, 10, 20, 35, 50},
		},
	)

	EmbeddingBatchWaste = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "passage_embedding_batch_waste_ratio",
			Help:    "Padding waste ratio of dispatched embedding batches",
			Buckets: []float64{0.01, 0.02, 0.05, 0.1, 0.2, 0.5},
		},
	)

	// Vector store
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_vector_searches_total",
			Help: "Vector store queries by collection, mode and status",
		},
		[]string{"collection", "mode", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "passage_vector_search_duration_seconds",
			Help:    "Vector store query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection", "mode"},
	)

	VectorUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_vector_upserts_total",
			Help: "Points upserted into the vector store",
		},
		[]string{"collection", "status"},
	)

	// Broker / workers
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_events_published_total",
			Help: "Events published per queue",
		},
		[]string{"queue", "status"},
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_events_consumed_total",
			Help: "Events consumed per queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_events_dead_lettered_total",
			Help: "Events routed to a dead-letter queue",
		},
		[]string{"queue"},
	)

	ResourcesIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_resources_ingested_total",
			Help: "Resources completing an ingestion stage",
		},
		[]string{"stage", "status"},
	)

	ChunksPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_chunks_persisted_total",
			Help: "Chunks written by persist workers per backend",
		},
		[]string{"backend", "status"},
	)

	// Query engine
	QueriesServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_queries_served_total",
			Help: "Search queries served by mode and status",
		},
		[]string{"mode", "status"},
	)

	QueryLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "passage_query_duration_seconds",
			Help:    "End-to-end search latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	FeedbackFusionApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "passage_feedback_fusion_applied_total",
			Help: "Queries whose results were re-scored with stored feedback",
		},
	)

	// Feedback / adapter
	FeedbackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_feedback_events_total",
			Help: "Feedback votes processed by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	AdapterTrainings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_adapter_trainings_total",
			Help: "Adapter training passes per collection outcome",
		},
		[]string{"status"},
	)

	AdapterTransformFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "passage_adapter_transform_fallbacks_total",
			Help: "Query vectors served untransformed after an adapter error",
		},
	)

	// Caches
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_cache_hits_total",
			Help: "Cache hits per cache tier",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "passage_cache_misses_total",
			Help: "Cache misses per cache tier",
		},
		[]string{"cache"},
	)
)
