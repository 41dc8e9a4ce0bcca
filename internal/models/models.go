// Package models defines the core domain types shared across the ingestion
// pipeline, query engine and workers.
package models

import (
	"time"
)

// ChunkStrategy selects how a resource is split into chunks.
type ChunkStrategy string

const (
	StrategyRecursive ChunkStrategy = "recursive"
	StrategySemantic  ChunkStrategy = "semantic"
	StrategyAgentic   ChunkStrategy = "agentic"
	StrategyCustom    ChunkStrategy = "custom"
)

// DefaultOwnerID scopes resources that carry no explicit owner.
const DefaultOwnerID = "public"

// CollectionSettings governs how a collection indexes its resources.
// Only the chunking parameters are mutable after creation.
type CollectionSettings struct {
	DenseModel    string        `json:"denseModel" db:"dense_model"`
	SparseModel   string        `json:"sparseModel,omitempty" db:"sparse_model"`
	RerankerModel string        `json:"rerankerModel,omitempty" db:"reranker_model"`
	ChunkSize     int           `json:"chunkSize" db:"chunk_size"`
	ChunkOverlap  int           `json:"chunkOverlap" db:"chunk_overlap"`
	Strategy      ChunkStrategy `json:"strategy" db:"strategy"`
	ChunkingURL   string        `json:"chunkingUrl,omitempty" db:"chunking_url"`
	KeepDuplicate bool          `json:"keepDuplicate" db:"keep_duplicate"`
}

// MaxChunkSize is the upper bound accepted for CollectionSettings.ChunkSize.
const MaxChunkSize = 4000

// Collection is a named logical grouping of resources with shared
// embedding and chunking settings.
type Collection struct {
	ID          string             `json:"id" db:"id"`
	Name        string             `json:"name" db:"name"`
	Description string             `json:"description,omitempty" db:"description"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
	Settings    CollectionSettings `json:"settings"`
	CreatedAt   time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time          `json:"updatedAt" db:"updated_at"`
}

// ResourceStatus tracks the lifecycle of a resource through the pipeline.
type ResourceStatus string

const (
	StatusLoaded  ResourceStatus = "loaded"
	StatusChunked ResourceStatus = "chunked"
	StatusDeleted ResourceStatus = "deleted"
	StatusError   ResourceStatus = "error"
)

// ChunkOverrides optionally overrides collection chunking settings for a
// single resource.
type ChunkOverrides struct {
	ChunkSize    int           `json:"chunkSize,omitempty"`
	ChunkOverlap int           `json:"chunkOverlap,omitempty"`
	Strategy     ChunkStrategy `json:"strategy,omitempty"`
}

// Resource is a source document owned by a collection.
type Resource struct {
	ID           string          `json:"id" db:"id"`
	CollectionID string          `json:"collectionId" db:"collection_id"`
	OwnerID      string          `json:"ownerId" db:"owner_id"`
	Title        string          `json:"title,omitempty" db:"title"`
	URL          string          `json:"url,omitempty" db:"url"`
	Content      string          `json:"content,omitempty" db:"content"`
	ContentHash  string          `json:"-" db:"content_hash"`
	Description  string          `json:"description,omitempty" db:"description"`
	Metadata     map[string]any  `json:"metadata,omitempty"`
	Overrides    *ChunkOverrides `json:"chunkOverrides,omitempty"`
	Status       ResourceStatus  `json:"status,omitempty" db:"status"`
	StatusMsg    string          `json:"statusMessage,omitempty" db:"status_message"`
	RefreshedAt  time.Time       `json:"refreshedAt" db:"refreshed_at"`
	IsDeleted    bool            `json:"isDeleted" db:"is_deleted"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time       `json:"updatedAt" db:"updated_at"`
}

// SparseVector is an (indices, values) bag-of-terms representation.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float32 `json:"values"`
}

// Chunk is a retrieval-sized passage of a resource. VectorSource, when set,
// is the text that was actually embedded in place of Data.
type Chunk struct {
	ID           string         `json:"id"`
	Data         string         `json:"data"`
	VectorSource string         `json:"vectorSource,omitempty"`
	ResourceID   string         `json:"resourceId"`
	CollectionID string         `json:"collectionId"`
	OwnerID      string         `json:"ownerId"`
	Vector       []float32      `json:"vector,omitempty"`
	SparseVector *SparseVector  `json:"sparseVector,omitempty"`
	RerankVector [][]float32    `json:"rerankVector,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EmbedText returns the text to embed for this chunk.
func (c *Chunk) EmbedText() string {
	if c.VectorSource != "" {
		return c.VectorSource
	}
	return c.Data
}

// FeedbackHit records the vote balance for one chunk under a feedback doc.
type FeedbackHit struct {
	ResourceID string `json:"resourceId"`
	Count      int    `json:"count"`
}

// FeedbackDoc aggregates per-chunk vote counts for a representative query.
// Hits is persisted as a JSON object keyed by chunk id.
type FeedbackDoc struct {
	ID           string                 `json:"id" db:"id"`
	Query        string                 `json:"query" db:"query"`
	CollectionID string                 `json:"collectionId" db:"collection_id"`
	OwnerID      string                 `json:"ownerId" db:"owner_id"`
	Hits         map[string]FeedbackHit `json:"hits"`
	CreatedAt    time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time              `json:"updatedAt" db:"updated_at"`
}

// EvalTestCase is a labelled retrieval case for offline evaluation.
type EvalTestCase struct {
	ID             string    `json:"id" db:"id"`
	CollectionID   string    `json:"collectionId" db:"collection_id"`
	OwnerID        string    `json:"ownerId" db:"owner_id"`
	Query          string    `json:"query" db:"query"`
	ExpectedChunks []string  `json:"expectedChunkIds"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

// EvalCaseResult is the outcome of running one test case.
type EvalCaseResult struct {
	CaseID         string   `json:"caseId"`
	Query          string   `json:"query"`
	Hit            bool     `json:"hit"`
	Recall         float64  `json:"recall"`
	ReciprocalRank float64  `json:"reciprocalRank"`
	Retrieved      []string `json:"retrievedChunkIds"`
}

// EvalRun is a snapshot of metrics produced by running the query engine
// against every test case of a collection.
type EvalRun struct {
	ID              string           `json:"id" db:"id"`
	CollectionID    string           `json:"collectionId" db:"collection_id"`
	OwnerID         string           `json:"ownerId" db:"owner_id"`
	TotalCases      int              `json:"totalCases" db:"total_cases"`
	HitCount        int              `json:"hitCount" db:"hit_count"`
	OverallAccuracy float64          `json:"overallAccuracy" db:"overall_accuracy"`
	AverageRecall   float64          `json:"averageRecall" db:"average_recall"`
	MRR             float64          `json:"mrr" db:"mrr"`
	Results         []EvalCaseResult `json:"results"`
	FailedCases     []EvalCaseResult `json:"failedCases"`
	CreatedAt       time.Time        `json:"createdAt" db:"created_at"`
}

// AnalyticsEvent captures one served query for offline analysis.
type AnalyticsEvent struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collectionId"`
	OwnerID      string    `json:"ownerId"`
	Query        string    `json:"query"`
	DurationMS   int64     `json:"rt_ms"`
	Timestamp    time.Time `json:"ts"`
}
