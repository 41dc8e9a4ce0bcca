// Package vectordb is a minimal Qdrant HTTP client covering the surface the
// indexing and query paths need: named dense/sparse/rerank vectors, payload
// filtered queries, server-side hybrid fusion and multi-vector reranking.
package vectordb

import (
	"time"

	"github.com/vektorlab/passage/internal/models"
)

// Config holds connection settings for one Qdrant endpoint.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Names of the per-point vectors. Every collection carries dense; sparse and
// rerank exist only when the owning collection configures those models.
const (
	VectorDense  = "dense"
	VectorSparse = "sparse"
	VectorRerank = "rerank"
)

// RRFK is the Reciprocal Rank Fusion constant used for hybrid fusion, both
// server-side and in the client-side fallback.
const RRFK = 60

// FeedbackCollection names the side index holding feedback query vectors
// for one chunk collection.
func FeedbackCollection(collectionID string) string {
	return "feedback_" + collectionID
}

// Point is one upsertable point.
type Point struct {
	ID      string
	Dense   []float32
	Sparse  *models.SparseVector
	Rerank  [][]float32
	Payload map[string]any
}

// ScoredPoint is one query result.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]any
	Dense   []float32
}

// Filter is a Qdrant payload filter in wire form.
type Filter map[string]any

// OwnerFilter restricts matches to one owner, optionally to one resource.
func OwnerFilter(ownerID, resourceID string) Filter {
	if ownerID == "" {
		ownerID = models.DefaultOwnerID
	}
	must := []map[string]any{
		{"key": "ownerId", "match": map[string]any{"value": ownerID}},
	}
	if resourceID != "" {
		must = append(must, map[string]any{"key": "resourceId", "match": map[string]any{"value": resourceID}})
	}
	return Filter{"must": must}
}

// ResourceFilter matches every point of one resource regardless of owner.
func ResourceFilter(resourceID string) Filter {
	return Filter{"must": []map[string]any{
		{"key": "resourceId", "match": map[string]any{"value": resourceID}},
	}}
}

// IDFilter matches an explicit id set. Used to rerank a candidate list.
func IDFilter(ids []string) Filter {
	return Filter{"must": []map[string]any{{"has_id": ids}}}
}
