// Package embeddings talks to the embedding model server over HTTP and
// shields callers from batching, caching and retry concerns.
package embeddings

import "time"

// Kind discriminates the three encoder families the model server exposes.
type Kind string

const (
	KindDense           Kind = "dense"
	KindSparse          Kind = "sparse"
	KindLateInteraction Kind = "late_interaction"
)

// Config controls the embedding client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	CacheTTL     time.Duration
	MaxLRU       int
	MaxRetries   int
	RetryBackoff time.Duration
	// RateLimit is requests per second to the model server; 0 disables pacing.
	RateLimit float64
}

// Batching limits. A batch closes when adding the next text would push it
// past MaxBatchSize or its padding waste past MaxWasteRatio.
const (
	MaxBatchSize  = 50
	MaxWasteRatio = 0.10
)
