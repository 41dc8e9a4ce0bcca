package vectordb

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/vektorlab/passage/internal/metrics"
	"github.com/vektorlab/passage/internal/models"
)

// denseParams are the HNSW search parameters used for every dense query.
// indexed_only keeps un-indexed fresh segments out of the scan so ingestion
// bursts cannot degrade query latency.
var denseParams = map[string]any{
	"hnsw_ef":      128,
	"indexed_only": true,
	"exact":        false,
}

type queryResponse struct {
	Result struct {
		Points []rawPoint `json:"points"`
	} `json:"result"`
}

func (c *Client) runQuery(ctx context.Context, collection, mode string, body map[string]any) ([]ScoredPoint, error) {
	start := time.Now()
	var resp queryResponse
	err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/query", body, &resp)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.VectorSearches.WithLabelValues(collection, mode, status).Inc()
	metrics.VectorSearchLatency.WithLabelValues(collection, mode).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	out := make([]ScoredPoint, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		out = append(out, p.scored())
	}
	return out, nil
}

// Query runs a dense nearest-neighbour search.
func (c *Client) Query(ctx context.Context, collection string, dense []float32, limit int, f Filter, withVectors bool) ([]ScoredPoint, error) {
	body := map[string]any{
		"query":        dense,
		"using":        VectorDense,
		"limit":        limit,
		"params":       denseParams,
		"with_payload": true,
	}
	if f != nil {
		body["filter"] = f
	}
	if withVectors {
		body["with_vector"] = []string{VectorDense}
	}
	return c.runQuery(ctx, collection, "dense", body)
}

// HybridQuery prefetches dense and sparse candidate lists, each at twice the
// requested limit, and fuses them server-side with Reciprocal Rank Fusion.
func (c *Client) HybridQuery(ctx context.Context, collection string, dense []float32, sparse models.SparseVector, limit int, f Filter) ([]ScoredPoint, error) {
	prefetchLimit := limit * 2
	densePrefetch := map[string]any{
		"query":  dense,
		"using":  VectorDense,
		"limit":  prefetchLimit,
		"params": denseParams,
	}
	sparsePrefetch := map[string]any{
		"query": map[string]any{
			"indices": sparse.Indices,
			"values":  sparse.Values,
		},
		"using": VectorSparse,
		"limit": prefetchLimit,
	}
	if f != nil {
		densePrefetch["filter"] = f
		sparsePrefetch["filter"] = f
	}
	body := map[string]any{
		"prefetch":     []map[string]any{densePrefetch, sparsePrefetch},
		"query":        map[string]any{"fusion": "rrf"},
		"limit":        limit,
		"with_payload": true,
	}
	return c.runQuery(ctx, collection, "hybrid", body)
}

// Rerank rescores an explicit candidate set with the multi-vector rerank
// space, which applies the max_sim comparator between the query token matrix
// and each stored chunk matrix.
func (c *Client) Rerank(ctx context.Context, collection string, matrix [][]float32, candidateIDs []string, limit int) ([]ScoredPoint, error) {
	body := map[string]any{
		"query":        matrix,
		"using":        VectorRerank,
		"limit":        limit,
		"filter":       IDFilter(candidateIDs),
		"with_payload": true,
	}
	return c.runQuery(ctx, collection, "rerank", body)
}

// FuseRRF merges ranked lists client-side with Reciprocal Rank Fusion,
// score(d) = sum over lists of 1/(RRFK + rank). Used where server-side fusion
// is unavailable, and by tests as the reference implementation.
func FuseRRF(lists ...[]ScoredPoint) []ScoredPoint {
	type acc struct {
		point ScoredPoint
		score float64
	}
	fused := make(map[string]*acc)
	for _, list := range lists {
		for rank, p := range list {
			a, ok := fused[p.ID]
			if !ok {
				a = &acc{point: p}
				fused[p.ID] = a
			}
			a.score += 1.0 / float64(RRFK+rank+1)
		}
	}
	out := make([]ScoredPoint, 0, len(fused))
	for _, a := range fused {
		p := a.point
		p.Score = a.score
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
