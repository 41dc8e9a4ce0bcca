package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/circuitbreaker"
	"github.com/vektorlab/passage/internal/metrics"
	"github.com/vektorlab/passage/internal/models"
)

// Client talks to one Qdrant endpoint over its HTTP API.
type Client struct {
	cfg   Config
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewClient builds a Qdrant client. name labels the circuit breaker, which
// matters when several regional endpoints are wired at once.
func NewClient(cfg Config, name string, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if name == "" {
		name = "qdrant"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:   cfg,
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, name, logger),
		log:   logger,
	}
}

// do sends one JSON request and decodes the response envelope into out when
// out is non-nil. Non-2xx statuses become errors carrying the body.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("api-key", c.cfg.APIKey)
	}
	resp, err := c.httpw.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("qdrant %s %s: decode: %w", method, path, err)
		}
	}
	return nil
}

// EnsureCollection creates a collection with named vector spaces sized for
// its first point, plus a keyword payload index on ownerId. rerankDim > 0
// adds a multi-vector rerank space. Existing collections are left untouched.
func (c *Client) EnsureCollection(ctx context.Context, name string, denseDim, rerankDim int, withSparse bool) error {
	exists, err := c.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	vectors := map[string]any{
		VectorDense: map[string]any{"size": denseDim, "distance": "Cosine"},
	}
	if rerankDim > 0 {
		vectors[VectorRerank] = map[string]any{
			"size":     rerankDim,
			"distance": "Cosine",
			"multivector_config": map[string]any{
				"comparator": "max_sim",
			},
		}
	}
	body := map[string]any{"vectors": vectors}
	if withSparse {
		body["sparse_vectors"] = map[string]any{
			VectorSparse: map[string]any{},
		}
	}
	if err := c.do(ctx, http.MethodPut, "/collections/"+name, body, nil); err != nil {
		return err
	}

	idx := map[string]any{"field_name": "ownerId", "field_schema": "keyword"}
	if err := c.do(ctx, http.MethodPut, "/collections/"+name+"/index?wait=true", idx, nil); err != nil {
		c.log.Warn("Payload index creation failed", zap.String("collection", name), zap.Error(err))
	}
	return nil
}

// CollectionExists reports whether a collection is present.
func (c *Client) CollectionExists(ctx context.Context, name string) (bool, error) {
	var resp struct {
		Result struct {
			Exists bool `json:"exists"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/collections/"+name+"/exists", nil, &resp); err != nil {
		return false, err
	}
	return resp.Result.Exists, nil
}

// DeleteCollection drops a collection and all its points.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/collections/"+name, nil, nil)
}

// Upsert writes points with their named vectors and payload. Same id
// overwrites in place, which is what makes content addressing idempotent.
func (c *Client) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	wire := make([]map[string]any, 0, len(points))
	for _, p := range points {
		vectors := map[string]any{}
		if p.Dense != nil {
			vectors[VectorDense] = p.Dense
		}
		if p.Sparse != nil {
			vectors[VectorSparse] = map[string]any{
				"indices": p.Sparse.Indices,
				"values":  p.Sparse.Values,
			}
		}
		if p.Rerank != nil {
			vectors[VectorRerank] = p.Rerank
		}
		wire = append(wire, map[string]any{
			"id":      p.ID,
			"vector":  vectors,
			"payload": p.Payload,
		})
	}
	err := c.do(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", map[string]any{"points": wire}, nil)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.VectorUpserts.WithLabelValues(collection, status).Add(float64(len(points)))
	return err
}

// Retrieve fetches points by id, optionally with their dense vectors.
func (c *Client) Retrieve(ctx context.Context, collection string, ids []string, withVectors bool) ([]ScoredPoint, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	body := map[string]any{
		"ids":          ids,
		"with_payload": true,
	}
	if withVectors {
		body["with_vector"] = []string{VectorDense}
	}
	var resp struct {
		Result []rawPoint `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/collections/"+collection+"/points", body, &resp); err != nil {
		return nil, err
	}
	out := make([]ScoredPoint, 0, len(resp.Result))
	for _, r := range resp.Result {
		out = append(out, r.scored())
	}
	return out, nil
}

// DeleteByFilter removes every point matching the filter.
func (c *Client) DeleteByFilter(ctx context.Context, collection string, f Filter) error {
	return c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", map[string]any{"filter": f}, nil)
}

// DeletePoints removes an explicit id set.
func (c *Client) DeletePoints(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", map[string]any{"points": ids}, nil)
}

// Healthy reports whether the endpoint answers its readiness probe.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/readyz", nil, nil)
}

// rawPoint is the wire shape of a returned point.
type rawPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  any            `json:"vector,omitempty"`
}

func (r rawPoint) scored() ScoredPoint {
	sp := ScoredPoint{ID: fmt.Sprintf("%v", r.ID), Score: r.Score, Payload: r.Payload}
	if m, ok := r.Vector.(map[string]any); ok {
		if dv, ok := m[VectorDense].([]any); ok {
			sp.Dense = make([]float32, len(dv))
			for i, x := range dv {
				if f, ok := x.(float64); ok {
					sp.Dense[i] = float32(f)
				}
			}
		}
	}
	return sp
}

// PointPayload builds the standard payload for a chunk point.
func PointPayload(ch models.Chunk) map[string]any {
	payload := map[string]any{
		"resourceId":   ch.ResourceID,
		"collectionId": ch.CollectionID,
		"ownerId":      ch.OwnerID,
		"content":      ch.Data,
	}
	if ch.VectorSource != "" {
		payload["vectorSource"] = ch.VectorSource
	}
	if len(ch.Metadata) > 0 {
		payload["metadata"] = ch.Metadata
	}
	return payload
}
