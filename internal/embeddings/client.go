package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vektorlab/passage/internal/circuitbreaker"
	"github.com/vektorlab/passage/internal/metrics"
	"github.com/vektorlab/passage/internal/models"
)

// Client is the batched HTTP client for the embedding model server.
//
// Encode calls are all-or-nothing: a batch that still fails after retries
// fails the whole call; partial embeddings are never returned.
type Client struct {
	cfg     Config
	httpw   *circuitbreaker.HTTPWrapper
	cache   VectorCache
	lru     *localLRU
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewClient creates an embedding client. cache may be nil to skip the shared
// Redis tier.
func NewClient(cfg Config, cache VectorCache, logger *zap.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxLRU == 0 {
		cfg.MaxLRU = 2048
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:     cfg,
		httpw:   circuitbreaker.NewHTTPWrapper(httpClient, "embedder", logger),
		cache:   cache,
		lru:     newLocalLRU(cfg.MaxLRU),
		limiter: limiter,
		logger:  logger,
	}
}

type encodeRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

// Healthy reports whether the model server answers its health probe.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedder health status %d", resp.StatusCode)
	}
	return nil
}

// EncodeDense returns one dense vector per input text, in input order.
func (c *Client) EncodeDense(ctx context.Context, texts []string, model string) ([][]float32, error) {
	if model == "" {
		model = DefaultDenseModel
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var pending []string
	var pendingIdx []int
	for i, t := range texts {
		key := cacheKey(model, t)
		if v, ok := c.lru.Get(ctx, key); ok {
			metrics.CacheHits.WithLabelValues("embedding_lru").Inc()
			results[i] = v
			continue
		}
		if c.cache != nil {
			if v, ok := c.cache.Get(ctx, key); ok {
				c.lru.Set(ctx, key, v, 30*time.Minute)
				results[i] = v
				continue
			}
		}
		pending = append(pending, t)
		pendingIdx = append(pendingIdx, i)
	}
	if len(pending) == 0 {
		return results, nil
	}

	for _, b := range packBatches(pending, MaxBatchSize, MaxWasteRatio) {
		var resp struct {
			Embeddings [][]float32 `json:"embeddings"`
		}
		if err := c.dispatch(ctx, "/embed", KindDense, model, b, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(b.texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(resp.Embeddings), len(b.texts))
		}
		for j, vec := range resp.Embeddings {
			idx := pendingIdx[b.indices[j]]
			results[idx] = vec
			key := cacheKey(model, texts[idx])
			c.lru.Set(ctx, key, vec, 30*time.Minute)
			if c.cache != nil {
				c.cache.Set(ctx, key, vec, c.cfg.CacheTTL)
			}
		}
	}
	return results, nil
}

// EncodeSparse returns one sparse vector per input text, in input order.
func (c *Client) EncodeSparse(ctx context.Context, texts []string, model string) ([]models.SparseVector, error) {
	if len(texts) == 0 {
		return []models.SparseVector{}, nil
	}
	results := make([]models.SparseVector, len(texts))
	for _, b := range packBatches(texts, MaxBatchSize, MaxWasteRatio) {
		var resp struct {
			Embeddings []models.SparseVector `json:"embeddings"`
		}
		if err := c.dispatch(ctx, "/sparse-embed", KindSparse, model, b, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(b.texts) {
			return nil, fmt.Errorf("embedder returned %d sparse vectors for %d texts", len(resp.Embeddings), len(b.texts))
		}
		for j, sv := range resp.Embeddings {
			results[b.indices[j]] = sv
		}
	}
	return results, nil
}

// EncodeLateInteraction returns one token matrix per input text, in input
// order.
func (c *Client) EncodeLateInteraction(ctx context.Context, texts []string, model string) ([][][]float32, error) {
	if len(texts) == 0 {
		return [][][]float32{}, nil
	}
	results := make([][][]float32, len(texts))
	for _, b := range packBatches(texts, MaxBatchSize, MaxWasteRatio) {
		var resp struct {
			Embeddings [][][]float32 `json:"embeddings"`
		}
		if err := c.dispatch(ctx, "/late-interaction-embed", KindLateInteraction, model, b, &resp); err != nil {
			return nil, err
		}
		if len(resp.Embeddings) != len(b.texts) {
			return nil, fmt.Errorf("embedder returned %d matrices for %d texts", len(resp.Embeddings), len(b.texts))
		}
		for j, m := range resp.Embeddings {
			results[b.indices[j]] = m
		}
	}
	return results, nil
}

// dispatch sends one batch with a sticky routing key so the server can pin
// like-sized batches to warm workers, retrying on 5xx and transport resets
// with linear backoff.
func (c *Client) dispatch(ctx context.Context, path string, kind Kind, model string, b batch, out any) error {
	payload, err := json.Marshal(encodeRequest{Texts: b.texts, Model: model})
	if err != nil {
		return err
	}
	routingKey := model + ":" + uuid.New().String()
	metrics.EmbeddingBatchSize.Observe(float64(len(b.texts)))
	metrics.EmbeddingBatchWaste.Observe(b.wasteRatio())

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(c.cfg.RetryBackoff * time.Duration(attempt-1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		start := time.Now()
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Routing-Key", routingKey)

		resp, err := c.httpw.Do(req)
		if err != nil {
			metrics.EmbeddingRequests.WithLabelValues(model, string(kind), "error").Inc()
			lastErr = err
			c.logger.Warn("Embedding request failed",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		func() {
			defer resp.Body.Close()
			if resp.StatusCode >= 500 {
				lastErr = fmt.Errorf("embedder status %d", resp.StatusCode)
				metrics.EmbeddingRequests.WithLabelValues(model, string(kind), "error").Inc()
				return
			}
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				lastErr = fmt.Errorf("embedder status %d: %s", resp.StatusCode, body)
				return
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				lastErr = fmt.Errorf("decode embeddings: %w", err)
				return
			}
			lastErr = nil
		}()
		if lastErr == nil {
			metrics.EmbeddingRequests.WithLabelValues(model, string(kind), "ok").Inc()
			metrics.EmbeddingLatency.WithLabelValues(model, string(kind)).Observe(time.Since(start).Seconds())
			return nil
		}
		// 4xx is not retryable
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return lastErr
		}
	}
	return fmt.Errorf("embedding batch failed after %d attempts: %w", c.cfg.MaxRetries, lastErr)
}
