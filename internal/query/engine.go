// Package query serves ranked passage lookups: hybrid retrieval, optional
// late-interaction reranking and feedback fusion over stored vote history.
package query

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vektorlab/passage/internal/broker"
	"github.com/vektorlab/passage/internal/cache"
	"github.com/vektorlab/passage/internal/metrics"
	"github.com/vektorlab/passage/internal/models"
	"github.com/vektorlab/passage/internal/store"
	"github.com/vektorlab/passage/internal/vectordb"
)

const (
	// DefaultTopK is returned when the caller does not size the result.
	DefaultTopK = 5

	// candidateLimit is how many candidates the first retrieval stage pulls
	// before reranking and fusion narrow them down.
	candidateLimit = 50

	// feedback fusion bounds: at most feedbackQueries prior queries, each
	// required to be closer than feedbackMinSim to the current query.
	feedbackQueries = 5
	feedbackMinSim  = 0.85
)

// Request is one search call.
type Request struct {
	Query        string `json:"query"`
	CollectionID string `json:"collectionId"`
	OwnerID      string `json:"ownerId,omitempty"`
	ResourceID   string `json:"resourceId,omitempty"`
	TopK         int    `json:"topK,omitempty"`
	UseFeedback  bool   `json:"useFeedback,omitempty"`
	Analytics    bool   `json:"analytics,omitempty"`
}

// Result is one ranked passage.
type Result struct {
	ChunkID    string         `json:"chunkId"`
	ResourceID string         `json:"resourceId"`
	Content    string         `json:"content"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Response is the ranked result list with timing.
type Response struct {
	Results []Result `json:"results"`
	TookMS  int64    `json:"tookMs"`
}

// Transformer is the slice of the adapter service the engine needs.
type Transformer interface {
	TrainingCount(ctx context.Context, collectionID string) int
	Transform(ctx context.Context, collectionID string, q []float32) ([]float32, error)
}

// Encoder is the slice of the embedding client the engine needs.
type Encoder interface {
	EncodeDense(ctx context.Context, texts []string, model string) ([][]float32, error)
	EncodeSparse(ctx context.Context, texts []string, model string) ([]models.SparseVector, error)
	EncodeLateInteraction(ctx context.Context, texts []string, model string) ([][][]float32, error)
}

// Engine answers search requests against one vector region.
type Engine struct {
	db       *store.Store
	kv       *cache.Cache
	vdb      *vectordb.Client
	encoder  Encoder
	adapters Transformer
	bus      *broker.Broker
	log      *zap.Logger
}

// NewEngine wires the query path. kv, adapters and bus may be nil; the
// corresponding step is skipped.
func NewEngine(db *store.Store, kv *cache.Cache, vdb *vectordb.Client, encoder Encoder, adapters Transformer, bus *broker.Broker, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: db, kv: kv, vdb: vdb, encoder: encoder, adapters: adapters, bus: bus, log: logger}
}

// Collection resolves collection settings, cache first.
func (e *Engine) Collection(ctx context.Context, id string) (models.Collection, error) {
	if e.kv != nil {
		if col, ok := e.kv.GetCollection(ctx, id); ok {
			return col, nil
		}
	}
	col, err := e.db.GetCollection(ctx, id)
	if err != nil {
		return models.Collection{}, err
	}
	if e.kv != nil {
		e.kv.SetCollection(ctx, col)
	}
	return col, nil
}

// Search runs the full pipeline for one request.
func (e *Engine) Search(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	if req.TopK <= 0 {
		req.TopK = DefaultTopK
	}
	if req.OwnerID == "" {
		req.OwnerID = models.DefaultOwnerID
	}

	col, err := e.Collection(ctx, req.CollectionID)
	if err != nil {
		metrics.QueriesServed.WithLabelValues("dense", "error").Inc()
		return Response{}, err
	}
	settings := col.Settings

	// dense, sparse and late-interaction embeds run concurrently
	var (
		denseVec  []float32
		sparseVec *models.SparseVector
		rerankMat [][]float32
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecs, err := e.encoder.EncodeDense(gctx, []string{req.Query}, settings.DenseModel)
		if err != nil {
			return fmt.Errorf("embed query: %w", err)
		}
		denseVec = vecs[0]
		return nil
	})
	if settings.SparseModel != "" {
		g.Go(func() error {
			vecs, err := e.encoder.EncodeSparse(gctx, []string{req.Query}, settings.SparseModel)
			if err != nil {
				return fmt.Errorf("sparse embed query: %w", err)
			}
			sparseVec = &vecs[0]
			return nil
		})
	}
	if settings.RerankerModel != "" {
		g.Go(func() error {
			mats, err := e.encoder.EncodeLateInteraction(gctx, []string{req.Query}, settings.RerankerModel)
			if err != nil {
				return fmt.Errorf("rerank embed query: %w", err)
			}
			rerankMat = mats[0]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.QueriesServed.WithLabelValues(mode(sparseVec, rerankMat), "error").Inc()
		return Response{}, err
	}

	searchVec := e.applyAdapter(ctx, req.CollectionID, denseVec)
	filter := vectordb.OwnerFilter(req.OwnerID, req.ResourceID)

	var candidates []vectordb.ScoredPoint
	if sparseVec != nil {
		candidates, err = e.vdb.HybridQuery(ctx, req.CollectionID, searchVec, *sparseVec, candidateLimit, filter)
	} else {
		candidates, err = e.vdb.Query(ctx, req.CollectionID, searchVec, candidateLimit, filter, false)
	}
	if err != nil {
		metrics.QueriesServed.WithLabelValues(mode(sparseVec, rerankMat), "error").Inc()
		return Response{}, fmt.Errorf("retrieve candidates: %w", err)
	}

	if rerankMat != nil && len(candidates) > 0 {
		limit := req.TopK
		if req.UseFeedback && limit < candidateLimit {
			// keep room for fusion to promote lower-ranked chunks
			limit = candidateLimit
		}
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		reranked, err := e.vdb.Rerank(ctx, req.CollectionID, rerankMat, ids, limit)
		if err != nil {
			metrics.QueriesServed.WithLabelValues("rerank", "error").Inc()
			return Response{}, fmt.Errorf("rerank candidates: %w", err)
		}
		candidates = reranked
	}

	results := toResults(candidates)
	if req.UseFeedback && len(results) > 0 {
		results = e.fuseFeedback(ctx, req, denseVec, results)
	}
	if len(results) > req.TopK {
		results = results[:req.TopK]
	}

	took := time.Since(start)
	metrics.QueriesServed.WithLabelValues(mode(sparseVec, rerankMat), "ok").Inc()
	metrics.QueryLatency.Observe(took.Seconds())
	if req.Analytics {
		e.emitAnalytics(req, took)
	}
	return Response{Results: results, TookMS: took.Milliseconds()}, nil
}

// applyAdapter transforms the query vector when a trained adapter exists.
// Any failure falls back to the untransformed vector.
func (e *Engine) applyAdapter(ctx context.Context, collectionID string, vec []float32) []float32 {
	if e.adapters == nil || e.adapters.TrainingCount(ctx, collectionID) == 0 {
		return vec
	}
	out, err := e.adapters.Transform(ctx, collectionID, vec)
	if err != nil {
		metrics.AdapterTransformFallbacks.Inc()
		e.log.Warn("Adapter transform failed, using raw query vector",
			zap.String("collection_id", collectionID), zap.Error(err))
		return vec
	}
	return out
}

// fuseFeedback boosts candidates recorded under similar past queries. Each
// matched chunk gains ln(count) x similarity; results are re-sorted.
func (e *Engine) fuseFeedback(ctx context.Context, req Request, denseVec []float32, results []Result) []Result {
	prior, err := e.vdb.Query(ctx, vectordb.FeedbackCollection(req.CollectionID), denseVec,
		feedbackQueries, vectordb.OwnerFilter(req.OwnerID, ""), false)
	if err != nil {
		e.log.Debug("Feedback lookup failed", zap.Error(err))
		return results
	}

	byChunk := make(map[string]*Result, len(results))
	for i := range results {
		byChunk[results[i].ChunkID] = &results[i]
	}
	applied := false
	for _, p := range prior {
		if p.Score <= feedbackMinSim {
			continue
		}
		doc, err := e.db.GetFeedbackDoc(ctx, p.ID)
		if err != nil {
			continue
		}
		for chunkID, hit := range doc.Hits {
			if hit.Count <= 0 {
				continue
			}
			if res, ok := byChunk[chunkID]; ok {
				res.Score += math.Log(float64(hit.Count)) * p.Score
				applied = true
			}
		}
	}
	if applied {
		metrics.FeedbackFusionApplied.Inc()
		sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	}
	return results
}

// emitAnalytics publishes the served-query event without blocking the
// response.
func (e *Engine) emitAnalytics(req Request, took time.Duration) {
	if e.bus == nil {
		return
	}
	event := models.AnalyticsEvent{
		ID:           uuid.New().String(),
		CollectionID: req.CollectionID,
		OwnerID:      req.OwnerID,
		Query:        req.Query,
		DurationMS:   took.Milliseconds(),
		Timestamp:    time.Now().UTC(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.bus.Publish(ctx, broker.QueueAnalytics, event); err != nil {
			e.log.Warn("Analytics emit failed", zap.Error(err))
		}
	}()
}

func mode(sparse *models.SparseVector, rerank [][]float32) string {
	switch {
	case rerank != nil:
		return "rerank"
	case sparse != nil:
		return "hybrid"
	default:
		return "dense"
	}
}

func toResults(points []vectordb.ScoredPoint) []Result {
	out := make([]Result, 0, len(points))
	for _, p := range points {
		r := Result{ChunkID: p.ID, Score: p.Score}
		if v, ok := p.Payload["resourceId"].(string); ok {
			r.ResourceID = v
		}
		if v, ok := p.Payload["content"].(string); ok {
			r.Content = v
		}
		if v, ok := p.Payload["metadata"].(map[string]any); ok {
			r.Metadata = v
		}
		out = append(out, r)
	}
	return out
}
