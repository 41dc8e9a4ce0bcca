package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/broker"
	"github.com/vektorlab/passage/internal/metrics"
	"github.com/vektorlab/passage/internal/models"
	"github.com/vektorlab/passage/internal/query"
	"github.com/vektorlab/passage/internal/store"
	"github.com/vektorlab/passage/internal/vectordb"
)

// mergeThreshold is the dense similarity above which a vote joins the
// nearest existing feedback record instead of creating a new one.
const mergeThreshold = 0.9

// Trainer is the slice of the adapter service the feedback worker needs.
type Trainer interface {
	TrainWithFeedback(ctx context.Context, collectionID string, queryVec, chunkVec []float32) error
}

// FeedbackWorker folds vote events into feedback docs and, on upvotes,
// trains the collection's query adapter.
type FeedbackWorker struct {
	db       *store.Store
	vdb      *vectordb.Client
	encoder  query.Encoder
	adapters Trainer
	bus      *broker.Broker
	log      *zap.Logger
}

// NewFeedbackWorker wires the feedback consumer.
func NewFeedbackWorker(db *store.Store, vdb *vectordb.Client, encoder query.Encoder, adapters Trainer, bus *broker.Broker, logger *zap.Logger) *FeedbackWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackWorker{db: db, vdb: vdb, encoder: encoder, adapters: adapters, bus: bus, log: logger}
}

// Run consumes the feedback queue until ctx is cancelled.
func (w *FeedbackWorker) Run(ctx context.Context, consumer string) error {
	return w.bus.Consume(ctx, broker.QueueFeedback, "feedback", consumer, w.Handle)
}

// Handle processes one vote event.
func (w *FeedbackWorker) Handle(ctx context.Context, body []byte) error {
	var ev models.FeedbackEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("decode feedback event: %w", err)
	}
	if ev.OwnerID == "" {
		ev.OwnerID = models.DefaultOwnerID
	}
	err := w.process(ctx, ev)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.FeedbackEvents.WithLabelValues(ev.Action, outcome).Inc()
	return err
}

func (w *FeedbackWorker) process(ctx context.Context, ev models.FeedbackEvent) error {
	col, err := w.db.GetCollection(ctx, ev.CollectionID)
	if err != nil {
		return err
	}
	if col.Settings.DenseModel == "" {
		return fmt.Errorf("collection %s has no dense model", ev.CollectionID)
	}

	denseVecs, err := w.encoder.EncodeDense(ctx, []string{ev.Query}, col.Settings.DenseModel)
	if err != nil {
		return fmt.Errorf("embed feedback query: %w", err)
	}
	queryVec := denseVecs[0]
	var sparseVec *models.SparseVector
	if col.Settings.SparseModel != "" {
		sv, err := w.encoder.EncodeSparse(ctx, []string{ev.Query}, col.Settings.SparseModel)
		if err != nil {
			return fmt.Errorf("sparse embed feedback query: %w", err)
		}
		sparseVec = &sv[0]
	}

	doc, err := w.resolveFeedbackDoc(ctx, ev, col, queryVec, sparseVec)
	if err != nil {
		return err
	}

	delta := 1
	if ev.Action == models.ActionDownvote {
		delta = -1
	}
	if err := w.db.ApplyFeedbackVote(ctx, doc, ev.ChunkID, ev.ResourceID, delta); err != nil {
		return err
	}

	if ev.Action == models.ActionUpvote && w.adapters != nil {
		w.trainAdapter(ctx, ev, queryVec)
	}
	return nil
}

// resolveFeedbackDoc merges the vote into the nearest existing feedback
// record when its query is close enough, otherwise mints a content-addressed
// record and indexes the query vectors beside it.
func (w *FeedbackWorker) resolveFeedbackDoc(ctx context.Context, ev models.FeedbackEvent, col models.Collection, queryVec []float32, sparseVec *models.SparseVector) (models.FeedbackDoc, error) {
	fbCollection := vectordb.FeedbackCollection(ev.CollectionID)
	if err := w.vdb.EnsureCollection(ctx, fbCollection, len(queryVec), 0, sparseVec != nil); err != nil {
		return models.FeedbackDoc{}, fmt.Errorf("ensure feedback collection: %w", err)
	}

	doc := models.FeedbackDoc{
		Query:        ev.Query,
		CollectionID: ev.CollectionID,
		OwnerID:      ev.OwnerID,
	}
	nearest, err := w.vdb.Query(ctx, fbCollection, queryVec, 1, vectordb.OwnerFilter(ev.OwnerID, ""), false)
	if err != nil {
		w.log.Debug("Feedback nearest lookup failed", zap.Error(err))
	}
	if len(nearest) > 0 && nearest[0].Score > mergeThreshold {
		doc.ID = nearest[0].ID
		if q, ok := nearest[0].Payload["query"].(string); ok {
			doc.Query = q
		}
		return doc, nil
	}

	doc.ID = models.FeedbackDocID(ev.CollectionID, ev.OwnerID, ev.Query)
	point := vectordb.Point{
		ID:     doc.ID,
		Dense:  queryVec,
		Sparse: sparseVec,
		Payload: map[string]any{
			"query":        ev.Query,
			"collectionId": ev.CollectionID,
			"ownerId":      ev.OwnerID,
		},
	}
	if err := w.vdb.Upsert(ctx, fbCollection, []vectordb.Point{point}); err != nil {
		return models.FeedbackDoc{}, fmt.Errorf("index feedback query: %w", err)
	}
	return doc, nil
}

// trainAdapter pulls the upvoted chunk's dense vector and nudges the query
// projection toward it. Training failures are logged, never fatal to the
// vote.
func (w *FeedbackWorker) trainAdapter(ctx context.Context, ev models.FeedbackEvent, queryVec []float32) {
	points, err := w.vdb.Retrieve(ctx, ev.CollectionID, []string{ev.ChunkID}, true)
	if err != nil || len(points) == 0 || points[0].Dense == nil {
		w.log.Warn("Upvoted chunk vector unavailable, skipping adapter training",
			zap.String("chunk_id", ev.ChunkID), zap.Error(err))
		return
	}
	if err := w.adapters.TrainWithFeedback(ctx, ev.CollectionID, queryVec, points[0].Dense); err != nil {
		w.log.Warn("Adapter training failed",
			zap.String("collection_id", ev.CollectionID), zap.Error(err))
	}
}
