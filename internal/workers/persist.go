package workers

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/broker"
	"github.com/vektorlab/passage/internal/metrics"
	"github.com/vektorlab/passage/internal/models"
	"github.com/vektorlab/passage/internal/store"
	"github.com/vektorlab/passage/internal/vectordb"
)

// DocumentPersistWorker drains the document-store sync queue, keeping the
// text side of chunks queryable without the vector store.
type DocumentPersistWorker struct {
	db  *store.Store
	bus *broker.Broker
	log *zap.Logger
}

// NewDocumentPersistWorker wires the document-store sync consumer.
func NewDocumentPersistWorker(db *store.Store, bus *broker.Broker, logger *zap.Logger) *DocumentPersistWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentPersistWorker{db: db, bus: bus, log: logger}
}

// Run consumes the document sync queue until ctx is cancelled.
func (w *DocumentPersistWorker) Run(ctx context.Context, consumer string) error {
	return w.bus.Consume(ctx, broker.QueueMongoSync, "persist-store", consumer, w.Handle)
}

// Handle applies one persist event to the document store.
func (w *DocumentPersistWorker) Handle(ctx context.Context, body []byte) error {
	var ev models.PersistEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("decode persist event: %w", err)
	}
	var err error
	switch ev.Event {
	case models.PersistUpsert:
		err = w.db.UpsertChunks(ctx, ev.Chunks)
	case models.PersistDelete:
		err = w.db.DeleteChunksByResource(ctx, ev.ResourceID)
	default:
		return fmt.Errorf("unknown persist event %q", ev.Event)
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ChunksPersisted.WithLabelValues("store", status).Add(float64(len(ev.Chunks)))
	return err
}

// VectorPersistWorker drains one regional vector-store sync queue. Each
// region runs its own worker so a slow or failing region never blocks the
// others.
type VectorPersistWorker struct {
	vdb    *vectordb.Client
	bus    *broker.Broker
	queue  string
	region string
	log    *zap.Logger
}

// NewVectorPersistWorker wires one region's sync consumer.
func NewVectorPersistWorker(vdb *vectordb.Client, bus *broker.Broker, queue string, logger *zap.Logger) *VectorPersistWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorPersistWorker{vdb: vdb, bus: bus, queue: queue, region: queue, log: logger}
}

// Run consumes the region's queue until ctx is cancelled.
func (w *VectorPersistWorker) Run(ctx context.Context, consumer string) error {
	return w.bus.Consume(ctx, w.queue, "persist-"+w.queue, consumer, w.Handle)
}

// Handle applies one persist event to the region's vector store.
func (w *VectorPersistWorker) Handle(ctx context.Context, body []byte) error {
	var ev models.PersistEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("decode persist event: %w", err)
	}
	var err error
	switch ev.Event {
	case models.PersistUpsert:
		err = w.upsert(ctx, ev)
	case models.PersistDelete:
		err = w.vdb.DeleteByFilter(ctx, ev.CollectionID, vectordb.ResourceFilter(ev.ResourceID))
	default:
		return fmt.Errorf("unknown persist event %q", ev.Event)
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ChunksPersisted.WithLabelValues(w.region, status).Add(float64(len(ev.Chunks)))
	return err
}

func (w *VectorPersistWorker) upsert(ctx context.Context, ev models.PersistEvent) error {
	if len(ev.Chunks) == 0 {
		return nil
	}
	first := ev.Chunks[0]
	rerankDim := 0
	if len(first.RerankVector) > 0 {
		rerankDim = len(first.RerankVector[0])
	}
	if err := w.vdb.EnsureCollection(ctx, ev.CollectionID, len(first.Vector), rerankDim, first.SparseVector != nil); err != nil {
		return fmt.Errorf("ensure collection %s: %w", ev.CollectionID, err)
	}
	points := make([]vectordb.Point, 0, len(ev.Chunks))
	for _, ch := range ev.Chunks {
		points = append(points, vectordb.Point{
			ID:      ch.ID,
			Dense:   ch.Vector,
			Sparse:  ch.SparseVector,
			Rerank:  ch.RerankVector,
			Payload: vectordb.PointPayload(ch),
		})
	}
	return w.vdb.Upsert(ctx, ev.CollectionID, points)
}
