package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vektorlab/passage/internal/broker"
	"github.com/vektorlab/passage/internal/chunking"
	"github.com/vektorlab/passage/internal/models"
)

// persistBatchSize bounds one persist event when no rerank matrices are
// attached. Rerank payloads are large enough that each chunk ships alone.
const persistBatchSize = 20

// Encoder is the slice of the embedding client the processor needs.
type Encoder interface {
	EncodeDense(ctx context.Context, texts []string, model string) ([][]float32, error)
	EncodeSparse(ctx context.Context, texts []string, model string) ([]models.SparseVector, error)
	EncodeLateInteraction(ctx context.Context, texts []string, model string) ([][][]float32, error)
}

// Publisher is the slice of the broker the processor needs.
type Publisher interface {
	PublishPersist(ctx context.Context, event any) error
}

// Processor drives one resource through chunk, encode and store.
type Processor struct {
	splitter *chunking.Splitter
	encoder  Encoder
	bus      Publisher
	log      *zap.Logger
}

// NewProcessor wires the chunking, encoding and persist stages together.
func NewProcessor(splitter *chunking.Splitter, encoder Encoder, bus Publisher, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{splitter: splitter, encoder: encoder, bus: bus, log: logger}
}

// EffectiveParams merges per-resource overrides over collection settings.
func EffectiveParams(settings models.CollectionSettings, overrides *models.ChunkOverrides, minChunkSize int) chunking.Params {
	p := chunking.Params{
		Strategy:     settings.Strategy,
		ChunkSize:    settings.ChunkSize,
		ChunkOverlap: settings.ChunkOverlap,
		MinChunkSize: minChunkSize,
		DenseModel:   settings.DenseModel,
		ChunkingURL:  settings.ChunkingURL,
	}
	if overrides != nil {
		if overrides.ChunkSize > 0 {
			p.ChunkSize = overrides.ChunkSize
		}
		if overrides.ChunkOverlap > 0 {
			p.ChunkOverlap = overrides.ChunkOverlap
		}
		if overrides.Strategy != "" {
			p.Strategy = overrides.Strategy
		}
	}
	return p
}

// Chunk splits the resource content into addressed chunks. With
// keepDuplicate the ids are random; otherwise they are content-addressed so
// re-ingesting identical text overwrites in place.
func (p *Processor) Chunk(ctx context.Context, res models.Resource, settings models.CollectionSettings, params chunking.Params) ([]models.Chunk, error) {
	pieces, err := p.splitter.Chunk(ctx, res.Content, params)
	if err != nil {
		return nil, fmt.Errorf("chunk resource %s: %w", res.ID, err)
	}
	chunks := make([]models.Chunk, 0, len(pieces))
	for _, piece := range pieces {
		ch := models.Chunk{
			Data:         piece.Text,
			VectorSource: piece.VectorSource,
			ResourceID:   res.ID,
			CollectionID: res.CollectionID,
			OwnerID:      res.OwnerID,
			Metadata:     piece.Metadata,
		}
		if settings.KeepDuplicate {
			ch.ID = uuid.New().String()
		} else {
			ch.ID = models.ChunkPointID(res.CollectionID, res.OwnerID, ch.Data, ch.VectorSource)
		}
		chunks = append(chunks, ch)
	}
	return chunks, nil
}

// Encode attaches the vector set the collection's models call for. The
// dense, sparse and late-interaction passes run concurrently.
func (p *Processor) Encode(ctx context.Context, chunks []models.Chunk, settings models.CollectionSettings) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].EmbedText()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecs, err := p.encoder.EncodeDense(gctx, texts, settings.DenseModel)
		if err != nil {
			return fmt.Errorf("dense encode: %w", err)
		}
		for i := range chunks {
			chunks[i].Vector = vecs[i]
		}
		return nil
	})
	if settings.SparseModel != "" {
		g.Go(func() error {
			vecs, err := p.encoder.EncodeSparse(gctx, texts, settings.SparseModel)
			if err != nil {
				return fmt.Errorf("sparse encode: %w", err)
			}
			for i := range chunks {
				sv := vecs[i]
				chunks[i].SparseVector = &sv
			}
			return nil
		})
	}
	if settings.RerankerModel != "" {
		g.Go(func() error {
			mats, err := p.encoder.EncodeLateInteraction(gctx, texts, settings.RerankerModel)
			if err != nil {
				return fmt.Errorf("late-interaction encode: %w", err)
			}
			for i := range chunks {
				chunks[i].RerankVector = mats[i]
			}
			return nil
		})
	}
	return g.Wait()
}

// Store fans encoded chunks out to the persist queues. Chunks carrying a
// rerank matrix are published one per event.
func (p *Processor) Store(ctx context.Context, res models.Resource, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batchSize := persistBatchSize
	if chunks[0].RerankVector != nil {
		batchSize = 1
	}
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		event := models.PersistEvent{
			Version:      models.EventVersion,
			Event:        models.PersistUpsert,
			CollectionID: res.CollectionID,
			ResourceID:   res.ID,
			OwnerID:      res.OwnerID,
			Chunks:       chunks[start:end],
		}
		if err := p.bus.PublishPersist(ctx, event); err != nil {
			return fmt.Errorf("publish persist batch: %w", err)
		}
	}
	p.log.Info("Resource chunks queued for persistence",
		zap.String("resource_id", res.ID),
		zap.Int("chunks", len(chunks)))
	return nil
}

// Process runs chunk, encode and store for one resource and returns the
// produced chunks.
func (p *Processor) Process(ctx context.Context, res models.Resource, settings models.CollectionSettings, params chunking.Params) ([]models.Chunk, error) {
	start := time.Now()
	chunks, err := p.Chunk(ctx, res, settings, params)
	if err != nil {
		return nil, err
	}
	if err := p.Encode(ctx, chunks, settings); err != nil {
		return nil, err
	}
	if err := p.Store(ctx, res, chunks); err != nil {
		return nil, err
	}
	p.log.Debug("Resource processed",
		zap.String("resource_id", res.ID),
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", time.Since(start)))
	return chunks, nil
}

var _ Publisher = (*broker.Broker)(nil)
