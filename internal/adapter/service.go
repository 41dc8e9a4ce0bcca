package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/metrics"
	"github.com/vektorlab/passage/internal/store"
)

// Service caches one adapter per collection in memory and keeps storage in
// sync after every training call.
type Service struct {
	storage Storage
	log     *zap.Logger

	mu       sync.Mutex
	adapters map[string]*Adapter
}

// NewService builds an adapter service over the given backend.
func NewService(storage Storage, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		storage:  storage,
		log:      logger,
		adapters: make(map[string]*Adapter),
	}
}

// getLocked returns the cached adapter for a collection, loading it from
// storage or initializing the identity when absent. dim is only used on
// first init. Caller holds s.mu.
func (s *Service) getLocked(ctx context.Context, collectionID string, dim int) (*Adapter, error) {
	if a, ok := s.adapters[collectionID]; ok {
		return a, nil
	}
	rec, err := s.storage.Load(ctx, collectionID)
	switch {
	case errors.Is(err, ErrNoRecord):
		if dim <= 0 {
			return nil, fmt.Errorf("adapter init needs a dimension")
		}
		a := NewIdentity(dim)
		s.adapters[collectionID] = a
		return a, nil
	case err != nil:
		return nil, err
	}
	a, err := Restore(rec.Weights, rec.Bias, rec.TrainingCount)
	if err != nil {
		return nil, err
	}
	s.adapters[collectionID] = a
	return a, nil
}

// Transform projects a query vector through the collection's adapter. An
// untrained adapter returns the input unchanged; the caller treats any error
// as a silent fallback to the original vector.
func (s *Service) Transform(ctx context.Context, collectionID string, q []float32) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.getLocked(ctx, collectionID, len(q))
	if err != nil {
		return nil, err
	}
	if a.TrainingCount() == 0 {
		return q, nil
	}
	out, err := a.Transform(q)
	if err != nil {
		return nil, err
	}
	if !IsSafe(q, out) {
		s.log.Debug("Adapter transform outside safety margin",
			zap.String("collection_id", collectionID))
	}
	return out, nil
}

// TrainingCount returns how many training calls a collection's adapter has
// absorbed, 0 when none exists.
func (s *Service) TrainingCount(ctx context.Context, collectionID string) int {
	s.mu.Lock()
	if a, ok := s.adapters[collectionID]; ok {
		s.mu.Unlock()
		return a.TrainingCount()
	}
	s.mu.Unlock()
	rec, err := s.storage.Load(ctx, collectionID)
	if err != nil {
		return 0
	}
	return rec.TrainingCount
}

// TrainWithFeedback absorbs one (query, upvoted chunk) pair and persists the
// updated adapter.
func (s *Service) TrainWithFeedback(ctx context.Context, collectionID string, queryVec, chunkVec []float32) error {
	return s.TrainBatch(ctx, collectionID, [][]float32{queryVec}, [][]float32{chunkVec})
}

// TrainBatch absorbs a batch of (query, target) pairs and persists the
// updated adapter.
func (s *Service) TrainBatch(ctx context.Context, collectionID string, queries, targets [][]float32) error {
	if len(queries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.getLocked(ctx, collectionID, len(queries[0]))
	if err != nil {
		return err
	}
	if err := a.Train(queries, targets, defaultEpochs); err != nil {
		metrics.AdapterTrainings.WithLabelValues("error").Inc()
		return err
	}
	metrics.AdapterTrainings.WithLabelValues("ok").Inc()
	rec := store.AdapterRecord{
		CollectionID:  collectionID,
		Weights:       a.Weights(),
		Bias:          a.Bias(),
		InputDim:      a.Dim(),
		OutputDim:     a.Dim(),
		TrainingCount: a.TrainingCount(),
	}
	if err := s.storage.Save(ctx, rec); err != nil {
		return fmt.Errorf("persist adapter: %w", err)
	}
	return nil
}

// ClearCache drops the in-memory adapter of a collection so the next use
// reloads from storage. Deleting the stored record first resets the adapter
// to identity.
func (s *Service) ClearCache(collectionID string) {
	s.mu.Lock()
	delete(s.adapters, collectionID)
	s.mu.Unlock()
}

// Reset deletes a collection's stored adapter and drops it from the cache.
func (s *Service) Reset(ctx context.Context, collectionID string) error {
	if err := s.storage.Delete(ctx, collectionID); err != nil {
		return err
	}
	s.ClearCache(collectionID)
	return nil
}
