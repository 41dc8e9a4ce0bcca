// Package evaluator replays labelled test cases through the query engine
// and reports retrieval quality per collection.
package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vektorlab/passage/internal/models"
	"github.com/vektorlab/passage/internal/query"
	"github.com/vektorlab/passage/internal/store"
)

// Searcher is the slice of the query engine the evaluator needs.
type Searcher interface {
	Search(ctx context.Context, req query.Request) (query.Response, error)
}

// Evaluator runs offline evaluations.
type Evaluator struct {
	db     *store.Store
	engine Searcher
	log    *zap.Logger
}

// New builds an evaluator over the given engine.
func New(db *store.Store, engine Searcher, logger *zap.Logger) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{db: db, engine: engine, log: logger}
}

// Run executes one owner's test cases for a collection at the given topK and
// persists the resulting snapshot.
func (e *Evaluator) Run(ctx context.Context, collectionID, ownerID string, topK int) (models.EvalRun, error) {
	if topK <= 0 {
		topK = query.DefaultTopK
	}
	if ownerID == "" {
		ownerID = models.DefaultOwnerID
	}
	cases, err := e.db.ListEvalCases(ctx, collectionID, ownerID)
	if err != nil {
		return models.EvalRun{}, err
	}
	if len(cases) == 0 {
		return models.EvalRun{}, fmt.Errorf("collection %s has no eval cases for owner %s", collectionID, ownerID)
	}

	run := models.EvalRun{
		ID:           uuid.New().String(),
		CollectionID: collectionID,
		OwnerID:      ownerID,
		TotalCases:   len(cases),
		CreatedAt:    time.Now().UTC(),
	}
	var recallSum, rrSum float64
	for _, tc := range cases {
		result, err := e.runCase(ctx, tc, topK)
		if err != nil {
			e.log.Warn("Eval case failed to execute",
				zap.String("case_id", tc.ID), zap.Error(err))
			result = models.EvalCaseResult{CaseID: tc.ID, Query: tc.Query}
		}
		run.Results = append(run.Results, result)
		if result.Hit {
			run.HitCount++
		} else {
			run.FailedCases = append(run.FailedCases, result)
		}
		recallSum += result.Recall
		rrSum += result.ReciprocalRank
	}
	run.OverallAccuracy = float64(run.HitCount) / float64(run.TotalCases)
	run.AverageRecall = recallSum / float64(run.TotalCases)
	run.MRR = rrSum / float64(run.TotalCases)

	if err := e.db.SaveEvalRun(ctx, run); err != nil {
		return models.EvalRun{}, err
	}
	return run, nil
}

// runCase scores one test case: Hit is whether any expected chunk appears in
// the top K, Recall the expected-chunk coverage, ReciprocalRank 1/rank of
// the first expected chunk.
func (e *Evaluator) runCase(ctx context.Context, tc models.EvalTestCase, topK int) (models.EvalCaseResult, error) {
	resp, err := e.engine.Search(ctx, query.Request{
		Query:        tc.Query,
		CollectionID: tc.CollectionID,
		OwnerID:      tc.OwnerID,
		TopK:         topK,
	})
	if err != nil {
		return models.EvalCaseResult{}, err
	}

	expected := make(map[string]bool, len(tc.ExpectedChunks))
	for _, id := range tc.ExpectedChunks {
		expected[id] = true
	}
	result := models.EvalCaseResult{CaseID: tc.ID, Query: tc.Query}
	found := 0
	for rank, r := range resp.Results {
		result.Retrieved = append(result.Retrieved, r.ChunkID)
		if expected[r.ChunkID] {
			found++
			if result.ReciprocalRank == 0 {
				result.ReciprocalRank = 1.0 / float64(rank+1)
			}
		}
	}
	result.Hit = found > 0
	if len(expected) > 0 {
		result.Recall = float64(found) / float64(len(expected))
	}
	return result, nil
}
