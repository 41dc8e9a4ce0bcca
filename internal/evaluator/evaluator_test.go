package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vektorlab/passage/internal/query"
	"github.com/vektorlab/passage/internal/store"
)

// stubSearcher maps each query to a fixed ranked chunk id list.
type stubSearcher struct {
	answers map[string][]string
	errors  map[string]error
}

func (s *stubSearcher) Search(_ context.Context, req query.Request) (query.Response, error) {
	if err := s.errors[req.Query]; err != nil {
		return query.Response{}, err
	}
	var results []query.Result
	for _, id := range s.answers[req.Query] {
		results = append(results, query.Result{ChunkID: id})
	}
	return query.Response{Results: results}, nil
}

func evalFixture(t *testing.T, searcher *stubSearcher) (*Evaluator, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(store.NewWithDB(sqlx.NewDb(db, "postgres"), nil), searcher, nil), mock
}

func evalCaseRows(cases map[string][]string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "collection_id", "owner_id", "query", "expected_chunk_ids", "created_at"})
	i := 0
	for q, expected := range cases {
		buf, _ := json.Marshal(expected)
		rows.AddRow("case-"+q, "col-1", "public", q, buf, time.Now().Add(time.Duration(i)*time.Second))
		i++
	}
	return rows
}

func TestRunAggregatesMetrics(t *testing.T) {
	searcher := &stubSearcher{answers: map[string][]string{
		// first expected chunk at rank 1, both expected found
		"q1": {"a", "b", "x"},
		// first expected chunk at rank 2, one of two found
		"q2": {"x", "c", "y"},
		// nothing relevant retrieved
		"q3": {"x", "y", "z"},
	}}
	ev, mock := evalFixture(t, searcher)

	mock.ExpectQuery(`(?s)SELECT .+ FROM eval_cases WHERE collection_id = \$1`).
		WithArgs("col-1", "public").
		WillReturnRows(evalCaseRows(map[string][]string{
			"q1": {"a", "b"},
			"q2": {"c", "d"},
			"q3": {"m"},
		}))
	mock.ExpectExec(`INSERT INTO eval_runs`).WillReturnResult(sqlmock.NewResult(0, 1))

	run, err := ev.Run(context.Background(), "col-1", "public", 3)
	require.NoError(t, err)

	assert.Equal(t, 3, run.TotalCases)
	assert.Equal(t, 2, run.HitCount)
	assert.InDelta(t, 2.0/3.0, run.OverallAccuracy, 1e-9)
	assert.InDelta(t, (1.0+0.5+0.0)/3.0, run.AverageRecall, 1e-9)
	assert.InDelta(t, (1.0+0.5+0.0)/3.0, run.MRR, 1e-9)
	assert.Len(t, run.Results, 3)
	assert.Len(t, run.FailedCases, 1)
	assert.Equal(t, "case-q3", run.FailedCases[0].CaseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRecordsFailedSearchAsMiss(t *testing.T) {
	searcher := &stubSearcher{
		answers: map[string][]string{"q1": {"a"}},
		errors:  map[string]error{"q2": errors.New("vector store down")},
	}
	ev, mock := evalFixture(t, searcher)

	mock.ExpectQuery(`(?s)SELECT .+ FROM eval_cases`).
		WillReturnRows(evalCaseRows(map[string][]string{
			"q1": {"a"},
			"q2": {"b"},
		}))
	mock.ExpectExec(`INSERT INTO eval_runs`).WillReturnResult(sqlmock.NewResult(0, 1))

	run, err := ev.Run(context.Background(), "col-1", "public", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, run.TotalCases)
	assert.Equal(t, 1, run.HitCount)
	assert.InDelta(t, 0.5, run.OverallAccuracy, 1e-9)
}

func TestRunWithoutCases(t *testing.T) {
	ev, mock := evalFixture(t, &stubSearcher{})
	mock.ExpectQuery(`(?s)SELECT .+ FROM eval_cases`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "collection_id", "owner_id", "query", "expected_chunk_ids", "created_at"}))

	_, err := ev.Run(context.Background(), "col-1", "public", 5)
	assert.ErrorContains(t, err, "no eval cases")
}

func TestRunScopesCasesToOwner(t *testing.T) {
	searcher := &stubSearcher{answers: map[string][]string{
		"q1": {"a"},
		"q2": {"b"},
	}}
	ev, mock := evalFixture(t, searcher)

	// the owner reaches the store query, which returns only that owner's case
	rows := sqlmock.NewRows([]string{"id", "collection_id", "owner_id", "query", "expected_chunk_ids", "created_at"}).
		AddRow("case-q1", "col-1", "team-a", "q1", []byte(`["a"]`), time.Now())
	mock.ExpectQuery(`(?s)SELECT .+ FROM eval_cases WHERE collection_id = \$1 AND \(\$2 = '' OR owner_id = \$2\)`).
		WithArgs("col-1", "team-a").
		WillReturnRows(rows)
	mock.ExpectExec(`INSERT INTO eval_runs`).WillReturnResult(sqlmock.NewResult(0, 1))

	run, err := ev.Run(context.Background(), "col-1", "team-a", 5)
	require.NoError(t, err)
	assert.Equal(t, "team-a", run.OwnerID)
	assert.Equal(t, 1, run.TotalCases, "the other owner's cases stay out of the report")
	assert.NoError(t, mock.ExpectationsWereMet())
}
