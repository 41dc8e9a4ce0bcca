package query

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vektorlab/passage/internal/models"
	"github.com/vektorlab/passage/internal/store"
	"github.com/vektorlab/passage/internal/vectordb"
)

// stubEncoder returns canned vectors for any input.
type stubEncoder struct {
	dense  []float32
	sparse *models.SparseVector
	rerank [][]float32
}

func (s *stubEncoder) EncodeDense(context.Context, []string, string) ([][]float32, error) {
	return [][]float32{s.dense}, nil
}

func (s *stubEncoder) EncodeSparse(context.Context, []string, string) ([]models.SparseVector, error) {
	if s.sparse == nil {
		return nil, errors.New("no sparse model")
	}
	return []models.SparseVector{*s.sparse}, nil
}

func (s *stubEncoder) EncodeLateInteraction(context.Context, []string, string) ([][][]float32, error) {
	if s.rerank == nil {
		return nil, errors.New("no reranker model")
	}
	return [][][]float32{s.rerank}, nil
}

// stubTransformer counts calls and optionally fails.
type stubTransformer struct {
	trained    int
	transforms int
	fail       bool
	out        []float32
}

func (s *stubTransformer) TrainingCount(context.Context, string) int { return s.trained }

func (s *stubTransformer) Transform(_ context.Context, _ string, q []float32) ([]float32, error) {
	s.transforms++
	if s.fail {
		return nil, errors.New("storage unavailable")
	}
	if s.out != nil {
		return s.out, nil
	}
	return q, nil
}

func mockCollectionStore(t *testing.T, sparseModel string) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Now()
	mock.ExpectQuery(`(?s)SELECT .+ FROM collections WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "description", "metadata", "dense_model", "sparse_model",
			"reranker_model", "chunk_size", "chunk_overlap", "strategy", "chunking_url",
			"keep_duplicate", "is_deleted", "created_at", "updated_at",
		}).AddRow("col-1", "docs", "", []byte(`{}`), "BAAI/bge-small-en-v1.5", sparseModel,
			"", 1000, 100, "recursive", "", false, false, now, now))
	return store.NewWithDB(sqlx.NewDb(db, "postgres"), nil), mock
}

func qdrantStub(t *testing.T, responses map[string]string) (*vectordb.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if resp, ok := responses[r.URL.Path]; ok {
			w.Write([]byte(resp))
			return
		}
		w.Write([]byte(`{"result":{"points":[]}}`))
	}))
	t.Cleanup(srv.Close)
	return vectordb.NewClient(vectordb.Config{BaseURL: srv.URL}, "test", nil), srv
}

func TestSearchDense(t *testing.T) {
	db, mock := mockCollectionStore(t, "")
	vdb, _ := qdrantStub(t, map[string]string{
		"/collections/col-1/points/query": `{"result":{"points":[
			{"id":"c1","score":0.93,"payload":{"resourceId":"res-1","content":"first","metadata":{"page":1}}},
			{"id":"c2","score":0.88,"payload":{"resourceId":"res-1","content":"second"}},
			{"id":"c3","score":0.70,"payload":{"resourceId":"res-2","content":"third"}}
		]}}`,
	})

	e := NewEngine(db, nil, vdb, &stubEncoder{dense: []float32{0.1, 0.2}}, nil, nil, nil)
	resp, err := e.Search(context.Background(), Request{Query: "first thing", CollectionID: "col-1", TopK: 2})
	require.NoError(t, err)

	require.Len(t, resp.Results, 2, "results truncated to topK")
	assert.Equal(t, "c1", resp.Results[0].ChunkID)
	assert.Equal(t, "res-1", resp.Results[0].ResourceID)
	assert.Equal(t, "first", resp.Results[0].Content)
	assert.Equal(t, map[string]any{"page": float64(1)}, resp.Results[0].Metadata)
	assert.InDelta(t, 0.93, resp.Results[0].Score, 1e-9)
	assert.GreaterOrEqual(t, resp.TookMS, int64(0))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchUnknownCollection(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.ExpectQuery(`(?s)SELECT .+ FROM collections`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	vdb, _ := qdrantStub(t, nil)
	e := NewEngine(store.NewWithDB(sqlx.NewDb(db, "postgres"), nil), nil, vdb,
		&stubEncoder{dense: []float32{1}}, nil, nil, nil)

	_, err = e.Search(context.Background(), Request{Query: "q", CollectionID: "ghost"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSearchFeedbackFusionPromotesVotedChunk(t *testing.T) {
	db, mock := mockCollectionStore(t, "")
	hits, _ := json.Marshal(map[string]models.FeedbackHit{
		"c2": {ResourceID: "res-1", Count: 3},
		"c9": {ResourceID: "res-9", Count: 5}, // not in the candidate set
	})
	now := time.Now()
	mock.ExpectQuery(`(?s)SELECT .+ FROM feedback_docs WHERE id = \$1`).
		WithArgs("fb-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "collection_id", "owner_id", "query", "hits", "created_at", "updated_at",
		}).AddRow("fb-1", "col-1", "public", "similar past query", hits, now, now))

	vdb, _ := qdrantStub(t, map[string]string{
		"/collections/col-1/points/query": `{"result":{"points":[
			{"id":"c1","score":0.50,"payload":{"content":"first"}},
			{"id":"c2","score":0.40,"payload":{"content":"second"}}
		]}}`,
		"/collections/feedback_col-1/points/query": `{"result":{"points":[
			{"id":"fb-1","score":0.90,"payload":{}},
			{"id":"fb-2","score":0.60,"payload":{}}
		]}}`,
	})

	e := NewEngine(db, nil, vdb, &stubEncoder{dense: []float32{0.1}}, nil, nil, nil)
	resp, err := e.Search(context.Background(), Request{
		Query: "q", CollectionID: "col-1", TopK: 5, UseFeedback: true,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	// c2 gains ln(3) x 0.90 and overtakes c1; fb-2 sits below the
	// similarity floor so its doc is never loaded
	assert.Equal(t, "c2", resp.Results[0].ChunkID)
	assert.InDelta(t, 0.40+0.90*1.0986122886681098, resp.Results[0].Score, 1e-6)
	assert.Equal(t, "c1", resp.Results[1].ChunkID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyAdapterSkipsUntrained(t *testing.T) {
	tr := &stubTransformer{trained: 0}
	e := NewEngine(nil, nil, nil, nil, tr, nil, nil)
	vec := []float32{1, 2}
	assert.Equal(t, vec, e.applyAdapter(context.Background(), "col-1", vec))
	assert.Zero(t, tr.transforms)
}

func TestApplyAdapterFallsBackOnError(t *testing.T) {
	tr := &stubTransformer{trained: 3, fail: true}
	e := NewEngine(nil, nil, nil, nil, tr, nil, nil)
	vec := []float32{1, 2}
	assert.Equal(t, vec, e.applyAdapter(context.Background(), "col-1", vec))
	assert.Equal(t, 1, tr.transforms)
}

func TestApplyAdapterUsesTransformed(t *testing.T) {
	tr := &stubTransformer{trained: 3, out: []float32{9, 9}}
	e := NewEngine(nil, nil, nil, nil, tr, nil, nil)
	assert.Equal(t, []float32{9, 9}, e.applyAdapter(context.Background(), "col-1", []float32{1, 2}))
}

func TestMode(t *testing.T) {
	assert.Equal(t, "dense", mode(nil, nil))
	assert.Equal(t, "hybrid", mode(&models.SparseVector{}, nil))
	assert.Equal(t, "rerank", mode(nil, [][]float32{{1}}))
	assert.Equal(t, "rerank", mode(&models.SparseVector{}, [][]float32{{1}}))
}

func TestToResults(t *testing.T) {
	points := []vectordb.ScoredPoint{
		{ID: "c1", Score: 0.9, Payload: map[string]any{"resourceId": "res-1", "content": "text", "metadata": map[string]any{"k": "v"}}},
		{ID: "c2", Score: 0.8, Payload: map[string]any{}},
	}
	results := toResults(points)
	require.Len(t, results, 2)
	assert.Equal(t, Result{ChunkID: "c1", ResourceID: "res-1", Content: "text", Score: 0.9, Metadata: map[string]any{"k": "v"}}, results[0])
	assert.Equal(t, Result{ChunkID: "c2", Score: 0.8}, results[1])
}
