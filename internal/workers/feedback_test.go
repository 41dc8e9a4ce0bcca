package workers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
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

type fixedEncoder struct {
	dense  []float32
	sparse *models.SparseVector
}

func (e *fixedEncoder) EncodeDense(context.Context, []string, string) ([][]float32, error) {
	return [][]float32{e.dense}, nil
}

func (e *fixedEncoder) EncodeSparse(context.Context, []string, string) ([]models.SparseVector, error) {
	if e.sparse == nil {
		return nil, errors.New("no sparse model")
	}
	return []models.SparseVector{*e.sparse}, nil
}

func (e *fixedEncoder) EncodeLateInteraction(context.Context, []string, string) ([][][]float32, error) {
	return nil, errors.New("no reranker model")
}

type recordingTrainer struct {
	calls    int
	queryVec []float32
	chunkVec []float32
}

func (r *recordingTrainer) TrainWithFeedback(_ context.Context, _ string, queryVec, chunkVec []float32) error {
	r.calls++
	r.queryVec = queryVec
	r.chunkVec = chunkVec
	return nil
}

// qdrantRecorder replays canned responses keyed by "METHOD path" and keeps
// the request bodies for assertions.
type qdrantRecorder struct {
	responses map[string]string
	bodies    map[string][]byte
}

func newQdrantRecorder(t *testing.T, responses map[string]string) (*qdrantRecorder, *vectordb.Client) {
	t.Helper()
	rec := &qdrantRecorder{responses: responses, bodies: map[string][]byte{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		buf, _ := io.ReadAll(r.Body)
		rec.bodies[key] = buf
		if resp, ok := rec.responses[key]; ok {
			w.Write([]byte(resp))
			return
		}
		w.Write([]byte(`{"result":{"points":[]}}`))
	}))
	t.Cleanup(srv.Close)
	return rec, vectordb.NewClient(vectordb.Config{BaseURL: srv.URL}, "test-feedback", nil)
}

func feedbackMockDB(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
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
		}).AddRow("col-1", "docs", "", []byte(`{}`), "BAAI/bge-small-en-v1.5", "",
			"", 1000, 100, "recursive", "", false, false, now, now))
	return store.NewWithDB(sqlx.NewDb(db, "postgres"), nil), mock
}

func voteEvent(action string) []byte {
	buf, _ := json.Marshal(models.FeedbackEvent{
		Version:      models.EventVersion,
		Query:        "how do I reset my password",
		ChunkID:      "chunk-1",
		ResourceID:   "res-1",
		Action:       action,
		CollectionID: "col-1",
		OwnerID:      "public",
	})
	return buf
}

func TestHandleMergesIntoNearbyDocAndTrains(t *testing.T) {
	db, mock := feedbackMockDB(t)
	rec, vdb := newQdrantRecorder(t, map[string]string{
		"GET /collections/feedback_col-1/exists": `{"result":{"exists":true}}`,
		"POST /collections/feedback_col-1/points/query": `{"result":{"points":[
			{"id":"fb-existing","score":0.95,"payload":{"query":"original phrasing"}}
		]}}`,
		"POST /collections/col-1/points": `{"result":[
			{"id":"chunk-1","payload":{},"vector":{"dense":[0.5,0.5]}}
		]}`,
	})

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT .+ FROM feedback_docs WHERE id = \$1 FOR UPDATE`).
		WithArgs("fb-existing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`(?s)INSERT INTO feedback_docs`).
		WithArgs("fb-existing", "col-1", "public", "original phrasing",
			[]byte(`{"chunk-1":{"resourceId":"res-1","count":1}}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	trainer := &recordingTrainer{}
	w := NewFeedbackWorker(db, vdb, &fixedEncoder{dense: []float32{0.6, 0.8}}, trainer, nil, nil)
	require.NoError(t, w.Handle(context.Background(), voteEvent(models.ActionUpvote)))

	// the vote joined the existing doc, so no new point was indexed
	_, upserted := rec.bodies["PUT /collections/feedback_col-1/points"]
	assert.False(t, upserted)

	// the upvote trained the adapter toward the chunk's stored vector
	require.Equal(t, 1, trainer.calls)
	assert.Equal(t, []float32{0.6, 0.8}, trainer.queryVec)
	assert.Equal(t, []float32{0.5, 0.5}, trainer.chunkVec)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleMintsNewDocForDistantQuery(t *testing.T) {
	db, mock := feedbackMockDB(t)
	rec, vdb := newQdrantRecorder(t, map[string]string{
		"GET /collections/feedback_col-1/exists": `{"result":{"exists":false}}`,
		"PUT /collections/feedback_col-1":        `{"result":true}`,
		"PUT /collections/feedback_col-1/index":  `{"result":true}`,
		"PUT /collections/feedback_col-1/points": `{"result":true}`,
		"POST /collections/feedback_col-1/points/query": `{"result":{"points":[
			{"id":"fb-other","score":0.3,"payload":{"query":"unrelated"}}
		]}}`,
	})

	docID := models.FeedbackDocID("col-1", "public", "how do I reset my password")
	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)SELECT .+ FROM feedback_docs WHERE id = \$1 FOR UPDATE`).
		WithArgs(docID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`(?s)INSERT INTO feedback_docs`).
		WithArgs(docID, "col-1", "public", "how do I reset my password",
			[]byte(`{"chunk-1":{"resourceId":"res-1","count":-1}}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	trainer := &recordingTrainer{}
	w := NewFeedbackWorker(db, vdb, &fixedEncoder{dense: []float32{0.6, 0.8}}, trainer, nil, nil)
	require.NoError(t, w.Handle(context.Background(), voteEvent(models.ActionDownvote)))

	// side collection created with a dense space sized to the query vector
	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.bodies["PUT /collections/feedback_col-1"], &created))
	dense := created["vectors"].(map[string]any)["dense"].(map[string]any)
	assert.Equal(t, float64(2), dense["size"])
	_, hasSparse := created["sparse_vectors"]
	assert.False(t, hasSparse, "collection has no sparse model")

	// the query vector was indexed under the content-addressed doc id
	var upsert map[string]any
	require.NoError(t, json.Unmarshal(rec.bodies["PUT /collections/feedback_col-1/points"], &upsert))
	points := upsert["points"].([]any)
	require.Len(t, points, 1)
	point := points[0].(map[string]any)
	assert.Equal(t, docID, point["id"])
	payload := point["payload"].(map[string]any)
	assert.Equal(t, "how do I reset my password", payload["query"])

	// downvotes never train the adapter
	assert.Zero(t, trainer.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleRejectsMalformedPayload(t *testing.T) {
	w := NewFeedbackWorker(nil, nil, nil, nil, nil, nil)
	err := w.Handle(context.Background(), []byte(`{not json`))
	assert.ErrorContains(t, err, "decode feedback event")
}
