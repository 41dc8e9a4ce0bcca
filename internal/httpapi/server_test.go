package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vektorlab/passage/internal/broker"
	"github.com/vektorlab/passage/internal/cache"
	"github.com/vektorlab/passage/internal/models"
	"github.com/vektorlab/passage/internal/store"
)

type serverFixture struct {
	srv     *Server
	handler http.Handler
	mock    sqlmock.Sqlmock
	redis   *miniredis.Miniredis
	cache   *cache.Cache
	cli     *redis.Client
}

func newFixture(t *testing.T, apiKey string) *serverFixture {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := cache.New(cli)

	srv := NewServer(Options{
		Store:  store.NewWithDB(sqlx.NewDb(db, "postgres"), nil),
		Cache:  kv,
		Broker: broker.New(cli, nil),
		APIKey: apiKey,
	})
	return &serverFixture{srv: srv, handler: srv.Routes(), mock: mock, redis: mr, cache: kv, cli: cli}
}

func (f *serverFixture) do(method, path, body, apiKey string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("{}")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyMiddleware(t *testing.T) {
	f := newFixture(t, "secret")

	rec := f.do(http.MethodGet, "/utility/encoding-models", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/utility/encoding-models", "", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(http.MethodGet, "/utility/encoding-models", "", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyDisabledWhenEmpty(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/utility/encoding-models", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEncodingModelsShape(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/utility/encoding-models", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Models struct {
			Dense    []map[string]any `json:"denseModels"`
			Sparse   []map[string]any `json:"sparseModels"`
			Reranker []map[string]any `json:"rerankerModels"`
		} `json:"models"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Models.Dense)
	assert.NotEmpty(t, body.Models.Sparse)
	assert.NotEmpty(t, body.Models.Reranker)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", body.Models.Dense[0]["name"])
}

func TestCreateCollectionValidation(t *testing.T) {
	f := newFixture(t, "")

	cases := []struct {
		name string
		body string
		want string
	}{
		{"missing name", `{}`, "name is required"},
		{"unknown dense model", `{"name":"c","settings":{"denseModel":"made/up"}}`, "unsupported dense model"},
		{"unknown sparse model", `{"name":"c","settings":{"sparseModel":"made/up"}}`, "unsupported sparse model"},
		{"oversized chunks", `{"name":"c","settings":{"chunkSize":5000}}`, "chunkSize exceeds maximum"},
		{"bad overlap", `{"name":"c","settings":{"chunkSize":100,"chunkOverlap":100}}`, "chunkOverlap"},
		{"bad strategy", `{"name":"c","settings":{"strategy":"mystery"}}`, "unknown strategy"},
		{"custom without url", `{"name":"c","settings":{"strategy":"custom"}}`, "chunkingUrl"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/collection", tc.body, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

func TestCreateCollectionDefaults(t *testing.T) {
	f := newFixture(t, "")
	f.mock.ExpectExec(`INSERT INTO collections`).WillReturnResult(sqlmock.NewResult(0, 1))

	rec := f.do(http.MethodPost, "/collection", `{"name":"docs"}`, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var col struct {
		ID       string `json:"id"`
		Settings struct {
			DenseModel string `json:"denseModel"`
			ChunkSize  int    `json:"chunkSize"`
			Strategy   string `json:"strategy"`
		} `json:"settings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &col))
	assert.NotEmpty(t, col.ID)
	assert.Equal(t, "BAAI/bge-small-en-v1.5", col.Settings.DenseModel)
	assert.Equal(t, 1000, col.Settings.ChunkSize)
	assert.Equal(t, "recursive", col.Settings.Strategy)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestSearchValidation(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/search", `{"query":"hello"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "collectionId")

	rec = f.do(http.MethodPost, "/search", `{"collectionId":"col-1"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostVoteValidation(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodPost, "/feedback/vote", `{"query":"q","chunkId":"c"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/feedback/vote",
		`{"collectionId":"col-1","query":"q","chunkId":"c","action":"maybe"}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "upvote or downvote")
}

func TestPostVoteQueuesEventAndMintsReference(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(http.MethodPost, "/feedback/vote",
		`{"collectionId":"col-1","query":"reset password","chunkId":"chunk-1","resourceId":"res-1","action":"upvote"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["success"])
	refID, _ := resp["referenceId"].(string)
	require.NotEmpty(t, refID)

	// the vote landed on the feedback stream
	assert.True(t, f.redis.Exists(broker.QueueFeedback))

	// and the minted reference resolves
	link, err := f.cache.GetFeedbackLink(httptest.NewRequest("GET", "/", nil).Context(), refID)
	require.NoError(t, err)
	assert.Equal(t, "chunk-1", link.ChunkID)
	assert.Equal(t, "public", link.OwnerID, "owner defaults when omitted")
}

func TestReviewVoteBypassesAPIKey(t *testing.T) {
	f := newFixture(t, "secret")
	ctx := httptest.NewRequest("GET", "/", nil).Context()
	require.NoError(t, f.cache.PutFeedbackLink(ctx, "ref-1", cache.FeedbackLink{
		Query: "q", CollectionID: "col-1", ChunkID: "chunk-1", ResourceID: "res-1", OwnerID: "public",
	}))

	rec := f.do(http.MethodGet, "/feedback/vote/ref-1/upvote", "", "")
	require.Equal(t, http.StatusOK, rec.Code, "review links must work without the API key")
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "upvote")
	assert.True(t, f.redis.Exists(broker.QueueFeedback))
}

func TestReviewVoteExpiredLink(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/feedback/vote/ref-gone/upvote", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewVoteUnknownAction(t *testing.T) {
	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/feedback/vote/ref-1/sideways", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewLinkExpiresAfterTTL(t *testing.T) {
	f := newFixture(t, "")
	ctx := httptest.NewRequest("GET", "/", nil).Context()
	require.NoError(t, f.cache.PutFeedbackLink(ctx, "ref-1", cache.FeedbackLink{ChunkID: "c"}))

	f.redis.FastForward(cache.FeedbackLinkTTL + time.Minute)
	rec := f.do(http.MethodGet, "/feedback/vote/ref-1/upvote", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateSettingsDefaults(t *testing.T) {
	// defaults fill in
	set := models.CollectionSettings{}
	assert.Empty(t, validateSettings(&set))
	assert.Equal(t, "BAAI/bge-small-en-v1.5", set.DenseModel)
	assert.Equal(t, 1000, set.ChunkSize)
	assert.Equal(t, models.StrategyRecursive, set.Strategy)

	// a valid explicit configuration passes untouched
	set = models.CollectionSettings{
		DenseModel:   "BAAI/bge-base-en-v1.5",
		ChunkSize:    2000,
		ChunkOverlap: 200,
		Strategy:     models.StrategySemantic,
	}
	assert.Empty(t, validateSettings(&set))
	assert.Equal(t, 2000, set.ChunkSize)
}
