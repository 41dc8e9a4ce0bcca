package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder answers /embed with one vector per text whose single component
// is the text length, so callers can verify order restoration.
func fakeEmbedder(t *testing.T, hits *atomic.Int64, failures int) *httptest.Server {
	t.Helper()
	var failed atomic.Int64
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failed.Add(1) <= int64(failures) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req encodeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := make([][]float32, len(req.Texts))
		for i, txt := range req.Texts {
			out[i] = []float32{float32(len(txt))}
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
}

func testClient(baseURL string, cache VectorCache) *Client {
	return NewClient(Config{
		BaseURL:      baseURL,
		Timeout:      5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	}, cache, nil)
}

func TestEncodeDenseRestoresInputOrder(t *testing.T) {
	var hits atomic.Int64
	srv := fakeEmbedder(t, &hits, 0)
	defer srv.Close()

	texts := []string{"a", strings.Repeat("b", 300), "ccc", strings.Repeat("d", 290), "ee"}
	vecs, err := testClient(srv.URL, nil).EncodeDense(context.Background(), texts, "")
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, txt := range texts {
		assert.Equal(t, float32(len(txt)), vecs[i][0], "vector %d out of order", i)
	}
}

func TestEncodeDenseRetriesServerErrors(t *testing.T) {
	var hits atomic.Int64
	srv := fakeEmbedder(t, &hits, 2)
	defer srv.Close()

	vecs, err := testClient(srv.URL, nil).EncodeDense(context.Background(), []string{"hello"}, "")
	require.NoError(t, err)
	assert.Equal(t, float32(5), vecs[0][0])
	assert.Equal(t, int64(3), hits.Load())
}

func TestEncodeDenseGivesUpAfterMaxRetries(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, nil).EncodeDense(context.Background(), []string{"x"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int64(3), hits.Load())
}

func TestEncodeDenseClientErrorIsFatal(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		http.Error(w, "unknown model", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, nil).EncodeDense(context.Background(), []string{"x"}, "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int64(1), hits.Load(), "4xx must not be retried")
}

func TestDispatchRoutingKeyStableAcrossRetries(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("X-Routing-Key"))
		if len(keys) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{1}}})
	}))
	defer srv.Close()

	_, err := testClient(srv.URL, nil).EncodeDense(context.Background(), []string{"x"}, "")
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, keys[0], keys[1])
	assert.True(t, strings.HasPrefix(keys[0], DefaultDenseModel+":"))
}

func TestEncodeDenseServesRepeatsFromCache(t *testing.T) {
	var hits atomic.Int64
	srv := fakeEmbedder(t, &hits, 0)
	defer srv.Close()

	c := testClient(srv.URL, nil)
	ctx := context.Background()
	_, err := c.EncodeDense(ctx, []string{"hello", "world"}, "")
	require.NoError(t, err)
	first := hits.Load()

	vecs, err := c.EncodeDense(ctx, []string{"world", "hello"}, "")
	require.NoError(t, err)
	assert.Equal(t, first, hits.Load(), "repeat texts must not reach the server")
	assert.Equal(t, float32(5), vecs[0][0])
}

func TestEncodeSparse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sparse-embed", r.URL.Path)
		var req encodeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := make([]map[string]any, len(req.Texts))
		for i := range req.Texts {
			out[i] = map[string]any{"indices": []uint32{7, 42}, "values": []float32{0.5, 0.25}}
		}
		json.NewEncoder(w).Encode(map[string]any{"embeddings": out})
	}))
	defer srv.Close()

	vecs, err := testClient(srv.URL, nil).EncodeSparse(context.Background(), []string{"a", "b"}, "prithivida/Splade_PP_en_v1")
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []uint32{7, 42}, vecs[0].Indices)
	assert.Equal(t, []float32{0.5, 0.25}, vecs[1].Values)
}

func TestRedisVectorCacheRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := NewRedisVectorCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	_, ok := cache.Get(ctx, "emb:missing")
	assert.False(t, ok)

	in := []float32{0.1, -2.5, 3e6}
	cache.Set(ctx, "emb:k", in, time.Minute)
	out, ok := cache.Get(ctx, "emb:k")
	require.True(t, ok)
	assert.Equal(t, in, out)
}

func TestLocalLRUEvictsOldest(t *testing.T) {
	lru := newLocalLRU(2)
	ctx := context.Background()
	lru.Set(ctx, "a", []float32{1}, time.Minute)
	lru.Set(ctx, "b", []float32{2}, time.Minute)
	lru.Set(ctx, "c", []float32{3}, time.Minute)

	_, ok := lru.Get(ctx, "a")
	assert.False(t, ok)
	v, ok := lru.Get(ctx, "c")
	require.True(t, ok)
	assert.Equal(t, []float32{3}, v)
}
