package embeddings

import (
	"container/list"
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vektorlab/passage/internal/metrics"
)

// VectorCache caches dense embeddings keyed by (model, text).
type VectorCache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, v []float32, ttl time.Duration)
}

// cacheKey hashes (model, text) into a stable cache key.
func cacheKey(model, text string) string {
	h := md5.Sum([]byte(model + "|" + text))
	return "emb:" + hex.EncodeToString(h[:])
}

// localLRU is an in-process LRU with per-entry TTL, the first cache tier.
type localLRU struct {
	mu   sync.Mutex
	cap  int
	list *list.List
	m    map[string]*list.Element
}

type lruEntry struct {
	key string
	vec []float32
	exp time.Time
}

func newLocalLRU(capacity int) *localLRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &localLRU{cap: capacity, list: list.New(), m: make(map[string]*list.Element, capacity)}
}

func (l *localLRU) Get(_ context.Context, key string) ([]float32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.m[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(lruEntry)
	if ent.exp.Before(time.Now()) {
		l.list.Remove(el)
		delete(l.m, key)
		return nil, false
	}
	l.list.MoveToFront(el)
	return ent.vec, true
}

func (l *localLRU) Set(_ context.Context, key string, v []float32, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if el, ok := l.m[key]; ok {
		el.Value = lruEntry{key: key, vec: v, exp: time.Now().Add(ttl)}
		l.list.MoveToFront(el)
		return
	}
	l.m[key] = l.list.PushFront(lruEntry{key: key, vec: v, exp: time.Now().Add(ttl)})
	if l.list.Len() > l.cap {
		if oldest := l.list.Back(); oldest != nil {
			delete(l.m, oldest.Value.(lruEntry).key)
			l.list.Remove(oldest)
		}
	}
}

// RedisVectorCache is the shared second tier. Vectors are stored as packed
// little-endian float32 bytes.
type RedisVectorCache struct {
	cli redis.UniversalClient
}

// NewRedisVectorCache wraps an existing Redis client.
func NewRedisVectorCache(cli redis.UniversalClient) *RedisVectorCache {
	return &RedisVectorCache{cli: cli}
}

func (r *RedisVectorCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, err := r.cli.Get(ctx, key).Bytes()
	if err != nil || len(b)%4 != 0 {
		if err == nil || err == redis.Nil {
			metrics.CacheMisses.WithLabelValues("embedding_redis").Inc()
		}
		return nil, false
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	metrics.CacheHits.WithLabelValues("embedding_redis").Inc()
	return out, true
}

func (r *RedisVectorCache) Set(ctx context.Context, key string, v []float32, ttl time.Duration) {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	_ = r.cli.Set(ctx, key, b, ttl).Err()
}
