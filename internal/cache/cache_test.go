package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vektorlab/passage/internal/models"
)

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(redis.NewClient(&redis.Options{Addr: mr.Addr()})), mr
}

func TestCollectionRoundTrip(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	_, ok := c.GetCollection(ctx, "col-1")
	assert.False(t, ok)

	col := models.Collection{
		ID:   "col-1",
		Name: "docs",
		Settings: models.CollectionSettings{
			DenseModel: "BAAI/bge-small-en-v1.5",
			ChunkSize:  1000,
			Strategy:   models.StrategyRecursive,
		},
	}
	c.SetCollection(ctx, col)

	got, ok := c.GetCollection(ctx, "col-1")
	require.True(t, ok)
	assert.Equal(t, col.Settings, got.Settings)
	assert.Equal(t, "docs", got.Name)

	mr.FastForward(6 * time.Minute)
	_, ok = c.GetCollection(ctx, "col-1")
	assert.False(t, ok, "settings cache expires after five minutes")
}

func TestInvalidateCollection(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()
	c.SetCollection(ctx, models.Collection{ID: "col-1", Name: "docs"})
	c.InvalidateCollection(ctx, "col-1")
	_, ok := c.GetCollection(ctx, "col-1")
	assert.False(t, ok)
}

func TestFeedbackLinkRoundTrip(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	link := FeedbackLink{
		Query:        "how do i reset my password",
		CollectionID: "col-1",
		ChunkID:      "chunk-9",
		ResourceID:   "res-3",
		OwnerID:      "alice",
	}
	require.NoError(t, c.PutFeedbackLink(ctx, "ref-abc", link))

	got, err := c.GetFeedbackLink(ctx, "ref-abc")
	require.NoError(t, err)
	assert.Equal(t, link, got)

	mr.FastForward(FeedbackLinkTTL + time.Minute)
	_, err = c.GetFeedbackLink(ctx, "ref-abc")
	assert.ErrorIs(t, err, ErrLinkExpired)
}

func TestUnknownFeedbackLink(t *testing.T) {
	c, _ := testCache(t)
	_, err := c.GetFeedbackLink(context.Background(), "never-minted")
	assert.ErrorIs(t, err, ErrLinkExpired)
}
