// Package cache keeps short-lived lookups in Redis: collection settings on
// the hot query path and opaque review-feedback links.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vektorlab/passage/internal/metrics"
	"github.com/vektorlab/passage/internal/models"
)

// FeedbackLinkTTL bounds how long a review link stays valid.
const FeedbackLinkTTL = 24 * time.Hour

// collection settings change rarely; a short TTL keeps updates visible
// without hitting Postgres per query.
const settingsTTL = 5 * time.Minute

// ErrLinkExpired is returned when a feedback reference is unknown or past
// its TTL.
var ErrLinkExpired = errors.New("feedback link expired")

// Cache wraps one Redis client.
type Cache struct {
	cli redis.UniversalClient
}

// New wraps an existing Redis client.
func New(cli redis.UniversalClient) *Cache {
	return &Cache{cli: cli}
}

func collectionKey(id string) string { return "col:" + id }
func linkKey(ref string) string      { return "fblink:" + ref }

// GetCollection returns a cached collection, or false on miss.
func (c *Cache) GetCollection(ctx context.Context, id string) (models.Collection, bool) {
	buf, err := c.cli.Get(ctx, collectionKey(id)).Bytes()
	if err != nil {
		metrics.CacheMisses.WithLabelValues("collection").Inc()
		return models.Collection{}, false
	}
	var col models.Collection
	if err := json.Unmarshal(buf, &col); err != nil {
		return models.Collection{}, false
	}
	metrics.CacheHits.WithLabelValues("collection").Inc()
	return col, true
}

// SetCollection caches a collection. Errors are dropped; the store remains
// the source of truth.
func (c *Cache) SetCollection(ctx context.Context, col models.Collection) {
	buf, err := json.Marshal(col)
	if err != nil {
		return
	}
	_ = c.cli.Set(ctx, collectionKey(col.ID), buf, settingsTTL).Err()
}

// InvalidateCollection drops a cached collection after an update or delete.
func (c *Cache) InvalidateCollection(ctx context.Context, id string) {
	_ = c.cli.Del(ctx, collectionKey(id)).Err()
}

// FeedbackLink maps an opaque reference to the vote it authorizes.
type FeedbackLink struct {
	Query        string `json:"query"`
	CollectionID string `json:"collectionId"`
	ChunkID      string `json:"chunkId"`
	ResourceID   string `json:"resourceId"`
	OwnerID      string `json:"ownerId"`
}

// PutFeedbackLink stores a review link under referenceID for FeedbackLinkTTL.
func (c *Cache) PutFeedbackLink(ctx context.Context, referenceID string, link FeedbackLink) error {
	buf, err := json.Marshal(link)
	if err != nil {
		return err
	}
	if err := c.cli.Set(ctx, linkKey(referenceID), buf, FeedbackLinkTTL).Err(); err != nil {
		return fmt.Errorf("store feedback link: %w", err)
	}
	return nil
}

// GetFeedbackLink resolves a review link. Unknown or expired references
// return ErrLinkExpired.
func (c *Cache) GetFeedbackLink(ctx context.Context, referenceID string) (FeedbackLink, error) {
	buf, err := c.cli.Get(ctx, linkKey(referenceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return FeedbackLink{}, ErrLinkExpired
	}
	if err != nil {
		return FeedbackLink{}, fmt.Errorf("load feedback link: %w", err)
	}
	var link FeedbackLink
	if err := json.Unmarshal(buf, &link); err != nil {
		return FeedbackLink{}, fmt.Errorf("decode feedback link: %w", err)
	}
	return link, nil
}

// Ping reports Redis reachability for health checks.
func (c *Cache) Ping(ctx context.Context) error {
	return c.cli.Ping(ctx).Err()
}
