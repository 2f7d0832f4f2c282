package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cspwatch/cspwatch/internal/violations/domain"
)

const (
	feedKeyPrefix     = "csp:feed:"     // Recent reports per project: csp:feed:{project_id}
	feedChannelPrefix = "csp:events:"   // Pub/Sub channel per project: csp:events:{project_id}
	feedTTL           = 24 * time.Hour  // Feed entries outlive bursts but not quiet days
	feedMaxEntries    = 100             // LTRIM bound per project
)

// FeedRepository keeps the per-project live feed in Redis and fans new
// entries out to subscribers.
type FeedRepository struct {
	client *redis.Client
}

func NewFeedRepository(client *redis.Client) *FeedRepository {
	return &FeedRepository{client: client}
}

// Push prepends an entry to the project feed and publishes it. The feed
// is trimmed to its bound and refreshed to live another feedTTL.
func (r *FeedRepository) Push(ctx context.Context, entry domain.FeedEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal feed entry: %w", err)
	}

	key := r.feedKey(entry.ProjectID)

	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, feedMaxEntries-1)
	pipe.Expire(ctx, key, feedTTL)
	pipe.Publish(ctx, r.feedChannel(entry.ProjectID), data)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push feed entry: %w", err)
	}
	return nil
}

// Recent returns the newest feed entries, newest first.
func (r *FeedRepository) Recent(ctx context.Context, projectID string, limit int) ([]domain.FeedEntry, error) {
	if limit <= 0 || limit > feedMaxEntries {
		limit = feedMaxEntries
	}

	raw, err := r.client.LRange(ctx, r.feedKey(projectID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read feed: %w", err)
	}

	entries := make([]domain.FeedEntry, 0, len(raw))
	for _, item := range raw {
		var entry domain.FeedEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal feed entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Subscribe opens a pub/sub subscription on the project's feed channel.
// The caller owns the subscription and must Close it.
func (r *FeedRepository) Subscribe(ctx context.Context, projectID string) *redis.PubSub {
	return r.client.Subscribe(ctx, r.feedChannel(projectID))
}

func (r *FeedRepository) feedKey(projectID string) string {
	return feedKeyPrefix + projectID
}

func (r *FeedRepository) feedChannel(projectID string) string {
	return feedChannelPrefix + projectID
}
