// Package redis provides the Redis claim store and sorted-set leaderboard
// source.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mndd/notifier/internal/notifications"
)

// topEntries is how much of a sorted set is read per check. Only the head
// matters for leader detection.
const topEntries = 10

// Client wraps a go-redis client.
type Client struct {
	client *redis.Client
	logger *slog.Logger
}

// New connects to url (redis://...) and verifies the connection.
func New(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Client{client: client, logger: logger}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping reports whether Redis is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// claimKey returns the Redis key for one occurrence claim
func claimKey(key, occurrence string) string {
	return fmt.Sprintf("claim:%s:%s", key, occurrence)
}

// leaderboardKey returns the Redis key for a scope's sorted set
func leaderboardKey(scope string) string {
	return fmt.Sprintf("leaderboard:%s:realtime", scope)
}

// labelsKey returns the hash of member display names for a scope
func labelsKey(scope string) string {
	return fmt.Sprintf("leaderboard:%s:labels", scope)
}

// --------------------------------------------------------------------------
// Claims
// --------------------------------------------------------------------------

// ClaimStore claims occurrences with SET NX.
type ClaimStore struct {
	c   *Client
	ttl time.Duration
}

// Claims returns a claim store whose claims expire after ttl. Claims must
// outlive the window in which the same occurrence can come due again.
func (c *Client) Claims(ttl time.Duration) *ClaimStore {
	return &ClaimStore{c: c, ttl: ttl}
}

func (s *ClaimStore) TryClaim(ctx context.Context, key, occurrence string) (bool, error) {
	ok, err := s.c.client.SetNX(ctx, claimKey(key, occurrence), time.Now().UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claiming %s: %w", key, err)
	}
	return ok, nil
}

// --------------------------------------------------------------------------
// Leaderboards
// --------------------------------------------------------------------------

// Ranked reads the head of the scope's sorted set, best first.
func (c *Client) Ranked(ctx context.Context, scope string, order notifications.Order) ([]notifications.RankEntry, error) {
	key := leaderboardKey(scope)

	var (
		results []redis.Z
		err     error
	)
	if order == notifications.OrderAsc {
		results, err = c.client.ZRangeWithScores(ctx, key, 0, topEntries-1).Result()
	} else {
		results, err = c.client.ZRevRangeWithScores(ctx, key, 0, topEntries-1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("reading leaderboard %s: %w", scope, err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	members := make([]string, len(results))
	for i, r := range results {
		members[i] = fmt.Sprint(r.Member)
	}
	labels, err := c.client.HMGet(ctx, labelsKey(scope), members...).Result()
	if err != nil && err != redis.Nil {
		c.logger.Warn("Failed to read leaderboard labels", "scope", scope, "error", err)
		labels = nil
	}

	entries := make([]notifications.RankEntry, len(results))
	for i, r := range results {
		entries[i] = notifications.RankEntry{MemberID: members[i], Metric: r.Score}
		if i < len(labels) {
			if s, ok := labels[i].(string); ok {
				entries[i].Label = s
			}
		}
	}
	return entries, nil
}

// SetScore records a member's metric and display name. Used by producers and
// the CLI.
func (c *Client) SetScore(ctx context.Context, scope, memberID, label string, metric float64) error {
	pipe := c.client.TxPipeline()
	pipe.ZAdd(ctx, leaderboardKey(scope), redis.Z{Score: metric, Member: memberID})
	if label != "" {
		pipe.HSet(ctx, labelsKey(scope), memberID, label)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("setting score: %w", err)
	}
	return nil
}
