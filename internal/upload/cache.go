package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	// sessionCacheTTL is the time-to-live for cached session snapshots.
	sessionCacheTTL = 5 * time.Minute

	sessionCachePrefix = "upload:session:"
)

// SessionCache keeps read-only session snapshots in Redis to take status
// polling off the database. Mutations invalidate; the store stays
// authoritative.
type SessionCache struct {
	client *redis.Client
}

// NewSessionCache wraps an existing Redis client.
func NewSessionCache(client *redis.Client) *SessionCache {
	return &SessionCache{client: client}
}

// Get retrieves a cached snapshot with tracing; a miss returns (nil, nil).
func (c *SessionCache) Get(ctx context.Context, token string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "redis.get_session",
		trace.WithAttributes(
			attribute.String("session_token", token),
		),
	)
	defer span.End()

	data, err := c.client.Get(ctx, sessionCachePrefix+token).Result()
	if err == redis.Nil {
		span.SetAttributes(
			attribute.Bool("cache_hit", false),
			attribute.String("cache_status", "miss"),
		)
		return nil, nil // Cache miss, not an error
	} else if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get from cache: %w", err)
	}

	var s Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to unmarshal cached session: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("cache_hit", true),
		attribute.String("cache_status", "hit"),
	)
	return &s, nil
}

// Set stores a session snapshot with tracing
func (c *SessionCache) Set(ctx context.Context, s *Session) error {
	ctx, span := tracer.Start(ctx, "redis.set_session",
		trace.WithAttributes(
			attribute.String("session_token", s.Token),
			attribute.String("status", string(s.Status)),
		),
	)
	defer span.End()

	data, err := json.Marshal(s)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := c.client.Set(ctx, sessionCachePrefix+s.Token, data, sessionCacheTTL).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set cache: %w", err)
	}

	span.SetAttributes(attribute.Int64("ttl_seconds", int64(sessionCacheTTL.Seconds())))
	return nil
}

// Invalidate removes a session snapshot with tracing
func (c *SessionCache) Invalidate(ctx context.Context, token string) error {
	ctx, span := tracer.Start(ctx, "redis.invalidate_session",
		trace.WithAttributes(
			attribute.String("session_token", token),
		),
	)
	defer span.End()

	if err := c.client.Del(ctx, sessionCachePrefix+token).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}

	return nil
}
