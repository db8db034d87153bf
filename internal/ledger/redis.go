package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/unishare/uploadsvc/internal/storage"
)

var tracer = otel.Tracer("uploadsvc-ledger")

const reservationKeyPrefix = "space:reservations:"

// RedisLedger keeps one Redis hash per backend, keyed by session token, so
// reservations survive a service restart and are visible to every instance.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger creates a ledger whose reservations expire after ttl.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl}
}

func reservationKey(backend storage.Kind) string {
	return reservationKeyPrefix + string(backend)
}

func (l *RedisLedger) Reserve(ctx context.Context, backend storage.Kind, token string, bytes, available int64) error {
	ctx, span := tracer.Start(ctx, "ledger.reserve",
		trace.WithAttributes(
			attribute.String("backend", string(backend)),
			attribute.String("session_token", token),
			attribute.Int64("bytes", bytes),
		),
	)
	defer span.End()

	active, err := l.sumActive(ctx, backend, token)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if available-active < bytes {
		span.SetAttributes(attribute.Bool("denied", true))
		return fmt.Errorf("%w: %d bytes requested, %d available on %s", ErrDenied, bytes, available-active, backend)
	}

	entry, err := json.Marshal(&Reservation{
		Token:     token,
		Backend:   backend,
		Bytes:     bytes,
		ExpiresAt: time.Now().Add(l.ttl),
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal reservation: %w", err)
	}

	if err := l.client.HSet(ctx, reservationKey(backend), token, entry).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record reservation: %w", err)
	}

	return nil
}

func (l *RedisLedger) Release(ctx context.Context, token string) error {
	ctx, span := tracer.Start(ctx, "ledger.release",
		trace.WithAttributes(
			attribute.String("session_token", token),
		),
	)
	defer span.End()

	// The backend kind is a closed set; removing the token from every hash
	// keeps Release callable with just the session token.
	for _, kind := range storage.Kinds() {
		if err := l.client.HDel(ctx, reservationKey(kind), token).Err(); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to release reservation: %w", err)
		}
	}
	return nil
}

func (l *RedisLedger) TotalActive(ctx context.Context, backend storage.Kind) (int64, error) {
	return l.sumActive(ctx, backend, "")
}

// sumActive totals non-expired reservations for a backend, skipping
// excludeToken, and lazily evicts expired entries along the way.
func (l *RedisLedger) sumActive(ctx context.Context, backend storage.Kind, excludeToken string) (int64, error) {
	entries, err := l.client.HGetAll(ctx, reservationKey(backend)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read reservations: %w", err)
	}

	now := time.Now()
	var total int64
	var expired []string

	for token, raw := range entries {
		var r Reservation
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			log.Printf("Warning: dropping unreadable reservation %s: %v", token, err)
			expired = append(expired, token)
			continue
		}
		if r.expired(now) {
			expired = append(expired, token)
			continue
		}
		if token == excludeToken {
			continue
		}
		total += r.Bytes
	}

	if len(expired) > 0 {
		if err := l.client.HDel(ctx, reservationKey(backend), expired...).Err(); err != nil {
			log.Printf("Warning: failed to evict expired reservations: %v", err)
		}
	}

	return total, nil
}
