package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MosquitoCurtains/new-sub007/internal/platform/idempotency"
)

// IdempotencyStore keeps Idempotency-Key reservations in Redis; expiry is left to key TTLs.
type IdempotencyStore struct {
	client Client
	prefix string
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(client Client, prefix string) (*IdempotencyStore, error) {
	if client == nil {
		return nil, errClientRequired
	}
	return &IdempotencyStore{client: client, prefix: strings.TrimSpace(prefix)}, nil
}

func (s *IdempotencyStore) key(key string) string {
	return joinKey(s.prefix, "idem", key)
}

// Reserve implements idempotency.Store.
func (s *IdempotencyStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (idempotency.Reservation, error) {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	pending := idempotency.Record{Fingerprint: fingerprint, Status: idempotency.StatusPending, CreatedAt: now.UTC()}
	payload, err := json.Marshal(pending)
	if err != nil {
		return idempotency.Reservation{}, fmt.Errorf("redis: encode reservation: %w", err)
	}

	// A second attempt covers a key that expired between SETNX and GET.
	for attempt := 0; attempt < 2; attempt++ {
		stored, err := s.client.SetNX(ctx, s.key(key), payload, ttl).Result()
		if err != nil {
			return idempotency.Reservation{}, wrapError("idempotency.reserve", err)
		}
		if stored {
			return idempotency.Reservation{State: idempotency.ReservationStateNew, Record: pending}, nil
		}

		raw, err := s.client.Get(ctx, s.key(key)).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return idempotency.Reservation{}, wrapError("idempotency.get", err)
		}
		var existing idempotency.Record
		if err := json.Unmarshal(raw, &existing); err != nil {
			return idempotency.Reservation{}, fmt.Errorf("redis: decode reservation: %w", err)
		}
		if existing.Fingerprint != fingerprint {
			return idempotency.Reservation{}, idempotency.ErrFingerprintMismatch
		}
		if existing.Status == idempotency.StatusCompleted {
			return idempotency.Reservation{State: idempotency.ReservationStateCompleted, Record: existing}, nil
		}
		return idempotency.Reservation{State: idempotency.ReservationStatePending, Record: existing}, nil
	}
	return idempotency.Reservation{State: idempotency.ReservationStatePending, Record: pending}, nil
}

// SaveResponse implements idempotency.Store.
func (s *IdempotencyStore) SaveResponse(ctx context.Context, key, fingerprint string, resp idempotency.Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	payload, err := json.Marshal(idempotency.CompletedRecord(fingerprint, resp, now))
	if err != nil {
		return fmt.Errorf("redis: encode response: %w", err)
	}
	return wrapError("idempotency.save", s.client.Set(ctx, s.key(key), payload, ttl).Err())
}

// Release implements idempotency.Store.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return wrapError("idempotency.release", s.client.Del(ctx, s.key(key)).Err())
}
