package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
)

var errSessionRequired = errors.New("redis cart store: session id is required")

// CartStore keeps cart snapshots as JSON values that expire after the configured TTL. Every save
// pushes the expiry out again, so an active session keeps its cart.
type CartStore struct {
	client Client
	prefix string
	ttl    time.Duration
}

var _ repositories.CartSnapshotStore = (*CartStore)(nil)

// NewCartStore constructs the store. A non-positive ttl keeps carts forever.
func NewCartStore(client Client, prefix string, ttl time.Duration) (*CartStore, error) {
	if client == nil {
		return nil, errClientRequired
	}
	if ttl < 0 {
		ttl = 0
	}
	return &CartStore{client: client, prefix: strings.TrimSpace(prefix), ttl: ttl}, nil
}

func (s *CartStore) key(sessionID string) string {
	return joinKey(s.prefix, "cart", sessionID)
}

// LoadCart returns the snapshot for the session. An absent key reports IsNotFound.
func (s *CartStore) LoadCart(ctx context.Context, sessionID string) (repositories.CartSnapshot, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return repositories.CartSnapshot{}, errSessionRequired
	}
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		return repositories.CartSnapshot{}, wrapError("redis.cart.get", err)
	}
	var snapshot repositories.CartSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return repositories.CartSnapshot{}, fmt.Errorf("redis cart store: decode %s: %w", sessionID, err)
	}
	if snapshot.SessionID == "" {
		snapshot.SessionID = sessionID
	}
	return snapshot, nil
}

// SaveCart replaces the stored snapshot and refreshes its expiry.
func (s *CartStore) SaveCart(ctx context.Context, snapshot repositories.CartSnapshot) error {
	sessionID := strings.TrimSpace(snapshot.SessionID)
	if sessionID == "" {
		return errSessionRequired
	}
	if snapshot.SchemaVersion == 0 {
		snapshot.SchemaVersion = repositories.CartSchemaVersion
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis cart store: encode %s: %w", sessionID, err)
	}
	return wrapError("redis.cart.set", s.client.Set(ctx, s.key(sessionID), payload, s.ttl).Err())
}

// DeleteCart removes the snapshot. Deleting an absent cart succeeds.
func (s *CartStore) DeleteCart(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errSessionRequired
	}
	return wrapError("redis.cart.del", s.client.Del(ctx, s.key(sessionID)).Err())
}
