package redis

import (
	"context"
	"errors"
	"strings"
	"time"
)

const minNonceTTL = time.Second

// NonceStore records signed-request nonces with SETNX so a replay is rejected on every instance.
type NonceStore struct {
	client Client
	prefix string
	now    func() time.Time
}

// NewNonceStore constructs the store.
func NewNonceStore(client Client, prefix string) (*NonceStore, error) {
	if client == nil {
		return nil, errClientRequired
	}
	return &NonceStore{client: client, prefix: strings.TrimSpace(prefix), now: time.Now}, nil
}

// UseNonce stores the nonce until expiry. It returns false when the nonce was already used within
// the scope.
func (s *NonceStore) UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return false, errors.New("redis nonce store: nonce is required")
	}
	ttl := expiry.Sub(s.now())
	if ttl < minNonceTTL {
		ttl = minNonceTTL
	}
	stored, err := s.client.SetNX(ctx, joinKey(s.prefix, "nonce", scope, nonce), 1, ttl).Result()
	if err != nil {
		return false, wrapError("redis.nonce.setnx", err)
	}
	return stored, nil
}
