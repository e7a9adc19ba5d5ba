package firestore

import (
	"context"
	"errors"
	"strings"

	pfirestore "github.com/MosquitoCurtains/new-sub007/internal/platform/firestore"
	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
)

const cartCollection = "carts"

var errCartSessionRequired = errors.New("cart repository: session id is required")

// CartRepository stores one cart snapshot per browsing session, keyed by session ID.
type CartRepository struct {
	carts *pfirestore.Collection[repositories.CartSnapshot]
}

var _ repositories.CartSnapshotStore = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart snapshot store.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	carts, err := pfirestore.NewCollection[repositories.CartSnapshot](provider, cartCollection, nil)
	if err != nil {
		return nil, err
	}
	return &CartRepository{carts: carts}, nil
}

// LoadCart returns the stored snapshot. A session with no document yields a not-found error.
func (r *CartRepository) LoadCart(ctx context.Context, sessionID string) (repositories.CartSnapshot, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return repositories.CartSnapshot{}, errCartSessionRequired
	}
	doc, err := r.carts.Get(ctx, sessionID)
	if err != nil {
		return repositories.CartSnapshot{}, err
	}
	snapshot := doc.Data
	if snapshot.SessionID == "" {
		snapshot.SessionID = doc.ID
	}
	return snapshot, nil
}

// SaveCart replaces the stored snapshot wholesale.
func (r *CartRepository) SaveCart(ctx context.Context, snapshot repositories.CartSnapshot) error {
	sessionID := strings.TrimSpace(snapshot.SessionID)
	if sessionID == "" {
		return errCartSessionRequired
	}
	if snapshot.SchemaVersion == 0 {
		snapshot.SchemaVersion = repositories.CartSchemaVersion
	}
	_, err := r.carts.Set(ctx, sessionID, snapshot)
	return err
}

// DeleteCart removes the snapshot. Deleting an absent cart succeeds.
func (r *CartRepository) DeleteCart(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errCartSessionRequired
	}
	return r.carts.Delete(ctx, sessionID)
}
