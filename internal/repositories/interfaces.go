package repositories

import (
	"context"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogSource returns the raw product and pricing records authored by the admin tooling.
// Records are untrusted and are validated by the catalog provider.
type CatalogSource interface {
	FetchCatalog(ctx context.Context) (CatalogRecords, error)
}

// RuleSource returns raw recommendation rule records. Malformed records are dropped by the rule provider.
type RuleSource interface {
	FetchRules(ctx context.Context) ([]RuleRecord, error)
}

// CartSnapshotStore persists cart snapshots keyed by browsing session. Saves always replace the
// whole snapshot; concurrent writers resolve as last-write-wins.
type CartSnapshotStore interface {
	LoadCart(ctx context.Context, sessionID string) (CartSnapshot, error)
	SaveCart(ctx context.Context, snapshot CartSnapshot) error
	DeleteCart(ctx context.Context, sessionID string) error
}

// HealthRepository reports the health of backing dependencies.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
