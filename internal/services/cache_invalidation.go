package services

import (
	"context"
	"errors"
)

type cacheInvalidation struct {
	catalog CatalogProvider
	rules   RuleProvider
	logger  func(context.Context, string, map[string]any)
}

// NewCacheInvalidation returns a CacheInvalidator that drops both provider caches and warms them again.
func NewCacheInvalidation(catalog CatalogProvider, rules RuleProvider, logger func(context.Context, string, map[string]any)) (CacheInvalidator, error) {
	if catalog == nil {
		return nil, errors.New("cache invalidation: catalog provider is required")
	}
	if logger == nil {
		logger = noopLogger
	}
	return &cacheInvalidation{catalog: catalog, rules: rules, logger: logger}, nil
}

func (c *cacheInvalidation) InvalidateCaches(ctx context.Context, reason string) error {
	c.catalog.Invalidate()
	if c.rules != nil {
		c.rules.Invalidate()
	}

	var errs []error
	snap, err := c.catalog.Refresh(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	ruleCount := 0
	if c.rules != nil {
		rules, err := c.rules.Refresh(ctx)
		if err != nil {
			errs = append(errs, err)
		}
		ruleCount = len(rules)
	}

	fields := map[string]any{
		"reason":         reason,
		"catalogVersion": snap.Version,
		"rules":          ruleCount,
	}
	if len(errs) > 0 {
		fields["error"] = errors.Join(errs...).Error()
	}
	c.logger(ctx, "caches.invalidated", fields)
	return errors.Join(errs...)
}
