package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
	"github.com/MosquitoCurtains/new-sub007/internal/repositories"
)

var (
	errCartStoreRequired   = errors.New("cart service: snapshot store is required")
	errCartCatalogRequired = errors.New("cart service: catalog provider is required")
	errCartSnapshotUnread  = errors.New("cart service: stored snapshot could not be read")
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = errors.New("cart service: invalid input")
	// ErrCartItemNotFound indicates the line item does not exist in the session cart.
	ErrCartItemNotFound = errors.New("cart service: item not found")
	// ErrCartItemUnpriceable indicates a stale item can no longer be priced and must be removed.
	ErrCartItemUnpriceable = errors.New("cart service: item cannot be priced")
	// ErrCartEmpty blocks checkout of a cart without items.
	ErrCartEmpty = errors.New("cart service: cart is empty")
	// ErrCartPersistence blocks checkout of a cart that only lives in session memory.
	ErrCartPersistence = errors.New("cart service: cart is not persisted")
	// ErrCartHasStaleItems blocks checkout until every re-price is acknowledged.
	ErrCartHasStaleItems = errors.New("cart service: cart has unacknowledged price changes")
)

// Checkout blocker codes.
const (
	BlockerCartEmpty        = "cart_empty"
	BlockerCartNotPersisted = "cart_not_persisted"
	BlockerStaleItems       = "stale_items"
	BlockerPricesUnverified = "prices_unverified"
)

// AddConfigurationCommand adds one priced configuration to a session cart.
type AddConfigurationCommand struct {
	SessionID     string
	Configuration PanelConfiguration
}

// AddConfigurationResult carries the new line, its accessory recommendations and the updated cart.
type AddConfigurationResult struct {
	LineItem        CartLineItem
	Recommendations []RecommendedItem
	RuleErrors      []RuleError
	Cart            Cart
}

// AddCatalogItemCommand adds a plain catalog item such as a recommended accessory.
type AddCatalogItemCommand struct {
	SessionID  string
	ProductKey string
	OptionKey  string
	Quantity   int
}

// UpdateQuantityCommand sets the quantity of an existing line.
type UpdateQuantityCommand struct {
	SessionID string
	ItemID    string
	Quantity  int
}

// CheckoutReadiness reports whether the cart may proceed to checkout.
type CheckoutReadiness struct {
	Ready    bool
	Blockers []string
	Totals   CartTotals
}

// Err returns the blockers as joined sentinel errors, or nil when ready.
func (r CheckoutReadiness) Err() error {
	var errs []error
	for _, blocker := range r.Blockers {
		switch blocker {
		case BlockerCartEmpty:
			errs = append(errs, ErrCartEmpty)
		case BlockerCartNotPersisted:
			errs = append(errs, ErrCartPersistence)
		case BlockerStaleItems:
			errs = append(errs, ErrCartHasStaleItems)
		case BlockerPricesUnverified:
			errs = append(errs, ErrCatalogUnavailable)
		}
	}
	return errors.Join(errs...)
}

// CartServiceDeps wires storage, catalog and rule dependencies for cart operations.
type CartServiceDeps struct {
	Store           repositories.CartSnapshotStore
	Catalog         CatalogProvider
	Rules           RuleProvider
	Clock           func() time.Time
	Logger          func(context.Context, string, map[string]any)
	Metrics         Metrics
	IDGenerator     func() string
	DefaultCurrency string
}

type cartService struct {
	store    repositories.CartSnapshotStore
	catalog  CatalogProvider
	rules    RuleProvider
	now      func() time.Time
	logger   func(context.Context, string, map[string]any)
	metrics  Metrics
	newID    func() string
	currency string

	// memoryCart values for carts that could not be written, keyed by session ID
	memory sync.Map
}

// NewCartService constructs a CartService enforcing dependency validation.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Store == nil {
		return nil, errCartStoreRequired
	}
	if deps.Catalog == nil {
		return nil, errCartCatalogRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.DefaultCurrency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	return &cartService{
		store:    deps.Store,
		catalog:  deps.Catalog,
		rules:    deps.Rules,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		metrics:  metrics,
		newID:    idGen,
		currency: currency,
	}, nil
}

func (s *cartService) GetCart(ctx context.Context, sessionID string) (Cart, error) {
	cart, _, err := s.load(ctx, sessionID)
	return cart, err
}

func (s *cartService) AddConfiguration(ctx context.Context, cmd AddConfigurationCommand) (AddConfigurationResult, error) {
	sessionID, err := requireSession(cmd.SessionID)
	if err != nil {
		return AddConfigurationResult{}, err
	}
	cfg := cmd.Configuration.Normalised()

	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return AddConfigurationResult{}, err
	}
	breakdown, err := Quote(cfg, snap)
	if err != nil {
		s.metrics.RecordQuote(ctx, cfg.ProductKey, pricingErrorCode(err))
		return AddConfigurationResult{}, err
	}
	s.metrics.RecordQuote(ctx, cfg.ProductKey, "ok")

	recommendations, ruleErrs := s.recommend(ctx, cfg, breakdown, snap)

	cart, loaded, err := s.load(ctx, sessionID)
	if err != nil {
		return AddConfigurationResult{}, err
	}
	if len(cart.Items) == 0 {
		cart.Currency = snap.Currency
	}

	now := s.now()
	item := CartLineItem{
		ID:             s.newID(),
		Kind:           domain.LineItemConfigured,
		Configuration:  &cfg,
		ProductKey:     cfg.ProductKey,
		OptionKey:      domain.OptionKey(domain.OptionNamespaceMesh, cfg.MeshType),
		Label:          cfg.Summary(),
		Quantity:       cfg.Quantity,
		Price:          breakdown,
		CatalogVersion: snap.Version,
		PricedAt:       now,
		AddedAt:        now,
		State:          domain.LineStateDraft,
	}
	transition(&item, domain.LineStatePriced)
	cart.Items = append(cart.Items, item)

	s.persist(ctx, &cart, loaded)

	return AddConfigurationResult{
		LineItem:        cart.Items[len(cart.Items)-1].Clone(),
		Recommendations: recommendations,
		RuleErrors:      ruleErrs,
		Cart:            cart,
	}, nil
}

func (s *cartService) AddCatalogItem(ctx context.Context, cmd AddCatalogItemCommand) (Cart, error) {
	sessionID, err := requireSession(cmd.SessionID)
	if err != nil {
		return Cart{}, err
	}
	if cmd.Quantity <= 0 {
		return Cart{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}
	productKey := domain.NormaliseKey(cmd.ProductKey)
	optionKey := domain.NormaliseKey(cmd.OptionKey)
	if productKey == "" || optionKey == "" {
		return Cart{}, fmt.Errorf("%w: product and option are required", ErrCartInvalidInput)
	}

	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return Cart{}, err
	}
	breakdown, err := QuoteCatalogItem(productKey, optionKey, cmd.Quantity, snap)
	if err != nil {
		s.metrics.RecordQuote(ctx, productKey, pricingErrorCode(err))
		return Cart{}, err
	}
	s.metrics.RecordQuote(ctx, productKey, "ok")

	cart, loaded, err := s.load(ctx, sessionID)
	if err != nil {
		return Cart{}, err
	}
	if len(cart.Items) == 0 {
		cart.Currency = snap.Currency
	}

	merged := false
	for idx := range cart.Items {
		existing := &cart.Items[idx]
		if existing.Kind != domain.LineItemCatalogItem || existing.State == domain.LineStateStale {
			continue
		}
		if existing.ProductKey != productKey || existing.OptionKey != optionKey {
			continue
		}
		quantity := existing.Quantity + cmd.Quantity
		if quantity > domain.MaxQuantity {
			return Cart{}, fmt.Errorf("%w: quantity %d exceeds %d", ErrCartInvalidInput, quantity, domain.MaxQuantity)
		}
		price, err := existing.Price.WithQuantity(quantity)
		if err != nil {
			return Cart{}, domain.NewPricingError(domain.PricingErrorInvalidDimensions, productKey, optionKey, err.Error())
		}
		existing.Quantity = quantity
		existing.Price = price
		merged = true
		break
	}
	if !merged {
		now := s.now()
		item := CartLineItem{
			ID:             s.newID(),
			Kind:           domain.LineItemCatalogItem,
			ProductKey:     productKey,
			OptionKey:      optionKey,
			Label:          breakdown.Lines[0].Label,
			Quantity:       cmd.Quantity,
			Price:          breakdown,
			CatalogVersion: snap.Version,
			PricedAt:       now,
			AddedAt:        now,
			State:          domain.LineStateDraft,
		}
		transition(&item, domain.LineStatePriced)
		cart.Items = append(cart.Items, item)
	}

	s.persist(ctx, &cart, loaded)
	return cart, nil
}

func (s *cartService) UpdateQuantity(ctx context.Context, cmd UpdateQuantityCommand) (Cart, error) {
	if cmd.Quantity <= 0 || cmd.Quantity > domain.MaxQuantity {
		return Cart{}, fmt.Errorf("%w: quantity must be between 1 and %d", ErrCartInvalidInput, domain.MaxQuantity)
	}
	cart, loaded, err := s.load(ctx, cmd.SessionID)
	if err != nil {
		return Cart{}, err
	}
	idx := indexOfItem(cart.Items, cmd.ItemID)
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, cmd.ItemID)
	}
	item := &cart.Items[idx]
	if item.Quantity == cmd.Quantity {
		return cart, nil
	}

	price, err := item.Price.WithQuantity(cmd.Quantity)
	if err != nil {
		return Cart{}, domain.NewPricingError(domain.PricingErrorInvalidDimensions, item.ProductKey, item.OptionKey, err.Error())
	}
	var repriced *PriceBreakdown
	if item.RepricedBreakdown != nil {
		next, err := item.RepricedBreakdown.WithQuantity(cmd.Quantity)
		if err != nil {
			return Cart{}, domain.NewPricingError(domain.PricingErrorInvalidDimensions, item.ProductKey, item.OptionKey, err.Error())
		}
		repriced = &next
	}
	item.Quantity = cmd.Quantity
	item.Price = price
	item.RepricedBreakdown = repriced
	if item.Configuration != nil {
		cfg := item.Configuration.WithQuantity(cmd.Quantity)
		item.Configuration = &cfg
	}

	s.persist(ctx, &cart, loaded)
	return cart, nil
}

func (s *cartService) RemoveItem(ctx context.Context, sessionID, itemID string) (Cart, error) {
	cart, loaded, err := s.load(ctx, sessionID)
	if err != nil {
		return Cart{}, err
	}
	idx := indexOfItem(cart.Items, itemID)
	if idx < 0 {
		return cart, nil
	}
	removed := cart.Items[idx]
	transition(&removed, domain.LineStateRemoved)
	cart.Items = append(cart.Items[:idx:idx], cart.Items[idx+1:]...)

	s.persist(ctx, &cart, loaded)
	s.logger(ctx, "cart.item_removed", map[string]any{
		"sessionId": cart.SessionID,
		"itemId":    removed.ID,
		"state":     string(removed.State),
	})
	return cart, nil
}

func (s *cartService) AcknowledgeReprice(ctx context.Context, sessionID, itemID string) (Cart, error) {
	cart, loaded, err := s.load(ctx, sessionID)
	if err != nil {
		return Cart{}, err
	}
	idx := indexOfItem(cart.Items, itemID)
	if idx < 0 {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, itemID)
	}
	item := &cart.Items[idx]
	if item.State != domain.LineStateStale {
		return cart, nil
	}
	if item.RepricedBreakdown == nil {
		return Cart{}, fmt.Errorf("%w: %s", ErrCartItemUnpriceable, item.PricingIssue)
	}
	s.adoptReprice(item, loaded.version)
	s.persist(ctx, &cart, loaded)
	return cart, nil
}

func (s *cartService) AcknowledgeAll(ctx context.Context, sessionID string) (Cart, error) {
	cart, loaded, err := s.load(ctx, sessionID)
	if err != nil {
		return Cart{}, err
	}
	changed := false
	for idx := range cart.Items {
		item := &cart.Items[idx]
		if item.State == domain.LineStateStale && item.RepricedBreakdown != nil {
			s.adoptReprice(item, loaded.version)
			changed = true
		}
	}
	if !changed {
		return cart, nil
	}
	s.persist(ctx, &cart, loaded)
	return cart, nil
}

func (s *cartService) ClearCart(ctx context.Context, sessionID string) (Cart, error) {
	sessionID, err := requireSession(sessionID)
	if err != nil {
		return Cart{}, err
	}
	cart := s.emptyCart(sessionID)
	cart.UpdatedAt = s.now()
	if err := s.store.DeleteCart(ctx, sessionID); err != nil && !isRepositoryNotFound(err) {
		s.degrade(ctx, &cart, false, "cart.clear_failed", err)
		return cart, nil
	}
	s.memory.Delete(sessionID)
	cart.Persisted = true
	return cart, nil
}

func (s *cartService) Totals(ctx context.Context, sessionID string) (CartTotals, error) {
	cart, _, err := s.load(ctx, sessionID)
	if err != nil {
		return CartTotals{}, err
	}
	return domain.ComputeCartTotals(cart.Currency, cart.Items), nil
}

func (s *cartService) CheckoutReadiness(ctx context.Context, sessionID string) (CheckoutReadiness, error) {
	cart, _, err := s.load(ctx, sessionID)
	if err != nil {
		return CheckoutReadiness{}, err
	}
	totals := domain.ComputeCartTotals(cart.Currency, cart.Items)
	readiness := CheckoutReadiness{Totals: totals}
	if len(cart.Items) == 0 {
		readiness.Blockers = append(readiness.Blockers, BlockerCartEmpty)
	}
	if !cart.Persisted {
		readiness.Blockers = append(readiness.Blockers, BlockerCartNotPersisted)
	}
	if totals.StaleCount > 0 {
		readiness.Blockers = append(readiness.Blockers, BlockerStaleItems)
	}
	if cart.HasWarning(domain.WarningPricesUnverified) {
		readiness.Blockers = append(readiness.Blockers, BlockerPricesUnverified)
	}
	readiness.Ready = len(readiness.Blockers) == 0
	return readiness, nil
}

// memoryCart is a cart held in session memory after a failed write. A detached cart was built
// without reading the stored snapshot, so its lines are merged into that snapshot rather than
// replacing it.
type memoryCart struct {
	cart     Cart
	detached bool
}

// cartLoad records how load obtained a cart.
type cartLoad struct {
	// version is the catalog version the cart was checked against, empty when the catalog could
	// not be reached.
	version string
	// detached is set when the stored snapshot could not be read. persist never writes a detached
	// cart over the store.
	detached bool
}

// load restores the session cart and revalidates it. A session-memory copy is folded into the
// stored snapshot and flushed as soon as the store can be read again.
func (s *cartService) load(ctx context.Context, sessionID string) (Cart, cartLoad, error) {
	sessionID, err := requireSession(sessionID)
	if err != nil {
		return Cart{}, cartLoad{}, err
	}

	var pending *memoryCart
	if cached, ok := s.memory.Load(sessionID); ok {
		entry := cached.(memoryCart)
		pending = &entry
	}

	var (
		cart   Cart
		loaded cartLoad
	)
	snapshot, err := s.store.LoadCart(ctx, sessionID)
	switch {
	case err == nil:
		decoded, skipped := repositories.DecodeCart(snapshot)
		cart = decoded
		cart.SessionID = sessionID
		if len(skipped) > 0 {
			cart.AddWarning(domain.WarningRecordsSkipped)
			s.logger(ctx, "cart.records_skipped", map[string]any{
				"sessionId": sessionID,
				"records":   skipped,
			})
		}
	case isRepositoryNotFound(err):
		cart = s.emptyCart(sessionID)
		cart.Persisted = true
	default:
		cart = s.emptyCart(sessionID)
		cart.AddWarning(domain.WarningCartNotPersisted)
		loaded.detached = true
		s.logger(ctx, "cart.load_failed", map[string]any{
			"sessionId": sessionID,
			"error":     err.Error(),
		})
	}

	if pending != nil {
		read := !loaded.detached
		switch {
		case !read:
			cart = pending.cart.Clone()
			cart.Warnings = nil
			loaded.detached = pending.detached
		case pending.detached:
			cart = mergeDetached(cart, pending.cart)
		default:
			cart = pending.cart.Clone()
			cart.Warnings = nil
		}
		cart.Persisted = false
		cart.AddWarning(domain.WarningCartNotPersisted)
		if read {
			s.persist(ctx, &cart, loaded)
		}
	}
	if cart.Currency == "" {
		cart.Currency = s.currency
	}

	loaded.version = s.revalidate(ctx, &cart)
	return cart, loaded, nil
}

// mergeDetached appends the lines added while the store was unreadable to the stored cart.
func mergeDetached(stored, detached Cart) Cart {
	merged := stored.Clone()
	for _, item := range detached.Items {
		if indexOfItem(merged.Items, item.ID) < 0 {
			merged.Items = append(merged.Items, item.Clone())
		}
	}
	if len(stored.Items) == 0 && detached.Currency != "" {
		merged.Currency = detached.Currency
	}
	return merged
}

// revalidate re-quotes every line against the current catalog. Lines whose price moved become stale
// and keep displaying their stored price.
func (s *cartService) revalidate(ctx context.Context, cart *Cart) string {
	if len(cart.Items) == 0 {
		return ""
	}
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		cart.AddWarning(domain.WarningPricesUnverified)
		s.logger(ctx, "cart.revalidate_skipped", map[string]any{
			"sessionId": cart.SessionID,
			"error":     err.Error(),
		})
		return ""
	}

	fresh := domain.LineStatePriced
	if cart.Persisted {
		fresh = domain.LineStatePersisted
	}
	stale := 0
	for idx := range cart.Items {
		item := &cart.Items[idx]
		current, err := requote(*item, snap)
		switch {
		case err != nil:
			item.RepricedBreakdown = nil
			item.PricingIssue = err.Error()
			transition(item, domain.LineStateStale)
		case !current.SamePrice(item.Price):
			item.RepricedBreakdown = &current
			item.PricingIssue = ""
			transition(item, domain.LineStateStale)
		default:
			item.RepricedBreakdown = nil
			item.PricingIssue = ""
			transition(item, fresh)
		}
		if item.State == domain.LineStateStale {
			stale++
		}
	}
	if stale > 0 {
		cart.AddWarning(domain.WarningPricesChanged)
		s.metrics.RecordStaleItems(ctx, stale)
	}
	return snap.Version
}

// persist rewrites the whole snapshot. A failed write, or a cart whose stored snapshot could not
// be read, is kept in session memory instead.
func (s *cartService) persist(ctx context.Context, cart *Cart, loaded cartLoad) {
	cart.UpdatedAt = s.now()
	if loaded.detached {
		s.degrade(ctx, cart, true, "cart.persist_deferred", errCartSnapshotUnread)
		return
	}
	snapshot := repositories.EncodeCart(*cart, cart.UpdatedAt)
	if err := s.store.SaveCart(ctx, snapshot); err != nil {
		s.degrade(ctx, cart, false, "cart.persist_failed", err)
		return
	}
	s.memory.Delete(cart.SessionID)
	cart.Persisted = true
	cart.Warnings = removeWarning(cart.Warnings, domain.WarningCartNotPersisted)
	for idx := range cart.Items {
		if cart.Items[idx].State != domain.LineStateStale {
			transition(&cart.Items[idx], domain.LineStatePersisted)
		}
	}
}

func (s *cartService) degrade(ctx context.Context, cart *Cart, detached bool, event string, err error) {
	cart.Persisted = false
	cart.AddWarning(domain.WarningCartNotPersisted)
	s.memory.Store(cart.SessionID, memoryCart{cart: cart.Clone(), detached: detached})
	s.logger(ctx, event, map[string]any{
		"sessionId": cart.SessionID,
		"items":     len(cart.Items),
		"detached":  detached,
		"error":     err.Error(),
	})
}

func (s *cartService) adoptReprice(item *CartLineItem, version string) {
	item.Price = item.RepricedBreakdown.Clone()
	item.RepricedBreakdown = nil
	item.PricingIssue = ""
	if version != "" {
		item.CatalogVersion = version
	}
	item.PricedAt = s.now()
	transition(item, domain.LineStatePriced)
}

func (s *cartService) recommend(ctx context.Context, cfg PanelConfiguration, breakdown PriceBreakdown, snap CatalogSnapshot) ([]RecommendedItem, []RuleError) {
	if s.rules == nil {
		return nil, nil
	}
	rules, err := s.rules.ActiveRules(ctx)
	if err != nil {
		s.logger(ctx, "cart.rules_unavailable", map[string]any{"error": err.Error()})
		return nil, nil
	}
	items, ruleErrs := Recommend(cfg, breakdown, rules, snap)
	for _, ruleErr := range ruleErrs {
		s.logger(ctx, "recommendation.rule_failed", map[string]any{
			"ruleId": ruleErr.RuleID,
			"reason": ruleErr.Reason,
		})
	}
	return items, ruleErrs
}

func (s *cartService) emptyCart(sessionID string) Cart {
	return Cart{SessionID: sessionID, Currency: s.currency, Items: []CartLineItem{}}
}

func requote(item CartLineItem, snap CatalogSnapshot) (PriceBreakdown, error) {
	if item.Kind == domain.LineItemConfigured {
		if item.Configuration == nil {
			return PriceBreakdown{}, domain.NewPricingError(domain.PricingErrorProductUnpriced, item.ProductKey, item.OptionKey, "configuration missing")
		}
		return Quote(item.Configuration.WithQuantity(item.Quantity), snap)
	}
	return QuoteCatalogItem(item.ProductKey, item.OptionKey, item.Quantity, snap)
}

func transition(item *CartLineItem, next domain.LineItemState) {
	if item.State.CanTransition(next) {
		item.State = next
	}
}

func indexOfItem(items []CartLineItem, itemID string) int {
	itemID = strings.TrimSpace(itemID)
	for idx, item := range items {
		if item.ID == itemID {
			return idx
		}
	}
	return -1
}

func removeWarning(warnings []string, code string) []string {
	out := warnings[:0]
	for _, warning := range warnings {
		if warning != code {
			out = append(out, warning)
		}
	}
	return out
}

func requireSession(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", fmt.Errorf("%w: session id is required", ErrCartInvalidInput)
	}
	return sessionID, nil
}

func isRepositoryNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
