package repositories

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
)

// CartSchemaVersion is the current layout of persisted cart snapshots.
const CartSchemaVersion = 1

// CartSnapshot is the persisted form of a cart. Stale markers and re-priced breakdowns are
// recomputed on load and never stored.
type CartSnapshot struct {
	SchemaVersion int              `json:"schemaVersion" firestore:"schemaVersion"`
	SessionID     string           `json:"sessionId" firestore:"sessionId"`
	Currency      string           `json:"currency" firestore:"currency"`
	Items         []CartItemRecord `json:"items" firestore:"items"`
	SavedAt       time.Time        `json:"savedAt" firestore:"savedAt"`
}

// CartItemRecord is the persisted form of a cart line item. Line state is not stored; it is
// recomputed on load.
type CartItemRecord struct {
	ID             string               `json:"id" firestore:"id"`
	Kind           string               `json:"kind" firestore:"kind"`
	Configuration  *ConfigurationRecord `json:"configuration,omitempty" firestore:"configuration,omitempty"`
	ProductKey     string               `json:"productKey" firestore:"productKey"`
	OptionKey      string               `json:"optionKey,omitempty" firestore:"optionKey,omitempty"`
	Label          string               `json:"label" firestore:"label"`
	Quantity       int                  `json:"quantity" firestore:"quantity"`
	Price          PriceRecord          `json:"price" firestore:"price"`
	CatalogVersion string               `json:"catalogVersion,omitempty" firestore:"catalogVersion,omitempty"`
	PricedAt       time.Time            `json:"pricedAt" firestore:"pricedAt"`
	AddedAt        time.Time            `json:"addedAt" firestore:"addedAt"`
}

// ConfigurationRecord stores panel dimensions as decimal strings.
type ConfigurationRecord struct {
	ProductKey  string   `json:"productKey" firestore:"productKey"`
	Width       string   `json:"width,omitempty" firestore:"width,omitempty"`
	Height      string   `json:"height,omitempty" firestore:"height,omitempty"`
	Length      string   `json:"length,omitempty" firestore:"length,omitempty"`
	MeshType    string   `json:"meshType,omitempty" firestore:"meshType,omitempty"`
	Color       string   `json:"color,omitempty" firestore:"color,omitempty"`
	Attachments []string `json:"attachments,omitempty" firestore:"attachments,omitempty"`
	Quantity    int      `json:"quantity" firestore:"quantity"`
}

// PriceRecord is the stored price snapshot of a line item in minor units.
type PriceRecord struct {
	Currency string       `json:"currency" firestore:"currency"`
	Lines    []LineRecord `json:"lines" firestore:"lines"`
	Total    int64        `json:"total" firestore:"total"`
}

// LineRecord is one stored breakdown line.
type LineRecord struct {
	Kind       string `json:"kind" firestore:"kind"`
	Label      string `json:"label" firestore:"label"`
	ProductKey string `json:"productKey" firestore:"productKey"`
	OptionKey  string `json:"optionKey" firestore:"optionKey"`
	Unit       string `json:"unit" firestore:"unit"`
	Measure    string `json:"measure" firestore:"measure"`
	UnitPrice  int64  `json:"unitPrice" firestore:"unitPrice"`
	Quantity   int    `json:"quantity" firestore:"quantity"`
	LineTotal  int64  `json:"lineTotal" firestore:"lineTotal"`
}

// EncodeCart converts a cart into its persisted snapshot. Removed items are dropped.
func EncodeCart(cart domain.Cart, savedAt time.Time) CartSnapshot {
	snapshot := CartSnapshot{
		SchemaVersion: CartSchemaVersion,
		SessionID:     cart.SessionID,
		Currency:      cart.Currency,
		Items:         make([]CartItemRecord, 0, len(cart.Items)),
		SavedAt:       savedAt.UTC(),
	}
	for _, item := range cart.Items {
		if item.State == domain.LineStateRemoved {
			continue
		}
		record := CartItemRecord{
			ID:             item.ID,
			Kind:           string(item.Kind),
			ProductKey:     item.ProductKey,
			OptionKey:      item.OptionKey,
			Label:          item.Label,
			Quantity:       item.Quantity,
			Price:          encodePrice(item.Price),
			CatalogVersion: item.CatalogVersion,
			PricedAt:       item.PricedAt.UTC(),
			AddedAt:        item.AddedAt.UTC(),
		}
		if item.Configuration != nil {
			record.Configuration = encodeConfiguration(*item.Configuration)
		}
		snapshot.Items = append(snapshot.Items, record)
	}
	return snapshot
}

// DecodeCart restores a cart from a snapshot. Records that cannot be decoded are skipped and
// their identifiers returned so the caller can surface a warning.
func DecodeCart(snapshot CartSnapshot) (domain.Cart, []string) {
	cart := domain.Cart{
		SessionID: snapshot.SessionID,
		Currency:  snapshot.Currency,
		Items:     make([]domain.CartLineItem, 0, len(snapshot.Items)),
		Persisted: true,
		UpdatedAt: snapshot.SavedAt,
	}
	var skipped []string
	for idx, record := range snapshot.Items {
		item, err := decodeItem(record)
		if err != nil {
			id := strings.TrimSpace(record.ID)
			if id == "" {
				id = fmt.Sprintf("#%d", idx)
			}
			skipped = append(skipped, id)
			continue
		}
		cart.Items = append(cart.Items, item)
	}
	return cart, skipped
}

func decodeItem(record CartItemRecord) (domain.CartLineItem, error) {
	if strings.TrimSpace(record.ID) == "" {
		return domain.CartLineItem{}, fmt.Errorf("cart snapshot: item id missing")
	}
	if record.Quantity <= 0 {
		return domain.CartLineItem{}, fmt.Errorf("cart snapshot: item %s has quantity %d", record.ID, record.Quantity)
	}
	price, err := decodePrice(record.Price)
	if err != nil {
		return domain.CartLineItem{}, fmt.Errorf("cart snapshot: item %s: %w", record.ID, err)
	}

	item := domain.CartLineItem{
		ID:             record.ID,
		Kind:           domain.LineItemKind(record.Kind),
		ProductKey:     record.ProductKey,
		OptionKey:      record.OptionKey,
		Label:          record.Label,
		Quantity:       record.Quantity,
		Price:          price,
		CatalogVersion: record.CatalogVersion,
		PricedAt:       record.PricedAt,
		AddedAt:        record.AddedAt,
		State:          domain.LineStatePersisted,
	}

	switch item.Kind {
	case domain.LineItemConfigured:
		if record.Configuration == nil {
			return domain.CartLineItem{}, fmt.Errorf("cart snapshot: item %s has no configuration", record.ID)
		}
		cfg, err := decodeConfiguration(*record.Configuration)
		if err != nil {
			return domain.CartLineItem{}, fmt.Errorf("cart snapshot: item %s: %w", record.ID, err)
		}
		cfg.Quantity = record.Quantity
		item.Configuration = &cfg
	case domain.LineItemCatalogItem:
		if strings.TrimSpace(record.ProductKey) == "" {
			return domain.CartLineItem{}, fmt.Errorf("cart snapshot: item %s has no product", record.ID)
		}
	default:
		return domain.CartLineItem{}, fmt.Errorf("cart snapshot: item %s has unknown kind %q", record.ID, record.Kind)
	}
	return item, nil
}

func encodeConfiguration(cfg domain.PanelConfiguration) *ConfigurationRecord {
	return &ConfigurationRecord{
		ProductKey:  cfg.ProductKey,
		Width:       decimalString(cfg.Width),
		Height:      decimalString(cfg.Height),
		Length:      decimalString(cfg.Length),
		MeshType:    cfg.MeshType,
		Color:       cfg.Color,
		Attachments: append([]string(nil), cfg.Attachments...),
		Quantity:    cfg.Quantity,
	}
}

func decodeConfiguration(record ConfigurationRecord) (domain.PanelConfiguration, error) {
	width, err := parseOptionalDecimal(record.Width)
	if err != nil {
		return domain.PanelConfiguration{}, fmt.Errorf("width: %w", err)
	}
	height, err := parseOptionalDecimal(record.Height)
	if err != nil {
		return domain.PanelConfiguration{}, fmt.Errorf("height: %w", err)
	}
	length, err := parseOptionalDecimal(record.Length)
	if err != nil {
		return domain.PanelConfiguration{}, fmt.Errorf("length: %w", err)
	}
	return domain.PanelConfiguration{
		ProductKey:  record.ProductKey,
		Width:       width,
		Height:      height,
		Length:      length,
		MeshType:    record.MeshType,
		Color:       record.Color,
		Attachments: append([]string(nil), record.Attachments...),
		Quantity:    record.Quantity,
	}.Normalised(), nil
}

func encodePrice(price domain.PriceBreakdown) PriceRecord {
	record := PriceRecord{
		Currency: price.Currency,
		Lines:    make([]LineRecord, 0, len(price.Lines)),
		Total:    price.Total,
	}
	for _, line := range price.Lines {
		record.Lines = append(record.Lines, LineRecord{
			Kind:       string(line.Kind),
			Label:      line.Label,
			ProductKey: line.ProductKey,
			OptionKey:  line.OptionKey,
			Unit:       string(line.Unit),
			Measure:    line.Measure.String(),
			UnitPrice:  line.UnitPrice,
			Quantity:   line.Quantity,
			LineTotal:  line.LineTotal,
		})
	}
	return record
}

func decodePrice(record PriceRecord) (domain.PriceBreakdown, error) {
	price := domain.PriceBreakdown{
		Currency: record.Currency,
		Lines:    make([]domain.BreakdownLine, 0, len(record.Lines)),
		Total:    record.Total,
	}
	for _, line := range record.Lines {
		measure, err := parseOptionalDecimal(line.Measure)
		if err != nil {
			return domain.PriceBreakdown{}, fmt.Errorf("measure: %w", err)
		}
		price.Lines = append(price.Lines, domain.BreakdownLine{
			Kind:       domain.LineKind(line.Kind),
			Label:      line.Label,
			ProductKey: line.ProductKey,
			OptionKey:  line.OptionKey,
			Unit:       domain.UnitType(line.Unit),
			Measure:    measure,
			UnitPrice:  line.UnitPrice,
			Quantity:   line.Quantity,
			LineTotal:  line.LineTotal,
		})
	}
	if price.Sum() != price.Total {
		return domain.PriceBreakdown{}, fmt.Errorf("total %d does not match lines %d", price.Total, price.Sum())
	}
	return price, nil
}

func decimalString(value decimal.Decimal) string {
	if value.IsZero() {
		return ""
	}
	return value.String()
}

func parseOptionalDecimal(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
