package repositories

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/MosquitoCurtains/new-sub007/internal/domain"
)

func sampleCart() domain.Cart {
	cfg := domain.PanelConfiguration{
		ProductKey:  "mesh_panel",
		Width:       decimal.NewFromInt(96),
		Height:      decimal.NewFromInt(84),
		MeshType:    "heavy",
		Color:       "black",
		Attachments: []string{"velcro"},
		Quantity:    2,
	}
	price := domain.PriceBreakdown{
		Currency: "USD",
		Lines: []domain.BreakdownLine{
			{Kind: domain.LineKindBase, ProductKey: "mesh_panel", OptionKey: "mesh:heavy", Unit: domain.UnitSquareFoot, Measure: decimal.NewFromInt(56), UnitPrice: 11200, Quantity: 2, LineTotal: 22400},
			{Kind: domain.LineKindSurcharge, ProductKey: "mesh_panel", OptionKey: "attachment:velcro", Unit: domain.UnitLinearFootPerimeter, Measure: decimal.NewFromInt(30), UnitPrice: 1500, Quantity: 2, LineTotal: 3000},
		},
		Total: 25400,
	}
	added := time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)
	return domain.Cart{
		SessionID: "sess-1",
		Currency:  "USD",
		Items: []domain.CartLineItem{
			{ID: "line-1", Kind: domain.LineItemConfigured, Configuration: &cfg, ProductKey: "mesh_panel", Label: "panel", Quantity: 2, Price: price, CatalogVersion: "v1", PricedAt: added, AddedAt: added, State: domain.LineStatePersisted},
			{ID: "line-2", Kind: domain.LineItemCatalogItem, ProductKey: "snap_tool", OptionKey: "item:standard", Label: "Snap tool", Quantity: 1, Price: domain.PriceBreakdown{Currency: "USD", Lines: []domain.BreakdownLine{{Kind: domain.LineKindItem, UnitPrice: 2400, Quantity: 1, LineTotal: 2400, Unit: domain.UnitEach, Measure: decimal.NewFromInt(1)}}, Total: 2400}, AddedAt: added, State: domain.LineStateStale},
			{ID: "line-3", Kind: domain.LineItemCatalogItem, ProductKey: "gone", Quantity: 1, State: domain.LineStateRemoved},
		},
	}
}

func TestEncodeDecodeCartPreservesStoredPrice(t *testing.T) {
	saved := time.Date(2025, time.May, 2, 8, 0, 0, 0, time.UTC)
	snapshot := EncodeCart(sampleCart(), saved)

	if snapshot.SchemaVersion != CartSchemaVersion {
		t.Fatalf("expected schema version %d, got %d", CartSchemaVersion, snapshot.SchemaVersion)
	}
	if len(snapshot.Items) != 2 {
		t.Fatalf("expected removed item to be dropped, got %d items", len(snapshot.Items))
	}
	if snapshot.Items[0].Configuration.Width != "96" {
		t.Fatalf("expected width stored as decimal string, got %q", snapshot.Items[0].Configuration.Width)
	}

	cart, skipped := DecodeCart(snapshot)
	if len(skipped) != 0 {
		t.Fatalf("expected no skipped records, got %v", skipped)
	}
	if !cart.Persisted {
		t.Fatalf("expected decoded cart to be marked persisted")
	}
	if len(cart.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(cart.Items))
	}
	first := cart.Items[0]
	if first.Price.Total != 25400 {
		t.Fatalf("expected stored total 25400, got %d", first.Price.Total)
	}
	if first.Configuration == nil || !first.Configuration.Width.Equal(decimal.NewFromInt(96)) {
		t.Fatalf("expected configuration width 96, got %+v", first.Configuration)
	}
	if first.Configuration.Quantity != 2 {
		t.Fatalf("expected configuration quantity 2, got %d", first.Configuration.Quantity)
	}
	if cart.Items[1].State != domain.LineStatePersisted {
		t.Fatalf("expected stale marker not to survive persistence, got %s", cart.Items[1].State)
	}
	if cart.UpdatedAt != saved {
		t.Fatalf("expected updatedAt %s, got %s", saved, cart.UpdatedAt)
	}
}

func TestDecodeCartSkipsUndecodableRecords(t *testing.T) {
	snapshot := EncodeCart(sampleCart(), time.Now())
	snapshot.Items = append(snapshot.Items,
		CartItemRecord{ID: "unknown-kind", Kind: "gift_card", ProductKey: "x", Quantity: 1},
		CartItemRecord{ID: "bad-total", Kind: string(domain.LineItemCatalogItem), ProductKey: "x", Quantity: 1, Price: PriceRecord{Total: 10}},
		CartItemRecord{ID: "bad-measure", Kind: string(domain.LineItemConfigured), Quantity: 1, Configuration: &ConfigurationRecord{ProductKey: "p", Width: "wide"}},
		CartItemRecord{Kind: string(domain.LineItemCatalogItem), ProductKey: "x", Quantity: 1},
	)

	cart, skipped := DecodeCart(snapshot)
	if len(cart.Items) != 2 {
		t.Fatalf("expected 2 valid items, got %d", len(cart.Items))
	}
	want := []string{"unknown-kind", "bad-total", "bad-measure", "#5"}
	if len(skipped) != len(want) {
		t.Fatalf("expected skipped %v, got %v", want, skipped)
	}
	for i := range want {
		if skipped[i] != want[i] {
			t.Fatalf("expected skipped %v, got %v", want, skipped)
		}
	}
}
