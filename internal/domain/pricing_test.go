package domain

import (
	"errors"
	"testing"
)

func TestBreakdownWithQuantity(t *testing.T) {
	base := PriceBreakdown{
		Currency: "USD",
		Lines: []BreakdownLine{
			{Kind: LineKindBase, UnitPrice: 1400, Quantity: 1, LineTotal: 1400},
			{Kind: LineKindTierFee, UnitPrice: 150, Quantity: 1, LineTotal: 150},
		},
		Total: 1550,
	}
	scaled, err := base.WithQuantity(3)
	if err != nil {
		t.Fatalf("WithQuantity: %v", err)
	}
	if scaled.Total != 4650 || scaled.Lines[0].LineTotal != 4200 || scaled.Lines[1].Quantity != 3 {
		t.Fatalf("unexpected scaled breakdown %+v", scaled)
	}
	if base.Lines[0].Quantity != 1 || base.Total != 1550 {
		t.Fatalf("WithQuantity mutated the original")
	}
	if base.SamePrice(scaled) {
		t.Fatalf("different quantities must not compare equal")
	}
	if !base.SamePrice(base.Clone()) {
		t.Fatalf("clone must compare equal")
	}
	if _, err := base.WithQuantity(1 << 50); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow for a huge quantity, got %v", err)
	}
}

func TestPricingErrorMessage(t *testing.T) {
	err := error(NewPricingError(PricingErrorProductUnpriced, "mesh_panel", "mesh:sheer", "inactive"))
	if err.Error() != "pricing: product_unpriced (mesh_panel/mesh:sheer): inactive" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	var pricingErr *PricingError
	if !errors.As(err, &pricingErr) || pricingErr.Code != PricingErrorProductUnpriced {
		t.Fatalf("expected PricingError, got %v", err)
	}
	if got := NewPricingError(PricingErrorInvalidDimensions, "mesh_panel", "", "").Error(); got != "pricing: invalid_dimensions (mesh_panel)" {
		t.Fatalf("unexpected message %q", got)
	}
}
