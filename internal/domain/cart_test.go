package domain

import "testing"

func TestLineItemTransitions(t *testing.T) {
	allowed := []struct{ from, to LineItemState }{
		{LineStateDraft, LineStatePriced},
		{LineStatePriced, LineStatePersisted},
		{LineStatePersisted, LineStateStale},
		{LineStateStale, LineStatePersisted},
		{LineStateStale, LineStateRemoved},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransition(tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}
	denied := []struct{ from, to LineItemState }{
		{LineStateDraft, LineStatePersisted},
		{LineStateRemoved, LineStatePriced},
		{LineStatePersisted, LineStateDraft},
	}
	for _, tc := range denied {
		if tc.from.CanTransition(tc.to) {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}
}

func TestComputeCartTotals(t *testing.T) {
	items := []CartLineItem{
		{Quantity: 2, Price: PriceBreakdown{Total: 3000}, State: LineStatePersisted},
		{Quantity: 1, Price: PriceBreakdown{Total: 1250}, State: LineStateStale},
	}
	totals := ComputeCartTotals("USD", items)
	if totals.Subtotal != 4250 || totals.ItemCount != 3 || totals.LineCount != 2 || totals.StaleCount != 1 {
		t.Fatalf("unexpected totals %+v", totals)
	}
	if empty := ComputeCartTotals("USD", nil); empty.Subtotal != 0 || empty.LineCount != 0 {
		t.Fatalf("unexpected empty totals %+v", empty)
	}
}

func TestCartCloneAndWarnings(t *testing.T) {
	cfg := PanelConfiguration{ProductKey: "mesh_panel", Attachments: []string{"velcro"}, Quantity: 1}
	repriced := PriceBreakdown{Total: 10, Lines: []BreakdownLine{{LineTotal: 10}}}
	cart := Cart{Items: []CartLineItem{{
		Configuration:     &cfg,
		Price:             PriceBreakdown{Total: 5, Lines: []BreakdownLine{{LineTotal: 5}}},
		RepricedBreakdown: &repriced,
	}}}
	cart.AddWarning(WarningPricesChanged)
	cart.AddWarning(WarningPricesChanged)
	if len(cart.Warnings) != 1 || !cart.HasWarning(WarningPricesChanged) || cart.HasWarning(WarningPricesUnverified) {
		t.Fatalf("expected warning recorded once, got %v", cart.Warnings)
	}

	clone := cart.Clone()
	clone.Items[0].Configuration.Attachments[0] = "snaps"
	clone.Items[0].Price.Lines[0].LineTotal = 99
	clone.Items[0].RepricedBreakdown.Total = 99
	clone.Warnings[0] = "changed"
	original := cart.Items[0]
	if original.Configuration.Attachments[0] != "velcro" || original.Price.Lines[0].LineTotal != 5 || original.RepricedBreakdown.Total != 10 {
		t.Fatalf("clone shares state with original: %+v", original)
	}
	if cart.Warnings[0] != WarningPricesChanged {
		t.Fatalf("clone shares warnings")
	}
}
