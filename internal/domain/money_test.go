package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMinorUnitScale(t *testing.T) {
	cases := map[string]int32{"USD": 2, "usd ": 2, "JPY": 0, "EUR": 2}
	for code, want := range cases {
		got, err := MinorUnitScale(code)
		if err != nil {
			t.Fatalf("MinorUnitScale(%q): %v", code, err)
		}
		if got != want {
			t.Fatalf("MinorUnitScale(%q) = %d, want %d", code, got, want)
		}
	}
	if _, err := MinorUnitScale("XYZW"); err == nil {
		t.Fatalf("expected error for unknown currency")
	}
}

func TestToMinorUnitsRoundsHalfUp(t *testing.T) {
	cases := []struct {
		major string
		scale int32
		want  int64
	}{
		{"12.50", 2, 1250},
		{"0.125", 2, 13},
		{"0.124", 2, 12},
		{"-0.125", 2, -12},
		{"199.5", 0, 200},
	}
	for _, tc := range cases {
		got, err := ToMinorUnits(decimal.RequireFromString(tc.major), tc.scale)
		if err != nil || got != tc.want {
			t.Fatalf("ToMinorUnits(%s, %d) = %d, %v, want %d", tc.major, tc.scale, got, err, tc.want)
		}
	}
}

func TestMinorUnitArithmeticRejectsOverflow(t *testing.T) {
	if _, err := ToMinorUnits(decimal.RequireFromString("1e20"), 2); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow converting 1e20, got %v", err)
	}
	if got, err := ToMinorUnits(decimal.RequireFromString("92233720368547758.07"), 2); err != nil || got != math.MaxInt64 {
		t.Fatalf("expected the int64 maximum to convert, got %d, %v", got, err)
	}
	if _, err := MulMinor(1<<40, 1<<30); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow multiplying, got %v", err)
	}
	if got, err := MulMinor(1250, 4); err != nil || got != 5000 {
		t.Fatalf("MulMinor(1250, 4) = %d, %v", got, err)
	}
	if _, err := AddMinor(math.MaxInt64, 1); !errors.Is(err, ErrAmountOverflow) {
		t.Fatalf("expected ErrAmountOverflow adding, got %v", err)
	}
}

func TestFormatMinor(t *testing.T) {
	if got := FormatMinor(1250, "usd"); got != "USD 12.50" {
		t.Fatalf("unexpected format %q", got)
	}
	if got := FormatMinor(500, ""); got != "USD 5.00" {
		t.Fatalf("expected default currency, got %q", got)
	}
	if got := FormatMinor(1200, "JPY"); got != "JPY 1200" {
		t.Fatalf("unexpected yen format %q", got)
	}
	if got := FormatMinor(99, "XYZW"); got != "XYZW 0.99" {
		t.Fatalf("expected two-digit fallback, got %q", got)
	}
}
