package types

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

// Spec §8: "re-serializing yields the canonical form" for every primitive.
func TestSymbolMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{"btc-usdt", "BTC-USDT"},
		{"  ETH-BTC  ", "ETH-BTC"},
		{"SOL-usdc", "SOL-USDC"},
	}

	for _, tt := range tests {
		sym, err := NewSymbol(tt.raw)
		if err != nil {
			t.Fatalf("NewSymbol(%q): %v", tt.raw, err)
		}
		b, err := json.Marshal(sym)
		if err != nil {
			t.Fatalf("Marshal(%q): %v", tt.raw, err)
		}
		var round Symbol
		if err := json.Unmarshal(b, &round); err != nil {
			t.Fatalf("Unmarshal(%q): %v", tt.raw, err)
		}
		if round.String() != tt.want {
			t.Errorf("round-trip(%q) = %q, want %q", tt.raw, round.String(), tt.want)
		}
		if !round.Equal(sym) {
			t.Errorf("round-tripped symbol %q not Equal to original", round.String())
		}
	}
}

func TestSymbolInvalid(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "BTCUSDT", "BTC-USDT-EXTRA", "-USDT", "BTC-"} {
		if _, err := NewSymbol(raw); err == nil {
			t.Errorf("NewSymbol(%q) = nil error, want InvalidSymbol", raw)
		}
	}
}

func TestPriceMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"42050.00000001", "1", "0.00000001", "100000000"} {
		p := MustPrice(raw)
		b, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("Marshal(%q): %v", raw, err)
		}
		var round Price
		if err := json.Unmarshal(b, &round); err != nil {
			t.Fatalf("Unmarshal(%q): %v", raw, err)
		}
		if !round.Equal(p) {
			t.Errorf("round-trip(%q): got %s, want %s", raw, round.String(), p.String())
		}
	}
}

func TestPriceRejectsNonPositive(t *testing.T) {
	t.Parallel()

	for _, d := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		if _, err := NewPrice(d); err == nil {
			t.Errorf("NewPrice(%s) = nil error, want InvalidPrice", d)
		}
	}
}

func TestQuantityMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"0", "0.00000001", "1500.25"} {
		q := MustQuantity(raw)
		b, err := json.Marshal(q)
		if err != nil {
			t.Fatalf("Marshal(%q): %v", raw, err)
		}
		var round Quantity
		if err := json.Unmarshal(b, &round); err != nil {
			t.Fatalf("Unmarshal(%q): %v", raw, err)
		}
		if !round.Equal(q) {
			t.Errorf("round-trip(%q): got %s, want %s", raw, round.String(), q.String())
		}
	}
}

func TestQuantityRejectsNegative(t *testing.T) {
	t.Parallel()

	if _, err := NewQuantity(decimal.NewFromInt(-1)); err == nil {
		t.Error("NewQuantity(-1) = nil error, want InvalidQuantity")
	}
}
