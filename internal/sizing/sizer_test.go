package sizing

import (
	"errors"
	"math"
	"testing"

	"github.com/mselser95/polymarket-hedge/internal/relationship"
	"github.com/mselser95/polymarket-hedge/pkg/types"
)

func TestSize(t *testing.T) {
	sizer, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tests := []struct {
		name    string
		quote   Quote
		capital float64
		depthA  float64
		depthB  float64
		wantQty float64
		wantErr error
	}{
		{
			name:    "capital-bound-t1",
			quote:   Quote{Tier: relationship.Tier1, AskA: 0.42, AskB: 0.57, HedgeRatio: 1, Margin: 0.01},
			capital: 10000, depthA: 5000, depthB: 5000,
			// 10000 * 0.05 * 1.0 / 0.99 = 505.05
			wantQty: 505,
		},
		{
			name:    "capital-bound-t3-scaled",
			quote:   Quote{Tier: relationship.Tier3, AskA: 0.42, AskB: 0.57, HedgeRatio: 1, Margin: 0.01},
			capital: 10000, depthA: 5000, depthB: 5000,
			// 10000 * 0.05 * 0.5 / 0.99 = 252.5
			wantQty: 252,
		},
		{
			name:    "depth-bound-leg-b",
			quote:   Quote{Tier: relationship.Tier1, AskA: 0.42, AskB: 0.57, HedgeRatio: 1, Margin: 0.01},
			capital: 10000, depthA: 5000, depthB: 40,
			wantQty: 40,
		},
		{
			name:    "depth-bound-by-ratio",
			quote:   Quote{Tier: relationship.Tier1, AskA: 0.30, AskB: 0.25, HedgeRatio: 2, Margin: 0.1},
			capital: 10000, depthA: 5000, depthB: 50,
			wantQty: 25,
		},
		{
			name:    "below-min-quantity",
			quote:   Quote{Tier: relationship.Tier1, AskA: 0.42, AskB: 0.57, HedgeRatio: 1, Margin: 0.01},
			capital: 10000, depthA: 3, depthB: 3,
			wantErr: types.ErrInsufficientLiquidity,
		},
		{
			name:    "below-min-profit",
			quote:   Quote{Tier: relationship.Tier1, AskA: 0.42, AskB: 0.57, HedgeRatio: 1, Margin: 0.0001},
			capital: 10000, depthA: 10, depthB: 10,
			wantErr: types.ErrInsufficientLiquidity,
		},
		{
			name:    "no-capital",
			quote:   Quote{Tier: relationship.Tier1, AskA: 0.42, AskB: 0.57, HedgeRatio: 1, Margin: 0.01},
			capital: 0, depthA: 100, depthB: 100,
			wantErr: types.ErrInsufficientLiquidity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := sizer.Size(tt.quote, tt.capital, tt.depthA, tt.depthB)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Quantity != tt.wantQty {
				t.Errorf("expected quantity=%.0f, got=%.4f", tt.wantQty, d.Quantity)
			}
			if math.Abs(d.QuantityB-d.Quantity*tt.quote.HedgeRatio) > 1e-9 {
				t.Errorf("leg B quantity %.4f does not match ratio", d.QuantityB)
			}
		})
	}
}

func TestSizeTierOrdering(t *testing.T) {
	sizer, _ := New(DefaultConfig())
	q := Quote{AskA: 0.40, AskB: 0.55, HedgeRatio: 1, Margin: 0.05}

	var prev float64 = math.MaxFloat64
	for _, tier := range []relationship.Tier{relationship.Tier1, relationship.Tier2, relationship.Tier3} {
		q.Tier = tier
		d, err := sizer.Size(q, 100000, 1e9, 1e9)
		if err != nil {
			t.Fatalf("tier %s: %v", tier, err)
		}
		if d.Quantity > prev {
			t.Errorf("tier %s sized %.0f, larger than a more confident tier", tier, d.Quantity)
		}
		prev = d.Quantity
	}
}

func TestNewValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxExposureFraction = 1.5
	if _, err := New(cfg); err == nil {
		t.Error("expected error for exposure fraction > 1")
	}

	cfg = DefaultConfig()
	cfg.LotSize = 0
	if _, err := New(cfg); err == nil {
		t.Error("expected error for zero lot size")
	}

	cfg = DefaultConfig()
	cfg.TierMultipliers[relationship.Tier3] = 2
	if _, err := New(cfg); err == nil {
		t.Error("expected error for multiplier > 1")
	}
}
