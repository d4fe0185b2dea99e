package sizing

import (
	"fmt"
	"math"

	"github.com/mselser95/polymarket-hedge/internal/relationship"
	"github.com/mselser95/polymarket-hedge/pkg/types"
)

// Config holds sizing limits.
type Config struct {
	// MaxExposureFraction caps one opportunity's cost as a fraction of available capital.
	MaxExposureFraction float64
	// TierMultipliers scale the exposure cap by confidence tier.
	TierMultipliers map[relationship.Tier]float64
	LotSize         float64
	MinQuantity     float64
	MinProfit       float64
}

// DefaultConfig returns the default sizing limits.
func DefaultConfig() Config {
	return Config{
		MaxExposureFraction: 0.05,
		TierMultipliers: map[relationship.Tier]float64{
			relationship.Tier1: 1.0,
			relationship.Tier2: 0.75,
			relationship.Tier3: 0.5,
		},
		LotSize:     1,
		MinQuantity: 5,
		MinProfit:   0.01,
	}
}

// Quote is the priced opportunity being sized.
type Quote struct {
	Tier         relationship.Tier
	AskA         float64
	AskB         float64
	HedgeRatio   float64
	Margin       float64
	FeeAllowance float64
}

// Decision is the bounded size for one opportunity. Quantity is in units of
// leg A; QuantityB is Quantity scaled by the hedge ratio.
type Decision struct {
	Quantity       float64
	QuantityB      float64
	CapitalCap     float64
	DepthCap       float64
	CostPerUnit    float64
	TotalCost      float64
	ExpectedProfit float64
}

// Sizer converts opportunities into trade sizes.
type Sizer struct {
	cfg Config
}

// New creates a sizer.
func New(cfg Config) (*Sizer, error) {
	if cfg.MaxExposureFraction <= 0 || cfg.MaxExposureFraction > 1 {
		return nil, fmt.Errorf("max exposure fraction must be in (0,1], got %f", cfg.MaxExposureFraction)
	}
	if cfg.LotSize <= 0 {
		return nil, fmt.Errorf("lot size must be positive, got %f", cfg.LotSize)
	}
	for tier, m := range cfg.TierMultipliers {
		if m <= 0 || m > 1 {
			return nil, fmt.Errorf("tier %s multiplier must be in (0,1], got %f", tier, m)
		}
	}
	return &Sizer{cfg: cfg}, nil
}

// Size returns the tradable quantity, or ErrInsufficientLiquidity when the
// result is below the minimum economically meaningful size.
func (s *Sizer) Size(q Quote, availableCapital, depthA, depthB float64) (Decision, error) {
	var d Decision

	ratio := q.HedgeRatio
	if ratio <= 0 {
		return d, fmt.Errorf("invalid hedge ratio %f", ratio)
	}

	mult, ok := s.cfg.TierMultipliers[q.Tier]
	if !ok {
		return d, fmt.Errorf("no multiplier for tier %s", q.Tier)
	}

	d.CostPerUnit = q.AskA + q.AskB*ratio + q.FeeAllowance
	if d.CostPerUnit <= 0 {
		return d, fmt.Errorf("invalid cost per unit %f", d.CostPerUnit)
	}

	budget := math.Max(availableCapital, 0) * s.cfg.MaxExposureFraction * mult
	d.CapitalCap = budget / d.CostPerUnit
	d.DepthCap = math.Min(depthA, depthB/ratio)

	qty := math.Min(d.CapitalCap, d.DepthCap)
	qty = math.Floor(qty/s.cfg.LotSize+1e-9) * s.cfg.LotSize

	if qty <= 0 || qty < s.cfg.MinQuantity {
		return d, fmt.Errorf("quantity %.4f below minimum %.4f (capital cap %.4f, depth cap %.4f): %w",
			qty, s.cfg.MinQuantity, d.CapitalCap, d.DepthCap, types.ErrInsufficientLiquidity)
	}

	profit := q.Margin * qty
	if profit < s.cfg.MinProfit {
		return d, fmt.Errorf("expected profit %.4f below minimum %.4f: %w",
			profit, s.cfg.MinProfit, types.ErrInsufficientLiquidity)
	}

	d.Quantity = qty
	d.QuantityB = qty * ratio
	d.TotalCost = qty * d.CostPerUnit
	d.ExpectedProfit = profit
	return d, nil
}
