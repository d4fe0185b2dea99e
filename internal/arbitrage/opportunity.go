package arbitrage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/polymarket-hedge/internal/relationship"
)

// Opportunity is a priced, sized candidate ready for execution.
type Opportunity struct {
	ID             string                 `json:"id"`
	Candidate      relationship.Candidate `json:"candidate"`
	AskA           float64                `json:"ask_a"`
	AskB           float64                `json:"ask_b"`
	BidA           float64                `json:"bid_a"`
	BidB           float64                `json:"bid_b"`
	DepthA         float64                `json:"depth_a"`
	DepthB         float64                `json:"depth_b"`
	Margin         float64                `json:"margin"`
	FeeAllowance   float64                `json:"fee_allowance"`
	SlippageBuffer float64                `json:"slippage_buffer"`
	RequiredMargin float64                `json:"required_margin"`
	Quantity       float64                `json:"quantity"`
	QuantityB      float64                `json:"quantity_b"`
	ExpectedProfit float64                `json:"expected_profit"`
	DetectedAt     time.Time              `json:"detected_at"`
	ExpiresAt      time.Time              `json:"expires_at"`
}

// ComputeMargin returns the expected profit per hedged unit: one unit payout
// less the cost of one unit of leg A and ratio units of leg B, fees and slippage.
func ComputeMargin(askA, askB, hedgeRatio, feeAllowance, slippageBuffer float64) float64 {
	return 1.0 - (askA*1.0 + askB*hedgeRatio) - feeAllowance - slippageBuffer
}

func newOpportunity(c relationship.Candidate, detectedAt time.Time, window time.Duration) *Opportunity {
	return &Opportunity{
		ID:         uuid.New().String(),
		Candidate:  c,
		DetectedAt: detectedAt,
		ExpiresAt:  detectedAt.Add(window),
	}
}

// Expired reports whether the decay window has elapsed.
func (o *Opportunity) Expired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// Remaining returns the time left in the decay window.
func (o *Opportunity) Remaining(now time.Time) time.Duration {
	d := o.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// MarginBPS returns the margin in basis points.
func (o *Opportunity) MarginBPS() int {
	return int(o.Margin * 10000)
}

// String returns a human-readable representation of the opportunity.
func (o *Opportunity) String() string {
	id := o.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf(
		"Opportunity[%s] %s tier=%s askA=%.4f askB=%.4f ratio=%.2f margin=%dbps qty=%.2f",
		id,
		o.Candidate.Key,
		o.Candidate.Tier,
		o.AskA,
		o.AskB,
		o.Candidate.HedgeRatio,
		o.MarginBPS(),
		o.Quantity,
	)
}
