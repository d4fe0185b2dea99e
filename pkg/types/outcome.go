package types

import (
	"fmt"
	"time"
)

// Side is one of the two binary outcomes of a market.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Opposite returns the complementary side.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Valid reports whether s is YES or NO.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// OutcomeKey identifies a single tradable outcome on a venue.
type OutcomeKey struct {
	Venue    string `json:"venue"`
	MarketID string `json:"market_id"`
	Side     Side   `json:"side"`
}

// String returns venue:market:side.
func (k OutcomeKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Venue, k.MarketID, k.Side)
}

// MarketKey returns venue:market, shared by both sides of a market.
func (k OutcomeKey) MarketKey() string {
	return k.Venue + ":" + k.MarketID
}

// PriceLevel is a single level of an orderbook side.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Outcome is an immutable price snapshot for one outcome at one update tick.
// A newer tick produces a new Outcome; stored snapshots are never mutated.
type Outcome struct {
	Key       OutcomeKey   `json:"key"`
	BestBid   float64      `json:"best_bid"`
	BestAsk   float64      `json:"best_ask"`
	Bids      []PriceLevel `json:"bids,omitempty"` // best (highest) first
	Asks      []PriceLevel `json:"asks,omitempty"` // best (lowest) first
	Timestamp time.Time    `json:"timestamp"`
}

// Clone returns a deep copy so callers cannot alias the stored depth slices.
func (o Outcome) Clone() Outcome {
	c := o
	if o.Bids != nil {
		c.Bids = append([]PriceLevel(nil), o.Bids...)
	}
	if o.Asks != nil {
		c.Asks = append([]PriceLevel(nil), o.Asks...)
	}
	return c
}

// AskDepthAt returns the quantity purchasable at prices <= limit.
func (o Outcome) AskDepthAt(limit float64) float64 {
	depth := 0.0
	for _, lvl := range o.Asks {
		if lvl.Price > limit+priceEpsilon {
			break
		}
		depth += lvl.Size
	}
	return depth
}

// BidDepthAt returns the quantity sellable at prices >= limit.
func (o Outcome) BidDepthAt(limit float64) float64 {
	depth := 0.0
	for _, lvl := range o.Bids {
		if lvl.Price < limit-priceEpsilon {
			break
		}
		depth += lvl.Size
	}
	return depth
}

// IsStale reports whether the snapshot is older than bound at now.
func (o Outcome) IsStale(now time.Time, bound time.Duration) bool {
	return now.Sub(o.Timestamp) > bound
}

const priceEpsilon = 1e-9

// FeedTick is a single market-data update as delivered by a venue feed.
type FeedTick struct {
	Venue     string       `json:"venue"`
	MarketID  string       `json:"market_id"`
	Side      Side         `json:"side"`
	BestBid   float64      `json:"best_bid"`
	BestAsk   float64      `json:"best_ask"`
	Bids      []PriceLevel `json:"bids,omitempty"`
	Asks      []PriceLevel `json:"asks,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// Validate checks the tick carries a usable key and a sane price.
func (t *FeedTick) Validate() error {
	if t.Venue == "" || t.MarketID == "" {
		return fmt.Errorf("tick missing venue or market id")
	}
	if !t.Side.Valid() {
		return fmt.Errorf("tick has invalid side %q", t.Side)
	}
	if t.BestAsk < 0 || t.BestAsk > 1 || t.BestBid < 0 || t.BestBid > 1 {
		return fmt.Errorf("tick prices out of range: bid=%f ask=%f", t.BestBid, t.BestAsk)
	}
	return nil
}

// ToOutcome converts the tick into a snapshot. Ticks without depth levels
// carry zero depth, so sizing rejects them until a book arrives.
func (t *FeedTick) ToOutcome() Outcome {
	o := Outcome{
		Key:       OutcomeKey{Venue: t.Venue, MarketID: t.MarketID, Side: t.Side},
		BestBid:   t.BestBid,
		BestAsk:   t.BestAsk,
		Bids:      append([]PriceLevel(nil), t.Bids...),
		Asks:      append([]PriceLevel(nil), t.Asks...),
		Timestamp: t.Timestamp,
	}
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now()
	}
	return o
}
