package types

import (
	"strings"
	"time"
)

// MarketStatus tracks the lifecycle of a market in the catalog.
type MarketStatus string

const (
	MarketActive   MarketStatus = "active"
	MarketResolved MarketStatus = "resolved"
	MarketDelisted MarketStatus = "delisted"
)

// Market describes a binary market on a venue, as consumed by relationship
// classification. Revision is bumped whenever the descriptive fields change
// so cached classifications are invalidated.
type Market struct {
	Venue     string       `json:"venue"`
	ID        string       `json:"id"`
	EventID   string       `json:"event_id,omitempty"`
	Question  string       `json:"question"`
	Category  string       `json:"category,omitempty"`
	ClosesAt  time.Time    `json:"closes_at"`
	Status    MarketStatus `json:"status"`
	Revision  int          `json:"revision"`
	Resolved  Side         `json:"resolved,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Key returns venue:id.
func (m *Market) Key() string {
	return m.Venue + ":" + m.ID
}

// Outcome returns the outcome key for one side of the market.
func (m *Market) Outcome(side Side) OutcomeKey {
	return OutcomeKey{Venue: m.Venue, MarketID: m.ID, Side: side}
}

// Active reports whether the market can still be traded.
func (m *Market) Active() bool {
	return m.Status == MarketActive || m.Status == ""
}

// NormalizedQuestion lowercases and strips punctuation for matching.
func (m *Market) NormalizedQuestion() string {
	var b strings.Builder
	for _, r := range strings.ToLower(m.Question) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
