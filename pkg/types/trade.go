package types

import "time"

// OrderAction is the direction of an order.
type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

// OrderStatus is the fill status reported by a venue.
type OrderStatus string

const (
	OrderFilled    OrderStatus = "FILLED"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderPending   OrderStatus = "PENDING"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether no further fills will arrive for the order.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderRejected || s == OrderCancelled
}

// OrderRequest is a limit order submitted to a venue.
type OrderRequest struct {
	Outcome    OutcomeKey
	Action     OrderAction
	Quantity   float64
	LimitPrice float64
	ClientID   string
}

// OrderResult is a venue's report on an order.
type OrderResult struct {
	OrderID        string
	Status         OrderStatus
	Quantity       float64
	FilledQuantity float64
	AvgFillPrice   float64
}

// Fill is one confirmed fill appended to the position ledger.
// Quantity is signed: buys positive, sells negative.
type Fill struct {
	ExecutionID  string     `json:"execution_id"`
	CandidateKey string     `json:"candidate_key"`
	Outcome      OutcomeKey `json:"outcome"`
	Quantity     float64    `json:"quantity"`
	Price        float64    `json:"price"`
	At           time.Time  `json:"at"`
}

// Notional returns the signed cash amount of the fill.
func (f Fill) Notional() float64 {
	return f.Quantity * f.Price
}
