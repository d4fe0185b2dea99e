package types

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. Only ErrUnwindFailure is surfaced to operators;
// every other error is a recoverable pipeline state.
var (
	ErrStaleData                 = errors.New("snapshot older than freshness bound")
	ErrNoSnapshot                = errors.New("no snapshot for outcome")
	ErrClassificationUnavailable = errors.New("classification unavailable")
	ErrInsufficientLiquidity     = errors.New("insufficient liquidity")
	ErrFillTimeout               = errors.New("fill confirmation timeout")
	ErrUnwindFailure             = errors.New("unwind failed")
	ErrLockContention            = errors.New("candidate already locked")
	ErrCancelNotAllowed          = errors.New("cancel not allowed after a fill")
	ErrBreakerOpen               = errors.New("circuit breaker open")
	ErrOpportunityExpired        = errors.New("opportunity decay window elapsed")
)

// OrderError represents a venue rejection of a submitted order.
type OrderError struct {
	Code    string // venue error code or internal error code
	Message string
	OrderID string
	Outcome OutcomeKey
}

func (e *OrderError) Error() string {
	if e.OrderID != "" {
		return fmt.Sprintf("%s order failed (ID: %s): %s (%s)", e.Outcome, e.OrderID, e.Message, e.Code)
	}

	return fmt.Sprintf("%s order failed: %s (%s)", e.Outcome, e.Message, e.Code)
}

// Known order error codes.
const (
	ErrCodeRejected      = "REJECTED"
	ErrCodeNoLiquidity   = "NO_LIQUIDITY"
	ErrCodeMarketClosed  = "MARKET_CLOSED"
	ErrCodeUnknownStatus = "UNKNOWN_STATUS"
)
