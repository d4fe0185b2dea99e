package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	"go.uber.org/zap"
)

// QuoteSource supplies the latest snapshot for an outcome.
type QuoteSource interface {
	Latest(key types.OutcomeKey) (types.Outcome, error)
}

// PaperConfig holds paper venue configuration.
type PaperConfig struct {
	Quotes QuoteSource
	// FillDelay holds orders in PENDING for this long before the
	// simulated fill becomes visible through OrderStatus.
	FillDelay time.Duration
	Logger    *zap.Logger
}

type paperOrder struct {
	req       types.OrderRequest
	result    types.OrderResult
	visibleAt time.Time
	cancelled bool
}

// PaperVenue simulates immediate-or-cancel limit orders against the
// snapshot store's depth. Orders larger than the depth at the limit
// price fill partially and the remainder is cancelled.
type PaperVenue struct {
	quotes    QuoteSource
	fillDelay time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	orders map[string]*paperOrder
	now    func() time.Time
}

// NewPaperVenue creates a simulated venue.
func NewPaperVenue(cfg *PaperConfig) *PaperVenue {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaperVenue{
		quotes:    cfg.Quotes,
		fillDelay: cfg.FillDelay,
		logger:    logger,
		orders:    make(map[string]*paperOrder),
		now:       time.Now,
	}
}

// SubmitOrder fills the order against the current snapshot.
func (p *PaperVenue) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return types.OrderResult{}, err
	}
	if req.Quantity <= 0 {
		return types.OrderResult{}, &types.OrderError{
			Code:    types.ErrCodeRejected,
			Message: fmt.Sprintf("invalid quantity %.4f", req.Quantity),
			Outcome: req.Outcome,
		}
	}

	snap, err := p.quotes.Latest(req.Outcome)
	if err != nil {
		if errors.Is(err, types.ErrNoSnapshot) || errors.Is(err, types.ErrStaleData) {
			return types.OrderResult{}, &types.OrderError{
				Code:    types.ErrCodeNoLiquidity,
				Message: err.Error(),
				Outcome: req.Outcome,
			}
		}
		return types.OrderResult{}, fmt.Errorf("paper quote %s: %w", req.Outcome, err)
	}

	filled, avg := matchLevels(req, snap)
	status := types.OrderFilled
	if filled < req.Quantity-fillTolerance {
		status = types.OrderCancelled
	}

	result := types.OrderResult{
		OrderID:        uuid.New().String(),
		Status:         status,
		Quantity:       req.Quantity,
		FilledQuantity: filled,
		AvgFillPrice:   avg,
	}

	now := p.now()
	p.mu.Lock()
	p.orders[result.OrderID] = &paperOrder{
		req:       req,
		result:    result,
		visibleAt: now.Add(p.fillDelay),
	}
	p.mu.Unlock()

	p.logger.Debug("paper-order-matched",
		zap.String("order-id", result.OrderID),
		zap.String("outcome", req.Outcome.String()),
		zap.String("action", string(req.Action)),
		zap.Float64("limit-price", req.LimitPrice),
		zap.Float64("quantity", req.Quantity),
		zap.Float64("filled", filled),
		zap.Float64("avg-price", avg))

	if p.fillDelay > 0 {
		return types.OrderResult{
			OrderID:  result.OrderID,
			Status:   types.OrderPending,
			Quantity: req.Quantity,
		}, nil
	}
	return result, nil
}

// OrderStatus reports the simulated fill once the fill delay has elapsed.
func (p *PaperVenue) OrderStatus(ctx context.Context, outcome types.OutcomeKey, orderID string) (types.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return types.OrderResult{}, &types.OrderError{
			Code:    types.ErrCodeUnknownStatus,
			Message: "unknown order",
			OrderID: orderID,
			Outcome: outcome,
		}
	}
	if o.cancelled {
		return types.OrderResult{OrderID: orderID, Status: types.OrderCancelled, Quantity: o.req.Quantity}, nil
	}
	if p.now().Before(o.visibleAt) {
		return types.OrderResult{OrderID: orderID, Status: types.OrderPending, Quantity: o.req.Quantity}, nil
	}
	return o.result, nil
}

// CancelOrder cancels an order whose fill is not yet visible.
// Cancelling a completed order is a no-op.
func (p *PaperVenue) CancelOrder(ctx context.Context, outcome types.OutcomeKey, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.orders[orderID]
	if !ok {
		return &types.OrderError{
			Code:    types.ErrCodeUnknownStatus,
			Message: "unknown order",
			OrderID: orderID,
			Outcome: outcome,
		}
	}
	if p.now().Before(o.visibleAt) {
		o.cancelled = true
	}
	return nil
}

// matchLevels walks the opposite side of the book up to the limit price.
func matchLevels(req types.OrderRequest, snap types.Outcome) (filled, avg float64) {
	levels := snap.Asks
	crosses := func(price float64) bool { return price <= req.LimitPrice+fillTolerance }
	if req.Action == types.ActionSell {
		levels = snap.Bids
		crosses = func(price float64) bool { return price >= req.LimitPrice-fillTolerance }
	}

	notional := 0.0
	for _, lvl := range levels {
		if !crosses(lvl.Price) {
			break
		}
		take := min(lvl.Size, req.Quantity-filled)
		filled += take
		notional += take * lvl.Price
		if filled >= req.Quantity-fillTolerance {
			break
		}
	}
	if filled > 0 {
		avg = notional / filled
	}
	return filled, avg
}
