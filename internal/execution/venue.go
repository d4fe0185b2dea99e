package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/mselser95/polymarket-hedge/pkg/types"
)

// Venue submits and tracks limit orders on one trading venue.
type Venue interface {
	SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
	OrderStatus(ctx context.Context, outcome types.OutcomeKey, orderID string) (types.OrderResult, error)
	CancelOrder(ctx context.Context, outcome types.OutcomeKey, orderID string) error
}

// Router dispatches orders to the venue named by the outcome key.
// Outcomes on unregistered venues go to the fallback, if any.
type Router struct {
	mu       sync.RWMutex
	venues   map[string]Venue
	fallback Venue
}

// NewRouter creates a router. fallback may be nil.
func NewRouter(fallback Venue) *Router {
	return &Router{
		venues:   make(map[string]Venue),
		fallback: fallback,
	}
}

// Register binds a venue name to an implementation.
func (r *Router) Register(name string, v Venue) {
	r.mu.Lock()
	r.venues[name] = v
	r.mu.Unlock()
}

func (r *Router) venueFor(outcome types.OutcomeKey) (Venue, error) {
	r.mu.RLock()
	v, ok := r.venues[outcome.Venue]
	r.mu.RUnlock()

	if ok {
		return v, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("no venue registered for %q", outcome.Venue)
}

// SubmitOrder routes the order by outcome venue.
func (r *Router) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	v, err := r.venueFor(req.Outcome)
	if err != nil {
		return types.OrderResult{}, err
	}
	return v.SubmitOrder(ctx, req)
}

// OrderStatus routes the status query by outcome venue.
func (r *Router) OrderStatus(ctx context.Context, outcome types.OutcomeKey, orderID string) (types.OrderResult, error) {
	v, err := r.venueFor(outcome)
	if err != nil {
		return types.OrderResult{}, err
	}
	return v.OrderStatus(ctx, outcome, orderID)
}

// CancelOrder routes the cancel by outcome venue.
func (r *Router) CancelOrder(ctx context.Context, outcome types.OutcomeKey, orderID string) error {
	v, err := r.venueFor(outcome)
	if err != nil {
		return err
	}
	return v.CancelOrder(ctx, outcome, orderID)
}
