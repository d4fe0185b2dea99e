package execution

import (
	"context"
	"fmt"

	"github.com/mselser95/polymarket-hedge/pkg/types"
	"go.uber.org/zap"
)

// unwind restores the hedge after a one-sided fill. It first chases the
// short leg at worse prices while the loss per unit stays bounded, then
// sells the excess on the long leg. Anything left is abandoned.
func (c *Coordinator) unwind(ctx context.Context, r *run) error {
	for attempt := 1; attempt <= c.cfg.MaxChaseAttempts; attempt++ {
		short, need := c.shortfall(r)
		if need <= balanceTolerance {
			break
		}

		price := c.askFor(r, short) + c.cfg.ChaseSlippageStep*float64(attempt)
		if !c.chaseAffordable(r, short, price) {
			UnwindAttemptsTotal.WithLabelValues("chase", "skipped").Inc()
			c.logger.Info("unwind-chase-unaffordable",
				zap.String("execution-id", r.exec.ID),
				zap.String("leg", short.String()),
				zap.Float64("price", price))
			break
		}

		filled := c.unwindOrder(ctx, r, short, types.ActionBuy, need, price, "chase")
		c.logger.Info("unwind-chase",
			zap.String("execution-id", r.exec.ID),
			zap.String("leg", short.String()),
			zap.Int("attempt", attempt),
			zap.Float64("price", price),
			zap.Float64("needed", need),
			zap.Float64("filled", filled))
	}

	if c.balanced(r) {
		return c.settleUnwound(r, "chase")
	}

	for attempt := 1; attempt <= c.cfg.MaxCloseAttempts; attempt++ {
		long, excess := c.overhang(r)
		if excess <= balanceTolerance {
			break
		}

		price := max(c.bidFor(r, long)-c.cfg.CloseSlippageStep*float64(attempt), 0)
		filled := c.unwindOrder(ctx, r, long, types.ActionSell, excess, price, "close")
		c.logger.Info("unwind-close",
			zap.String("execution-id", r.exec.ID),
			zap.String("leg", long.String()),
			zap.Int("attempt", attempt),
			zap.Float64("price", price),
			zap.Float64("excess", excess),
			zap.Float64("filled", filled))
	}

	if c.balanced(r) {
		return c.settleUnwound(r, "close")
	}
	return c.abandon(r)
}

// shortfall returns the leg lacking exposure and the units it needs.
func (c *Coordinator) shortfall(r *run) (legID, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.exec.Imbalance()
	if d > 0 {
		return legB, d
	}
	return legA, -d / r.exec.Opportunity.Candidate.HedgeRatio
}

// overhang returns the leg carrying excess exposure and the excess units.
func (c *Coordinator) overhang(r *run) (legID, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d := r.exec.Imbalance()
	if d > 0 {
		return legA, d / r.exec.Opportunity.Candidate.HedgeRatio
	}
	return legB, -d
}

func (c *Coordinator) balanced(r *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.Hedged()
}

// chaseAffordable bounds the loss per hedged unit after paying price
// instead of the quoted ask on the short leg.
func (c *Coordinator) chaseAffordable(r *run, which legID, price float64) bool {
	if price > 1 {
		return false
	}
	opp := &r.exec.Opportunity
	extra := price - opp.AskA
	if which == legB {
		extra = (price - opp.AskB) * opp.Candidate.HedgeRatio
	}
	loss := extra - opp.Margin
	return loss <= c.cfg.MaxUnwindLossPerUnit+fillTolerance
}

func (c *Coordinator) askFor(r *run, which legID) float64 {
	opp := &r.exec.Opportunity
	quoted, outcome := opp.AskA, opp.Candidate.LegA
	if which == legB {
		quoted, outcome = opp.AskB, opp.Candidate.LegB
	}
	if snap, ok := c.freshQuote(outcome); ok && snap.BestAsk > 0 {
		return snap.BestAsk
	}
	return quoted
}

func (c *Coordinator) bidFor(r *run, which legID) float64 {
	opp := &r.exec.Opportunity
	quoted, outcome := opp.BidA, opp.Candidate.LegA
	if which == legB {
		quoted, outcome = opp.BidB, opp.Candidate.LegB
	}
	if snap, ok := c.freshQuote(outcome); ok && snap.BestBid > 0 {
		return snap.BestBid
	}
	return quoted
}

func (c *Coordinator) freshQuote(outcome types.OutcomeKey) (types.Outcome, bool) {
	if c.quotes == nil {
		return types.Outcome{}, false
	}
	snap, err := c.quotes.Latest(outcome)
	if err != nil {
		return types.Outcome{}, false
	}
	return snap, true
}

// unwindOrder places one chase or close order, applies the fill to the
// leg and appends it to the ledger. Returns the filled quantity.
func (c *Coordinator) unwindOrder(ctx context.Context, r *run, which legID, action types.OrderAction, qty, price float64, kind string) float64 {
	r.mu.Lock()
	leg := r.exec.leg(which)
	outcome := leg.Outcome
	id := r.exec.ID
	leg.Attempts++
	attempt := leg.Attempts
	r.mu.Unlock()

	req := types.OrderRequest{
		Outcome:    outcome,
		Action:     action,
		Quantity:   qty,
		LimitPrice: price,
		ClientID:   fmt.Sprintf("%s-%s-%s%d", id, which, kind, attempt),
	}
	res, err := c.place(ctx, req, c.now().Add(c.cfg.FillTimeout))

	result := "filled"
	switch {
	case res.FilledQuantity <= 0:
		result = "failed"
	case res.FilledQuantity < qty-fillTolerance:
		result = "partial"
	}
	UnwindAttemptsTotal.WithLabelValues(kind, result).Inc()

	r.mu.Lock()
	leg = r.exec.leg(which)
	if res.OrderID != "" {
		leg.OrderIDs = append(leg.OrderIDs, res.OrderID)
	}
	if err != nil {
		leg.Error = err.Error()
	}
	filled := res.FilledQuantity
	px := fillPrice(res, req)
	var f types.Fill
	if filled > 0 {
		if action == types.ActionBuy {
			leg.addBuy(filled, px)
			f = c.fill(r, outcome, filled, px)
		} else {
			filled = min(filled, leg.Net())
			leg.Sold += filled
			f = c.fill(r, outcome, -filled, px)
		}
	}
	leg.refreshStatus()
	r.mu.Unlock()

	if filled > 0 {
		c.record(ctx, id, f)
	}
	if err != nil {
		c.logger.Debug("unwind-order-error",
			zap.String("execution-id", id),
			zap.String("kind", kind),
			zap.Error(err))
	}
	return filled
}

func (c *Coordinator) settleUnwound(r *run, via string) error {
	_ = r.transition(StateSettled, "unwound by "+via, c.now())
	c.settled(r)
	return nil
}

// abandon gives up on the unwind, flags the exposure and raises the alert.
func (c *Coordinator) abandon(r *run) error {
	long, excess := c.overhang(r)

	r.mu.Lock()
	outcome := r.exec.leg(long).Outcome
	id := r.exec.ID
	key := r.exec.CandidateKey
	reason := fmt.Sprintf("unhedged %.4f units on leg %s after unwind", excess, long)
	r.exec.Unhedged = true
	r.exec.FailureReason = reason
	_ = r.exec.transition(StateAbandoned, reason, c.now())
	r.mu.Unlock()

	c.ledger.FlagUnhedged(outcome, id, reason)
	UnhedgedAlertsTotal.Inc()

	c.logger.Error("unhedged-exposure",
		zap.String("execution-id", id),
		zap.String("candidate-key", key),
		zap.String("outcome", outcome.String()),
		zap.Float64("excess", excess))

	if c.cfg.TripOnUnhedged && c.breaker != nil {
		c.breaker.Trip(fmt.Sprintf("execution %s left unhedged exposure on %s", id, outcome))
	}

	return fmt.Errorf("execution %s: %w", id, types.ErrUnwindFailure)
}
