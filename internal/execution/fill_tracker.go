package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mselser95/polymarket-hedge/pkg/types"
	"go.uber.org/zap"
)

const fillTolerance = 1e-6

// FillTracker confirms pending orders with exponential backoff.
type FillTracker struct {
	venue          Venue
	logger         *zap.Logger
	initialBackoff time.Duration
	maxBackoff     time.Duration
	backoffMult    float64
	cancelTimeout  time.Duration
}

// FillTrackerConfig holds configuration for fill confirmation.
type FillTrackerConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffMult    float64
	// CancelTimeout bounds the cancel and final status query issued
	// once the confirmation deadline passes.
	CancelTimeout time.Duration
}

// DefaultFillTrackerConfig returns polling defaults.
func DefaultFillTrackerConfig() *FillTrackerConfig {
	return &FillTrackerConfig{
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		BackoffMult:    2.0,
		CancelTimeout:  2 * time.Second,
	}
}

// NewFillTracker creates a new FillTracker instance.
func NewFillTracker(venue Venue, logger *zap.Logger, cfg *FillTrackerConfig) *FillTracker {
	if cfg == nil {
		cfg = DefaultFillTrackerConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mult := cfg.BackoffMult
	if mult < 1 {
		mult = 1
	}
	return &FillTracker{
		venue:          venue,
		logger:         logger,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		backoffMult:    mult,
		cancelTimeout:  cfg.CancelTimeout,
	}
}

// Confirm polls the venue until the order reaches a terminal status or
// the deadline passes. On deadline or context cancellation the order is
// cancelled and its final fill is returned together with ErrFillTimeout
// or the context error.
func (ft *FillTracker) Confirm(
	ctx context.Context,
	outcome types.OutcomeKey,
	submitted types.OrderResult,
	deadline time.Time,
) (types.OrderResult, error) {
	if submitted.Status.Terminal() {
		return submitted, nil
	}

	start := time.Now()
	last := submitted
	backoff := ft.initialBackoff
	attempt := 0

	timeout := time.NewTimer(time.Until(deadline))
	defer timeout.Stop()

	for {
		wait := time.NewTimer(backoff)
		select {
		case <-timeout.C:
			wait.Stop()
			FillTimeoutsTotal.Inc()
			ft.logger.Warn("fill-confirmation-timeout",
				zap.String("order-id", submitted.OrderID),
				zap.String("outcome", outcome.String()),
				zap.Int("attempts", attempt),
				zap.Float64("filled", last.FilledQuantity))
			final := ft.abandon(outcome, last)
			return final, fmt.Errorf("confirm %s: %w", submitted.OrderID, types.ErrFillTimeout)

		case <-ctx.Done():
			wait.Stop()
			ft.logger.Info("fill-confirmation-cancelled",
				zap.String("order-id", submitted.OrderID),
				zap.String("outcome", outcome.String()),
				zap.Error(ctx.Err()))
			final := ft.abandon(outcome, last)
			return final, ctx.Err()

		case <-wait.C:
		}

		attempt++
		res, err := ft.venue.OrderStatus(ctx, outcome, submitted.OrderID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			ft.logger.Warn("order-status-failed-retrying",
				zap.String("order-id", submitted.OrderID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else {
			last = res
			if res.Status.Terminal() {
				ft.logger.Debug("order-confirmed",
					zap.String("order-id", submitted.OrderID),
					zap.String("status", string(res.Status)),
					zap.Float64("filled", res.FilledQuantity),
					zap.Int("attempts", attempt),
					zap.Duration("duration", time.Since(start)))
				return res, nil
			}
		}

		backoff = time.Duration(float64(backoff) * ft.backoffMult)
		if backoff > ft.maxBackoff {
			backoff = ft.maxBackoff
		}
	}
}

// abandon cancels the order and reads its final state. The last known
// result is returned when the venue cannot be reached.
func (ft *FillTracker) abandon(outcome types.OutcomeKey, last types.OrderResult) types.OrderResult {
	ctx, cancel := context.WithTimeout(context.Background(), ft.cancelTimeout)
	defer cancel()

	err := ft.venue.CancelOrder(ctx, outcome, last.OrderID)
	if err != nil {
		var orderErr *types.OrderError
		if !errors.As(err, &orderErr) {
			ft.logger.Warn("order-cancel-failed",
				zap.String("order-id", last.OrderID),
				zap.Error(err))
		}
	}

	final, err := ft.venue.OrderStatus(ctx, outcome, last.OrderID)
	if err != nil {
		ft.logger.Warn("final-order-status-failed",
			zap.String("order-id", last.OrderID),
			zap.Error(err))
		return last
	}
	if !final.Status.Terminal() {
		final.Status = types.OrderCancelled
	}
	return final
}
