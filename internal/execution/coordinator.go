package execution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/polymarket-hedge/internal/arbitrage"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Execution modes.
const (
	ModePaper  = "paper"
	ModeDryRun = "dry-run"
)

// Ledger receives confirmed fills and unhedged flags.
type Ledger interface {
	RecordFills(ctx context.Context, fills []types.Fill) error
	FlagUnhedged(outcome types.OutcomeKey, executionID, reason string)
}

// Breaker gates new executions.
type Breaker interface {
	IsEnabled() bool
	RecordTrade(cost float64)
	Trip(reason string)
}

// Resolver removes executed opportunities from the open set.
type Resolver interface {
	Resolve(id string) bool
}

// Storage persists finished executions.
type Storage interface {
	StoreExecution(ctx context.Context, exec *Execution) error
}

// Config holds coordinator configuration.
type Config struct {
	Mode string

	Venue    Venue
	Ledger   Ledger
	Breaker  Breaker     // optional
	Resolver Resolver    // optional
	Storage  Storage     // optional
	Quotes   QuoteSource // optional, fresher prices for unwinding

	Tracker *FillTrackerConfig

	FillTimeout          time.Duration
	MaxChaseAttempts     int
	ChaseSlippageStep    float64
	MaxUnwindLossPerUnit float64
	MaxCloseAttempts     int
	CloseSlippageStep    float64
	MaxConcurrent        int
	HistoryLimit         int
	TripOnUnhedged       bool

	Logger *zap.Logger
}

// DefaultConfig returns coordinator defaults without collaborators.
func DefaultConfig() Config {
	return Config{
		Mode:                 ModePaper,
		Tracker:              DefaultFillTrackerConfig(),
		FillTimeout:          5 * time.Second,
		MaxChaseAttempts:     2,
		ChaseSlippageStep:    0.01,
		MaxUnwindLossPerUnit: 0.02,
		MaxCloseAttempts:     3,
		CloseSlippageStep:    0.01,
		MaxConcurrent:        4,
		HistoryLimit:         1000,
		TripOnUnhedged:       true,
	}
}

type run struct {
	mu        sync.Mutex
	exec      Execution
	cancel    context.CancelFunc
	filled    bool
	cancelled bool
}

func (r *run) snapshot() Execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.clone()
}

func (r *run) transition(to State, reason string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exec.transition(to, reason, now)
}

// Coordinator drives opportunities through the execution state machine.
// A per-candidate lock spans Committing to the terminal state.
type Coordinator struct {
	cfg      Config
	venue    Venue
	tracker  *FillTracker
	ledger   Ledger
	breaker  Breaker
	resolver Resolver
	storage  Storage
	quotes   QuoteSource
	locks    *KeyedLocks
	logger   *zap.Logger

	mu      sync.RWMutex
	runs    map[string]*run
	history []Execution

	sem chan struct{}
	wg  sync.WaitGroup
	now func() time.Time
}

// New creates an execution coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Mode != ModePaper && cfg.Mode != ModeDryRun {
		return nil, fmt.Errorf("unknown execution mode: %s", cfg.Mode)
	}
	if cfg.Venue == nil && cfg.Mode != ModeDryRun {
		return nil, fmt.Errorf("venue cannot be nil")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("ledger cannot be nil")
	}
	if cfg.FillTimeout <= 0 {
		return nil, fmt.Errorf("fill timeout must be positive")
	}
	if cfg.MaxChaseAttempts < 0 || cfg.MaxCloseAttempts < 0 {
		return nil, fmt.Errorf("unwind attempts must be non-negative")
	}
	if cfg.ChaseSlippageStep < 0 || cfg.CloseSlippageStep < 0 || cfg.MaxUnwindLossPerUnit < 0 {
		return nil, fmt.Errorf("unwind slippage and loss bounds must be non-negative")
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 1000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Coordinator{
		cfg:      cfg,
		venue:    cfg.Venue,
		tracker:  NewFillTracker(cfg.Venue, cfg.Logger, cfg.Tracker),
		ledger:   cfg.Ledger,
		breaker:  cfg.Breaker,
		resolver: cfg.Resolver,
		storage:  cfg.Storage,
		quotes:   cfg.Quotes,
		locks:    NewKeyedLocks(),
		logger:   cfg.Logger,
		runs:     make(map[string]*run),
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		now:      time.Now,
	}, nil
}

// Start consumes opportunities until ctx is cancelled or the channel closes.
func (c *Coordinator) Start(ctx context.Context, opportunities <-chan *arbitrage.Opportunity) error {
	c.logger.Info("execution-coordinator-starting",
		zap.String("mode", c.cfg.Mode),
		zap.Int("max-concurrent", c.cfg.MaxConcurrent))

	c.wg.Add(1)
	go c.dispatchLoop(ctx, opportunities)

	return nil
}

func (c *Coordinator) dispatchLoop(ctx context.Context, opportunities <-chan *arbitrage.Opportunity) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("execution-coordinator-stopping")
			return
		case opp, ok := <-opportunities:
			if !ok {
				c.logger.Info("opportunity-channel-closed")
				return
			}

			if c.cfg.Mode == ModeDryRun {
				c.dryRun(opp)
				continue
			}

			select {
			case c.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}

			c.wg.Add(1)
			go func(opp *arbitrage.Opportunity) {
				defer c.wg.Done()
				defer func() { <-c.sem }()
				defer func() {
					if r := recover(); r != nil {
						c.logger.Error("execution-panic",
							zap.String("opportunity-id", opp.ID),
							zap.Any("panic", r))
					}
				}()
				c.handle(ctx, opp)
			}(opp)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, opp *arbitrage.Opportunity) {
	exec, err := c.Execute(ctx, opp)
	switch {
	case err == nil:
		c.logger.Info("execution-finished",
			zap.String("execution-id", exec.ID),
			zap.String("candidate-key", exec.CandidateKey),
			zap.String("state", string(exec.State)),
			zap.Float64("cost", exec.Cost()))
	case errors.Is(err, types.ErrLockContention), errors.Is(err, types.ErrOpportunityExpired):
		c.logger.Debug("execution-skipped",
			zap.String("opportunity-id", opp.ID),
			zap.Error(err))
	case errors.Is(err, types.ErrBreakerOpen):
		c.logger.Info("execution-skipped-breaker-open",
			zap.String("opportunity-id", opp.ID))
	case errors.Is(err, types.ErrUnwindFailure):
		// logged at error level by abandon
	default:
		c.logger.Warn("execution-error",
			zap.String("opportunity-id", opp.ID),
			zap.Error(err))
	}
}

func (c *Coordinator) dryRun(opp *arbitrage.Opportunity) {
	ExecutionsSkippedTotal.WithLabelValues("dry_run").Inc()
	c.logger.Info("dry-run-opportunity",
		zap.String("opportunity-id", opp.ID),
		zap.String("candidate-key", opp.Candidate.Key),
		zap.String("tier", opp.Candidate.Tier.String()),
		zap.Float64("margin", opp.Margin),
		zap.Float64("quantity", opp.Quantity),
		zap.Float64("expected-profit", opp.ExpectedProfit))
	c.resolve(opp.ID)
}

// Execute trades one opportunity to a terminal state. The returned
// Execution is a copy. Only ErrUnwindFailure indicates held risk.
func (c *Coordinator) Execute(ctx context.Context, opp *arbitrage.Opportunity) (*Execution, error) {
	if opp == nil {
		return nil, fmt.Errorf("execute: nil opportunity")
	}
	key := opp.Candidate.Key

	if c.breaker != nil && !c.breaker.IsEnabled() {
		ExecutionsSkippedTotal.WithLabelValues("breaker_open").Inc()
		return nil, fmt.Errorf("execute %s: %w", key, types.ErrBreakerOpen)
	}

	now := c.now()
	remaining := opp.Remaining(now)
	if remaining <= 0 {
		ExecutionsSkippedTotal.WithLabelValues("expired").Inc()
		c.resolve(opp.ID)
		return nil, fmt.Errorf("execute %s: %w", key, types.ErrOpportunityExpired)
	}

	id := uuid.New().String()
	if !c.locks.TryLock(key, id) {
		ExecutionsSkippedTotal.WithLabelValues("lock_contention").Inc()
		return nil, fmt.Errorf("execute %s: %w", key, types.ErrLockContention)
	}
	defer c.locks.Unlock(key, id)

	commitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &run{exec: newExecution(id, opp, now), cancel: cancel}
	c.mu.Lock()
	c.runs[id] = r
	c.mu.Unlock()

	ExecutionsInFlight.Inc()
	defer ExecutionsInFlight.Dec()
	CommitLatencySeconds.Observe(now.Sub(opp.DetectedAt).Seconds())
	start := time.Now()

	_ = r.transition(StateCommitting, "", now)
	c.logger.Info("execution-committing",
		zap.String("execution-id", id),
		zap.String("candidate-key", key),
		zap.Float64("quantity-a", opp.Quantity),
		zap.Float64("quantity-b", opp.QuantityB),
		zap.Float64("ask-a", opp.AskA),
		zap.Float64("ask-b", opp.AskB))

	deadline := now.Add(min(c.cfg.FillTimeout, remaining))
	c.commit(commitCtx, r, deadline)

	// Unwinding and bookkeeping must outlive a cancelled commit or shutdown.
	settleCtx := context.WithoutCancel(ctx)
	err := c.settle(settleCtx, r)

	snap := c.finish(settleCtx, r, time.Since(start))
	return &snap, err
}

// commit submits both legs concurrently and waits for confirmation.
func (c *Coordinator) commit(ctx context.Context, r *run, deadline time.Time) {
	opp := &r.exec.Opportunity

	var g errgroup.Group
	g.Go(func() error {
		return c.buyLeg(ctx, r, legA, opp.AskA, opp.Quantity, deadline)
	})
	g.Go(func() error {
		return c.buyLeg(ctx, r, legB, opp.AskB, opp.QuantityB, deadline)
	})

	err := g.Wait()
	if err != nil {
		c.logger.Debug("leg-commit-error",
			zap.String("execution-id", r.exec.ID),
			zap.Error(err))
	}
}

func (c *Coordinator) buyLeg(ctx context.Context, r *run, which legID, price, qty float64, deadline time.Time) error {
	r.mu.Lock()
	outcome := r.exec.leg(which).Outcome
	id := r.exec.ID
	r.mu.Unlock()

	req := types.OrderRequest{
		Outcome:    outcome,
		Action:     types.ActionBuy,
		Quantity:   qty,
		LimitPrice: price,
		ClientID:   fmt.Sprintf("%s-%s", id, which),
	}
	res, err := c.place(ctx, req, deadline)

	r.mu.Lock()
	defer r.mu.Unlock()

	leg := r.exec.leg(which)
	leg.Attempts++
	leg.LimitPrice = price
	if res.OrderID != "" {
		leg.OrderIDs = append(leg.OrderIDs, res.OrderID)
	}
	if res.FilledQuantity > 0 {
		leg.addBuy(res.FilledQuantity, fillPrice(res, req))
		r.filled = true
	}
	if err != nil {
		leg.Error = err.Error()
	}
	leg.refreshStatus()

	if err != nil {
		return fmt.Errorf("leg %s: %w", which, err)
	}
	return nil
}

// place submits one order and confirms it by the deadline.
func (c *Coordinator) place(ctx context.Context, req types.OrderRequest, deadline time.Time) (types.OrderResult, error) {
	res, err := c.venue.SubmitOrder(ctx, req)
	if err != nil {
		OrdersSubmittedTotal.WithLabelValues(string(req.Action), "error").Inc()
		return types.OrderResult{}, fmt.Errorf("submit %s: %w", req.Outcome, err)
	}

	if !res.Status.Terminal() {
		res, err = c.tracker.Confirm(ctx, req.Outcome, res, deadline)
	}
	OrdersSubmittedTotal.WithLabelValues(string(req.Action), string(res.Status)).Inc()
	return res, err
}

func fillPrice(res types.OrderResult, req types.OrderRequest) float64 {
	if res.AvgFillPrice > 0 {
		return res.AvgFillPrice
	}
	return req.LimitPrice
}

// settle classifies the committed fills and unwinds any imbalance.
func (c *Coordinator) settle(ctx context.Context, r *run) error {
	r.mu.Lock()
	e := &r.exec
	id := e.ID
	netA, netB := e.LegA.Net(), e.LegB.Net()
	priceA, priceB := e.LegA.AvgPrice, e.LegB.AvgPrice
	outA, outB := e.LegA.Outcome, e.LegB.Outcome
	hedged := e.Hedged()
	imbalance := e.Imbalance()
	cancelled := r.cancelled
	r.mu.Unlock()

	now := c.now()

	if netA <= fillTolerance && netB <= fillTolerance {
		reason := "no fills"
		if cancelled {
			reason = "cancelled"
		}
		r.mu.Lock()
		r.exec.FailureReason = reason
		_ = r.exec.transition(StateFailed, reason, now)
		r.mu.Unlock()
		return nil
	}

	fills := make([]types.Fill, 0, 2)
	if netA > fillTolerance {
		fills = append(fills, c.fill(r, outA, netA, priceA))
	}
	if netB > fillTolerance {
		fills = append(fills, c.fill(r, outB, netB, priceB))
	}
	c.record(ctx, id, fills...)

	if hedged {
		_ = r.transition(StateBothFilled, "", now)
		_ = r.transition(StateSettled, "", c.now())
		c.settled(r)
		return nil
	}

	single := StateLegAFilledOnly
	if imbalance < 0 {
		single = StateLegBFilledOnly
	}
	_ = r.transition(single, fmt.Sprintf("imbalance %.6f", imbalance), now)
	_ = r.transition(StateUnwinding, "", c.now())

	return c.unwind(ctx, r)
}

func (c *Coordinator) settled(r *run) {
	r.mu.Lock()
	cost := r.exec.Cost()
	r.mu.Unlock()

	CapitalCommittedUSD.Add(cost)
	if c.breaker != nil && cost > 0 {
		c.breaker.RecordTrade(cost)
	}
}

func (c *Coordinator) fill(r *run, outcome types.OutcomeKey, qty, price float64) types.Fill {
	return types.Fill{
		ExecutionID:  r.exec.ID,
		CandidateKey: r.exec.CandidateKey,
		Outcome:      outcome,
		Quantity:     qty,
		Price:        price,
		At:           c.now(),
	}
}

func (c *Coordinator) record(ctx context.Context, executionID string, fills ...types.Fill) {
	if len(fills) == 0 {
		return
	}
	err := c.ledger.RecordFills(ctx, fills)
	if err != nil {
		c.logger.Warn("ledger-record-failed",
			zap.String("execution-id", executionID),
			zap.Error(err))
	}
}

// finish moves the run to history, resolves the opportunity and
// persists the execution.
func (c *Coordinator) finish(ctx context.Context, r *run, elapsed time.Duration) Execution {
	snap := r.snapshot()

	c.mu.Lock()
	delete(c.runs, snap.ID)
	c.history = append(c.history, snap)
	if len(c.history) > c.cfg.HistoryLimit {
		c.history = c.history[len(c.history)-c.cfg.HistoryLimit:]
	}
	c.mu.Unlock()

	c.resolve(snap.OpportunityID)

	ExecutionsTotal.WithLabelValues(string(snap.State)).Inc()
	ExecutionDurationSeconds.Observe(elapsed.Seconds())

	if c.storage != nil {
		err := c.storage.StoreExecution(ctx, &snap)
		if err != nil {
			c.logger.Warn("execution-store-failed",
				zap.String("execution-id", snap.ID),
				zap.Error(err))
		}
	}

	c.logger.Debug("execution-terminal",
		zap.String("execution-id", snap.ID),
		zap.String("state", string(snap.State)),
		zap.Float64("filled-a", snap.LegA.Net()),
		zap.Float64("filled-b", snap.LegB.Net()),
		zap.Duration("elapsed", elapsed))

	return snap.clone()
}

func (c *Coordinator) resolve(opportunityID string) {
	if c.resolver != nil {
		c.resolver.Resolve(opportunityID)
	}
}

// Cancel aborts an execution that is still committing with no fill
// confirmed. Pending orders are cancelled at the venue.
func (c *Coordinator) Cancel(executionID string) error {
	c.mu.RLock()
	r, ok := c.runs[executionID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("cancel %s: execution not in flight", executionID)
	}

	r.mu.Lock()
	if r.exec.State != StateCommitting || r.filled {
		state := r.exec.State
		r.mu.Unlock()
		return fmt.Errorf("cancel %s in state %s: %w", executionID, state, types.ErrCancelNotAllowed)
	}
	r.cancelled = true
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	c.logger.Info("execution-cancel-requested", zap.String("execution-id", executionID))
	return nil
}

// InFlight reports whether the candidate is locked by an execution.
func (c *Coordinator) InFlight(candidateKey string) bool {
	return c.locks.Held(candidateKey)
}

// Execution returns a copy of one in-flight or finished execution.
func (c *Coordinator) Execution(id string) (Execution, bool) {
	c.mu.RLock()
	r, ok := c.runs[id]
	if !ok {
		for i := len(c.history) - 1; i >= 0; i-- {
			if c.history[i].ID == id {
				e := c.history[i].clone()
				c.mu.RUnlock()
				return e, true
			}
		}
		c.mu.RUnlock()
		return Execution{}, false
	}
	c.mu.RUnlock()
	return r.snapshot(), true
}

// Executions returns copies of in-flight and recent executions ordered by start time.
func (c *Coordinator) Executions() []Execution {
	c.mu.RLock()
	active := make([]*run, 0, len(c.runs))
	for _, r := range c.runs {
		active = append(active, r)
	}
	out := make([]Execution, 0, len(c.history)+len(active))
	for i := range c.history {
		out = append(out, c.history[i].clone())
	}
	c.mu.RUnlock()

	for _, r := range active {
		out = append(out, r.snapshot())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Close waits for the dispatch loop and in-flight executions.
func (c *Coordinator) Close() error {
	c.logger.Info("closing-execution-coordinator")
	c.wg.Wait()
	c.logger.Info("execution-coordinator-closed",
		zap.Int("executions", len(c.Executions())))
	return nil
}
