package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mselser95/polymarket-hedge/internal/relationship"
	"github.com/mselser95/polymarket-hedge/internal/sizing"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	"go.uber.org/zap"
)

// Storage is the interface for storing opportunities.
type Storage interface {
	StoreOpportunity(ctx context.Context, opp *Opportunity) error
}

// SnapshotSource returns the latest snapshot for an outcome.
type SnapshotSource interface {
	Latest(key types.OutcomeKey) (types.Outcome, error)
}

// CandidateSource lists live candidates touching an outcome.
type CandidateSource interface {
	ForOutcome(key types.OutcomeKey) []relationship.Candidate
}

// PositionReader exposes the ledger state the detector consults.
type PositionReader interface {
	HasOpenHedge(candidateKey string) bool
	AvailableCapital() float64
}

// Sizer bounds opportunity size.
type Sizer interface {
	Size(q sizing.Quote, availableCapital, depthA, depthB float64) (sizing.Decision, error)
}

// Config holds detector configuration.
type Config struct {
	FeeAllowance    float64
	SlippageBuffer  float64
	RequiredMargins map[relationship.Tier]float64
	DecayWindow     time.Duration
	SweepInterval   time.Duration
	ChannelBuffer   int
	Logger          *zap.Logger
}

// DefaultRequiredMargins returns the per-tier margin requirements.
func DefaultRequiredMargins() map[relationship.Tier]float64 {
	return map[relationship.Tier]float64{
		relationship.Tier1: 0.005,
		relationship.Tier2: 0.01,
		relationship.Tier3: 0.02,
	}
}

// ValidateRequiredMargins checks that every tier has a margin and that less
// confident tiers never require less than more confident ones.
func ValidateRequiredMargins(m map[relationship.Tier]float64) error {
	prev := 0.0
	for _, tier := range []relationship.Tier{relationship.Tier1, relationship.Tier2, relationship.Tier3} {
		v, ok := m[tier]
		if !ok {
			return fmt.Errorf("missing required margin for tier %s", tier)
		}
		if v < 0 {
			return fmt.Errorf("required margin for tier %s must be non-negative, got %f", tier, v)
		}
		if v < prev {
			return fmt.Errorf("required margin for tier %s (%f) is below a more confident tier (%f)", tier, v, prev)
		}
		prev = v
	}
	return nil
}

type depthSignature struct {
	askA, depthA float64
	askB, depthB float64
}

// Detector turns snapshot updates into sized opportunities.
type Detector struct {
	snapshots  SnapshotSource
	candidates CandidateSource
	positions  PositionReader
	sizer      Sizer
	storage    Storage
	config     Config
	logger     *zap.Logger

	decayWindow atomic.Int64
	inFlight    atomic.Value // func(string) bool

	mu       sync.Mutex
	open     map[string]*Opportunity
	byID     map[string]string
	rejected map[string]depthSignature

	opportunityChan chan *Opportunity
	updateChan      <-chan types.Outcome
	now             func() time.Time
	wg              sync.WaitGroup
}

// New creates a new detector.
func New(cfg Config, snapshots SnapshotSource, candidates CandidateSource, positions PositionReader, sizer Sizer, storage Storage, updates <-chan types.Outcome) (*Detector, error) {
	if cfg.RequiredMargins == nil {
		cfg.RequiredMargins = DefaultRequiredMargins()
	}
	err := ValidateRequiredMargins(cfg.RequiredMargins)
	if err != nil {
		return nil, err
	}
	if cfg.DecayWindow <= 0 {
		cfg.DecayWindow = 10 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 250 * time.Millisecond
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	d := &Detector{
		snapshots:       snapshots,
		candidates:      candidates,
		positions:       positions,
		sizer:           sizer,
		storage:         storage,
		config:          cfg,
		logger:          cfg.Logger,
		open:            make(map[string]*Opportunity),
		byID:            make(map[string]string),
		rejected:        make(map[string]depthSignature),
		opportunityChan: make(chan *Opportunity, cfg.ChannelBuffer),
		updateChan:      updates,
		now:             time.Now,
	}
	d.SetDecayWindow(cfg.DecayWindow)
	return d, nil
}

// SetInFlight installs the check for executions already running on a candidate.
func (d *Detector) SetInFlight(fn func(candidateKey string) bool) {
	d.inFlight.Store(fn)
}

// SetDecayWindow changes the window applied to newly emitted opportunities.
func (d *Detector) SetDecayWindow(window time.Duration) {
	if window <= 0 {
		return
	}
	d.decayWindow.Store(int64(window))
	DecayWindowSeconds.Set(window.Seconds())
	d.logger.Info("decay-window-set", zap.Duration("decay-window", window))
}

// DecayWindow returns the current decay window.
func (d *Detector) DecayWindow() time.Duration {
	return time.Duration(d.decayWindow.Load())
}

// Start starts the detection and expiry sweep loops.
func (d *Detector) Start(ctx context.Context) error {
	d.logger.Info("opportunity-detector-starting",
		zap.Float64("fee-allowance", d.config.FeeAllowance),
		zap.Float64("slippage-buffer", d.config.SlippageBuffer),
		zap.Duration("decay-window", d.DecayWindow()))

	d.wg.Add(2)
	go d.detectionLoop(ctx)
	go d.sweepLoop(ctx)

	return nil
}

func (d *Detector) detectionLoop(ctx context.Context) {
	defer d.wg.Done()
	defer close(d.opportunityChan)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("opportunity-detector-stopping")
			return
		case update, ok := <-d.updateChan:
			if !ok {
				d.logger.Info("snapshot-updates-closed")
				return
			}
			start := time.Now()
			d.OnUpdate(ctx, update.Key)
			DetectionDurationSeconds.Observe(time.Since(start).Seconds())
		}
	}
}

func (d *Detector) sweepLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep()
		}
	}
}

// OnUpdate evaluates every live candidate touching the outcome. A failure on
// one candidate never stops the others.
func (d *Detector) OnUpdate(ctx context.Context, key types.OutcomeKey) []*Opportunity {
	var emitted []*Opportunity
	for _, c := range d.candidates.ForOutcome(key) {
		opp := d.safeEvaluate(ctx, c)
		if opp != nil {
			emitted = append(emitted, opp)
		}
	}
	return emitted
}

func (d *Detector) safeEvaluate(ctx context.Context, c relationship.Candidate) (opp *Opportunity) {
	defer func() {
		if r := recover(); r != nil {
			OpportunitiesRejectedTotal.WithLabelValues("panic").Inc()
			d.logger.Error("candidate-evaluation-panicked",
				zap.String("candidate", c.Key),
				zap.Any("panic", r))
			opp = nil
		}
	}()
	return d.Evaluate(ctx, c)
}

// Evaluate prices one candidate against the latest snapshots and emits an
// opportunity when every emission condition holds.
func (d *Detector) Evaluate(ctx context.Context, c relationship.Candidate) *Opportunity {
	snapA, err := d.snapshots.Latest(c.LegA)
	if err != nil {
		d.reject(c, "stale_or_missing", err)
		return nil
	}
	snapB, err := d.snapshots.Latest(c.LegB)
	if err != nil {
		d.reject(c, "stale_or_missing", err)
		return nil
	}
	if snapA.BestAsk <= 0 || snapB.BestAsk <= 0 {
		d.reject(c, "invalid_price", nil)
		return nil
	}

	required, ok := d.config.RequiredMargins[c.Tier]
	if !ok {
		d.reject(c, "unknown_tier", nil)
		return nil
	}

	now := d.now()
	margin := ComputeMargin(snapA.BestAsk, snapB.BestAsk, c.HedgeRatio, d.config.FeeAllowance, d.config.SlippageBuffer)

	if margin <= required {
		d.removeByKey(c.Key, "margin_dropped")
		d.reject(c, "below_required_margin", nil)
		return nil
	}

	if d.positions != nil && d.positions.HasOpenHedge(c.Key) {
		d.reject(c, "open_hedge", nil)
		return nil
	}
	if d.isInFlight(c.Key) {
		d.reject(c, "in_flight", nil)
		return nil
	}

	depthA := snapA.AskDepthAt(snapA.BestAsk)
	depthB := snapB.AskDepthAt(snapB.BestAsk)
	sig := depthSignature{askA: snapA.BestAsk, depthA: depthA, askB: snapB.BestAsk, depthB: depthB}

	d.mu.Lock()
	if existing, exists := d.open[c.Key]; exists {
		if !existing.Expired(now) {
			d.mu.Unlock()
			d.reject(c, "duplicate", nil)
			return nil
		}
		d.removeLocked(c.Key, "expired")
	}
	if prev, rejected := d.rejected[c.Key]; rejected && prev == sig {
		d.mu.Unlock()
		d.reject(c, "liquidity_unchanged", nil)
		return nil
	}

	capital := 0.0
	if d.positions != nil {
		capital = d.positions.AvailableCapital()
	}
	decision, err := d.sizer.Size(sizing.Quote{
		Tier:         c.Tier,
		AskA:         snapA.BestAsk,
		AskB:         snapB.BestAsk,
		HedgeRatio:   c.HedgeRatio,
		Margin:       margin,
		FeeAllowance: d.config.FeeAllowance,
	}, capital, depthA, depthB)
	if err != nil {
		// Only a depth-bound reject waits for the book to change. A
		// capital-bound one is retried on the next update.
		if errors.Is(err, types.ErrInsufficientLiquidity) && decision.DepthCap <= decision.CapitalCap {
			d.rejected[c.Key] = sig
		} else {
			delete(d.rejected, c.Key)
		}
		d.mu.Unlock()
		d.reject(c, "sizing", err)
		return nil
	}

	opp := newOpportunity(c, now, d.DecayWindow())
	opp.AskA = snapA.BestAsk
	opp.AskB = snapB.BestAsk
	opp.BidA = snapA.BestBid
	opp.BidB = snapB.BestBid
	opp.DepthA = depthA
	opp.DepthB = depthB
	opp.Margin = margin
	opp.FeeAllowance = d.config.FeeAllowance
	opp.SlippageBuffer = d.config.SlippageBuffer
	opp.RequiredMargin = required
	opp.Quantity = decision.Quantity
	opp.QuantityB = decision.QuantityB
	opp.ExpectedProfit = decision.ExpectedProfit

	d.open[c.Key] = opp
	d.byID[opp.ID] = c.Key
	delete(d.rejected, c.Key)
	OpenOpportunities.Set(float64(len(d.open)))
	d.mu.Unlock()

	OpportunitiesDetectedTotal.WithLabelValues(c.Tier.String()).Inc()
	OpportunityMarginBPS.Observe(float64(opp.MarginBPS()))
	OpportunityQuantity.Observe(opp.Quantity)

	latest := snapA.Timestamp
	if snapB.Timestamp.After(latest) {
		latest = snapB.Timestamp
	}
	EndToEndLatencySeconds.Observe(now.Sub(latest).Seconds())

	if d.storage != nil {
		err = d.storage.StoreOpportunity(ctx, opp)
		if err != nil {
			d.logger.Error("failed-to-store-opportunity",
				zap.String("opportunity-id", opp.ID),
				zap.Error(err))
		}
	}

	select {
	case d.opportunityChan <- opp:
		d.logger.Info("opportunity-detected",
			zap.String("opportunity-id", opp.ID),
			zap.String("candidate", c.Key),
			zap.String("tier", c.Tier.String()),
			zap.Int("margin-bps", opp.MarginBPS()),
			zap.Float64("quantity", opp.Quantity),
			zap.Time("expires-at", opp.ExpiresAt))
	default:
		d.logger.Warn("opportunity-channel-full", zap.String("candidate", c.Key))
		d.Resolve(opp.ID)
	}

	return opp
}

func (d *Detector) isInFlight(key string) bool {
	fn, ok := d.inFlight.Load().(func(string) bool)
	return ok && fn != nil && fn(key)
}

func (d *Detector) reject(c relationship.Candidate, reason string, err error) {
	OpportunitiesRejectedTotal.WithLabelValues(reason).Inc()
	if err != nil {
		d.logger.Debug("candidate-not-emitted",
			zap.String("candidate", c.Key),
			zap.String("reason", reason),
			zap.Error(err))
	}
}

// Resolve removes an opportunity once it has been executed or abandoned.
func (d *Detector) Resolve(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	key, ok := d.byID[id]
	if !ok {
		return false
	}
	d.removeLocked(key, "resolved")
	return true
}

func (d *Detector) removeByKey(key, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.open[key]; ok {
		d.removeLocked(key, reason)
	}
}

func (d *Detector) removeLocked(key, reason string) {
	opp, ok := d.open[key]
	if !ok {
		return
	}
	delete(d.open, key)
	delete(d.byID, opp.ID)
	OpenOpportunities.Set(float64(len(d.open)))
	OpportunitiesRemovedTotal.WithLabelValues(reason).Inc()

	d.logger.Debug("opportunity-removed",
		zap.String("opportunity-id", opp.ID),
		zap.String("candidate", key),
		zap.String("reason", reason))
}

// Sweep removes expired opportunities. Returns the number removed.
func (d *Detector) Sweep() int {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, opp := range d.open {
		if opp.Expired(now) {
			d.removeLocked(key, "expired")
			removed++
		}
	}
	return removed
}

// ForgetCandidate drops open and rejected state for an invalidated candidate.
func (d *Detector) ForgetCandidate(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.removeLocked(key, "invalidated")
	delete(d.rejected, key)
}

// Open returns copies of the open opportunities.
func (d *Detector) Open() []Opportunity {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Opportunity, 0, len(d.open))
	for _, opp := range d.open {
		if !opp.Expired(now) {
			out = append(out, *opp)
		}
	}
	return out
}

// OpportunityChan returns the channel for receiving opportunities.
func (d *Detector) OpportunityChan() <-chan *Opportunity {
	return d.opportunityChan
}

// Close waits for the detector loops to exit.
func (d *Detector) Close() error {
	d.logger.Info("closing-opportunity-detector")
	d.wg.Wait()
	d.logger.Info("opportunity-detector-closed")
	return nil
}
