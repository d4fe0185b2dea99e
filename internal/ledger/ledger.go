package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mselser95/polymarket-hedge/pkg/types"
	"go.uber.org/zap"
)

const quantityEpsilon = 1e-9

// PositionStatus tracks whether a position still holds units.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// RiskFlag marks positions that need operator attention.
type RiskFlag string

const (
	RiskNone     RiskFlag = "none"
	RiskUnhedged RiskFlag = "unhedged"
)

// Position is the accumulated holding in one outcome.
type Position struct {
	Outcome     types.OutcomeKey `json:"outcome"`
	Fills       []types.Fill     `json:"fills"`
	NetQuantity float64          `json:"net_quantity"`
	CostBasis   float64          `json:"cost_basis"`
	Status      PositionStatus   `json:"status"`
	RealizedPnL float64          `json:"realized_pnl"`
	RiskFlag    RiskFlag         `json:"risk_flag"`
	RiskReason  string           `json:"risk_reason,omitempty"`
	OpenedAt    time.Time        `json:"opened_at"`
	ClosedAt    time.Time        `json:"closed_at,omitempty"`
}

func (p *Position) clone() Position {
	c := *p
	c.Fills = append([]types.Fill(nil), p.Fills...)
	return c
}

// FillSink receives fills after they are appended, outside the ledger lock.
type FillSink interface {
	StoreFill(ctx context.Context, fill *types.Fill) error
}

type hedge struct {
	net map[types.OutcomeKey]float64
}

func (h *hedge) open() bool {
	for _, q := range h.net {
		if q > quantityEpsilon {
			return true
		}
	}
	return false
}

// Ledger records fills and tracks positions and realized PnL.
type Ledger struct {
	mu             sync.RWMutex
	positions      map[types.OutcomeKey]*Position
	hedges         map[string]*hedge
	initialCapital float64
	sink           FillSink
	logger         *zap.Logger
	now            func() time.Time
}

// Config holds ledger configuration.
type Config struct {
	InitialCapital float64
	Sink           FillSink
	Logger         *zap.Logger
}

// New creates an empty ledger.
func New(cfg *Config) *Ledger {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		positions:      make(map[types.OutcomeKey]*Position),
		hedges:         make(map[string]*hedge),
		initialCapital: cfg.InitialCapital,
		sink:           cfg.Sink,
		logger:         logger,
		now:            time.Now,
	}
}

// RecordFill appends a single fill. Quantity is signed: buys positive.
func (l *Ledger) RecordFill(outcome types.OutcomeKey, quantity, price float64, executionID string) error {
	return l.RecordFills(context.Background(), []types.Fill{{
		ExecutionID: executionID,
		Outcome:     outcome,
		Quantity:    quantity,
		Price:       price,
	}})
}

// RecordFills appends fills atomically: either all are applied or none.
func (l *Ledger) RecordFills(ctx context.Context, fills []types.Fill) error {
	if len(fills) == 0 {
		return nil
	}

	now := l.now()
	for i := range fills {
		if fills[i].At.IsZero() {
			fills[i].At = now
		}
		if math.Abs(fills[i].Quantity) < quantityEpsilon {
			return fmt.Errorf("record fill %s: zero quantity", fills[i].Outcome)
		}
		if fills[i].Price < 0 || fills[i].Price > 1 {
			return fmt.Errorf("record fill %s: price %f out of range", fills[i].Outcome, fills[i].Price)
		}
	}

	l.mu.Lock()
	err := l.checkSellsLocked(fills)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	for i := range fills {
		l.applyLocked(&fills[i])
	}
	l.updateGaugesLocked()
	l.mu.Unlock()

	for i := range fills {
		FillsRecordedTotal.Inc()
		l.logger.Debug("fill-recorded",
			zap.String("execution-id", fills[i].ExecutionID),
			zap.String("outcome", fills[i].Outcome.String()),
			zap.Float64("quantity", fills[i].Quantity),
			zap.Float64("price", fills[i].Price))

		if l.sink != nil {
			sinkErr := l.sink.StoreFill(ctx, &fills[i])
			if sinkErr != nil {
				l.logger.Warn("fill-sink-failed",
					zap.String("execution-id", fills[i].ExecutionID),
					zap.Error(sinkErr))
			}
		}
	}
	return nil
}

func (l *Ledger) checkSellsLocked(fills []types.Fill) error {
	pending := make(map[types.OutcomeKey]float64)
	for i := range fills {
		f := &fills[i]
		held := 0.0
		if pos, ok := l.positions[f.Outcome]; ok && pos.Status == PositionOpen {
			held = pos.NetQuantity
		}
		held += pending[f.Outcome]
		if f.Quantity < 0 && held+f.Quantity < -quantityEpsilon {
			return fmt.Errorf("record fill %s: sell of %.4f exceeds held %.4f", f.Outcome, -f.Quantity, held)
		}
		pending[f.Outcome] += f.Quantity
	}
	return nil
}

func (l *Ledger) applyLocked(f *types.Fill) {
	pos, ok := l.positions[f.Outcome]
	if !ok || (pos.Status == PositionClosed && f.Quantity > 0) {
		prev := pos
		pos = &Position{
			Outcome:  f.Outcome,
			Status:   PositionOpen,
			RiskFlag: RiskNone,
			OpenedAt: f.At,
		}
		if prev != nil {
			pos.Fills = prev.Fills
			pos.RealizedPnL = prev.RealizedPnL
		}
		l.positions[f.Outcome] = pos
	}

	pos.Fills = append(pos.Fills, *f)

	if f.Quantity > 0 {
		pos.NetQuantity += f.Quantity
		pos.CostBasis += f.Quantity * f.Price
	} else {
		sold := -f.Quantity
		avg := pos.CostBasis / pos.NetQuantity
		pos.CostBasis -= avg * sold
		pos.RealizedPnL += (f.Price - avg) * sold
		pos.NetQuantity -= sold
		if pos.NetQuantity < quantityEpsilon {
			pos.NetQuantity = 0
			pos.CostBasis = 0
			pos.Status = PositionClosed
			pos.ClosedAt = f.At
		}
	}

	if f.CandidateKey != "" {
		h, ok := l.hedges[f.CandidateKey]
		if !ok {
			h = &hedge{net: make(map[types.OutcomeKey]float64)}
			l.hedges[f.CandidateKey] = h
		}
		h.net[f.Outcome] += f.Quantity
		if !h.open() {
			delete(l.hedges, f.CandidateKey)
		}
	}
}

// Settle closes every open position in the market, realizing
// payout*quantity - costBasis with a payout of 1 for the winning side.
// Returns the PnL realized by this settlement.
func (l *Ledger) Settle(venue, marketID string, winner types.Side) (float64, error) {
	if !winner.Valid() {
		return 0, fmt.Errorf("settle %s:%s: invalid side %q", venue, marketID, winner)
	}

	now := l.now()
	realized := 0.0
	settled := 0

	l.mu.Lock()
	for key, pos := range l.positions {
		if key.Venue != venue || key.MarketID != marketID || pos.Status != PositionOpen {
			continue
		}
		payout := 0.0
		if key.Side == winner {
			payout = 1.0
		}
		pnl := payout*pos.NetQuantity - pos.CostBasis
		pos.RealizedPnL += pnl
		pos.Status = PositionClosed
		pos.ClosedAt = now
		realized += pnl
		settled++
	}

	// A hedge stays open while a leg on another, unresolved market holds units.
	for ck, h := range l.hedges {
		for outcome := range h.net {
			if outcome.Venue == venue && outcome.MarketID == marketID {
				h.net[outcome] = 0
			}
		}
		if !h.open() {
			delete(l.hedges, ck)
		}
	}
	l.updateGaugesLocked()
	l.mu.Unlock()

	SettlementsTotal.Inc()
	SettlementPnL.Add(realized)

	l.logger.Info("market-settled",
		zap.String("market", venue+":"+marketID),
		zap.String("winner", string(winner)),
		zap.Int("positions", settled),
		zap.Float64("realized-pnl", realized))

	return realized, nil
}

// FlagUnhedged marks the position as carrying unhedged risk.
func (l *Ledger) FlagUnhedged(outcome types.OutcomeKey, executionID, reason string) {
	l.mu.Lock()
	pos, ok := l.positions[outcome]
	if !ok {
		pos = &Position{Outcome: outcome, Status: PositionClosed, OpenedAt: l.now()}
		l.positions[outcome] = pos
	}
	pos.RiskFlag = RiskUnhedged
	pos.RiskReason = fmt.Sprintf("execution %s: %s", executionID, reason)
	l.mu.Unlock()

	UnhedgedPositionsTotal.Inc()
}

// Position returns a copy of one position.
func (l *Ledger) Position(outcome types.OutcomeKey) (Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	pos, ok := l.positions[outcome]
	if !ok {
		return Position{}, false
	}
	return pos.clone(), true
}

// Positions returns copies of all positions ordered by outcome.
func (l *Ledger) Positions() []Position {
	l.mu.RLock()
	out := make([]Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, pos.clone())
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Outcome.String() < out[j].Outcome.String() })
	return out
}

// HasOpenHedge reports whether fills for the candidate still hold units.
func (l *Ledger) HasOpenHedge(candidateKey string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.hedges[candidateKey]
	return ok
}

// AvailableCapital is initial capital less open cost plus realized PnL.
func (l *Ledger) AvailableCapital() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	capital := l.initialCapital
	for _, pos := range l.positions {
		if pos.Status == PositionOpen {
			capital -= pos.CostBasis
		}
		capital += pos.RealizedPnL
	}
	return capital
}

// RealizedPnL sums realized PnL across all positions.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	total := 0.0
	for _, pos := range l.positions {
		total += pos.RealizedPnL
	}
	return total
}

func (l *Ledger) updateGaugesLocked() {
	open := 0
	exposure := 0.0
	for _, pos := range l.positions {
		if pos.Status == PositionOpen {
			open++
			exposure += pos.CostBasis
		}
	}
	OpenPositions.Set(float64(open))
	OpenExposure.Set(exposure)
}
