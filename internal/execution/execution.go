package execution

import (
	"fmt"
	"time"

	"github.com/mselser95/polymarket-hedge/internal/arbitrage"
	"github.com/mselser95/polymarket-hedge/pkg/types"
)

// State is the lifecycle state of one hedge execution.
type State string

const (
	StateIdle           State = "idle"
	StateCommitting     State = "committing"
	StateBothFilled     State = "both_filled"
	StateLegAFilledOnly State = "leg_a_filled_only"
	StateLegBFilledOnly State = "leg_b_filled_only"
	StateFailed         State = "failed"
	StateUnwinding      State = "unwinding"
	StateSettled        State = "settled"
	StateAbandoned      State = "abandoned"
)

var transitions = map[State][]State{
	StateIdle:           {StateCommitting},
	StateCommitting:     {StateBothFilled, StateLegAFilledOnly, StateLegBFilledOnly, StateFailed},
	StateBothFilled:     {StateSettled},
	StateLegAFilledOnly: {StateUnwinding},
	StateLegBFilledOnly: {StateUnwinding},
	StateUnwinding:      {StateSettled, StateAbandoned},
}

// Terminal reports whether the execution can no longer change.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateSettled || s == StateAbandoned
}

// CanTransition reports whether to is a legal next state.
func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// LegStatus summarizes the fills on one leg.
type LegStatus string

const (
	LegPending         LegStatus = "pending"
	LegFilled          LegStatus = "filled"
	LegPartiallyFilled LegStatus = "partially_filled"
	LegFailed          LegStatus = "failed"
)

// LegState tracks orders and fills for one leg of the hedge.
type LegState struct {
	Outcome    types.OutcomeKey `json:"outcome"`
	Requested  float64          `json:"requested"`
	Filled     float64          `json:"filled"`
	Sold       float64          `json:"sold"`
	AvgPrice   float64          `json:"avg_price"`
	LimitPrice float64          `json:"limit_price"`
	OrderIDs   []string         `json:"order_ids,omitempty"`
	Attempts   int              `json:"attempts"`
	Status     LegStatus        `json:"status"`
	Error      string           `json:"error,omitempty"`
}

// Net returns units currently held on the leg.
func (l *LegState) Net() float64 {
	return l.Filled - l.Sold
}

// Cost returns the cash spent buying the leg.
func (l *LegState) Cost() float64 {
	return l.Filled * l.AvgPrice
}

func (l *LegState) addBuy(qty, price float64) {
	if qty <= 0 {
		return
	}
	l.AvgPrice = (l.AvgPrice*l.Filled + price*qty) / (l.Filled + qty)
	l.Filled += qty
}

func (l *LegState) refreshStatus() {
	switch {
	case l.Filled >= l.Requested-fillTolerance:
		l.Status = LegFilled
	case l.Filled > 0:
		l.Status = LegPartiallyFilled
	case l.Attempts > 0:
		l.Status = LegFailed
	default:
		l.Status = LegPending
	}
}

// Transition records one state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Execution is the record of one attempt to trade an opportunity.
type Execution struct {
	ID            string                `json:"id"`
	OpportunityID string                `json:"opportunity_id"`
	CandidateKey  string                `json:"candidate_key"`
	Opportunity   arbitrage.Opportunity `json:"opportunity"`
	State         State                 `json:"state"`
	LegA          LegState              `json:"leg_a"`
	LegB          LegState              `json:"leg_b"`
	Unhedged      bool                  `json:"unhedged"`
	FailureReason string                `json:"failure_reason,omitempty"`
	StartedAt     time.Time             `json:"started_at"`
	FinishedAt    time.Time             `json:"finished_at,omitempty"`
	History       []Transition          `json:"history"`
}

func newExecution(id string, opp *arbitrage.Opportunity, now time.Time) Execution {
	return Execution{
		ID:            id,
		OpportunityID: opp.ID,
		CandidateKey:  opp.Candidate.Key,
		Opportunity:   *opp,
		State:         StateIdle,
		LegA: LegState{
			Outcome:   opp.Candidate.LegA,
			Requested: opp.Quantity,
			Status:    LegPending,
		},
		LegB: LegState{
			Outcome:   opp.Candidate.LegB,
			Requested: opp.QuantityB,
			Status:    LegPending,
		},
		StartedAt: now,
	}
}

func (e *Execution) transition(to State, reason string, now time.Time) error {
	if !e.State.CanTransition(to) {
		return fmt.Errorf("execution %s: invalid transition %s -> %s", e.ID, e.State, to)
	}
	e.History = append(e.History, Transition{From: e.State, To: to, At: now, Reason: reason})
	e.State = to
	if to.Terminal() {
		e.FinishedAt = now
	}
	return nil
}

// Imbalance returns leg A exposure in leg B units minus leg B holdings.
// Positive means leg A carries excess exposure.
func (e *Execution) Imbalance() float64 {
	return e.LegA.Net()*e.Opportunity.Candidate.HedgeRatio - e.LegB.Net()
}

// Hedged reports whether both legs hold matching exposure.
func (e *Execution) Hedged() bool {
	d := e.Imbalance()
	return d <= balanceTolerance && d >= -balanceTolerance
}

// Cost returns the cash spent on both legs.
func (e *Execution) Cost() float64 {
	return e.LegA.Cost() + e.LegB.Cost()
}

func (e *Execution) leg(which legID) *LegState {
	if which == legA {
		return &e.LegA
	}
	return &e.LegB
}

func (e *Execution) clone() Execution {
	c := *e
	c.LegA.OrderIDs = append([]string(nil), e.LegA.OrderIDs...)
	c.LegB.OrderIDs = append([]string(nil), e.LegB.OrderIDs...)
	c.History = append([]Transition(nil), e.History...)
	return c
}

type legID int

const (
	legA legID = iota
	legB
)

func (l legID) String() string {
	if l == legA {
		return "A"
	}
	return "B"
}

const balanceTolerance = 1e-6
