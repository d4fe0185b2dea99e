package execution

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
		ok   bool
	}{
		{StateIdle, StateCommitting, true},
		{StateIdle, StateSettled, false},
		{StateCommitting, StateBothFilled, true},
		{StateCommitting, StateLegAFilledOnly, true},
		{StateCommitting, StateFailed, true},
		{StateCommitting, StateUnwinding, false},
		{StateBothFilled, StateSettled, true},
		{StateLegBFilledOnly, StateUnwinding, true},
		{StateLegBFilledOnly, StateSettled, false},
		{StateUnwinding, StateAbandoned, true},
		{StateSettled, StateCommitting, false},
		{StateFailed, StateCommitting, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"-to-"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to))
		})
	}

	for _, s := range []State{StateFailed, StateSettled, StateAbandoned} {
		assert.True(t, s.Terminal(), s)
	}
	assert.False(t, StateUnwinding.Terminal())
}

func TestExecutionRecordsHistory(t *testing.T) {
	e := newExecution("e1", testOpportunity(t), time.Now())

	require.NoError(t, e.transition(StateCommitting, "", time.Now()))
	require.Error(t, e.transition(StateSettled, "", time.Now()))
	require.NoError(t, e.transition(StateFailed, "no fills", time.Now()))

	assert.Len(t, e.History, 2)
	assert.Equal(t, StateFailed, e.State)
	assert.False(t, e.FinishedAt.IsZero())

	c := e.clone()
	c.History[0].Reason = "mutated"
	assert.Empty(t, e.History[0].Reason)
}

func TestImbalanceUsesHedgeRatio(t *testing.T) {
	opp := testOpportunity(t)
	opp.Candidate.HedgeRatio = 0.5
	e := newExecution("e1", opp, time.Now())

	e.LegA.addBuy(10, 0.4)
	e.LegB.addBuy(5, 0.5)
	assert.True(t, e.Hedged())

	e.LegB.Sold = 1
	assert.InDelta(t, 1, e.Imbalance(), 1e-9)
	assert.False(t, e.Hedged())
}

func TestLegStatus(t *testing.T) {
	l := LegState{Requested: 10}
	l.refreshStatus()
	assert.Equal(t, LegPending, l.Status)

	l.Attempts = 1
	l.refreshStatus()
	assert.Equal(t, LegFailed, l.Status)

	l.addBuy(4, 0.4)
	l.addBuy(6, 0.5)
	l.refreshStatus()
	assert.Equal(t, LegFilled, l.Status)
	assert.InDelta(t, 0.46, l.AvgPrice, 1e-9)
}

func TestKeyedLocks(t *testing.T) {
	k := NewKeyedLocks()

	require.True(t, k.TryLock("a", "e1"))
	assert.False(t, k.TryLock("a", "e2"))
	assert.True(t, k.TryLock("b", "e2"))
	assert.Equal(t, 2, k.Len())

	k.Unlock("a", "e2")
	assert.True(t, k.Held("a"), "non-owner unlock must be ignored")

	k.Unlock("a", "e1")
	assert.False(t, k.Held("a"))
	assert.True(t, k.TryLock("a", "e3"))
}
