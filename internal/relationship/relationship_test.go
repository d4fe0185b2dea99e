package relationship

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/polymarket-hedge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var closes = time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)

func market(venue, id, question string) types.Market {
	return types.Market{Venue: venue, ID: id, Question: question, ClosesAt: closes, Status: types.MarketActive, Revision: 1}
}

func TestTierForScore(t *testing.T) {
	tests := []struct {
		name  string
		score float64
		want  Tier
	}{
		{name: "perfect", score: 1.0, want: Tier1},
		{name: "t1-floor", score: 0.95, want: Tier1},
		{name: "t2", score: 0.92, want: Tier2},
		{name: "t2-floor", score: 0.90, want: Tier2},
		{name: "t3", score: 0.87, want: Tier3},
		{name: "t3-floor", score: 0.85, want: Tier3},
		{name: "below-floor", score: 0.849, want: TierNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TierForScore(tt.score))
		})
	}
}

func TestRuleClassifierSameMarket(t *testing.T) {
	r := NewRuleClassifier(RuleConfig{})
	m := market("polymarket", "m1", "Will it rain?")

	c, err := r.Classify(context.Background(), m, m)
	require.NoError(t, err)
	require.NotNil(t, c)

	assert.Equal(t, m.Outcome(types.SideYes), c.LegA)
	assert.Equal(t, m.Outcome(types.SideNo), c.LegB)
	assert.Equal(t, Tier1, c.Tier)
	assert.Equal(t, 1.0, c.HedgeRatio)
	assert.Equal(t, KindComplementary, c.Kind)
	assert.Equal(t, "polymarket:m1:YES|polymarket:m1:NO", c.Key)
}

func TestRuleClassifierCrossVenue(t *testing.T) {
	r := NewRuleClassifier(RuleConfig{})
	a := market("polymarket", "m1", "Will the Fed cut rates in December?")
	b := market("kalshi", "k1", "Will the Fed cut rates in December")

	c, err := r.Classify(context.Background(), a, b)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, a.Outcome(types.SideYes), c.LegA)
	assert.Equal(t, b.Outcome(types.SideNo), c.LegB)
	assert.Equal(t, Tier1, c.Tier)

	// Reversed arguments orient the legs the other way.
	rev, err := r.Classify(context.Background(), b, a)
	require.NoError(t, err)
	require.NotNil(t, rev)
	assert.Equal(t, b.Outcome(types.SideYes), rev.LegA)
	assert.Equal(t, a.Outcome(types.SideNo), rev.LegB)
}

func TestRuleClassifierRejects(t *testing.T) {
	r := NewRuleClassifier(RuleConfig{})

	tests := []struct {
		name string
		a, b types.Market
	}{
		{
			name: "different-questions",
			a:    market("polymarket", "m1", "Will the Fed cut rates?"),
			b:    market("kalshi", "k1", "Will Bitcoin reach 200k?"),
		},
		{
			name: "same-venue-different-market",
			a:    market("polymarket", "m1", "Will the Fed cut rates?"),
			b:    market("polymarket", "m2", "Will the Fed cut rates?"),
		},
		{
			name: "close-dates-apart",
			a:    market("polymarket", "m1", "Will the Fed cut rates?"),
			b: func() types.Market {
				m := market("kalshi", "k1", "Will the Fed cut rates?")
				m.ClosesAt = closes.Add(72 * time.Hour)
				return m
			}(),
		},
		{
			name: "resolved-market",
			a: func() types.Market {
				m := market("polymarket", "m1", "Will the Fed cut rates?")
				m.Status = types.MarketResolved
				return m
			}(),
			b: market("kalshi", "k1", "Will the Fed cut rates?"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := r.Classify(context.Background(), tt.a, tt.b)
			require.NoError(t, err)
			assert.Nil(t, c)
		})
	}
}

func TestRuleClassifierCorrelationTable(t *testing.T) {
	a := market("polymarket", "m1", "Will candidate X win the primary?")
	b := market("polymarket", "m2", "Will candidate X win the nomination?")

	r := NewRuleClassifier(RuleConfig{
		Correlations: map[string]Correlation{
			"polymarket:m1|polymarket:m2": {Score: 0.91, HedgeRatio: 1.25},
		},
	})

	c, err := r.Classify(context.Background(), a, b)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, KindCorrelated, c.Kind)
	assert.Equal(t, Tier2, c.Tier)
	assert.Equal(t, 1.25, c.HedgeRatio)
	assert.Equal(t, b.Outcome(types.SideNo), c.LegB)
}

func TestQuestionSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, QuestionSimilarity("a b c", "c b a"))
	assert.Equal(t, 0.5, QuestionSimilarity("a b", "a b c d"))
	assert.Equal(t, 0.0, QuestionSimilarity("", "a"))
}

type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	return f.response, f.err
}

func TestLLMClassifier(t *testing.T) {
	a := market("polymarket", "m1", "Will X happen by June?")
	b := market("kalshi", "k1", "X before July")

	tests := []struct {
		name     string
		response string
		err      error
		wantNil  bool
		wantErr  bool
		wantTier Tier
		wantLegB types.OutcomeKey
	}{
		{
			name:     "related-with-prose",
			response: "Sure: {\"related\": true, \"kind\": \"complementary\", \"score\": 0.96, \"hedge_ratio\": 1.0}",
			wantTier: Tier1,
			wantLegB: b.Outcome(types.SideNo),
		},
		{
			name:     "inverse",
			response: `{"related": true, "kind": "correlated", "score": 0.88, "hedge_ratio": 1.0, "inverse": true}`,
			wantTier: Tier3,
			wantLegB: b.Outcome(types.SideYes),
		},
		{
			name:     "unrelated",
			response: `{"related": false, "score": 0.2}`,
			wantNil:  true,
		},
		{
			name:     "low-confidence",
			response: `{"related": true, "kind": "complementary", "score": 0.5, "hedge_ratio": 1.0}`,
			wantNil:  true,
		},
		{
			name:     "garbage",
			response: "no idea",
			wantErr:  true,
		},
		{
			name:    "call-failure",
			err:     errors.New("boom"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLLMClassifier(&fakeCompleter{response: tt.response, err: tt.err}, 1000, 10)
			c, err := l.Classify(context.Background(), a, b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, c)
				return
			}
			require.NotNil(t, c)
			assert.Equal(t, tt.wantTier, c.Tier)
			assert.Equal(t, tt.wantLegB, c.LegB)
			assert.Equal(t, "llm", c.Source)
		})
	}
}

type mapCache struct {
	mu    sync.Mutex
	items map[string]interface{}
}

func newMapCache() *mapCache { return &mapCache{items: make(map[string]interface{})} }

func (m *mapCache) Get(key string) (interface{}, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok
}

func (m *mapCache) Set(key string, value interface{}, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return true
}

func (m *mapCache) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

func (m *mapCache) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]interface{})
}

func (m *mapCache) Close() {}

type countingClassifier struct {
	calls int
	cand  *Candidate
	err   error
	delay time.Duration
}

func (c *countingClassifier) Classify(ctx context.Context, a, b types.Market) (*Candidate, error) {
	c.calls++
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return c.cand, c.err
}

func TestCachedClassifierIdempotentWithinWindow(t *testing.T) {
	a := market("polymarket", "m1", "Q")
	b := market("kalshi", "k1", "Q")
	inner := &countingClassifier{cand: NewCandidate(a.Outcome(types.SideYes), b.Outcome(types.SideNo), 0.97, 1, KindComplementary, "test")}

	cc := NewCachedClassifier(&CachedConfig{Inner: inner, Cache: newMapCache()})

	first, err := cc.Classify(context.Background(), a, b)
	require.NoError(t, err)
	second, err := cc.Classify(context.Background(), a, b)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, first, second)

	// A revision bump is a different input.
	a.Revision = 2
	_, err = cc.Classify(context.Background(), a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestCachedClassifierCachesUnrelated(t *testing.T) {
	a := market("polymarket", "m1", "Q")
	b := market("kalshi", "k1", "R")
	inner := &countingClassifier{}

	cc := NewCachedClassifier(&CachedConfig{Inner: inner, Cache: newMapCache()})

	for i := 0; i < 3; i++ {
		c, err := cc.Classify(context.Background(), a, b)
		require.NoError(t, err)
		assert.Nil(t, c)
	}
	assert.Equal(t, 1, inner.calls)
}

func TestCachedClassifierTimeoutIsUnavailable(t *testing.T) {
	a := market("polymarket", "m1", "Q")
	b := market("kalshi", "k1", "Q")
	inner := &countingClassifier{delay: time.Second}

	cc := NewCachedClassifier(&CachedConfig{Inner: inner, Cache: newMapCache(), Timeout: 10 * time.Millisecond})

	c, err := cc.Classify(context.Background(), a, b)
	assert.Nil(t, c)
	assert.True(t, errors.Is(err, types.ErrClassificationUnavailable))

	// Failures are not cached.
	inner.delay = 0
	_, err = cc.Classify(context.Background(), a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestChainFallsThrough(t *testing.T) {
	a := market("polymarket", "m1", "Q")
	b := market("kalshi", "k1", "Q")
	want := NewCandidate(a.Outcome(types.SideYes), b.Outcome(types.SideNo), 0.9, 1, KindComplementary, "second")

	c, err := Chain{&countingClassifier{}, &countingClassifier{cand: want}}.Classify(context.Background(), a, b)
	require.NoError(t, err)
	assert.Equal(t, want, c)

	_, err = Chain{&countingClassifier{err: errors.New("down")}, &countingClassifier{}}.Classify(context.Background(), a, b)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := market("polymarket", "m1", "Q")
	b := market("kalshi", "k1", "Q")

	same := NewCandidate(a.Outcome(types.SideYes), a.Outcome(types.SideNo), 1, 1, KindComplementary, "rule")
	cross := NewCandidate(a.Outcome(types.SideYes), b.Outcome(types.SideNo), 0.9, 1, KindComplementary, "rule")

	assert.False(t, r.Put(*same))
	assert.False(t, r.Put(*cross))
	assert.True(t, r.Put(*cross))
	assert.Equal(t, 2, r.Len())

	assert.Len(t, r.ForOutcome(a.Outcome(types.SideYes)), 2)
	assert.Len(t, r.ForOutcome(b.Outcome(types.SideNo)), 1)
	assert.True(t, r.Contains(b.Outcome(types.SideNo)))
	assert.False(t, r.Contains(b.Outcome(types.SideYes)))

	removed := r.InvalidateMarket("kalshi", "k1")
	assert.Equal(t, []string{cross.Key}, removed)
	assert.False(t, r.Contains(b.Outcome(types.SideNo)))
	assert.Len(t, r.ForOutcome(a.Outcome(types.SideYes)), 1)

	assert.True(t, r.Remove(same.Key))
	assert.False(t, r.Remove(same.Key))
	assert.Empty(t, r.All())
}

func TestLoadCorrelations(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		return path
	}

	table, err := LoadCorrelations("")
	require.NoError(t, err)
	assert.Empty(t, table)

	path := write("ok.json", `{"polymarket:fed-cut|kalshi:fed-hold": {"score": 0.93, "hedge_ratio": 1.2, "inverse": true}}`)
	table, err = LoadCorrelations(path)
	require.NoError(t, err)
	corr := table["polymarket:fed-cut|kalshi:fed-hold"]
	assert.Equal(t, 1.2, corr.HedgeRatio)
	assert.True(t, corr.Inverse)

	_, err = LoadCorrelations(write("bad-key.json", `{"polymarket:fed-cut": {"score": 0.93}}`))
	assert.Error(t, err)

	_, err = LoadCorrelations(write("low-score.json", `{"a:1|b:2": {"score": 0.5}}`))
	assert.Error(t, err)

	_, err = LoadCorrelations(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
