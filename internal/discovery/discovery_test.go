package discovery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/polymarket-hedge/internal/markets"
	"github.com/mselser95/polymarket-hedge/internal/relationship"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var closes = time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)

func market(venue, id, question string) types.Market {
	return types.Market{Venue: venue, ID: id, Question: question, ClosesAt: closes}
}

type recorder struct {
	mu        sync.Mutex
	forgotten []string
	watched   []types.OutcomeKey
	settled   []string
}

func (r *recorder) ForgetCandidate(key string) {
	r.mu.Lock()
	r.forgotten = append(r.forgotten, key)
	r.mu.Unlock()
}

func (r *recorder) Watch(outcomes ...types.OutcomeKey) {
	r.mu.Lock()
	r.watched = append(r.watched, outcomes...)
	r.mu.Unlock()
}

func (r *recorder) Settle(venue, marketID string, winner types.Side) (float64, error) {
	r.mu.Lock()
	r.settled = append(r.settled, venue+":"+marketID+":"+string(winner))
	r.mu.Unlock()
	return 0, nil
}

// classifierFunc adapts a function to relationship.Classifier.
type classifierFunc func(ctx context.Context, a, b types.Market) (*relationship.Candidate, error)

func (f classifierFunc) Classify(ctx context.Context, a, b types.Market) (*relationship.Candidate, error) {
	return f(ctx, a, b)
}

type fixture struct {
	svc      *Service
	catalog  *markets.Catalog
	registry *relationship.Registry
	rec      *recorder
}

func newFixture(t *testing.T, classifier relationship.Classifier) *fixture {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	f := &fixture{
		catalog:  markets.NewCatalog(logger, 100),
		registry: relationship.NewRegistry(),
		rec:      &recorder{},
	}
	if classifier == nil {
		classifier = relationship.NewRuleClassifier(relationship.RuleConfig{})
	}

	svc, err := New(&Config{
		Catalog:     f.catalog,
		Classifier:  classifier,
		Registry:    f.registry,
		Forgetter:   f.rec,
		Settler:     f.rec,
		Watcher:     f.rec,
		Concurrency: 4,
		Logger:      logger,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) register(t *testing.T, m types.Market) types.Market {
	t.Helper()
	_, err := f.catalog.Register(m)
	require.NoError(t, err)
	got, ok := f.catalog.Get(m.Venue, m.ID)
	require.True(t, ok)
	return got
}

func keys(cs []relationship.Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Key)
	}
	sort.Strings(out)
	return out
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
}

func TestDiscoverMarket_SelfAndCrossVenue(t *testing.T) {
	f := newFixture(t, nil)

	poly := f.register(t, market("polymarket", "m1", "Will the incumbent win the election?"))
	n, err := f.svc.DiscoverMarket(context.Background(), poly)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	kalshi := f.register(t, market("kalshi", "k1", "Will the incumbent win the election?"))
	n, err = f.svc.DiscoverMarket(context.Background(), kalshi)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "self pair plus both cross-venue orders")

	assert.Equal(t, []string{
		"kalshi:k1:YES|kalshi:k1:NO",
		"kalshi:k1:YES|polymarket:m1:NO",
		"polymarket:m1:YES|kalshi:k1:NO",
		"polymarket:m1:YES|polymarket:m1:NO",
	}, keys(f.registry.All()))

	f.rec.mu.Lock()
	assert.NotEmpty(t, f.rec.watched)
	f.rec.mu.Unlock()
}

func TestDiscoverMarket_UnrelatedSameVenue(t *testing.T) {
	f := newFixture(t, nil)

	a := f.register(t, market("polymarket", "m1", "Will it rain?"))
	b := f.register(t, market("polymarket", "m2", "Will the stock close higher?"))

	_, err := f.svc.DiscoverMarket(context.Background(), a)
	require.NoError(t, err)
	_, err = f.svc.DiscoverMarket(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, 2, f.registry.Len(), "only the self pairs")
}

func TestDiscoverMarket_ClassifierErrorsDropPair(t *testing.T) {
	f := newFixture(t, classifierFunc(func(ctx context.Context, a, b types.Market) (*relationship.Candidate, error) {
		if a.Key() != b.Key() {
			return nil, types.ErrClassificationUnavailable
		}
		return relationship.NewCandidate(a.Outcome(types.SideYes), a.Outcome(types.SideNo), 1, 1, relationship.KindComplementary, "test"), nil
	}))

	f.register(t, market("kalshi", "k1", "q"))
	m := f.register(t, market("polymarket", "m1", "q"))

	n, err := f.svc.DiscoverMarket(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDiscoverMarket_SkipsUnchangedCandidate(t *testing.T) {
	f := newFixture(t, nil)
	m := f.register(t, market("polymarket", "m1", "q"))

	_, _ = f.svc.DiscoverMarket(context.Background(), m)
	_, _ = f.svc.DiscoverMarket(context.Background(), m)

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	assert.Empty(t, f.rec.forgotten, "re-registering an identical candidate must not reset detection state")
}

func TestHandleEvent_ResolveInvalidatesAndSettles(t *testing.T) {
	f := newFixture(t, nil)
	events := f.catalog.Subscribe()

	poly := f.register(t, market("polymarket", "m1", "Will the incumbent win the election?"))
	kalshi := f.register(t, market("kalshi", "k1", "Will the incumbent win the election?"))
	other := f.register(t, market("kalshi", "k2", "Will it snow in July?"))
	for _, m := range []types.Market{poly, kalshi, other} {
		_, err := f.svc.DiscoverMarket(context.Background(), m)
		require.NoError(t, err)
	}
	require.Equal(t, 5, f.registry.Len())

	// drain registration events
	for len(events) > 0 {
		<-events
	}

	require.NoError(t, f.catalog.Resolve("polymarket", "m1", types.SideYes))
	ev := <-events
	f.svc.HandleEvent(context.Background(), ev)

	assert.Equal(t, []string{
		"kalshi:k1:YES|kalshi:k1:NO",
		"kalshi:k2:YES|kalshi:k2:NO",
	}, keys(f.registry.All()))

	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	assert.Len(t, f.rec.forgotten, 3)
	assert.Equal(t, []string{"polymarket:m1:YES"}, f.rec.settled)
}

func TestHandleEvent_DelistDoesNotSettle(t *testing.T) {
	f := newFixture(t, nil)
	events := f.catalog.Subscribe()

	m := f.register(t, market("polymarket", "m1", "q"))
	_, _ = f.svc.DiscoverMarket(context.Background(), m)
	<-events

	require.NoError(t, f.catalog.Delist("polymarket", "m1"))
	f.svc.HandleEvent(context.Background(), <-events)

	assert.Zero(t, f.registry.Len())
	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	assert.Empty(t, f.rec.settled)
}

func TestRefresh(t *testing.T) {
	var mu sync.Mutex
	score := 0.97
	lost := false

	f := newFixture(t, classifierFunc(func(ctx context.Context, a, b types.Market) (*relationship.Candidate, error) {
		mu.Lock()
		defer mu.Unlock()
		if lost {
			return nil, nil
		}
		return relationship.NewCandidate(a.Outcome(types.SideYes), b.Outcome(types.SideNo), score, 1, relationship.KindComplementary, "test"), nil
	}))

	m := f.register(t, market("polymarket", "m1", "q"))
	_, err := f.svc.DiscoverMarket(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, 1, f.registry.Len())

	changed, err := f.svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Zero(t, changed, "same verdict is not a change")

	mu.Lock()
	score = 0.91
	mu.Unlock()
	changed, err = f.svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	c := f.registry.All()[0]
	assert.Equal(t, relationship.Tier2, c.Tier)

	mu.Lock()
	lost = true
	mu.Unlock()
	changed, err = f.svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Zero(t, f.registry.Len())
}

func TestRefresh_KeepsCandidateOnClassifierError(t *testing.T) {
	var mu sync.Mutex
	fail := false

	f := newFixture(t, classifierFunc(func(ctx context.Context, a, b types.Market) (*relationship.Candidate, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, errors.New("scoring service down")
		}
		return relationship.NewCandidate(a.Outcome(types.SideYes), b.Outcome(types.SideNo), 1, 1, relationship.KindComplementary, "test"), nil
	}))

	m := f.register(t, market("polymarket", "m1", "q"))
	_, _ = f.svc.DiscoverMarket(context.Background(), m)

	mu.Lock()
	fail = true
	mu.Unlock()

	changed, err := f.svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Equal(t, 1, f.registry.Len())
}

func TestEventLoop(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	catalog := markets.NewCatalog(logger, 10)
	registry := relationship.NewRegistry()
	events := catalog.Subscribe()

	svc, err := New(&Config{
		Catalog:    catalog,
		Classifier: relationship.NewRuleClassifier(relationship.RuleConfig{}),
		Registry:   registry,
		Events:     events,
		Logger:     logger,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Start(ctx))

	_, err = catalog.Register(market("polymarket", "m1", "q"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return registry.Len() == 1 }, 5*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, svc.Close())
}
