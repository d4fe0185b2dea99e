package discovery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/polymarket-hedge/internal/markets"
	"github.com/mselser95/polymarket-hedge/internal/relationship"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Catalog is the source of market descriptors and lifecycle events.
type Catalog interface {
	Get(venue, id string) (types.Market, bool)
	Active() []types.Market
}

// Forgetter drops per-candidate detection state.
type Forgetter interface {
	ForgetCandidate(key string)
}

// Settler settles positions once a market resolves.
type Settler interface {
	Settle(venue, marketID string, winner types.Side) (float64, error)
}

// Watcher is told which outcomes now need price updates.
type Watcher interface {
	Watch(outcomes ...types.OutcomeKey)
}

// Service turns catalog events into hedge candidates. Each new or
// updated market is classified against itself and every other active
// market, in both orders. Resolved and delisted markets invalidate
// their candidates. Live candidates are reclassified periodically.
type Service struct {
	catalog         Catalog
	classifier      relationship.Classifier
	registry        *relationship.Registry
	events          <-chan markets.Event
	forgetter       Forgetter
	settler         Settler
	watcher         Watcher
	concurrency     int
	refreshInterval time.Duration
	logger          *zap.Logger
	wg              sync.WaitGroup
}

// Config holds discovery service configuration.
type Config struct {
	Catalog         Catalog
	Classifier      relationship.Classifier
	Registry        *relationship.Registry
	Events          <-chan markets.Event
	Forgetter       Forgetter // optional
	Settler         Settler   // optional
	Watcher         Watcher   // optional
	Concurrency     int
	RefreshInterval time.Duration
	Logger          *zap.Logger
}

// New creates a new discovery service.
func New(cfg *Config) (*Service, error) {
	if cfg.Catalog == nil || cfg.Classifier == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("catalog, classifier and registry are required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		catalog:         cfg.Catalog,
		classifier:      cfg.Classifier,
		registry:        cfg.Registry,
		events:          cfg.Events,
		forgetter:       cfg.Forgetter,
		settler:         cfg.Settler,
		watcher:         cfg.Watcher,
		concurrency:     concurrency,
		refreshInterval: refresh,
		logger:          logger,
	}, nil
}

// Start launches the event and refresh loops.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info("discovery-service-starting",
		zap.Int("concurrency", s.concurrency),
		zap.Duration("refresh-interval", s.refreshInterval))

	if s.events != nil {
		s.wg.Add(1)
		go s.eventLoop(ctx)
	}

	s.wg.Add(1)
	go s.refreshLoop(ctx)

	return nil
}

func (s *Service) eventLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("discovery-event-loop-stopping")
			return
		case ev, ok := <-s.events:
			if !ok {
				s.logger.Info("catalog-events-closed")
				return
			}
			s.HandleEvent(ctx, ev)
		}
	}
}

func (s *Service) refreshLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := s.Refresh(ctx)
			if err != nil {
				s.logger.Warn("candidate-refresh-failed", zap.Error(err))
			}
		}
	}
}

// HandleEvent applies one catalog event.
func (s *Service) HandleEvent(ctx context.Context, ev markets.Event) {
	EventsHandledTotal.WithLabelValues(string(ev.Type)).Inc()

	switch ev.Type {
	case markets.EventRegistered:
		_, err := s.DiscoverMarket(ctx, ev.Market)
		if err != nil {
			s.logger.Warn("market-discovery-failed",
				zap.String("market", ev.Market.Key()),
				zap.Error(err))
		}

	case markets.EventUpdated:
		// Descriptive fields changed: the old classifications no longer hold.
		s.invalidate(ev.Market, "updated")
		_, err := s.DiscoverMarket(ctx, ev.Market)
		if err != nil {
			s.logger.Warn("market-rediscovery-failed",
				zap.String("market", ev.Market.Key()),
				zap.Error(err))
		}

	case markets.EventResolved:
		s.invalidate(ev.Market, "resolved")
		s.settle(ev.Market)

	case markets.EventDelisted:
		s.invalidate(ev.Market, "delisted")
	}
}

// DiscoverMarket classifies a market against itself and every other
// active market in both orders and registers the resulting candidates.
// Returns the number of candidates registered.
func (s *Service) DiscoverMarket(ctx context.Context, m types.Market) (int, error) {
	start := time.Now()
	defer func() {
		DiscoveryDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	pairs := [][2]types.Market{{m, m}}
	for _, other := range s.catalog.Active() {
		if other.Key() == m.Key() {
			continue
		}
		pairs = append(pairs, [2]types.Market{m, other}, [2]types.Market{other, m})
	}

	found := s.classifyPairs(ctx, pairs)
	for i := range found {
		s.register(found[i], "discovered")
	}

	s.logger.Debug("market-discovered",
		zap.String("market", m.Key()),
		zap.Int("pairs", len(pairs)),
		zap.Int("candidates", len(found)),
		zap.Duration("duration", time.Since(start)))

	return len(found), ctx.Err()
}

// classifyPairs fans classification out with bounded concurrency.
// Classifier errors drop the pair; they never abort the batch.
func (s *Service) classifyPairs(ctx context.Context, pairs [][2]types.Market) []relationship.Candidate {
	var (
		mu    sync.Mutex
		found []relationship.Candidate
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, p := range pairs {
		a, b := p[0], p[1]
		g.Go(func() error {
			c, err := s.classifier.Classify(gctx, a, b)
			if err != nil {
				PairsClassifiedTotal.WithLabelValues("error").Inc()
				s.logger.Debug("pair-classification-failed",
					zap.String("market-a", a.Key()),
					zap.String("market-b", b.Key()),
					zap.Error(err))
				return nil
			}
			if c == nil {
				PairsClassifiedTotal.WithLabelValues("unrelated").Inc()
				return nil
			}
			PairsClassifiedTotal.WithLabelValues("candidate").Inc()

			mu.Lock()
			found = append(found, *c)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return found
}

func (s *Service) register(c relationship.Candidate, reason string) {
	if prev, ok := s.registry.Get(c.Key); ok && prev.SameRelationship(&c) {
		return
	}

	replaced := s.registry.Put(c)
	if replaced && s.forgetter != nil {
		s.forgetter.ForgetCandidate(c.Key)
	}
	if s.watcher != nil {
		s.watcher.Watch(c.LegA, c.LegB)
	}

	CandidatesRegisteredTotal.WithLabelValues(c.Tier.String()).Inc()
	s.logger.Info("candidate-registered",
		zap.String("candidate-key", c.Key),
		zap.String("tier", c.Tier.String()),
		zap.String("kind", string(c.Kind)),
		zap.Float64("score", c.Score),
		zap.Float64("hedge-ratio", c.HedgeRatio),
		zap.String("source", c.Source),
		zap.String("reason", reason),
		zap.Bool("replaced", replaced))
}

func (s *Service) invalidate(m types.Market, reason string) {
	keys := s.registry.InvalidateMarket(m.Venue, m.ID)
	for _, key := range keys {
		if s.forgetter != nil {
			s.forgetter.ForgetCandidate(key)
		}
	}
	CandidatesInvalidatedTotal.WithLabelValues(reason).Add(float64(len(keys)))

	if len(keys) > 0 {
		s.logger.Info("candidates-invalidated",
			zap.String("market", m.Key()),
			zap.String("reason", reason),
			zap.Int("count", len(keys)))
	}
}

func (s *Service) settle(m types.Market) {
	if s.settler == nil || !m.Resolved.Valid() {
		return
	}
	pnl, err := s.settler.Settle(m.Venue, m.ID, m.Resolved)
	if err != nil {
		s.logger.Warn("market-settlement-failed",
			zap.String("market", m.Key()),
			zap.Error(err))
		return
	}
	s.logger.Info("market-settled",
		zap.String("market", m.Key()),
		zap.String("winner", string(m.Resolved)),
		zap.Float64("realized-pnl", pnl))
}

// Refresh reclassifies every live candidate. A lost relationship removes
// the candidate; a changed tier, kind or ratio replaces it.
// Returns the number of candidates changed or removed.
func (s *Service) Refresh(ctx context.Context) (int, error) {
	start := time.Now()
	live := s.registry.All()

	type pairRef struct {
		old  relationship.Candidate
		a, b types.Market
	}
	refs := make([]pairRef, 0, len(live))
	changed := 0

	for _, c := range live {
		a, okA := s.catalog.Get(c.LegA.Venue, c.LegA.MarketID)
		b, okB := s.catalog.Get(c.LegB.Venue, c.LegB.MarketID)
		if !okA || !okB || !a.Active() || !b.Active() {
			s.drop(c.Key, "market-gone")
			changed++
			continue
		}
		refs = append(refs, pairRef{old: c, a: a, b: b})
	}

	results := make([]*relationship.Candidate, len(refs))
	errs := make([]error, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range refs {
		g.Go(func() error {
			results[i], errs[i] = s.classifier.Classify(gctx, refs[i].a, refs[i].b)
			return nil
		})
	}
	_ = g.Wait()

	for i, ref := range refs {
		if errs[i] != nil {
			// Keep the last verdict until the classifier recovers.
			continue
		}
		next := results[i]
		switch {
		case next == nil:
			s.drop(ref.old.Key, "relationship-lost")
			changed++
		case next.Key != ref.old.Key:
			s.drop(ref.old.Key, "legs-changed")
			s.register(*next, "refreshed")
			changed++
		case !next.SameRelationship(&ref.old):
			s.register(*next, "refreshed")
			changed++
		}
	}

	RefreshDurationSeconds.Observe(time.Since(start).Seconds())
	s.logger.Debug("candidates-refreshed",
		zap.Int("live", len(live)),
		zap.Int("changed", changed),
		zap.Duration("duration", time.Since(start)))

	return changed, ctx.Err()
}

func (s *Service) drop(key, reason string) {
	if !s.registry.Remove(key) {
		return
	}
	if s.forgetter != nil {
		s.forgetter.ForgetCandidate(key)
	}
	CandidatesInvalidatedTotal.WithLabelValues(reason).Inc()
	s.logger.Info("candidate-removed",
		zap.String("candidate-key", key),
		zap.String("reason", reason))
}

// Close waits for the service loops to exit.
func (s *Service) Close() error {
	s.wg.Wait()
	s.logger.Info("discovery-service-closed")
	return nil
}
