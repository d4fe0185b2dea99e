package snapshot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/polymarket-hedge/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// InterestFunc reports whether an outcome participates in a live relationship
// candidate. Only such outcomes are published to subscribers.
type InterestFunc func(key types.OutcomeKey) bool

// Store holds the latest snapshot for every outcome across venues.
type Store struct {
	books          map[types.OutcomeKey]*types.Outcome
	mu             sync.RWMutex
	freshness      time.Duration
	interest       InterestFunc
	logger         *zap.Logger
	tickChan       <-chan *types.FeedTick
	subscribers    []chan types.Outcome
	subMu          sync.RWMutex
	subscriberSize int
	now            func() time.Time
	wg             sync.WaitGroup
}

// Config holds snapshot store configuration.
type Config struct {
	FreshnessBound   time.Duration
	SubscriberBuffer int
	TickChannel      <-chan *types.FeedTick
	Interest         InterestFunc
	Logger           *zap.Logger
}

// New creates a new snapshot store.
func New(cfg *Config) *Store {
	freshness := cfg.FreshnessBound
	if freshness <= 0 {
		freshness = 5 * time.Second
	}
	bufSize := cfg.SubscriberBuffer
	if bufSize <= 0 {
		bufSize = 10000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Store{
		books:          make(map[types.OutcomeKey]*types.Outcome),
		freshness:      freshness,
		interest:       cfg.Interest,
		logger:         logger,
		tickChan:       cfg.TickChannel,
		subscriberSize: bufSize,
		now:            time.Now,
	}
}

// SetInterest installs the predicate that gates subscriber notifications.
func (s *Store) SetInterest(fn InterestFunc) {
	s.subMu.Lock()
	s.interest = fn
	s.subMu.Unlock()
}

// Start consumes feed ticks until ctx is cancelled or the feed closes.
// A closed feed only means no fresher snapshots; existing ones go stale.
func (s *Store) Start(ctx context.Context) error {
	if s.tickChan == nil {
		s.logger.Info("snapshot-store-started-without-feed")
		return nil
	}

	s.logger.Info("snapshot-store-starting",
		zap.Duration("freshness-bound", s.freshness))

	s.wg.Add(1)
	go s.consumeTicks(ctx)

	return nil
}

func (s *Store) consumeTicks(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("snapshot-store-stopping")
			return
		case tick, ok := <-s.tickChan:
			if !ok {
				s.logger.Warn("feed-closed-no-fresher-snapshots")
				return
			}

			err := s.UpdateTick(tick)
			if err != nil {
				TicksRejectedTotal.Inc()
				s.logger.Debug("tick-rejected", zap.Error(err))
			}
		}
	}
}

// UpdateTick validates a feed tick and stores it as a snapshot.
func (s *Store) UpdateTick(tick *types.FeedTick) error {
	if tick == nil {
		return fmt.Errorf("nil tick")
	}

	err := tick.Validate()
	if err != nil {
		return fmt.Errorf("validate tick: %w", err)
	}

	s.Update(tick.ToOutcome())
	return nil
}

// Update replaces the snapshot for the outcome. Ticks older than the stored
// snapshot are ignored. Returns true if the snapshot was stored.
func (s *Store) Update(outcome types.Outcome) bool {
	timer := prometheus.NewTimer(UpdateProcessingDuration)
	defer timer.ObserveDuration()

	snap := outcome.Clone()
	if snap.Timestamp.IsZero() {
		snap.Timestamp = s.now()
	}

	s.mu.Lock()
	prev, exists := s.books[snap.Key]
	if exists && snap.Timestamp.Before(prev.Timestamp) {
		s.mu.Unlock()
		UpdatesTotal.WithLabelValues("out_of_order").Inc()
		return false
	}
	s.books[snap.Key] = &snap
	SnapshotsTracked.Set(float64(len(s.books)))
	s.mu.Unlock()

	UpdatesTotal.WithLabelValues("applied").Inc()

	s.logger.Debug("snapshot-updated",
		zap.String("outcome", snap.Key.String()),
		zap.Float64("best-bid", snap.BestBid),
		zap.Float64("best-ask", snap.BestAsk))

	s.publish(snap)
	return true
}

func (s *Store) publish(snap types.Outcome) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	if s.interest != nil && !s.interest(snap.Key) {
		return
	}

	for _, sub := range s.subscribers {
		select {
		case sub <- snap.Clone():
		default:
			NotificationsDroppedTotal.Inc()
			s.logger.Warn("snapshot-subscriber-full-dropping-update",
				zap.String("outcome", snap.Key.String()),
				zap.Int("buffer-size", cap(sub)))
		}
	}
}

// Subscribe returns a channel of updates for outcomes of interest.
func (s *Store) Subscribe() <-chan types.Outcome {
	ch := make(chan types.Outcome, s.subscriberSize)

	s.subMu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.subMu.Unlock()

	return ch
}

// Latest returns the most recent snapshot. It returns ErrNoSnapshot when the
// outcome has never been seen and ErrStaleData (with the snapshot) when it is
// older than the freshness bound.
func (s *Store) Latest(key types.OutcomeKey) (types.Outcome, error) {
	s.mu.RLock()
	snap, exists := s.books[key]
	s.mu.RUnlock()

	if !exists {
		return types.Outcome{}, fmt.Errorf("%s: %w", key, types.ErrNoSnapshot)
	}

	if snap.IsStale(s.now(), s.freshness) {
		StaleReadsTotal.Inc()
		return snap.Clone(), fmt.Errorf("%s: %w", key, types.ErrStaleData)
	}

	return snap.Clone(), nil
}

// All returns a copy of every stored snapshot.
func (s *Store) All() []types.Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Outcome, 0, len(s.books))
	for _, snap := range s.books {
		out = append(out, snap.Clone())
	}
	return out
}

// FreshnessBound returns the configured staleness bound.
func (s *Store) FreshnessBound() time.Duration {
	return s.freshness
}

// Close waits for the consumer and closes subscriber channels.
func (s *Store) Close() error {
	s.logger.Info("closing-snapshot-store")
	s.wg.Wait()

	s.subMu.Lock()
	for _, sub := range s.subscribers {
		close(sub)
	}
	s.subscribers = nil
	s.subMu.Unlock()

	s.logger.Info("snapshot-store-closed")
	return nil
}
