package markets

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mselser95/polymarket-hedge/pkg/types"
	"go.uber.org/zap"
)

// EventType identifies a catalog change.
type EventType string

const (
	EventRegistered EventType = "registered"
	EventUpdated    EventType = "updated"
	EventResolved   EventType = "resolved"
	EventDelisted   EventType = "delisted"
)

// Event is published whenever a market enters the catalog or changes status.
type Event struct {
	Type   EventType
	Market types.Market
}

// Catalog holds market descriptors across venues.
type Catalog struct {
	markets     map[string]*types.Market
	mu          sync.RWMutex
	subscribers []chan Event
	subMu       sync.RWMutex
	bufferSize  int
	logger      *zap.Logger
	now         func() time.Time
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger *zap.Logger, bufferSize int) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	return &Catalog{
		markets:    make(map[string]*types.Market),
		bufferSize: bufferSize,
		logger:     logger,
		now:        time.Now,
	}
}

// Subscribe returns a channel receiving every catalog event.
func (c *Catalog) Subscribe() <-chan Event {
	ch := make(chan Event, c.bufferSize)
	c.subMu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.subMu.Unlock()
	return ch
}

// Register adds a market or refreshes its descriptor. The revision is bumped
// when the question, category, event or close time change. Returns the event
// type emitted, or "" when nothing changed.
func (c *Catalog) Register(m types.Market) (EventType, error) {
	if m.Venue == "" || m.ID == "" {
		return "", fmt.Errorf("register market: missing venue or id")
	}
	if m.Status == "" {
		m.Status = types.MarketActive
	}
	m.UpdatedAt = c.now()

	c.mu.Lock()
	prev, exists := c.markets[m.Key()]
	var evt EventType
	switch {
	case !exists:
		if m.Revision == 0 {
			m.Revision = 1
		}
		evt = EventRegistered
	case !prev.Active():
		c.mu.Unlock()
		return "", fmt.Errorf("register market %s: market is %s", m.Key(), prev.Status)
	case descriptorChanged(prev, &m):
		m.Revision = prev.Revision + 1
		evt = EventUpdated
	default:
		c.mu.Unlock()
		return "", nil
	}
	stored := m
	c.markets[m.Key()] = &stored
	MarketsTracked.Set(float64(len(c.markets)))
	c.mu.Unlock()

	EventsTotal.WithLabelValues(string(evt)).Inc()
	c.logger.Info("market-registered",
		zap.String("market", m.Key()),
		zap.String("event", string(evt)),
		zap.Int("revision", m.Revision),
		zap.String("question", m.Question))

	c.publish(Event{Type: evt, Market: stored})
	return evt, nil
}

func descriptorChanged(prev, next *types.Market) bool {
	return prev.Question != next.Question ||
		prev.Category != next.Category ||
		prev.EventID != next.EventID ||
		!prev.ClosesAt.Equal(next.ClosesAt)
}

// Resolve marks the market resolved with the winning side.
func (c *Catalog) Resolve(venue, marketID string, winner types.Side) error {
	if !winner.Valid() {
		return fmt.Errorf("resolve market %s:%s: invalid side %q", venue, marketID, winner)
	}
	return c.transition(venue, marketID, types.MarketResolved, winner, EventResolved)
}

// Delist marks the market delisted.
func (c *Catalog) Delist(venue, marketID string) error {
	return c.transition(venue, marketID, types.MarketDelisted, "", EventDelisted)
}

func (c *Catalog) transition(venue, marketID string, status types.MarketStatus, winner types.Side, evt EventType) error {
	key := venue + ":" + marketID

	c.mu.Lock()
	m, exists := c.markets[key]
	if !exists {
		c.mu.Unlock()
		return fmt.Errorf("%s market %s: not found", evt, key)
	}
	if !m.Active() {
		c.mu.Unlock()
		return fmt.Errorf("%s market %s: already %s", evt, key, m.Status)
	}
	updated := *m
	updated.Status = status
	updated.Resolved = winner
	updated.UpdatedAt = c.now()
	c.markets[key] = &updated
	c.mu.Unlock()

	EventsTotal.WithLabelValues(string(evt)).Inc()
	c.logger.Info("market-status-changed",
		zap.String("market", key),
		zap.String("status", string(status)),
		zap.String("resolved", string(winner)))

	c.publish(Event{Type: evt, Market: updated})
	return nil
}

func (c *Catalog) publish(evt Event) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscribers {
		select {
		case sub <- evt:
		default:
			EventsDroppedTotal.Inc()
			c.logger.Warn("market-event-channel-full",
				zap.String("market", evt.Market.Key()),
				zap.String("event", string(evt.Type)))
		}
	}
}

// Get returns a copy of the market.
func (c *Catalog) Get(venue, marketID string) (types.Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, exists := c.markets[venue+":"+marketID]
	if !exists {
		return types.Market{}, false
	}
	return *m, true
}

// Active returns all tradable markets ordered by key.
func (c *Catalog) Active() []types.Market {
	c.mu.RLock()
	out := make([]types.Market, 0, len(c.markets))
	for _, m := range c.markets {
		if m.Active() {
			out = append(out, *m)
		}
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// All returns every market ordered by key.
func (c *Catalog) All() []types.Market {
	c.mu.RLock()
	out := make([]types.Market, 0, len(c.markets))
	for _, m := range c.markets {
		out = append(out, *m)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Close closes all subscriber channels.
func (c *Catalog) Close() {
	c.subMu.Lock()
	for _, sub := range c.subscribers {
		close(sub)
	}
	c.subscribers = nil
	c.subMu.Unlock()
}
