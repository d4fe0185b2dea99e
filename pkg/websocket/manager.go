package websocket

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	"go.uber.org/zap"
)

// Manager holds one WebSocket connection to a tick feed. The feed speaks a
// small JSON protocol: the client sends subscribe messages naming markets
// as "venue:market_id" and the server pushes arrays of FeedTick.
type Manager struct {
	url             string
	conn            *websocket.Conn
	logger          *zap.Logger
	reconnectMgr    *ReconnectManager
	config          Config
	tickChan        chan *types.FeedTick
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	mu              sync.RWMutex
	writeMu         sync.Mutex
	subscribed      map[string]bool
	connected       atomic.Bool
	lastPongTime    atomic.Int64
	connectionStart atomic.Int64
}

// Config holds WebSocket manager configuration.
type Config struct {
	URL                   string
	DialTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	MessageBufferSize     int
	Logger                *zap.Logger
}

// DefaultConfig returns defaults for everything except URL.
func DefaultConfig() Config {
	return Config{
		DialTimeout:           10 * time.Second,
		PingInterval:          10 * time.Second,
		ReconnectInitialDelay: time.Second,
		ReconnectMaxDelay:     30 * time.Second,
		ReconnectBackoffMult:  2.0,
		MessageBufferSize:     10000,
	}
}

type subscribeMessage struct {
	Type      string   `json:"type,omitempty"`
	Operation string   `json:"operation,omitempty"`
	Markets   []string `json:"markets"`
}

// New creates a new WebSocket manager.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig().PingInterval
	}

	reconnectCfg := ReconnectConfig{
		InitialDelay:      cfg.ReconnectInitialDelay,
		MaxDelay:          cfg.ReconnectMaxDelay,
		BackoffMultiplier: cfg.ReconnectBackoffMult,
		JitterPercent:     0.2,
	}

	return &Manager{
		url:          cfg.URL,
		logger:       cfg.Logger,
		reconnectMgr: NewReconnectManager(reconnectCfg, cfg.Logger),
		config:       cfg,
		tickChan:     make(chan *types.FeedTick, cfg.MessageBufferSize),
		subscribed:   make(map[string]bool),
	}
}

// Start dials the feed and launches the read, ping and reconnect loops.
// Markets watched before Start are subscribed on connect.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.logger.Info("websocket-manager-starting", zap.String("url", m.url))

	err := m.connect(m.ctx)
	if err != nil {
		m.cancel()
		return fmt.Errorf("initial connection: %w", err)
	}

	err = m.resubscribeAll()
	if err != nil {
		m.logger.Warn("initial-subscribe-failed", zap.Error(err))
	}

	m.wg.Add(3)
	go m.readLoop()
	go m.pingLoop()
	go m.reconnectLoop()

	return nil
}

func (m *Manager) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.DialTimeout,
	}

	m.logger.Info("connecting-to-websocket", zap.String("url", m.url))

	conn, _, err := dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		m.lastPongTime.Store(time.Now().Unix())
		return nil
	})

	m.mu.Lock()
	prev := m.conn
	m.conn = conn
	m.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	now := time.Now()
	m.connected.Store(true)
	m.lastPongTime.Store(now.Unix())
	m.connectionStart.Store(now.Unix())
	ActiveConnections.Set(1)

	m.logger.Info("websocket-connected")
	return nil
}

// Watch subscribes to the markets of the given outcomes. Subscribing is at
// market level since both sides of a market share one book.
func (m *Manager) Watch(outcomes ...types.OutcomeKey) {
	markets := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		markets = append(markets, o.MarketKey())
	}
	err := m.Subscribe(markets)
	if err != nil {
		m.logger.Warn("watch-subscribe-failed", zap.Strings("markets", markets), zap.Error(err))
	}
}

// Subscribe adds markets to the subscription set. When no connection is
// up the markets are kept and sent on the next connect.
func (m *Manager) Subscribe(markets []string) error {
	if len(markets) == 0 {
		return nil
	}

	m.mu.Lock()
	fresh := make([]string, 0, len(markets))
	for _, id := range markets {
		if !m.subscribed[id] {
			fresh = append(fresh, id)
			m.subscribed[id] = true
		}
	}
	if len(fresh) == 0 {
		m.mu.Unlock()
		return nil
	}
	initial := len(m.subscribed) == len(fresh)
	total := len(m.subscribed)
	conn := m.conn
	m.mu.Unlock()

	SubscriptionCount.Set(float64(total))

	if conn == nil || !m.connected.Load() {
		m.logger.Debug("subscription-queued", zap.Int("count", len(fresh)))
		return nil
	}

	msg := subscribeMessage{Markets: fresh}
	if initial {
		msg.Type = "market"
	} else {
		msg.Operation = "subscribe"
	}

	err := m.write(conn, msg)
	if err != nil {
		m.mu.Lock()
		for _, id := range fresh {
			delete(m.subscribed, id)
		}
		total = len(m.subscribed)
		m.mu.Unlock()

		SubscriptionCount.Set(float64(total))
		return fmt.Errorf("write subscribe message: %w", err)
	}

	m.logger.Info("subscribed-to-markets",
		zap.Int("new-count", len(fresh)),
		zap.Int("total-count", total))
	return nil
}

// Subscribed returns the subscribed market keys, sorted.
func (m *Manager) Subscribed() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.subscribed))
	for id := range m.subscribed {
		out = append(out, id)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (m *Manager) write(conn *websocket.Conn, v any) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(v)
}

// readLoop reads from the connection current at start. It exits when that
// connection fails or is replaced; the reconnect loop starts the next one.
func (m *Manager) readLoop() {
	defer m.wg.Done()

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		m.connected.Store(false)
		return
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if m.ctx.Err() == nil {
				m.logger.Warn("read-error", zap.Error(err))
			}

			startTime := m.connectionStart.Load()
			if startTime > 0 {
				ConnectionDuration.Observe(time.Since(time.Unix(startTime, 0)).Seconds())
			}

			// A replaced connection must not mark its successor down.
			m.mu.RLock()
			current := m.conn == conn
			m.mu.RUnlock()
			if current {
				m.connected.Store(false)
				ActiveConnections.Set(0)
			}
			return
		}

		m.handleMessage(message)
	}
}

// handleMessage decodes one frame and forwards its ticks.
func (m *Manager) handleMessage(message []byte) {
	start := time.Now()

	var ticks []types.FeedTick
	err := json.Unmarshal(message, &ticks)
	if err != nil {
		var control map[string]any
		if json.Unmarshal(message, &control) == nil {
			if msgType, ok := control["type"].(string); ok {
				m.logger.Debug("websocket-control-message", zap.String("type", msgType))
				MessagesReceivedTotal.WithLabelValues("control").Inc()
				return
			}
		}

		preview := string(message[:min(len(message), 100)])
		m.logger.Debug("websocket-unparseable-message",
			zap.Error(err),
			zap.Int("bytes", len(message)),
			zap.String("preview", preview))
		MessagesDroppedTotal.WithLabelValues("unparseable").Inc()
		return
	}

	if len(ticks) == 0 {
		MessagesReceivedTotal.WithLabelValues("heartbeat").Inc()
		return
	}

	for i := range ticks {
		tick := &ticks[i]
		MessagesReceivedTotal.WithLabelValues("tick").Inc()

		select {
		case m.tickChan <- tick:
		default:
			MessagesDroppedTotal.WithLabelValues("channel_full").Inc()
			m.logger.Warn("tick-channel-full",
				zap.String("venue", tick.Venue),
				zap.String("market-id", tick.MarketID))
		}
	}

	MessageLatencySeconds.Observe(time.Since(start).Seconds())
}

func (m *Manager) pingLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if !m.connected.Load() {
				continue
			}

			m.mu.RLock()
			conn := m.conn
			m.mu.RUnlock()

			if conn == nil {
				continue
			}

			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			if err != nil {
				m.logger.Warn("ping-error", zap.Error(err))
			}
		}
	}
}

// reconnectLoop redials after the read loop reports a lost connection.
// Until it succeeds the feed simply goes quiet and snapshots age out.
func (m *Manager) reconnectLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
		}

		if m.connected.Load() {
			continue
		}

		m.logger.Warn("connection-lost-initiating-reconnect")

		err := m.reconnectMgr.Reconnect(m.ctx, m.connect)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.logger.Error("reconnection-failed", zap.Error(err))
			continue
		}

		err = m.resubscribeAll()
		if err != nil {
			m.logger.Error("resubscribe-failed", zap.Error(err))
			m.dropConn()
			continue
		}

		m.wg.Add(1)
		go m.readLoop()
	}
}

// dropConn closes the current connection and marks the feed disconnected so
// the reconnect loop dials a fresh one.
func (m *Manager) dropConn() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		err := conn.Close()
		if err != nil {
			m.logger.Debug("close-dropped-connection-error", zap.Error(err))
		}
	}
	m.connected.Store(false)
	ActiveConnections.Set(0)
}

// resubscribeAll sends the full subscription set on a fresh connection.
func (m *Manager) resubscribeAll() error {
	markets := m.Subscribed()
	if len(markets) == 0 {
		return nil
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return errors.New("no connection")
	}

	err := m.write(conn, subscribeMessage{Type: "market", Markets: markets})
	if err != nil {
		return fmt.Errorf("write resubscribe message: %w", err)
	}

	m.logger.Info("resubscribed-to-all-markets", zap.Int("count", len(markets)))
	return nil
}

// Connected reports whether the feed connection is up.
func (m *Manager) Connected() bool {
	return m.connected.Load()
}

// TickChan returns the channel of decoded ticks. It is closed by Close.
func (m *Manager) TickChan() <-chan *types.FeedTick {
	return m.tickChan
}

// Close stops the loops and closes the connection and tick channel.
func (m *Manager) Close() error {
	m.logger.Info("closing-websocket-manager")

	if m.cancel != nil {
		m.cancel()
	}

	m.mu.RLock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.mu.RUnlock()

	m.wg.Wait()
	close(m.tickChan)
	ActiveConnections.Set(0)

	m.logger.Info("websocket-manager-closed")
	return nil
}
