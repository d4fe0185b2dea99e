package circuitbreaker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CapitalSource reports the capital available for new hedges.
// The position ledger implements this interface.
type CapitalSource interface {
	AvailableCapital() float64
}

// CapitalCircuitBreaker monitors available capital and controls execution.
// It derives thresholds from recent hedge costs and uses hysteresis to
// prevent rapid state changes. A trip after an unhedged abandonment holds
// the breaker open until Reset.
type CapitalCircuitBreaker struct {
	enabled atomic.Bool
	tripped atomic.Bool

	checkInterval   time.Duration
	capital         CapitalSource
	logger          *zap.Logger
	tradeMultiplier float64
	minAbsolute     float64
	hysteresisRatio float64

	mu               sync.RWMutex
	lastCapital      float64
	lastCheck        time.Time
	tripReason       string
	recentTrades     []float64
	disableThreshold float64
	enableThreshold  float64
}

// Config holds circuit breaker configuration.
type Config struct {
	CheckInterval   time.Duration
	TradeMultiplier float64
	MinAbsolute     float64
	HysteresisRatio float64
	Capital         CapitalSource
	Logger          *zap.Logger
}

// Status holds current circuit breaker status for debugging.
type Status struct {
	Enabled          bool      `json:"enabled"`
	Tripped          bool      `json:"tripped"`
	TripReason       string    `json:"trip_reason,omitempty"`
	LastCapital      float64   `json:"last_capital"`
	LastCheck        time.Time `json:"last_check"`
	DisableThreshold float64   `json:"disable_threshold"`
	EnableThreshold  float64   `json:"enable_threshold"`
	AvgTradeCost     float64   `json:"avg_trade_cost"`
	RecentTradeCount int       `json:"recent_trade_count"`
}

// New creates a new circuit breaker with the given configuration.
func New(cfg *Config) (*CapitalCircuitBreaker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Capital == nil {
		return nil, fmt.Errorf("capital source cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("check interval must be positive")
	}
	if cfg.TradeMultiplier <= 0 {
		return nil, fmt.Errorf("trade multiplier must be positive")
	}
	if cfg.MinAbsolute <= 0 {
		return nil, fmt.Errorf("min absolute must be positive")
	}
	if cfg.HysteresisRatio < 1.0 {
		return nil, fmt.Errorf("hysteresis ratio must be >= 1.0")
	}

	b := &CapitalCircuitBreaker{
		checkInterval:    cfg.CheckInterval,
		capital:          cfg.Capital,
		logger:           cfg.Logger,
		tradeMultiplier:  cfg.TradeMultiplier,
		minAbsolute:      cfg.MinAbsolute,
		hysteresisRatio:  cfg.HysteresisRatio,
		recentTrades:     make([]float64, 0, 20),
		disableThreshold: cfg.MinAbsolute,
		enableThreshold:  cfg.MinAbsolute * cfg.HysteresisRatio,
	}
	b.enabled.Store(true)

	CircuitBreakerEnabled.Set(1)
	CircuitBreakerDisableThreshold.Set(b.disableThreshold)
	CircuitBreakerEnableThreshold.Set(b.enableThreshold)
	CircuitBreakerAvgTradeCost.Set(0)

	return b, nil
}

// IsEnabled returns true if executions may start. Lock-free.
func (b *CapitalCircuitBreaker) IsEnabled() bool {
	return b.enabled.Load() && !b.tripped.Load()
}

// RecordTrade adds a hedge cost to the rolling window and recalculates thresholds.
func (b *CapitalCircuitBreaker) RecordTrade(cost float64) {
	if cost <= 0 {
		b.logger.Warn("invalid-trade-cost", zap.Float64("cost", cost))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.recentTrades = append(b.recentTrades, cost)
	if len(b.recentTrades) > 20 {
		b.recentTrades = b.recentTrades[1:]
	}

	sum := 0.0
	for _, c := range b.recentTrades {
		sum += c
	}
	avg := sum / float64(len(b.recentTrades))

	b.disableThreshold = math.Max(avg*b.tradeMultiplier, b.minAbsolute)
	b.enableThreshold = b.disableThreshold * b.hysteresisRatio

	CircuitBreakerAvgTradeCost.Set(avg)
	CircuitBreakerDisableThreshold.Set(b.disableThreshold)
	CircuitBreakerEnableThreshold.Set(b.enableThreshold)

	b.logger.Debug("thresholds-updated",
		zap.Float64("avg-trade-cost", avg),
		zap.Int("trade-count", len(b.recentTrades)),
		zap.Float64("disable-threshold", b.disableThreshold),
		zap.Float64("enable-threshold", b.enableThreshold))
}

// Trip holds the breaker open until Reset.
func (b *CapitalCircuitBreaker) Trip(reason string) {
	b.mu.Lock()
	b.tripReason = reason
	b.mu.Unlock()

	if !b.tripped.Swap(true) {
		CircuitBreakerEnabled.Set(0)
		CircuitBreakerStateChanges.Inc()
		b.logger.Warn("circuit-breaker-tripped", zap.String("reason", reason))
	}
}

// Reset clears a trip. The capital thresholds still apply.
func (b *CapitalCircuitBreaker) Reset() {
	if b.tripped.Swap(false) {
		b.mu.Lock()
		b.tripReason = ""
		b.mu.Unlock()

		if b.enabled.Load() {
			CircuitBreakerEnabled.Set(1)
		}
		CircuitBreakerStateChanges.Inc()
		b.logger.Info("circuit-breaker-reset")
	}
}

// CheckCapital reads available capital and updates the enabled state.
func (b *CapitalCircuitBreaker) CheckCapital(ctx context.Context) error {
	start := time.Now()
	defer func() {
		CircuitBreakerCheckDuration.Observe(time.Since(start).Seconds())
	}()

	err := ctx.Err()
	if err != nil {
		return fmt.Errorf("check capital: %w", err)
	}

	capital := b.capital.AvailableCapital()

	b.mu.Lock()
	disableThreshold := b.disableThreshold
	enableThreshold := b.enableThreshold
	b.lastCapital = capital
	b.lastCheck = time.Now()
	b.mu.Unlock()

	CircuitBreakerCapital.Set(capital)

	currentlyEnabled := b.enabled.Load()
	shouldDisable := currentlyEnabled && capital < disableThreshold
	shouldEnable := !currentlyEnabled && capital >= enableThreshold

	switch {
	case shouldDisable:
		b.enabled.Store(false)
		CircuitBreakerEnabled.Set(0)
		CircuitBreakerStateChanges.Inc()

		b.logger.Warn("circuit-breaker-disabled",
			zap.Float64("capital", capital),
			zap.Float64("disable-threshold", disableThreshold),
			zap.Float64("enable-threshold", enableThreshold))
	case shouldEnable:
		b.enabled.Store(true)
		if !b.tripped.Load() {
			CircuitBreakerEnabled.Set(1)
		}
		CircuitBreakerStateChanges.Inc()

		b.logger.Info("circuit-breaker-enabled",
			zap.Float64("capital", capital),
			zap.Float64("disable-threshold", disableThreshold),
			zap.Float64("enable-threshold", enableThreshold))
	default:
		b.logger.Debug("capital-checked",
			zap.Float64("capital", capital),
			zap.Bool("enabled", currentlyEnabled),
			zap.Float64("disable-threshold", disableThreshold))
	}

	return nil
}

// Start begins the background monitoring loop until ctx is cancelled.
func (b *CapitalCircuitBreaker) Start(ctx context.Context) {
	b.logger.Info("circuit-breaker-started",
		zap.Duration("check-interval", b.checkInterval),
		zap.Float64("trade-multiplier", b.tradeMultiplier),
		zap.Float64("min-absolute", b.minAbsolute),
		zap.Float64("hysteresis-ratio", b.hysteresisRatio))

	if err := b.CheckCapital(ctx); err != nil {
		b.logger.Warn("initial-capital-check-failed", zap.Error(err))
	}

	go b.monitorLoop(ctx)
}

func (b *CapitalCircuitBreaker) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(b.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("circuit-breaker-stopped")
			return
		case <-ticker.C:
			if err := b.CheckCapital(ctx); err != nil {
				b.logger.Warn("capital-check-error", zap.Error(err))
			}
		}
	}
}

// GetStatus returns current circuit breaker status for HTTP endpoints.
func (b *CapitalCircuitBreaker) GetStatus() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sum := 0.0
	for _, c := range b.recentTrades {
		sum += c
	}
	avg := 0.0
	if len(b.recentTrades) > 0 {
		avg = sum / float64(len(b.recentTrades))
	}

	return Status{
		Enabled:          b.IsEnabled(),
		Tripped:          b.tripped.Load(),
		TripReason:       b.tripReason,
		LastCapital:      b.lastCapital,
		LastCheck:        b.lastCheck,
		DisableThreshold: b.disableThreshold,
		EnableThreshold:  b.enableThreshold,
		AvgTradeCost:     avg,
		RecentTradeCount: len(b.recentTrades),
	}
}
