package circuitbreaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeCapital struct {
	mu    sync.Mutex
	value float64
}

func (f *fakeCapital) AvailableCapital() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func (f *fakeCapital) set(v float64) {
	f.mu.Lock()
	f.value = v
	f.mu.Unlock()
}

func newTestBreaker(t *testing.T, capital *fakeCapital) *CapitalCircuitBreaker {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	b, err := New(&Config{
		CheckInterval:   time.Minute,
		TradeMultiplier: 3.0,
		MinAbsolute:     50.0,
		HysteresisRatio: 1.5,
		Capital:         capital,
		Logger:          logger,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return b
}

func TestNew_Validation(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	capital := &fakeCapital{value: 100}

	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "nil-config", cfg: nil},
		{name: "nil-capital", cfg: &Config{CheckInterval: time.Second, TradeMultiplier: 1, MinAbsolute: 1, HysteresisRatio: 1, Logger: logger}},
		{name: "nil-logger", cfg: &Config{CheckInterval: time.Second, TradeMultiplier: 1, MinAbsolute: 1, HysteresisRatio: 1, Capital: capital}},
		{name: "zero-interval", cfg: &Config{TradeMultiplier: 1, MinAbsolute: 1, HysteresisRatio: 1, Capital: capital, Logger: logger}},
		{name: "zero-multiplier", cfg: &Config{CheckInterval: time.Second, MinAbsolute: 1, HysteresisRatio: 1, Capital: capital, Logger: logger}},
		{name: "zero-min-absolute", cfg: &Config{CheckInterval: time.Second, TradeMultiplier: 1, HysteresisRatio: 1, Capital: capital, Logger: logger}},
		{name: "hysteresis-below-one", cfg: &Config{CheckInterval: time.Second, TradeMultiplier: 1, MinAbsolute: 1, HysteresisRatio: 0.5, Capital: capital, Logger: logger}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCheckCapital_DisableAndHysteresis(t *testing.T) {
	capital := &fakeCapital{value: 100}
	b := newTestBreaker(t, capital)
	ctx := context.Background()

	if !b.IsEnabled() {
		t.Fatal("breaker should start enabled")
	}

	capital.set(40)
	if err := b.CheckCapital(ctx); err != nil {
		t.Fatalf("CheckCapital failed: %v", err)
	}
	if b.IsEnabled() {
		t.Fatal("expected breaker disabled below 50")
	}

	// Between disable (50) and enable (75) thresholds the state holds.
	capital.set(60)
	_ = b.CheckCapital(ctx)
	if b.IsEnabled() {
		t.Error("expected breaker to stay disabled inside hysteresis band")
	}

	capital.set(80)
	_ = b.CheckCapital(ctx)
	if !b.IsEnabled() {
		t.Error("expected breaker re-enabled above 75")
	}

	status := b.GetStatus()
	if status.LastCapital != 80 {
		t.Errorf("expected last capital 80, got %.2f", status.LastCapital)
	}
}

func TestRecordTrade_RaisesThresholds(t *testing.T) {
	b := newTestBreaker(t, &fakeCapital{value: 1000})

	b.RecordTrade(100)
	b.RecordTrade(0) // ignored
	b.RecordTrade(-5)

	status := b.GetStatus()
	if status.RecentTradeCount != 1 {
		t.Fatalf("expected 1 recorded trade, got %d", status.RecentTradeCount)
	}
	if status.DisableThreshold != 300 {
		t.Errorf("expected disable threshold 300, got %.2f", status.DisableThreshold)
	}
	if status.EnableThreshold != 450 {
		t.Errorf("expected enable threshold 450, got %.2f", status.EnableThreshold)
	}
}

func TestRecordTrade_RollingWindow(t *testing.T) {
	b := newTestBreaker(t, &fakeCapital{value: 1000})

	for i := 0; i < 25; i++ {
		b.RecordTrade(10)
	}

	status := b.GetStatus()
	if status.RecentTradeCount != 20 {
		t.Errorf("expected window of 20, got %d", status.RecentTradeCount)
	}
	// avg 10 * 3 = 30 is below the 50 floor
	if status.DisableThreshold != 50 {
		t.Errorf("expected disable threshold floor 50, got %.2f", status.DisableThreshold)
	}
}

func TestTripHoldsUntilReset(t *testing.T) {
	capital := &fakeCapital{value: 1000}
	b := newTestBreaker(t, capital)

	b.Trip("unhedged-exposure")
	if b.IsEnabled() {
		t.Fatal("expected tripped breaker to block execution")
	}

	_ = b.CheckCapital(context.Background())
	if b.IsEnabled() {
		t.Error("capital check must not clear a trip")
	}

	status := b.GetStatus()
	if !status.Tripped || status.TripReason != "unhedged-exposure" {
		t.Errorf("unexpected status: %+v", status)
	}

	b.Reset()
	if !b.IsEnabled() {
		t.Error("expected breaker enabled after reset")
	}
	if b.GetStatus().TripReason != "" {
		t.Error("expected trip reason cleared")
	}
}

func TestCheckCapital_CancelledContext(t *testing.T) {
	b := newTestBreaker(t, &fakeCapital{value: 1000})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.CheckCapital(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestStart_InitialCheck(t *testing.T) {
	capital := &fakeCapital{value: 10}
	b := newTestBreaker(t, capital)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.Start(ctx)
	if b.IsEnabled() {
		t.Error("expected initial check to disable the breaker")
	}
}
