package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		HTTPPort:            "8080",
		FeedMode:            FeedModeNone,
		FreshnessBound:      5 * time.Second,
		SimilarityThreshold: 0.9,
		RequiredMarginT1:    0.005,
		RequiredMarginT2:    0.01,
		RequiredMarginT3:    0.02,
		DecayWindow:         10 * time.Second,
		InitialCapital:      1000,
		MaxExposureFraction: 0.05,
		TierMultiplierT1:    1,
		TierMultiplierT2:    0.5,
		TierMultiplierT3:    0.25,
		ExecutionMode:       ExecutionModePaper,
		FillTimeout:         5 * time.Second,
		MaxConcurrent:       4,
		BreakerHysteresis:   1.5,
		StorageMode:         StorageModeConsole,
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.FeedMode != FeedModeWebSocket {
		t.Errorf("expected websocket feed by default, got %q", cfg.FeedMode)
	}
	if cfg.FreshnessBound != 5*time.Second {
		t.Errorf("expected 5s freshness bound, got %v", cfg.FreshnessBound)
	}
	if cfg.RequiredMarginT1 != 0.005 || cfg.RequiredMarginT3 != 0.02 {
		t.Errorf("unexpected default margins T1=%f T3=%f", cfg.RequiredMarginT1, cfg.RequiredMarginT3)
	}
	if !cfg.TripOnUnhedged {
		t.Error("expected TripOnUnhedged to default to true")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("FEED_MODE", "kafka")
	t.Setenv("KAFKA_TOPIC", "ticks")
	t.Setenv("DECAY_WINDOW", "30s")
	t.Setenv("MAX_CHASE_ATTEMPTS", "5")
	t.Setenv("TRIP_ON_UNHEDGED", "false")
	t.Setenv("STORAGE_MODE", "sqlite")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.FeedMode != FeedModeKafka || cfg.KafkaTopic != "ticks" {
		t.Errorf("expected kafka feed on topic ticks, got %q/%q", cfg.FeedMode, cfg.KafkaTopic)
	}
	if cfg.DecayWindow != 30*time.Second {
		t.Errorf("expected DecayWindow 30s, got %v", cfg.DecayWindow)
	}
	if cfg.MaxChaseAttempts != 5 {
		t.Errorf("expected MaxChaseAttempts 5, got %d", cfg.MaxChaseAttempts)
	}
	if cfg.TripOnUnhedged {
		t.Error("expected TripOnUnhedged false")
	}
	if cfg.StorageMode != StorageModeSQLite {
		t.Errorf("expected sqlite storage, got %q", cfg.StorageMode)
	}
}

func TestLoadFromEnv_BadValuesFallBack(t *testing.T) {
	t.Setenv("MAX_CONCURRENT_EXECUTIONS", "many")
	t.Setenv("FILL_TIMEOUT", "soon")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.MaxConcurrent != 4 {
		t.Errorf("expected default MaxConcurrent 4, got %d", cfg.MaxConcurrent)
	}
	if cfg.FillTimeout != 5*time.Second {
		t.Errorf("expected default FillTimeout 5s, got %v", cfg.FillTimeout)
	}
}

func TestLoadFromEnv_InvalidFails(t *testing.T) {
	t.Setenv("REQUIRED_MARGIN_T1", "0.05")

	_, err := LoadFromEnv()
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "validate config") {
		t.Errorf("expected wrapped validation error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "empty-port", mutate: func(c *Config) { c.HTTPPort = "" }, wantErr: "HTTP_PORT"},
		{name: "unknown-feed", mutate: func(c *Config) { c.FeedMode = "carrier-pigeon" }, wantErr: "FEED_MODE"},
		{name: "websocket-needs-url", mutate: func(c *Config) { c.FeedMode = FeedModeWebSocket }, wantErr: "FEED_WS_URL"},
		{name: "kafka-needs-topic", mutate: func(c *Config) { c.FeedMode = FeedModeKafka; c.KafkaBrokers = "b:9092" }, wantErr: "KAFKA"},
		{name: "zero-freshness", mutate: func(c *Config) { c.FreshnessBound = 0 }, wantErr: "FRESHNESS_BOUND"},
		{name: "similarity-above-one", mutate: func(c *Config) { c.SimilarityThreshold = 1.2 }, wantErr: "SIMILARITY"},
		{name: "margins-decrease", mutate: func(c *Config) { c.RequiredMarginT2 = 0.001 }, wantErr: "must not decrease"},
		{name: "equal-margins-ok", mutate: func(c *Config) { c.RequiredMarginT2 = 0.005; c.RequiredMarginT3 = 0.005 }},
		{name: "negative-fee", mutate: func(c *Config) { c.FeeAllowance = -0.01 }, wantErr: "FEE_ALLOWANCE"},
		{name: "zero-decay", mutate: func(c *Config) { c.DecayWindow = 0 }, wantErr: "DECAY_WINDOW"},
		{name: "exposure-zero", mutate: func(c *Config) { c.MaxExposureFraction = 0 }, wantErr: "MAX_EXPOSURE_FRACTION"},
		{name: "exposure-above-one", mutate: func(c *Config) { c.MaxExposureFraction = 1.5 }, wantErr: "MAX_EXPOSURE_FRACTION"},
		{name: "multiplier-zero", mutate: func(c *Config) { c.TierMultiplierT3 = 0 }, wantErr: "TIER_MULTIPLIER_T3"},
		{name: "multipliers-increase", mutate: func(c *Config) { c.TierMultiplierT3 = 0.75 }, wantErr: "must not increase"},
		{name: "live-mode-rejected", mutate: func(c *Config) { c.ExecutionMode = "live" }, wantErr: "EXECUTION_MODE"},
		{name: "dry-run-ok", mutate: func(c *Config) { c.ExecutionMode = ExecutionModeDryRun }},
		{name: "zero-concurrency", mutate: func(c *Config) { c.MaxConcurrent = 0 }, wantErr: "MAX_CONCURRENT"},
		{name: "low-hysteresis", mutate: func(c *Config) { c.BreakerHysteresis = 0.5 }, wantErr: "BREAKER_HYSTERESIS"},
		{name: "unknown-storage", mutate: func(c *Config) { c.StorageMode = "mongo" }, wantErr: "STORAGE_MODE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !logger.Core().Enabled(-1) {
		t.Error("expected debug level enabled")
	}

	if _, err := NewLogger(""); err != nil {
		t.Errorf("expected empty level to default, got %v", err)
	}

	if _, err := NewLogger("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
