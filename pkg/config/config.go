package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Execution, storage and feed modes.
const (
	ExecutionModePaper  = "paper"
	ExecutionModeDryRun = "dry-run"

	StorageModeConsole  = "console"
	StorageModePostgres = "postgres"
	StorageModeSQLite   = "sqlite"

	FeedModeWebSocket = "websocket"
	FeedModeKafka     = "kafka"
	FeedModeNone      = "none"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Markets
	MarketsFile         string
	MarketsPollInterval time.Duration

	// Feed
	FeedMode                string
	FeedWSURL               string
	WSDialTimeout           time.Duration
	WSPingInterval          time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64
	FeedBufferSize          int
	KafkaBrokers            string
	KafkaTopic              string
	KafkaGroupID            string
	FreshnessBound          time.Duration

	// Classification
	SimilarityThreshold   float64
	CloseTolerance        time.Duration
	CorrelationsFile      string
	ClassifierCacheWindow time.Duration
	ClassifierTimeout     time.Duration
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIModel           string
	LLMRatePerSec         float64
	LLMBurst              int

	// Discovery
	DiscoveryConcurrency     int
	DiscoveryRefreshInterval time.Duration

	// Detection. Required margins are per tier; T1 is the most confident.
	FeeAllowance     float64
	SlippageBuffer   float64
	RequiredMarginT1 float64
	RequiredMarginT2 float64
	RequiredMarginT3 float64
	DecayWindow      time.Duration
	SweepInterval    time.Duration

	// Sizing
	InitialCapital      float64
	MaxExposureFraction float64
	TierMultiplierT1    float64
	TierMultiplierT2    float64
	TierMultiplierT3    float64
	LotSize             float64
	MinQuantity         float64
	MinProfit           float64

	// Execution
	ExecutionMode        string
	FillTimeout          time.Duration
	MaxChaseAttempts     int
	ChaseSlippageStep    float64
	MaxUnwindLossPerUnit float64
	MaxCloseAttempts     int
	CloseSlippageStep    float64
	MaxConcurrent        int
	PaperFillDelay       time.Duration
	TripOnUnhedged       bool

	// Circuit breaker
	BreakerCheckInterval   time.Duration
	BreakerTradeMultiplier float64
	BreakerMinAbsolute     float64
	BreakerHysteresis      float64

	// Storage
	StorageMode  string
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
	SQLitePath   string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		MarketsFile:         getEnvOrDefault("MARKETS_FILE", "markets.json"),
		MarketsPollInterval: getDurationOrDefault("MARKETS_POLL_INTERVAL", 30*time.Second),

		FeedMode:                getEnvOrDefault("FEED_MODE", FeedModeWebSocket),
		FeedWSURL:               getEnvOrDefault("FEED_WS_URL", "ws://localhost:9000/ticks"),
		WSDialTimeout:           getDurationOrDefault("WS_DIAL_TIMEOUT", 10*time.Second),
		WSPingInterval:          getDurationOrDefault("WS_PING_INTERVAL", 10*time.Second),
		WSReconnectInitialDelay: getDurationOrDefault("WS_RECONNECT_INITIAL_DELAY", time.Second),
		WSReconnectMaxDelay:     getDurationOrDefault("WS_RECONNECT_MAX_DELAY", 30*time.Second),
		WSReconnectBackoffMult:  getFloat64OrDefault("WS_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		FeedBufferSize:          getIntOrDefault("FEED_BUFFER_SIZE", 10000),
		KafkaBrokers:            getEnvOrDefault("KAFKA_BROKERS", "localhost:9092"),
		KafkaTopic:              getEnvOrDefault("KAFKA_TOPIC", "hedge.ticks"),
		KafkaGroupID:            getEnvOrDefault("KAFKA_GROUP_ID", "hedge-engine"),
		FreshnessBound:          getDurationOrDefault("FRESHNESS_BOUND", 5*time.Second),

		SimilarityThreshold:   getFloat64OrDefault("CLASSIFIER_SIMILARITY_THRESHOLD", 0.9),
		CloseTolerance:        getDurationOrDefault("CLASSIFIER_CLOSE_TOLERANCE", 48*time.Hour),
		CorrelationsFile:      os.Getenv("CLASSIFIER_CORRELATIONS_FILE"),
		ClassifierCacheWindow: getDurationOrDefault("CLASSIFIER_CACHE_WINDOW", time.Hour),
		ClassifierTimeout:     getDurationOrDefault("CLASSIFIER_TIMEOUT", 10*time.Second),
		OpenAIAPIKey:          os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:         os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:           getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		LLMRatePerSec:         getFloat64OrDefault("LLM_RATE_PER_SEC", 2),
		LLMBurst:              getIntOrDefault("LLM_BURST", 4),

		DiscoveryConcurrency:     getIntOrDefault("DISCOVERY_CONCURRENCY", 8),
		DiscoveryRefreshInterval: getDurationOrDefault("DISCOVERY_REFRESH_INTERVAL", 5*time.Minute),

		FeeAllowance:     getFloat64OrDefault("FEE_ALLOWANCE", 0.0),
		SlippageBuffer:   getFloat64OrDefault("SLIPPAGE_BUFFER", 0.0),
		RequiredMarginT1: getFloat64OrDefault("REQUIRED_MARGIN_T1", 0.005),
		RequiredMarginT2: getFloat64OrDefault("REQUIRED_MARGIN_T2", 0.01),
		RequiredMarginT3: getFloat64OrDefault("REQUIRED_MARGIN_T3", 0.02),
		DecayWindow:      getDurationOrDefault("DECAY_WINDOW", 10*time.Second),
		SweepInterval:    getDurationOrDefault("SWEEP_INTERVAL", time.Second),

		InitialCapital:      getFloat64OrDefault("INITIAL_CAPITAL", 10000),
		MaxExposureFraction: getFloat64OrDefault("MAX_EXPOSURE_FRACTION", 0.05),
		TierMultiplierT1:    getFloat64OrDefault("TIER_MULTIPLIER_T1", 1.0),
		TierMultiplierT2:    getFloat64OrDefault("TIER_MULTIPLIER_T2", 0.75),
		TierMultiplierT3:    getFloat64OrDefault("TIER_MULTIPLIER_T3", 0.5),
		LotSize:             getFloat64OrDefault("LOT_SIZE", 1.0),
		MinQuantity:         getFloat64OrDefault("MIN_QUANTITY", 5.0),
		MinProfit:           getFloat64OrDefault("MIN_PROFIT", 0.01),

		ExecutionMode:        getEnvOrDefault("EXECUTION_MODE", ExecutionModePaper),
		FillTimeout:          getDurationOrDefault("FILL_TIMEOUT", 5*time.Second),
		MaxChaseAttempts:     getIntOrDefault("MAX_CHASE_ATTEMPTS", 2),
		ChaseSlippageStep:    getFloat64OrDefault("CHASE_SLIPPAGE_STEP", 0.01),
		MaxUnwindLossPerUnit: getFloat64OrDefault("MAX_UNWIND_LOSS_PER_UNIT", 0.02),
		MaxCloseAttempts:     getIntOrDefault("MAX_CLOSE_ATTEMPTS", 3),
		CloseSlippageStep:    getFloat64OrDefault("CLOSE_SLIPPAGE_STEP", 0.01),
		MaxConcurrent:        getIntOrDefault("MAX_CONCURRENT_EXECUTIONS", 4),
		PaperFillDelay:       getDurationOrDefault("PAPER_FILL_DELAY", 0),
		TripOnUnhedged:       getBoolOrDefault("TRIP_ON_UNHEDGED", true),

		BreakerCheckInterval:   getDurationOrDefault("BREAKER_CHECK_INTERVAL", 30*time.Second),
		BreakerTradeMultiplier: getFloat64OrDefault("BREAKER_TRADE_MULTIPLIER", 3.0),
		BreakerMinAbsolute:     getFloat64OrDefault("BREAKER_MIN_ABSOLUTE", 5.0),
		BreakerHysteresis:      getFloat64OrDefault("BREAKER_HYSTERESIS", 1.5),

		StorageMode:  getEnvOrDefault("STORAGE_MODE", StorageModeConsole),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "hedge"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "hedge"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "hedge"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		SQLitePath:   getEnvOrDefault("SQLITE_PATH", "hedge.db"),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	switch c.FeedMode {
	case FeedModeWebSocket:
		if c.FeedWSURL == "" {
			return fmt.Errorf("FEED_WS_URL cannot be empty in websocket feed mode")
		}
	case FeedModeKafka:
		if strings.TrimSpace(c.KafkaBrokers) == "" || c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_BROKERS and KAFKA_TOPIC are required in kafka feed mode")
		}
	case FeedModeNone:
	default:
		return fmt.Errorf("FEED_MODE must be 'websocket', 'kafka' or 'none', got %q", c.FeedMode)
	}

	if c.FreshnessBound <= 0 {
		return fmt.Errorf("FRESHNESS_BOUND must be positive, got %v", c.FreshnessBound)
	}

	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("CLASSIFIER_SIMILARITY_THRESHOLD must be in (0, 1], got %f", c.SimilarityThreshold)
	}

	if c.RequiredMarginT1 < 0 {
		return fmt.Errorf("REQUIRED_MARGIN_T1 cannot be negative, got %f", c.RequiredMarginT1)
	}
	if c.RequiredMarginT1 > c.RequiredMarginT2 || c.RequiredMarginT2 > c.RequiredMarginT3 {
		return fmt.Errorf("required margins must not decrease with tier: T1=%f T2=%f T3=%f",
			c.RequiredMarginT1, c.RequiredMarginT2, c.RequiredMarginT3)
	}

	if c.FeeAllowance < 0 || c.SlippageBuffer < 0 {
		return fmt.Errorf("FEE_ALLOWANCE and SLIPPAGE_BUFFER cannot be negative")
	}

	if c.DecayWindow <= 0 {
		return fmt.Errorf("DECAY_WINDOW must be positive, got %v", c.DecayWindow)
	}

	if c.InitialCapital < 0 {
		return fmt.Errorf("INITIAL_CAPITAL cannot be negative, got %f", c.InitialCapital)
	}

	if c.MaxExposureFraction <= 0 || c.MaxExposureFraction > 1 {
		return fmt.Errorf("MAX_EXPOSURE_FRACTION must be in (0, 1], got %f", c.MaxExposureFraction)
	}

	for name, m := range map[string]float64{
		"TIER_MULTIPLIER_T1": c.TierMultiplierT1,
		"TIER_MULTIPLIER_T2": c.TierMultiplierT2,
		"TIER_MULTIPLIER_T3": c.TierMultiplierT3,
	} {
		if m <= 0 || m > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %f", name, m)
		}
	}
	if c.TierMultiplierT1 < c.TierMultiplierT2 || c.TierMultiplierT2 < c.TierMultiplierT3 {
		return fmt.Errorf("tier multipliers must not increase with tier: T1=%f T2=%f T3=%f",
			c.TierMultiplierT1, c.TierMultiplierT2, c.TierMultiplierT3)
	}

	if c.ExecutionMode != ExecutionModePaper && c.ExecutionMode != ExecutionModeDryRun {
		return fmt.Errorf("EXECUTION_MODE must be 'paper' or 'dry-run', got %q", c.ExecutionMode)
	}

	if c.FillTimeout <= 0 {
		return fmt.Errorf("FILL_TIMEOUT must be positive, got %v", c.FillTimeout)
	}

	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_EXECUTIONS must be positive, got %d", c.MaxConcurrent)
	}

	if c.BreakerHysteresis < 1 {
		return fmt.Errorf("BREAKER_HYSTERESIS must be >= 1, got %f", c.BreakerHysteresis)
	}

	switch c.StorageMode {
	case StorageModeConsole, StorageModePostgres, StorageModeSQLite:
	default:
		return fmt.Errorf("STORAGE_MODE must be 'console', 'postgres' or 'sqlite', got %q", c.StorageMode)
	}

	return nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}
