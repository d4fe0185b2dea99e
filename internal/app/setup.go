package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/mselser95/polymarket-hedge/internal/arbitrage"
	"github.com/mselser95/polymarket-hedge/internal/circuitbreaker"
	"github.com/mselser95/polymarket-hedge/internal/discovery"
	"github.com/mselser95/polymarket-hedge/internal/execution"
	"github.com/mselser95/polymarket-hedge/internal/feed"
	"github.com/mselser95/polymarket-hedge/internal/ledger"
	"github.com/mselser95/polymarket-hedge/internal/markets"
	"github.com/mselser95/polymarket-hedge/internal/relationship"
	"github.com/mselser95/polymarket-hedge/internal/sizing"
	"github.com/mselser95/polymarket-hedge/internal/snapshot"
	"github.com/mselser95/polymarket-hedge/internal/storage"
	"github.com/mselser95/polymarket-hedge/pkg/cache"
	"github.com/mselser95/polymarket-hedge/pkg/config"
	"github.com/mselser95/polymarket-hedge/pkg/healthprobe"
	"github.com/mselser95/polymarket-hedge/pkg/httpserver"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	"github.com/mselser95/polymarket-hedge/pkg/websocket"
	"go.uber.org/zap"
)

// New creates a new application instance with every component wired.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}
	if opts.MarketsFile != "" {
		cfg.MarketsFile = opts.MarketsFile
	}
	if opts.DryRun {
		cfg.ExecutionMode = config.ExecutionModeDryRun
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: healthprobe.New(),
		ctx:           ctx,
		cancel:        cancel,
	}

	err := a.setup()
	if err != nil {
		cancel()
		a.closeResources()
		return nil, err
	}
	return a, nil
}

func (a *App) setup() error {
	var err error

	a.storage, err = setupStorage(a.ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}

	a.verdictCache, err = setupCache(a.logger)
	if err != nil {
		return fmt.Errorf("setup cache: %w", err)
	}

	classifier, err := setupClassifier(a.cfg, a.logger, a.verdictCache)
	if err != nil {
		return fmt.Errorf("setup classifier: %w", err)
	}

	a.registry = relationship.NewRegistry()
	a.catalog = markets.NewCatalog(a.logger, a.cfg.FeedBufferSize)
	a.poller = markets.NewPoller(&markets.PollerConfig{
		Source:       &markets.FileSource{Path: a.cfg.MarketsFile},
		Catalog:      a.catalog,
		PollInterval: a.cfg.MarketsPollInterval,
		Logger:       a.logger,
	})

	ticks, err := a.setupFeed()
	if err != nil {
		return fmt.Errorf("setup feed: %w", err)
	}

	a.snapshots = snapshot.New(&snapshot.Config{
		FreshnessBound:   a.cfg.FreshnessBound,
		SubscriberBuffer: a.cfg.FeedBufferSize,
		TickChannel:      ticks,
		Interest:         a.registry.Contains,
		Logger:           a.logger,
	})

	a.ledger = ledger.New(&ledger.Config{
		InitialCapital: a.cfg.InitialCapital,
		Sink:           a.storage,
		Logger:         a.logger,
	})

	a.breaker, err = circuitbreaker.New(&circuitbreaker.Config{
		CheckInterval:   a.cfg.BreakerCheckInterval,
		TradeMultiplier: a.cfg.BreakerTradeMultiplier,
		MinAbsolute:     a.cfg.BreakerMinAbsolute,
		HysteresisRatio: a.cfg.BreakerHysteresis,
		Capital:         a.ledger,
		Logger:          a.logger,
	})
	if err != nil {
		return fmt.Errorf("setup circuit breaker: %w", err)
	}

	a.detector, err = setupDetector(a.cfg, a.logger, a.snapshots, a.registry, a.ledger, a.storage)
	if err != nil {
		return fmt.Errorf("setup detector: %w", err)
	}

	a.coordinator, err = setupCoordinator(a.cfg, a.logger, a.snapshots, a.ledger, a.breaker, a.detector, a.storage)
	if err != nil {
		return fmt.Errorf("setup coordinator: %w", err)
	}
	a.detector.SetInFlight(a.coordinator.InFlight)

	discoveryCfg := &discovery.Config{
		Catalog:         a.catalog,
		Classifier:      classifier,
		Registry:        a.registry,
		Events:          a.catalog.Subscribe(),
		Forgetter:       a.detector,
		Settler:         a.ledger,
		Concurrency:     a.cfg.DiscoveryConcurrency,
		RefreshInterval: a.cfg.DiscoveryRefreshInterval,
		Logger:          a.logger,
	}
	if a.wsManager != nil {
		discoveryCfg.Watcher = a.wsManager
	}
	a.discovery, err = discovery.New(discoveryCfg)
	if err != nil {
		return fmt.Errorf("setup discovery: %w", err)
	}

	a.setupHealthChecks()
	a.httpServer = a.setupHTTPServer()
	return nil
}

func setupStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	return storage.New(ctx, &storage.Config{
		Mode: cfg.StorageMode,
		Postgres: storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
		},
		SQLitePath: cfg.SQLitePath,
		Logger:     logger,
	})
}

func setupCache(logger *zap.Logger) (cache.Cache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		Name:        "verdicts",
		NumCounters: 100000, // 10x expected verdicts
		MaxCost:     10000,
		BufferItems: 64,
		Logger:      logger,
	})
}

// setupClassifier chains the rule classifier with the LLM classifier when an
// API key is configured, and memoises verdicts in the cache.
func setupClassifier(cfg *config.Config, logger *zap.Logger, c cache.Cache) (relationship.Classifier, error) {
	correlations, err := relationship.LoadCorrelations(cfg.CorrelationsFile)
	if err != nil {
		return nil, err
	}

	chain := relationship.Chain{
		relationship.NewRuleClassifier(relationship.RuleConfig{
			MinSimilarity:  cfg.SimilarityThreshold,
			CloseTolerance: cfg.CloseTolerance,
			Correlations:   correlations,
		}),
	}

	if cfg.OpenAIAPIKey != "" {
		completer, err := relationship.NewOpenAICompleter(relationship.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.ClassifierTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("create llm completer: %w", err)
		}
		chain = append(chain, relationship.NewLLMClassifier(completer, cfg.LLMRatePerSec, cfg.LLMBurst))
		logger.Info("llm-classifier-enabled", zap.String("model", cfg.OpenAIModel))
	}

	logger.Info("classifier-configured",
		zap.Int("classifiers", len(chain)),
		zap.Int("correlations", len(correlations)))

	return relationship.NewCachedClassifier(&relationship.CachedConfig{
		Inner:   chain,
		Cache:   c,
		Window:  cfg.ClassifierCacheWindow,
		Timeout: cfg.ClassifierTimeout,
		Logger:  logger,
	}), nil
}

// setupFeed creates the configured tick source and returns its channel.
// FeedModeNone returns a nil channel: snapshots only arrive through Update.
func (a *App) setupFeed() (<-chan *types.FeedTick, error) {
	switch a.cfg.FeedMode {
	case config.FeedModeWebSocket:
		a.wsManager = websocket.New(websocket.Config{
			URL:                   a.cfg.FeedWSURL,
			DialTimeout:           a.cfg.WSDialTimeout,
			PingInterval:          a.cfg.WSPingInterval,
			ReconnectInitialDelay: a.cfg.WSReconnectInitialDelay,
			ReconnectMaxDelay:     a.cfg.WSReconnectMaxDelay,
			ReconnectBackoffMult:  a.cfg.WSReconnectBackoffMult,
			MessageBufferSize:     a.cfg.FeedBufferSize,
			Logger:                a.logger,
		})
		return a.wsManager.TickChan(), nil
	case config.FeedModeKafka:
		src, err := feed.NewKafkaSource(&feed.KafkaConfig{
			Brokers:    feed.ParseBrokers(a.cfg.KafkaBrokers),
			Topic:      a.cfg.KafkaTopic,
			GroupID:    a.cfg.KafkaGroupID,
			BufferSize: a.cfg.FeedBufferSize,
			Logger:     a.logger,
		})
		if err != nil {
			return nil, err
		}
		a.kafkaSource = src
		return src.Ticks(), nil
	case config.FeedModeNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown feed mode: %s", a.cfg.FeedMode)
	}
}

func setupDetector(
	cfg *config.Config,
	logger *zap.Logger,
	snapshots *snapshot.Store,
	registry *relationship.Registry,
	positions *ledger.Ledger,
	st storage.Storage,
) (*arbitrage.Detector, error) {
	sizer, err := sizing.New(sizing.Config{
		MaxExposureFraction: cfg.MaxExposureFraction,
		TierMultipliers: map[relationship.Tier]float64{
			relationship.Tier1: cfg.TierMultiplierT1,
			relationship.Tier2: cfg.TierMultiplierT2,
			relationship.Tier3: cfg.TierMultiplierT3,
		},
		LotSize:     cfg.LotSize,
		MinQuantity: cfg.MinQuantity,
		MinProfit:   cfg.MinProfit,
	})
	if err != nil {
		return nil, fmt.Errorf("create sizer: %w", err)
	}

	return arbitrage.New(
		arbitrage.Config{
			FeeAllowance:   cfg.FeeAllowance,
			SlippageBuffer: cfg.SlippageBuffer,
			RequiredMargins: map[relationship.Tier]float64{
				relationship.Tier1: cfg.RequiredMarginT1,
				relationship.Tier2: cfg.RequiredMarginT2,
				relationship.Tier3: cfg.RequiredMarginT3,
			},
			DecayWindow:   cfg.DecayWindow,
			SweepInterval: cfg.SweepInterval,
			ChannelBuffer: 1000,
			Logger:        logger,
		},
		snapshots,
		registry,
		positions,
		sizer,
		st,
		snapshots.Subscribe(),
	)
}

func setupCoordinator(
	cfg *config.Config,
	logger *zap.Logger,
	snapshots *snapshot.Store,
	positions *ledger.Ledger,
	breaker *circuitbreaker.CapitalCircuitBreaker,
	detector *arbitrage.Detector,
	st storage.Storage,
) (*execution.Coordinator, error) {
	paper := execution.NewPaperVenue(&execution.PaperConfig{
		Quotes:    snapshots,
		FillDelay: cfg.PaperFillDelay,
		Logger:    logger,
	})

	execCfg := execution.DefaultConfig()
	execCfg.Mode = cfg.ExecutionMode
	execCfg.Venue = execution.NewRouter(paper)
	execCfg.Ledger = positions
	execCfg.Breaker = breaker
	execCfg.Resolver = detector
	execCfg.Storage = st
	execCfg.Quotes = snapshots
	execCfg.FillTimeout = cfg.FillTimeout
	execCfg.MaxChaseAttempts = cfg.MaxChaseAttempts
	execCfg.ChaseSlippageStep = cfg.ChaseSlippageStep
	execCfg.MaxUnwindLossPerUnit = cfg.MaxUnwindLossPerUnit
	execCfg.MaxCloseAttempts = cfg.MaxCloseAttempts
	execCfg.CloseSlippageStep = cfg.CloseSlippageStep
	execCfg.MaxConcurrent = cfg.MaxConcurrent
	execCfg.TripOnUnhedged = cfg.TripOnUnhedged
	execCfg.Logger = logger

	return execution.New(execCfg)
}

func (a *App) setupHealthChecks() {
	if a.wsManager != nil {
		ws := a.wsManager
		a.healthChecker.AddCheck("feed", func() error {
			if !ws.Connected() {
				return errors.New("websocket feed disconnected")
			}
			return nil
		})
	}
}

func (a *App) setupHTTPServer() *httpserver.Server {
	srvCfg := &httpserver.Config{
		Port:          a.cfg.HTTPPort,
		Logger:        a.logger,
		HealthChecker: a.healthChecker,
		Candidates:    a.registry,
		Opportunities: a.detector,
		Executions:    a.coordinator,
		Positions:     a.ledger,
		Breaker:       a.breaker,
	}
	if reader, ok := a.storage.(storage.Reader); ok {
		srvCfg.History = reader
	}
	return httpserver.New(srvCfg)
}
