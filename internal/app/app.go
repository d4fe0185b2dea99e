package app

import (
	"context"
	"sync"

	"github.com/mselser95/polymarket-hedge/internal/arbitrage"
	"github.com/mselser95/polymarket-hedge/internal/circuitbreaker"
	"github.com/mselser95/polymarket-hedge/internal/discovery"
	"github.com/mselser95/polymarket-hedge/internal/execution"
	"github.com/mselser95/polymarket-hedge/internal/feed"
	"github.com/mselser95/polymarket-hedge/internal/ledger"
	"github.com/mselser95/polymarket-hedge/internal/markets"
	"github.com/mselser95/polymarket-hedge/internal/relationship"
	"github.com/mselser95/polymarket-hedge/internal/snapshot"
	"github.com/mselser95/polymarket-hedge/internal/storage"
	"github.com/mselser95/polymarket-hedge/pkg/cache"
	"github.com/mselser95/polymarket-hedge/pkg/config"
	"github.com/mselser95/polymarket-hedge/pkg/healthprobe"
	"github.com/mselser95/polymarket-hedge/pkg/httpserver"
	"github.com/mselser95/polymarket-hedge/pkg/websocket"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server

	verdictCache cache.Cache
	catalog      *markets.Catalog
	poller       *markets.Poller
	registry     *relationship.Registry
	discovery    *discovery.Service

	wsManager   *websocket.Manager // nil unless the feed is a websocket
	kafkaSource *feed.KafkaSource  // nil unless the feed is kafka
	snapshots   *snapshot.Store

	detector    *arbitrage.Detector
	coordinator *execution.Coordinator
	ledger      *ledger.Ledger
	breaker     *circuitbreaker.CapitalCircuitBreaker
	storage     storage.Storage

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options holds command line overrides.
type Options struct {
	MarketsFile string // replaces cfg.MarketsFile when set
	DryRun      bool   // forces dry-run execution
}
