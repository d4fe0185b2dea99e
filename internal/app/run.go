package app

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	err := a.Start()
	if err != nil {
		return err
	}

	return a.waitForShutdown()
}

// Start launches every component and marks the application ready.
func (a *App) Start() error {
	a.logger.Info("application-starting",
		zap.String("mode", a.cfg.ExecutionMode),
		zap.String("feed-mode", a.cfg.FeedMode),
		zap.String("storage-mode", a.cfg.StorageMode),
		zap.String("markets-file", a.cfg.MarketsFile),
		zap.String("log-level", a.cfg.LogLevel))

	err := a.startComponents()
	if err != nil {
		return err
	}

	a.healthChecker.SetReady(true)

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort),
		zap.Float64("initial-capital", a.cfg.InitialCapital))

	return nil
}

func (a *App) startComponents() error {
	a.wg.Add(1)
	go a.runHTTPServer()

	// Give HTTP server a moment to start
	time.Sleep(100 * time.Millisecond)

	// Downstream consumers start before their producers.
	err := a.snapshots.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start snapshot store: %w", err)
	}

	a.breaker.Start(a.ctx)

	err = a.detector.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start opportunity detector: %w", err)
	}

	err = a.coordinator.Start(a.ctx, a.detector.OpportunityChan())
	if err != nil {
		return fmt.Errorf("start execution coordinator: %w", err)
	}

	err = a.startFeed()
	if err != nil {
		return fmt.Errorf("start feed: %w", err)
	}

	err = a.discovery.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start discovery service: %w", err)
	}

	a.wg.Add(1)
	go a.runMarketPoller()

	return nil
}

func (a *App) startFeed() error {
	switch {
	case a.wsManager != nil:
		return a.wsManager.Start(a.ctx)
	case a.kafkaSource != nil:
		return a.kafkaSource.Start(a.ctx)
	default:
		a.logger.Info("feed-disabled")
		return nil
	}
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) runMarketPoller() {
	defer a.wg.Done()
	err := a.poller.Run(a.ctx)
	if err != nil && !errors.Is(err, a.ctx.Err()) {
		a.logger.Error("market-poller-error", zap.Error(err))
	}
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
