package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application. In-flight executions
// finish their unwind before the ledger and storage are closed.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	// Cancel context to signal all components
	a.cancel()

	a.closeResources()

	// Wait for the poller and HTTP goroutines
	a.wg.Wait()

	a.logger.Info("application-shutdown-complete",
		zap.Float64("realized-pnl", a.ledger.RealizedPnL()),
		zap.Float64("available-capital", a.ledger.AvailableCapital()))

	return nil
}

// closeResources closes components in dependency order. It tolerates
// components that were never created so New can use it on setup failure.
func (a *App) closeResources() {
	if a.discovery != nil {
		logCloseError(a.logger, "discovery-service", a.discovery.Close())
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
	if a.coordinator != nil {
		logCloseError(a.logger, "execution-coordinator", a.coordinator.Close())
	}
	if a.detector != nil {
		logCloseError(a.logger, "opportunity-detector", a.detector.Close())
	}
	if a.wsManager != nil {
		logCloseError(a.logger, "websocket-manager", a.wsManager.Close())
	}
	if a.kafkaSource != nil {
		logCloseError(a.logger, "kafka-source", a.kafkaSource.Close())
	}
	if a.snapshots != nil {
		logCloseError(a.logger, "snapshot-store", a.snapshots.Close())
	}
	if a.storage != nil {
		logCloseError(a.logger, "storage", a.storage.Close())
	}
	if a.verdictCache != nil {
		a.verdictCache.Close()
	}
}

func logCloseError(logger *zap.Logger, component string, err error) {
	if err != nil {
		logger.Error("component-close-error",
			zap.String("component", component),
			zap.Error(err))
	}
}
