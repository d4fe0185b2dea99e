package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mselser95/polymarket-hedge/internal/arbitrage"
	"github.com/mselser95/polymarket-hedge/internal/execution"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	"go.uber.org/zap"
)

const rule = "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"

// ConsoleStorage implements Storage by pretty-printing to console.
type ConsoleStorage struct {
	out    io.Writer
	logger *zap.Logger
}

// NewConsoleStorage creates a new console storage.
func NewConsoleStorage(logger *zap.Logger) *ConsoleStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("console-storage-initialized")
	return &ConsoleStorage{
		out:    os.Stdout,
		logger: logger,
	}
}

// StoreOpportunity pretty-prints a hedge opportunity.
func (c *ConsoleStorage) StoreOpportunity(ctx context.Context, opp *arbitrage.Opportunity) error {
	w := c.out
	cand := opp.Candidate

	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintf(w, "🎯 HEDGE OPPORTUNITY DETECTED\n")
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "ID:        %s\n", shortID(opp.ID))
	fmt.Fprintf(w, "Candidate: %s\n", cand.Key)
	fmt.Fprintf(w, "Tier:      %s (%s, score %.3f, ratio %.2f)\n", cand.Tier, cand.Kind, cand.Score, cand.HedgeRatio)
	fmt.Fprintf(w, "Time:      %s\n", opp.DetectedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "📊 PRICES\n")
	fmt.Fprintf(w, "  Leg A ask: %.4f (depth %.2f)\n", opp.AskA, opp.DepthA)
	fmt.Fprintf(w, "  Leg B ask: %.4f (depth %.2f)\n", opp.AskB, opp.DepthB)
	fmt.Fprintf(w, "  Fees:      %.4f  Slippage: %.4f\n", opp.FeeAllowance, opp.SlippageBuffer)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "💰 PROFIT ANALYSIS\n")
	fmt.Fprintf(w, "  Margin:          %.4f (%d bps, required %.4f)\n", opp.Margin, opp.MarginBPS(), opp.RequiredMargin)
	fmt.Fprintf(w, "  Quantity:        %.2f / %.2f\n", opp.Quantity, opp.QuantityB)
	fmt.Fprintf(w, "  Expected Profit: $%.2f\n", opp.ExpectedProfit)
	fmt.Fprintf(w, "  Expires:         %s\n", opp.ExpiresAt.Format("15:04:05.000"))
	fmt.Fprintln(w, rule)

	return nil
}

// StoreExecution prints a one-block execution summary.
func (c *ConsoleStorage) StoreExecution(ctx context.Context, exec *execution.Execution) error {
	w := c.out
	status := "✅"
	switch exec.State {
	case execution.StateAbandoned:
		status = "🚨"
	case execution.StateFailed:
		status = "❌"
	}

	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintf(w, "%s EXECUTION %s %s\n", status, shortID(exec.ID), exec.State)
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Candidate: %s\n", exec.CandidateKey)
	fmt.Fprintf(w, "  Leg A: %.2f/%.2f @ %.4f (sold %.2f)\n", exec.LegA.Filled, exec.LegA.Requested, exec.LegA.AvgPrice, exec.LegA.Sold)
	fmt.Fprintf(w, "  Leg B: %.2f/%.2f @ %.4f (sold %.2f)\n", exec.LegB.Filled, exec.LegB.Requested, exec.LegB.AvgPrice, exec.LegB.Sold)
	fmt.Fprintf(w, "  Cost:  $%.2f\n", exec.Cost())
	if exec.FailureReason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", exec.FailureReason)
	}
	fmt.Fprintln(w, rule)

	return nil
}

// StoreFill logs the fill at debug level.
func (c *ConsoleStorage) StoreFill(ctx context.Context, fill *types.Fill) error {
	c.logger.Debug("fill-stored",
		zap.String("execution-id", fill.ExecutionID),
		zap.String("outcome", fill.Outcome.String()),
		zap.Float64("quantity", fill.Quantity),
		zap.Float64("price", fill.Price))
	return nil
}

// Close is a no-op for console storage.
func (c *ConsoleStorage) Close() error {
	c.logger.Info("closing-console-storage")
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
