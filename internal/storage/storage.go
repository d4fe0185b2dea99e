package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/mselser95/polymarket-hedge/internal/arbitrage"
	"github.com/mselser95/polymarket-hedge/internal/execution"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	"go.uber.org/zap"
)

// Storage persists the pipeline read model.
type Storage interface {
	// StoreOpportunity stores an emitted opportunity.
	StoreOpportunity(ctx context.Context, opp *arbitrage.Opportunity) error

	// StoreExecution stores or updates an execution.
	StoreExecution(ctx context.Context, exec *execution.Execution) error

	// StoreFill appends one ledger fill.
	StoreFill(ctx context.Context, fill *types.Fill) error

	// Close closes the storage connection.
	Close() error
}

// Reader queries stored records for reporting.
type Reader interface {
	ListOpportunities(ctx context.Context, limit int) ([]OpportunityRecord, error)
	ListExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error)
	PositionSummaries(ctx context.Context) ([]PositionSummary, error)
}

// OpportunityRecord is the stored form of an opportunity.
type OpportunityRecord struct {
	ID             string
	CandidateKey   string
	Tier           string
	Margin         float64
	Quantity       float64
	ExpectedProfit float64
	DetectedAt     time.Time
}

// ExecutionRecord is the stored form of an execution.
type ExecutionRecord struct {
	ID            string
	OpportunityID string
	CandidateKey  string
	State         string
	FilledA       float64
	FilledB       float64
	Cost          float64
	Unhedged      bool
	FailureReason string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// PositionSummary aggregates stored fills for one outcome.
type PositionSummary struct {
	Outcome     types.OutcomeKey
	NetQuantity float64
	NetCost     float64
	FillCount   int
}

// Storage modes.
const (
	ModeConsole  = "console"
	ModePostgres = "postgres"
	ModeSQLite   = "sqlite"
)

// Config selects and configures a storage backend.
type Config struct {
	Mode       string
	Postgres   PostgresConfig
	SQLitePath string
	Logger     *zap.Logger
}

// New opens the configured storage backend.
func New(ctx context.Context, cfg *Config) (Storage, error) {
	switch cfg.Mode {
	case ModeConsole, "":
		return NewConsoleStorage(cfg.Logger), nil
	case ModePostgres:
		pg := cfg.Postgres
		pg.Logger = cfg.Logger
		return NewPostgresStorage(ctx, &pg)
	case ModeSQLite:
		return NewSQLiteStorage(ctx, &SQLiteConfig{Path: cfg.SQLitePath, Logger: cfg.Logger})
	default:
		return nil, fmt.Errorf("unknown storage mode: %s", cfg.Mode)
	}
}
