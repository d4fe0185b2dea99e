package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mselser95/polymarket-hedge/internal/arbitrage"
	"github.com/mselser95/polymarket-hedge/internal/execution"
	"github.com/mselser95/polymarket-hedge/pkg/types"
	"go.uber.org/zap"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS hedge_opportunities (
		id TEXT PRIMARY KEY,
		candidate_key TEXT NOT NULL,
		tier TEXT NOT NULL,
		leg_a TEXT NOT NULL,
		leg_b TEXT NOT NULL,
		ask_a DOUBLE PRECISION NOT NULL,
		ask_b DOUBLE PRECISION NOT NULL,
		hedge_ratio DOUBLE PRECISION NOT NULL,
		margin DOUBLE PRECISION NOT NULL,
		required_margin DOUBLE PRECISION NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		expected_profit DOUBLE PRECISION NOT NULL,
		detected_at TIMESTAMP NOT NULL,
		expires_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS hedge_executions (
		id TEXT PRIMARY KEY,
		opportunity_id TEXT NOT NULL,
		candidate_key TEXT NOT NULL,
		state TEXT NOT NULL,
		filled_a DOUBLE PRECISION NOT NULL,
		filled_b DOUBLE PRECISION NOT NULL,
		cost DOUBLE PRECISION NOT NULL,
		unhedged BOOLEAN NOT NULL,
		failure_reason TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		detail TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS hedge_fills (
		execution_id TEXT NOT NULL,
		candidate_key TEXT NOT NULL,
		venue TEXT NOT NULL,
		market_id TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		filled_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS hedge_fills_execution_idx ON hedge_fills (execution_id)`,
}

// SQLStorage implements Storage and Reader over database/sql.
// Postgres and SQLite differ only in placeholder syntax.
type SQLStorage struct {
	db       *sql.DB
	logger   *zap.Logger
	dialect  string
	numbered bool
}

func newSQLStorage(db *sql.DB, dialect string, logger *zap.Logger) *SQLStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLStorage{
		db:       db,
		logger:   logger,
		dialect:  dialect,
		numbered: dialect == ModePostgres,
	}
}

// bind rewrites ? placeholders to $N for dialects that need it.
func (s *SQLStorage) bind(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Migrate creates the tables if they do not exist.
func (s *SQLStorage) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		_, err := s.db.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect, err)
		}
	}
	s.logger.Info("storage-schema-ready", zap.String("dialect", s.dialect))
	return nil
}

// StoreOpportunity stores a hedge opportunity.
func (s *SQLStorage) StoreOpportunity(ctx context.Context, opp *arbitrage.Opportunity) error {
	query := s.bind(`
		INSERT INTO hedge_opportunities (
			id, candidate_key, tier, leg_a, leg_b, ask_a, ask_b, hedge_ratio,
			margin, required_margin, quantity, expected_profit, detected_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`)

	_, err := s.db.ExecContext(ctx, query,
		opp.ID,
		opp.Candidate.Key,
		opp.Candidate.Tier.String(),
		opp.Candidate.LegA.String(),
		opp.Candidate.LegB.String(),
		opp.AskA,
		opp.AskB,
		opp.Candidate.HedgeRatio,
		opp.Margin,
		opp.RequiredMargin,
		opp.Quantity,
		opp.ExpectedProfit,
		opp.DetectedAt,
		opp.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert opportunity: %w", err)
	}

	s.logger.Debug("opportunity-stored",
		zap.String("opportunity-id", opp.ID),
		zap.String("candidate-key", opp.Candidate.Key))
	return nil
}

// StoreExecution upserts an execution with its full detail as JSON.
func (s *SQLStorage) StoreExecution(ctx context.Context, exec *execution.Execution) error {
	detail, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	query := s.bind(`
		INSERT INTO hedge_executions (
			id, opportunity_id, candidate_key, state, filled_a, filled_b, cost,
			unhedged, failure_reason, started_at, finished_at, detail
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			filled_a = excluded.filled_a,
			filled_b = excluded.filled_b,
			cost = excluded.cost,
			unhedged = excluded.unhedged,
			failure_reason = excluded.failure_reason,
			finished_at = excluded.finished_at,
			detail = excluded.detail
	`)

	_, err = s.db.ExecContext(ctx, query,
		exec.ID,
		exec.OpportunityID,
		exec.CandidateKey,
		string(exec.State),
		exec.LegA.Net(),
		exec.LegB.Net(),
		exec.Cost(),
		exec.Unhedged,
		exec.FailureReason,
		exec.StartedAt,
		exec.FinishedAt,
		string(detail),
	)
	if err != nil {
		return fmt.Errorf("upsert execution: %w", err)
	}

	s.logger.Debug("execution-stored",
		zap.String("execution-id", exec.ID),
		zap.String("state", string(exec.State)))
	return nil
}

// StoreFill appends one fill.
func (s *SQLStorage) StoreFill(ctx context.Context, fill *types.Fill) error {
	query := s.bind(`
		INSERT INTO hedge_fills (
			execution_id, candidate_key, venue, market_id, side, quantity, price, filled_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		fill.ExecutionID,
		fill.CandidateKey,
		fill.Outcome.Venue,
		fill.Outcome.MarketID,
		string(fill.Outcome.Side),
		fill.Quantity,
		fill.Price,
		fill.At,
	)
	if err != nil {
		return fmt.Errorf("insert fill: %w", err)
	}
	return nil
}

// ListOpportunities returns the most recent opportunities first.
func (s *SQLStorage) ListOpportunities(ctx context.Context, limit int) ([]OpportunityRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`
		SELECT id, candidate_key, tier, margin, quantity, expected_profit, detected_at
		FROM hedge_opportunities
		ORDER BY detected_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("query opportunities: %w", err)
	}
	defer rows.Close()

	var out []OpportunityRecord
	for rows.Next() {
		var r OpportunityRecord
		err = rows.Scan(&r.ID, &r.CandidateKey, &r.Tier, &r.Margin, &r.Quantity, &r.ExpectedProfit, &r.DetectedAt)
		if err != nil {
			return nil, fmt.Errorf("scan opportunity: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListExecutions returns the most recent executions first.
func (s *SQLStorage) ListExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`
		SELECT id, opportunity_id, candidate_key, state, filled_a, filled_b, cost,
			unhedged, failure_reason, started_at, finished_at
		FROM hedge_executions
		ORDER BY started_at DESC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var r ExecutionRecord
		err = rows.Scan(&r.ID, &r.OpportunityID, &r.CandidateKey, &r.State, &r.FilledA, &r.FilledB,
			&r.Cost, &r.Unhedged, &r.FailureReason, &r.StartedAt, &r.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PositionSummaries aggregates fills per outcome.
func (s *SQLStorage) PositionSummaries(ctx context.Context) ([]PositionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT venue, market_id, side, SUM(quantity), SUM(quantity * price), COUNT(*)
		FROM hedge_fills
		GROUP BY venue, market_id, side
		ORDER BY venue, market_id, side
	`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []PositionSummary
	for rows.Next() {
		var (
			p    PositionSummary
			side string
		)
		err = rows.Scan(&p.Outcome.Venue, &p.Outcome.MarketID, &side, &p.NetQuantity, &p.NetCost, &p.FillCount)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Outcome.Side = types.Side(side)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLStorage) Close() error {
	s.logger.Info("closing-sql-storage", zap.String("dialect", s.dialect))
	return s.db.Close()
}
