package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/mselser95/polymarket-hedge/internal/storage"
	"github.com/mselser95/polymarket-hedge/pkg/config"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//nolint:gochecknoglobals // Cobra boilerplate
var reportCmd = &cobra.Command{
	Use:       "report [opportunities|executions|positions]",
	Short:     "Print stored opportunities, executions or fill-derived positions",
	ValidArgs: []string{"opportunities", "executions", "positions"},
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Long: `Reads the records written by a running engine from the configured
SQL storage (STORAGE_MODE=postgres or sqlite) and prints them.

Examples:
  # Most recent executions as a table
  hedge-engine report executions --limit 20

  # Net holdings per outcome from the fill log, as JSON
  hedge-engine report positions --format json`,
	RunE: runReport,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().Int("limit", 50, "Maximum rows for opportunities and executions")
	reportCmd.Flags().String("format", "table", "Output format: table, json")
}

func runReport(cmd *cobra.Command, args []string) error {
	loadEnv(cmd)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.StorageMode == config.StorageModeConsole {
		return fmt.Errorf("report needs postgres or sqlite storage, STORAGE_MODE is %s", cfg.StorageMode)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	format, _ := cmd.Flags().GetString("format")
	if format != "table" && format != "json" {
		return fmt.Errorf("unknown format: %s", format)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	st, err := storage.New(ctx, &storage.Config{
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
		Logger:     zap.NewNop(),
	})
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer st.Close()

	reader, ok := st.(storage.Reader)
	if !ok {
		return fmt.Errorf("storage mode %s cannot be queried", cfg.StorageMode)
	}

	return writeReport(ctx, cmd.OutOrStdout(), reader, args[0], limit, format)
}

func writeReport(ctx context.Context, out io.Writer, reader storage.Reader, what string, limit int, format string) error {
	var (
		rows any
		err  error
	)

	switch what {
	case "opportunities":
		var recs []storage.OpportunityRecord
		recs, err = reader.ListOpportunities(ctx, limit)
		rows = recs
		if err == nil && format == "table" {
			return renderOpportunities(out, recs)
		}
	case "executions":
		var recs []storage.ExecutionRecord
		recs, err = reader.ListExecutions(ctx, limit)
		rows = recs
		if err == nil && format == "table" {
			return renderExecutions(out, recs)
		}
	case "positions":
		var recs []storage.PositionSummary
		recs, err = reader.PositionSummaries(ctx)
		rows = recs
		if err == nil && format == "table" {
			return renderPositions(out, recs)
		}
	default:
		return fmt.Errorf("unknown report: %s", what)
	}
	if err != nil {
		return fmt.Errorf("query %s: %w", what, err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func renderOpportunities(out io.Writer, recs []storage.OpportunityRecord) error {
	table := tablewriter.NewWriter(out)
	table.Header("Detected", "ID", "Candidate", "Tier", "Margin bps", "Qty", "Exp. profit")

	for _, r := range recs {
		table.Append(
			r.DetectedAt.Format(time.DateTime),
			shortID(r.ID),
			r.CandidateKey,
			r.Tier,
			fmt.Sprintf("%.0f", r.Margin*10000),
			fmt.Sprintf("%.2f", r.Quantity),
			fmt.Sprintf("$%.4f", r.ExpectedProfit),
		)
	}

	err := table.Render()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d opportunities\n", len(recs))
	return nil
}

func renderExecutions(out io.Writer, recs []storage.ExecutionRecord) error {
	table := tablewriter.NewWriter(out)
	table.Header("Started", "ID", "Candidate", "State", "Filled A", "Filled B", "Cost", "Unhedged", "Reason")

	unhedged := 0
	for _, r := range recs {
		flag := ""
		if r.Unhedged {
			flag = "YES"
			unhedged++
		}
		table.Append(
			r.StartedAt.Format(time.DateTime),
			shortID(r.ID),
			r.CandidateKey,
			r.State,
			fmt.Sprintf("%.2f", r.FilledA),
			fmt.Sprintf("%.2f", r.FilledB),
			fmt.Sprintf("$%.4f", r.Cost),
			flag,
			r.FailureReason,
		)
	}

	err := table.Render()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d executions, %d unhedged\n", len(recs), unhedged)
	return nil
}

func renderPositions(out io.Writer, recs []storage.PositionSummary) error {
	table := tablewriter.NewWriter(out)
	table.Header("Outcome", "Net qty", "Net cost", "Avg price", "Fills")

	total := 0.0
	for _, p := range recs {
		avg := "-"
		if p.NetQuantity > 0 {
			avg = fmt.Sprintf("%.4f", p.NetCost/p.NetQuantity)
		}
		table.Append(
			p.Outcome.String(),
			fmt.Sprintf("%.2f", p.NetQuantity),
			fmt.Sprintf("$%.4f", p.NetCost),
			avg,
			fmt.Sprintf("%d", p.FillCount),
		)
		total += p.NetCost
	}

	err := table.Render()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d outcomes, net cost $%.2f\n", len(recs), total)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
