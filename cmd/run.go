package cmd

import (
	"fmt"

	"github.com/mselser95/polymarket-hedge/internal/app"
	"github.com/mselser95/polymarket-hedge/pkg/config"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the hedge engine",
	Long: `Starts the hedge engine, which will:
1. Load markets from the listing file and keep the catalog in sync
2. Classify market pairs into hedge candidates
3. Watch candidate outcomes on the tick feed
4. Detect and size opportunities whose margin clears the tier requirement
5. Execute both legs on the paper venue, unwinding any imbalance

Use --dry-run to detect and log opportunities without executing them.`,
	RunE: runEngine,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringP("markets", "m", "", "Markets listing file (overrides MARKETS_FILE)")
	runCmd.Flags().Bool("dry-run", false, "Detect opportunities without executing them")
}

func runEngine(cmd *cobra.Command, args []string) error {
	loadEnv(cmd)

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	marketsFile, _ := cmd.Flags().GetString("markets")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	application, err := app.New(cfg, logger, &app.Options{
		MarketsFile: marketsFile,
		DryRun:      dryRun,
	})
	if err != nil {
		return fmt.Errorf("create app: %w", err)
	}

	err = application.Run()
	if err != nil {
		return fmt.Errorf("run app: %w", err)
	}

	return nil
}
