package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "hedge-engine",
	Short: "Cross-market hedge discovery and execution engine",
	Long: `Hedge engine that discovers related prediction-market outcomes,
watches their prices and trades both legs when buying the pair costs
less than its guaranteed payout.

Markets are loaded from a JSON listing, prices arrive over a WebSocket
or Kafka tick feed, and executions run against a paper venue.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional dotenv file loaded before reading configuration")
}

// loadEnv loads the dotenv file when present. Variables already set in the
// environment win.
func loadEnv(cmd *cobra.Command) {
	path, _ := cmd.Flags().GetString("env-file")
	if path == "" {
		return
	}
	_, err := os.Stat(path)
	if err != nil {
		return
	}
	err = godotenv.Load(path)
	if err != nil {
		cmd.PrintErrf("Warning: could not load %s: %v\n", path, err)
	}
}
