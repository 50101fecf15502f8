package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "loadtest",
	Short: "Voice call load test harness",
	Long: `loadtest drives batches of outbound test calls through a SIP trunk.

Each call of a batch is dispatched to an agent worker, which dials the
number, attaches a conversation session once answered and hangs up after
the configured duration.

Examples:
  loadtest run-batch --phone-number +15551234567 --trunk-id ST_abc
  loadtest run-batch --phone-number +15551234567 --trunk-id ST_abc --calls 10 --interval 2 --duration 30`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	rootCmd.AddCommand(runBatchCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
