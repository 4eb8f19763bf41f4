package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"
	"github.com/vietddude/triage/internal/control"
	"github.com/vietddude/triage/internal/core/config"
)

var (
	cfgPath    string
	inputPath  string
	outputPath string
	runID      string
	isDebug    bool
)

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Triage CI test failure service",
	Long:  `Triage ingests completed test results, classifies failures, and drives bounded retries to produce a deterministic run report.`,
	Run:   runTriage,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().StringVar(&inputPath, "input", "", "path to the test result listener JSON file")
	rootCmd.Flags().StringVar(&outputPath, "output", "triage-report.json", "path to write the run report")
	rootCmd.Flags().StringVar(&runID, "run-id", "", "pipeline run identifier (generated when empty)")
	_ = rootCmd.MarkFlagRequired("input")
}

func runTriage(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	// Load Configuration
	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup logging
	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})

	// Initialize Triage
	app, err := control.New(cfg)
	if err != nil {
		slog.Error("Failed to initialize Triage", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, cancelling run...", "signal", sig)
		cancel()
	}()

	app.StartServer()

	report, err := app.Triage(ctx, inputPath, outputPath, runID)
	if err != nil {
		slog.Error("Triage run failed", "error", err)
		_ = app.Stop(context.Background())
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	s := report.Summary
	if s.FailedNotRetryable+s.FailedBudgetExhausted+s.FailedAfterRetry+s.FailedUnclassifiable+s.Cancelled > 0 {
		os.Exit(1)
	}
}
