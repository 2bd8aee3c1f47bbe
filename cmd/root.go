package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	dataDir  string
	envFile  string
	logger   *slog.Logger
)

// Environment variables read when the matching flag is not given.
const (
	envDataDir  = "SHIFTNOISE_DATA_DIR"
	envLogLevel = "SHIFTNOISE_LOG_LEVEL"
)

var rootCmd = &cobra.Command{
	Use:   "shiftnoise",
	Short: "Minimax shift-divergence noise mechanisms",
	Long: `shiftnoise computes discretized noise distributions that minimize the
worst KL divergence between the distribution and its shifted copies,
subject to a bound on the expected |x|^c cost.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("failed to load env file: %w", err)
			}
		} else {
			// optional, a missing .env is not an error
			_ = godotenv.Load()
		}

		flags := cmd.Flags()
		if v := os.Getenv(envLogLevel); v != "" && !flags.Changed("log-level") {
			logLevel = v
		}
		if v := os.Getenv(envDataDir); v != "" && !flags.Changed("data-dir") {
			dataDir = v
		}

		// Setup logger
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stderr, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Base directory for saved records and traces")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "Load environment variables from this file (default .env if present)")
}
