// Package main provides the CLI entry point for the Ema companion agent
// server.
//
// Start the server:
//
//	ema serve --config ema.yaml
//
// Talk to an actor from the terminal:
//
//	ema repl --config ema.yaml
//
// Dump or restore state:
//
//	ema snapshot create backup.json
//	ema snapshot restore backup.json
//
// Configuration can also come from environment variables (EMA_CHAT_PROVIDER,
// EMA_CHAT_MODEL, OPENAI_API_KEY, GEMINI_API_KEY, ANTHROPIC_API_KEY); a .env
// file in the working directory is loaded on startup when present.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/ema/internal/config"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Best effort; a missing .env is the normal case.
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "ema",
		Short:        "Ema - personal companion agent server",
		Long:         "Ema runs persistent companion actors: serialized conversations, a bounded agent loop, durable memories, and scheduled check-ins.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML configuration file")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildSnapshotCmd(),
		buildReplCmd(),
	)
	return rootCmd
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := config.Default()
		config.ApplyEnv(cfg, os.Getenv)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(configPath)
}
