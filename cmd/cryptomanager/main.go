package main

import (
	"context"
	"fmt"
	"os"

	"crypto-manager-go/internal/app"
	"crypto-manager-go/internal/config"
	"crypto-manager-go/internal/logger"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	fs := pflag.NewFlagSet("cryptomanager", pflag.ExitOnError)
	config.Flags(fs)
	_ = fs.Parse(os.Args[1:])

	configDir, _ := fs.GetString("config")

	// Load application configuration
	cfg, err := config.LoadConfig(configDir, fs)
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format, cfg.Logger.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded",
		zap.String("mode", cfg.Mode),
		zap.String("pair", cfg.Trading.Pair),
		zap.Bool("dry_run", cfg.Trading.DryRun),
	)

	runner, err := app.Build(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize", zap.Error(err))
	}

	err = runner.Run(context.Background())
	if cerr := runner.Close(); cerr != nil {
		log.Warn("Failed to release resources", zap.Error(cerr))
	}
	if err != nil {
		log.Error("Crypto Manager exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}
