package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/ternarybob/exerceo/internal/app"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dataset service",
	Long:  `Starts the Exerceo dataset service: dataset assembly jobs fed from the corpus search service or the filesystem fallback, with the same job API and progress WebSocket as the training service.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Apply CLI overrides (highest priority)
	// 3. Initialize logger
	// 4. Print banner

	// Auto-discover config file if not specified
	paths := configFiles
	if len(paths) == 0 {
		if _, err := os.Stat("exerceo-data.toml"); err == nil {
			paths = append(paths, "exerceo-data.toml")
		} else if _, err := os.Stat("deployments/local/exerceo-data.toml"); err == nil {
			// Fallback: check deployments/local for users running from project root
			paths = append(paths, "deployments/local/exerceo-data.toml")
		}
	}

	// Same config surface as the training binary, dataset defaults
	config, err := common.LoadWithDefaults(common.NewDefaultDatasetConfig(), paths...)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	common.ApplyFlagOverrides(config, serverPort, serverHost)

	logger := common.InitLogger(config)
	common.InstallCrashHandler("./logs")
	common.PrintBanner(config.Service.Name, common.GetVersion())

	logger.Info().
		Strs("config_files", paths).
		Str("role", config.Service.Role).
		Int("port", config.Server.Port).
		Str("host", config.Server.Host).
		Msg("Application configuration loaded")

	// Initialize application
	application, err := app.New(config, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer application.Close()

	// Create shutdown channel for HTTP endpoint to trigger shutdown
	shutdownChan := make(chan struct{})

	// Create HTTP server
	srv := server.New(application)
	srv.SetShutdownChannel(shutdownChan)

	// Start server in goroutine
	go func() {
		defer func() {
			if r := recover(); r != nil {
				common.WriteCrashFile(r, common.GetStackTrace())
				logger.Fatal().Str("panic", fmt.Sprintf("%v", r)).Msg("Server goroutine panicked")
			}
		}()

		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Give goroutine a moment to start
	time.Sleep(100 * time.Millisecond)

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("Server ready - Press Ctrl+C to stop")

	// Wait for interrupt signal or HTTP shutdown request
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("Interrupt signal received")
	case <-shutdownChan:
		logger.Info().Msg("Shutdown requested via HTTP")
	}

	// Graceful shutdown
	logger.Info().Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown failed")
	}

	logger.Info().Msg("Server stopped")
	return nil
}
