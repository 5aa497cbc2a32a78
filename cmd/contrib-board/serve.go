package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/osscampus/contrib-board/internal/app"
	"github.com/osscampus/contrib-board/internal/telemetry"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	telemetryRuntime, err := telemetry.Setup(telemetry.Config{
		Enabled:          cfg.Telemetry.OTELEnabled,
		ServiceName:      "contrib-board",
		TraceMode:        cfg.Telemetry.OTELTraceMode,
		TraceSampleRatio: cfg.Telemetry.OTELTraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetryRuntime.Shutdown(shutdownCtx)
	}()

	runtime, err := app.NewRuntime(cfg, logger)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer func() {
		_ = runtime.Close()
	}()

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           runtime.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	rootCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.ListenAddr))
		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			serverErrCh <- serveErr
		}
		close(serverErrCh)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case serveErr := <-serverErrCh:
		if serveErr != nil {
			return fmt.Errorf("http server failed: %w", serveErr)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
