package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/watermark-bot/internal/bootstrap"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Poll Telegram and watermark incoming media",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
}

func runServe(parent context.Context, cmdCtx *commandContext) error {
	cfg, err := cmdCtx.ensureConfig()
	if err != nil {
		return err
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting watermark bot",
		slog.Int("http_port", cfg.HTTPPort),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("temp_dir", cfg.TempDir),
		slog.String("settings_file", cfg.SettingsFile),
		slog.Int64("max_file_size_mb", cfg.MaxFileSizeMB),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Warn("failed to release instance lock", slog.String("error", err.Error()))
		}
	}()

	errCh := make(chan error, 1)
	if deps.HTTPServer != nil {
		go func() {
			logger.Info("HTTP server listening", slog.String("addr", deps.HTTPServer.Addr))
			if err := deps.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server failed: %w", err)
				stop()
			}
		}()
	}

	runErr := deps.Dispatcher.Run(ctx)
	if runErr == nil {
		logger.Info("shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if deps.HTTPServer != nil {
		if err := deps.HTTPServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := deps.Dispatcher.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	select {
	case err := <-errCh:
		errs = append(errs, err)
	default:
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Info("watermark bot stopped gracefully")
	return nil
}
