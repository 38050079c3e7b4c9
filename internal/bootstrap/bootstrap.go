// Package bootstrap provides dependency initialization for the watermark bot.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/maauso/watermark-bot/internal/config"
	"github.com/maauso/watermark-bot/internal/job"
	"github.com/maauso/watermark-bot/internal/media"
	"github.com/maauso/watermark-bot/internal/server"
	"github.com/maauso/watermark-bot/internal/settings"
	"github.com/maauso/watermark-bot/internal/storage"
	"github.com/maauso/watermark-bot/internal/telegram"
)

// ErrAlreadyRunning is returned when another process holds the settings lock.
var ErrAlreadyRunning = errors.New("bootstrap: another instance is already running")

// Dependencies holds all initialized dependencies of the serve command.
type Dependencies struct {
	Settings   *settings.Store
	Storage    storage.Storage
	Repository job.Repository
	Registry   *prometheus.Registry
	Pipeline   *job.Pipeline
	Dispatcher *telegram.Dispatcher
	// HTTPServer is nil when HTTP_PORT is 0.
	HTTPServer *http.Server

	lock *flock.Flock
}

// DefaultSettings returns the watermark defaults configured in the
// environment.
func DefaultSettings(cfg *config.Config) settings.WatermarkSettings {
	return settings.WatermarkSettings{
		Text:      cfg.WatermarkText,
		FontSize:  cfg.FontSize,
		FontColor: cfg.FontColor,
		Position:  settings.Position(cfg.Position),
	}
}

// NewSettingsStore opens the settings file with the configured defaults.
func NewSettingsStore(cfg *config.Config, logger *slog.Logger) (*settings.Store, error) {
	defaults := DefaultSettings(cfg)
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("default watermark settings: %w", err)
	}
	return settings.NewStore(cfg.SettingsFile, defaults, logger), nil
}

// AcquireLock takes the single-instance lock next to the settings file.
// Offline settings commands take it too so they never race a running bot.
func AcquireLock(cfg *config.Config) (*flock.Flock, error) {
	lock := flock.New(cfg.SettingsFile + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, lock.Path())
	}
	return lock, nil
}

// NewDependencies creates and initializes all dependencies for the bot.
// Close must be called to release the instance lock.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (deps *Dependencies, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	lock, err := AcquireLock(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = lock.Unlock()
		}
	}()

	store, err := NewSettingsStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	st, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if n, err := st.Sweep(ctx, 0); err != nil {
		logger.Warn("temp sweep incomplete", slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("removed leftover temp files", slog.Int("count", n))
	}

	encoder := media.NewFFmpegEncoder(
		media.WithFFmpegPath(cfg.FFmpegPath),
		media.WithFFprobePath(cfg.FFprobePath),
		media.WithFontFile(cfg.FontFile),
		media.WithLogger(logger),
	)

	repo := job.NewMemoryRepository(cfg.JobHistory)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := job.NewMetrics(registry)

	bot, err := newBotAPI(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("bot authorized", slog.String("username", bot.Self.UserName))

	client := telegram.NewClient(bot, telegram.WithLogger(logger))

	if cfg.UsesCloudAPI() && cfg.MaxFileSizeMB > config.CloudMaxFileSizeMB {
		logger.Warn("MAX_FILE_SIZE_MB exceeds the hosted Bot API download limit, set TELEGRAM_API_ENDPOINT to a local Bot API server to raise it",
			slog.Int64("configured_mb", cfg.MaxFileSizeMB),
			slog.Int("effective_mb", config.CloudMaxFileSizeMB),
		)
	}

	archive := cfg.ArchiveToS3
	if archive && !cfg.S3Enabled() {
		logger.Warn("ARCHIVE_TO_S3 is set but S3 is not configured, archiving disabled")
		archive = false
	}

	pipeline := job.NewPipeline(client, encoder, st, store,
		job.WithMaxFileSize(cfg.MaxFileSizeBytes()),
		job.WithStageTimeout(cfg.StageTimeout),
		job.WithThumbnailOffset(cfg.ThumbnailOffset),
		job.WithRateLimitRetries(cfg.RateLimitMaxRetries),
		job.WithProgressInterval(cfg.ProgressInterval),
		job.WithArchive(archive),
		job.WithRepository(repo),
		job.WithMetrics(metrics),
		job.WithLogger(logger),
	)

	dialog := telegram.NewDialog(client, store, logger)
	dispatcher := telegram.NewDispatcher(client, pipeline, dialog, logger)

	deps = &Dependencies{
		Settings:   store,
		Storage:    st,
		Repository: repo,
		Registry:   registry,
		Pipeline:   pipeline,
		Dispatcher: dispatcher,
		lock:       lock,
	}

	if cfg.HTTPPort > 0 {
		routerCfg := server.DefaultConfig()
		routerCfg.Gatherer = registry
		handlers := server.NewHandlers(repo, store, logger)
		deps.HTTPServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
			Handler:           server.NewRouter(handlers, logger, routerCfg),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
	}

	return deps, nil
}

// Close releases the instance lock.
func (d *Dependencies) Close() error {
	if d.lock == nil {
		return nil
	}
	if err := d.lock.Unlock(); err != nil {
		return fmt.Errorf("release instance lock: %w", err)
	}
	return nil
}

func newBotAPI(cfg *config.Config) (*tgbotapi.BotAPI, error) {
	var (
		bot *tgbotapi.BotAPI
		err error
	)
	if cfg.APIEndpoint != "" {
		bot, err = tgbotapi.NewBotAPIWithAPIEndpoint(cfg.BotToken, cfg.APIEndpoint)
	} else {
		bot, err = tgbotapi.NewBotAPI(cfg.BotToken)
	}
	if err != nil {
		return nil, fmt.Errorf("connect to Telegram: %w", err)
	}
	return bot, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
