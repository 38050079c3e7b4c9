// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Static errors for configuration validation.
var (
	// ErrBotTokenRequired is returned when TELEGRAM_BOT_TOKEN is not set.
	ErrBotTokenRequired = errors.New("config: TELEGRAM_BOT_TOKEN is required")
	// ErrInvalidMaxFileSize is returned when MAX_FILE_SIZE_MB is not positive.
	ErrInvalidMaxFileSize = errors.New("config: MAX_FILE_SIZE_MB must be positive")
	// ErrInvalidStageTimeout is returned when STAGE_TIMEOUT is not positive.
	ErrInvalidStageTimeout = errors.New("config: STAGE_TIMEOUT must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Telegram settings
	BotToken    string `env:"TELEGRAM_BOT_TOKEN" json:"-"` // Masked in JSON
	APIEndpoint string `env:"TELEGRAM_API_ENDPOINT" json:"api_endpoint,omitempty"`

	// HTTP ops server (health, metrics, jobs). 0 disables it.
	HTTPPort int `env:"HTTP_PORT, default=8080" json:"http_port"`

	// Storage settings
	TempDir      string `env:"TEMP_DIR, default=/tmp/watermark-bot" json:"temp_dir"`
	SettingsFile string `env:"SETTINGS_FILE, default=watermark_settings.json" json:"settings_file"`

	// Submission limits
	MaxFileSizeMB int64 `env:"MAX_FILE_SIZE_MB, default=100" json:"max_file_size_mb"`

	// Watermark defaults, used on first start and by reset
	WatermarkText string `env:"WATERMARK_TEXT, default=Your Text" json:"watermark_text"`
	FontSize      int    `env:"FONT_SIZE, default=24" json:"font_size"`
	FontColor     string `env:"FONT_COLOR, default=white" json:"font_color"`
	Position      string `env:"POSITION, default=bottom_right" json:"position"`
	FontFile      string `env:"FONT_FILE, default=arial.ttf" json:"font_file"`

	// Encoder settings
	FFmpegPath      string        `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath     string        `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`
	ThumbnailOffset time.Duration `env:"THUMBNAIL_OFFSET, default=1s" json:"thumbnail_offset"`

	// Pipeline settings
	StageTimeout        time.Duration `env:"STAGE_TIMEOUT, default=10m" json:"stage_timeout"`
	RateLimitMaxRetries int           `env:"RATE_LIMIT_MAX_RETRIES, default=3" json:"rate_limit_max_retries"`
	ProgressInterval    time.Duration `env:"PROGRESS_INTERVAL, default=2s" json:"progress_interval"`
	JobHistory          int           `env:"JOB_HISTORY, default=200" json:"job_history"`

	// Optional S3 archive of delivered files
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON
	ArchiveToS3        bool   `env:"ARCHIVE_TO_S3, default=false" json:"archive_to_s3"`

	// Logging settings
	LogFormat         string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel          string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
	LogFile           string `env:"LOG_FILE" json:"log_file,omitempty"`         // empty disables the file sink
	LogFileMaxSizeMB  int    `env:"LOG_FILE_MAX_SIZE, default=50" json:"log_file_max_size"`
	LogFileMaxBackups int    `env:"LOG_FILE_MAX_BACKUPS, default=3" json:"log_file_max_backups"`
	LogFileMaxAgeDays int    `env:"LOG_FILE_MAX_AGE, default=7" json:"log_file_max_age"`
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// CloudMaxFileSizeMB is the getFile download limit of the hosted Bot API.
// Larger files need a local Bot API server (TELEGRAM_API_ENDPOINT).
const CloudMaxFileSizeMB = 20

// UsesCloudAPI reports whether the bot talks to the hosted Bot API.
func (c *Config) UsesCloudAPI() bool {
	return c.APIEndpoint == ""
}

// MaxFileSizeBytes returns the effective submission size limit in bytes.
// Against the hosted Bot API it never exceeds CloudMaxFileSizeMB.
func (c *Config) MaxFileSizeBytes() int64 {
	mb := c.MaxFileSizeMB
	if c.UsesCloudAPI() {
		mb = min(mb, CloudMaxFileSizeMB)
	}
	return mb * 1024 * 1024
}

// Load reads configuration from environment variables using go-envconfig.
// The bot token is not checked here so that offline commands (settings
// management) work without one; call Validate before starting the bot.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.MaxFileSizeMB <= 0 {
		return nil, ErrInvalidMaxFileSize
	}
	if cfg.StageTimeout <= 0 {
		return nil, ErrInvalidStageTimeout
	}

	return cfg, nil
}

// Validate checks that everything needed to run the bot is present.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return ErrBotTokenRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs. When LogFile is set, the
// same records are also written to a size-rotated file.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var out io.Writer = os.Stdout
	if c.LogFile != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   c.LogFile,
			MaxSize:    c.LogFileMaxSizeMB,
			MaxBackups: c.LogFileMaxBackups,
			MaxAge:     c.LogFileMaxAgeDays,
			Compress:   true,
		})
	}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(out, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{HTTPPort: %d, TempDir: %s, SettingsFile: %s, MaxFileSizeMB: %d, FontFile: %s, StageTimeout: %s, S3Bucket: %s, S3Region: %s, ArchiveToS3: %t, LogFormat: %s, LogLevel: %s}",
		c.HTTPPort,
		c.TempDir,
		c.SettingsFile,
		c.MaxFileSizeMB,
		c.FontFile,
		c.StageTimeout,
		c.S3Bucket,
		c.S3Region,
		c.ArchiveToS3,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
