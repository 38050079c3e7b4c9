package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvKeys = []string{
	"TELEGRAM_BOT_TOKEN",
	"TELEGRAM_API_ENDPOINT",
	"HTTP_PORT",
	"TEMP_DIR",
	"SETTINGS_FILE",
	"MAX_FILE_SIZE_MB",
	"WATERMARK_TEXT",
	"FONT_SIZE",
	"FONT_COLOR",
	"POSITION",
	"FONT_FILE",
	"FFMPEG_PATH",
	"FFPROBE_PATH",
	"THUMBNAIL_OFFSET",
	"STAGE_TIMEOUT",
	"RATE_LIMIT_MAX_RETRIES",
	"PROGRESS_INTERVAL",
	"JOB_HISTORY",
	"S3_BUCKET",
	"S3_REGION",
	"S3_ENDPOINT",
	"AWS_ACCESS_KEY_ID",
	"AWS_SECRET_ACCESS_KEY",
	"ARCHIVE_TO_S3",
	"LOG_FORMAT",
	"LOG_LEVEL",
	"LOG_FILE",
}

// clearEnv unsets every key Load reads and restores the previous values
// when the test ends.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvKeys {
		if v, ok := os.LookupEnv(k); ok {
			t.Cleanup(func() { _ = os.Setenv(k, v) })
		}
		_ = os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "/tmp/watermark-bot", cfg.TempDir)
	assert.Equal(t, "watermark_settings.json", cfg.SettingsFile)
	assert.Equal(t, int64(100), cfg.MaxFileSizeMB)
	assert.Equal(t, int64(CloudMaxFileSizeMB*1024*1024), cfg.MaxFileSizeBytes())
	assert.Equal(t, "Your Text", cfg.WatermarkText)
	assert.Equal(t, 24, cfg.FontSize)
	assert.Equal(t, "white", cfg.FontColor)
	assert.Equal(t, "bottom_right", cfg.Position)
	assert.Equal(t, "arial.ttf", cfg.FontFile)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "ffprobe", cfg.FFprobePath)
	assert.Equal(t, time.Second, cfg.ThumbnailOffset)
	assert.Equal(t, 10*time.Minute, cfg.StageTimeout)
	assert.Equal(t, 3, cfg.RateLimitMaxRetries)
	assert.Equal(t, 2*time.Second, cfg.ProgressInterval)
	assert.Equal(t, 200, cfg.JobHistory)
	assert.False(t, cfg.ArchiveToS3)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestMaxFileSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		sizeMB   int64
		endpoint string
		want     int64
	}{
		{"cloud api clamps to getFile limit", 100, "", 20 << 20},
		{"cloud api keeps smaller limit", 5, "", 5 << 20},
		{"local bot api server", 100, "http://localhost:8081/bot%s/%s", 100 << 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{MaxFileSizeMB: tt.sizeMB, APIEndpoint: tt.endpoint}
			assert.Equal(t, tt.want, cfg.MaxFileSizeBytes())
			assert.Equal(t, tt.endpoint == "", cfg.UsesCloudAPI())
		})
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("TEMP_DIR", "/custom/temp")
	t.Setenv("SETTINGS_FILE", "/etc/wm/settings.json")
	t.Setenv("MAX_FILE_SIZE_MB", "20")
	t.Setenv("WATERMARK_TEXT", "@my_channel")
	t.Setenv("FONT_SIZE", "32")
	t.Setenv("FONT_COLOR", "#FF0000")
	t.Setenv("POSITION", "center")
	t.Setenv("STAGE_TIMEOUT", "90s")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("ARCHIVE_TO_S3", "true")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "123:abc", cfg.BotToken)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, "/custom/temp", cfg.TempDir)
	assert.Equal(t, "/etc/wm/settings.json", cfg.SettingsFile)
	assert.Equal(t, int64(20*1024*1024), cfg.MaxFileSizeBytes())
	assert.Equal(t, "@my_channel", cfg.WatermarkText)
	assert.Equal(t, 32, cfg.FontSize)
	assert.Equal(t, "#FF0000", cfg.FontColor)
	assert.Equal(t, "center", cfg.Position)
	assert.Equal(t, 90*time.Second, cfg.StageTimeout)
	assert.True(t, cfg.S3Enabled())
	assert.True(t, cfg.ArchiveToS3)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Run("non-numeric port", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("HTTP_PORT", "not-a-number")

		_, err := Load()
		require.Error(t, err)
	})

	t.Run("zero max file size", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MAX_FILE_SIZE_MB", "0")

		_, err := Load()
		assert.ErrorIs(t, err, ErrInvalidMaxFileSize)
	})

	t.Run("negative stage timeout", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("STAGE_TIMEOUT", "-1s")

		_, err := Load()
		assert.ErrorIs(t, err, ErrInvalidStageTimeout)
	})
}

func TestConfig_Validate(t *testing.T) {
	t.Run("token present", func(t *testing.T) {
		cfg := &Config{BotToken: "123:abc"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("token missing", func(t *testing.T) {
		cfg := &Config{}
		assert.ErrorIs(t, cfg.Validate(), ErrBotTokenRequired)
	})
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		BotToken:           "123:very-secret",
		HTTPPort:           8080,
		TempDir:            "/tmp/test",
		AWSSecretAccessKey: "aws-secret",
		S3Bucket:           "bucket",
		LogFormat:          "json",
		LogLevel:           "info",
	}

	str := cfg.String()

	assert.Contains(t, str, "8080")
	assert.Contains(t, str, "/tmp/test")
	assert.Contains(t, str, "bucket")

	assert.NotContains(t, str, "very-secret")
	assert.NotContains(t, str, "aws-secret")
}

func TestConfig_NewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		cfg := &Config{LogFormat: "json", LogLevel: "info"}
		logger := cfg.NewLogger()
		require.NotNil(t, logger)
		assert.True(t, logger.Enabled(t.Context(), slog.LevelInfo))
		assert.False(t, logger.Enabled(t.Context(), slog.LevelDebug))
	})

	t.Run("text with rotating file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bot.log")
		cfg := &Config{LogFormat: "text", LogLevel: "debug", LogFile: path, LogFileMaxSizeMB: 1}

		logger := cfg.NewLogger()
		require.NotNil(t, logger)
		logger.Debug("hello from test")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello from test")
	})
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}
