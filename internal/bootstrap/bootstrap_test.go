package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/watermark-bot/internal/config"
	"github.com/maauso/watermark-bot/internal/settings"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTelegram answers getMe like the Bot API does.
func fakeTelegram(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Watermark","username":"watermark_test_bot"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		BotToken:            "123:abc",
		APIEndpoint:         endpoint + "/bot%s/%s",
		TempDir:             filepath.Join(dir, "tmp"),
		SettingsFile:        filepath.Join(dir, "watermark_settings.json"),
		MaxFileSizeMB:       100,
		WatermarkText:       "Your Text",
		FontSize:            24,
		FontColor:           "white",
		Position:            "bottom_right",
		FontFile:            "arial.ttf",
		FFmpegPath:          "ffmpeg",
		FFprobePath:         "ffprobe",
		ThumbnailOffset:     time.Second,
		StageTimeout:        time.Minute,
		RateLimitMaxRetries: 3,
		ProgressInterval:    2 * time.Second,
		JobHistory:          10,
	}
}

func TestNewDependencies(t *testing.T) {
	srv := fakeTelegram(t)
	cfg := testConfig(t, srv.URL)
	cfg.HTTPPort = 18080

	require.NoError(t, os.MkdirAll(cfg.TempDir, 0o750))
	leftover := filepath.Join(cfg.TempDir, "input_old.mp4")
	require.NoError(t, os.WriteFile(leftover, []byte("stale"), 0o600))

	deps, err := NewDependencies(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	assert.NotNil(t, deps.Pipeline)
	assert.NotNil(t, deps.Dispatcher)
	assert.NotNil(t, deps.Registry)
	require.NotNil(t, deps.HTTPServer)
	assert.Equal(t, ":18080", deps.HTTPServer.Addr)
	assert.Equal(t, DefaultSettings(cfg), deps.Settings.Snapshot())
	assert.NoFileExists(t, leftover, "startup sweep must clear leftovers")
}

func TestNewDependencies_WithoutHTTP(t *testing.T) {
	srv := fakeTelegram(t)
	cfg := testConfig(t, srv.URL)

	deps, err := NewDependencies(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	assert.Nil(t, deps.HTTPServer)
}

func TestNewDependencies_SingleInstance(t *testing.T) {
	srv := fakeTelegram(t)
	cfg := testConfig(t, srv.URL)

	first, err := NewDependencies(context.Background(), cfg, discardLogger())
	require.NoError(t, err)

	_, err = NewDependencies(context.Background(), cfg, discardLogger())
	require.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, first.Close())
	second, err := NewDependencies(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestNewDependencies_SharedTempDir(t *testing.T) {
	srv := fakeTelegram(t)
	cfg := testConfig(t, srv.URL)
	cfg.TempDir = filepath.Dir(cfg.SettingsFile)

	require.NoError(t, os.WriteFile(cfg.SettingsFile, []byte(`{"text":"kept"}`), 0o600))
	envFile := filepath.Join(cfg.TempDir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("FONT_SIZE=30\n"), 0o600))

	deps, err := NewDependencies(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	assert.FileExists(t, cfg.SettingsFile)
	assert.FileExists(t, envFile)
	assert.FileExists(t, cfg.SettingsFile+".lock")
	assert.Equal(t, "kept", deps.Settings.Snapshot().Text)

	_, err = NewDependencies(context.Background(), cfg, discardLogger())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestNewDependencies_Errors(t *testing.T) {
	srv := fakeTelegram(t)

	t.Run("missing token", func(t *testing.T) {
		cfg := testConfig(t, srv.URL)
		cfg.BotToken = ""
		_, err := NewDependencies(context.Background(), cfg, discardLogger())
		assert.ErrorIs(t, err, config.ErrBotTokenRequired)
	})

	t.Run("invalid default position releases the lock", func(t *testing.T) {
		cfg := testConfig(t, srv.URL)
		cfg.Position = "middle"
		_, err := NewDependencies(context.Background(), cfg, discardLogger())
		require.ErrorIs(t, err, settings.ErrInvalidSettings)

		lock, err := AcquireLock(cfg)
		require.NoError(t, err)
		require.NoError(t, lock.Unlock())
	})

	t.Run("telegram rejects token", func(t *testing.T) {
		unauthorized := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":401,"description":"Unauthorized"}`))
		}))
		defer unauthorized.Close()

		cfg := testConfig(t, unauthorized.URL)
		_, err := NewDependencies(context.Background(), cfg, discardLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Unauthorized")
	})
}

func TestNewSettingsStore_UsesConfiguredDefaults(t *testing.T) {
	cfg := testConfig(t, "http://unused")
	cfg.WatermarkText = "@channel"
	cfg.FontSize = 40
	cfg.Position = "center"

	store, err := NewSettingsStore(cfg, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, settings.WatermarkSettings{
		Text:      "@channel",
		FontSize:  40,
		FontColor: "white",
		Position:  settings.PositionCenter,
	}, store.Snapshot())
}
