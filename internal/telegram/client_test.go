package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/watermark-bot/internal/job"
	"github.com/maauso/watermark-bot/internal/media"
)

var videoSubmission = job.Submission{
	ChatID:    42,
	MessageID: 7,
	Kind:      media.KindVideo,
	FileID:    "file-1",
	UniqueID:  "AgADuniq1",
	SizeBytes: 12,
}

type progressCall struct {
	current, total int64
}

func recordProgress(calls *[]progressCall) job.ProgressFunc {
	return func(current, total int64) {
		*calls = append(*calls, progressCall{current, total})
	}
}

func TestClient_Download(t *testing.T) {
	payload := strings.Repeat("v", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/file/botTOKEN/videos/file_1.mp4", r.URL.Path)
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	bot := newFakeBot()
	bot.fileURL = srv.URL + "/file/botTOKEN/videos/file_1.mp4"
	client := NewClient(bot, WithLogger(discardLogger()))

	dst := filepath.Join(t.TempDir(), "input.mp4")
	var calls []progressCall
	require.NoError(t, client.Download(context.Background(), videoSubmission, dst, recordProgress(&calls)))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))

	require.NotEmpty(t, calls)
	last := calls[len(calls)-1]
	assert.Equal(t, int64(len(payload)), last.current)
	assert.Equal(t, int64(len(payload)), last.total)
}

func TestClient_Download_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	bot := newFakeBot()
	bot.fileURL = srv.URL
	client := NewClient(bot, WithLogger(discardLogger()))

	dst := filepath.Join(t.TempDir(), "input.mp4")
	err := client.Download(context.Background(), videoSubmission, dst, nil)
	require.ErrorIs(t, err, ErrDownloadStatus)
	assert.NoFileExists(t, dst)
}

func TestClient_Download_TooManyRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	bot := newFakeBot()
	bot.fileURL = srv.URL
	client := NewClient(bot, WithLogger(discardLogger()))

	err := client.Download(context.Background(), videoSubmission, filepath.Join(t.TempDir(), "in.mp4"), nil)
	var rl *job.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 3*time.Second, rl.RetryAfter)
}

func TestClient_Download_GetFileFloodControl(t *testing.T) {
	bot := newFakeBot()
	bot.fileErr = &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 7}}
	client := NewClient(bot, WithLogger(discardLogger()))

	err := client.Download(context.Background(), videoSubmission, filepath.Join(t.TempDir(), "in.mp4"), nil)
	var rl *job.RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 7*time.Second, rl.RetryAfter)
}

func TestClient_Download_CancelledMidTransfer(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		_, _ = w.Write([]byte(strings.Repeat("x", 1000)))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	bot := newFakeBot()
	bot.fileURL = srv.URL
	client := NewClient(bot, WithLogger(discardLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	dst := filepath.Join(t.TempDir(), "in.mp4")
	err := client.Download(ctx, videoSubmission, dst, func(current, total int64) {
		if current >= 1000 {
			cancel()
		}
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, dst)
}

func TestClient_Deliver_Video(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "output_AgADuniq1.mp4")
	thumb := filepath.Join(dir, "thumb_AgADuniq1.jpg")
	require.NoError(t, os.WriteFile(out, []byte("watermarked-video"), 0o600))
	require.NoError(t, os.WriteFile(thumb, []byte("jpeg"), 0o600))

	bot := newFakeBot()
	client := NewClient(bot, WithLogger(discardLogger()))

	var calls []progressCall
	err := client.Deliver(context.Background(), videoSubmission, job.Delivery{
		Path:          out,
		ThumbnailPath: thumb,
		Caption:       "Here's your watermarked video!",
	}, recordProgress(&calls))
	require.NoError(t, err)

	sent := bot.sentMessages()
	require.Len(t, sent, 1)
	v, ok := sent[0].(tgbotapi.VideoConfig)
	require.True(t, ok, "expected a video upload, got %T", sent[0])
	assert.Equal(t, int64(42), v.ChatID)
	assert.Equal(t, 7, v.ReplyToMessageID)
	assert.Equal(t, "Here's your watermarked video!", v.Caption)
	assert.True(t, v.SupportsStreaming)
	assert.Equal(t, tgbotapi.FilePath(thumb), v.Thumb)

	assert.Equal(t, "watermarked-video", string(bot.uploaded["output_AgADuniq1.mp4"]))
	require.NotEmpty(t, calls)
	assert.Equal(t, progressCall{17, 17}, calls[len(calls)-1])
}

func TestClient_Deliver_ImageWithoutThumbnail(t *testing.T) {
	out := filepath.Join(t.TempDir(), "output_x.jpg")
	require.NoError(t, os.WriteFile(out, []byte("jpeg"), 0o600))

	bot := newFakeBot()
	client := NewClient(bot, WithLogger(discardLogger()))

	sub := videoSubmission
	sub.Kind = media.KindImage
	require.NoError(t, client.Deliver(context.Background(), sub, job.Delivery{Path: out, Caption: "c"}, nil))

	sent := bot.sentMessages()
	require.Len(t, sent, 1)
	p, ok := sent[0].(tgbotapi.PhotoConfig)
	require.True(t, ok, "expected a photo upload, got %T", sent[0])
	assert.Nil(t, p.Thumb)
	assert.Equal(t, "c", p.Caption)
}

func TestClient_Deliver_MissingFile(t *testing.T) {
	client := NewClient(newFakeBot(), WithLogger(discardLogger()))
	err := client.Deliver(context.Background(), videoSubmission, job.Delivery{Path: "/nonexistent/out.mp4"}, nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantRetry time.Duration
	}{
		{"retry_after hint", &tgbotapi.Error{Code: 429, ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 11}}, 11 * time.Second},
		{"429 without hint", &tgbotapi.Error{Code: 429}, defaultRetryAfter},
		{"bad request", &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot := newFakeBot()
			bot.sendErr = tt.err
			client := NewClient(bot, WithLogger(discardLogger()))

			err := client.Reply(context.Background(), videoSubmission, "hello")
			require.Error(t, err)

			var rl *job.RateLimitError
			if tt.wantRetry == 0 {
				assert.False(t, errors.As(err, &rl), "unexpected rate limit error: %v", err)
				return
			}
			require.ErrorAs(t, err, &rl)
			assert.Equal(t, tt.wantRetry, rl.RetryAfter)
		})
	}
}

func TestClient_RedactsToken(t *testing.T) {
	bot := newFakeBot()
	bot.sendErr = &url.Error{Op: "Post", URL: "https://api.telegram.org/botSECRET-TOKEN/sendMessage", Err: errors.New("connection refused")}
	client := NewClient(bot, WithLogger(discardLogger()))

	err := client.Reply(context.Background(), videoSubmission, "hello")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "SECRET-TOKEN")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestClient_StatusMessage(t *testing.T) {
	bot := newFakeBot()
	client := NewClient(bot, WithLogger(discardLogger()))
	ctx := context.Background()

	status, err := client.OpenStatus(ctx, videoSubmission, "Downloading video...")
	require.NoError(t, err)
	assert.Equal(t, "Downloading video...", bot.lastText())

	require.NoError(t, status.Update(ctx, "Downloading video..."))
	assert.Empty(t, bot.sentRequests(), "unchanged text must not be re-sent")

	require.NoError(t, status.Update(ctx, "Adding watermark to video..."))
	require.NoError(t, status.Delete(ctx))

	reqs := bot.sentRequests()
	require.Len(t, reqs, 2)
	edit, ok := reqs[0].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, 101, edit.MessageID)
	assert.Equal(t, "Adding watermark to video...", edit.Text)
	del, ok := reqs[1].(tgbotapi.DeleteMessageConfig)
	require.True(t, ok)
	assert.Equal(t, 101, del.MessageID)
}

func TestClient_CancelledContextSkipsCall(t *testing.T) {
	bot := newFakeBot()
	client := NewClient(bot, WithLogger(discardLogger()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Reply(ctx, videoSubmission, "hello")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, bot.sentMessages())
}
