// Package telegram connects the watermark pipeline to the Telegram Bot API:
// the Client is the pipeline's transport, the Dispatcher turns incoming
// updates into jobs and the Dialog drives the settings menus.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/maauso/watermark-bot/internal/job"
	"github.com/maauso/watermark-bot/internal/media"
)

// Static errors for Telegram client operations.
var (
	// ErrDownloadStatus is returned when the file server answers with a non-200 status.
	ErrDownloadStatus = errors.New("telegram: unexpected download status")
	// ErrNoChat is returned when an update carries no chat to answer in.
	ErrNoChat = errors.New("telegram: update has no chat")
)

// defaultRetryAfter is used when a 429 carries no retry_after hint.
const defaultRetryAfter = 5 * time.Second

// Compile-time check that Client implements job.Transport.
var _ job.Transport = (*Client)(nil)

// BotAPI is the subset of *tgbotapi.BotAPI the package uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Client implements job.Transport on top of the Bot API.
type Client struct {
	bot        BotAPI
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for file downloads.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a Client for bot.
func NewClient(bot BotAPI, opts ...ClientOption) *Client {
	c := &Client{
		bot:        bot,
		httpClient: &http.Client{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "telegram"))
	return c
}

// Download streams the submission's file to dst. total is taken from the
// response Content-Length, falling back to the size Telegram announced.
// dst is removed when the transfer does not complete.
func (c *Client) Download(ctx context.Context, sub job.Submission, dst string, progress job.ProgressFunc) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	fileURL, err := c.bot.GetFileDirectURL(sub.FileID)
	if err != nil {
		return apiError("get file", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("telegram: create download request: %w", redact(err))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: download: %w", redact(err))
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &job.RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Err:        fmt.Errorf("%w: %d", ErrDownloadStatus, resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: %d", ErrDownloadStatus, resp.StatusCode)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = sub.SizeBytes
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("telegram: create %s: %w", dst, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("telegram: close %s: %w", dst, cerr)
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if _, err := io.Copy(f, newCountingReader(ctx, resp.Body, total, progress)); err != nil {
		return fmt.Errorf("telegram: download: %w", redact(err))
	}
	return nil
}

// Deliver uploads the watermarked file as a reply to the original message.
// The file is reopened on every call so a retried upload starts from the
// first byte.
func (c *Client) Deliver(ctx context.Context, sub job.Submission, d job.Delivery, progress job.ProgressFunc) error {
	f, err := os.Open(d.Path)
	if err != nil {
		return fmt.Errorf("telegram: open %s: %w", d.Path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("telegram: stat %s: %w", d.Path, err)
	}

	file := tgbotapi.FileReader{
		Name:   filepath.Base(d.Path),
		Reader: newCountingReader(ctx, f, info.Size(), progress),
	}

	var msg tgbotapi.Chattable
	switch sub.Kind {
	case media.KindVideo:
		v := tgbotapi.NewVideo(sub.ChatID, file)
		v.Caption = d.Caption
		v.ReplyToMessageID = sub.MessageID
		v.SupportsStreaming = true
		if d.ThumbnailPath != "" {
			v.Thumb = tgbotapi.FilePath(d.ThumbnailPath)
		}
		msg = v
	case media.KindImage:
		p := tgbotapi.NewPhoto(sub.ChatID, file)
		p.Caption = d.Caption
		p.ReplyToMessageID = sub.MessageID
		msg = p
	default:
		return fmt.Errorf("%w: %q", media.ErrUnsupportedKind, sub.Kind)
	}

	if _, err := c.send(ctx, msg); err != nil {
		return err
	}
	c.logger.Debug("delivered file",
		slog.Int64("chat_id", sub.ChatID),
		slog.String("kind", string(sub.Kind)),
		slog.Int64("size_bytes", info.Size()),
	)
	return nil
}

// Reply sends text as a reply to the submission's message.
func (c *Client) Reply(ctx context.Context, sub job.Submission, text string) error {
	msg := tgbotapi.NewMessage(sub.ChatID, text)
	msg.ReplyToMessageID = sub.MessageID
	_, err := c.send(ctx, msg)
	return err
}

// OpenStatus sends the status message that later progress edits target.
func (c *Client) OpenStatus(ctx context.Context, sub job.Submission, text string) (job.StatusMessage, error) {
	msg := tgbotapi.NewMessage(sub.ChatID, text)
	msg.ReplyToMessageID = sub.MessageID
	sent, err := c.send(ctx, msg)
	if err != nil {
		return nil, err
	}
	return &statusMessage{
		client:    c,
		chatID:    sub.ChatID,
		messageID: sent.MessageID,
		text:      text,
	}, nil
}

func (c *Client) send(ctx context.Context, msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := ctx.Err(); err != nil {
		return tgbotapi.Message{}, err
	}
	sent, err := c.bot.Send(msg)
	if err != nil {
		return tgbotapi.Message{}, apiError("send", err)
	}
	return sent, nil
}

func (c *Client) request(ctx context.Context, req tgbotapi.Chattable) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.Request(req); err != nil {
		return apiError("request", err)
	}
	return nil
}

// statusMessage is a job.StatusMessage backed by one chat message.
type statusMessage struct {
	client    *Client
	chatID    int64
	messageID int

	mu   sync.Mutex
	text string
}

// Update edits the message. Identical text is not sent again since the
// Bot API rejects edits that change nothing.
func (s *statusMessage) Update(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == s.text {
		return nil
	}
	if err := s.client.request(ctx, tgbotapi.NewEditMessageText(s.chatID, s.messageID, text)); err != nil {
		return err
	}
	s.text = text
	return nil
}

func (s *statusMessage) Delete(ctx context.Context) error {
	return s.client.request(ctx, tgbotapi.NewDeleteMessage(s.chatID, s.messageID))
}

// apiError wraps a Bot API failure, turning flood-control answers into a
// *job.RateLimitError.
func apiError(op string, err error) error {
	err = redact(err)
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && (tgErr.RetryAfter > 0 || tgErr.Code == http.StatusTooManyRequests) {
		retry := time.Duration(tgErr.RetryAfter) * time.Second
		if retry <= 0 {
			retry = defaultRetryAfter
		}
		return &job.RateLimitError{RetryAfter: retry, Err: fmt.Errorf("telegram: %s: %w", op, err)}
	}
	return fmt.Errorf("telegram: %s: %w", op, err)
}

// redact drops the request URL from transport errors: Bot API URLs embed
// the bot token.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}

func parseRetryAfter(v string) time.Duration {
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultRetryAfter
}

// countingReader reports bytes read and stops once ctx is done.
type countingReader struct {
	ctx      context.Context
	r        io.Reader
	total    int64
	read     int64
	progress job.ProgressFunc
}

func newCountingReader(ctx context.Context, r io.Reader, total int64, progress job.ProgressFunc) *countingReader {
	return &countingReader{ctx: ctx, r: r, total: total, progress: progress}
}

func (cr *countingReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.read += int64(n)
		if cr.progress != nil {
			cr.progress(cr.read, cr.total)
		}
	}
	return n, err
}
