package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/maauso/watermark-bot/internal/job"
	"github.com/maauso/watermark-bot/internal/media"
)

// pollTimeout is the long-polling timeout in seconds.
const pollTimeout = 30

// Runner processes one submission. *job.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, sub job.Submission) *job.Job
}

// Dispatcher reads updates and routes them: media messages start a job in
// their own goroutine, commands, menu callbacks and prompt replies go to the
// Dialog.
type Dispatcher struct {
	bot    BotAPI
	runner Runner
	dialog *Dialog
	logger *slog.Logger

	wg         sync.WaitGroup
	stopOnce   sync.Once
	jobCtx     context.Context
	cancelJobs context.CancelFunc
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(client *Client, runner Runner, dialog *Dialog, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	jobCtx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		bot:        client.bot,
		runner:     runner,
		dialog:     dialog,
		logger:     logger.With(slog.String("component", "dispatcher")),
		jobCtx:     jobCtx,
		cancelJobs: cancel,
	}
}

// Run polls for updates until ctx is done or the update channel closes.
// Jobs already started keep running; call Shutdown to wait for them.
func (d *Dispatcher) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := d.bot.GetUpdatesChan(u)
	d.logger.Info("polling for updates")

	for {
		select {
		case <-ctx.Done():
			d.stopPolling()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			d.HandleUpdate(ctx, upd)
		}
	}
}

// Shutdown stops polling and waits for running jobs. When ctx expires
// first the jobs are cancelled, which still lets them clean up and report.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.stopPolling()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelJobs()
		return nil
	case <-ctx.Done():
		d.logger.Warn("shutdown deadline reached, cancelling running jobs")
		d.cancelJobs()
		<-done
		return fmt.Errorf("telegram: shutdown: %w", ctx.Err())
	}
}

// HandleUpdate routes a single update.
func (d *Dispatcher) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	switch {
	case upd.CallbackQuery != nil:
		if err := d.dialog.HandleCallback(ctx, upd.CallbackQuery); err != nil {
			d.logger.Warn("callback failed",
				slog.String("data", upd.CallbackQuery.Data),
				slog.String("error", err.Error()),
			)
		}
	case upd.Message != nil:
		d.onMessage(ctx, upd.Message)
	}
}

func (d *Dispatcher) onMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.Chat == nil {
		return
	}
	log := d.logger.With(slog.Int64("chat_id", m.Chat.ID), slog.Int("message_id", m.MessageID))

	if m.IsCommand() {
		log.Info("command received", slog.String("command", m.Command()))
		if err := d.dialog.HandleCommand(ctx, m); err != nil {
			log.Warn("command failed", slog.String("error", err.Error()))
		}
		return
	}

	if sub, ok := SubmissionFrom(m); ok {
		log.Info("media received",
			slog.String("kind", string(sub.Kind)),
			slog.Int64("size_bytes", sub.SizeBytes),
		)
		d.start(sub)
		return
	}

	handled, err := d.dialog.HandleReply(ctx, m)
	if err != nil {
		log.Warn("settings reply failed", slog.String("error", err.Error()))
	}
	if !handled {
		log.Debug("ignoring message")
	}
}

// start runs the submission in its own goroutine. A panicking job is logged
// and does not take the dispatcher down.
func (d *Dispatcher) start(sub job.Submission) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("job panicked",
					slog.String("unique_id", sub.UniqueID),
					slog.Any("panic", r),
				)
			}
		}()
		d.runner.Run(d.jobCtx, sub)
	}()
}

func (d *Dispatcher) stopPolling() {
	d.stopOnce.Do(d.bot.StopReceivingUpdates)
}

// SubmissionFrom extracts the media of m. Videos, the largest photo size
// and documents with a video or image MIME type are accepted.
func SubmissionFrom(m *tgbotapi.Message) (job.Submission, bool) {
	if m == nil || m.Chat == nil {
		return job.Submission{}, false
	}
	sub := job.Submission{ChatID: m.Chat.ID, MessageID: m.MessageID}

	switch {
	case m.Video != nil:
		sub.Kind = media.KindVideo
		sub.FileID = m.Video.FileID
		sub.UniqueID = m.Video.FileUniqueID
		sub.SizeBytes = int64(m.Video.FileSize)
		sub.FileName = m.Video.FileName
	case len(m.Photo) > 0:
		p := m.Photo[len(m.Photo)-1]
		sub.Kind = media.KindImage
		sub.FileID = p.FileID
		sub.UniqueID = p.FileUniqueID
		sub.SizeBytes = int64(p.FileSize)
	case m.Document != nil:
		mime := strings.ToLower(m.Document.MimeType)
		switch {
		case strings.HasPrefix(mime, "video/"):
			sub.Kind = media.KindVideo
		case strings.HasPrefix(mime, "image/"):
			sub.Kind = media.KindImage
		default:
			return job.Submission{}, false
		}
		sub.FileID = m.Document.FileID
		sub.UniqueID = m.Document.FileUniqueID
		sub.SizeBytes = int64(m.Document.FileSize)
		sub.FileName = m.Document.FileName
	default:
		return job.Submission{}, false
	}
	return sub, true
}
