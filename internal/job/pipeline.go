package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/maauso/watermark-bot/internal/media"
	"github.com/maauso/watermark-bot/internal/progress"
	"github.com/maauso/watermark-bot/internal/settings"
	"github.com/maauso/watermark-bot/internal/storage"
)

// Pipeline defaults.
const (
	DefaultMaxFileSize      = 100 * 1024 * 1024
	DefaultStageTimeout     = 10 * time.Minute
	DefaultRateLimitRetries = 3
)

// cleanupTimeout bounds the detached context used for cleanup and failure
// reporting after the job context is gone.
const cleanupTimeout = 30 * time.Second

// SettingsSource provides the per-job settings snapshot.
type SettingsSource interface {
	Snapshot() settings.WatermarkSettings
}

// Pipeline runs watermark jobs. One Pipeline serves every submission; each
// Run call owns its own Job.
type Pipeline struct {
	transport Transport
	encoder   media.Encoder
	storage   storage.Storage
	settings  SettingsSource
	repo      Repository
	metrics   *Metrics
	logger    *slog.Logger

	maxFileSize      int64
	stageTimeout     time.Duration
	thumbnailOffset  time.Duration
	rateLimitRetries int
	progressInterval time.Duration
	archive          bool
	wait             func(ctx context.Context, d time.Duration) error

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMaxFileSize sets the submission size limit in bytes. Zero disables it.
func WithMaxFileSize(n int64) Option {
	return func(p *Pipeline) {
		p.maxFileSize = n
	}
}

// WithStageTimeout bounds download, thumbnail, encode and upload
// individually. Zero disables the timeout.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.stageTimeout = d
	}
}

// WithThumbnailOffset sets where the preview frame is taken.
func WithThumbnailOffset(d time.Duration) Option {
	return func(p *Pipeline) {
		p.thumbnailOffset = d
	}
}

// WithRateLimitRetries caps how many flood-control waits one stage honours.
func WithRateLimitRetries(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.rateLimitRetries = n
		}
	}
}

// WithProgressInterval sets the minimum time between progress edits.
func WithProgressInterval(d time.Duration) Option {
	return func(p *Pipeline) {
		p.progressInterval = d
	}
}

// WithArchive enables archiving every delivered output through storage.
func WithArchive(enabled bool) Option {
	return func(p *Pipeline) {
		p.archive = enabled
	}
}

// WithRepository records job snapshots in repo.
func WithRepository(repo Repository) Option {
	return func(p *Pipeline) {
		p.repo = repo
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline creates a Pipeline.
func NewPipeline(transport Transport, encoder media.Encoder, store storage.Storage, source SettingsSource, opts ...Option) *Pipeline {
	p := &Pipeline{
		transport:        transport,
		encoder:          encoder,
		storage:          store,
		settings:         source,
		logger:           slog.Default(),
		maxFileSize:      DefaultMaxFileSize,
		stageTimeout:     DefaultStageTimeout,
		thumbnailOffset:  media.DefaultThumbnailOffset,
		rateLimitRetries: DefaultRateLimitRetries,
		progressInterval: progress.DefaultInterval,
		wait:             sleepContext,
		inFlight:         make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "pipeline"))
	return p
}

// Run processes one submission to a terminal state and returns the job.
// It never returns an error: failures are recorded on the job and reported
// to the requester. Temp files are removed on every exit path.
func (p *Pipeline) Run(ctx context.Context, sub Submission) *Job {
	j := New(sub)
	log := p.logger.With(
		slog.String("job_id", j.ID),
		slog.String("kind", string(sub.Kind)),
		slog.String("unique_id", sub.UniqueID),
		slog.Int64("chat_id", sub.ChatID),
	)
	p.save(ctx, j)

	if p.maxFileSize > 0 && sub.SizeBytes > p.maxFileSize {
		p.reject(ctx, j, log, &SizeLimitError{SizeBytes: sub.SizeBytes, MaxBytes: p.maxFileSize})
		return j
	}
	// Keyed like the temp paths, so IDs that sanitize alike cannot share files.
	slot := storage.SanitizeID(sub.UniqueID)
	if !p.acquire(slot) {
		p.reject(ctx, j, log, ErrAlreadyProcessing)
		return j
	}
	defer p.release(slot)

	p.metrics.jobStarted()
	log.Info("job started", slog.Int64("size_bytes", sub.SizeBytes))

	ext := sub.Kind.Extension()
	j.SetPaths(
		p.storage.TempPath(storage.PrefixInput, sub.UniqueID, ext),
		p.storage.TempPath(storage.PrefixOutput, sub.UniqueID, ext),
		p.storage.TempPath(storage.PrefixThumb, sub.UniqueID, "jpg"),
	)

	cleaned := false
	defer func() {
		if !cleaned {
			p.cleanup(ctx, j, log)
		}
	}()

	status, hasStatus := p.openStatus(ctx, j, log)

	if err := p.process(ctx, j, status, log); err != nil {
		_ = j.Fail(err)
		p.save(ctx, j)
		p.metrics.jobFinished(string(sub.Kind), OutcomeFailed)
		log.Error("job failed",
			slog.String("state", string(stageOf(err))),
			slog.String("error", err.Error()),
		)
		p.reportFailure(ctx, j, status, hasStatus, log)
		return j
	}

	_ = j.TransitionTo(StateCleaningUp)
	p.save(ctx, j)
	p.cleanup(ctx, j, log)
	cleaned = true

	_ = j.TransitionTo(StateDone)
	p.save(ctx, j)
	p.metrics.jobFinished(string(sub.Kind), OutcomeDone)

	if hasStatus {
		if err := p.withRetry(ctx, status.Delete); err != nil {
			log.Debug("failed to delete status message", slog.String("error", err.Error()))
		}
	}
	log.Info("job completed", slog.Duration("duration", time.Since(j.CreatedAt)))
	return j
}

// process runs the stages from DOWNLOADING through UPLOADING.
func (p *Pipeline) process(ctx context.Context, j *Job, status StatusMessage, log *slog.Logger) error {
	sub := j.Submission
	kind := sub.Kind

	download := p.newTracker(status, "Downloading", log)
	if err := p.runStage(ctx, j, StateDownloading, func(ctx context.Context) error {
		return p.transport.Download(ctx, sub, j.InputPath, func(current, total int64) {
			download.Report(ctx, current, total)
		})
	}); err != nil {
		return &StageError{Stage: StateDownloading, Err: &TransferError{Category: ErrDownloadFailed, Err: err}}
	}
	if err := p.checkDownloaded(j.InputPath); err != nil {
		return &StageError{Stage: StateDownloading, Err: err}
	}

	if kind == media.KindVideo {
		p.notify(ctx, status, "Generating thumbnail...", log)
		_ = p.runStage(ctx, j, StateExtractingThumbnail, func(ctx context.Context) error {
			_, ok := p.encoder.ExtractThumbnail(ctx, j.InputPath, j.ThumbnailPath, p.thumbnailOffset)
			j.setThumbnail(ok)
			if !ok {
				log.Warn("continuing without thumbnail")
			}
			return nil
		})
	}

	p.notify(ctx, status, fmt.Sprintf("Adding watermark to %s...", kind), log)
	if err := p.runStage(ctx, j, StateEncoding, func(ctx context.Context) error {
		snap := p.settings.Snapshot()
		j.setSettings(snap)
		return p.encoder.Watermark(ctx, j.InputPath, j.OutputPath, kind, snap)
	}); err != nil {
		return &StageError{Stage: StateEncoding, Err: &EncodingError{Kind: kind, Err: err}}
	}

	p.notify(ctx, status, fmt.Sprintf("Uploading watermarked %s...", kind), log)
	delivery := Delivery{Path: j.OutputPath, Caption: caption(kind)}
	if snap := j.Clone(); snap.HasThumbnail {
		delivery.ThumbnailPath = snap.ThumbnailPath
	}
	upload := p.newTracker(status, "Uploading", log)
	if err := p.runStage(ctx, j, StateUploading, func(ctx context.Context) error {
		return p.transport.Deliver(ctx, sub, delivery, func(current, total int64) {
			upload.Report(ctx, current, total)
		})
	}); err != nil {
		return &StageError{Stage: StateUploading, Err: &TransferError{Category: ErrUploadFailed, Err: err}}
	}

	if p.archive {
		p.archiveOutput(ctx, j, log)
	}
	return nil
}

// runStage moves j into state and runs fn under the stage timeout, waiting
// out flood-control signals between attempts.
func (p *Pipeline) runStage(ctx context.Context, j *Job, state State, fn func(context.Context) error) error {
	if err := j.TransitionTo(state); err != nil {
		return err
	}
	p.save(ctx, j)

	start := time.Now()
	defer func() { p.metrics.observeStage(state, time.Since(start)) }()

	return p.withRetry(ctx, func(ctx context.Context) error {
		if p.stageTimeout <= 0 {
			return fn(ctx)
		}
		sctx, cancel := context.WithTimeout(ctx, p.stageTimeout)
		defer cancel()
		return fn(sctx)
	})
}

// withRetry calls fn until it returns something other than a
// *RateLimitError, waiting the signalled duration in between. After
// rateLimitRetries waits the error is wrapped in ErrRateLimited.
func (p *Pipeline) withRetry(ctx context.Context, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		var rl *RateLimitError
		if !errors.As(err, &rl) {
			return err
		}
		if attempt >= p.rateLimitRetries {
			return fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		p.metrics.rateLimited()
		p.logger.Warn("rate limited, waiting before retry",
			slog.Duration("retry_after", rl.RetryAfter),
			slog.Int("attempt", attempt+1),
		)
		if werr := p.wait(ctx, rl.RetryAfter); werr != nil {
			return fmt.Errorf("%w: %w", ErrRateLimited, werr)
		}
	}
}

func (p *Pipeline) checkDownloaded(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &TransferError{Category: ErrDownloadFailed, Err: err}
	}
	if info.Size() == 0 {
		return &TransferError{Category: ErrDownloadFailed, Err: errors.New("downloaded file is empty")}
	}
	if p.maxFileSize > 0 && info.Size() > p.maxFileSize {
		return &SizeLimitError{SizeBytes: info.Size(), MaxBytes: p.maxFileSize}
	}
	return nil
}

// reject fails j before any temp file is allocated.
func (p *Pipeline) reject(ctx context.Context, j *Job, log *slog.Logger, err error) {
	_ = j.Fail(&StageError{Stage: StateReceived, Err: err})
	p.save(ctx, j)
	p.metrics.jobRejected(string(j.Submission.Kind))
	log.Warn("submission rejected", slog.String("error", err.Error()))

	rctx, cancel := detached(ctx)
	defer cancel()
	if rerr := p.withRetry(rctx, func(ctx context.Context) error {
		return p.transport.Reply(ctx, j.Submission, j.Error)
	}); rerr != nil {
		log.Warn("failed to notify requester", slog.String("error", rerr.Error()))
	}
}

func (p *Pipeline) openStatus(ctx context.Context, j *Job, log *slog.Logger) (StatusMessage, bool) {
	var status StatusMessage
	err := p.withRetry(ctx, func(ctx context.Context) error {
		var err error
		status, err = p.transport.OpenStatus(ctx, j.Submission, fmt.Sprintf("Downloading %s...", j.Submission.Kind))
		return err
	})
	if err != nil || status == nil {
		if err != nil {
			log.Warn("failed to open status message", slog.String("error", err.Error()))
		}
		return noStatus{}, false
	}
	return status, true
}

// notify edits the status message. Failures are logged and ignored.
func (p *Pipeline) notify(ctx context.Context, status StatusMessage, text string, log *slog.Logger) {
	if err := status.Update(ctx, text); err != nil {
		log.Debug("status update failed", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) reportFailure(ctx context.Context, j *Job, status StatusMessage, hasStatus bool, log *slog.Logger) {
	rctx, cancel := detached(ctx)
	defer cancel()

	err := p.withRetry(rctx, func(ctx context.Context) error {
		if hasStatus {
			return status.Update(ctx, j.Error)
		}
		return p.transport.Reply(ctx, j.Submission, j.Error)
	})
	if err != nil {
		log.Warn("failed to notify requester", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) newTracker(status StatusMessage, stage string, log *slog.Logger) *progress.Tracker {
	return progress.NewTracker(status, stage,
		progress.WithInterval(p.progressInterval),
		progress.WithLogger(log),
	)
}

func (p *Pipeline) archiveOutput(ctx context.Context, j *Job, log *slog.Logger) {
	f, err := os.Open(j.OutputPath)
	if err != nil {
		log.Warn("archive skipped", slog.String("error", err.Error()))
		return
	}
	defer func() { _ = f.Close() }()

	key := fmt.Sprintf("outputs/%s.%s", j.ID, j.Submission.Kind.Extension())
	url, err := p.storage.Archive(ctx, key, f)
	if err != nil {
		log.Warn("archive failed", slog.String("key", key), slog.String("error", err.Error()))
		return
	}
	j.setArchiveURL(url)
	log.Info("output archived", slog.String("url", url))
}

// cleanup removes every temp file of j. Errors are logged only.
func (p *Pipeline) cleanup(ctx context.Context, j *Job, log *slog.Logger) {
	cctx, cancel := detached(ctx)
	defer cancel()

	if err := p.storage.CleanupTemp(cctx, j.TempPaths()); err != nil {
		log.Warn("cleanup incomplete", slog.String("error", err.Error()))
	}
}

func (p *Pipeline) save(ctx context.Context, j *Job) {
	if p.repo == nil {
		return
	}
	if err := p.repo.Save(ctx, j); err != nil {
		p.logger.Warn("failed to save job",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pipeline) acquire(uniqueID string) bool {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	if _, busy := p.inFlight[uniqueID]; busy {
		return false
	}
	p.inFlight[uniqueID] = struct{}{}
	return true
}

func (p *Pipeline) release(uniqueID string) {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	delete(p.inFlight, uniqueID)
}

func caption(kind media.Kind) string {
	return fmt.Sprintf("Here's your watermarked %s!", kind)
}

func stageOf(err error) State {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// detached returns a context that survives cancellation of ctx, bounded by
// cleanupTimeout.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// noStatus stands in when the status message could not be sent.
type noStatus struct{}

func (noStatus) Update(context.Context, string) error { return nil }
func (noStatus) Delete(context.Context) error         { return nil }
