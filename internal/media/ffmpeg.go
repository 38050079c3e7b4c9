package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/maauso/watermark-bot/internal/settings"
)

// Static errors for media operations.
var (
	// ErrEmptyOutput is returned when ffmpeg exits successfully but leaves no
	// usable output file behind.
	ErrEmptyOutput = errors.New("ffmpeg produced no output")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrUnsupportedKind is returned for a media kind the encoder cannot handle.
	ErrUnsupportedKind = errors.New("unsupported media kind")
)

// DefaultThumbnailOffset is the position of the preview frame.
const DefaultThumbnailOffset = time.Second

// FFmpegEncoder implements Encoder using the ffmpeg CLI.
type FFmpegEncoder struct {
	ffmpegPath  string
	ffprobePath string
	fontFile    string
	logger      *slog.Logger
}

// EncoderOption configures an FFmpegEncoder.
type EncoderOption func(*FFmpegEncoder)

// WithFFmpegPath sets the ffmpeg binary. Defaults to "ffmpeg" (found via PATH).
func WithFFmpegPath(path string) EncoderOption {
	return func(e *FFmpegEncoder) {
		if path != "" {
			e.ffmpegPath = path
		}
	}
}

// WithFFprobePath sets the ffprobe binary. Defaults to "ffprobe".
func WithFFprobePath(path string) EncoderOption {
	return func(e *FFmpegEncoder) {
		if path != "" {
			e.ffprobePath = path
		}
	}
}

// WithFontFile sets the TrueType font used by drawtext.
func WithFontFile(path string) EncoderOption {
	return func(e *FFmpegEncoder) {
		e.fontFile = path
	}
}

// WithLogger sets the logger for ffmpeg diagnostics.
func WithLogger(logger *slog.Logger) EncoderOption {
	return func(e *FFmpegEncoder) {
		e.logger = logger
	}
}

// NewFFmpegEncoder creates a new FFmpegEncoder.
func NewFFmpegEncoder(opts ...EncoderOption) *FFmpegEncoder {
	e := &FFmpegEncoder{
		ffmpegPath:  "ffmpeg",
		ffprobePath: "ffprobe",
		fontFile:    "arial.ttf",
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "ffmpeg"))
	return e
}

// Watermark draws the overlay onto inputPath and writes outputPath.
//
// The run only counts as successful when ffmpeg exits 0 and outputPath
// exists with a non-zero size. Any stale outputPath is removed first.
func (e *FFmpegEncoder) Watermark(ctx context.Context, inputPath, outputPath string, kind Kind, s settings.WatermarkSettings) error {
	filter := BuildFilter(s, e.fontFile)

	var args []string
	switch kind {
	case KindVideo:
		args = []string{
			"-y",
			"-i", inputPath,
			"-vf", filter,
			"-c:v", "libx264",
			"-preset", "fast",
			"-crf", "18",
			"-c:a", "copy",
			outputPath,
		}
	case KindImage:
		args = []string{
			"-y",
			"-i", inputPath,
			"-vf", filter,
			"-frames:v", "1",
			outputPath,
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedKind, kind)
	}

	if err := removeStale(outputPath); err != nil {
		return err
	}

	if err := e.runFFmpeg(ctx, args); err != nil {
		var ffErr *FFmpegError
		if errors.As(err, &ffErr) {
			e.logger.Error("watermark encode failed",
				slog.String("kind", string(kind)),
				slog.String("input", inputPath),
				slog.String("stderr", lastLines(ffErr.Stderr, 20)),
			)
		}
		return err
	}

	if err := checkOutput(outputPath); err != nil {
		e.logger.Error("watermark encode produced no output",
			slog.String("kind", string(kind)),
			slog.String("output", outputPath),
		)
		return err
	}
	return nil
}

// ExtractThumbnail writes a single frame at offset at, fitted to the
// thumbnail bounds. Clips shorter than at are sampled at 0.
func (e *FFmpegEncoder) ExtractThumbnail(ctx context.Context, inputPath, outputPath string, at time.Duration) (string, bool) {
	if at < 0 {
		at = 0
	}
	if at > 0 {
		duration, err := e.probeDuration(ctx, inputPath)
		if err != nil {
			e.logger.Debug("duration probe failed, keeping thumbnail offset",
				slog.String("input", inputPath),
				slog.String("error", err.Error()),
			)
		} else if duration < at {
			at = 0
		}
	}

	if err := removeStale(outputPath); err != nil {
		e.logger.Warn("thumbnail extraction skipped", slog.String("error", err.Error()))
		return "", false
	}

	args := []string{
		"-y",
		"-ss", formatTimestamp(at),
		"-i", inputPath,
		"-frames:v", "1",
		outputPath,
	}
	if err := e.runFFmpeg(ctx, args); err != nil {
		attrs := []any{slog.String("input", inputPath), slog.String("error", err.Error())}
		var ffErr *FFmpegError
		if errors.As(err, &ffErr) {
			attrs = append(attrs, slog.String("stderr", lastLines(ffErr.Stderr, 10)))
		}
		e.logger.Warn("thumbnail extraction failed", attrs...)
		return "", false
	}

	if err := checkOutput(outputPath); err != nil {
		e.logger.Warn("thumbnail extraction produced no frame", slog.String("input", inputPath))
		return "", false
	}

	if err := FitThumbnail(outputPath); err != nil {
		e.logger.Warn("thumbnail resize failed", slog.String("error", err.Error()))
		_ = os.Remove(outputPath)
		return "", false
	}
	return outputPath, true
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (e *FFmpegEncoder) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

// probeDuration returns the container duration reported by ffprobe.
func (e *FFmpegEncoder) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	var seconds float64
	if _, err := fmt.Sscanf(strings.TrimSpace(stdout.String()), "%f", &seconds); err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

func removeStale(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale output: %w", err)
	}
	return nil
}

func checkOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEmptyOutput, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: %s is empty", ErrEmptyOutput, path)
	}
	return nil
}

// formatTimestamp renders d as HH:MM:SS.mmm for -ss.
func formatTimestamp(d time.Duration) string {
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	ms := int(d % time.Second / time.Millisecond)
	if ms == 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
