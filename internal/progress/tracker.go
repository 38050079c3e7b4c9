// Package progress turns byte counters from transfers into throttled status
// message edits.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

// DefaultInterval is the minimum time between two status edits.
const DefaultInterval = 2 * time.Second

// Sink receives rendered progress text, typically a chat status message.
type Sink interface {
	Update(ctx context.Context, text string) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, text string) error

// Update calls f.
func (f SinkFunc) Update(ctx context.Context, text string) error {
	return f(ctx, text)
}

// Tracker reports transfer progress for one stage of one job. It is safe
// for concurrent use.
type Tracker struct {
	sink    Sink
	logger  *slog.Logger
	limiter *rate.Limiter
	bytes   bool

	mu          sync.Mutex
	stage       string
	lastPercent int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithInterval sets the minimum time between two edits. Zero disables
// throttling.
func WithInterval(d time.Duration) Option {
	return func(t *Tracker) {
		if d <= 0 {
			t.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		t.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithLogger sets the logger used for swallowed sink errors.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithByteCounts appends "(current / total)" in human-readable units.
func WithByteCounts(enabled bool) Option {
	return func(t *Tracker) {
		t.bytes = enabled
	}
}

// NewTracker creates a Tracker for stage, e.g. "Downloading".
func NewTracker(sink Sink, stage string, opts ...Option) *Tracker {
	t := &Tracker{
		sink:        sink,
		logger:      slog.Default(),
		limiter:     rate.NewLimiter(rate.Every(DefaultInterval), 1),
		bytes:       true,
		stage:       stage,
		lastPercent: -1,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Report records that current of total bytes have been transferred.
func (t *Tracker) Report(ctx context.Context, current, total int64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	stage := t.stage
	t.mu.Unlock()
	t.ReportStage(ctx, current, total, stage)
}

// ReportStage is Report with an explicit stage label. A new label resets
// the deduplication state.
//
// An edit is sent only when the integer percentage changed and the rate
// limiter allows it; 100% is never throttled. Sink errors are logged at
// debug level and otherwise ignored.
func (t *Tracker) ReportStage(ctx context.Context, current, total int64, stage string) {
	if t == nil || t.sink == nil {
		return
	}
	percent := Percent(current, total)

	t.mu.Lock()
	if stage != t.stage {
		t.stage = stage
		t.lastPercent = -1
	}
	if percent == t.lastPercent {
		t.mu.Unlock()
		return
	}
	if percent < 100 && !t.limiter.Allow() {
		t.mu.Unlock()
		return
	}
	t.lastPercent = percent
	t.mu.Unlock()

	text := Format(stage, current, total, t.bytes)
	if err := t.sink.Update(ctx, text); err != nil {
		t.logger.Debug("progress update failed",
			slog.String("stage", stage),
			slog.Int("percent", percent),
			slog.String("error", err.Error()),
		)
	}
}

// Percent returns floor(current*100/total) capped at 100. A non-positive
// total yields 0.
func Percent(current, total int64) int {
	if total <= 0 || current <= 0 {
		return 0
	}
	if current >= total {
		return 100
	}
	p := current * 100 / total
	if p > 100 {
		return 100
	}
	return int(p)
}

// Format renders "<stage>... <percent>%", optionally followed by the byte
// counts.
func Format(stage string, current, total int64, withBytes bool) string {
	stage = strings.TrimSpace(stage)
	if stage == "" {
		stage = "Progress"
	}
	base := fmt.Sprintf("%s... %d%%", stage, Percent(current, total))
	if !withBytes || total <= 0 {
		return base
	}
	if current > total {
		current = total
	}
	if current < 0 {
		current = 0
	}
	return fmt.Sprintf("%s (%s / %s)", base, humanize.Bytes(uint64(current)), humanize.Bytes(uint64(total)))
}
