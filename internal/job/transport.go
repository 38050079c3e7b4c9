package job

import (
	"context"
	"fmt"
	"time"
)

// ProgressFunc receives transfer progress in bytes. total is 0 when unknown.
type ProgressFunc func(current, total int64)

// Delivery describes the watermarked result sent back to the requester.
type Delivery struct {
	// Path is the watermarked file.
	Path string
	// ThumbnailPath is attached as a preview when non-empty.
	ThumbnailPath string
	// Caption is shown under the media.
	Caption string
}

// StatusMessage is an editable message that shows the job's progress.
type StatusMessage interface {
	Update(ctx context.Context, text string) error
	Delete(ctx context.Context) error
}

// Transport is the messaging collaborator the pipeline talks to.
// Any method may return a *RateLimitError.
type Transport interface {
	// Download streams the submission's media to dst.
	Download(ctx context.Context, sub Submission, dst string, progress ProgressFunc) error
	// Deliver uploads the result to the submission's chat.
	Deliver(ctx context.Context, sub Submission, d Delivery, progress ProgressFunc) error
	// Reply sends a plain text answer to the submission.
	Reply(ctx context.Context, sub Submission, text string) error
	// OpenStatus sends the initial status message for a job.
	OpenStatus(ctx context.Context, sub Submission, text string) (StatusMessage, error)
}

// RateLimitError is the flood-control signal from the transport: the call
// must not be repeated before RetryAfter has elapsed.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limited, retry after %s: %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}
