// Package job provides the watermark job aggregate, its state machine and
// the pipeline that drives one submission from download to cleanup.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/watermark-bot/internal/job/id"
	"github.com/maauso/watermark-bot/internal/media"
	"github.com/maauso/watermark-bot/internal/settings"
)

// State represents the current stage of a Job.
type State string

const (
	// StateReceived indicates the submission was accepted but nothing ran yet.
	StateReceived State = "RECEIVED"
	// StateDownloading indicates the source media is being fetched.
	StateDownloading State = "DOWNLOADING"
	// StateExtractingThumbnail indicates a preview frame is being extracted.
	StateExtractingThumbnail State = "EXTRACTING_THUMBNAIL"
	// StateEncoding indicates ffmpeg is drawing the overlay.
	StateEncoding State = "ENCODING"
	// StateUploading indicates the result is being delivered.
	StateUploading State = "UPLOADING"
	// StateCleaningUp indicates temp files are being removed after delivery.
	StateCleaningUp State = "CLEANING_UP"
	// StateDone indicates the job finished successfully.
	StateDone State = "DONE"
	// StateFailed indicates the job stopped with an error.
	StateFailed State = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed. The order is
// strictly linear; any non-terminal state may fail.
var validTransitions = map[State][]State{
	StateReceived:            {StateDownloading, StateFailed},
	StateDownloading:         {StateExtractingThumbnail, StateEncoding, StateFailed},
	StateExtractingThumbnail: {StateEncoding, StateFailed},
	StateEncoding:            {StateUploading, StateFailed},
	StateUploading:           {StateCleaningUp, StateFailed},
	StateCleaningUp:          {StateDone, StateFailed},
	StateDone:                {},
	StateFailed:              {},
}

// canTransition checks if a transition from one state to another is valid.
func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for DONE and FAILED.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// Submission describes one inbound media message.
type Submission struct {
	// ChatID identifies the conversation to answer in.
	ChatID int64 `json:"chat_id"`
	// MessageID is the message that carried the media.
	MessageID int `json:"message_id"`
	// Kind is video or image.
	Kind media.Kind `json:"kind"`
	// FileID is the transport handle used to download the media.
	FileID string `json:"-"`
	// UniqueID is stable across re-sends of the same media and names the
	// job's temp files.
	UniqueID string `json:"unique_id"`
	// SizeBytes is the size declared by the transport; 0 when unknown.
	SizeBytes int64 `json:"size_bytes"`
	// FileName is the original document name, if any.
	FileName string `json:"file_name,omitempty"`
}

// Job is one run of the watermark pipeline. It is exclusively owned by the
// Run call that created it; the repository only ever stores clones.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Submission is the media request being processed.
	Submission Submission
	// State is the current stage.
	State State
	// Error is the user-visible failure message.
	Error string
	// Err is the underlying failure, nil unless State is FAILED.
	Err error
	// InputPath is where the source media is downloaded to.
	InputPath string
	// OutputPath is where the watermarked result is written.
	OutputPath string
	// ThumbnailPath is the preview frame location (videos only).
	ThumbnailPath string
	// HasThumbnail reports whether extraction produced a frame.
	HasThumbnail bool
	// Settings is the snapshot taken when encoding started.
	Settings settings.WatermarkSettings
	// ArchiveURL is set when the output was archived to S3.
	ArchiveURL string
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when the download started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a Job for sub in the RECEIVED state.
func New(sub Submission) *Job {
	return NewWithID(id.Generate(), sub)
}

// NewWithID creates a Job with the specified ID in the RECEIVED state.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string, sub Submission) *Job {
	now := time.Now()
	return &Job{
		ID:         jobID,
		Submission: sub,
		State:      StateReceived,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TransitionTo attempts to change the job state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(state State) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.State, state) {
		return ErrInvalidTransition
	}

	j.State = state
	j.UpdatedAt = time.Now()

	switch state {
	case StateDownloading:
		j.StartedAt = j.UpdatedAt
	case StateDone, StateFailed:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Fail transitions the job to FAILED, recording err and its user message.
// Returns ErrInvalidTransition if the job is already terminal.
func (j *Job) Fail(err error) error {
	j.mu.Lock()
	if j.State.IsTerminal() {
		j.mu.Unlock()
		return ErrInvalidTransition
	}
	j.Err = err
	j.Error = UserMessage(err)
	j.mu.Unlock()
	return j.TransitionTo(StateFailed)
}

// GetState returns the current state (thread-safe).
func (j *Job) GetState() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.State
}

// IsTerminal returns true if the job is DONE or FAILED.
func (j *Job) IsTerminal() bool {
	return j.GetState().IsTerminal()
}

// SetPaths records the temp file locations allocated for the job.
func (j *Job) SetPaths(input, output, thumbnail string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.InputPath = input
	j.OutputPath = output
	j.ThumbnailPath = thumbnail
	j.UpdatedAt = time.Now()
}

// TempPaths returns every temp file the job may have created.
func (j *Job) TempPaths() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	paths := make([]string, 0, 3)
	for _, p := range []string{j.InputPath, j.OutputPath, j.ThumbnailPath} {
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func (j *Job) setThumbnail(ok bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.HasThumbnail = ok
	j.UpdatedAt = time.Now()
}

func (j *Job) setSettings(s settings.WatermarkSettings) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Settings = s
	j.UpdatedAt = time.Now()
}

func (j *Job) setArchiveURL(url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ArchiveURL = url
	j.UpdatedAt = time.Now()
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:            j.ID,
		Submission:    j.Submission,
		State:         j.State,
		Error:         j.Error,
		Err:           j.Err,
		InputPath:     j.InputPath,
		OutputPath:    j.OutputPath,
		ThumbnailPath: j.ThumbnailPath,
		HasThumbnail:  j.HasThumbnail,
		Settings:      j.Settings,
		ArchiveURL:    j.ArchiveURL,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
}
