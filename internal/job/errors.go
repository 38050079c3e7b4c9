package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/maauso/watermark-bot/internal/media"
)

// Job failure categories. Every error a job ends with wraps one of them.
var (
	// ErrFileTooLarge is a validation failure: the submission exceeds the
	// size limit and nothing was downloaded.
	ErrFileTooLarge = errors.New("file too large")
	// ErrDownloadFailed is a transient I/O failure while fetching the media.
	ErrDownloadFailed = errors.New("download failed")
	// ErrUploadFailed is a transient I/O failure while delivering the result.
	ErrUploadFailed = errors.New("upload failed")
	// ErrEncodingFailed means ffmpeg did not produce the expected output.
	ErrEncodingFailed = errors.New("encoding failed")
	// ErrRateLimited means the transport kept signalling flood control
	// after every allowed retry.
	ErrRateLimited = errors.New("rate limited")
	// ErrAlreadyProcessing rejects a submission whose media is already
	// being processed by another job.
	ErrAlreadyProcessing = errors.New("file is already being processed")
)

// StageError records the stage a job failed in.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// SizeLimitError carries the configured limit for the user message.
type SizeLimitError struct {
	SizeBytes int64
	MaxBytes  int64
}

func (e *SizeLimitError) Error() string {
	return fmt.Sprintf("%s: %d bytes exceeds limit of %d bytes", ErrFileTooLarge, e.SizeBytes, e.MaxBytes)
}

func (e *SizeLimitError) Unwrap() error {
	return ErrFileTooLarge
}

// TransferError is a download or upload failure. Category is
// ErrDownloadFailed or ErrUploadFailed.
type TransferError struct {
	Category error
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%v: %v", e.Category, e.Err)
}

func (e *TransferError) Unwrap() []error {
	return []error{e.Category, e.Err}
}

// EncodingError is a failed watermark encode of one media kind.
type EncodingError struct {
	Kind media.Kind
	Err  error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("%v (%s): %v", ErrEncodingFailed, e.Kind, e.Err)
}

func (e *EncodingError) Unwrap() []error {
	return []error{ErrEncodingFailed, e.Err}
}

// UserMessage converts a job error into the single text shown to the
// requester. Encoder diagnostics are never included.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var sizeErr *SizeLimitError
	if errors.As(err, &sizeErr) {
		return fmt.Sprintf("File is too large (max %dMB allowed).", sizeErr.MaxBytes/(1024*1024))
	}

	var encErr *EncodingError
	if errors.As(err, &encErr) {
		return fmt.Sprintf("Failed to add watermark to %s.", encErr.Kind)
	}

	if errors.Is(err, ErrRateLimited) {
		return "The bot is being rate limited right now. Please try again in a few minutes."
	}

	var transferErr *TransferError
	if errors.As(err, &transferErr) {
		if errors.Is(transferErr.Category, ErrUploadFailed) {
			return fmt.Sprintf("Upload failed: %s", causeText(transferErr.Err))
		}
		return fmt.Sprintf("Download failed: %s", causeText(transferErr.Err))
	}

	switch {
	case errors.Is(err, ErrAlreadyProcessing):
		return "This file is already being processed."
	case errors.Is(err, context.DeadlineExceeded):
		return "Processing took too long and was stopped."
	case errors.Is(err, context.Canceled):
		return "Processing was cancelled."
	default:
		var stageErr *StageError
		if errors.As(err, &stageErr) && stageErr.Err != nil {
			err = stageErr.Err
		}
		return fmt.Sprintf("An error occurred: %v", err)
	}
}

func causeText(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return err.Error()
	}
}
