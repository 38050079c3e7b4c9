// Package server provides the HTTP ops surface of the watermark bot:
// health, Prometheus metrics, job inspection and the settings API.
// DTOs are kept separate from domain types.
package server

import "time"

// JobResponse is the HTTP representation of a job snapshot.
type JobResponse struct {
	// ID is the unique identifier for the job.
	ID string `json:"id"`
	// State is the current pipeline stage.
	State string `json:"state"`
	// Kind is "video" or "image".
	Kind string `json:"kind"`
	// ChatID is the chat the submission came from.
	ChatID int64 `json:"chat_id"`
	// UniqueID is the platform's stable identifier of the media file.
	UniqueID string `json:"unique_id"`
	// SizeBytes is the announced media size.
	SizeBytes int64 `json:"size_bytes"`
	// Error contains the user-visible message if the job failed.
	Error string `json:"error,omitempty"`
	// HasThumbnail reports whether a preview frame was attached.
	HasThumbnail bool `json:"has_thumbnail"`
	// Settings is the snapshot used for encoding, once encoding started.
	Settings *SettingsResponse `json:"settings,omitempty"`
	// ArchiveURL is set when the output was archived.
	ArchiveURL string `json:"archive_url,omitempty"`
	// CreatedAt is when the submission was received.
	CreatedAt time.Time `json:"created_at"`
	// StartedAt is when the download started.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the job reached DONE or FAILED.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListJobsResponse is the HTTP response for GET /jobs.
type ListJobsResponse struct {
	Jobs  []JobResponse `json:"jobs"`
	Count int           `json:"count"`
}

// SettingsResponse is the HTTP representation of the watermark settings.
type SettingsResponse struct {
	Text      string `json:"text"`
	FontSize  int    `json:"font_size"`
	FontColor string `json:"font_color"`
	Position  string `json:"position"`
}

// UpdateSettingsRequest is the body of PATCH /settings. Absent fields keep
// their current value.
type UpdateSettingsRequest struct {
	Text      *string `json:"text" validate:"omitempty,min=1,max=200"`
	FontSize  *int    `json:"font_size" validate:"omitempty,min=10,max=100"`
	FontColor *string `json:"font_color" validate:"omitempty,min=1"`
	Position  *string `json:"position" validate:"omitempty,oneof=top_left top_right bottom_left bottom_right center"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// InFlight is the number of jobs not yet in a terminal state.
	InFlight int `json:"in_flight"`
}
