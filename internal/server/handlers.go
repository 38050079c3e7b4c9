package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/watermark-bot/internal/job"
	"github.com/maauso/watermark-bot/internal/settings"
)

// maxListLimit caps GET /jobs.
const maxListLimit = 500

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	repo      job.Repository
	store     *settings.Store
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(repo job.Repository, store *settings.Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		repo:      repo,
		store:     store,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if jobs, err := h.repo.List(r.Context()); err == nil {
		for _, j := range jobs {
			if !j.State.IsTerminal() {
				resp.InFlight++
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListJobs handles GET /jobs requests. Optional query parameters: state
// (e.g. FAILED) and limit.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := maxListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "INVALID_LIMIT")
			return
		}
		limit = min(n, maxListLimit)
	}
	state := job.State(strings.ToUpper(r.URL.Query().Get("state")))

	jobs, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, min(len(jobs), limit))}
	for _, j := range jobs {
		if state != "" && j.State != state {
			continue
		}
		if len(resp.Jobs) == limit {
			break
		}
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	resp.Count = len(resp.Jobs)
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.repo.FindByID(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// GetSettings handles GET /settings requests.
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSettingsResponse(h.store.Snapshot()))
}

// UpdateSettings handles PATCH /settings requests.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req UpdateSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	changes := settings.Changes{
		Text:      req.Text,
		FontSize:  req.FontSize,
		FontColor: req.FontColor,
	}
	if req.Position != nil {
		p := settings.Position(*req.Position)
		changes.Position = &p
	}
	if changes.IsEmpty() {
		writeError(w, http.StatusBadRequest, "no settings to update", "EMPTY_UPDATE")
		return
	}

	if err := h.store.Update(changes); err != nil {
		h.writeSettingsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(h.store.Snapshot()))
}

// ResetSettings handles POST /settings/reset requests.
func (h *Handlers) ResetSettings(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Reset(); err != nil {
		h.writeSettingsError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsResponse(h.store.Snapshot()))
}

func (h *Handlers) writeSettingsError(w http.ResponseWriter, err error) {
	var verr *settings.ValidationError
	if errors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, verr.Reason, "VALIDATION_ERROR")
		return
	}
	h.logger.Error("failed to update settings", slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "failed to update settings", "SETTINGS_UPDATE_FAILED")
}

func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:           j.ID,
		State:        string(j.State),
		Kind:         string(j.Submission.Kind),
		ChatID:       j.Submission.ChatID,
		UniqueID:     j.Submission.UniqueID,
		SizeBytes:    j.Submission.SizeBytes,
		Error:        j.Error,
		HasThumbnail: j.HasThumbnail,
		ArchiveURL:   j.ArchiveURL,
		CreatedAt:    j.CreatedAt,
		StartedAt:    timePtr(j.StartedAt),
		CompletedAt:  timePtr(j.CompletedAt),
	}
	if j.Settings != (settings.WatermarkSettings{}) {
		s := toSettingsResponse(j.Settings)
		resp.Settings = &s
	}
	return resp
}

func toSettingsResponse(s settings.WatermarkSettings) SettingsResponse {
	return SettingsResponse{
		Text:      s.Text,
		FontSize:  s.FontSize,
		FontColor: s.FontColor,
		Position:  string(s.Position),
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
