package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
	"github.com/ternarybob/rewind/internal/services/replay"
	"github.com/ternarybob/rewind/internal/services/window"
)

// JobHandler lists recorded jobs and loads one into the session
type JobHandler struct {
	api     interfaces.AuditAPI
	session *replay.Session
	storage interfaces.StorageManager
	logger  arbor.ILogger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(api interfaces.AuditAPI, session *replay.Session, storage interfaces.StorageManager, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		api:     api,
		session: session,
		storage: storage,
		logger:  logger,
	}
}

// JobListItem is a backend job annotated with its local cache state
type JobListItem struct {
	models.JobSummary
	Cached *models.JobCacheMetadata `json:"cached,omitempty"`
	Loaded bool                     `json:"loaded"`
}

// ListJobsHandler handles GET /api/jobs
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobs, err := h.api.ListJobs(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to list jobs")
		WriteServiceError(w, err)
		return
	}

	loaded := h.session.JobID()
	items := make([]JobListItem, 0, len(jobs))
	for _, job := range jobs {
		item := JobListItem{JobSummary: job, Loaded: job.ID == loaded}
		meta, err := h.storage.MetadataStorage().Get(r.Context(), job.ID)
		if err != nil {
			h.logger.Debug().Err(err).Str("job_id", job.ID).Msg("Failed to read cache metadata")
		} else if meta != nil && meta.Version == models.CacheSchemaVersion {
			item.Cached = meta
		}
		items = append(items, item)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  items,
		"total": len(items),
	})
}

// LoadJobHandler handles POST /api/jobs/{id}/load. Loading runs in the
// background and reports progress over the WebSocket unless wait=true.
func (h *JobHandler) LoadJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job id is required")
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		if err := h.session.LoadJob(r.Context(), jobID); err != nil {
			WriteServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, h.session.State())
		return
	}

	common.SafeGo(h.logger, "load-job", func() {
		if err := h.session.LoadJob(context.Background(), jobID); err != nil {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Background job load failed")
		}
	})
	WriteStarted(w, "Loading job "+jobID)
}

// ClearCacheHandler handles DELETE /api/jobs/{id}/cache
func (h *JobHandler) ClearCacheHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "DELETE") {
		return
	}

	jobID := r.PathValue("id")
	if err := h.session.Window().ClearJob(r.Context(), jobID); err != nil {
		if errors.Is(err, window.ErrJobActive) {
			WriteError(w, http.StatusConflict, "job is loaded in the session, use refresh instead")
			return
		}
		h.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to clear job cache")
		WriteServiceError(w, err)
		return
	}

	WriteSuccess(w, "Cache cleared for job "+jobID)
}
