package handlers

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/models"
	"github.com/ternarybob/rewind/internal/services/replay"
)

var validate = validator.New()

// SessionHandler exposes the replay session to the UI render layer
type SessionHandler struct {
	session *replay.Session
	logger  arbor.ILogger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(session *replay.Session, logger arbor.ILogger) *SessionHandler {
	return &SessionHandler{
		session: session,
		logger:  logger,
	}
}

type sliderRequest struct {
	Index int `json:"index"`
}

type seekRequest struct {
	Timestamp string `json:"timestamp" validate:"required_without=Stream"`
	Stream    string `json:"stream" validate:"omitempty,oneof=audit chat graph"`
	Index     int    `json:"index" validate:"min=0"`
}

type filterRequest struct {
	Filter string `json:"filter" validate:"required"`
}

// StateHandler handles GET /api/session/state
func (h *SessionHandler) StateHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, h.session.State())
}

// EntriesHandler handles GET /api/session/entries, returning the visible
// audit entries and chat turns
func (h *SessionHandler) EntriesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"audit": h.session.VisibleAuditEntries(),
		"chat":  h.session.VisibleChatEntries(),
	})
}

// SliderHandler handles POST /api/session/slider
func (h *SessionHandler) SliderHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req sliderRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	index, err := h.session.SetSliderIndex(r.Context(), req.Index)
	if err != nil {
		h.logger.Warn().Err(err).Int("index", req.Index).Msg("Slider move failed")
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"index": index,
		"state": h.session.State(),
	})
}

// SeekHandler handles POST /api/session/seek. A timestamp seeks the global
// cursor; a stream and index focus one entry and sync the other views to it.
func (h *SessionHandler) SeekHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req seekRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var cursor models.Cursor
	var err error
	if req.Stream != "" {
		cursor, err = h.session.FocusEntry(r.Context(), models.StreamKind(req.Stream), req.Index)
	} else {
		var ts time.Time
		ts, err = ParseTimestamp(req.Timestamp)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		cursor, err = h.session.SeekTimestamp(r.Context(), ts)
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"cursor": cursor,
		"state":  h.session.State(),
	})
}

// SeekStartHandler handles POST /api/session/seek-start
func (h *SessionHandler) SeekStartHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	index, err := h.session.SeekToStart(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"index": index})
}

// SeekEndHandler handles POST /api/session/seek-end
func (h *SessionHandler) SeekEndHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	index, err := h.session.SeekToEnd(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"index": index})
}

// FilterHandler handles POST /api/session/filter
func (h *SessionHandler) FilterHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req filterRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	filter, ok := models.ParseFilterCategory(req.Filter)
	if !ok {
		WriteError(w, http.StatusBadRequest, "unknown filter: "+req.Filter)
		return
	}

	h.session.SetFilter(filter)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"filter":  filter,
		"entries": h.session.VisibleAuditEntries(),
	})
}

// RefreshHandler handles POST /api/session/refresh
func (h *SessionHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}
	if err := h.session.Refresh(r.Context()); err != nil {
		h.logger.Warn().Err(err).Msg("Session refresh failed")
		WriteServiceError(w, err)
		return
	}
	WriteSuccess(w, "Job refreshed")
}

// GraphHandler handles /api/session/graph. GET renders an index on demand
// (the current view when no index is given); POST scrubs the graph view.
func (h *SessionHandler) GraphHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "GET":
		h.renderGraph(w, r)
	case "POST":
		h.scrubGraph(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *SessionHandler) renderGraph(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("index") == "" {
		graph := h.session.RenderedGraphState()
		if graph == nil {
			WriteServiceError(w, replay.ErrNoJob)
			return
		}
		WriteJSON(w, http.StatusOK, graph)
		return
	}

	index, err := QueryInt(r, "index", -1)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	graph, err := h.session.RenderGraphAt(index)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, graph)
}

func (h *SessionHandler) scrubGraph(w http.ResponseWriter, r *http.Request) {
	var req sliderRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.session.ScrubGraph(r.Context(), req.Index)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

// AuditPageHandler handles GET /api/session/audit-page
func (h *SessionHandler) AuditPageHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	page, err := h.session.AuditPage(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, page)
}

// TimeRangeHandler handles GET /api/session/timerange
func (h *SessionHandler) TimeRangeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	tr, err := h.session.TimeRange(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, tr)
}
