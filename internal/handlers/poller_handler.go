package handlers

import (
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/services/poller"
)

// PollerHandler reports and triggers update polls of the loaded job
type PollerHandler struct {
	poller *poller.Service
	logger arbor.ILogger
}

// NewPollerHandler creates a new PollerHandler
func NewPollerHandler(p *poller.Service, logger arbor.ILogger) *PollerHandler {
	return &PollerHandler{
		poller: p,
		logger: logger,
	}
}

// StatusHandler handles GET /api/poller
func (h *PollerHandler) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, h.poller.Status())
}

// PollNowHandler handles POST /api/poller/poll
func (h *PollerHandler) PollNowHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	changed, err := h.poller.PollNow(r.Context())
	if errors.Is(err, poller.ErrPollInFlight) {
		WriteError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"changed": changed,
		"status":  h.poller.Status(),
	})
}
