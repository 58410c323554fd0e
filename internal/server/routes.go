package server

import (
	"net/http"
	"strings"

	"github.com/ternarybob/rewind/internal/observability"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Jobs
	mux.HandleFunc("GET /api/jobs", s.app.JobHandler.ListJobsHandler)
	mux.HandleFunc("POST /api/jobs/{id}/load", s.app.JobHandler.LoadJobHandler)
	mux.HandleFunc("DELETE /api/jobs/{id}/cache", s.app.JobHandler.ClearCacheHandler)

	// API routes - Session (cursor, views and graph of the loaded job)
	mux.HandleFunc("GET /api/session/state", s.app.SessionHandler.StateHandler)
	mux.HandleFunc("GET /api/session/entries", s.app.SessionHandler.EntriesHandler)
	mux.HandleFunc("POST /api/session/slider", s.app.SessionHandler.SliderHandler)
	mux.HandleFunc("POST /api/session/seek", s.app.SessionHandler.SeekHandler)
	mux.HandleFunc("POST /api/session/seek-start", s.app.SessionHandler.SeekStartHandler)
	mux.HandleFunc("POST /api/session/seek-end", s.app.SessionHandler.SeekEndHandler)
	mux.HandleFunc("POST /api/session/filter", s.app.SessionHandler.FilterHandler)
	mux.HandleFunc("POST /api/session/refresh", s.app.SessionHandler.RefreshHandler)
	mux.HandleFunc("/api/session/graph", s.app.SessionHandler.GraphHandler) // GET render, POST scrub
	mux.HandleFunc("GET /api/session/audit-page", s.app.SessionHandler.AuditPageHandler)
	mux.HandleFunc("GET /api/session/timerange", s.app.SessionHandler.TimeRangeHandler)

	// API routes - Update poller
	mux.HandleFunc("GET /api/poller", s.app.PollerHandler.StatusHandler)
	mux.HandleFunc("POST /api/poller/poll", s.app.PollerHandler.PollNowHandler)

	// API routes - System
	mux.HandleFunc("GET /api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("GET /api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("GET /health", s.app.APIHandler.HealthHandler)

	if s.app.Config.Metrics.Enabled {
		mux.Handle("GET /metrics", observability.MetricsHandler())
	}

	return mux
}

var routeMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete}

// withJSONNotFound answers unknown /api/ paths with a JSON 404. Paths that
// exist under another method fall through so the mux replies 405.
func (s *Server) withJSONNotFound(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") && !routeExists(mux, r) {
			s.app.APIHandler.NotFoundHandler(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

// routeExists reports whether any method is registered for the request path
func routeExists(mux *http.ServeMux, r *http.Request) bool {
	for _, method := range routeMethods {
		candidate := r.WithContext(r.Context())
		candidate.Method = method
		if _, pattern := mux.Handler(candidate); pattern != "" {
			return true
		}
	}
	return false
}
