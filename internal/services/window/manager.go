// Package window keeps a bounded, resident slice of every stream of the loaded
// job around the scrub cursor and keeps the local store in step with the API.
package window

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
	"github.com/ternarybob/rewind/internal/observability"
)

var (
	// ErrNoJobLoaded is returned by operations that need a loaded job
	ErrNoJobLoaded = errors.New("no job loaded")
	// ErrFetchInProgress is returned when a clear or bulk refetch of the same job is already running
	ErrFetchInProgress = errors.New("fetch already in progress for job")
	// ErrJobActive is returned when clearing the cache of the loaded or loading job
	ErrJobActive = errors.New("job is loaded in the session")
	// ErrJobSwitched is returned when the job changed while an operation was in flight
	ErrJobSwitched = errors.New("job switched while operation was in flight")
)

// Status is the loading state surfaced to the UI
type Status struct {
	JobID      string `json:"jobId,omitempty"`
	Loading    bool   `json:"loading"`
	Progress   int    `json:"progress"`
	Error      string `json:"error,omitempty"`
	FromCache  bool   `json:"fromCache"`
	Offline    bool   `json:"offline"`
	RemoteOnly bool   `json:"remoteOnly"`
}

// jobState is everything the manager knows about the loaded job.
// Fields are guarded by Manager.mu.
type jobState struct {
	jobID      string
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{} // closed when LoadJob finishes
	loadErr    error         // written before done is closed
	loaded     bool
	remote     bool
	counts     streamCounts
	cursors    streamCounts
	window     *Window
}

// Manager maintains the resident window of the loaded job
type Manager struct {
	api        interfaces.AuditAPI
	storage    interfaces.StorageManager
	config     *common.CacheConfig
	logger     arbor.ILogger
	events     interfaces.EventService
	onProgress func(context.Context, models.LoadProgress)

	mu         sync.RWMutex
	job        *jobState
	generation uint64
	filter     models.FilterCategory
	status     Status
	progress   map[models.StreamKind]models.LoadProgress

	// recentreMu serialises recentres so only one window read is in flight
	recentreMu sync.Mutex

	fetchMu  sync.Mutex
	inFlight map[string]bool
}

// Option configures a Manager
type Option func(*Manager)

// WithEventService publishes load and window events on the bus
func WithEventService(events interfaces.EventService) Option {
	return func(m *Manager) {
		m.events = events
	}
}

// WithProgressSink receives every bulk fetch progress update
func WithProgressSink(fn func(context.Context, models.LoadProgress)) Option {
	return func(m *Manager) {
		m.onProgress = fn
	}
}

// NewManager creates a window manager over the API and the local store
func NewManager(api interfaces.AuditAPI, storage interfaces.StorageManager, config *common.CacheConfig, logger arbor.ILogger, opts ...Option) *Manager {
	m := &Manager{
		api:      api,
		storage:  storage,
		config:   config,
		logger:   logger,
		filter:   models.FilterAll,
		progress: make(map[models.StreamKind]models.LoadProgress),
		inFlight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadJob makes jobID the loaded job. Loading the job that is already loaded
// is a no-op and loading the job that is loading waits for that load; loading
// another job cancels the previous load.
func (m *Manager) LoadJob(ctx context.Context, jobID string) error {
	if jobID == "" {
		return fmt.Errorf("job id is required")
	}

	m.mu.Lock()
	if current := m.job; current != nil && current.jobID == jobID {
		if current.loaded {
			m.mu.Unlock()
			return nil
		}
		select {
		case <-current.done:
			// The previous attempt failed, load again
		default:
			m.mu.Unlock()
			return waitForLoad(ctx, current)
		}
	}
	if m.job != nil && m.job.cancel != nil {
		m.job.cancel()
	}
	m.generation++
	loadCtx, cancel := context.WithCancel(ctx)
	st := &jobState{
		jobID:      jobID,
		generation: m.generation,
		cancel:     cancel,
		done:       make(chan struct{}),
		remote:     !m.storage.IsAvailable(),
		counts:     streamCounts{},
		cursors:    streamCounts{},
	}
	m.job = st
	m.status = Status{JobID: jobID, Loading: true, RemoteOnly: st.remote}
	m.progress = make(map[models.StreamKind]models.LoadProgress)
	m.mu.Unlock()

	m.logger.Info().
		Str("job_id", jobID).
		Uint64("generation", st.generation).
		Bool("remote_only", st.remote).
		Msg("Loading job")

	err := m.runLoad(ctx, loadCtx, st)
	st.loadErr = err
	close(st.done)
	return err
}

// waitForLoad blocks until the in-flight load of st finishes
func waitForLoad(ctx context.Context, st *jobState) error {
	select {
	case <-st.done:
		return st.loadErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runLoad loads st and swaps in its first window
func (m *Manager) runLoad(ctx, loadCtx context.Context, st *jobState) error {
	jobID := st.jobID

	status, err := m.load(loadCtx, st)
	if err != nil {
		if !m.isCurrent(st) {
			return fmt.Errorf("load of job %s: %w", jobID, ErrJobSwitched)
		}
		m.fail(ctx, st, err)
		return err
	}

	if err := m.ensureWindow(loadCtx); err != nil {
		return err
	}

	m.mu.RLock()
	counts := st.counts.clone()
	m.mu.RUnlock()

	m.logger.Info().
		Str("job_id", jobID).
		Int("audit_count", counts[models.StreamAudit]).
		Int("chat_count", counts[models.StreamChat]).
		Int("graph_delta_count", counts[models.StreamGraph]).
		Bool("from_cache", status.FromCache).
		Bool("offline", status.Offline).
		Msg("Job loaded")

	m.publish(ctx, interfaces.EventLoadCompleted, map[string]interface{}{
		"job_id":            jobID,
		"audit_count":       counts[models.StreamAudit],
		"chat_count":        counts[models.StreamChat],
		"graph_delta_count": counts[models.StreamGraph],
		"from_cache":        status.FromCache,
		"offline":           status.Offline,
	})

	return nil
}

// load validates the cache, refetches when needed and activates the job
func (m *Manager) load(ctx context.Context, st *jobState) (Status, error) {
	status := Status{JobID: st.jobID, RemoteOnly: st.remote}

	var meta *models.JobCacheMetadata
	if !st.remote {
		var err error
		meta, err = m.storage.MetadataStorage().Get(ctx, st.jobID)
		if err != nil {
			m.logger.Warn().Err(err).Str("job_id", st.jobID).Msg("Failed to read cache metadata, treating cache as absent")
			meta = nil
		}
	}

	version, err := m.api.GetVersion(ctx, st.jobID)
	if err != nil {
		observability.RecordFetchFailure("version")
		if ctx.Err() != nil {
			return status, ctx.Err()
		}
		if meta == nil || meta.Version != models.CacheSchemaVersion {
			return status, fmt.Errorf("failed to probe job version: %w", err)
		}

		m.logger.Warn().
			Err(err).
			Str("job_id", st.jobID).
			Int("cached_audit_count", meta.AuditCount).
			Msg("Version probe failed, browsing cached history")

		observability.RecordCacheLoad("offline")
		status.FromCache = true
		status.Offline = true
		status.Error = err.Error()
		return status, m.activate(st, countsFromMetadata(meta), status)
	}

	var counts streamCounts
	switch {
	case st.remote:
		observability.RecordCacheLoad("remote")
		counts = countsFromVersion(version)

	case meta.IsValidFor(version):
		observability.RecordCacheLoad("hit")
		status.FromCache = true
		updated, err := m.fetchTails(ctx, st, meta, version, []models.StreamKind{models.StreamChat, models.StreamGraph})
		if err != nil {
			if ctx.Err() != nil {
				return status, ctx.Err()
			}
			m.logger.Warn().Err(err).Str("job_id", st.jobID).Msg("Failed to top up chat and graph streams")
			status.Error = err.Error()
		} else {
			meta = updated
		}
		counts = countsFromMetadata(meta)

	default:
		observability.RecordCacheLoad("miss")
		m.logger.Info().
			Str("job_id", st.jobID).
			Int("cached_audit_count", meta.Count(models.StreamAudit)).
			Int("server_audit_count", version.AuditEntryCount).
			Msg("Cache stale or absent, refetching job")

		meta, err = m.refetch(ctx, st, version, false)
		if err != nil {
			return status, err
		}
		counts = countsFromMetadata(meta)
	}

	return status, m.activate(st, counts, status)
}

// activate installs counts and puts every cursor at the end of its stream
func (m *Manager) activate(st *jobState, counts streamCounts, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.job != st {
		return ErrJobSwitched
	}

	st.counts = counts
	for _, stream := range models.Streams {
		st.cursors[stream] = counts[stream] - 1
	}
	st.loaded = true

	status.Loading = false
	status.Progress = 100
	m.status = status

	return nil
}

// Refresh clears the local partition of the loaded job and refetches it.
// The version probe runs first so an unreachable API never destroys the cache.
func (m *Manager) Refresh(ctx context.Context) error {
	st, err := m.loadedJob()
	if err != nil {
		return err
	}

	m.setLoading(st, true)

	version, err := m.api.GetVersion(ctx, st.jobID)
	if err != nil {
		observability.RecordFetchFailure("version")
		err = fmt.Errorf("failed to probe job version: %w", err)
		m.fail(ctx, st, err)
		return err
	}

	counts := countsFromVersion(version)
	if !st.remote {
		meta, err := m.refetch(ctx, st, version, true)
		if err != nil {
			if errors.Is(err, ErrFetchInProgress) {
				m.setLoading(st, false)
				return err
			}
			m.fail(ctx, st, err)
			return err
		}
		counts = countsFromMetadata(meta)
	}

	if err := m.applyCounts(st, counts); err != nil {
		return err
	}
	m.setLoading(st, false)

	m.logger.Info().
		Str("job_id", st.jobID).
		Int("audit_count", counts[models.StreamAudit]).
		Msg("Job refreshed")

	if err := m.ensureWindow(ctx); err != nil {
		return err
	}

	m.publish(ctx, interfaces.EventLoadCompleted, map[string]interface{}{
		"job_id":            st.jobID,
		"audit_count":       counts[models.StreamAudit],
		"chat_count":        counts[models.StreamChat],
		"graph_delta_count": counts[models.StreamGraph],
		"from_cache":        false,
		"refreshed":         true,
	})
	return nil
}

// CheckForUpdates probes the API and pulls new entries of the loaded job.
// It returns true when any stream changed. Cursors at the end of a stream
// follow the new end.
func (m *Manager) CheckForUpdates(ctx context.Context) (bool, error) {
	st, err := m.loadedJob()
	if err != nil {
		return false, err
	}

	version, err := m.api.GetVersion(ctx, st.jobID)
	if err != nil {
		observability.RecordFetchFailure("version")
		return false, fmt.Errorf("failed to probe job version: %w", err)
	}

	m.mu.RLock()
	counts := st.counts.clone()
	m.mu.RUnlock()

	changed, shrunk := false, false
	for _, stream := range models.Streams {
		server := version.Count(stream)
		if server != counts[stream] {
			changed = true
		}
		if server < counts[stream] {
			shrunk = true
		}
	}
	if !changed {
		return false, nil
	}

	updated := countsFromVersion(version)
	if !st.remote {
		meta, err := m.storage.MetadataStorage().Get(ctx, st.jobID)
		if err == nil && meta != nil && !shrunk {
			meta, err = m.fetchTails(ctx, st, meta, version, models.Streams)
		} else {
			meta, err = m.refetch(ctx, st, version, true)
		}
		if err != nil {
			m.surfaceError(st, err)
			return false, err
		}
		updated = countsFromMetadata(meta)
	}

	if err := m.applyCounts(st, updated); err != nil {
		return false, err
	}

	m.logger.Info().
		Str("job_id", st.jobID).
		Int("previous_audit_count", counts[models.StreamAudit]).
		Int("audit_count", updated[models.StreamAudit]).
		Msg("Job updated")

	if err := m.ensureWindow(ctx); err != nil {
		return true, err
	}

	m.publish(ctx, interfaces.EventJobUpdated, map[string]interface{}{
		"job_id":            st.jobID,
		"audit_count":       updated[models.StreamAudit],
		"chat_count":        updated[models.StreamChat],
		"graph_delta_count": updated[models.StreamGraph],
	})
	return true, nil
}

// applyCounts installs new stream counts. Cursors that sat on the last entry
// move to the new last entry; the rest are clamped.
func (m *Manager) applyCounts(st *jobState, counts streamCounts) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.job != st {
		return ErrJobSwitched
	}

	for _, stream := range models.Streams {
		previous := st.counts[stream]
		cursor := st.cursors[stream]
		if cursor >= previous-1 {
			cursor = counts[stream] - 1
		}
		st.cursors[stream] = clampCursor(stream, cursor, counts[stream])
	}
	st.counts = counts
	return nil
}

// Close cancels any in-flight load
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job != nil && m.job.cancel != nil {
		m.job.cancel()
	}
}

func (m *Manager) loadedJob() (*jobState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.job == nil || !m.job.loaded {
		return nil, ErrNoJobLoaded
	}
	return m.job, nil
}

func (m *Manager) isCurrent(st *jobState) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.job != nil && m.job.generation == st.generation
}

func (m *Manager) setLoading(st *jobState, loading bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job != st {
		return
	}
	m.status.Loading = loading
	if loading {
		m.status.Progress = 0
		m.status.Error = ""
		m.progress = make(map[models.StreamKind]models.LoadProgress)
	} else {
		m.status.Progress = 100
	}
}

// surfaceError records err on the status without touching cached data
func (m *Manager) surfaceError(st *jobState, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job != st {
		return
	}
	m.status.Error = err.Error()
}

func (m *Manager) fail(ctx context.Context, st *jobState, err error) {
	m.mu.Lock()
	if m.job != st {
		m.mu.Unlock()
		return
	}
	m.status.Loading = false
	m.status.Error = err.Error()
	m.mu.Unlock()

	m.logger.Error().Err(err).Str("job_id", st.jobID).Msg("Job load failed")

	m.publish(ctx, interfaces.EventLoadFailed, map[string]interface{}{
		"job_id": st.jobID,
		"error":  err.Error(),
	})
}

func (m *Manager) publish(ctx context.Context, eventType interfaces.EventType, payload map[string]interface{}) {
	if m.events == nil {
		return
	}
	if err := m.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		m.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}

func countsFromMetadata(meta *models.JobCacheMetadata) streamCounts {
	counts := streamCounts{}
	for _, stream := range models.Streams {
		counts[stream] = meta.Count(stream)
	}
	return counts
}

func countsFromVersion(version *models.JobVersion) streamCounts {
	counts := streamCounts{}
	for _, stream := range models.Streams {
		counts[stream] = version.Count(stream)
	}
	return counts
}

// clampCursor bounds a stream cursor. The audit slider always sits on an
// entry; chat and graph cursors may rest at -1 before their first entry.
func clampCursor(stream models.StreamKind, index, total int) int {
	if stream != models.StreamAudit && index < 0 {
		return -1
	}
	return clamp(index, total)
}

// clamp places index inside [0, total-1]; an empty stream yields -1
func clamp(index, total int) int {
	if total <= 0 {
		return -1
	}
	if index < 0 {
		return 0
	}
	if index > total-1 {
		return total - 1
	}
	return index
}

func now() time.Time {
	return time.Now().UTC()
}
