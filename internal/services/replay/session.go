// Package replay composes the window manager, the graph reconstructor and the
// timeline synchronizer into one scrubbing session over a job.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
	"github.com/ternarybob/rewind/internal/services/graph"
	"github.com/ternarybob/rewind/internal/services/timeline"
	"github.com/ternarybob/rewind/internal/services/window"
)

// ErrNoJob is returned when the session has no job loaded
var ErrNoJob = errors.New("no job loaded in session")

// Consumer names registered with the synchronizer
const (
	ConsumerAudit      = "audit"
	ConsumerChat       = "chat"
	ConsumerGraph      = "graph"
	ConsumerAuditPages = "audit-pages"
)

// DefaultAuditPageSize is the page size of the paginated audit view
const DefaultAuditPageSize = 50

// State is a point-in-time summary of the session for the UI
type State struct {
	SessionID        string                               `json:"sessionId"`
	JobID            string                               `json:"jobId,omitempty"`
	Status           window.Status                        `json:"status"`
	Cursor           models.Cursor                        `json:"cursor"`
	SliderIndex      int                                  `json:"sliderIndex"`
	MaxIndex         int                                  `json:"maxIndex"`
	TotalEntries     int                                  `json:"totalEntries"`
	CurrentTimestamp *time.Time                           `json:"currentTimestamp,omitempty"`
	Filter           models.FilterCategory                `json:"filter"`
	GraphIndex       int                                  `json:"graphIndex"`
	GraphOverride    bool                                 `json:"graphOverride"`
	GraphStrategy    graph.Strategy                       `json:"graphStrategy,omitempty"`
	Counts           map[models.StreamKind]int            `json:"counts"`
	Windows          map[models.StreamKind]window.Bounds `json:"windows"`
	AuditPage        models.Position                      `json:"auditPage"`
}

// Session is one operator's view onto one job at a time
type Session struct {
	id       string
	window   *window.Manager
	api      interfaces.AuditAPI
	sync     *timeline.Synchronizer
	events   interfaces.EventService
	logger   arbor.ILogger
	config   *common.GraphConfig
	pageSize int

	mu        sync.RWMutex
	jobID     string
	recon     *graph.Reconstructor
	scrubber  *graph.Scrubber
	rendered  *models.RenderedGraph
	lastSeek  graph.SeekResult
	page      models.Position
	timeRange *models.TimeRange

	// renderMu serialises graph renders so frames are published in order
	renderMu sync.Mutex
}

// Option configures a Session
type Option func(*Session)

// WithEventService publishes cursor and graph frame events on the bus
func WithEventService(events interfaces.EventService) Option {
	return func(s *Session) {
		s.events = events
	}
}

// WithAuditPageSize sets the page size of the paginated audit view
func WithAuditPageSize(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// NewSession creates a session and registers its stream consumers
func NewSession(manager *window.Manager, api interfaces.AuditAPI, config *common.GraphConfig, logger arbor.ILogger, opts ...Option) (*Session, error) {
	s := &Session{
		id:       uuid.New().String(),
		window:   manager,
		api:      api,
		logger:   logger,
		config:   config,
		pageSize: DefaultAuditPageSize,
		page:     models.Position{Index: -1},
	}
	for _, opt := range opts {
		opt(s)
	}

	syncOpts := []timeline.Option{}
	if s.events != nil {
		syncOpts = append(syncOpts, timeline.WithEventService(s.events))
	}
	s.sync = timeline.NewSynchronizer(logger, syncOpts...)

	consumers := []timeline.Consumer{
		&auditConsumer{s: s},
		&chatConsumer{s: s},
		&graphConsumer{s: s},
		&auditPageConsumer{s: s},
	}
	for _, c := range consumers {
		if err := s.sync.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register %s consumer: %w", c.Name(), err)
		}
	}

	return s, nil
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// JobID returns the job the session has loaded, or ""
func (s *Session) JobID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobID
}

// Window exposes the underlying window manager
func (s *Session) Window() *window.Manager {
	return s.window
}

// LoadJob loads a job and places every view at its end
func (s *Session) LoadJob(ctx context.Context, jobID string) error {
	if err := s.window.LoadJob(ctx, jobID); err != nil {
		return err
	}

	s.mu.RLock()
	same := s.jobID == jobID && s.recon != nil
	s.mu.RUnlock()
	if same {
		return nil
	}

	if err := s.loadJobChanges(ctx, jobID); err != nil {
		return err
	}

	s.logger.Info().
		Str("session_id", s.id).
		Str("job_id", jobID).
		Msg("Session job loaded")

	_, err := s.SeekToEnd(ctx)
	return err
}

// loadJobChanges reads the full delta log and snapshot list of the loaded job
// into a fresh reconstructor
func (s *Session) loadJobChanges(ctx context.Context, jobID string) error {
	deltas, snapshots, err := s.window.GraphHistory(ctx)
	if err != nil {
		return fmt.Errorf("failed to load graph history: %w", err)
	}
	if s.window.JobID() != jobID {
		return fmt.Errorf("load of job %s: %w", jobID, window.ErrJobSwitched)
	}

	recon := graph.NewReconstructor(deltas, snapshots,
		graph.WithLogger(s.logger),
		graph.WithCheckpointInterval(s.config.CheckpointInterval),
	)
	scrubber := graph.NewScrubber(
		graph.WithJumpVelocity(s.config.JumpVelocity),
		graph.WithMaxIncrementalFrames(s.config.MaxIncrementalFrames),
	)

	s.mu.Lock()
	s.jobID = jobID
	s.recon = recon
	s.scrubber = scrubber
	s.rendered = nil
	s.lastSeek = graph.SeekResult{}
	s.page = models.Position{Index: -1}
	s.timeRange = nil
	s.mu.Unlock()

	s.logger.Debug().
		Str("job_id", jobID).
		Int("delta_count", len(deltas)).
		Int("snapshot_count", len(snapshots)).
		Msg("Graph history loaded")

	return nil
}

func (s *Session) loaded() (string, *graph.Reconstructor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.recon == nil || s.jobID == "" {
		return "", nil, ErrNoJob
	}
	return s.jobID, s.recon, nil
}

// SetSliderIndex moves the global slider to an audit index and brings every
// other view to the same instant. It returns the clamped index.
func (s *Session) SetSliderIndex(ctx context.Context, index int) (int, error) {
	if _, _, err := s.loaded(); err != nil {
		return -1, err
	}

	clamped, err := s.window.SetSliderIndex(ctx, index)
	if err != nil {
		return clamped, err
	}
	if clamped < 0 {
		// Empty audit log: the graph still shows its final state
		_, recon, _ := s.loaded()
		_, err := s.renderGraph(ctx, recon.MaxIndex(), timeline.OriginGlobal)
		return clamped, err
	}

	ts, err := s.window.TimestampAt(ctx, models.StreamAudit, clamped)
	if err != nil {
		return clamped, fmt.Errorf("failed to resolve slider timestamp: %w", err)
	}
	if _, err := s.sync.Seek(ctx, ts, timeline.OriginGlobal); err != nil {
		return clamped, err
	}
	return clamped, nil
}

// SeekToStart moves the slider to the first entry
func (s *Session) SeekToStart(ctx context.Context) (int, error) {
	return s.SetSliderIndex(ctx, 0)
}

// SeekToEnd moves the slider to the last entry
func (s *Session) SeekToEnd(ctx context.Context) (int, error) {
	return s.SetSliderIndex(ctx, s.window.MaxIndex())
}

// SeekTimestamp moves the global cursor to an instant
func (s *Session) SeekTimestamp(ctx context.Context, ts time.Time) (models.Cursor, error) {
	if _, _, err := s.loaded(); err != nil {
		return models.Cursor{}, err
	}
	return s.sync.Seek(ctx, ts, timeline.OriginGlobal)
}

// FocusEntry moves one stream to an entry, e.g. when a chat turn is clicked,
// and brings the other views to its timestamp.
func (s *Session) FocusEntry(ctx context.Context, stream models.StreamKind, index int) (models.Cursor, error) {
	if _, _, err := s.loaded(); err != nil {
		return models.Cursor{}, err
	}

	var origin string
	switch stream {
	case models.StreamAudit:
		origin = ConsumerAudit
	case models.StreamChat:
		origin = ConsumerChat
	case models.StreamGraph:
		origin = ConsumerGraph
	default:
		return models.Cursor{}, fmt.Errorf("unknown stream: %s", stream)
	}

	clamped, err := s.window.SetStreamCursor(ctx, stream, index)
	if err != nil {
		return models.Cursor{}, err
	}
	if clamped < 0 {
		return s.sync.Cursor(), nil
	}

	ts, err := s.window.TimestampAt(ctx, stream, clamped)
	if err != nil {
		return models.Cursor{}, fmt.Errorf("failed to resolve %s timestamp: %w", stream, err)
	}
	if stream == models.StreamGraph {
		if _, err := s.renderGraph(ctx, clamped, origin); err != nil {
			return models.Cursor{}, err
		}
	}
	return s.sync.Seek(ctx, ts, origin)
}

// ScrubGraph drives the graph view directly without moving the global cursor.
// The graph stays detached until the next global seek.
func (s *Session) ScrubGraph(ctx context.Context, index int) (*GraphView, error) {
	if _, _, err := s.loaded(); err != nil {
		return nil, err
	}
	if err := s.sync.SetOverride(ConsumerGraph, true); err != nil {
		return nil, err
	}
	return s.renderGraph(ctx, index, "scrub")
}

// SetFilter changes the category filter of the audit views
func (s *Session) SetFilter(filter models.FilterCategory) {
	s.window.SetFilter(filter)
}

// Refresh clears and refetches the loaded job, then re-applies the slider
func (s *Session) Refresh(ctx context.Context) error {
	jobID, _, err := s.loaded()
	if err != nil {
		return err
	}
	if err := s.window.Refresh(ctx); err != nil {
		return err
	}
	if err := s.loadJobChanges(ctx, jobID); err != nil {
		return err
	}
	_, err = s.SetSliderIndex(ctx, s.window.SliderIndex())
	return err
}

// CheckForUpdates pulls new entries of the loaded job. Views that sat at the
// end of the log follow the new end.
func (s *Session) CheckForUpdates(ctx context.Context) (bool, error) {
	jobID, _, err := s.loaded()
	if err != nil {
		return false, err
	}

	changed, err := s.window.CheckForUpdates(ctx)
	if err != nil || !changed {
		return changed, err
	}

	if err := s.loadJobChanges(ctx, jobID); err != nil {
		return true, err
	}
	if _, err := s.SetSliderIndex(ctx, s.window.SliderIndex()); err != nil {
		return true, err
	}
	return true, nil
}

// TimeRange returns the first and last audit timestamps of the loaded job.
// It falls back to the local entries when the API is unreachable.
func (s *Session) TimeRange(ctx context.Context) (*models.TimeRange, error) {
	jobID, _, err := s.loaded()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	cached := s.timeRange
	s.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	tr, err := s.api.GetTimeRange(ctx, jobID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Time range endpoint failed, reading local entries")

		maxIndex := s.window.MaxIndex()
		if maxIndex < 0 {
			return &models.TimeRange{}, nil
		}
		start, startErr := s.window.TimestampAt(ctx, models.StreamAudit, 0)
		end, endErr := s.window.TimestampAt(ctx, models.StreamAudit, maxIndex)
		if startErr != nil || endErr != nil {
			return nil, fmt.Errorf("failed to resolve time range: %w", err)
		}
		tr = &models.TimeRange{Start: start, End: end}
	}

	s.mu.Lock()
	if s.jobID == jobID {
		s.timeRange = tr
	}
	s.mu.Unlock()
	return tr, nil
}

// AuditPage returns the page of the paginated audit view that holds the
// cursor, filtered by the active category
func (s *Session) AuditPage(ctx context.Context) (*models.AuditPage, error) {
	if _, _, err := s.loaded(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	pos := s.page
	pageSize := s.pageSize
	s.mu.RUnlock()

	if pos.Index < 0 {
		pos = models.Position{Index: -1, Page: 0}
	}

	start := pos.Page * pageSize
	entries, err := s.window.AuditRange(ctx, start, start+pageSize-1)
	if err != nil {
		return nil, err
	}

	filter := s.window.Filter()
	visible := make([]models.AuditEntry, 0, len(entries))
	for _, entry := range entries {
		if filter.Allows(entry.StepType) {
			visible = append(visible, entry)
		}
	}

	return &models.AuditPage{
		Page:     pos.Page,
		PageSize: pageSize,
		Focus:    pos.Index,
		Entries:  visible,
		Total:    s.window.TotalEntries(),
	}, nil
}

// VisibleAuditEntries returns the audit entries shown up to the slider
func (s *Session) VisibleAuditEntries() []models.AuditEntry {
	return s.window.VisibleAuditEntries()
}

// VisibleChatEntries returns the chat turns shown up to the chat cursor
func (s *Session) VisibleChatEntries() []models.ChatEntry {
	return s.window.VisibleChatEntries()
}

// RenderedGraphState returns the graph currently on screen
func (s *Session) RenderedGraphState() *models.RenderedGraph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rendered
}

// CurrentTimestamp returns the timestamp at the slider
func (s *Session) CurrentTimestamp() (time.Time, bool) {
	return s.window.CurrentTimestamp()
}

// TotalEntries returns the audit entry count
func (s *Session) TotalEntries() int {
	return s.window.TotalEntries()
}

// Status returns the loading state
func (s *Session) Status() window.Status {
	return s.window.Status()
}

// Cursor returns the synchronizer cursor
func (s *Session) Cursor() models.Cursor {
	return s.sync.Cursor()
}

// State summarises the session
func (s *Session) State() State {
	s.mu.RLock()
	jobID := s.jobID
	graphIndex := -1
	if s.rendered != nil {
		graphIndex = s.rendered.Index
	}
	strategy := s.lastSeek.Strategy
	page := s.page
	s.mu.RUnlock()

	state := State{
		SessionID:     s.id,
		JobID:         jobID,
		Status:        s.window.Status(),
		Cursor:        s.sync.Cursor(),
		SliderIndex:   s.window.SliderIndex(),
		MaxIndex:      s.window.MaxIndex(),
		TotalEntries:  s.window.TotalEntries(),
		Filter:        s.window.Filter(),
		GraphIndex:    graphIndex,
		GraphOverride: s.sync.Override(ConsumerGraph),
		GraphStrategy: strategy,
		Counts:        s.window.Counts(),
		Windows:       s.window.WindowBounds(),
		AuditPage:     page,
	}
	if ts, ok := s.window.CurrentTimestamp(); ok {
		state.CurrentTimestamp = &ts
	}
	return state
}

// Superseded returns how many stream resolutions lost to a newer seek
func (s *Session) Superseded() uint64 {
	return s.sync.Superseded()
}
