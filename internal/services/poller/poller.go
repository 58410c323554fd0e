// Package poller re-polls the loaded job on a cron schedule so a job that is
// still running keeps growing on screen.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// DefaultSchedule is used when no schedule is configured
const DefaultSchedule = "@every 30s"

// Checker pulls new entries of the loaded job and reports whether anything changed
type Checker interface {
	CheckForUpdates(ctx context.Context) (bool, error)
}

// Status describes the poller for the UI
type Status struct {
	Running     bool       `json:"running"`
	Schedule    string     `json:"schedule"`
	IsPolling   bool       `json:"isPolling"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
	LastChanged *time.Time `json:"lastChanged,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// Service runs Checker.CheckForUpdates on a schedule
type Service struct {
	checker Checker
	logger  arbor.ILogger
	cron    *cron.Cron
	timeout time.Duration

	mu          sync.Mutex
	running     bool
	isPolling   bool
	schedule    string
	entryID     cron.EntryID
	lastRun     *time.Time
	lastChanged *time.Time
	lastError   string
}

// NewService creates a stopped poller. Each poll is bounded by timeout.
func NewService(checker Checker, logger arbor.ILogger, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Service{
		checker: checker,
		logger:  logger,
		cron:    cron.New(),
		timeout: timeout,
	}
}

// Start begins polling with the given cron expression
func (s *Service) Start(schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("poller already running")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}

	id, err := s.cron.AddFunc(schedule, s.poll)
	if err != nil {
		return fmt.Errorf("failed to add poll schedule: %w", err)
	}
	s.entryID = id
	s.schedule = schedule
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", schedule).
		Msg("Update poller started")
	return nil
}

// Stop halts polling and waits for a running poll to finish
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cron.Remove(s.entryID)
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.logger.Info().Msg("Update poller stopped")
	return nil
}

// IsRunning reports whether the poller is scheduled
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the poller state
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:     s.running,
		Schedule:    s.schedule,
		IsPolling:   s.isPolling,
		LastRun:     s.lastRun,
		LastChanged: s.lastChanged,
		LastError:   s.lastError,
	}
	if s.running {
		next := s.cron.Entry(s.entryID).Next
		if !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}

// PollNow runs one poll immediately. A poll already in flight is not doubled.
func (s *Service) PollNow(ctx context.Context) (bool, error) {
	return s.run(ctx)
}

// poll is the cron entry point
func (s *Service) poll() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("PANIC RECOVERED in update poll")

			s.mu.Lock()
			s.isPolling = false
			s.lastError = fmt.Sprintf("panic: %v", r)
			s.mu.Unlock()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.run(ctx); err != nil && !errors.Is(err, ErrPollInFlight) {
		s.logger.Debug().Err(err).Msg("Update poll failed")
	}
}

// ErrPollInFlight is returned by PollNow while another poll is running
var ErrPollInFlight = errors.New("poll already in flight")

func (s *Service) run(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.isPolling {
		s.mu.Unlock()
		return false, ErrPollInFlight
	}
	s.isPolling = true
	s.mu.Unlock()

	start := time.Now()
	changed, err := s.checker.CheckForUpdates(ctx)
	finished := time.Now()

	s.mu.Lock()
	s.isPolling = false
	s.lastRun = &finished
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
		if changed {
			s.lastChanged = &finished
		}
	}
	s.mu.Unlock()

	if changed {
		s.logger.Info().
			Dur("duration", time.Since(start)).
			Msg("Loaded job changed on the server")
	}
	return changed, err
}
