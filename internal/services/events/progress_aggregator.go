package events

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
)

// ProgressAggregator coalesces load progress so the bus sees at most one
// load_progress event per job stream each interval.
// Updates arriving inside the interval replace each other; the latest is
// published by the periodic flush. Completed streams publish immediately.
type ProgressAggregator struct {
	mu       sync.Mutex
	interval time.Duration
	now      func() time.Time

	pending  map[string]models.LoadProgress
	lastSent map[string]time.Time

	events interfaces.EventService
	logger arbor.ILogger
}

// NewProgressAggregator creates an aggregator publishing to events
func NewProgressAggregator(interval time.Duration, events interfaces.EventService, logger arbor.ILogger) *ProgressAggregator {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	return &ProgressAggregator{
		interval: interval,
		now:      time.Now,
		pending:  make(map[string]models.LoadProgress),
		lastSent: make(map[string]time.Time),
		events:   events,
		logger:   logger,
	}
}

func progressKey(p models.LoadProgress) string {
	return p.JobID + "\x00" + string(p.Stream)
}

// Record accepts one progress update
func (a *ProgressAggregator) Record(ctx context.Context, p models.LoadProgress) {
	key := progressKey(p)
	now := a.now()

	a.mu.Lock()
	send := p.Done() || now.Sub(a.lastSent[key]) >= a.interval
	if send {
		delete(a.pending, key)
		if p.Done() {
			delete(a.lastSent, key)
		} else {
			a.lastSent[key] = now
		}
	} else {
		a.pending[key] = p
	}
	a.mu.Unlock()

	if send {
		a.publish(ctx, p)
	}
}

// FlushAll publishes every pending update
func (a *ProgressAggregator) FlushAll(ctx context.Context) {
	a.mu.Lock()
	now := a.now()
	batch := make([]models.LoadProgress, 0, len(a.pending))
	for key, p := range a.pending {
		batch = append(batch, p)
		a.lastSent[key] = now
		delete(a.pending, key)
	}
	a.mu.Unlock()

	if len(batch) > 0 {
		a.logger.Debug().
			Int("stream_count", len(batch)).
			Msg("Progress aggregator flushing pending updates")
	}
	for _, p := range batch {
		a.publish(ctx, p)
	}
}

// Forget drops tracking for a job, e.g. after its load failed
func (a *ProgressAggregator) Forget(jobID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, p := range a.pending {
		if p.JobID == jobID {
			delete(a.pending, key)
			delete(a.lastSent, key)
		}
	}
}

// StartPeriodicFlush flushes every interval until ctx is done
func (a *ProgressAggregator) StartPeriodicFlush(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				a.FlushAll(context.Background())
				return
			case <-ticker.C:
				a.FlushAll(ctx)
			}
		}
	}()
}

func (a *ProgressAggregator) publish(ctx context.Context, p models.LoadProgress) {
	err := a.events.Publish(ctx, interfaces.Event{
		Type:    interfaces.EventLoadProgress,
		Payload: p.Payload(),
	})
	if err != nil {
		a.logger.Warn().Err(err).Str("job_id", p.JobID).Msg("Failed to publish load progress")
	}
}
