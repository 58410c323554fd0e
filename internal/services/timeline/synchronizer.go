// Package timeline owns the single scrub cursor and fans each seek out to the
// views that follow it.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
	"github.com/ternarybob/rewind/internal/observability"
)

// OriginGlobal marks seeks from the global slider. They reach every consumer
// and clear manual overrides.
const OriginGlobal = "global"

// Consumer is a view that follows the cursor in its own stream coordinates
type Consumer interface {
	Name() string
	// Resolve maps a timestamp to a position in the consumer's stream
	Resolve(ctx context.Context, ts time.Time) (models.Position, error)
	// Apply moves the view to a resolved position
	Apply(ctx context.Context, pos models.Position, cursor models.Cursor) error
}

type consumerState struct {
	consumer    Consumer
	lastHandled uint64
	override    bool
	position    models.Position
	applyMu     sync.Mutex
}

// Synchronizer holds the cursor and the registered consumers
type Synchronizer struct {
	logger arbor.ILogger
	events interfaces.EventService

	mu         sync.Mutex
	cursor     models.Cursor
	consumers  map[string]*consumerState
	order      []string
	superseded uint64
}

// Option configures a Synchronizer
type Option func(*Synchronizer)

// WithEventService publishes cursor changes on the bus
func WithEventService(events interfaces.EventService) Option {
	return func(s *Synchronizer) {
		s.events = events
	}
}

// NewSynchronizer creates a synchronizer with no consumers
func NewSynchronizer(logger arbor.ILogger, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		logger:    logger,
		consumers: make(map[string]*consumerState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a consumer; names must be unique and must not be OriginGlobal
func (s *Synchronizer) Register(c Consumer) error {
	name := c.Name()
	if name == "" || name == OriginGlobal {
		return fmt.Errorf("invalid consumer name: %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.consumers[name]; exists {
		return fmt.Errorf("consumer already registered: %s", name)
	}
	s.consumers[name] = &consumerState{
		consumer: c,
		position: models.Position{Index: -1},
	}
	s.order = append(s.order, name)
	return nil
}

// Cursor returns the current cursor
func (s *Synchronizer) Cursor() models.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// SeekVersion returns the version of the latest seek
func (s *Synchronizer) SeekVersion() uint64 {
	return s.Cursor().Version
}

// Superseded returns how many resolutions were discarded because a newer seek won
func (s *Synchronizer) Superseded() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.superseded
}

// SetOverride lets one consumer be driven directly. The next global seek clears it.
func (s *Synchronizer) SetOverride(name string, on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cs, ok := s.consumers[name]
	if !ok {
		return fmt.Errorf("unknown consumer: %s", name)
	}
	cs.override = on
	return nil
}

// Override reports whether a consumer is manually driven
func (s *Synchronizer) Override(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.consumers[name]
	return ok && cs.override
}

// Position returns the last position applied to a consumer
func (s *Synchronizer) Position(name string) (models.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.consumers[name]
	if !ok {
		return models.Position{Index: -1}, false
	}
	return cs.position, true
}

// Seek moves the cursor to ts and dispatches it to every consumer that has
// not handled this version yet. The origin consumer counts as having handled
// it already. Consumers run concurrently; their errors are joined.
func (s *Synchronizer) Seek(ctx context.Context, ts time.Time, origin string) (models.Cursor, error) {
	s.mu.Lock()
	s.cursor = models.Cursor{Timestamp: ts, Version: s.cursor.Version + 1}
	cursor := s.cursor

	if origin == OriginGlobal {
		for _, cs := range s.consumers {
			cs.override = false
		}
	}
	if cs, ok := s.consumers[origin]; ok {
		cs.lastHandled = cursor.Version
	}

	targets := make([]*consumerState, 0, len(s.order))
	for _, name := range s.order {
		cs := s.consumers[name]
		if cs.lastHandled >= cursor.Version {
			continue
		}
		if cs.override && origin != OriginGlobal {
			continue
		}
		targets = append(targets, cs)
	}
	s.mu.Unlock()

	observability.RecordSeek(origin)

	s.logger.Debug().
		Str("origin", origin).
		Uint64("version", cursor.Version).
		Str("timestamp", ts.Format(time.RFC3339Nano)).
		Int("consumer_count", len(targets)).
		Msg("Cursor seek")

	var wg sync.WaitGroup
	errs := make([]error, len(targets))
	for i, cs := range targets {
		wg.Add(1)
		go func(i int, cs *consumerState) {
			defer wg.Done()
			errs[i] = s.dispatch(ctx, cs, cursor)
		}(i, cs)
	}
	wg.Wait()

	if s.events != nil {
		err := s.events.Publish(ctx, interfaces.Event{
			Type: interfaces.EventCursorChanged,
			Payload: map[string]interface{}{
				"timestamp": ts.UTC().Format(time.RFC3339Nano),
				"version":   cursor.Version,
				"origin":    origin,
			},
		})
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish cursor change")
		}
	}

	return cursor, errors.Join(errs...)
}

// dispatch resolves the cursor for one consumer and applies the result only
// while the cursor version is still the latest
func (s *Synchronizer) dispatch(ctx context.Context, cs *consumerState, cursor models.Cursor) error {
	name := cs.consumer.Name()

	pos, err := cs.consumer.Resolve(ctx, cursor.Timestamp)
	if err != nil {
		return fmt.Errorf("%s failed to resolve cursor: %w", name, err)
	}

	cs.applyMu.Lock()
	defer cs.applyMu.Unlock()

	s.mu.Lock()
	if s.cursor.Version != cursor.Version {
		s.superseded++
		s.mu.Unlock()

		observability.RecordSuperseded()
		s.logger.Debug().
			Str("consumer", name).
			Uint64("version", cursor.Version).
			Msg("Discarding superseded resolution")
		return nil
	}
	if cs.lastHandled >= cursor.Version {
		s.mu.Unlock()
		return nil
	}
	cs.lastHandled = cursor.Version
	cs.position = pos
	s.mu.Unlock()

	if err := cs.consumer.Apply(ctx, pos, cursor); err != nil {
		return fmt.Errorf("%s failed to apply cursor: %w", name, err)
	}
	return nil
}
