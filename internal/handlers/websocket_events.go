package handlers

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/common"
	"github.com/ternarybob/rewind/internal/interfaces"
	"golang.org/x/time/rate"
)

// EventSubscriber bridges bus events to WebSocket broadcasts
type EventSubscriber struct {
	handler       *WebSocketHandler
	eventService  interfaces.EventService
	logger        arbor.ILogger
	allowedEvents map[string]bool          // Whitelist of events to broadcast (empty = allow all)
	throttlers    map[string]*rate.Limiter // Rate limiters for high-frequency events
}

// NewEventSubscriber creates and initializes an event subscriber
// Automatically subscribes to every session event with config-driven filtering and throttling
func NewEventSubscriber(handler *WebSocketHandler, eventService interfaces.EventService, logger arbor.ILogger, config *common.WebSocketConfig) *EventSubscriber {
	s := &EventSubscriber{
		handler:      handler,
		eventService: eventService,
		logger:       logger,
	}

	// Empty list means allow all events
	s.allowedEvents = make(map[string]bool)
	if config != nil && len(config.AllowedEvents) > 0 {
		for _, eventType := range config.AllowedEvents {
			s.allowedEvents[eventType] = true
		}
	}

	s.throttlers = make(map[string]*rate.Limiter)
	if config != nil && len(config.ThrottleIntervals) > 0 {
		for eventType, intervalStr := range config.ThrottleIntervals {
			if duration, err := time.ParseDuration(intervalStr); err == nil {
				// Create rate limiter: 1 event per interval (burst=1)
				s.throttlers[eventType] = rate.NewLimiter(rate.Every(duration), 1)
				logger.Debug().
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Throttler initialized for event type")
			} else {
				logger.Warn().
					Err(err).
					Str("event_type", eventType).
					Str("interval", intervalStr).
					Msg("Failed to parse throttle interval - skipping throttler")
			}
		}
	}

	if eventService == nil {
		logger.Warn().Msg("EventSubscriber created with nil eventService - subscriptions will be skipped")
		return s
	}

	s.SubscribeAll()
	return s
}

// SubscribeAll registers the broadcaster for every session event type
func (s *EventSubscriber) SubscribeAll() {
	for _, eventType := range interfaces.AllEventTypes {
		if err := s.eventService.Subscribe(eventType, s.handleEvent); err != nil {
			s.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to subscribe WebSocket broadcaster")
		}
	}
	s.logger.Info().Int("event_types", len(interfaces.AllEventTypes)).Msg("EventSubscriber registered for session events")
}

func (s *EventSubscriber) handleEvent(ctx context.Context, event interfaces.Event) error {
	eventType := string(event.Type)
	if !s.shouldBroadcastEvent(eventType, isFinalProgress(event)) {
		return nil
	}
	s.handler.Broadcast(eventType, event.Payload)
	return nil
}

// shouldBroadcastEvent checks if an event should be broadcast based on whitelist and throttling.
// Final events bypass the throttle so a completed load always reaches the UI.
func (s *EventSubscriber) shouldBroadcastEvent(eventType string, final bool) bool {
	if len(s.allowedEvents) > 0 && !s.allowedEvents[eventType] {
		return false
	}
	if final {
		return true
	}

	if limiter, ok := s.throttlers[eventType]; ok {
		if !limiter.Allow() {
			s.logger.Debug().
				Str("event_type", eventType).
				Msg("Event throttled - rate limit exceeded")
			return false
		}
	}

	return true
}

// isFinalProgress reports whether a load_progress event finishes its stream
func isFinalProgress(event interfaces.Event) bool {
	if event.Type != interfaces.EventLoadProgress {
		return false
	}
	payload, ok := event.Payload.(map[string]interface{})
	if !ok {
		return false
	}
	progress, ok := payload["progress"].(int)
	return ok && progress >= 100
}
