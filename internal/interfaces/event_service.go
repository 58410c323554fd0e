package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventLoadProgress - payload: map with job_id, stream, progress (0-100), fetched, total
	EventLoadProgress EventType = "load_progress"
	// EventLoadCompleted - payload: map with job_id, audit_count, chat_count, graph_delta_count, from_cache
	EventLoadCompleted EventType = "load_completed"
	// EventLoadFailed - payload: map with job_id, error
	EventLoadFailed EventType = "load_failed"
	// EventWindowSwapped - payload: map with job_id and per-stream window bounds
	EventWindowSwapped EventType = "window_swapped"
	// EventCursorChanged - payload: map with timestamp, version, origin
	EventCursorChanged EventType = "cursor_changed"
	// EventGraphFrame - payload: map with index, strategy, velocity, node_count, relationship_count
	EventGraphFrame EventType = "graph_frame"
	// EventJobUpdated - payload: map with job_id, server audit count; emitted by the poller
	EventJobUpdated EventType = "job_updated"
)

// AllEventTypes lists every event type, used for subscribing broadcasters
var AllEventTypes = []EventType{
	EventLoadProgress,
	EventLoadCompleted,
	EventLoadFailed,
	EventWindowSwapped,
	EventCursorChanged,
	EventGraphFrame,
	EventJobUpdated,
}

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
