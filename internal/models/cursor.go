package models

import "time"

// Cursor is the single source of truth for "now" on the timeline.
// Version increases on every seek and is never persisted.
type Cursor struct {
	Timestamp time.Time `json:"timestamp"`
	Version   uint64    `json:"version"`
}

// Position is where a consumer landed in its own stream after resolving a cursor.
// Index is -1 when the timestamp precedes the stream.
type Position struct {
	Index int `json:"index"`
	Page  int `json:"page,omitempty"`
}
