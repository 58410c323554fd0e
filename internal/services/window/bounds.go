package window

import "github.com/ternarybob/rewind/internal/models"

// Bounds is an inclusive index range; End < Start means empty
type Bounds struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

var emptyBounds = Bounds{Start: 0, End: -1}

// Len returns the number of indices covered
func (b Bounds) Len() int {
	if b.End < b.Start {
		return 0
	}
	return b.End - b.Start + 1
}

// Contains reports whether i lies inside the bounds
func (b Bounds) Contains(i int) bool {
	return i >= b.Start && i <= b.End
}

// boundsAround centres a window of size on cursor, clamped to [0, total-1].
// The window keeps size entries unless the log itself is shorter.
func boundsAround(cursor, total, size int) Bounds {
	if total <= 0 {
		return emptyBounds
	}
	start := cursor - size/2
	if start < 0 {
		start = 0
	}
	end := start + size - 1
	if end > total-1 {
		end = total - 1
	}
	start = end - size + 1
	if start < 0 {
		start = 0
	}
	return Bounds{Start: start, End: end}
}

// needsRecentre reports whether cursor left the window or came within padding
// of an edge that is not also an edge of the log. A cursor before the first
// entry is served by a window starting at 0.
func needsRecentre(b Bounds, cursor, total, padding int) bool {
	if total <= 0 {
		return b != emptyBounds
	}
	if cursor < 0 {
		cursor = 0
	}
	if !b.Contains(cursor) {
		return true
	}
	if b.Start > 0 && cursor-b.Start < padding {
		return true
	}
	if b.End < total-1 && b.End-cursor < padding {
		return true
	}
	return false
}

// Window is the resident slice of all three streams. It is never mutated
// after construction; recentres swap in a new Window.
type Window struct {
	Audit Bounds `json:"audit"`
	Chat  Bounds `json:"chat"`
	Graph Bounds `json:"graph"`

	AuditEntries []models.AuditEntry `json:"-"`
	ChatEntries  []models.ChatEntry  `json:"-"`
	GraphDeltas  []models.GraphDelta `json:"-"`
}

// Bounds returns the bounds of one stream
func (w *Window) Bounds(stream models.StreamKind) Bounds {
	if w == nil {
		return emptyBounds
	}
	switch stream {
	case models.StreamAudit:
		return w.Audit
	case models.StreamChat:
		return w.Chat
	case models.StreamGraph:
		return w.Graph
	}
	return emptyBounds
}

// streamCounts holds one int per stream
type streamCounts map[models.StreamKind]int

func (c streamCounts) clone() streamCounts {
	out := make(streamCounts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
