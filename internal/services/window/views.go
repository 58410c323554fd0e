package window

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/rewind/internal/models"
)

// JobID returns the loaded job, or "" when none
func (m *Manager) JobID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.job == nil {
		return ""
	}
	return m.job.jobID
}

// IsLoaded reports whether a job finished loading
func (m *Manager) IsLoaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.job != nil && m.job.loaded
}

// Status returns the current loading state
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// SetFilter changes the category filter of the visible audit entries
func (m *Manager) SetFilter(filter models.FilterCategory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.filter = filter
}

func (m *Manager) Filter() models.FilterCategory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter
}

// Counts returns the known entry count per stream
func (m *Manager) Counts() map[models.StreamKind]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.job == nil {
		return map[models.StreamKind]int{}
	}
	return m.job.counts.clone()
}

// TotalEntries returns the audit entry count
func (m *Manager) TotalEntries() int {
	return m.Counts()[models.StreamAudit]
}

// MaxIndex returns the last audit index, or -1
func (m *Manager) MaxIndex() int {
	return m.TotalEntries() - 1
}

// Cursor returns the cursor index of one stream, or -1
func (m *Manager) Cursor(stream models.StreamKind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.job == nil || !m.job.loaded {
		return -1
	}
	return m.job.cursors[stream]
}

// SliderIndex returns the audit cursor
func (m *Manager) SliderIndex() int {
	return m.Cursor(models.StreamAudit)
}

// WindowBounds returns the resident bounds of every stream
func (m *Manager) WindowBounds() map[models.StreamKind]Bounds {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[models.StreamKind]Bounds, len(models.Streams))
	var w *Window
	if m.job != nil {
		w = m.job.window
	}
	for _, stream := range models.Streams {
		out[stream] = w.Bounds(stream)
	}
	return out
}

// VisibleAuditEntries returns the resident audit entries from the window start
// up to the slider, filtered by the active category.
func (m *Manager) VisibleAuditEntries() []models.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.AuditEntry{}
	if m.job == nil || m.job.window == nil {
		return out
	}
	cursor := m.job.cursors[models.StreamAudit]
	for _, entry := range m.job.window.AuditEntries {
		if entry.Index > cursor {
			break
		}
		if m.filter.Allows(entry.StepType) {
			out = append(out, entry)
		}
	}
	return out
}

// VisibleChatEntries returns the resident chat turns up to the chat cursor
func (m *Manager) VisibleChatEntries() []models.ChatEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.ChatEntry{}
	if m.job == nil || m.job.window == nil {
		return out
	}
	cursor := m.job.cursors[models.StreamChat]
	for _, entry := range m.job.window.ChatEntries {
		if entry.SequenceNumber > cursor {
			break
		}
		out = append(out, entry)
	}
	return out
}

// VisibleGraphDeltas returns the resident deltas up to the graph cursor
func (m *Manager) VisibleGraphDeltas() []models.GraphDelta {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []models.GraphDelta{}
	if m.job == nil || m.job.window == nil {
		return out
	}
	cursor := m.job.cursors[models.StreamGraph]
	for _, delta := range m.job.window.GraphDeltas {
		if delta.ToolCallIndex > cursor {
			break
		}
		out = append(out, delta)
	}
	return out
}

// CurrentTimestamp returns the timestamp of the audit entry at the slider.
// It is false when the slider lies outside the resident window.
func (m *Manager) CurrentTimestamp() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.job == nil || m.job.window == nil {
		return time.Time{}, false
	}
	return residentTimestamp(m.job.window, models.StreamAudit, m.job.cursors[models.StreamAudit])
}

// residentTimestamp looks up index in the resident slice of a stream
func residentTimestamp(w *Window, stream models.StreamKind, index int) (time.Time, bool) {
	b := w.Bounds(stream)
	if !b.Contains(index) {
		return time.Time{}, false
	}
	pos := index - b.Start
	switch stream {
	case models.StreamAudit:
		if pos < len(w.AuditEntries) && w.AuditEntries[pos].Index == index {
			return w.AuditEntries[pos].Timestamp, true
		}
	case models.StreamChat:
		if pos < len(w.ChatEntries) && w.ChatEntries[pos].SequenceNumber == index {
			return w.ChatEntries[pos].Timestamp, true
		}
	case models.StreamGraph:
		if pos < len(w.GraphDeltas) && w.GraphDeltas[pos].ToolCallIndex == index {
			return w.GraphDeltas[pos].Timestamp, true
		}
	}
	return time.Time{}, false
}

// residentTimestamps lists the timestamps of the resident slice of a stream
func residentTimestamps(w *Window, stream models.StreamKind) []time.Time {
	var out []time.Time
	switch stream {
	case models.StreamAudit:
		for _, e := range w.AuditEntries {
			out = append(out, e.Timestamp)
		}
	case models.StreamChat:
		for _, e := range w.ChatEntries {
			out = append(out, e.Timestamp)
		}
	case models.StreamGraph:
		for _, d := range w.GraphDeltas {
			out = append(out, d.Timestamp)
		}
	}
	return out
}

// TimestampAt returns the timestamp of an entry, reading through the window
// first and the store or API otherwise.
func (m *Manager) TimestampAt(ctx context.Context, stream models.StreamKind, index int) (time.Time, error) {
	m.mu.RLock()
	st := m.job
	var w *Window
	if st != nil {
		w = st.window
	}
	m.mu.RUnlock()

	if st == nil || !st.loaded {
		return time.Time{}, ErrNoJobLoaded
	}
	if w != nil {
		if ts, ok := residentTimestamp(w, stream, index); ok {
			return ts, nil
		}
	}

	b := Bounds{Start: index, End: index}
	var ts time.Time
	var found bool
	switch stream {
	case models.StreamAudit:
		entries, err := m.readAudit(ctx, st, b)
		if err != nil {
			return time.Time{}, err
		}
		if len(entries) > 0 {
			ts, found = entries[0].Timestamp, true
		}
	case models.StreamChat:
		entries, err := m.readChat(ctx, st, b)
		if err != nil {
			return time.Time{}, err
		}
		if len(entries) > 0 {
			ts, found = entries[0].Timestamp, true
		}
	case models.StreamGraph:
		deltas, err := m.readGraph(ctx, st, b)
		if err != nil {
			return time.Time{}, err
		}
		if len(deltas) > 0 {
			ts, found = deltas[0].Timestamp, true
		}
	}
	if !found {
		return time.Time{}, fmt.Errorf("%s entry %d not found", stream, index)
	}
	return ts, nil
}

// IndexAtTimestamp returns the last index of a stream whose timestamp <= ts,
// or -1 when ts precedes the stream. The resident window answers when it can.
func (m *Manager) IndexAtTimestamp(ctx context.Context, stream models.StreamKind, ts time.Time) (int, error) {
	m.mu.RLock()
	st := m.job
	var w *Window
	var total int
	if st != nil {
		w = st.window
		total = st.counts[stream]
	}
	m.mu.RUnlock()

	if st == nil || !st.loaded {
		return -1, ErrNoJobLoaded
	}
	if total == 0 {
		return -1, nil
	}

	if w != nil {
		if index, ok := windowIndexAtTimestamp(w, stream, total, ts); ok {
			return index, nil
		}
	}

	if !st.remote {
		switch stream {
		case models.StreamAudit:
			return m.storage.AuditStorage().IndexAtTimestamp(ctx, st.jobID, ts)
		case models.StreamChat:
			return m.storage.ChatStorage().IndexAtTimestamp(ctx, st.jobID, ts)
		case models.StreamGraph:
			return m.storage.GraphStorage().IndexAtTimestamp(ctx, st.jobID, ts)
		}
		return -1, fmt.Errorf("unknown stream: %s", stream)
	}

	// Pure-remote: binary search with single-entry probes
	var searchErr error
	i := sort.Search(total, func(i int) bool {
		if searchErr != nil {
			return true
		}
		probe, err := m.TimestampAt(ctx, stream, i)
		if err != nil {
			searchErr = err
			return true
		}
		return probe.After(ts)
	})
	if searchErr != nil {
		return -1, searchErr
	}
	return i - 1, nil
}

// windowIndexAtTimestamp answers from the resident slice when ts falls inside it
func windowIndexAtTimestamp(w *Window, stream models.StreamKind, total int, ts time.Time) (int, bool) {
	b := w.Bounds(stream)
	stamps := residentTimestamps(w, stream)
	if len(stamps) == 0 || len(stamps) != b.Len() {
		return -1, false
	}
	if ts.Before(stamps[0]) {
		if b.Start == 0 {
			return -1, true
		}
		return -1, false
	}
	if !ts.Before(stamps[len(stamps)-1]) && b.End < total-1 {
		return -1, false
	}
	i := sort.Search(len(stamps), func(i int) bool {
		return stamps[i].After(ts)
	})
	return b.Start + i - 1, true
}

// AuditRange reads audit entries outside the window, e.g. for inspection tools
func (m *Manager) AuditRange(ctx context.Context, start, end int) ([]models.AuditEntry, error) {
	st, err := m.loadedJob()
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	total := st.counts[models.StreamAudit]
	m.mu.RUnlock()

	if start < 0 {
		start = 0
	}
	if end > total-1 {
		end = total - 1
	}
	return m.readAudit(ctx, st, Bounds{Start: start, End: end})
}

// GraphHistory returns the complete delta log and the snapshot list of the
// loaded job, from the store or, in pure-remote mode, from the API.
func (m *Manager) GraphHistory(ctx context.Context) ([]models.GraphDelta, []models.GraphSnapshot, error) {
	st, err := m.loadedJob()
	if err != nil {
		return nil, nil, err
	}
	m.mu.RLock()
	total := st.counts[models.StreamGraph]
	m.mu.RUnlock()

	all := Bounds{Start: 0, End: total - 1}

	if !st.remote {
		deltas, err := m.readGraph(ctx, st, all)
		if err != nil {
			return nil, nil, err
		}
		snapshots, err := m.storage.GraphStorage().GetSnapshots(ctx, st.jobID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read graph snapshots: %w", err)
		}
		return deltas, snapshots, nil
	}

	deltas, err := readPaged(ctx, all, m.config.BulkFetchSize, m.remoteGraphPage(st.jobID))
	if err != nil {
		return nil, nil, err
	}
	snapshots, err := m.api.GetSnapshots(ctx, st.jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch graph snapshots: %w", err)
	}
	return deltas, snapshots, nil
}

// readPaged reads bounds in chunks of at most pageSize
func readPaged[T any](ctx context.Context, b Bounds, pageSize int, fetch func(ctx context.Context, offset, limit int) ([]T, error)) ([]T, error) {
	out := make([]T, 0, b.Len())
	for start := b.Start; start <= b.End; start += pageSize {
		end := start + pageSize - 1
		if end > b.End {
			end = b.End
		}
		chunk, err := readRemote(ctx, Bounds{Start: start, End: end}, fetch)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
		if len(chunk) < end-start+1 {
			break
		}
	}
	return out, nil
}
