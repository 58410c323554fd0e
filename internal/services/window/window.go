package window

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
	"github.com/ternarybob/rewind/internal/observability"
	"golang.org/x/sync/errgroup"
)

// SetSliderIndex moves the audit cursor and returns the clamped index
func (m *Manager) SetSliderIndex(ctx context.Context, index int) (int, error) {
	return m.SetStreamCursor(ctx, models.StreamAudit, index)
}

// SetStreamCursor moves the cursor of one stream, clamped into [0, count-1],
// and recentres the window when the cursor nears an edge. Chat and graph
// cursors accept -1, which shows none of their entries.
func (m *Manager) SetStreamCursor(ctx context.Context, stream models.StreamKind, index int) (int, error) {
	m.mu.Lock()
	st := m.job
	if st == nil || !st.loaded {
		m.mu.Unlock()
		return -1, ErrNoJobLoaded
	}
	clamped := clampCursor(stream, index, st.counts[stream])
	st.cursors[stream] = clamped
	m.mu.Unlock()

	if err := m.ensureWindow(ctx); err != nil {
		return clamped, err
	}
	return clamped, nil
}

// ensureWindow recentres until the resident window covers every cursor with
// padding. Each pass reads all three streams in parallel and swaps the window
// only when every read succeeded.
func (m *Manager) ensureWindow(ctx context.Context) error {
	m.recentreMu.Lock()
	defer m.recentreMu.Unlock()

	for {
		m.mu.RLock()
		st := m.job
		if st == nil {
			m.mu.RUnlock()
			return ErrNoJobLoaded
		}
		current := st.window
		cursors := st.cursors.clone()
		counts := st.counts.clone()
		m.mu.RUnlock()

		if current != nil && !m.windowStale(current, cursors, counts) {
			return nil
		}

		size := m.config.WindowSize
		next := &Window{
			Audit: boundsAround(cursors[models.StreamAudit], counts[models.StreamAudit], size),
			Chat:  boundsAround(cursors[models.StreamChat], counts[models.StreamChat], size),
			Graph: boundsAround(cursors[models.StreamGraph], counts[models.StreamGraph], size),
		}

		start := time.Now()
		err := m.readWindow(ctx, st, next)
		observability.RecordRecentre(err, time.Since(start))
		if err != nil {
			if ctx.Err() == nil {
				m.surfaceError(st, err)
			}
			m.logger.Warn().
				Err(err).
				Str("job_id", st.jobID).
				Msg("Window recentre failed, keeping previous window")
			return fmt.Errorf("failed to recentre window: %w", err)
		}

		m.mu.Lock()
		if m.job != st {
			m.mu.Unlock()
			return ErrJobSwitched
		}
		st.window = next
		m.mu.Unlock()

		m.logger.Debug().
			Str("job_id", st.jobID).
			Int("audit_start", next.Audit.Start).
			Int("audit_end", next.Audit.End).
			Int("chat_start", next.Chat.Start).
			Int("graph_start", next.Graph.Start).
			Msg("Window swapped")

		m.publish(ctx, interfaces.EventWindowSwapped, map[string]interface{}{
			"job_id": st.jobID,
			"audit":  next.Audit,
			"chat":   next.Chat,
			"graph":  next.Graph,
		})
	}
}

func (m *Manager) windowStale(w *Window, cursors, counts streamCounts) bool {
	for _, stream := range models.Streams {
		if needsRecentre(w.Bounds(stream), cursors[stream], counts[stream], m.config.WindowPadding) {
			return true
		}
	}
	return false
}

// readWindow fills next with the entries of its bounds
func (m *Manager) readWindow(ctx context.Context, st *jobState, next *Window) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		entries, err := m.readAudit(gctx, st, next.Audit)
		next.AuditEntries = entries
		return err
	})
	g.Go(func() error {
		entries, err := m.readChat(gctx, st, next.Chat)
		next.ChatEntries = entries
		return err
	})
	g.Go(func() error {
		deltas, err := m.readGraph(gctx, st, next.Graph)
		next.GraphDeltas = deltas
		return err
	})

	return g.Wait()
}

func (m *Manager) readAudit(ctx context.Context, st *jobState, b Bounds) ([]models.AuditEntry, error) {
	if b.Len() == 0 {
		return []models.AuditEntry{}, nil
	}
	if !st.remote {
		entries, err := m.storage.AuditStorage().GetRange(ctx, st.jobID, b.Start, b.End)
		if err != nil {
			return nil, fmt.Errorf("failed to read audit range: %w", err)
		}
		return entries, nil
	}
	return readRemote(ctx, b, func(ctx context.Context, offset, limit int) ([]models.AuditEntry, error) {
		resp, err := m.api.GetAuditBulk(ctx, st.jobID, offset, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch audit range: %w", err)
		}
		for i := range resp.Entries {
			resp.Entries[i].JobID = st.jobID
			resp.Entries[i].Index = offset + i
		}
		return resp.Entries, nil
	})
}

func (m *Manager) readChat(ctx context.Context, st *jobState, b Bounds) ([]models.ChatEntry, error) {
	if b.Len() == 0 {
		return []models.ChatEntry{}, nil
	}
	if !st.remote {
		entries, err := m.storage.ChatStorage().GetRange(ctx, st.jobID, b.Start, b.End)
		if err != nil {
			return nil, fmt.Errorf("failed to read chat range: %w", err)
		}
		return entries, nil
	}
	return readRemote(ctx, b, func(ctx context.Context, offset, limit int) ([]models.ChatEntry, error) {
		resp, err := m.api.GetChatBulk(ctx, st.jobID, offset, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chat range: %w", err)
		}
		for i := range resp.Entries {
			resp.Entries[i].JobID = st.jobID
			resp.Entries[i].SequenceNumber = offset + i
		}
		return resp.Entries, nil
	})
}

func (m *Manager) readGraph(ctx context.Context, st *jobState, b Bounds) ([]models.GraphDelta, error) {
	if b.Len() == 0 {
		return []models.GraphDelta{}, nil
	}
	if !st.remote {
		deltas, err := m.storage.GraphStorage().GetRange(ctx, st.jobID, b.Start, b.End)
		if err != nil {
			return nil, fmt.Errorf("failed to read graph range: %w", err)
		}
		return deltas, nil
	}
	return readRemote(ctx, b, m.remoteGraphPage(st.jobID))
}

func (m *Manager) remoteGraphPage(jobID string) func(context.Context, int, int) ([]models.GraphDelta, error) {
	return func(ctx context.Context, offset, limit int) ([]models.GraphDelta, error) {
		resp, err := m.api.GetGraphBulk(ctx, jobID, offset, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch graph range: %w", err)
		}
		for i := range resp.Deltas {
			resp.Deltas[i].JobID = jobID
			resp.Deltas[i].ToolCallIndex = offset + i
		}
		return resp.Deltas, nil
	}
}

// readRemote reads bounds through a bulk endpoint, following short pages
func readRemote[T any](ctx context.Context, b Bounds, fetch func(ctx context.Context, offset, limit int) ([]T, error)) ([]T, error) {
	out := make([]T, 0, b.Len())
	for offset := b.Start; offset <= b.End; {
		page, err := fetch(ctx, offset, b.End-offset+1)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		out = append(out, page...)
		offset += len(page)
	}
	if len(out) > b.Len() {
		out = out[:b.Len()]
	}
	return out, nil
}
