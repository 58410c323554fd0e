package replay

import (
	"context"
	"math"
	"time"

	"github.com/ternarybob/rewind/internal/interfaces"
	"github.com/ternarybob/rewind/internal/models"
	"github.com/ternarybob/rewind/internal/observability"
	"github.com/ternarybob/rewind/internal/services/graph"
)

// GraphView is the result of moving the graph view
type GraphView struct {
	Index    int                   `json:"index"`
	From     int                   `json:"from"`
	Strategy graph.Strategy        `json:"strategy"`
	Velocity float64               `json:"velocity"`
	Frames   []int                 `json:"frames"`
	Graph    *models.RenderedGraph `json:"graph"`
}

// RenderGraphAt renders an index without touching the scrubber or the cursor
func (s *Session) RenderGraphAt(index int) (*models.RenderedGraph, error) {
	_, recon, err := s.loaded()
	if err != nil {
		return nil, err
	}
	return recon.RenderAt(index), nil
}

// FindGraphIndexAt returns the last delta index at or before ts
func (s *Session) FindGraphIndexAt(ts time.Time) (int, error) {
	_, recon, err := s.loaded()
	if err != nil {
		return -1, err
	}
	return recon.FindIndexAtTimestamp(ts), nil
}

// renderGraph moves the graph view to index. Slow scrubs render every
// intermediate frame so changes animate; fast scrubs render the landing
// index only. Each rendered frame is published.
func (s *Session) renderGraph(ctx context.Context, index int, origin string) (*GraphView, error) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	s.mu.RLock()
	jobID, recon, scrubber := s.jobID, s.recon, s.scrubber
	s.mu.RUnlock()
	if recon == nil {
		return nil, ErrNoJob
	}

	if index > recon.MaxIndex() {
		index = recon.MaxIndex()
	}
	if index < -1 {
		index = -1
	}

	seek := scrubber.SeekTo(index)
	start := time.Now()

	var rendered *models.RenderedGraph
	for _, frame := range seek.Frames {
		rendered = recon.RenderAt(frame)
		s.publishFrame(ctx, jobID, rendered, seek, origin)
	}
	observability.RecordGraphRender(string(seek.Strategy), time.Since(start))

	s.mu.Lock()
	if s.recon == recon {
		s.rendered = rendered
		s.lastSeek = seek
	}
	s.mu.Unlock()

	if s.window.Counts()[models.StreamGraph] > 0 {
		if _, err := s.window.SetStreamCursor(ctx, models.StreamGraph, index); err != nil {
			s.logger.Warn().Err(err).Int("index", index).Msg("Failed to move graph window")
		}
	}

	return &GraphView{
		Index:    seek.Index,
		From:     seek.From,
		Strategy: seek.Strategy,
		Velocity: finiteVelocity(seek.Velocity),
		Frames:   seek.Frames,
		Graph:    rendered,
	}, nil
}

func (s *Session) publishFrame(ctx context.Context, jobID string, g *models.RenderedGraph, seek graph.SeekResult, origin string) {
	if s.events == nil {
		return
	}
	counts := g.CountByState()
	err := s.events.Publish(ctx, interfaces.Event{
		Type: interfaces.EventGraphFrame,
		Payload: map[string]interface{}{
			"job_id":             jobID,
			"index":              g.Index,
			"target":             seek.Index,
			"strategy":           string(seek.Strategy),
			"velocity":           finiteVelocity(seek.Velocity),
			"origin":             origin,
			"node_count":         len(g.Nodes),
			"relationship_count": len(g.Relationships),
			"created":            counts[models.ChangeStateCreated],
			"modified":           counts[models.ChangeStateModified],
			"deleted":            counts[models.ChangeStateDeleted],
		},
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to publish graph frame")
	}
}

// finiteVelocity keeps velocities JSON encodable
func finiteVelocity(v float64) float64 {
	if math.IsInf(v, 1) {
		return math.MaxFloat64
	}
	return v
}
