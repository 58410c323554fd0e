package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/rewind/internal/models"
)

// auditConsumer moves the windowed audit slider
type auditConsumer struct {
	s *Session
}

func (c *auditConsumer) Name() string { return ConsumerAudit }

// Resolve keeps the slider where it is when it already sits on ts, so a
// slider seek never snaps to another entry sharing the same timestamp.
func (c *auditConsumer) Resolve(ctx context.Context, ts time.Time) (models.Position, error) {
	w := c.s.window
	if current := w.SliderIndex(); current >= 0 {
		if at, err := w.TimestampAt(ctx, models.StreamAudit, current); err == nil && at.Equal(ts) {
			return models.Position{Index: current}, nil
		}
	}
	index, err := w.IndexAtTimestamp(ctx, models.StreamAudit, ts)
	if err != nil {
		return models.Position{}, err
	}
	return models.Position{Index: index}, nil
}

func (c *auditConsumer) Apply(ctx context.Context, pos models.Position, _ models.Cursor) error {
	_, err := c.s.window.SetSliderIndex(ctx, pos.Index)
	return err
}

// chatConsumer moves the windowed chat cursor
type chatConsumer struct {
	s *Session
}

func (c *chatConsumer) Name() string { return ConsumerChat }

func (c *chatConsumer) Resolve(ctx context.Context, ts time.Time) (models.Position, error) {
	index, err := c.s.window.IndexAtTimestamp(ctx, models.StreamChat, ts)
	if err != nil {
		return models.Position{}, err
	}
	return models.Position{Index: index}, nil
}

func (c *chatConsumer) Apply(ctx context.Context, pos models.Position, _ models.Cursor) error {
	if c.s.window.Counts()[models.StreamChat] == 0 {
		return nil
	}
	_, err := c.s.window.SetStreamCursor(ctx, models.StreamChat, pos.Index)
	return err
}

// graphConsumer renders the reconstructed graph
type graphConsumer struct {
	s *Session
}

func (c *graphConsumer) Name() string { return ConsumerGraph }

func (c *graphConsumer) Resolve(_ context.Context, ts time.Time) (models.Position, error) {
	_, recon, err := c.s.loaded()
	if err != nil {
		return models.Position{}, err
	}
	return models.Position{Index: recon.FindIndexAtTimestamp(ts)}, nil
}

func (c *graphConsumer) Apply(ctx context.Context, pos models.Position, _ models.Cursor) error {
	_, err := c.s.renderGraph(ctx, pos.Index, ConsumerGraph)
	return err
}

// auditPageConsumer follows the cursor in the paginated audit view. It asks
// the API for the page so it works without any resident window.
type auditPageConsumer struct {
	s *Session
}

func (c *auditPageConsumer) Name() string { return ConsumerAuditPages }

func (c *auditPageConsumer) Resolve(ctx context.Context, ts time.Time) (models.Position, error) {
	jobID, _, err := c.s.loaded()
	if err != nil {
		return models.Position{}, err
	}
	c.s.mu.RLock()
	pageSize := c.s.pageSize
	c.s.mu.RUnlock()

	result, err := c.s.api.GetPageForTimestamp(ctx, jobID, ts, pageSize, models.FilterAll)
	if err == nil {
		return models.Position{Index: result.Index, Page: result.Page}, nil
	}

	// Offline: pages over the full log are positional
	index, localErr := c.s.window.IndexAtTimestamp(ctx, models.StreamAudit, ts)
	if localErr != nil {
		return models.Position{}, fmt.Errorf("failed to locate audit page: %w", err)
	}
	c.s.logger.Debug().Err(err).Str("job_id", jobID).Msg("Page lookup failed, using local index")

	page := 0
	if index > 0 {
		page = index / pageSize
	}
	return models.Position{Index: index, Page: page}, nil
}

func (c *auditPageConsumer) Apply(_ context.Context, pos models.Position, _ models.Cursor) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.page = pos
	return nil
}
