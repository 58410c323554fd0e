package window

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/rewind/internal/models"
	"github.com/ternarybob/rewind/internal/observability"
	"golang.org/x/sync/errgroup"
)

// pageResult is one fetched and persisted bulk page
type pageResult struct {
	count int
	info  models.PageInfo
	first time.Time
	last  time.Time
}

// beginFetch claims the job-scoped in-progress flag
func (m *Manager) beginFetch(jobID string) error {
	m.fetchMu.Lock()
	defer m.fetchMu.Unlock()
	if m.inFlight[jobID] {
		return fmt.Errorf("job %s: %w", jobID, ErrFetchInProgress)
	}
	m.inFlight[jobID] = true
	return nil
}

func (m *Manager) endFetch(jobID string) {
	m.fetchMu.Lock()
	defer m.fetchMu.Unlock()
	delete(m.inFlight, jobID)
}

// ClearJob drops the cached partition of a job other than the active one.
// It shares the in-progress flag with refetches, so it never interleaves with
// a bulk fetch of the same job.
func (m *Manager) ClearJob(ctx context.Context, jobID string) error {
	m.mu.RLock()
	active := m.job != nil && m.job.jobID == jobID
	m.mu.RUnlock()
	if active {
		return fmt.Errorf("job %s: %w", jobID, ErrJobActive)
	}

	if err := m.beginFetch(jobID); err != nil {
		return err
	}
	defer m.endFetch(jobID)

	if err := m.storage.ClearJob(ctx, jobID); err != nil {
		return fmt.Errorf("failed to clear cached job: %w", err)
	}
	m.logger.Info().Str("job_id", jobID).Msg("Job cache cleared")
	return nil
}

// refetch pages every stream of the job from offset 0 into the local store,
// optionally clearing the job partition first. Metadata is rewritten after
// every page so an interrupted refetch leaves a consistent, queryable prefix.
func (m *Manager) refetch(ctx context.Context, st *jobState, version *models.JobVersion, clear bool) (*models.JobCacheMetadata, error) {
	if err := m.beginFetch(st.jobID); err != nil {
		return nil, err
	}
	defer m.endFetch(st.jobID)

	if clear {
		if err := m.storage.ClearJob(ctx, st.jobID); err != nil {
			return nil, fmt.Errorf("failed to clear cached job: %w", err)
		}
	}

	meta := &models.JobCacheMetadata{
		JobID:            st.jobID,
		ServerLastUpdate: version.LastUpdate,
		CachedAt:         now(),
		Version:          models.CacheSchemaVersion,
	}
	if err := m.storage.MetadataStorage().Set(ctx, meta); err != nil {
		return nil, fmt.Errorf("failed to write cache metadata: %w", err)
	}

	start := time.Now()
	if err := m.fetchStreams(ctx, st, meta, version, models.Streams, true); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("job_id", st.jobID).
		Int("audit_count", meta.AuditCount).
		Int("chat_count", meta.ChatCount).
		Int("graph_delta_count", meta.GraphDeltaCount).
		Int("snapshot_count", meta.SnapshotCount).
		Dur("duration", time.Since(start)).
		Msg("Job refetched into cache")

	return meta, nil
}

// fetchTails pulls only the entries past the cached count of each stream
func (m *Manager) fetchTails(ctx context.Context, st *jobState, meta *models.JobCacheMetadata, version *models.JobVersion, streams []models.StreamKind) (*models.JobCacheMetadata, error) {
	behind := make([]models.StreamKind, 0, len(streams))
	for _, stream := range streams {
		if version.Count(stream) > meta.Count(stream) {
			behind = append(behind, stream)
		}
	}
	if len(behind) == 0 {
		return meta, nil
	}

	if err := m.beginFetch(st.jobID); err != nil {
		return nil, err
	}
	defer m.endFetch(st.jobID)

	updated := *meta
	updated.ServerLastUpdate = version.LastUpdate

	// New deltas may come with new snapshots
	withSnapshots := false
	for _, stream := range behind {
		if stream == models.StreamGraph {
			withSnapshots = true
		}
	}

	if err := m.fetchStreams(ctx, st, &updated, version, behind, withSnapshots); err != nil {
		return nil, err
	}

	m.logger.Debug().
		Str("job_id", st.jobID).
		Int("stream_count", len(behind)).
		Msg("Stream tails fetched")

	return &updated, nil
}

// fetchStreams pages each stream concurrently from its cached count
func (m *Manager) fetchStreams(ctx context.Context, st *jobState, meta *models.JobCacheMetadata, version *models.JobVersion, streams []models.StreamKind, withSnapshots bool) error {
	var metaMu sync.Mutex

	saveMeta := func(ctx context.Context, update func(*models.JobCacheMetadata)) error {
		metaMu.Lock()
		defer metaMu.Unlock()
		update(meta)
		meta.CachedAt = now()
		if err := m.storage.MetadataStorage().Set(ctx, meta); err != nil {
			return fmt.Errorf("failed to write cache metadata: %w", err)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, stream := range streams {
		stream := stream
		metaMu.Lock()
		from := meta.Count(stream)
		metaMu.Unlock()

		g.Go(func() error {
			return m.paginate(gctx, st, stream, from, version.Count(stream), func(ctx context.Context, fetched int, page pageResult) error {
				return saveMeta(ctx, func(meta *models.JobCacheMetadata) {
					meta.SetCount(stream, fetched)
					if stream != models.StreamAudit || page.count == 0 {
						return
					}
					if meta.FirstTimestamp.IsZero() || page.first.Before(meta.FirstTimestamp) {
						meta.FirstTimestamp = page.first
					}
					if page.last.After(meta.LastTimestamp) {
						meta.LastTimestamp = page.last
					}
				})
			})
		})
	}

	if withSnapshots {
		g.Go(func() error {
			snapshots, err := m.api.GetSnapshots(gctx, st.jobID)
			if err != nil {
				observability.RecordFetchFailure("snapshots")
				return fmt.Errorf("failed to fetch graph snapshots: %w", err)
			}
			if err := m.storage.GraphStorage().PutSnapshots(gctx, st.jobID, snapshots); err != nil {
				return fmt.Errorf("failed to cache graph snapshots: %w", err)
			}
			return saveMeta(gctx, func(meta *models.JobCacheMetadata) {
				meta.SnapshotCount = len(snapshots)
			})
		})
	}

	return g.Wait()
}

// paginate fetches one stream BulkFetchSize entries at a time until the API
// reports no more pages, persisting each page before requesting the next.
func (m *Manager) paginate(ctx context.Context, st *jobState, stream models.StreamKind, from, total int, onPage func(context.Context, int, pageResult) error) error {
	offset := from
	m.reportProgress(ctx, st, stream, offset, total)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := m.fetchPage(ctx, st.jobID, stream, offset, m.config.BulkFetchSize)
		if err != nil {
			observability.RecordFetchFailure(string(stream))
			return fmt.Errorf("failed to fetch %s page at offset %d: %w", stream, offset, err)
		}
		observability.RecordBulkPage(string(stream), page.count)

		offset += page.count
		total = page.info.Total

		if err := onPage(ctx, offset, page); err != nil {
			return err
		}
		m.reportProgress(ctx, st, stream, offset, total)

		if !page.info.HasMore || page.count == 0 {
			return nil
		}
	}
}

// fetchPage fetches one bulk page and writes it at its positional index
func (m *Manager) fetchPage(ctx context.Context, jobID string, stream models.StreamKind, offset, limit int) (pageResult, error) {
	switch stream {
	case models.StreamAudit:
		resp, err := m.api.GetAuditBulk(ctx, jobID, offset, limit)
		if err != nil {
			return pageResult{}, err
		}
		if err := m.storage.AuditStorage().PutEntries(ctx, jobID, resp.Entries, offset); err != nil {
			return pageResult{}, fmt.Errorf("failed to cache audit page: %w", err)
		}
		page := pageResult{count: len(resp.Entries), info: resp.PageInfo}
		if page.count > 0 {
			page.first = resp.Entries[0].Timestamp
			page.last = resp.Entries[page.count-1].Timestamp
		}
		return page, nil

	case models.StreamChat:
		resp, err := m.api.GetChatBulk(ctx, jobID, offset, limit)
		if err != nil {
			return pageResult{}, err
		}
		if err := m.storage.ChatStorage().PutEntries(ctx, jobID, resp.Entries, offset); err != nil {
			return pageResult{}, fmt.Errorf("failed to cache chat page: %w", err)
		}
		return pageResult{count: len(resp.Entries), info: resp.PageInfo}, nil

	case models.StreamGraph:
		resp, err := m.api.GetGraphBulk(ctx, jobID, offset, limit)
		if err != nil {
			return pageResult{}, err
		}
		if err := m.storage.GraphStorage().PutDeltas(ctx, jobID, resp.Deltas, offset); err != nil {
			return pageResult{}, fmt.Errorf("failed to cache graph page: %w", err)
		}
		return pageResult{count: len(resp.Deltas), info: resp.PageInfo}, nil
	}

	return pageResult{}, fmt.Errorf("unknown stream: %s", stream)
}

// reportProgress updates the aggregate load progress and forwards the
// per-stream update to the progress sink
func (m *Manager) reportProgress(ctx context.Context, st *jobState, stream models.StreamKind, fetched, total int) {
	p := models.LoadProgress{JobID: st.jobID, Stream: stream, Fetched: fetched, Total: total}

	m.mu.Lock()
	if m.job != st {
		m.mu.Unlock()
		return
	}
	m.progress[stream] = p
	sumFetched, sumTotal := 0, 0
	for _, sp := range m.progress {
		sumFetched += sp.Fetched
		sumTotal += sp.Total
	}
	overall := 100
	if sumTotal > 0 {
		overall = sumFetched * 100 / sumTotal
		if overall > 100 {
			overall = 100
		}
	}
	if m.status.Loading {
		m.status.Progress = overall
	}
	m.mu.Unlock()

	if m.onProgress != nil {
		m.onProgress(ctx, p)
	}
}
