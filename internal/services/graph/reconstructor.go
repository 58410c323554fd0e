package graph

import (
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/models"
)

// DefaultCheckpointInterval is how many deltas separate memoised checkpoints
const DefaultCheckpointInterval = 500

// Reconstructor rebuilds the graph at any delta index from the nearest
// snapshot at or below it plus a replay of the deltas in between.
// It is safe for concurrent use.
type Reconstructor struct {
	logger             arbor.ILogger
	checkpointInterval int

	mu          sync.RWMutex
	deltas      []models.GraphDelta
	snapshots   []models.GraphSnapshot
	checkpoints map[int]*models.GraphSnapshot
}

// Option configures a Reconstructor
type Option func(*Reconstructor)

// WithLogger sets the logger used for skipped changes
func WithLogger(logger arbor.ILogger) Option {
	return func(r *Reconstructor) {
		r.logger = logger
	}
}

// WithCheckpointInterval sets the checkpoint spacing; 0 disables checkpoints
func WithCheckpointInterval(n int) Option {
	return func(r *Reconstructor) {
		if n < 0 {
			n = 0
		}
		r.checkpointInterval = n
	}
}

// NewReconstructor builds a reconstructor over the complete delta log of a
// job. Deltas are ordered by ToolCallIndex; position i must hold index i.
// Snapshots may arrive in any order.
func NewReconstructor(deltas []models.GraphDelta, snapshots []models.GraphSnapshot, opts ...Option) *Reconstructor {
	r := &Reconstructor{
		checkpointInterval: DefaultCheckpointInterval,
		checkpoints:        make(map[int]*models.GraphSnapshot),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.deltas = append([]models.GraphDelta(nil), deltas...)
	sort.SliceStable(r.deltas, func(i, j int) bool {
		return r.deltas[i].ToolCallIndex < r.deltas[j].ToolCallIndex
	})

	r.snapshots = make([]models.GraphSnapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if s.ToolCallIndex < 0 {
			continue
		}
		if s.Nodes == nil {
			s.Nodes = make(map[string]*models.NodeState)
		}
		if s.Relationships == nil {
			s.Relationships = make(map[string]*models.RelationshipState)
		}
		r.snapshots = append(r.snapshots, s)
	}
	sort.Slice(r.snapshots, func(i, j int) bool {
		return r.snapshots[i].ToolCallIndex < r.snapshots[j].ToolCallIndex
	})

	return r
}

// Len returns the number of deltas
func (r *Reconstructor) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.deltas)
}

// MaxIndex returns the last delta index, or -1 for an empty log
func (r *Reconstructor) MaxIndex() int {
	return r.Len() - 1
}

// Extend appends newly fetched deltas to the tail. Existing checkpoints stay
// valid because the prefix they were built from is unchanged.
func (r *Reconstructor) Extend(deltas []models.GraphDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range deltas {
		if d.ToolCallIndex != len(r.deltas) {
			continue
		}
		r.deltas = append(r.deltas, d)
	}
}

// Deltas returns a copy of the deltas in [start, end]
func (r *Reconstructor) Deltas(start, end int) []models.GraphDelta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	start, end = clampRange(start, end, len(r.deltas))
	if end < start {
		return []models.GraphDelta{}
	}
	return append([]models.GraphDelta(nil), r.deltas[start:end+1]...)
}

// StateAt returns the full unannotated state after applying delta index,
// including soft-deleted elements. Index -1 is the empty graph.
func (r *Reconstructor) StateAt(index int) *models.GraphSnapshot {
	r.mu.RLock()
	deltas := r.deltas
	r.mu.RUnlock()

	index = clampIndex(index, len(deltas))
	state, baseIndex := r.baseFor(index)

	for i := baseIndex + 1; i <= index; i++ {
		applyDelta(state, &deltas[i], i, r.logger)
		r.maybeCheckpoint(state, i)
	}

	return state
}

// CaptureSnapshot returns the state at index in snapshot form
func (r *Reconstructor) CaptureSnapshot(index int) models.GraphSnapshot {
	return *r.StateAt(index)
}

// RenderAt returns the visible graph at index with every element annotated
// relative to index. Elements deleted exactly at index are kept as deleted ghosts.
func (r *Reconstructor) RenderAt(index int) *models.RenderedGraph {
	state := r.StateAt(index)
	index = state.ToolCallIndex

	rendered := &models.RenderedGraph{
		Index:         index,
		Timestamp:     state.Timestamp,
		Nodes:         make([]models.RenderedNode, 0, len(state.Nodes)),
		Relationships: make([]models.RenderedRelationship, 0, len(state.Relationships)),
	}

	for _, id := range state.SortedNodeIDs() {
		n := state.Nodes[id]
		if !n.Visible && n.DeletedAt != index {
			continue
		}
		rendered.Nodes = append(rendered.Nodes, models.RenderedNode{
			NodeState:   *n,
			ChangeState: models.ChangeStateAt(index, n.CreatedAt, n.ModifiedAt, n.DeletedAt),
		})
	}

	for _, id := range state.SortedRelationshipIDs() {
		rel := state.Relationships[id]
		if !rel.Visible && rel.DeletedAt != index {
			continue
		}
		rendered.Relationships = append(rendered.Relationships, models.RenderedRelationship{
			RelationshipState: *rel,
			ChangeState:       models.ChangeStateAt(index, rel.CreatedAt, rel.ModifiedAt, rel.DeletedAt),
		})
	}

	return rendered
}

// FindIndexAtTimestamp returns the last delta index whose timestamp <= ts,
// or -1 when ts precedes the first delta.
func (r *Reconstructor) FindIndexAtTimestamp(ts time.Time) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return FindIndexAtTimestamp(r.deltas, ts)
}

// FindIndexAtTimestamp binary-searches deltas ordered by timestamp
func FindIndexAtTimestamp(deltas []models.GraphDelta, ts time.Time) int {
	i := sort.Search(len(deltas), func(i int) bool {
		return deltas[i].Timestamp.After(ts)
	})
	return i - 1
}

// baseFor returns a private copy of the closest known state at or below
// index and the index it reflects.
func (r *Reconstructor) baseFor(index int) (*models.GraphSnapshot, int) {
	if index < 0 {
		return models.NewEmptySnapshot(), -1
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var base *models.GraphSnapshot

	// Largest server snapshot with ToolCallIndex <= index
	i := sort.Search(len(r.snapshots), func(i int) bool {
		return r.snapshots[i].ToolCallIndex > index
	})
	if i > 0 {
		base = &r.snapshots[i-1]
	}

	if r.checkpointInterval > 0 {
		for c := checkpointAtOrBelow(index, r.checkpointInterval); c >= 0; c -= r.checkpointInterval {
			if base != nil && c <= base.ToolCallIndex {
				break
			}
			if cp, ok := r.checkpoints[c]; ok {
				base = cp
				break
			}
		}
	}

	if base == nil {
		return models.NewEmptySnapshot(), -1
	}
	return base.Clone(), base.ToolCallIndex
}

func (r *Reconstructor) maybeCheckpoint(state *models.GraphSnapshot, index int) {
	if r.checkpointInterval <= 0 || (index+1)%r.checkpointInterval != 0 {
		return
	}

	r.mu.RLock()
	_, exists := r.checkpoints[index]
	r.mu.RUnlock()
	if exists {
		return
	}

	cp := state.Clone()
	r.mu.Lock()
	r.checkpoints[index] = cp
	r.mu.Unlock()
}

// checkpointAtOrBelow returns the largest checkpoint index <= index
func checkpointAtOrBelow(index, interval int) int {
	return ((index+1)/interval)*interval - 1
}

func clampIndex(index, length int) int {
	if index >= length {
		index = length - 1
	}
	if index < -1 {
		index = -1
	}
	return index
}

func clampRange(start, end, length int) (int, int) {
	if start < 0 {
		start = 0
	}
	if end >= length {
		end = length - 1
	}
	return start, end
}
