package models

import (
	"sort"
	"time"
)

// NotSet marks an unset createdAt / modifiedAt / deletedAt index
const NotSet = -1

// NodeState is a node as it exists at some point of the delta log.
// Deleted nodes stay in the state with Visible=false so identities remain stable.
type NodeState struct {
	ID         string                 `json:"id"`
	Labels     []string               `json:"labels"`
	Properties map[string]interface{} `json:"properties"`
	CreatedAt  int                    `json:"createdAt"`
	ModifiedAt int                    `json:"modifiedAt"`
	DeletedAt  int                    `json:"deletedAt"`
	Visible    bool                   `json:"visible"`
}

// Clone returns a deep copy
func (n *NodeState) Clone() *NodeState {
	c := *n
	c.Labels = append([]string(nil), n.Labels...)
	c.Properties = CloneProperties(n.Properties)
	return &c
}

// RelationshipState is a relationship as it exists at some point of the delta log
type RelationshipState struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	StartID    string                 `json:"startId"`
	EndID      string                 `json:"endId"`
	Properties map[string]interface{} `json:"properties"`
	CreatedAt  int                    `json:"createdAt"`
	ModifiedAt int                    `json:"modifiedAt"`
	DeletedAt  int                    `json:"deletedAt"`
	Visible    bool                   `json:"visible"`
}

// Clone returns a deep copy
func (r *RelationshipState) Clone() *RelationshipState {
	c := *r
	c.Properties = CloneProperties(r.Properties)
	return &c
}

// GraphSnapshot is the full graph state after applying delta ToolCallIndex
type GraphSnapshot struct {
	JobID         string                        `json:"jobId,omitempty"`
	ToolCallIndex int                           `json:"toolCallIndex"`
	Timestamp     time.Time                     `json:"timestamp"`
	Nodes         map[string]*NodeState         `json:"nodes"`
	Relationships map[string]*RelationshipState `json:"relationships"`
}

// NewEmptySnapshot returns the state before any delta was applied
func NewEmptySnapshot() *GraphSnapshot {
	return &GraphSnapshot{
		ToolCallIndex: NotSet,
		Nodes:         make(map[string]*NodeState),
		Relationships: make(map[string]*RelationshipState),
	}
}

// Clone returns a deep copy so replay never mutates a shared snapshot
func (s *GraphSnapshot) Clone() *GraphSnapshot {
	c := &GraphSnapshot{
		JobID:         s.JobID,
		ToolCallIndex: s.ToolCallIndex,
		Timestamp:     s.Timestamp,
		Nodes:         make(map[string]*NodeState, len(s.Nodes)),
		Relationships: make(map[string]*RelationshipState, len(s.Relationships)),
	}
	for id, n := range s.Nodes {
		c.Nodes[id] = n.Clone()
	}
	for id, r := range s.Relationships {
		c.Relationships[id] = r.Clone()
	}
	return c
}

// ChangeState annotates an element relative to the rendered index
type ChangeState string

const (
	ChangeStateCreated   ChangeState = "created"
	ChangeStateModified  ChangeState = "modified"
	ChangeStateDeleted   ChangeState = "deleted"
	ChangeStateUnchanged ChangeState = "unchanged"
)

// ChangeStateAt derives the annotation from the lifecycle markers.
// Deleted wins over created, created wins over modified.
func ChangeStateAt(index, createdAt, modifiedAt, deletedAt int) ChangeState {
	switch {
	case deletedAt == index:
		return ChangeStateDeleted
	case createdAt == index:
		return ChangeStateCreated
	case modifiedAt == index:
		return ChangeStateModified
	}
	return ChangeStateUnchanged
}

type RenderedNode struct {
	NodeState
	ChangeState ChangeState `json:"changeState"`
}

type RenderedRelationship struct {
	RelationshipState
	ChangeState ChangeState `json:"changeState"`
}

// RenderedGraph is the annotated, visible graph at Index
type RenderedGraph struct {
	Index         int                    `json:"index"`
	Timestamp     time.Time              `json:"timestamp"`
	Nodes         []RenderedNode         `json:"nodes"`
	Relationships []RenderedRelationship `json:"relationships"`
}

// CountByState tallies rendered nodes and relationships per change state
func (g *RenderedGraph) CountByState() map[ChangeState]int {
	counts := make(map[ChangeState]int)
	for _, n := range g.Nodes {
		counts[n.ChangeState]++
	}
	for _, r := range g.Relationships {
		counts[r.ChangeState]++
	}
	return counts
}

// SortedNodeIDs returns node identities in lexical order
func (s *GraphSnapshot) SortedNodeIDs() []string {
	ids := make([]string, 0, len(s.Nodes))
	for id := range s.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SortedRelationshipIDs returns relationship identities in lexical order
func (s *GraphSnapshot) SortedRelationshipIDs() []string {
	ids := make([]string, 0, len(s.Relationships))
	for id := range s.Relationships {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CloneProperties deep copies a JSON-shaped property map
func CloneProperties(props map[string]interface{}) map[string]interface{} {
	if props == nil {
		return nil
	}
	out := make(map[string]interface{}, len(props))
	for k, v := range props {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneProperties(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	}
	return v
}
