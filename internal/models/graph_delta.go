package models

import (
	"encoding/json"
	"time"
)

// GraphDelta is the structural change produced by one graph-mutating tool call.
// ToolCallIndex is dense and 0-based per job.
type GraphDelta struct {
	JobID         string       `json:"jobId,omitempty"`
	ToolCallIndex int          `json:"toolCallIndex"`
	Timestamp     time.Time    `json:"timestamp"`
	Query         string       `json:"query,omitempty"`
	Changes       DeltaChanges `json:"changes"`
}

// ChangeKind identifies a Change variant
type ChangeKind string

const (
	ChangeNodeCreate         ChangeKind = "node_create"
	ChangeNodeDelete         ChangeKind = "node_delete"
	ChangeNodeModify         ChangeKind = "node_modify"
	ChangeRelationshipCreate ChangeKind = "relationship_create"
	ChangeRelationshipDelete ChangeKind = "relationship_delete"
	ChangeRelationshipModify ChangeKind = "relationship_modify"
)

// Change is one structural mutation inside a delta. The set of
// implementations is closed: NodeCreate, NodeDelete, NodeModify,
// RelationshipCreate, RelationshipDelete and RelationshipModify.
type Change interface {
	Kind() ChangeKind
	change()
}

// NodeCreate is a CREATE or MERGE of a node bound to Variable
type NodeCreate struct {
	Variable   string                 `json:"variable"`
	Labels     []string               `json:"labels,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Merge      bool                   `json:"merge,omitempty"`
	Identity   string                 `json:"identity,omitempty"`
}

type NodeDelete struct {
	Variable string `json:"variable"`
	Identity string `json:"identity,omitempty"`
}

type NodeModify struct {
	Variable          string                 `json:"variable"`
	Identity          string                 `json:"identity,omitempty"`
	SetProperties     map[string]interface{} `json:"setProperties,omitempty"`
	RemovedProperties []string               `json:"removedProperties,omitempty"`
	AddedLabels       []string               `json:"addedLabels,omitempty"`
}

// RelationshipCreate connects the elements bound to StartVariable and EndVariable
type RelationshipCreate struct {
	Variable      string                 `json:"variable,omitempty"`
	Type          string                 `json:"type"`
	StartVariable string                 `json:"startVariable"`
	EndVariable   string                 `json:"endVariable"`
	Properties    map[string]interface{} `json:"properties,omitempty"`
	Merge         bool                   `json:"merge,omitempty"`
	Identity      string                 `json:"identity,omitempty"`
}

type RelationshipDelete struct {
	Variable string `json:"variable"`
	Identity string `json:"identity,omitempty"`
}

type RelationshipModify struct {
	Variable          string                 `json:"variable"`
	Identity          string                 `json:"identity,omitempty"`
	SetProperties     map[string]interface{} `json:"setProperties,omitempty"`
	RemovedProperties []string               `json:"removedProperties,omitempty"`
}

func (NodeCreate) Kind() ChangeKind         { return ChangeNodeCreate }
func (NodeDelete) Kind() ChangeKind         { return ChangeNodeDelete }
func (NodeModify) Kind() ChangeKind         { return ChangeNodeModify }
func (RelationshipCreate) Kind() ChangeKind { return ChangeRelationshipCreate }
func (RelationshipDelete) Kind() ChangeKind { return ChangeRelationshipDelete }
func (RelationshipModify) Kind() ChangeKind { return ChangeRelationshipModify }

func (NodeCreate) change()         {}
func (NodeDelete) change()         {}
func (NodeModify) change()         {}
func (RelationshipCreate) change() {}
func (RelationshipDelete) change() {}
func (RelationshipModify) change() {}

// MatchedElement is a pre-existing element bound to a variable by a MATCH clause
type MatchedElement struct {
	Kind       string                 `json:"kind,omitempty"` // "node" or "relationship"
	Identity   string                 `json:"identity,omitempty"`
	Labels     []string               `json:"labels,omitempty"`
	Type       string                 `json:"type,omitempty"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// IsRelationship reports whether the binding refers to a relationship
func (m MatchedElement) IsRelationship() bool {
	return m.Kind == "relationship"
}

// DeltaChanges holds the variable bindings of a delta and its mutations in
// application order.
type DeltaChanges struct {
	Matched map[string]MatchedElement
	Ops     []Change
}

// deltaChangesWire is the grouped shape the backend sends
type deltaChangesWire struct {
	MatchedVariables      map[string]MatchedElement `json:"matchedVariables,omitempty"`
	NodesCreated          []NodeCreate              `json:"nodesCreated,omitempty"`
	NodesDeleted          []NodeDelete              `json:"nodesDeleted,omitempty"`
	NodesModified         []NodeModify              `json:"nodesModified,omitempty"`
	RelationshipsCreated  []RelationshipCreate      `json:"relationshipsCreated,omitempty"`
	RelationshipsDeleted  []RelationshipDelete      `json:"relationshipsDeleted,omitempty"`
	RelationshipsModified []RelationshipModify      `json:"relationshipsModified,omitempty"`
}

// UnmarshalJSON decodes the grouped wire form into ordered operations:
// node creates, relationship creates, node modifies, relationship modifies,
// relationship deletes, node deletes. Creates come first so later groups can
// reference fresh variables; relationship deletes precede node deletes so a
// node delete never has to detach an explicitly deleted relationship.
func (d *DeltaChanges) UnmarshalJSON(data []byte) error {
	var wire deltaChangesWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	ops := make([]Change, 0,
		len(wire.NodesCreated)+len(wire.RelationshipsCreated)+
			len(wire.NodesModified)+len(wire.RelationshipsModified)+
			len(wire.RelationshipsDeleted)+len(wire.NodesDeleted))

	for _, c := range wire.NodesCreated {
		ops = append(ops, c)
	}
	for _, c := range wire.RelationshipsCreated {
		ops = append(ops, c)
	}
	for _, c := range wire.NodesModified {
		ops = append(ops, c)
	}
	for _, c := range wire.RelationshipsModified {
		ops = append(ops, c)
	}
	for _, c := range wire.RelationshipsDeleted {
		ops = append(ops, c)
	}
	for _, c := range wire.NodesDeleted {
		ops = append(ops, c)
	}

	d.Matched = wire.MatchedVariables
	d.Ops = ops
	return nil
}

// MarshalJSON encodes back into the grouped wire form
func (d DeltaChanges) MarshalJSON() ([]byte, error) {
	wire := deltaChangesWire{MatchedVariables: d.Matched}
	for _, op := range d.Ops {
		switch c := op.(type) {
		case NodeCreate:
			wire.NodesCreated = append(wire.NodesCreated, c)
		case NodeDelete:
			wire.NodesDeleted = append(wire.NodesDeleted, c)
		case NodeModify:
			wire.NodesModified = append(wire.NodesModified, c)
		case RelationshipCreate:
			wire.RelationshipsCreated = append(wire.RelationshipsCreated, c)
		case RelationshipDelete:
			wire.RelationshipsDeleted = append(wire.RelationshipsDeleted, c)
		case RelationshipModify:
			wire.RelationshipsModified = append(wire.RelationshipsModified, c)
		}
	}
	return json.Marshal(wire)
}

// IsEmpty reports whether the delta binds nothing and changes nothing
func (d DeltaChanges) IsEmpty() bool {
	return len(d.Matched) == 0 && len(d.Ops) == 0
}
