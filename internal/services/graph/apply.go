package graph

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/rewind/internal/models"
)

// deltaApplier applies one delta to a mutable state. Variable bindings are
// scoped to the delta being applied.
type deltaApplier struct {
	state    *models.GraphSnapshot
	index    int
	nodeVars map[string]string
	relVars  map[string]string
	logger   arbor.ILogger
}

// applyDelta mutates state in place so it reflects delta at index
func applyDelta(state *models.GraphSnapshot, delta *models.GraphDelta, index int, logger arbor.ILogger) {
	a := &deltaApplier{
		state:    state,
		index:    index,
		nodeVars: make(map[string]string),
		relVars:  make(map[string]string),
		logger:   logger,
	}

	a.bindMatched(delta.Changes.Matched)

	for _, op := range delta.Changes.Ops {
		switch c := op.(type) {
		case models.NodeCreate:
			a.createNode(c)
		case models.RelationshipCreate:
			a.createRelationship(c)
		case models.NodeModify:
			a.modifyNode(c)
		case models.RelationshipModify:
			a.modifyRelationship(c)
		case models.RelationshipDelete:
			a.deleteRelationship(c)
		case models.NodeDelete:
			a.deleteNode(c)
		}
	}

	state.ToolCallIndex = index
	state.Timestamp = delta.Timestamp
}

// bindMatched resolves MATCH bindings before any mutation runs
func (a *deltaApplier) bindMatched(matched map[string]models.MatchedElement) {
	for variable, m := range matched {
		if m.IsRelationship() {
			if id := a.resolveRelationship(variable, m.Identity, m.Properties); id != "" {
				a.relVars[variable] = id
			}
			continue
		}
		if id := a.resolveNode(variable, m.Identity, m.Properties); id != "" {
			a.nodeVars[variable] = id
		}
	}
}

func (a *deltaApplier) createNode(c models.NodeCreate) {
	base := nodeBaseIdentity(c)
	id := base

	if existing, ok := a.state.Nodes[base]; ok && existing.Visible {
		if c.Merge {
			a.nodeVars[c.Variable] = base
			return
		}
		id = uniqueIdentity(base, func(s string) bool {
			_, taken := a.state.Nodes[s]
			return taken
		})
	}

	a.state.Nodes[id] = &models.NodeState{
		ID:         id,
		Labels:     append([]string(nil), c.Labels...),
		Properties: nonNilProperties(c.Properties),
		CreatedAt:  a.index,
		ModifiedAt: models.NotSet,
		DeletedAt:  models.NotSet,
		Visible:    true,
	}
	a.nodeVars[c.Variable] = id
}

func (a *deltaApplier) createRelationship(c models.RelationshipCreate) {
	startID := a.resolveNode(c.StartVariable, "", nil)
	endID := a.resolveNode(c.EndVariable, "", nil)
	if startID == "" || endID == "" {
		a.skip("relationship create", c.Variable, "unresolved endpoint")
		return
	}

	base := relationshipBaseIdentity(c, startID, endID)
	id := base

	if existing, ok := a.state.Relationships[base]; ok && existing.Visible {
		if c.Merge {
			if c.Variable != "" {
				a.relVars[c.Variable] = base
			}
			return
		}
		id = uniqueIdentity(base, func(s string) bool {
			_, taken := a.state.Relationships[s]
			return taken
		})
	}

	a.state.Relationships[id] = &models.RelationshipState{
		ID:         id,
		Type:       c.Type,
		StartID:    startID,
		EndID:      endID,
		Properties: nonNilProperties(c.Properties),
		CreatedAt:  a.index,
		ModifiedAt: models.NotSet,
		DeletedAt:  models.NotSet,
		Visible:    true,
	}
	if c.Variable != "" {
		a.relVars[c.Variable] = id
	}
}

func (a *deltaApplier) modifyNode(c models.NodeModify) {
	id := a.resolveNode(c.Variable, c.Identity, nil)
	node, ok := a.state.Nodes[id]
	if !ok || !node.Visible {
		a.skip("node modify", c.Variable, "no visible node")
		return
	}

	if node.Properties == nil {
		node.Properties = make(map[string]interface{})
	}
	applyProperties(node.Properties, c.SetProperties, c.RemovedProperties)
	for _, label := range c.AddedLabels {
		if !containsString(node.Labels, label) {
			node.Labels = append(node.Labels, label)
		}
	}
	node.ModifiedAt = a.index
}

func (a *deltaApplier) modifyRelationship(c models.RelationshipModify) {
	id := a.resolveRelationship(c.Variable, c.Identity, nil)
	rel, ok := a.state.Relationships[id]
	if !ok || !rel.Visible {
		a.skip("relationship modify", c.Variable, "no visible relationship")
		return
	}

	if rel.Properties == nil {
		rel.Properties = make(map[string]interface{})
	}
	applyProperties(rel.Properties, c.SetProperties, c.RemovedProperties)
	rel.ModifiedAt = a.index
}

func (a *deltaApplier) deleteRelationship(c models.RelationshipDelete) {
	id := a.resolveRelationship(c.Variable, c.Identity, nil)
	rel, ok := a.state.Relationships[id]
	if !ok || !rel.Visible {
		a.skip("relationship delete", c.Variable, "no visible relationship")
		return
	}

	rel.Visible = false
	rel.DeletedAt = a.index
}

// deleteNode soft-deletes the node and every visible relationship attached to it
func (a *deltaApplier) deleteNode(c models.NodeDelete) {
	id := a.resolveNode(c.Variable, c.Identity, nil)
	node, ok := a.state.Nodes[id]
	if !ok || !node.Visible {
		a.skip("node delete", c.Variable, "no visible node")
		return
	}

	node.Visible = false
	node.DeletedAt = a.index

	for _, rel := range a.state.Relationships {
		if rel.Visible && (rel.StartID == id || rel.EndID == id) {
			rel.Visible = false
			rel.DeletedAt = a.index
		}
	}
}

// resolveNode maps a reference to a node identity: explicit identity, then
// this delta's binding, then identifying properties, then the substring fallback.
func (a *deltaApplier) resolveNode(variable, explicit string, props map[string]interface{}) string {
	if explicit != "" {
		if _, ok := a.state.Nodes[explicit]; ok {
			return explicit
		}
	}
	if id, ok := a.nodeVars[variable]; ok {
		return id
	}
	if id := IdentityFromProperties(props); id != "" {
		if _, ok := a.state.Nodes[id]; ok {
			return id
		}
	}

	candidates := make([]fallbackCandidate, 0, len(a.state.Nodes))
	for id, n := range a.state.Nodes {
		if n.Visible {
			candidates = append(candidates, fallbackCandidate{id: id, createdAt: n.CreatedAt})
		}
	}
	return substringMatch(variable, candidates)
}

func (a *deltaApplier) resolveRelationship(variable, explicit string, props map[string]interface{}) string {
	if explicit != "" {
		if _, ok := a.state.Relationships[explicit]; ok {
			return explicit
		}
	}
	if id, ok := a.relVars[variable]; ok {
		return id
	}
	if id := IdentityFromProperties(props); id != "" {
		if _, ok := a.state.Relationships[id]; ok {
			return id
		}
	}

	candidates := make([]fallbackCandidate, 0, len(a.state.Relationships))
	for id, r := range a.state.Relationships {
		if r.Visible {
			candidates = append(candidates, fallbackCandidate{id: id, createdAt: r.CreatedAt})
		}
	}
	return substringMatch(variable, candidates)
}

func (a *deltaApplier) skip(op, variable, reason string) {
	if a.logger == nil {
		return
	}
	a.logger.Debug().
		Int("index", a.index).
		Str("op", op).
		Str("variable", variable).
		Str("reason", reason).
		Msg("Skipping unresolvable graph change")
}

func applyProperties(target, set map[string]interface{}, removed []string) {
	for k, v := range models.CloneProperties(set) {
		target[k] = v
	}
	for _, k := range removed {
		delete(target, k)
	}
}

func nonNilProperties(props map[string]interface{}) map[string]interface{} {
	if props == nil {
		return make(map[string]interface{})
	}
	return models.CloneProperties(props)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
