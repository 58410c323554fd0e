package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ternarybob/rewind/internal/models"
)

// IdentityProperties is the fixed priority order of properties that identify an element.
// Domain-specific identifiers come before the generic ones.
var IdentityProperties = []string{
	"rid",
	"requirement_id",
	"req_id",
	"document_id",
	"doc_id",
	"chunk_id",
	"entity_id",
	"section_id",
	"id",
	"uuid",
	"uid",
	"key",
	"name",
	"title",
}

// IdentityFromProperties returns the value of the highest priority identifying
// property, or "" when none is present.
func IdentityFromProperties(props map[string]interface{}) string {
	for _, key := range IdentityProperties {
		v, ok := props[key]
		if !ok || v == nil {
			continue
		}
		if s := formatIdentity(v); s != "" {
			return s
		}
	}
	return ""
}

// formatIdentity renders an identifying value the way the producer wrote it.
// Decoded JSON numbers arrive as float64 and must not switch to exponent form.
func formatIdentity(v interface{}) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case json.Number:
		return n.String()
	default:
		return fmt.Sprint(v)
	}
}

// nodeBaseIdentity derives the identity a node create asks for
func nodeBaseIdentity(c models.NodeCreate) string {
	if c.Identity != "" {
		return c.Identity
	}
	if id := IdentityFromProperties(c.Properties); id != "" {
		return id
	}
	label := "Node"
	if len(c.Labels) > 0 && c.Labels[0] != "" {
		label = c.Labels[0]
	}
	return label + "_" + c.Variable
}

// relationshipBaseIdentity derives the identity a relationship create asks for
func relationshipBaseIdentity(c models.RelationshipCreate, startID, endID string) string {
	if c.Identity != "" {
		return c.Identity
	}
	if id := IdentityFromProperties(c.Properties); id != "" {
		return id
	}
	return fmt.Sprintf("%s-[%s]->%s", startID, c.Type, endID)
}

// uniqueIdentity returns base#n for the smallest n >= 2 not taken
func uniqueIdentity(base string, taken func(string) bool) string {
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s#%d", base, n)
		if !taken(candidate) {
			return candidate
		}
	}
}

type fallbackCandidate struct {
	id        string
	createdAt int
}

// substringMatch picks the visible identity that best matches a variable name:
// identities ending in "_{variable}" first, then the most recently created,
// then lexical order.
func substringMatch(variable string, candidates []fallbackCandidate) string {
	if variable == "" || len(candidates) == 0 {
		return ""
	}

	suffix := "_" + variable
	var matches []fallbackCandidate
	for _, c := range candidates {
		if strings.Contains(c.id, variable) {
			matches = append(matches, c)
		}
	}
	if len(matches) == 0 {
		return ""
	}

	sort.Slice(matches, func(i, j int) bool {
		si := strings.HasSuffix(matches[i].id, suffix)
		sj := strings.HasSuffix(matches[j].id, suffix)
		if si != sj {
			return si
		}
		if matches[i].createdAt != matches[j].createdAt {
			return matches[i].createdAt > matches[j].createdAt
		}
		return matches[i].id < matches[j].id
	})

	return matches[0].id
}
