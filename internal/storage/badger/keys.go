package badger

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ternarybob/rewind/internal/models"
)

// Key layout (all keys sort in index order within a prefix):
//
//	tl:{job}:audit:{index}                 -> AuditEntry JSON
//	tl:{job}:audit_type:{stepType}:{index} -> empty (secondary index)
//	tl:{job}:chat:{sequence}               -> ChatEntry JSON
//	tl:{job}:graph:{toolCallIndex}         -> GraphDelta JSON
//	tl:{job}:snapshot:{toolCallIndex}      -> GraphSnapshot JSON
//
// Job ids and step types are query-escaped so ':' never appears inside a segment.
const keyRoot = "tl:"

const (
	segmentAudit     = "audit"
	segmentAuditType = "audit_type"
	segmentChat      = "chat"
	segmentGraph     = "graph"
	segmentSnapshot  = "snapshot"
)

func jobPrefix(jobID string) []byte {
	return []byte(keyRoot + url.QueryEscape(jobID) + ":")
}

func segmentPrefix(jobID, segment string) []byte {
	return []byte(fmt.Sprintf("%s%s:", jobPrefix(jobID), segment))
}

func indexKey(prefix []byte, index int) []byte {
	return []byte(fmt.Sprintf("%s%016d", prefix, index))
}

func auditTypePrefix(jobID string, stepType models.StepType) []byte {
	return []byte(fmt.Sprintf("%s%s:", segmentPrefix(jobID, segmentAuditType), url.QueryEscape(string(stepType))))
}

// indexFromKey parses the trailing zero-padded index of a stream key
func indexFromKey(key []byte) (int, error) {
	if len(key) < 16 {
		return 0, fmt.Errorf("malformed stream key %q", key)
	}
	index, err := strconv.Atoi(string(key[len(key)-16:]))
	if err != nil {
		return 0, fmt.Errorf("malformed stream key %q: %w", key, err)
	}
	return index, nil
}
