package testutil

import (
	"fmt"
	"time"

	"github.com/ternarybob/rewind/internal/models"
)

// BaseTime is the start of every generated history
var BaseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// AuditEntries generates n audit entries one second apart, cycling llm, tool, error
func AuditEntries(jobID string, n int) []models.AuditEntry {
	cycle := []models.StepType{models.StepTypeLLM, models.StepTypeTool, models.StepTypeError}
	entries := make([]models.AuditEntry, n)
	for i := range entries {
		entries[i] = models.AuditEntry{
			JobID:     jobID,
			Index:     i,
			Timestamp: BaseTime.Add(time.Duration(i) * time.Second),
			StepType:  cycle[i%len(cycle)],
			Content:   fmt.Sprintf("audit %d", i),
		}
	}
	return entries
}

// ChatEntries generates n chat turns every two seconds, alternating user and assistant
func ChatEntries(jobID string, n int) []models.ChatEntry {
	entries := make([]models.ChatEntry, n)
	for i := range entries {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		entries[i] = models.ChatEntry{
			JobID:          jobID,
			SequenceNumber: i,
			Timestamp:      BaseTime.Add(time.Duration(2*i) * time.Second),
			Role:           role,
			Content:        fmt.Sprintf("chat %d", i),
		}
	}
	return entries
}

// DocumentDeltas generates n deltas every three seconds; delta i creates Document D{i}
func DocumentDeltas(jobID string, n int) []models.GraphDelta {
	deltas := make([]models.GraphDelta, n)
	for i := range deltas {
		deltas[i] = models.GraphDelta{
			JobID:         jobID,
			ToolCallIndex: i,
			Timestamp:     BaseTime.Add(time.Duration(3*i) * time.Second),
			Query:         fmt.Sprintf("CREATE (d:Document {doc_id: 'D%d'})", i),
			Changes: models.DeltaChanges{Ops: []models.Change{
				models.NodeCreate{
					Variable:   "d",
					Labels:     []string{"Document"},
					Properties: map[string]interface{}{"doc_id": fmt.Sprintf("D%d", i)},
				},
			}},
		}
	}
	return deltas
}

// Job builds a FakeJob with the generated streams
func Job(jobID string, audit, chat, deltas int) *FakeJob {
	return &FakeJob{
		Name:       jobID,
		Audit:      AuditEntries(jobID, audit),
		Chat:       ChatEntries(jobID, chat),
		Deltas:     DocumentDeltas(jobID, deltas),
		LastUpdate: BaseTime,
	}
}
