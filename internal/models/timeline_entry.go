package models

import "time"

// AuditEntry is one recorded step of an agent run. Index is dense and 0-based per job.
type AuditEntry struct {
	JobID     string                 `json:"jobId"`
	Index     int                    `json:"index"`
	Timestamp time.Time              `json:"timestamp"`
	StepType  StepType               `json:"stepType"`
	ToolName  string                 `json:"toolName,omitempty"`
	Summary   string                 `json:"summary,omitempty"`
	Content   string                 `json:"content,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// ChatEntry is one conversational turn. SequenceNumber is dense and 0-based per job.
type ChatEntry struct {
	JobID          string    `json:"jobId"`
	SequenceNumber int       `json:"sequenceNumber"`
	Timestamp      time.Time `json:"timestamp"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	ToolCallID     string    `json:"toolCallId,omitempty"`
}

// StreamKind names one of the three independently indexed streams of a job
type StreamKind string

const (
	StreamAudit StreamKind = "audit"
	StreamChat  StreamKind = "chat"
	StreamGraph StreamKind = "graph"
)

// Streams lists every stream in a fixed order
var Streams = []StreamKind{StreamAudit, StreamChat, StreamGraph}
