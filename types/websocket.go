package types

import "time"

// ProgressMessage represents a WebSocket progress update message
type ProgressMessage struct {
	JobID     string    `json:"job_id,omitempty"`
	BatchID   string    `json:"batch_id,omitempty"`
	Type      string    `json:"type"`     // "progress", "complete", "error", "cancelled", "batch"
	Progress  float64   `json:"progress"` // 0-100 percentage
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Job       *Job      `json:"job,omitempty"`
	Batch     *Batch    `json:"batch,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
