package types

import "time"

// JobState represents the current state of a download job
type JobState string

const (
	JobStatePending     JobState = "pending"
	JobStateDownloading JobState = "downloading"
	JobStateCompleted   JobState = "completed"
	JobStateFailed      JobState = "failed"
	JobStateCancelled   JobState = "cancelled"
)

// IsTerminal reports whether no further transition can leave the state
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed || s == JobStateCancelled
}

// BatchState represents the aggregate state of a batch
type BatchState string

const (
	BatchStatePending    BatchState = "pending"
	BatchStateProcessing BatchState = "processing"
	BatchStateCompleted  BatchState = "completed"
	BatchStateCancelled  BatchState = "cancelled"
)

// JobDescriptor is what a caller submits to request one fetch
type JobDescriptor struct {
	URL    string `json:"url"`
	Source string `json:"source"`
	Title  string `json:"title"`
	Artist string `json:"artist,omitempty"`
}

// BatchMetadata is pass-through playlist information attached to a batch
type BatchMetadata struct {
	PlaylistID    string `json:"playlist_id,omitempty"`
	PlaylistTitle string `json:"playlist_title,omitempty"`
}

// Job is a point-in-time snapshot of one download job
type Job struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	Source        string     `json:"source"`
	Title         string     `json:"title"`
	Artist        string     `json:"artist,omitempty"`
	Status        JobState   `json:"status"`
	Progress      float64    `json:"progress"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	FilePath      string     `json:"file_path,omitempty"`
	BatchID       string     `json:"batch_id,omitempty"`
	PlaylistID    string     `json:"playlist_id,omitempty"`
	PlaylistTitle string     `json:"playlist_title,omitempty"`
}

// Batch is a point-in-time snapshot of a group of jobs submitted together
type Batch struct {
	ID              string     `json:"id"`
	JobIDs          []string   `json:"job_ids"`
	TotalTracks     int        `json:"total_tracks"`
	CompletedTracks int        `json:"completed_tracks"`
	FailedTracks    int        `json:"failed_tracks"`
	CancelledTracks int        `json:"cancelled_tracks"`
	Status          BatchState `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	PlaylistID      string     `json:"playlist_id,omitempty"`
	PlaylistTitle   string     `json:"playlist_title,omitempty"`
}

// Done returns the number of member jobs that reached a terminal state
func (b Batch) Done() int {
	return b.CompletedTracks + b.FailedTracks + b.CancelledTracks
}

// Stats counts jobs per state
type Stats struct {
	Pending     int `json:"pending"`
	Downloading int `json:"downloading"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Cancelled   int `json:"cancelled"`
	Batches     int `json:"batches"`
}
