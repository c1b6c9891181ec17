package services

import (
	"time"

	"mixdeck/types"

	"github.com/sirupsen/logrus"
)

// batchRecord groups jobs submitted together. Membership is fixed at
// creation; the counters are recomputed from member states on every member
// transition, so they converge without polling.
type batchRecord struct {
	id            string
	jobIDs        []string
	completed     int
	failed        int
	cancelled     int
	state         types.BatchState
	createdAt     time.Time
	startedAt     time.Time
	completedAt   time.Time
	playlistID    string
	playlistTitle string

	// done is closed once every member is terminal.
	done      chan struct{}
	settled   bool
	settledAt time.Time
}

func (b *batchRecord) total() int {
	return len(b.jobIDs)
}

func (b *batchRecord) snapshot() types.Batch {
	ids := make([]string, len(b.jobIDs))
	copy(ids, b.jobIDs)

	return types.Batch{
		ID:              b.id,
		JobIDs:          ids,
		TotalTracks:     b.total(),
		CompletedTracks: b.completed,
		FailedTracks:    b.failed,
		CancelledTracks: b.cancelled,
		Status:          b.state,
		CreatedAt:       b.createdAt,
		StartedAt:       timePtr(b.startedAt),
		CompletedAt:     timePtr(b.completedAt),
		PlaylistID:      b.playlistID,
		PlaylistTitle:   b.playlistTitle,
	}
}

// refreshBatchLocked recounts member outcomes and advances the batch state.
// Failures never fail the batch: it completes once all members are terminal.
// A cancelled batch keeps its state while its counts converge.
func (m *manager) refreshBatchLocked(b *batchRecord, ch *changes) {
	var completed, failed, cancelled int
	started := false
	for _, id := range b.jobIDs {
		rec, ok := m.jobs[id]
		if !ok {
			continue
		}
		switch rec.state {
		case types.JobStateCompleted:
			completed++
		case types.JobStateFailed:
			failed++
		case types.JobStateCancelled:
			cancelled++
		}
		if rec.state != types.JobStatePending {
			started = true
		}
	}
	b.completed, b.failed, b.cancelled = completed, failed, cancelled

	now := m.now()
	if b.state == types.BatchStatePending && started {
		b.state = types.BatchStateProcessing
		b.startedAt = now
	}

	if completed+failed+cancelled == b.total() && !b.settled {
		if b.state != types.BatchStateCancelled {
			b.state = types.BatchStateCompleted
			b.completedAt = now
		}
		b.settled = true
		b.settledAt = now
		close(b.done)

		m.log.WithFields(logrus.Fields{
			"batch_id":  b.id,
			"completed": completed,
			"failed":    failed,
			"cancelled": cancelled,
		}).Info("Batch finished")
	}

	ch.touchBatch(b)
}
