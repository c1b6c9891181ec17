package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"mixdeck/sources"
	"mixdeck/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultWorkers is the pool size used when Options.Workers is not positive.
const DefaultWorkers = 3

// DownloadManager interface defines the methods for orchestrating download jobs
type DownloadManager interface {
	Start(ctx context.Context)
	Stop()
	Enqueue(d types.JobDescriptor) (string, error)
	CreateBatch(ds []types.JobDescriptor, meta types.BatchMetadata) (string, error)
	GetStatus(id string) (types.Job, error)
	GetBatchStatus(id string) (types.Batch, error)
	ListJobs() []types.Job
	ListBatches() []types.Batch
	Stats() types.Stats
	Cancel(id string) error
	CancelBatch(id string) error
	WaitBatch(ctx context.Context, id string) (types.Batch, error)
	Prune(before time.Time) int
}

// Notifier receives snapshots after every job or batch change. It is called
// without the manager lock held and must not block.
type Notifier interface {
	JobUpdated(job types.Job)
	BatchUpdated(batch types.Batch)
}

// Options configures a DownloadManager
type Options struct {
	Workers    int
	JobTimeout time.Duration // 0 means adapters run without a deadline
	Notifier   Notifier
	Logger     *logrus.Logger
}

type jobRecord struct {
	id            string
	url           string
	source        string
	title         string
	artist        string
	state         types.JobState
	progress      float64
	errMsg        string
	createdAt     time.Time
	startedAt     time.Time
	completedAt   time.Time
	resultPath    string
	batchID       string
	playlistID    string
	playlistTitle string
}

func (r *jobRecord) snapshot() types.Job {
	return types.Job{
		ID:            r.id,
		URL:           r.url,
		Source:        r.source,
		Title:         r.title,
		Artist:        r.artist,
		Status:        r.state,
		Progress:      r.progress,
		Error:         r.errMsg,
		CreatedAt:     r.createdAt,
		StartedAt:     timePtr(r.startedAt),
		CompletedAt:   timePtr(r.completedAt),
		FilePath:      r.resultPath,
		BatchID:       r.batchID,
		PlaylistID:    r.playlistID,
		PlaylistTitle: r.playlistTitle,
	}
}

// manager owns the queue, the worker pool and the job/batch registries.
// Every registry field is guarded by mu.
type manager struct {
	mu         sync.Mutex
	jobs       map[string]*jobRecord
	batches    map[string]*batchRecord
	jobOrder   []string
	batchOrder []string

	queue      *jobQueue
	registry   *sources.Registry
	workers    int
	jobTimeout time.Duration
	notifier   Notifier
	log        *logrus.Entry
	now        func() time.Time

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDownloadManager creates a manager dispatching through registry. Workers
// are not running until Start is called.
func NewDownloadManager(registry *sources.Registry, opts Options) DownloadManager {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &manager{
		jobs:       make(map[string]*jobRecord),
		batches:    make(map[string]*batchRecord),
		queue:      newJobQueue(),
		registry:   registry,
		workers:    workers,
		jobTimeout: opts.JobTimeout,
		notifier:   opts.Notifier,
		log:        logger.WithField("component", "download-manager"),
		now:        time.Now,
	}
}

// Enqueue validates d, records a pending job and queues it
func (m *manager) Enqueue(d types.JobDescriptor) (string, error) {
	d, err := validateDescriptor(d, "")
	if err != nil {
		return "", err
	}

	var ch changes
	m.mu.Lock()
	rec := m.newJobLocked(d, "", types.BatchMetadata{})
	ch.job(rec)
	m.unlockAndPublish(&ch)

	m.queue.Push(rec.id)

	m.log.WithFields(logrus.Fields{
		"job_id": rec.id,
		"source": rec.source,
		"title":  rec.title,
	}).Info("Job queued")

	return rec.id, nil
}

// CreateBatch records one pending job per descriptor under a new batch and
// queues them in order. Nothing is created if any descriptor is invalid.
func (m *manager) CreateBatch(ds []types.JobDescriptor, meta types.BatchMetadata) (string, error) {
	if len(ds) == 0 {
		return "", newValidationError("tracks", "at least one track is required")
	}

	valid := make([]types.JobDescriptor, len(ds))
	for i, d := range ds {
		v, err := validateDescriptor(d, fmt.Sprintf("tracks[%d].", i))
		if err != nil {
			return "", err
		}
		valid[i] = v
	}

	var ch changes
	m.mu.Lock()
	b := &batchRecord{
		id:            uuid.New().String(),
		state:         types.BatchStatePending,
		createdAt:     m.now(),
		playlistID:    meta.PlaylistID,
		playlistTitle: meta.PlaylistTitle,
		done:          make(chan struct{}),
	}
	ids := make([]string, 0, len(valid))
	for _, d := range valid {
		rec := m.newJobLocked(d, b.id, meta)
		ids = append(ids, rec.id)
		ch.job(rec)
	}
	b.jobIDs = ids
	m.batches[b.id] = b
	m.batchOrder = append(m.batchOrder, b.id)
	ch.touchBatch(b)
	m.unlockAndPublish(&ch)

	m.queue.Push(ids...)

	m.log.WithFields(logrus.Fields{
		"batch_id":    b.id,
		"total":       len(ids),
		"playlist_id": meta.PlaylistID,
	}).Info("Batch queued")

	return b.id, nil
}

// GetStatus returns a snapshot of the job
func (m *manager) GetStatus(id string) (types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.jobs[id]
	if !ok {
		return types.Job{}, notFound("job", id)
	}
	return rec.snapshot(), nil
}

// GetBatchStatus returns a snapshot of the batch
func (m *manager) GetBatchStatus(id string) (types.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.batches[id]
	if !ok {
		return types.Batch{}, notFound("batch", id)
	}
	return b.snapshot(), nil
}

// ListJobs returns snapshots of every job in creation order
func (m *manager) ListJobs() []types.Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]types.Job, 0, len(m.jobOrder))
	for _, id := range m.jobOrder {
		jobs = append(jobs, m.jobs[id].snapshot())
	}
	return jobs
}

// ListBatches returns snapshots of every batch in creation order
func (m *manager) ListBatches() []types.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()

	batches := make([]types.Batch, 0, len(m.batchOrder))
	for _, id := range m.batchOrder {
		batches = append(batches, m.batches[id].snapshot())
	}
	return batches
}

// Stats counts jobs per state
func (m *manager) Stats() types.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := types.Stats{Batches: len(m.batches)}
	for _, rec := range m.jobs {
		switch rec.state {
		case types.JobStatePending:
			stats.Pending++
		case types.JobStateDownloading:
			stats.Downloading++
		case types.JobStateCompleted:
			stats.Completed++
		case types.JobStateFailed:
			stats.Failed++
		case types.JobStateCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

// Cancel marks a non-terminal job cancelled. A job already under way keeps
// running in its worker, but its outcome is discarded.
func (m *manager) Cancel(id string) error {
	var ch changes
	m.mu.Lock()
	rec, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return notFound("job", id)
	}
	if rec.state.IsTerminal() {
		m.mu.Unlock()
		return nil
	}
	wasDownloading := rec.state == types.JobStateDownloading
	m.finishLocked(rec, types.JobStateCancelled, "", "", &ch)
	m.unlockAndPublish(&ch)

	m.log.WithFields(logrus.Fields{
		"job_id":      id,
		"in_progress": wasDownloading,
	}).Info("Job cancelled")
	return nil
}

// CancelBatch marks the batch cancelled and cancels its pending jobs. Jobs
// already downloading finish naturally and are still counted.
func (m *manager) CancelBatch(id string) error {
	var ch changes
	m.mu.Lock()
	b, ok := m.batches[id]
	if !ok {
		m.mu.Unlock()
		return notFound("batch", id)
	}
	if b.state == types.BatchStateCompleted || b.state == types.BatchStateCancelled {
		m.mu.Unlock()
		return nil
	}

	b.state = types.BatchStateCancelled
	b.completedAt = m.now()
	cancelled := 0
	for _, jobID := range b.jobIDs {
		if rec, ok := m.jobs[jobID]; ok && rec.state == types.JobStatePending {
			m.finishLocked(rec, types.JobStateCancelled, "", "", &ch)
			cancelled++
		}
	}
	m.refreshBatchLocked(b, &ch)
	m.unlockAndPublish(&ch)

	m.log.WithFields(logrus.Fields{
		"batch_id":  id,
		"cancelled": cancelled,
	}).Info("Batch cancelled")
	return nil
}

// WaitBatch blocks until every job of the batch is terminal or ctx ends
func (m *manager) WaitBatch(ctx context.Context, id string) (types.Batch, error) {
	m.mu.Lock()
	b, ok := m.batches[id]
	if !ok {
		m.mu.Unlock()
		return types.Batch{}, notFound("batch", id)
	}
	done := b.done
	m.mu.Unlock()

	select {
	case <-done:
		return m.GetBatchStatus(id)
	case <-ctx.Done():
		return types.Batch{}, ctx.Err()
	}
}

// Prune forgets terminal jobs and settled batches that finished before the
// cutoff. Jobs of an unsettled batch are kept. It returns the number of jobs
// removed.
func (m *manager) Prune(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, b := range m.batches {
		if !b.settled || !b.settledAt.Before(before) {
			continue
		}
		for _, jobID := range b.jobIDs {
			if _, ok := m.jobs[jobID]; ok {
				delete(m.jobs, jobID)
				removed++
			}
		}
		delete(m.batches, id)
	}

	for id, rec := range m.jobs {
		if rec.batchID == "" && rec.state.IsTerminal() && rec.completedAt.Before(before) {
			delete(m.jobs, id)
			removed++
		}
	}

	if removed > 0 {
		m.jobOrder = compact(m.jobOrder, func(id string) bool { _, ok := m.jobs[id]; return ok })
		m.batchOrder = compact(m.batchOrder, func(id string) bool { _, ok := m.batches[id]; return ok })
	}
	return removed
}

func (m *manager) newJobLocked(d types.JobDescriptor, batchID string, meta types.BatchMetadata) *jobRecord {
	rec := &jobRecord{
		id:            uuid.New().String(),
		url:           d.URL,
		source:        d.Source,
		title:         d.Title,
		artist:        d.Artist,
		state:         types.JobStatePending,
		createdAt:     m.now(),
		batchID:       batchID,
		playlistID:    meta.PlaylistID,
		playlistTitle: meta.PlaylistTitle,
	}
	m.jobs[rec.id] = rec
	m.jobOrder = append(m.jobOrder, rec.id)
	return rec
}

// startLocked moves a pending job to downloading.
func (m *manager) startLocked(rec *jobRecord, ch *changes) {
	rec.state = types.JobStateDownloading
	rec.startedAt = m.now()
	ch.job(rec)
	m.touchBatchOfLocked(rec, ch)
}

// finishLocked moves a non-terminal job to the terminal state.
func (m *manager) finishLocked(rec *jobRecord, state types.JobState, path, errMsg string, ch *changes) {
	rec.state = state
	rec.completedAt = m.now()
	switch state {
	case types.JobStateCompleted:
		rec.progress = 100
		rec.resultPath = path
	case types.JobStateFailed:
		rec.errMsg = errMsg
	}
	ch.job(rec)
	m.touchBatchOfLocked(rec, ch)
}

func (m *manager) touchBatchOfLocked(rec *jobRecord, ch *changes) {
	if rec.batchID == "" {
		return
	}
	if b, ok := m.batches[rec.batchID]; ok {
		m.refreshBatchLocked(b, ch)
	}
}

// unlockAndPublish releases mu and hands the collected snapshots to the
// notifier.
func (m *manager) unlockAndPublish(ch *changes) {
	batches := make([]types.Batch, 0, len(ch.batches))
	for _, b := range ch.batches {
		batches = append(batches, b.snapshot())
	}
	m.mu.Unlock()

	if m.notifier == nil {
		return
	}
	for _, job := range ch.jobs {
		m.notifier.JobUpdated(job)
	}
	for _, batch := range batches {
		m.notifier.BatchUpdated(batch)
	}
}

// changes collects what a critical section modified.
type changes struct {
	jobs    []types.Job
	batches []*batchRecord
}

func (c *changes) job(rec *jobRecord) {
	c.jobs = append(c.jobs, rec.snapshot())
}

func (c *changes) touchBatch(b *batchRecord) {
	for _, seen := range c.batches {
		if seen == b {
			return
		}
	}
	c.batches = append(c.batches, b)
}

func validateDescriptor(d types.JobDescriptor, prefix string) (types.JobDescriptor, error) {
	d.URL = strings.TrimSpace(d.URL)
	d.Source = strings.ToLower(strings.TrimSpace(d.Source))
	d.Title = strings.TrimSpace(d.Title)
	d.Artist = strings.TrimSpace(d.Artist)

	switch {
	case d.URL == "":
		return d, newValidationError(prefix+"url", "is required")
	case d.Source == "":
		return d, newValidationError(prefix+"source", "is required")
	case d.Title == "":
		return d, newValidationError(prefix+"title", "is required")
	}
	return d, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func compact(ids []string, keep func(string) bool) []string {
	out := ids[:0]
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}
