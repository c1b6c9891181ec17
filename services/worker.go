package services

import (
	"context"
	"fmt"
	"math"

	"mixdeck/types"

	"github.com/sirupsen/logrus"
)

// Start launches the worker pool. Calling it again is a no-op; a stopped
// manager cannot be restarted.
func (m *manager) Start(ctx context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i+1)
	}

	m.log.WithField("workers", m.workers).Info("Download workers started")
}

// Stop cancels in-flight adapter calls and waits for every worker to exit.
// Jobs still pending stay pending.
func (m *manager) Stop() {
	m.runMu.Lock()
	cancel := m.cancel
	m.runMu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	m.queue.Close()
	m.wg.Wait()

	m.log.Info("Download workers stopped")
}

// worker processes jobs from the queue one at a time
func (m *manager) worker(ctx context.Context, n int) {
	defer m.wg.Done()

	log := m.log.WithField("worker", n)
	for {
		id, err := m.queue.Pop(ctx)
		if err != nil || ctx.Err() != nil {
			log.Debug("Worker exiting")
			return
		}
		m.runJob(ctx, log, id)
	}
}

func (m *manager) runJob(ctx context.Context, log *logrus.Entry, id string) {
	var ch changes
	m.mu.Lock()
	rec, ok := m.jobs[id]
	if !ok || rec.state != types.JobStatePending {
		// Cancelled (or pruned) while queued.
		m.mu.Unlock()
		return
	}
	m.startLocked(rec, &ch)
	source, url := rec.source, rec.url
	m.unlockAndPublish(&ch)

	entry := log.WithFields(logrus.Fields{
		"job_id": id,
		"source": source,
	})
	entry.Info("Job started")

	path, err := m.fetch(ctx, id, source, url)
	m.complete(entry, id, path, err)
}

// fetch dispatches to the adapter registered for source. Adapter errors and
// panics come back as *DownloadError.
func (m *manager) fetch(ctx context.Context, id, source, url string) (path string, err error) {
	adapter, ok := m.registry.Lookup(source)
	if !ok {
		return "", newUnsupportedSourceError(source)
	}

	if m.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.jobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			path = ""
			err = newDownloadError(source, fmt.Errorf("adapter panic: %v", r))
		}
	}()

	path, err = adapter.Fetch(ctx, url, func(percent float64) {
		m.updateProgress(id, percent)
	})
	if err != nil {
		return "", newDownloadError(source, err)
	}
	if path == "" {
		return "", &DownloadError{Source: source, Message: "adapter returned no file path"}
	}
	return path, nil
}

// complete records the adapter outcome unless the job was cancelled while
// the adapter ran, in which case the outcome is dropped.
func (m *manager) complete(log *logrus.Entry, id, path string, err error) {
	var ch changes
	m.mu.Lock()
	rec, ok := m.jobs[id]
	if !ok || rec.state.IsTerminal() {
		m.mu.Unlock()
		log.WithField("discarded_path", path).Debug("Discarding outcome of cancelled job")
		return
	}

	if err != nil {
		m.finishLocked(rec, types.JobStateFailed, "", err.Error(), &ch)
	} else {
		m.finishLocked(rec, types.JobStateCompleted, path, "", &ch)
	}
	m.unlockAndPublish(&ch)

	if err != nil {
		log.WithError(err).Warn("Job failed")
		return
	}
	log.WithField("path", path).Info("Job completed")
}

// updateProgress records adapter progress while the job is downloading.
// Values are clamped to [0, 100] and never move backwards.
func (m *manager) updateProgress(id string, percent float64) {
	if math.IsNaN(percent) {
		return
	}
	if percent > 100 {
		percent = 100
	}

	var ch changes
	m.mu.Lock()
	rec, ok := m.jobs[id]
	if !ok || rec.state != types.JobStateDownloading || percent <= rec.progress {
		m.mu.Unlock()
		return
	}
	rec.progress = percent
	ch.job(rec)
	m.unlockAndPublish(&ch)
}
