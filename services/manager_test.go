package services

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"mixdeck/sources"
	"mixdeck/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// newTestManager builds a manager with the given adapters. It is started only
// when start is true, and stopped at cleanup.
func newTestManager(t *testing.T, opts Options, adapters map[string]sources.Adapter, start bool) DownloadManager {
	t.Helper()

	registry := sources.NewRegistry()
	for tag, a := range adapters {
		registry.Register(tag, a)
	}
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}

	m := NewDownloadManager(registry, opts)
	if start {
		m.Start(context.Background())
		t.Cleanup(m.Stop)
	}
	return m
}

// gate is an adapter that blocks each fetch until released
type gate struct {
	started chan string
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan string, 64), release: make(chan struct{})}
}

func (g *gate) adapter(path string) sources.AdapterFunc {
	return func(ctx context.Context, url string, progress sources.ProgressFunc) (string, error) {
		g.started <- url
		select {
		case <-g.release:
			return path, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (g *gate) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case url := <-g.started:
		return url
	case <-time.After(waitFor):
		t.Fatal("adapter was never called")
		return ""
	}
}

func instant(path string) sources.AdapterFunc {
	return func(ctx context.Context, url string, progress sources.ProgressFunc) (string, error) {
		return path, nil
	}
}

func track(url string) types.JobDescriptor {
	return types.JobDescriptor{URL: url, Source: "youtube", Title: "Track " + url}
}

func waitJobState(t *testing.T, m DownloadManager, id string, state types.JobState) types.Job {
	t.Helper()
	require.Eventually(t, func() bool {
		job, err := m.GetStatus(id)
		return err == nil && job.Status == state
	}, waitFor, tick)
	job, err := m.GetStatus(id)
	require.NoError(t, err)
	return job
}

type recordingNotifier struct {
	mu      sync.Mutex
	jobs    []types.Job
	batches []types.Batch
}

func (n *recordingNotifier) JobUpdated(job types.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, job)
}

func (n *recordingNotifier) BatchUpdated(batch types.Batch) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, batch)
}

func (n *recordingNotifier) jobStates(id string) []types.JobState {
	n.mu.Lock()
	defer n.mu.Unlock()
	var states []types.JobState
	for _, j := range n.jobs {
		if j.ID == id {
			states = append(states, j.Status)
		}
	}
	return states
}

func (n *recordingNotifier) sawBatch(match func(types.Batch) bool) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, b := range n.batches {
		if match(b) {
			return true
		}
	}
	return false
}

func TestEnqueueValidation(t *testing.T) {
	m := newTestManager(t, Options{}, nil, false)

	tests := []struct {
		name  string
		desc  types.JobDescriptor
		field string
	}{
		{"missing url", types.JobDescriptor{Source: "youtube", Title: "t"}, "url"},
		{"blank url", types.JobDescriptor{URL: "   ", Source: "youtube", Title: "t"}, "url"},
		{"missing source", types.JobDescriptor{URL: "https://x", Title: "t"}, "source"},
		{"missing title", types.JobDescriptor{URL: "https://x", Source: "youtube"}, "title"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := m.Enqueue(tt.desc)
			require.Error(t, err)
			assert.Empty(t, id)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.False(t, errors.Is(err, ErrNotFound))
		})
	}

	assert.Empty(t, m.ListJobs())
}

func TestEnqueueNormalizesSource(t *testing.T) {
	m := newTestManager(t, Options{}, nil, false)

	id, err := m.Enqueue(types.JobDescriptor{URL: " https://x ", Source: " YouTube ", Title: "Song"})
	require.NoError(t, err)

	job, err := m.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, "youtube", job.Source)
	assert.Equal(t, "https://x", job.URL)
	assert.Equal(t, types.JobStatePending, job.Status)
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)
	assert.Zero(t, job.Progress)
}

func TestEnqueueCompletes(t *testing.T) {
	m := newTestManager(t, Options{Workers: 1}, map[string]sources.Adapter{
		"youtube": instant("/music/song.mp3"),
	}, true)

	id, err := m.Enqueue(track("https://youtu.be/a"))
	require.NoError(t, err)

	job := waitJobState(t, m, id, types.JobStateCompleted)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, "/music/song.mp3", job.FilePath)
	assert.Empty(t, job.Error)
	require.NotNil(t, job.StartedAt)
	require.NotNil(t, job.CompletedAt)
	assert.False(t, job.CompletedAt.Before(*job.StartedAt))
}

func TestSnapshotsAreCopies(t *testing.T) {
	m := newTestManager(t, Options{}, nil, false)

	batchID, err := m.CreateBatch([]types.JobDescriptor{track("a"), track("b")}, types.BatchMetadata{})
	require.NoError(t, err)

	batch, err := m.GetBatchStatus(batchID)
	require.NoError(t, err)
	original := batch.JobIDs[0]
	batch.JobIDs[0] = "tampered"
	batch.TotalTracks = 99

	again, err := m.GetBatchStatus(batchID)
	require.NoError(t, err)
	assert.Equal(t, original, again.JobIDs[0])
	assert.Equal(t, 2, again.TotalTracks)
}

func TestCancelIsIdempotent(t *testing.T) {
	m := newTestManager(t, Options{}, nil, false)

	id, err := m.Enqueue(track("a"))
	require.NoError(t, err)

	require.NoError(t, m.Cancel(id))
	first, err := m.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateCancelled, first.Status)
	require.NotNil(t, first.CompletedAt)

	require.NoError(t, m.Cancel(id))
	second, err := m.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestUnknownIDsAreNotFound(t *testing.T) {
	m := newTestManager(t, Options{}, nil, false)

	_, err := m.GetStatus("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.GetBatchStatus("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, m.Cancel("nope"), ErrNotFound)
	assert.ErrorIs(t, m.CancelBatch("nope"), ErrNotFound)

	_, err = m.WaitBatch(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	var verr *ValidationError
	assert.ErrorAs(t, m.Cancel("nope"), &verr)
}

func TestWorkerBound(t *testing.T) {
	g := newGate()
	m := newTestManager(t, Options{Workers: 2}, map[string]sources.Adapter{
		"youtube": g.adapter("/music/x.mp3"),
	}, true)

	ids := make([]string, 0, 5)
	for _, url := range []string{"1", "2", "3", "4", "5"} {
		id, err := m.Enqueue(track(url))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	g.waitStarted(t)
	g.waitStarted(t)

	stats := m.Stats()
	assert.Equal(t, 2, stats.Downloading)
	assert.Equal(t, 3, stats.Pending)

	// FIFO: the two oldest jobs are the ones running.
	for i, id := range ids {
		job, err := m.GetStatus(id)
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, types.JobStateDownloading, job.Status)
		} else {
			assert.Equal(t, types.JobStatePending, job.Status)
		}
	}

	close(g.release)
	for _, id := range ids {
		waitJobState(t, m, id, types.JobStateCompleted)
	}
	assert.Equal(t, 5, m.Stats().Completed)
}

func TestBatchWithFailure(t *testing.T) {
	adapter := sources.AdapterFunc(func(ctx context.Context, url string, progress sources.ProgressFunc) (string, error) {
		if url == "u2" {
			return "", errors.New("video unavailable")
		}
		return "/music/" + url + ".mp3", nil
	})
	note := &recordingNotifier{}
	m := newTestManager(t, Options{Workers: 2, Notifier: note}, map[string]sources.Adapter{
		"youtube": adapter,
	}, true)

	batchID, err := m.CreateBatch(
		[]types.JobDescriptor{track("u1"), track("u2"), track("u3")},
		types.BatchMetadata{PlaylistID: "pl-1", PlaylistTitle: "Road Trip"},
	)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	batch, err := m.WaitBatch(ctx, batchID)
	require.NoError(t, err)

	assert.Equal(t, types.BatchStateCompleted, batch.Status)
	assert.Equal(t, 3, batch.TotalTracks)
	assert.Equal(t, 2, batch.CompletedTracks)
	assert.Equal(t, 1, batch.FailedTracks)
	assert.Zero(t, batch.CancelledTracks)
	assert.Equal(t, "pl-1", batch.PlaylistID)
	require.NotNil(t, batch.CompletedAt)

	failed, err := m.GetStatus(batch.JobIDs[1])
	require.NoError(t, err)
	assert.Equal(t, types.JobStateFailed, failed.Status)
	assert.Equal(t, "video unavailable", failed.Error)
	assert.Equal(t, batchID, failed.BatchID)
	assert.Equal(t, "Road Trip", failed.PlaylistTitle)

	// Notifications are delivered after the lock is released, possibly out of order.
	require.Eventually(t, func() bool {
		return note.sawBatch(func(b types.Batch) bool {
			return b.Status == types.BatchStateCompleted && b.Done() == 3
		})
	}, waitFor, tick)
}

func TestCreateBatchValidationIsAtomic(t *testing.T) {
	m := newTestManager(t, Options{}, nil, false)

	_, err := m.CreateBatch(nil, types.BatchMetadata{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "tracks", verr.Field)

	_, err = m.CreateBatch([]types.JobDescriptor{track("a"), {URL: "b", Source: "youtube"}}, types.BatchMetadata{})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "tracks[1].title", verr.Field)

	assert.Empty(t, m.ListJobs())
	assert.Empty(t, m.ListBatches())
}

func TestCancelBatchWhilePending(t *testing.T) {
	m := newTestManager(t, Options{}, nil, false)

	batchID, err := m.CreateBatch([]types.JobDescriptor{track("a"), track("b"), track("c"), track("d")}, types.BatchMetadata{})
	require.NoError(t, err)

	require.NoError(t, m.CancelBatch(batchID))
	require.NoError(t, m.CancelBatch(batchID))

	batch, err := m.GetBatchStatus(batchID)
	require.NoError(t, err)
	assert.Equal(t, types.BatchStateCancelled, batch.Status)
	assert.Equal(t, 4, batch.CancelledTracks)
	assert.Equal(t, batch.TotalTracks, batch.Done())

	for _, id := range batch.JobIDs {
		job, err := m.GetStatus(id)
		require.NoError(t, err)
		assert.Equal(t, types.JobStateCancelled, job.Status)
	}

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err = m.WaitBatch(ctx, batchID)
	assert.NoError(t, err)
}

func TestCancelBatchLetsRunningJobFinish(t *testing.T) {
	g := newGate()
	m := newTestManager(t, Options{Workers: 1}, map[string]sources.Adapter{
		"youtube": g.adapter("/music/a.mp3"),
	}, true)

	batchID, err := m.CreateBatch([]types.JobDescriptor{track("a"), track("b"), track("c")}, types.BatchMetadata{})
	require.NoError(t, err)
	g.waitStarted(t)

	require.NoError(t, m.CancelBatch(batchID))
	batch, err := m.GetBatchStatus(batchID)
	require.NoError(t, err)
	assert.Equal(t, types.BatchStateCancelled, batch.Status)
	assert.Equal(t, 2, batch.CancelledTracks)

	close(g.release)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	batch, err = m.WaitBatch(ctx, batchID)
	require.NoError(t, err)
	assert.Equal(t, types.BatchStateCancelled, batch.Status)
	assert.Equal(t, 1, batch.CompletedTracks)
	assert.Equal(t, 2, batch.CancelledTracks)
}

func TestUnsupportedSource(t *testing.T) {
	note := &recordingNotifier{}
	m := newTestManager(t, Options{Workers: 1, Notifier: note}, map[string]sources.Adapter{
		"youtube": instant("/music/x.mp3"),
	}, true)

	id, err := m.Enqueue(types.JobDescriptor{URL: "https://deezer.com/track/1", Source: "deezer", Title: "Song"})
	require.NoError(t, err)

	job := waitJobState(t, m, id, types.JobStateFailed)
	assert.Equal(t, "unsupported source: deezer", job.Error)
	assert.Equal(t,
		[]types.JobState{types.JobStatePending, types.JobStateDownloading, types.JobStateFailed},
		note.jobStates(id))
}

func TestLateSuccessAfterCancelIsDiscarded(t *testing.T) {
	g := newGate()
	m := newTestManager(t, Options{Workers: 1}, map[string]sources.Adapter{
		"youtube": g.adapter("/music/late.mp3"),
	}, true)

	id, err := m.Enqueue(track("slow"))
	require.NoError(t, err)
	g.waitStarted(t)

	require.NoError(t, m.Cancel(id))

	next, err := m.Enqueue(track("next"))
	require.NoError(t, err)
	g.release <- struct{}{}
	// The single worker only picks up the next job after recording the first.
	assert.Equal(t, "next", g.waitStarted(t))

	job, err := m.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateCancelled, job.Status)
	assert.Empty(t, job.FilePath)
	assert.NotEqual(t, 100.0, job.Progress)

	close(g.release)
	waitJobState(t, m, next, types.JobStateCompleted)
}

func TestAdapterPanicIsContained(t *testing.T) {
	adapter := sources.AdapterFunc(func(ctx context.Context, url string, progress sources.ProgressFunc) (string, error) {
		if url == "bad" {
			panic("decoder exploded")
		}
		return "/music/ok.mp3", nil
	})
	m := newTestManager(t, Options{Workers: 1}, map[string]sources.Adapter{"youtube": adapter}, true)

	bad, err := m.Enqueue(track("bad"))
	require.NoError(t, err)
	good, err := m.Enqueue(track("good"))
	require.NoError(t, err)

	job := waitJobState(t, m, bad, types.JobStateFailed)
	assert.Contains(t, job.Error, "adapter panic")
	assert.Contains(t, job.Error, "decoder exploded")

	waitJobState(t, m, good, types.JobStateCompleted)
}

func TestEmptyResultPathFails(t *testing.T) {
	m := newTestManager(t, Options{Workers: 1}, map[string]sources.Adapter{"youtube": instant("")}, true)

	id, err := m.Enqueue(track("a"))
	require.NoError(t, err)

	job := waitJobState(t, m, id, types.JobStateFailed)
	assert.Equal(t, "adapter returned no file path", job.Error)
}

func TestProgressIsMonotonic(t *testing.T) {
	reported := make(chan struct{})
	release := make(chan struct{})
	adapter := sources.AdapterFunc(func(ctx context.Context, url string, progress sources.ProgressFunc) (string, error) {
		progress(10)
		progress(55.5)
		progress(30)
		close(reported)
		<-release
		return "/music/p.mp3", nil
	})
	m := newTestManager(t, Options{Workers: 1}, map[string]sources.Adapter{"youtube": adapter}, true)

	id, err := m.Enqueue(track("p"))
	require.NoError(t, err)

	select {
	case <-reported:
	case <-time.After(waitFor):
		t.Fatal("adapter never reported progress")
	}

	job, err := m.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, types.JobStateDownloading, job.Status)
	assert.Equal(t, 55.5, job.Progress)

	close(release)
	job = waitJobState(t, m, id, types.JobStateCompleted)
	assert.Equal(t, 100.0, job.Progress)
}

func TestJobTimeout(t *testing.T) {
	g := newGate()
	m := newTestManager(t, Options{Workers: 1, JobTimeout: 20 * time.Millisecond}, map[string]sources.Adapter{
		"youtube": g.adapter("/music/never.mp3"),
	}, true)

	id, err := m.Enqueue(track("stuck"))
	require.NoError(t, err)

	job := waitJobState(t, m, id, types.JobStateFailed)
	assert.Equal(t, context.DeadlineExceeded.Error(), job.Error)
}

func TestWaitBatchHonoursContext(t *testing.T) {
	m := newTestManager(t, Options{}, nil, false)

	batchID, err := m.CreateBatch([]types.JobDescriptor{track("a")}, types.BatchMetadata{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.WaitBatch(ctx, batchID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPrune(t *testing.T) {
	m := newTestManager(t, Options{}, nil, false)

	pending, err := m.Enqueue(track("keep"))
	require.NoError(t, err)
	cancelled, err := m.Enqueue(track("drop"))
	require.NoError(t, err)
	require.NoError(t, m.Cancel(cancelled))

	open, err := m.CreateBatch([]types.JobDescriptor{track("o1")}, types.BatchMetadata{})
	require.NoError(t, err)
	settled, err := m.CreateBatch([]types.JobDescriptor{track("s1"), track("s2")}, types.BatchMetadata{})
	require.NoError(t, err)
	require.NoError(t, m.CancelBatch(settled))

	assert.Zero(t, m.Prune(time.Now().Add(-time.Hour)))

	removed := m.Prune(time.Now().Add(time.Minute))
	assert.Equal(t, 3, removed)

	_, err = m.GetStatus(cancelled)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.GetBatchStatus(settled)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.GetStatus(pending)
	assert.NoError(t, err)
	_, err = m.GetBatchStatus(open)
	assert.NoError(t, err)

	assert.Len(t, m.ListJobs(), 2)
	assert.Len(t, m.ListBatches(), 1)
	assert.Equal(t, 1, m.Stats().Batches)
}

func TestStartIsIdempotentAndStopWaits(t *testing.T) {
	m := newTestManager(t, Options{Workers: 2}, map[string]sources.Adapter{"youtube": instant("/music/a.mp3")}, false)

	m.Start(context.Background())
	m.Start(context.Background())

	id, err := m.Enqueue(track("a"))
	require.NoError(t, err)
	waitJobState(t, m, id, types.JobStateCompleted)

	m.Stop()
	m.Stop()

	// Jobs queued after Stop stay pending.
	later, err := m.Enqueue(track("b"))
	require.NoError(t, err)
	job, err := m.GetStatus(later)
	require.NoError(t, err)
	assert.Equal(t, types.JobStatePending, job.Status)
}
