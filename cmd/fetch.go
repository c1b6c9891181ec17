package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"mixdeck/config"
	"mixdeck/services"
	"mixdeck/sources"
	"mixdeck/types"

	"github.com/schollz/progressbar/v3"
)

const fetchPollInterval = 200 * time.Millisecond

// FetchOptions describes a one-shot download from the command line
type FetchOptions struct {
	URLs   []string
	Source string // detected from each URL when empty
	Title  string // defaults to the URL
	Artist string
}

// Descriptors turns the options into one job descriptor per URL
func (o FetchOptions) Descriptors() ([]types.JobDescriptor, error) {
	if len(o.URLs) == 0 {
		return nil, errors.New("at least one URL is required")
	}

	ds := make([]types.JobDescriptor, 0, len(o.URLs))
	for _, url := range o.URLs {
		source := o.Source
		if source == "" {
			source = sources.DetectTag(url)
		}
		if source == "" {
			return nil, fmt.Errorf("cannot detect source for %s, pass --source", url)
		}
		title := o.Title
		if title == "" {
			title = url
		}
		ds = append(ds, types.JobDescriptor{URL: url, Source: source, Title: title, Artist: o.Artist})
	}
	return ds, nil
}

// Fetch downloads every URL as one batch, drawing a progress bar on out, and
// returns an error if any job failed.
func Fetch(ctx context.Context, cfg *config.Config, opts FetchOptions, out io.Writer) error {
	ds, err := opts.Descriptors()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DownloadLocation, 0755); err != nil {
		return fmt.Errorf("failed to create download location: %w", err)
	}

	manager := NewManager(cfg, BuildRegistry(cfg), nil)
	manager.Start(ctx)
	defer manager.Stop()

	return runBatch(ctx, manager, ds, out)
}

func runBatch(ctx context.Context, manager services.DownloadManager, ds []types.JobDescriptor, out io.Writer) error {
	batchID, err := manager.CreateBatch(ds, types.BatchMetadata{})
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(len(ds),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("Downloading"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(out) }),
	)

	done := make(chan struct{})
	var batch types.Batch
	var waitErr error
	go func() {
		defer close(done)
		batch, waitErr = manager.WaitBatch(ctx, batchID)
	}()

	ticker := time.NewTicker(fetchPollInterval)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-done:
			break loop
		case <-ticker.C:
			if b, err := manager.GetBatchStatus(batchID); err == nil {
				bar.Set(b.Done())
			}
		}
	}

	if waitErr != nil {
		manager.CancelBatch(batchID)
		return waitErr
	}
	bar.Set(batch.Done())
	bar.Finish()

	for _, id := range batch.JobIDs {
		job, err := manager.GetStatus(id)
		if err != nil {
			continue
		}
		switch job.Status {
		case types.JobStateCompleted:
			fmt.Fprintf(out, "ok      %s -> %s\n", job.Title, job.FilePath)
		case types.JobStateFailed:
			fmt.Fprintf(out, "FAILED  %s: %s\n", job.Title, job.Error)
		default:
			fmt.Fprintf(out, "%-7s %s\n", job.Status, job.Title)
		}
	}

	if batch.FailedTracks > 0 {
		return fmt.Errorf("%d of %d downloads failed", batch.FailedTracks, batch.TotalTracks)
	}
	return nil
}
