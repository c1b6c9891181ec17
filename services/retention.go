package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultRetentionSchedule is the cron spec used when none is configured.
const DefaultRetentionSchedule = "@every 10m"

// Janitor periodically prunes finished jobs and batches older than a TTL
type Janitor struct {
	manager DownloadManager
	ttl     time.Duration
	cron    *cron.Cron
	now     func() time.Time
	log     *logrus.Entry
}

// NewJanitor schedules pruning of records that finished more than ttl ago
func NewJanitor(manager DownloadManager, schedule string, ttl time.Duration) (*Janitor, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("retention ttl must be positive, got %s", ttl)
	}
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}

	j := &Janitor{
		manager: manager,
		ttl:     ttl,
		cron:    cron.New(),
		now:     time.Now,
		log:     logrus.WithField("component", "janitor"),
	}

	if _, err := j.cron.AddFunc(schedule, func() { j.Sweep() }); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins running the schedule in the background
func (j *Janitor) Start() {
	j.cron.Start()
	j.log.WithField("ttl", j.ttl.String()).Info("Retention sweeps scheduled")
}

// Stop halts the schedule and waits for a running sweep to finish or ctx to end
func (j *Janitor) Stop(ctx context.Context) {
	select {
	case <-j.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Sweep prunes once and returns the number of jobs removed
func (j *Janitor) Sweep() int {
	removed := j.manager.Prune(j.now().Add(-j.ttl))
	if removed > 0 {
		j.log.WithField("removed", removed).Info("Pruned finished jobs")
	}
	return removed
}
