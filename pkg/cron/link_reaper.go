package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/latoulicious/spoticord/pkg/logging"
	"github.com/latoulicious/spoticord/pkg/metrics"
)

// PendingLinkPurger is the store capability the reaper needs.
type PendingLinkPurger interface {
	PurgePendingLinks(ctx context.Context, olderThan time.Time) (int64, error)
}

// LinkReaper periodically deletes link tokens whose OAuth flow was never
// completed, so an abandoned link does not block the user from linking again.
type LinkReaper struct {
	cron      *cron.Cron
	cronEntry cron.EntryID
	store     PendingLinkPurger
	ttl       time.Duration
	schedule  string
	log       logging.Logger

	mutex     sync.Mutex
	isRunning bool
	now       func() time.Time
}

// NewLinkReaper schedules the reaper; call Start to begin running it.
func NewLinkReaper(store PendingLinkPurger, ttl time.Duration, schedule string, log logging.Logger) (*LinkReaper, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("link ttl must be > 0, got %s", ttl)
	}

	r := &LinkReaper{
		cron:     cron.New(),
		store:    store,
		ttl:      ttl,
		schedule: schedule,
		log:      log.With(logging.Component("link_reaper")),
		now:      time.Now,
	}

	entryID, err := r.cron.AddFunc(schedule, func() { r.Reap(context.Background()) })
	if err != nil {
		return nil, fmt.Errorf("schedule link reaper %q: %w", schedule, err)
	}
	r.cronEntry = entryID

	return r, nil
}

// Start starts the cron scheduler
func (r *LinkReaper) Start() {
	r.cron.Start()
	r.log.Info("link reaper scheduled", logging.String("schedule", r.schedule), logging.Duration("ttl", r.ttl))
}

// Reap runs one purge. Overlapping runs are skipped.
func (r *LinkReaper) Reap(ctx context.Context) int64 {
	r.mutex.Lock()
	if r.isRunning {
		r.mutex.Unlock()
		r.log.Debug("link reap already in progress, skipping")
		return 0
	}
	r.isRunning = true
	r.mutex.Unlock()

	defer func() {
		r.mutex.Lock()
		r.isRunning = false
		r.mutex.Unlock()
	}()

	n, err := r.store.PurgePendingLinks(ctx, r.now().Add(-r.ttl))
	if err != nil {
		r.log.Error("failed to purge pending links", logging.Error(err))
		return 0
	}
	if n > 0 {
		metrics.LinksExpired.Add(float64(n))
		r.log.Info("purged pending links", logging.Int("count", int(n)))
	}
	return n
}

// Stop stops the scheduler and waits for a running purge to finish.
func (r *LinkReaper) Stop() {
	<-r.cron.Stop().Done()
}

// GetNextRun returns the next scheduled run time
func (r *LinkReaper) GetNextRun() time.Time {
	return r.cron.Entry(r.cronEntry).Next
}
