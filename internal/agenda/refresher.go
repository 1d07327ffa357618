package agenda

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "dayplan/internal/log"
	"dayplan/internal/metrics"
)

// refreshTimeout bounds one scheduled rebuild.
const refreshTimeout = 2 * time.Minute

// Refresher owns the current Snapshot and rebuilds it on a cron schedule
// or on demand. A failed rebuild keeps the previous snapshot.
type Refresher struct {
	builder *Builder
	rec     metrics.Recorder

	buildMu sync.Mutex // serializes rebuilds

	mu      sync.RWMutex
	current *Snapshot

	cron *cron.Cron
}

// NewRefresher creates a Refresher. A nil rec records nothing.
func NewRefresher(b *Builder, rec metrics.Recorder) *Refresher {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Refresher{builder: b, rec: rec}
}

// Snapshot returns the latest successful build, or nil before the first.
func (r *Refresher) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Refresh rebuilds the snapshot now and publishes it on success.
func (r *Refresher) Refresh(ctx context.Context) (*Snapshot, error) {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()

	start := time.Now()
	snap, err := r.builder.Build(ctx)
	if err != nil {
		r.rec.ObserveRefresh(metrics.ResultError, time.Since(start))
		return nil, err
	}
	r.rec.ObserveRefresh(metrics.ResultOK, time.Since(start))

	r.mu.Lock()
	r.current = snap
	r.mu.Unlock()
	return snap, nil
}

// Start schedules Refresh with a standard 5-field cron spec evaluated in
// loc. Overlapping runs are skipped and panics are recovered.
func (r *Refresher) Start(spec string, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	logger := appLog.CronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := c.AddFunc(spec, r.scheduledRefresh); err != nil {
		return err
	}
	r.cron = c
	c.Start()
	appLog.Info("agenda: refresher started", "schedule", spec, "timezone", loc.String())
	return nil
}

// Stop halts the schedule and waits for a running rebuild, or until ctx ends.
func (r *Refresher) Stop(ctx context.Context) {
	if r.cron == nil {
		return
	}
	done := r.cron.Stop()
	select {
	case <-done.Done():
		appLog.Info("agenda: refresher stopped")
	case <-ctx.Done():
		appLog.Warn("agenda: refresher stop timed out")
	}
}

func (r *Refresher) scheduledRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if _, err := r.Refresh(ctx); err != nil {
		appLog.Error("agenda: scheduled refresh failed, keeping previous snapshot", err)
	}
}
