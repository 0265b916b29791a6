// Package janitor runs periodic maintenance: expiring dedup entries and
// stale attachments, and snapshotting preferences to the storage backend.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"

	"github.com/hxqlab/agentrelay/internal/attachments"
	"github.com/hxqlab/agentrelay/internal/dedup"
	"github.com/hxqlab/agentrelay/internal/prefs"
	"github.com/hxqlab/agentrelay/internal/store"
)

// Janitor sweeps the in-memory windows and persists preference snapshots on
// a cron schedule.
type Janitor struct {
	schedule string
	cron     *gronx.Gronx

	window  *dedup.Window
	cache   *attachments.Cache
	prefs   *prefs.Store
	backend store.Backend
}

// New builds a janitor on the given cron schedule.
func New(schedule string, window *dedup.Window, cache *attachments.Cache, prefStore *prefs.Store, backend store.Backend) *Janitor {
	if schedule == "" {
		schedule = "* * * * *"
	}
	return &Janitor{
		schedule: schedule,
		cron:     gronx.New(),
		window:   window,
		cache:    cache,
		prefs:    prefStore,
		backend:  backend,
	}
}

// Run checks the schedule once a minute and sweeps when due. Blocks until
// the context is cancelled, then takes a final snapshot.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	slog.Info("janitor.started", "schedule", j.schedule)
	for {
		select {
		case <-ctx.Done():
			j.snapshot()
			slog.Info("janitor.stopped")
			return
		case <-ticker.C:
			due, err := j.cron.IsDue(j.schedule, time.Now())
			if err != nil {
				slog.Warn("janitor.bad_schedule", "schedule", j.schedule, "err", err)
				continue
			}
			if due {
				j.sweep()
			}
		}
	}
}

func (j *Janitor) sweep() {
	expiredIDs := j.window.Sweep()
	expiredFiles := j.cache.Sweep()
	if expiredIDs > 0 || expiredFiles > 0 {
		slog.Debug("janitor.swept", "dedup", expiredIDs, "attachments", expiredFiles)
	}
	j.snapshot()
}

func (j *Janitor) snapshot() {
	blob, err := j.prefs.Snapshot()
	if err != nil {
		slog.Warn("janitor.snapshot_failed", "err", err)
		return
	}
	if err := j.backend.SavePreferences(blob); err != nil {
		slog.Warn("janitor.save_failed", "err", err)
	}
}
