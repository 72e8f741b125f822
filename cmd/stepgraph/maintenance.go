package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/stepgraph/internal/store"
)

const (
	maintenanceSchedule = "@daily"
	eventRetention      = 30 * 24 * time.Hour
)

// startMaintenance schedules event pruning and a vacuum of the archive.
// The returned func stops the schedule.
func startMaintenance(ctx context.Context, st store.Store, logger *slog.Logger) (func(), error) {
	c := cron.New()
	if _, err := c.AddFunc(maintenanceSchedule, func() { maintain(ctx, st, time.Now(), logger) }); err != nil {
		return nil, err
	}
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

func maintain(ctx context.Context, st store.Store, now time.Time, logger *slog.Logger) {
	n, err := st.PruneEvents(ctx, now.Add(-eventRetention))
	if err != nil {
		logger.Warn("prune events failed", slog.String("error", err.Error()))
		return
	}
	if err := st.Vacuum(ctx); err != nil {
		logger.Warn("vacuum failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("archive maintained", slog.Int64("events_pruned", n))
}
