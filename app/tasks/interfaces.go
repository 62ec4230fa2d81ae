package tasks

import (
	"context"
	"time"

	"github.com/feedward/feedward/app/database"
)

// TaskSchedulerInterface is the background processing surface used by the
// main application.
// Example usage:
//
//	scheduler := NewScheduler(harvester, dueScheduler, feedRepo)
//	scheduler.Start()
//	defer scheduler.Stop()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
}

// HarvesterInterface is the harvest entry point consumed by tasks. The
// returned error is non-nil only when the target host asked for backoff.
type HarvesterInterface interface {
	Harvest(ctx context.Context, corrID string, f *database.Feed) error
}

// ExportRunnerInterface runs one exporter due-scan pass.
type ExportRunnerInterface interface {
	Run(corrID string, now time.Time) error
}
