package tasks

import (
	"context"
	"log/slog"
	"time"
)

type ExportDueTask struct {
	Task
	runner ExportRunnerInterface
}

func NewExportDueTask(runner ExportRunnerInterface) *ExportDueTask {
	return &ExportDueTask{
		Task:   NewTask(TaskTypeExportDue, ""),
		runner: runner,
	}
}

func (t *ExportDueTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := t.runner.Run(t.ID, time.Now()); err != nil {
		return err
	}

	slog.Debug("Task completed",
		"type", "ExportDue",
		"duration", t.GetDuration())
	return nil
}
