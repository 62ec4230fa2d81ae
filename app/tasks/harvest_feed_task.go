package tasks

import (
	"context"
	"log/slog"

	"github.com/feedward/feedward/app/database"
)

type HarvestFeedTask struct {
	Task
	Feed      *database.Feed
	harvester HarvesterInterface
}

func NewHarvestFeedTask(feed *database.Feed, harvester HarvesterInterface) *HarvestFeedTask {
	return &HarvestFeedTask{
		Task:      NewTask(TaskTypeHarvestFeed, feed.ID),
		Feed:      feed,
		harvester: harvester,
	}
}

func (t *HarvestFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := t.harvester.Harvest(ctx, t.ID, t.Feed); err != nil {
		return err
	}

	slog.Info("Task completed",
		"type", "HarvestFeed",
		"feed", t.FeedID,
		"duration", t.GetDuration())
	return nil
}
