package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/feedward/feedward/app/database"
	"github.com/feedward/feedward/app/feed"
)

const defaultSegmentSize = 100

// DueScheduler decides, per downstream exporter, when accumulated articles
// must be re-published. It runs on its own cadence, independent of harvest
// cycles.
type DueScheduler struct {
	exporters database.ExporterRepository
	articles  database.ArticleRepository
	generator *feed.Generator
	cache     *RenderCache
}

func NewDueScheduler(exporters database.ExporterRepository, articles database.ArticleRepository,
	cache *RenderCache) *DueScheduler {
	return &DueScheduler{
		exporters: exporters,
		articles:  articles,
		generator: feed.NewGenerator(),
		cache:     cache,
	}
}

// FindDue returns exporters needing a re-render, oldest-starved first.
func (s *DueScheduler) FindDue(now time.Time) ([]database.Exporter, error) {
	return s.exporters.FindDue(now)
}

// Run performs one due-scan pass. Observing due-ness and marking an
// exporter triggered are separate, independently committed steps: a crash
// in between causes at worst a redundant re-export, never a lost one.
func (s *DueScheduler) Run(corrID string, now time.Time) error {
	due, err := s.FindDue(now)
	if err != nil {
		return fmt.Errorf("failed to query due exporters: %w", err)
	}

	for _, exporter := range due {
		if err := s.render(corrID, exporter); err != nil {
			slog.Error("Exporter render failed", "corr_id", corrID, "exporter", exporter.ID, "error", err)
			continue
		}

		// Advance the trigger bookkeeping in isolated updates so a
		// concurrent pass cannot double-trigger and a long-running export
		// holds no locks on unrelated writes.
		if err := s.exporters.SetLastUpdatedAt(exporter.ID, now); err != nil {
			slog.Error("Failed to mark exporter triggered", "corr_id", corrID, "exporter", exporter.ID, "error", err)
			continue
		}

		if exporter.TriggerRefreshOn == database.TriggerScheduled {
			next, err := NextScheduledAt(exporter.TriggerScheduledExpression, now)
			if err != nil {
				slog.Error("Invalid schedule expression", "corr_id", corrID, "exporter", exporter.ID, "error", err)
				continue
			}
			if err := s.exporters.SetScheduledNextAt(exporter.ID, next); err != nil {
				slog.Error("Failed to advance schedule", "corr_id", corrID, "exporter", exporter.ID, "error", err)
			}
		}
	}

	if len(due) > 0 {
		slog.Info("Export pass completed", "corr_id", corrID, "triggered", len(due))
	}

	return nil
}

func (s *DueScheduler) render(corrID string, exporter database.Exporter) error {
	limit := exporter.SegmentSize
	if limit <= 0 {
		limit = defaultSegmentSize
	}

	articles, err := s.articles.ListByBucket(exporter.BucketID, limit)
	if err != nil {
		return fmt.Errorf("failed to load bucket articles: %w", err)
	}

	xml, err := s.generator.Run(feed.ChannelInfo{
		Title:    "Bucket " + exporter.BucketID,
		SelfPath: "/buckets/" + exporter.BucketID,
	}, articles)
	if err != nil {
		return fmt.Errorf("failed to render bucket feed: %w", err)
	}

	s.cache.Put(exporter.BucketID, RenderedFeed{
		XML:        xml,
		ItemCount:  len(articles),
		RenderedAt: time.Now(),
	})

	slog.Debug("Exporter rendered", "corr_id", corrID, "exporter", exporter.ID, "items", len(articles))
	return nil
}

// NextScheduledAt computes the next fire time for a cron expression.
func NextScheduledAt(expression string, now time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse schedule %q: %w", expression, err)
	}
	return schedule.Next(now), nil
}
