package subscription

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/feedward/feedward/app/database"
)

// Registrar materializes loaded subscriptions into feed, bucket and
// exporter records. Registration is idempotent per feed URL; already
// registered feeds keep their harvest state across restarts.
type Registrar struct {
	feeds     database.FeedRepository
	exporters database.ExporterRepository
}

func NewRegistrar(feeds database.FeedRepository, exporters database.ExporterRepository) *Registrar {
	return &Registrar{feeds: feeds, exporters: exporters}
}

// RegisterAll registers every subscription and returns the number of newly
// created feeds.
func (r *Registrar) RegisterAll(subscriptions []*Subscription) (int, error) {
	created := 0
	for _, sub := range subscriptions {
		isNew, err := r.Register(sub)
		if err != nil {
			return created, fmt.Errorf("failed to register %s: %w", sub.FeedURL, err)
		}
		if isNew {
			created++
		}
	}
	return created, nil
}

func (r *Registrar) Register(sub *Subscription) (bool, error) {
	existing, err := r.feeds.GetFeedByURL(sub.FeedURL)
	if err != nil {
		return false, err
	}
	if existing != nil {
		slog.Debug("Feed already registered", "feed_url", sub.FeedURL)
		return false, r.wireBucket(sub, existing.ID)
	}

	streamID, err := r.feeds.CreateStream()
	if err != nil {
		return false, err
	}

	feed := &database.Feed{
		Title:              sub.Title,
		Description:        sub.Description,
		FeedURL:            sub.FeedURL,
		WebsiteURL:         sub.WebsiteURL,
		Domain:             domainOf(sub.FeedURL),
		Source:             database.FeedSource(sub.Source),
		Status:             database.FeedStatusOK,
		HarvestIntervalS:   sub.HarvestInterval,
		StreamID:           streamID,
		ContextPath:        sub.Selectors.Context,
		LinkPath:           sub.Selectors.Link,
		DatePath:           sub.Selectors.Date,
		PaginationPath:     sub.Selectors.Pagination,
		ExtendContext:      sub.Selectors.ExtendContext,
		DateIsStartOfEvent: sub.Selectors.DateIsStartOfEvent,
		Prerender:          sub.Prerender,
	}
	feedID, err := r.feeds.CreateFeed(feed)
	if err != nil {
		return false, err
	}

	slog.Info("Registered feed", "feed", feedID, "feed_url", sub.FeedURL, "source", sub.Source)
	return true, r.wireBucket(sub, feedID)
}

// wireBucket subscribes the feed to its bucket, creating the bucket on
// first use. The exporter is created only once, alongside the bucket.
func (r *Registrar) wireBucket(sub *Subscription, feedID string) error {
	if sub.Bucket == "" {
		return nil
	}

	bucket, err := r.exporters.GetBucketByTitle(sub.Bucket)
	if err != nil {
		return err
	}

	bucketIsNew := bucket == nil
	if bucketIsNew {
		bucket = &database.Bucket{Title: sub.Bucket}
		if _, err := r.exporters.CreateBucket(bucket); err != nil {
			return err
		}
		slog.Info("Created bucket", "bucket", bucket.ID, "title", bucket.Title)
	}

	if err := r.exporters.Subscribe(bucket.ID, feedID); err != nil {
		return err
	}

	if bucketIsNew && sub.Exporter != nil {
		exporter := &database.Exporter{
			BucketID:                   bucket.ID,
			TriggerRefreshOn:           database.TriggerType(sub.Exporter.Trigger),
			TriggerScheduledExpression: sub.Exporter.Schedule,
			LookAheadMin:               sub.Exporter.LookAheadMin,
			SegmentSize:                sub.Exporter.SegmentSize,
		}
		if _, err := r.exporters.CreateExporter(exporter); err != nil {
			return err
		}
		slog.Info("Created exporter", "exporter", exporter.ID, "bucket", bucket.ID,
			"trigger", sub.Exporter.Trigger)
	}

	return nil
}

func domainOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
