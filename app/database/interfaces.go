package database

import (
	"time"
)

type FeedRepository interface {
	GetFeed(id string) (*Feed, error)
	GetFeedByURL(feedURL string) (*Feed, error)
	GetFeedCount() (int, error)

	CreateStream() (string, error)
	CreateFeed(feed *Feed) (string, error)
	ListDueFeeds(now time.Time, limit int) ([]Feed, error)

	// UpdateHarvestSuccess resets the failure counter, restores status OK
	// and stores the next harvest time.
	UpdateHarvestSuccess(id string, nextHarvestAt time.Time) error
	// UpdateHarvestFailure stores the incremented failure counter, the new
	// status and the backoff-derived next harvest time.
	UpdateHarvestFailure(id string, attempts int, status FeedStatus, nextHarvestAt time.Time) error
	// TouchLastUpdated advances the feed's last_updated_at, the signal
	// exporter due-ness is computed against.
	TouchLastUpdated(id string, t time.Time) error
}

type ArticleRepository interface {
	// FindByURL looks an article up by its upsert key within one stream.
	FindByURL(streamID, url string) (*Article, error)
	// FindAnyByURL looks an article up by URL across streams. Best-effort
	// hint for publish-date recovery; no uniqueness guarantee.
	FindAnyByURL(url string) (*Article, error)

	Create(article *Article) (*Article, error)
	// Update persists only the named fields; tags and attachments are
	// merged additively.
	Update(article *Article, changedFields []string) error

	ListByStream(streamID string, limit int) ([]Article, error)
	ListByBucket(bucketID string, limit int) ([]Article, error)
	GetArticleCount() (int, error)
	CountByStream(streamID string) (int, error)
	// EvictOldest applies the retention cap, deleting the oldest articles
	// beyond keep. Returns the number of evicted rows.
	EvictOldest(streamID string, keep int) (int, error)
	MarkReleased(ids []string) error
}

type ExporterRepository interface {
	// FindDue returns exporters whose output must be re-rendered, oldest
	// last_updated_at first (never-triggered exporters lead).
	FindDue(now time.Time) ([]Exporter, error)
	// SetLastUpdatedAt and SetScheduledNextAt are isolated single-row
	// updates so concurrent scheduler passes cannot double-trigger.
	SetLastUpdatedAt(id string, t time.Time) error
	SetScheduledNextAt(id string, t time.Time) error

	CreateBucket(bucket *Bucket) (string, error)
	GetBucketByTitle(title string) (*Bucket, error)
	CreateExporter(exporter *Exporter) (string, error)
	Subscribe(bucketID, feedID string) error
	GetExporterCount() (int, error)
}
