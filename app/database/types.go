package database

import (
	"time"
	"unicode/utf8"
)

type FeedStatus string

const (
	FeedStatusOK       FeedStatus = "ok"
	FeedStatusFailing  FeedStatus = "failing"
	FeedStatusDisabled FeedStatus = "disabled"
)

type FeedSource string

const (
	FeedSourceNative FeedSource = "native"
	FeedSourceWeb    FeedSource = "web"
)

type ArticleSource string

const (
	ArticleSourceFeed        ArticleSource = "feed"
	ArticleSourceWebToFeed   ArticleSource = "web2feed"
	ArticleSourceMaintenance ArticleSource = "maintenance"
)

type TriggerType string

const (
	TriggerChange    TriggerType = "change"
	TriggerScheduled TriggerType = "scheduled"
)

// LenTitle caps article and feed titles.
const LenTitle = 256

// Feed is a native feed record. Harvest state (status, failure counter,
// next harvest time) is mutated only by the harvest orchestrator.
type Feed struct {
	ID                 string
	Title              string
	Description        string
	FeedURL            string
	WebsiteURL         string
	Domain             string
	Source             FeedSource
	Status             FeedStatus
	FailedAttemptCount int
	HarvestIntervalS   int
	NextHarvestAt      *time.Time
	LastUpdatedAt      *time.Time
	StreamID           string

	// Selector rule for web sources; empty for native feeds.
	ContextPath        string
	LinkPath           string
	DatePath           string
	PaginationPath     string
	ExtendContext      string
	DateIsStartOfEvent bool
	Prerender          bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Article is one harvested item, identified by URL within its stream.
type Article struct {
	ID             string
	StreamID       string
	URL            string
	Title          string
	ContentRaw     string
	ContentRawMime string
	ContentText    string
	MainImageURL   string
	Source         ArticleSource
	Score          int
	Released       bool
	Tags           []string
	Attachments    []Attachment
	PublishedAt    time.Time
	UpdatedAt      time.Time
	CreatedAt      time.Time
}

// SetTitle assigns the title, truncated to LenTitle runes.
func (a *Article) SetTitle(title string) {
	a.Title = TruncateRunes(title, LenTitle)
}

type Attachment struct {
	ID        string
	ArticleID string
	URL       string
	MimeType  string
	Length    int64
}

// Stream is the ordered append target owned by exactly one feed.
type Stream struct {
	ID        string
	CreatedAt time.Time
}

// Bucket groups subscribed feeds into one exporter input.
type Bucket struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// Exporter is a downstream rendering target for a bucket of articles.
type Exporter struct {
	ID                         string
	BucketID                   string
	TriggerRefreshOn           TriggerType
	TriggerScheduledExpression string
	TriggerScheduledNextAt     *time.Time
	TriggerScheduledLastAt     *time.Time
	LookAheadMin               int
	SegmentSize                int
	LastUpdatedAt              *time.Time
	CreatedAt                  time.Time
}

// TruncateRunes shortens s to at most n runes.
func TruncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
