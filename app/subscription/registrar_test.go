package subscription

import (
	"testing"
	"time"

	"github.com/feedward/feedward/app/database"
)

// fakeFeedRepo is an in-memory feed store keyed by URL.
type fakeFeedRepo struct {
	feeds   map[string]*database.Feed
	streams int
}

func newFakeFeedRepo() *fakeFeedRepo {
	return &fakeFeedRepo{feeds: make(map[string]*database.Feed)}
}

func (r *fakeFeedRepo) GetFeed(id string) (*database.Feed, error) { return nil, nil }
func (r *fakeFeedRepo) GetFeedByURL(url string) (*database.Feed, error) {
	if f, ok := r.feeds[url]; ok {
		return f, nil
	}
	return nil, nil
}
func (r *fakeFeedRepo) GetFeedCount() (int, error) { return len(r.feeds), nil }

func (r *fakeFeedRepo) CreateStream() (string, error) {
	r.streams++
	return "stream", nil
}

func (r *fakeFeedRepo) CreateFeed(f *database.Feed) (string, error) {
	f.ID = "feed-" + f.FeedURL
	r.feeds[f.FeedURL] = f
	return f.ID, nil
}

func (r *fakeFeedRepo) ListDueFeeds(time.Time, int) ([]database.Feed, error)     { return nil, nil }
func (r *fakeFeedRepo) UpdateHarvestSuccess(string, time.Time) error             { return nil }
func (r *fakeFeedRepo) UpdateHarvestFailure(string, int, database.FeedStatus, time.Time) error {
	return nil
}
func (r *fakeFeedRepo) TouchLastUpdated(string, time.Time) error { return nil }

// fakeExporterRepo records buckets, subscriptions and exporters.
type fakeExporterRepo struct {
	buckets       map[string]*database.Bucket
	subscriptions map[string][]string
	exporters     []*database.Exporter
}

func newFakeExporterRepo() *fakeExporterRepo {
	return &fakeExporterRepo{
		buckets:       make(map[string]*database.Bucket),
		subscriptions: make(map[string][]string),
	}
}

func (r *fakeExporterRepo) FindDue(time.Time) ([]database.Exporter, error) { return nil, nil }
func (r *fakeExporterRepo) SetLastUpdatedAt(string, time.Time) error       { return nil }
func (r *fakeExporterRepo) SetScheduledNextAt(string, time.Time) error     { return nil }

func (r *fakeExporterRepo) CreateBucket(b *database.Bucket) (string, error) {
	b.ID = "bucket-" + b.Title
	r.buckets[b.Title] = b
	return b.ID, nil
}

func (r *fakeExporterRepo) GetBucketByTitle(title string) (*database.Bucket, error) {
	if b, ok := r.buckets[title]; ok {
		return b, nil
	}
	return nil, nil
}

func (r *fakeExporterRepo) CreateExporter(e *database.Exporter) (string, error) {
	e.ID = "exporter"
	r.exporters = append(r.exporters, e)
	return e.ID, nil
}

func (r *fakeExporterRepo) Subscribe(bucketID, feedID string) error {
	r.subscriptions[bucketID] = append(r.subscriptions[bucketID], feedID)
	return nil
}

func (r *fakeExporterRepo) GetExporterCount() (int, error) { return len(r.exporters), nil }

func webSubscription(url string) *Subscription {
	return &Subscription{
		Title:   "Events",
		FeedURL: url,
		Source:  "web",
		Selectors: Selectors{
			Context: ".event",
			Link:    "a",
			Date:    ".when",
		},
		Bucket:   "events",
		Exporter: &Exporter{Trigger: "scheduled", Schedule: "0 8 * * *"},
	}
}

func TestRegisterCreatesEverything(t *testing.T) {
	feeds := newFakeFeedRepo()
	exporters := newFakeExporterRepo()
	registrar := NewRegistrar(feeds, exporters)

	isNew, err := registrar.Register(webSubscription("https://example.com/events"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !isNew {
		t.Error("Expected feed to be created")
	}

	created := feeds.feeds["https://example.com/events"]
	if created == nil {
		t.Fatal("Expected feed stored")
	}
	if created.Source != database.FeedSourceWeb || created.ContextPath != ".event" {
		t.Errorf("Expected selector rule persisted, got %+v", created)
	}
	if created.Domain != "example.com" {
		t.Errorf("Expected domain derived from URL, got %q", created.Domain)
	}

	if len(exporters.buckets) != 1 {
		t.Fatalf("Expected 1 bucket, got %d", len(exporters.buckets))
	}
	bucketID := exporters.buckets["events"].ID
	if len(exporters.subscriptions[bucketID]) != 1 {
		t.Errorf("Expected feed subscribed to bucket, got %v", exporters.subscriptions)
	}
	if len(exporters.exporters) != 1 {
		t.Fatalf("Expected 1 exporter, got %d", len(exporters.exporters))
	}
	if exporters.exporters[0].TriggerRefreshOn != database.TriggerScheduled {
		t.Errorf("Unexpected trigger: %s", exporters.exporters[0].TriggerRefreshOn)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	feeds := newFakeFeedRepo()
	exporters := newFakeExporterRepo()
	registrar := NewRegistrar(feeds, exporters)

	sub := webSubscription("https://example.com/events")
	for i := 0; i < 3; i++ {
		if _, err := registrar.Register(sub); err != nil {
			t.Fatalf("Run %d: expected no error, got: %v", i, err)
		}
	}

	if len(feeds.feeds) != 1 {
		t.Errorf("Expected 1 feed, got %d", len(feeds.feeds))
	}
	if len(exporters.buckets) != 1 {
		t.Errorf("Expected 1 bucket, got %d", len(exporters.buckets))
	}
	// The exporter is created once, alongside its bucket.
	if len(exporters.exporters) != 1 {
		t.Errorf("Expected 1 exporter, got %d", len(exporters.exporters))
	}
}

func TestRegisterSharedBucket(t *testing.T) {
	feeds := newFakeFeedRepo()
	exporters := newFakeExporterRepo()
	registrar := NewRegistrar(feeds, exporters)

	a := webSubscription("https://example.com/a")
	b := webSubscription("https://example.com/b")

	created, err := registrar.RegisterAll([]*Subscription{a, b})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if created != 2 {
		t.Errorf("Expected 2 new feeds, got %d", created)
	}

	if len(exporters.buckets) != 1 {
		t.Fatalf("Expected shared bucket, got %d", len(exporters.buckets))
	}
	bucketID := exporters.buckets["events"].ID
	if len(exporters.subscriptions[bucketID]) != 2 {
		t.Errorf("Expected both feeds subscribed, got %v", exporters.subscriptions[bucketID])
	}
	if len(exporters.exporters) != 1 {
		t.Errorf("Expected single exporter for shared bucket, got %d", len(exporters.exporters))
	}
}

func TestRegisterWithoutBucket(t *testing.T) {
	feeds := newFakeFeedRepo()
	exporters := newFakeExporterRepo()
	registrar := NewRegistrar(feeds, exporters)

	isNew, err := registrar.Register(&Subscription{
		Title:   "Plain",
		FeedURL: "https://example.com/plain.xml",
		Source:  "native",
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !isNew {
		t.Error("Expected feed created")
	}
	if len(exporters.buckets) != 0 || len(exporters.exporters) != 0 {
		t.Error("Expected no bucket or exporter without a bucket declaration")
	}
}
