package export

import (
	"strings"
	"testing"
	"time"

	"github.com/feedward/feedward/app/cfg"
	"github.com/feedward/feedward/app/database"
)

func setupTestConfig() {
	cfg.Set(&cfg.Cfg{Port: "8080", Version: "test"})
}

// fakeExporterRepo serves a fixed due set and records trigger bookkeeping.
type fakeExporterRepo struct {
	due           []database.Exporter
	lastUpdated   map[string]time.Time
	scheduledNext map[string]time.Time
}

func newFakeExporterRepo(due ...database.Exporter) *fakeExporterRepo {
	return &fakeExporterRepo{
		due:           due,
		lastUpdated:   make(map[string]time.Time),
		scheduledNext: make(map[string]time.Time),
	}
}

func (r *fakeExporterRepo) FindDue(now time.Time) ([]database.Exporter, error) { return r.due, nil }

func (r *fakeExporterRepo) SetLastUpdatedAt(id string, t time.Time) error {
	r.lastUpdated[id] = t
	return nil
}

func (r *fakeExporterRepo) SetScheduledNextAt(id string, t time.Time) error {
	r.scheduledNext[id] = t
	return nil
}

func (r *fakeExporterRepo) CreateBucket(b *database.Bucket) (string, error)      { return "", nil }
func (r *fakeExporterRepo) GetBucketByTitle(string) (*database.Bucket, error)    { return nil, nil }
func (r *fakeExporterRepo) CreateExporter(e *database.Exporter) (string, error)  { return "", nil }
func (r *fakeExporterRepo) Subscribe(bucketID, feedID string) error              { return nil }
func (r *fakeExporterRepo) GetExporterCount() (int, error)                       { return len(r.due), nil }

// fakeBucketArticles serves canned articles per bucket.
type fakeBucketArticles struct {
	byBucket map[string][]database.Article
	limits   []int
}

func (r *fakeBucketArticles) FindByURL(string, string) (*database.Article, error) { return nil, nil }
func (r *fakeBucketArticles) FindAnyByURL(string) (*database.Article, error)      { return nil, nil }
func (r *fakeBucketArticles) Create(a *database.Article) (*database.Article, error) {
	return a, nil
}
func (r *fakeBucketArticles) Update(*database.Article, []string) error { return nil }
func (r *fakeBucketArticles) ListByStream(string, int) ([]database.Article, error) {
	return nil, nil
}

func (r *fakeBucketArticles) ListByBucket(bucketID string, limit int) ([]database.Article, error) {
	r.limits = append(r.limits, limit)
	return r.byBucket[bucketID], nil
}

func (r *fakeBucketArticles) GetArticleCount() (int, error)        { return 0, nil }
func (r *fakeBucketArticles) CountByStream(string) (int, error)    { return 0, nil }
func (r *fakeBucketArticles) EvictOldest(string, int) (int, error) { return 0, nil }
func (r *fakeBucketArticles) MarkReleased([]string) error          { return nil }

func bucketArticles() *fakeBucketArticles {
	return &fakeBucketArticles{
		byBucket: map[string][]database.Article{
			"bucket-1": {
				{
					ID:          "a1",
					URL:         "https://example.com/1",
					Title:       "Article One",
					ContentText: "Text one",
					PublishedAt: time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC),
				},
			},
		},
	}
}

func TestRunTriggersChangeExporter(t *testing.T) {
	setupTestConfig()

	exporter := database.Exporter{
		ID:               "exp-1",
		BucketID:         "bucket-1",
		TriggerRefreshOn: database.TriggerChange,
		SegmentSize:      50,
	}
	repo := newFakeExporterRepo(exporter)
	articles := bucketArticles()
	cache := NewRenderCache()
	scheduler := NewDueScheduler(repo, articles, cache)

	now := time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)
	if err := scheduler.Run("corr-1", now); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if got, ok := repo.lastUpdated["exp-1"]; !ok || !got.Equal(now) {
		t.Errorf("Expected last_updated_at advanced to %v, got %v", now, got)
	}
	if _, ok := repo.scheduledNext["exp-1"]; ok {
		t.Error("Change-triggered exporter must not get a schedule")
	}

	rendered, ok := cache.Get("bucket-1")
	if !ok {
		t.Fatal("Expected rendered output cached")
	}
	if rendered.ItemCount != 1 {
		t.Errorf("Expected 1 item rendered, got %d", rendered.ItemCount)
	}
	if !strings.Contains(rendered.XML, "Article One") {
		t.Error("Expected article title in rendered XML")
	}

	if len(articles.limits) != 1 || articles.limits[0] != 50 {
		t.Errorf("Expected segment size used as limit, got %v", articles.limits)
	}
}

func TestRunAdvancesSchedule(t *testing.T) {
	setupTestConfig()

	exporter := database.Exporter{
		ID:                         "exp-2",
		BucketID:                   "bucket-1",
		TriggerRefreshOn:           database.TriggerScheduled,
		TriggerScheduledExpression: "0 8 * * *",
	}
	repo := newFakeExporterRepo(exporter)
	cache := NewRenderCache()
	scheduler := NewDueScheduler(repo, bucketArticles(), cache)

	now := time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)
	if err := scheduler.Run("corr-1", now); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	next, ok := repo.scheduledNext["exp-2"]
	if !ok {
		t.Fatal("Expected next schedule to be set")
	}
	expected := time.Date(2024, 1, 21, 8, 0, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Errorf("Expected next fire at %v, got %v", expected, next)
	}
}

func TestRunUsesDefaultSegmentSize(t *testing.T) {
	setupTestConfig()

	exporter := database.Exporter{
		ID:               "exp-3",
		BucketID:         "bucket-1",
		TriggerRefreshOn: database.TriggerChange,
	}
	articles := bucketArticles()
	scheduler := NewDueScheduler(newFakeExporterRepo(exporter), articles, NewRenderCache())

	if err := scheduler.Run("corr-1", time.Now()); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(articles.limits) != 1 || articles.limits[0] != defaultSegmentSize {
		t.Errorf("Expected default segment size, got %v", articles.limits)
	}
}

func TestNextScheduledAt(t *testing.T) {
	now := time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)

	next, err := NextScheduledAt("*/15 * * * *", now)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !next.Equal(time.Date(2024, 1, 20, 12, 15, 0, 0, time.UTC)) {
		t.Errorf("Unexpected next fire time: %v", next)
	}

	if _, err := NextScheduledAt("not a cron", now); err == nil {
		t.Error("Expected invalid expression to fail")
	}
}

func TestRunNothingDue(t *testing.T) {
	setupTestConfig()

	scheduler := NewDueScheduler(newFakeExporterRepo(), bucketArticles(), NewRenderCache())
	if err := scheduler.Run("corr-1", time.Now()); err != nil {
		t.Fatalf("Expected no error with empty due set, got: %v", err)
	}
}
