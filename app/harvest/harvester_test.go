package harvest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/language"

	"github.com/feedward/feedward/app/database"
	"github.com/feedward/feedward/app/dateclaim"
	"github.com/feedward/feedward/app/feed"
	"github.com/feedward/feedward/app/webfeed"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Sample Feed</title>
    <link>https://example.com</link>
    <item>
      <guid>item-1</guid>
      <title>First Item</title>
      <link>https://example.com/1</link>
      <description>First description</description>
      <pubDate>Mon, 15 Jan 2024 10:00:00 +0000</pubDate>
      <category>tech</category>
    </item>
    <item>
      <guid>item-2</guid>
      <title>Second Item</title>
      <link>https://example.com/2</link>
      <description>Second description</description>
      <pubDate>Tue, 16 Jan 2024 10:00:00 +0000</pubDate>
    </item>
  </channel>
</rss>`

// fakeFeedRepo records the harvest bookkeeping calls.
type fakeFeedRepo struct {
	successAt       *time.Time
	failureStatus   database.FeedStatus
	failureAttempts int
	failureNextAt   *time.Time
	lastUpdatedAt   *time.Time
}

func (r *fakeFeedRepo) GetFeed(id string) (*database.Feed, error)       { return nil, nil }
func (r *fakeFeedRepo) GetFeedByURL(url string) (*database.Feed, error) { return nil, nil }
func (r *fakeFeedRepo) GetFeedCount() (int, error)                      { return 0, nil }
func (r *fakeFeedRepo) CreateStream() (string, error)                   { return "stream-1", nil }
func (r *fakeFeedRepo) CreateFeed(f *database.Feed) (string, error)     { return "feed-1", nil }
func (r *fakeFeedRepo) ListDueFeeds(now time.Time, limit int) ([]database.Feed, error) {
	return nil, nil
}

func (r *fakeFeedRepo) UpdateHarvestSuccess(id string, nextHarvestAt time.Time) error {
	r.successAt = &nextHarvestAt
	return nil
}

func (r *fakeFeedRepo) UpdateHarvestFailure(id string, attempts int, status database.FeedStatus, nextHarvestAt time.Time) error {
	r.failureAttempts = attempts
	r.failureStatus = status
	r.failureNextAt = &nextHarvestAt
	return nil
}

func (r *fakeFeedRepo) TouchLastUpdated(id string, t time.Time) error {
	r.lastUpdatedAt = &t
	return nil
}

// fakeArticleRepo is an in-memory article store keyed by stream and URL.
type fakeArticleRepo struct {
	articles map[string]*database.Article
	updates  [][]string
	evicted  int
}

func newFakeArticleRepo() *fakeArticleRepo {
	return &fakeArticleRepo{articles: make(map[string]*database.Article)}
}

func (r *fakeArticleRepo) key(streamID, url string) string { return streamID + "|" + url }

func (r *fakeArticleRepo) FindByURL(streamID, url string) (*database.Article, error) {
	if article, ok := r.articles[r.key(streamID, url)]; ok {
		copied := *article
		return &copied, nil
	}
	return nil, nil
}

func (r *fakeArticleRepo) FindAnyByURL(url string) (*database.Article, error) {
	for _, article := range r.articles {
		if article.URL == url {
			copied := *article
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeArticleRepo) Create(article *database.Article) (*database.Article, error) {
	copied := *article
	copied.ID = "article-" + article.URL
	r.articles[r.key(article.StreamID, article.URL)] = &copied
	return &copied, nil
}

func (r *fakeArticleRepo) Update(article *database.Article, changedFields []string) error {
	r.updates = append(r.updates, changedFields)
	copied := *article
	r.articles[r.key(article.StreamID, article.URL)] = &copied
	return nil
}

func (r *fakeArticleRepo) ListByStream(streamID string, limit int) ([]database.Article, error) {
	return nil, nil
}
func (r *fakeArticleRepo) ListByBucket(bucketID string, limit int) ([]database.Article, error) {
	return nil, nil
}
func (r *fakeArticleRepo) GetArticleCount() (int, error)           { return len(r.articles), nil }
func (r *fakeArticleRepo) CountByStream(string) (int, error)       { return len(r.articles), nil }
func (r *fakeArticleRepo) EvictOldest(string, int) (int, error)    { r.evicted++; return 0, nil }
func (r *fakeArticleRepo) MarkReleased(ids []string) error         { return nil }

// fakePusher records fan-out batches.
type fakePusher struct {
	batches [][]database.Article
}

func (p *fakePusher) Push(corrID string, articles []database.Article, streamID string, source database.ArticleSource, actor string) error {
	p.batches = append(p.batches, articles)
	return nil
}

func newTestHarvester(feedRepo *fakeFeedRepo, articleRepo *fakeArticleRepo, pusher *fakePusher) *Harvester {
	claimer := dateclaim.NewClaimer(language.English)
	transformer := webfeed.NewTransformer(claimer, nil)
	return NewHarvester(newTestFetcher(""), feed.NewParser(), transformer, feedRepo, articleRepo, pusher,
		Options{
			HarvestInterval:      10 * time.Minute,
			MaxBackoff:           24 * time.Hour,
			DisableThreshold:     5,
			MaxArticlesPerStream: 100,
		})
}

func testFeed(url string) *database.Feed {
	return &database.Feed{
		ID:       "feed-1",
		FeedURL:  url,
		Source:   database.FeedSourceNative,
		Status:   database.FeedStatusOK,
		StreamID: "stream-1",
	}
}

func TestHarvestCreatesArticles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	feedRepo := &fakeFeedRepo{}
	articleRepo := newFakeArticleRepo()
	pusher := &fakePusher{}
	harvester := newTestHarvester(feedRepo, articleRepo, pusher)

	if err := harvester.Harvest(context.Background(), "corr-1", testFeed(server.URL)); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(articleRepo.articles) != 2 {
		t.Errorf("Expected 2 articles, got %d", len(articleRepo.articles))
	}
	if feedRepo.successAt == nil {
		t.Error("Expected success reschedule")
	}
	if feedRepo.lastUpdatedAt == nil {
		t.Error("Expected feed last_updated_at to advance")
	}
	if len(pusher.batches) != 1 || len(pusher.batches[0]) != 2 {
		t.Errorf("Expected one fan-out batch of 2, got %v", pusher.batches)
	}
	if articleRepo.evicted == 0 {
		t.Error("Expected retention pass after new articles")
	}
}

func TestHarvestIsIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	feedRepo := &fakeFeedRepo{}
	articleRepo := newFakeArticleRepo()
	pusher := &fakePusher{}
	harvester := newTestHarvester(feedRepo, articleRepo, pusher)

	f := testFeed(server.URL)
	for i := 0; i < 3; i++ {
		if err := harvester.Harvest(context.Background(), "corr-1", f); err != nil {
			t.Fatalf("Run %d: expected no error, got: %v", i, err)
		}
	}

	if len(articleRepo.articles) != 2 {
		t.Errorf("Expected 2 articles after repeated harvests, got %d", len(articleRepo.articles))
	}
	// Only the first run found anything new.
	if len(pusher.batches) != 1 {
		t.Errorf("Expected exactly one fan-out batch, got %d", len(pusher.batches))
	}
	// Unchanged content mutates nothing, even though item-1 carries a tag
	// on every cycle.
	if len(articleRepo.updates) != 0 {
		t.Errorf("Expected zero updates on unchanged content, got %v", articleRepo.updates)
	}
	first := articleRepo.articles[articleRepo.key("stream-1", "https://example.com/1")]
	if first == nil {
		t.Fatal("Expected item-1 stored")
	}
	if !first.UpdatedAt.Equal(first.PublishedAt) {
		t.Errorf("Expected updated_at untouched, got %v", first.UpdatedAt)
	}
}

func TestHarvestUnionsNewTags(t *testing.T) {
	taggedRSS := strings.Replace(sampleRSS, "<category>tech</category>",
		"<category>tech</category><category>go</category>", 1)

	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.Write([]byte(sampleRSS))
			return
		}
		w.Write([]byte(taggedRSS))
	}))
	defer server.Close()

	feedRepo := &fakeFeedRepo{}
	articleRepo := newFakeArticleRepo()
	harvester := newTestHarvester(feedRepo, articleRepo, &fakePusher{})

	f := testFeed(server.URL)
	for i := 0; i < 3; i++ {
		if err := harvester.Harvest(context.Background(), "corr-1", f); err != nil {
			t.Fatalf("Run %d: expected no error, got: %v", i, err)
		}
	}

	// The new tag triggers exactly one merge update; the third harvest sees
	// nothing left to add.
	if len(articleRepo.updates) != 1 {
		t.Fatalf("Expected exactly one update for the new tag, got %v", articleRepo.updates)
	}
	first := articleRepo.articles[articleRepo.key("stream-1", "https://example.com/1")]
	if len(first.Tags) != 2 {
		t.Errorf("Expected both tags stored, got %v", first.Tags)
	}
}

func TestHarvestFailureReschedules(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	feedRepo := &fakeFeedRepo{}
	harvester := newTestHarvester(feedRepo, newFakeArticleRepo(), &fakePusher{})

	f := testFeed(server.URL)
	if err := harvester.Harvest(context.Background(), "corr-1", f); err != nil {
		t.Fatalf("Ordinary failures must not escape, got: %v", err)
	}

	if feedRepo.failureAttempts != 1 {
		t.Errorf("Expected 1 attempt recorded, got %d", feedRepo.failureAttempts)
	}
	if feedRepo.failureStatus != database.FeedStatusFailing {
		t.Errorf("Expected failing status, got %s", feedRepo.failureStatus)
	}
	if f.FailedAttemptCount != 1 || f.Status != database.FeedStatusFailing {
		t.Error("Expected in-memory feed state to reflect the reschedule")
	}
	if f.NextHarvestAt == nil || !f.NextHarvestAt.After(time.Now()) {
		t.Error("Expected future next harvest time")
	}
}

func TestHarvestDisablesAfterThreshold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	feedRepo := &fakeFeedRepo{}
	harvester := newTestHarvester(feedRepo, newFakeArticleRepo(), &fakePusher{})

	f := testFeed(server.URL)
	f.FailedAttemptCount = 4 // threshold is 5

	if err := harvester.Harvest(context.Background(), "corr-1", f); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if feedRepo.failureStatus != database.FeedStatusDisabled {
		t.Errorf("Expected disabled status at threshold, got %s", feedRepo.failureStatus)
	}
}

func TestHarvestOverloadEscapes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	feedRepo := &fakeFeedRepo{}
	harvester := newTestHarvester(feedRepo, newFakeArticleRepo(), &fakePusher{})

	f := testFeed(server.URL)
	err := harvester.Harvest(context.Background(), "corr-1", f)

	var overloaded *HostOverloadedError
	if !errors.As(err, &overloaded) {
		t.Fatalf("Expected HostOverloadedError to escape, got: %v", err)
	}

	// The reschedule honors the host's requested delay when it exceeds the
	// computed backoff.
	if feedRepo.failureNextAt == nil {
		t.Fatal("Expected failure reschedule")
	}
	if time.Until(*feedRepo.failureNextAt) < 50*time.Minute {
		t.Errorf("Expected reschedule past the Retry-After delay, got %v", *feedRepo.failureNextAt)
	}
}

func TestHarvestWebSource(t *testing.T) {
	html := `<html><head><title>News</title></head><body>
		<article><a href="/a">Alpha</a><span class="date">15 Jan 2024</span></article>
		<article><a href="/b">Beta</a><span class="date">16 Jan 2024</span></article>
	</body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(html))
	}))
	defer server.Close()

	feedRepo := &fakeFeedRepo{}
	articleRepo := newFakeArticleRepo()
	pusher := &fakePusher{}
	harvester := newTestHarvester(feedRepo, articleRepo, pusher)

	f := testFeed(server.URL)
	f.Source = database.FeedSourceWeb
	f.ContextPath = "article"
	f.LinkPath = "a"
	f.DatePath = ".date"

	if err := harvester.Harvest(context.Background(), "corr-1", f); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(articleRepo.articles) != 2 {
		t.Fatalf("Expected 2 articles from web source, got %d", len(articleRepo.articles))
	}
	for _, article := range articleRepo.articles {
		if article.Source != database.ArticleSourceWebToFeed {
			t.Errorf("Expected web2feed source, got %s", article.Source)
		}
	}
}

func TestDiffArticleOnlyAssignsChanges(t *testing.T) {
	existing := &database.Article{Title: "Old Title", ContentText: "old text"}

	changed := DiffArticle(existing, feed.RichItem{Title: "Old Title", ContentText: "old text"})
	if len(changed) != 0 {
		t.Errorf("Expected no changes for identical content, got %v", changed)
	}

	changed = DiffArticle(existing, feed.RichItem{Title: "New Title", ContentText: "old text"})
	if len(changed) != 1 || changed[0] != "title" {
		t.Errorf("Expected only title change, got %v", changed)
	}
	if existing.Title != "New Title" {
		t.Error("Expected title assigned")
	}

	// Empty incoming values never clobber stored ones.
	changed = DiffArticle(existing, feed.RichItem{Title: "", ContentText: ""})
	if len(changed) != 0 {
		t.Errorf("Expected empty values ignored, got %v", changed)
	}
	if existing.Title != "New Title" || existing.ContentText != "old text" {
		t.Error("Expected stored values preserved")
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 10 * time.Minute
	max := 24 * time.Hour

	if got := BackoffDelay(base, max, 1); got != base {
		t.Errorf("Expected base delay on first failure, got %v", got)
	}

	// Monotonic growth until the cap.
	prev := time.Duration(0)
	for attempts := 1; attempts <= 12; attempts++ {
		got := BackoffDelay(base, max, attempts)
		if got < prev {
			t.Errorf("Delay shrank at attempt %d: %v < %v", attempts, got, prev)
		}
		if got > max {
			t.Errorf("Delay exceeded cap at attempt %d: %v", attempts, got)
		}
		prev = got
	}

	if got := BackoffDelay(base, max, 100); got != max {
		t.Errorf("Expected cap for large attempt counts, got %v", got)
	}
	if got := BackoffDelay(base, max, 0); got != base {
		t.Errorf("Expected base for zero attempts, got %v", got)
	}
}
