package harvest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/feedward/feedward/app/database"
	"github.com/feedward/feedward/app/export"
	"github.com/feedward/feedward/app/feed"
	"github.com/feedward/feedward/app/webfeed"
)

const systemActor = "system"

// Options carries the harvest tuning knobs.
type Options struct {
	HarvestInterval      time.Duration
	MaxBackoff           time.Duration
	DisableThreshold     int
	MaxArticlesPerStream int
}

// Harvester is the per-feed harvest orchestrator: fetch, parse, diff,
// persist, reschedule. All failures except host overloading are converted
// into a reschedule decision and never escape Harvest.
type Harvester struct {
	fetcher     *Fetcher
	parser      *feed.Parser
	transformer *webfeed.Transformer
	extractor   *feed.ContentExtractor
	feeds       database.FeedRepository
	articles    database.ArticleRepository
	fanout      export.TargetPusher
	opts        Options
	now         func() time.Time
}

func NewHarvester(fetcher *Fetcher, parser *feed.Parser, transformer *webfeed.Transformer,
	feeds database.FeedRepository, articles database.ArticleRepository,
	fanout export.TargetPusher, opts Options) *Harvester {
	return &Harvester{
		fetcher:     fetcher,
		parser:      parser,
		transformer: transformer,
		extractor:   feed.NewContentExtractor(),
		feeds:       feeds,
		articles:    articles,
		fanout:      fanout,
		opts:        opts,
		now:         time.Now,
	}
}

// Harvest runs one harvest cycle for a feed. The returned error is non-nil
// only for HostOverloadedError; everything else is handled internally.
func (h *Harvester) Harvest(ctx context.Context, corrID string, f *database.Feed) error {
	slog.Info("Harvesting feed", "corr_id", corrID, "feed", f.ID, "url", f.FeedURL)

	err := h.harvest(ctx, corrID, f)
	if err == nil {
		return nil
	}

	slog.Error("Harvest failed", "corr_id", corrID, "feed", f.ID, "error", err)
	h.rescheduleAfterError(corrID, f, err)

	var overloaded *HostOverloadedError
	if errors.As(err, &overloaded) {
		// Fatal for this cycle; re-raise for upstream backpressure instead
		// of silently retrying.
		return overloaded
	}
	return nil
}

func (h *Harvester) harvest(ctx context.Context, corrID string, f *database.Feed) error {
	response, err := h.fetcher.Run(ctx, webfeed.FetchOptions{
		WebsiteURL: f.FeedURL,
		Prerender:  f.Prerender,
	}, 200)
	if err != nil {
		return err
	}

	rich, source, err := h.parse(response, f)
	if err != nil {
		return err
	}

	newArticles := h.handleItems(corrID, f, rich.Items, source)

	if len(newArticles) == 0 {
		slog.Debug("Up-to-date", "corr_id", corrID, "feed", f.ID)
	} else {
		slog.Info("Appended articles", "corr_id", corrID, "feed", f.ID, "count", len(newArticles))

		now := h.now()
		if err := h.feeds.TouchLastUpdated(f.ID, now); err != nil {
			slog.Error("Failed to advance feed update time", "corr_id", corrID, "feed", f.ID, "error", err)
		}
		h.applyRetention(corrID, f)

		if err := h.fanout.Push(corrID, newArticles, f.StreamID, source, systemActor); err != nil {
			slog.Error("Export fan-out failed", "corr_id", corrID, "feed", f.ID, "error", err)
		}
	}

	next := h.now().Add(h.successInterval(f))
	return h.feeds.UpdateHarvestSuccess(f.ID, next)
}

func (h *Harvester) parse(response *Response, f *database.Feed) (*feed.RichFeed, database.ArticleSource, error) {
	if f.Source == database.FeedSourceWeb {
		selectors := webfeed.Selectors{
			LinkPath:           f.LinkPath,
			ContextPath:        f.ContextPath,
			DatePath:           f.DatePath,
			PaginationPath:     f.PaginationPath,
			ExtendContext:      webfeed.ExtendContext(f.ExtendContext),
			DateIsStartOfEvent: f.DateIsStartOfEvent,
		}
		homepage := f.WebsiteURL
		if homepage == "" {
			homepage = f.FeedURL
		}
		rich, err := h.transformer.Run(response.Body, homepage, selectors)
		if err != nil {
			return nil, "", &ParseError{URL: f.FeedURL, Err: err}
		}
		return rich, database.ArticleSourceWebToFeed, nil
	}

	rich, err := h.parser.Run(response.Body, f.FeedURL)
	if err != nil {
		return nil, "", &ParseError{URL: f.FeedURL, Err: err}
	}
	return rich, database.ArticleSourceFeed, nil
}

// handleItems upserts every parsed item and returns exactly the newly
// created articles. One bad item never fails the whole harvest.
func (h *Harvester) handleItems(corrID string, f *database.Feed, items []feed.RichItem, source database.ArticleSource) []database.Article {
	var created []database.Article
	for _, item := range items {
		article, isNew, err := h.saveOrUpdateArticle(item, f, source)
		if err != nil {
			slog.Warn("Failed to upsert item", "corr_id", corrID, "feed", f.ID, "url", item.URL, "error", err)
			continue
		}
		if isNew {
			created = append(created, *article)
		}
	}
	return created
}

func (h *Harvester) saveOrUpdateArticle(item feed.RichItem, f *database.Feed, source database.ArticleSource) (*database.Article, bool, error) {
	existing, err := h.articles.FindByURL(f.StreamID, item.URL)
	if err != nil {
		return nil, false, err
	}

	if existing == nil {
		article := h.articleFromItem(item, f.StreamID, source)
		saved, err := h.articles.Create(article)
		if err != nil {
			return nil, false, err
		}
		return saved, true, nil
	}

	changed := DiffArticle(existing, item)
	if len(changed) == 0 && !hasNewTags(existing.Tags, item.Tags) &&
		!hasNewAttachments(existing.Attachments, item.Enclosures) {
		return existing, false, nil
	}

	existing.UpdatedAt = h.now()
	changed = append(changed, "updated_at")
	existing.Tags = item.Tags
	existing.Attachments = attachmentsFromEnclosures(item.Enclosures)

	if err := h.articles.Update(existing, changed); err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// hasNewTags reports whether the additive tag merge would add anything.
// Unchanged tags must not trigger an update, or every harvest of a tagged
// item would mutate it forever.
func hasNewTags(existing, incoming []string) bool {
	known := make(map[string]bool, len(existing))
	for _, tag := range existing {
		known[tag] = true
	}
	for _, tag := range incoming {
		if tag != "" && !known[tag] {
			return true
		}
	}
	return false
}

// hasNewAttachments reports whether the attachment merge, keyed by URL,
// would add anything.
func hasNewAttachments(existing []database.Attachment, incoming []feed.Enclosure) bool {
	known := make(map[string]bool, len(existing))
	for _, att := range existing {
		known[att.URL] = true
	}
	for _, enclosure := range incoming {
		if enclosure.URL != "" && !known[enclosure.URL] {
			return true
		}
	}
	return false
}

// DiffArticle patches mutable fields into the existing article and returns
// the set of changed field names. Both title and text are assigned only if
// changed, keeping the at-least-once fan-out auditable.
func DiffArticle(existing *database.Article, item feed.RichItem) []string {
	var changed []string

	newTitle := database.TruncateRunes(item.Title, database.LenTitle)
	if newTitle != "" && existing.Title != newTitle {
		existing.Title = newTitle
		changed = append(changed, "title")
	}

	if item.ContentText != "" && existing.ContentText != item.ContentText {
		existing.ContentText = item.ContentText
		changed = append(changed, "content_text")
	}

	return changed
}

func (h *Harvester) articleFromItem(item feed.RichItem, streamID string, source database.ArticleSource) *database.Article {
	article := &database.Article{
		StreamID:       streamID,
		URL:            item.URL,
		ContentRaw:     item.ContentRaw,
		ContentRawMime: item.ContentRawMime,
		ContentText:    item.ContentText,
		MainImageURL:   item.MainImageURL,
		Source:         source,
		Tags:           item.Tags,
		Attachments:    attachmentsFromEnclosures(item.Enclosures),
		PublishedAt:    item.PublishedAt,
		UpdatedAt:      item.PublishedAt,
	}
	article.SetTitle(item.Title)

	if article.ContentText == "" && article.ContentRaw != "" {
		if text, err := h.extractor.Run([]byte(article.ContentRaw)); err == nil {
			article.ContentText = text
		}
	}

	return article
}

func attachmentsFromEnclosures(enclosures []feed.Enclosure) []database.Attachment {
	attachments := make([]database.Attachment, 0, len(enclosures))
	for _, enclosure := range enclosures {
		attachments = append(attachments, database.Attachment{
			URL:      enclosure.URL,
			MimeType: enclosure.Type,
			Length:   enclosure.Length,
		})
	}
	return attachments
}

func (h *Harvester) applyRetention(corrID string, f *database.Feed) {
	if h.opts.MaxArticlesPerStream <= 0 {
		return
	}
	evicted, err := h.articles.EvictOldest(f.StreamID, h.opts.MaxArticlesPerStream)
	if err != nil {
		slog.Error("Retention failed", "corr_id", corrID, "feed", f.ID, "error", err)
		return
	}
	if evicted > 0 {
		slog.Debug("Retention applied", "corr_id", corrID, "feed", f.ID, "evicted", evicted)
	}
}

func (h *Harvester) successInterval(f *database.Feed) time.Duration {
	if f.HarvestIntervalS > 0 {
		return time.Duration(f.HarvestIntervalS) * time.Second
	}
	return h.opts.HarvestInterval
}

// rescheduleAfterError converts a failure into the next harvest decision:
// exponential backoff keyed by the failure counter, capped, with the feed
// disabled beyond the threshold.
func (h *Harvester) rescheduleAfterError(corrID string, f *database.Feed, cause error) {
	attempts := f.FailedAttemptCount + 1

	status := database.FeedStatusFailing
	if attempts >= h.opts.DisableThreshold {
		status = database.FeedStatusDisabled
	}

	delay := BackoffDelay(h.opts.HarvestInterval, h.opts.MaxBackoff, attempts)
	var overloaded *HostOverloadedError
	if errors.As(cause, &overloaded) && overloaded.RetryAfter > delay {
		delay = overloaded.RetryAfter
	}

	next := h.now().Add(delay)
	if err := h.feeds.UpdateHarvestFailure(f.ID, attempts, status, next); err != nil {
		slog.Error("Failed to reschedule feed", "corr_id", corrID, "feed", f.ID, "error", err)
		return
	}

	f.FailedAttemptCount = attempts
	f.Status = status
	f.NextHarvestAt = &next

	slog.Warn("Feed rescheduled after failure",
		"corr_id", corrID,
		"feed", f.ID,
		"attempts", attempts,
		"status", string(status),
		"next_harvest_at", next.Format(time.RFC3339))
}

// BackoffDelay grows exponentially with consecutive failures, capped.
func BackoffDelay(base, max time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
