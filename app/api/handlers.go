package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feedward/feedward/app/cfg"
	"github.com/feedward/feedward/app/database"
	"github.com/feedward/feedward/app/export"
	"github.com/feedward/feedward/app/feed"
	"github.com/feedward/feedward/app/harvest"
	"github.com/feedward/feedward/app/tasks"
	"github.com/feedward/feedward/app/webfeed"
)

// Cache lifetimes advertised on web-to-feed responses. A failed transform is
// cached much longer so broken rules do not hammer the target site.
const (
	cacheLifetimeOK     = time.Hour
	cacheLifetimeFailed = 24 * time.Hour
)

func NewHandler(feedRepo database.FeedRepository, articleRepo database.ArticleRepository,
	exporterRepo database.ExporterRepository, cache *export.RenderCache,
	fetcher FetcherInterface, transformer TransformerInterface,
	harvester tasks.HarvesterInterface, scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		feedRepo:     feedRepo,
		articleRepo:  articleRepo,
		exporterRepo: exporterRepo,
		generator:    feed.NewGenerator(),
		cache:        cache,
		fetcher:      fetcher,
		transformer:  transformer,
		harvester:    harvester,
		scheduler:    scheduler,
	}
}

// GetFeed renders a registered feed's harvested stream as RSS.
func (h *Handler) GetFeed(c *gin.Context) {
	id := c.Param("id")

	f, err := h.feedRepo.GetFeed(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed", "feed", id, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if f == nil {
		c.Status(http.StatusNotFound)
		return
	}

	articles, err := h.articleRepo.ListByStream(f.StreamID, cfg.Get().MaxArticlesPerStream)
	if err != nil {
		slog.Error("Database error", "operation", "list_articles", "feed", id, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	rss, err := h.generator.Run(feed.ChannelInfo{
		Title:       f.Title,
		Link:        f.WebsiteURL,
		Description: f.Description,
		SelfPath:    "/feeds/" + f.ID,
	}, articles)
	if err != nil {
		slog.Error("RSS generation error", "feed", id, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	c.Header("Content-Type", "application/rss+xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(len(articles)))
	c.Header("X-Feed-Status", string(f.Status))
	if f.LastUpdatedAt != nil {
		c.Header("X-Last-Updated", f.LastUpdatedAt.Format(time.RFC3339))
	}

	c.String(http.StatusOK, rss)
}

// GetBucket serves the exporter's last rendered output for a bucket.
func (h *Handler) GetBucket(c *gin.Context) {
	id := c.Param("id")

	rendered, ok := h.cache.Get(id)
	if !ok {
		// Not rendered yet; serve a live render without touching exporter
		// bookkeeping.
		articles, err := h.articleRepo.ListByBucket(id, cfg.Get().MaxArticlesPerStream)
		if err != nil {
			slog.Error("Database error", "operation", "list_bucket", "bucket", id, "error", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		if len(articles) == 0 {
			c.Status(http.StatusNotFound)
			return
		}

		xml, err := h.generator.Run(feed.ChannelInfo{
			Title:    "Bucket " + id,
			SelfPath: "/buckets/" + id,
		}, articles)
		if err != nil {
			slog.Error("RSS generation error", "bucket", id, "error", err)
			c.Status(http.StatusInternalServerError)
			return
		}
		rendered = export.RenderedFeed{XML: xml, ItemCount: len(articles), RenderedAt: time.Now()}
	}

	c.Header("Content-Type", "application/rss+xml; charset=utf-8")
	c.Header("X-Feed-Items", strconv.Itoa(rendered.ItemCount))
	c.Header("X-Rendered-At", rendered.RenderedAt.Format(time.RFC3339))
	c.String(http.StatusOK, rendered.XML)
}

// WebToFeed is the ad-hoc transformation endpoint: given a page URL and a
// selector rule it fetches, transforms and renders a synthetic feed in one
// request. The rule is validated before any network access.
func (h *Handler) WebToFeed(c *gin.Context) {
	websiteURL := c.Query("url")
	if websiteURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url parameter is required"})
		return
	}

	extendContext, err := webfeed.ParseExtendContext(c.Query("extendContext"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	selectors := webfeed.Selectors{
		LinkPath:           c.Query("linkPath"),
		ContextPath:        c.Query("contextPath"),
		DatePath:           c.Query("datePath"),
		PaginationPath:     c.Query("paginationPath"),
		ExtendContext:      extendContext,
		DateIsStartOfEvent: c.Query("eventFeed") == "true",
	}
	opts := webfeed.ParserOptions{
		StrictMode: c.Query("strictMode") == "true",
		Version:    c.Query("version"),
	}
	fetchOpts := webfeed.FetchOptions{
		WebsiteURL:         websiteURL,
		Prerender:          c.Query("prerender") == "true",
		PrerenderWaitUntil: c.Query("prerenderWaitUntil"),
		PrerenderScript:    c.Query("prerenderScript"),
	}

	if err := webfeed.ValidateRule(selectors, opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// The advertised feed URL is derived from the rule, not echoed from the
	// request, so equivalent requests converge on one bookmarkable URL.
	feedURL := webfeed.CanonicalFeedURL(h.publicBaseURL(), websiteURL, selectors, fetchOpts)

	rich, err := h.transform(c, fetchOpts, selectors)
	if err != nil {
		var overloaded *harvest.HostOverloadedError
		if errors.As(err, &overloaded) {
			// The target asked for backoff; propagate instead of masking
			// with a maintenance feed.
			c.Header("Retry-After", strconv.Itoa(int(overloaded.RetryAfter.Seconds())))
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "host overloaded"})
			return
		}

		slog.Warn("Web-to-feed transform failed", "url", websiteURL, "error", err)

		if opts.StrictMode {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		item := webfeed.NewMaintenanceItem(err, websiteURL)
		maintenance := webfeed.NewMaintenanceFeed(websiteURL, feedURL, item)
		h.respondFeed(c, maintenance, http.StatusServiceUnavailable, cacheLifetimeFailed)
		return
	}

	rich.FeedURL = feedURL
	h.respondFeed(c, rich, http.StatusOK, cacheLifetimeOK)
}

func (h *Handler) transform(c *gin.Context, fetchOpts webfeed.FetchOptions, selectors webfeed.Selectors) (*feed.RichFeed, error) {
	response, err := h.fetcher.Run(c.Request.Context(), fetchOpts, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return h.transformer.Run(response.Body, fetchOpts.WebsiteURL, selectors)
}

func (h *Handler) respondFeed(c *gin.Context, rich *feed.RichFeed, status int, lifetime time.Duration) {
	c.Header("Cache-Control", "max-age="+strconv.Itoa(int(lifetime.Seconds())))

	if c.Query("out") == "rss" {
		articles := make([]database.Article, 0, len(rich.Items))
		for _, item := range rich.Items {
			article := database.Article{
				URL:         item.URL,
				ContentText: item.ContentText,
				ContentRaw:  item.ContentRaw,
				Tags:        item.Tags,
				PublishedAt: item.PublishedAt,
			}
			article.SetTitle(item.Title)
			for _, enclosure := range item.Enclosures {
				article.Attachments = append(article.Attachments, database.Attachment{
					URL:      enclosure.URL,
					MimeType: enclosure.Type,
					Length:   enclosure.Length,
				})
			}
			articles = append(articles, article)
		}

		xml, err := h.generator.Run(feed.ChannelInfo{
			Title:       rich.Title,
			Link:        rich.HomePageURL,
			Description: rich.Description,
			SelfPath:    c.Request.URL.RequestURI(),
		}, articles)
		if err != nil {
			slog.Error("RSS generation error", "url", rich.HomePageURL, "error", err)
			c.Status(http.StatusInternalServerError)
			return
		}

		c.Header("Content-Type", "application/rss+xml; charset=utf-8")
		c.String(status, xml)
		return
	}

	c.JSON(status, rich)
}

func (h *Handler) publicBaseURL() string {
	base := cfg.Get().BaseUrl
	if base == "" {
		base = "http://localhost:" + cfg.Get().Port
	}
	return base
}

// APIHarvestFeed enqueues an immediate harvest for a registered feed.
func (h *Handler) APIHarvestFeed(c *gin.Context) {
	id := c.Param("id")

	f, err := h.feedRepo.GetFeed(id)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed", "feed", id, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	if f == nil {
		c.Status(http.StatusNotFound)
		return
	}

	task := tasks.NewHarvestFeedTask(f, h.harvester)
	if err := h.scheduler.EnqueueTask(task); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task_id": task.GetID(), "feed": id})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if feedCount, err := h.feedRepo.GetFeedCount(); err == nil {
		health["feeds"] = feedCount
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if feedCount, err := h.feedRepo.GetFeedCount(); err == nil {
		stats["feeds"] = feedCount
	}
	if articleCount, err := h.articleRepo.GetArticleCount(); err == nil {
		stats["articles"] = articleCount
	}
	if exporterCount, err := h.exporterRepo.GetExporterCount(); err == nil {
		stats["exporters"] = exporterCount
	}

	c.JSON(http.StatusOK, stats)
}
