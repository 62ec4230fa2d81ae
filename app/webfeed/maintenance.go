package webfeed

import (
	"fmt"
	"time"

	"github.com/feedward/feedward/app/feed"
)

// NewMaintenanceItem builds the synthetic placeholder article substituted
// into the output feed when a transform fails completely. It carries the
// error message so consumers can see what broke.
func NewMaintenanceItem(cause error, websiteURL string) feed.RichItem {
	now := time.Now()
	message := fmt.Sprintf("The feed for %s could not be generated: %v", websiteURL, cause)
	return feed.RichItem{
		ID:             fmt.Sprintf("%s#maintenance-%d", websiteURL, now.Unix()),
		Title:          "Maintenance notice",
		URL:            websiteURL,
		ContentText:    message,
		ContentRaw:     "<p>" + message + "</p>",
		ContentRawMime: "text/html",
		PublishedAt:    now,
	}
}

// NewMaintenanceFeed wraps a maintenance item in a single-item feed.
func NewMaintenanceFeed(websiteURL, feedURL string, item feed.RichItem) *feed.RichFeed {
	return &feed.RichFeed{
		ID:          websiteURL,
		Title:       "Maintenance",
		Description: "This feed is temporarily substituted while its source cannot be transformed.",
		HomePageURL: websiteURL,
		FeedURL:     feedURL,
		PublishedAt: item.PublishedAt,
		Items:       []feed.RichItem{item},
	}
}
