package feed

import (
	"time"
)

// Normalized feed model shared by the native parser and the web-to-feed
// transformer. Everything downstream of parsing works on these types.

type RichFeed struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	HomePageURL string     `json:"home_page_url,omitempty"`
	FeedURL     string     `json:"feed_url,omitempty"`
	Language    string     `json:"language,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	PublishedAt time.Time  `json:"published_at"`
	Items       []RichItem `json:"items"`
}

type RichItem struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	URL            string      `json:"url"`
	Author         string      `json:"author,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
	Enclosures     []Enclosure `json:"enclosures,omitempty"`
	ContentText    string      `json:"content_text"`
	ContentRaw     string      `json:"content_raw,omitempty"`
	ContentRawMime string      `json:"content_raw_mime,omitempty"`
	MainImageURL   string      `json:"main_image_url,omitempty"`
	PublishedAt    time.Time   `json:"published_at"`
	// StartingAt is set when the item's date marks the start of an event
	// rather than its publication.
	StartingAt *time.Time `json:"starting_at,omitempty"`
}

type Enclosure struct {
	URL    string `json:"url"`
	Type   string `json:"type,omitempty"`
	Length int64  `json:"length,omitempty"`
}
