package feed

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

func TestGenerateRSS(t *testing.T) {
	setupTestConfig()
	generator := NewGenerator()

	publishedAt := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	articles := []database.Article{
		{
			ID:          "a1",
			URL:         "https://example.com/1",
			Title:       "First Article",
			ContentText: "Plain text one",
			ContentRaw:  "<p>Rich content one</p>",
			Tags:        []string{"tech", "go"},
			Attachments: []database.Attachment{{URL: "https://example.com/1.mp3", MimeType: "audio/mpeg", Length: 1234}},
			PublishedAt: publishedAt,
		},
		{
			ID:          "a2",
			URL:         "https://example.com/2",
			Title:       "Second & Special <Article>",
			ContentText: "Plain text two",
			PublishedAt: publishedAt,
		},
	}

	rss, err := generator.Run(ChannelInfo{
		Title:       "Test Channel",
		Link:        "https://example.com",
		Description: "Channel description",
		SelfPath:    "/feeds/feed-1",
	}, articles)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !strings.Contains(rss, `<?xml version="1.0" encoding="UTF-8"?>`) {
		t.Error("RSS should contain XML declaration")
	}
	if !strings.Contains(rss, "<title>Test Channel</title>") {
		t.Error("RSS should contain channel title")
	}
	if !strings.Contains(rss, `rel="self"`) {
		t.Error("RSS should contain atom:link self reference")
	}
	if !strings.Contains(rss, "http://localhost:8080/feeds/feed-1") {
		t.Error("RSS self link should fall back to localhost with port")
	}
	if !strings.Contains(rss, `<guid isPermaLink="true">https://example.com/1</guid>`) {
		t.Error("RSS should use article URL as permalink GUID")
	}
	if !strings.Contains(rss, "<content:encoded><![CDATA[<p>Rich content one</p>]]></content:encoded>") {
		t.Error("RSS should carry raw content in CDATA")
	}
	if !strings.Contains(rss, "<category>tech</category>") {
		t.Error("RSS should contain categories")
	}
	if !strings.Contains(rss, `<enclosure url="https://example.com/1.mp3" length="1234" type="audio/mpeg" />`) {
		t.Error("RSS should contain enclosures")
	}
	if !strings.Contains(rss, "Second &amp; Special &lt;Article&gt;") {
		t.Error("RSS should escape special characters in titles")
	}
	if !strings.Contains(rss, publishedAt.Format(time.RFC1123Z)) {
		t.Error("RSS should contain formatted publish dates")
	}
}

func TestGenerateRSSUsesBaseURL(t *testing.T) {
	cfg.Set(&cfg.Cfg{Port: "8080", BaseUrl: "https://feeds.example.com", Version: "test"})
	generator := NewGenerator()

	rss, err := generator.Run(ChannelInfo{Title: "T", SelfPath: "/feeds/x"}, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(rss, "https://feeds.example.com/feeds/x") {
		t.Error("RSS self link should use the configured base URL")
	}
}

func TestGenerateRSSEmpty(t *testing.T) {
	setupTestConfig()
	generator := NewGenerator()

	rss, err := generator.Run(ChannelInfo{Title: "Empty"}, nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !strings.Contains(rss, "</channel>") || strings.Contains(rss, "<item>") {
		t.Error("Empty feed should render a channel without items")
	}
}
