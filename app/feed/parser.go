package feed

import (
	"bytes"
	"cmp"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// Parser normalizes native RSS/Atom/JSON feeds into the RichFeed model.
type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

func (p *Parser) Run(data []byte, feedURL string) (*RichFeed, error) {
	parsed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	rich := &RichFeed{
		ID:          cmp.Or(parsed.FeedLink, feedURL),
		Title:       parsed.Title,
		Description: parsed.Description,
		HomePageURL: parsed.Link,
		FeedURL:     feedURL,
		Language:    parsed.Language,
	}

	if parsed.Image != nil {
		rich.ImageURL = parsed.Image.URL
	}

	if parsed.PublishedParsed != nil {
		rich.PublishedAt = *parsed.PublishedParsed
	} else if parsed.UpdatedParsed != nil {
		rich.PublishedAt = *parsed.UpdatedParsed
	}

	rich.Items = make([]RichItem, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		rich.Items = append(rich.Items, p.normalizeItem(item))
	}

	return rich, nil
}

func (p *Parser) normalizeItem(item *gofeed.Item) RichItem {
	normalized := RichItem{
		ID:             cmp.Or(item.GUID, item.Link),
		Title:          item.Title,
		URL:            item.Link,
		ContentText:    item.Description,
		ContentRaw:     item.Content,
		ContentRawMime: "text/html",
		Author:         p.extractAuthor(item),
	}

	if item.Content == "" {
		normalized.ContentRaw = item.Description
	}

	if item.PublishedParsed != nil {
		normalized.PublishedAt = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		normalized.PublishedAt = *item.UpdatedParsed
	} else {
		normalized.PublishedAt = time.Now()
	}

	if item.Image != nil {
		normalized.MainImageURL = item.Image.URL
	}

	if item.Categories != nil {
		normalized.Tags = item.Categories
	}

	for _, enclosure := range item.Enclosures {
		if enclosure == nil || enclosure.URL == "" {
			continue
		}
		var length int64
		if enclosure.Length != "" {
			if parsed, err := strconv.ParseInt(enclosure.Length, 10, 64); err == nil {
				length = parsed
			}
		}
		normalized.Enclosures = append(normalized.Enclosures, Enclosure{
			URL:    enclosure.URL,
			Type:   enclosure.Type,
			Length: length,
		})
	}

	return normalized
}

func (p *Parser) extractAuthor(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return p.formatAuthor(item.Authors[0].Name, item.Authors[0].Email)
	}
	if item.Author != nil {
		return p.formatAuthor(item.Author.Name, item.Author.Email)
	}
	return ""
}

func (p *Parser) formatAuthor(name, email string) string {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)

	if name != "" && email != "" {
		return fmt.Sprintf("%s (%s)", email, name)
	} else if name != "" {
		return name
	}
	return email
}
