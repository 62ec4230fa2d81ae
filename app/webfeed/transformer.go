package webfeed

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/language"

	"github.com/feedward/feedward/app/dateclaim"
	"github.com/feedward/feedward/app/feed"
)

// titleBudget caps fallback titles derived from context text.
const titleBudget = 40

// DateRecoverer looks up a previously stored publish date for a URL. The
// lookup is a best-effort hint; a nil recoverer is valid.
type DateRecoverer interface {
	RecoverPublishedAt(url string) (time.Time, bool)
}

// Transformer converts unstructured HTML into a synthetic feed using a
// selector rule. Pure with respect to HTML + rule + homepage URL, except
// the optional prior-date recovery.
type Transformer struct {
	claimer   *dateclaim.Claimer
	recoverer DateRecoverer
	now       func() time.Time
}

func NewTransformer(claimer *dateclaim.Claimer, recoverer DateRecoverer) *Transformer {
	return &Transformer{
		claimer:   claimer,
		recoverer: recoverer,
		now:       time.Now,
	}
}

func (t *Transformer) Run(html []byte, homePageURL string, selectors Selectors) (*feed.RichFeed, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base, err := url.Parse(homePageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid homepage URL: %w", err)
	}

	contexts := doc.Find(fixRelativePath(selectors.ContextPath))
	if contexts.Length() == 0 {
		return nil, fmt.Errorf("context selector %q matched no elements", selectors.ContextPath)
	}

	items := make([]feed.RichItem, 0, contexts.Length())
	contexts.Each(func(i int, sel *goquery.Selection) {
		scope := extendScope(sel, selectors.ExtendContext)
		item, ok := t.toItem(scope, base, selectors)
		if !ok {
			// Best-effort extraction: contexts without a link are dropped.
			slog.Debug("Context yielded no article", "index", i, "url", homePageURL)
			return
		}
		items = append(items, item)
	})

	title := strings.TrimSpace(doc.Find("title").First().Text())

	return &feed.RichFeed{
		ID:          homePageURL,
		Title:       title,
		HomePageURL: homePageURL,
		PublishedAt: t.now(),
		Items:       items,
	}, nil
}

// scope is one candidate article subtree, possibly extended with adjacent
// siblings to recover fields split across nodes.
type scope struct {
	parts []*goquery.Selection
}

func extendScope(sel *goquery.Selection, policy ExtendContext) scope {
	s := scope{parts: []*goquery.Selection{sel}}
	switch policy {
	case ExtendPrevious:
		s.parts = append([]*goquery.Selection{sel.Prev()}, s.parts...)
	case ExtendNext:
		s.parts = append(s.parts, sel.Next())
	case ExtendPreviousAndNext:
		s.parts = append([]*goquery.Selection{sel.Prev()}, s.parts...)
		s.parts = append(s.parts, sel.Next())
	}
	return s
}

func (s scope) find(selector string) *goquery.Selection {
	for _, part := range s.parts {
		if part == nil {
			continue
		}
		// An extended sibling may itself be the wanted node.
		if filtered := part.Filter(selector); filtered.Length() > 0 {
			return filtered
		}
		if found := part.Find(selector); found.Length() > 0 {
			return found
		}
	}
	return s.parts[0].Find(selector)
}

func (s scope) text() string {
	var parts []string
	for _, part := range s.parts {
		if part == nil {
			continue
		}
		if text := strings.TrimSpace(part.Text()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func (s scope) html() string {
	var buf strings.Builder
	for _, part := range s.parts {
		if part == nil {
			continue
		}
		if html, err := goquery.OuterHtml(part); err == nil {
			buf.WriteString(html)
		}
	}
	return buf.String()
}

func (t *Transformer) toItem(s scope, base *url.URL, selectors Selectors) (feed.RichItem, bool) {
	link := s.find(fixRelativePath(selectors.LinkPath)).First()
	if link.Length() == 0 {
		return feed.RichItem{}, false
	}
	href, ok := link.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return feed.RichItem{}, false
	}

	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return feed.RichItem{}, false
	}
	articleURL := base.ResolveReference(ref).String()

	title := strings.TrimSpace(link.Text())
	if title == "" {
		title = cleanTitle(s.text())
	}

	item := feed.RichItem{
		ID:             articleURL,
		Title:          title,
		URL:            articleURL,
		ContentText:    s.text(),
		ContentRaw:     s.html(),
		ContentRawMime: "text/html",
	}

	item.PublishedAt = t.resolveDate(s, selectors, articleURL, &item)

	return item, true
}

func (t *Transformer) resolveDate(s scope, selectors Selectors, articleURL string, item *feed.RichItem) time.Time {
	if selectors.DatePath != "" {
		raw := s.find(fixRelativePath(selectors.DatePath)).First().Text()
		if claimed, ok := t.claimer.ClaimIn(raw, language.Und); ok {
			if selectors.DateIsStartOfEvent {
				item.StartingAt = &claimed
			}
			return claimed
		}
	}

	// First-seen ordering, not true publish time, is the fallback signal:
	// reuse the stored date if the article is already known, else "now".
	if t.recoverer != nil {
		if recovered, ok := t.recoverer.RecoverPublishedAt(articleURL); ok {
			return recovered
		}
	}
	return t.now()
}

var metaPattern = regexp.MustCompile("[#*_`<>{}\\[\\]|\\\\]+")

// cleanTitle derives a title from raw context text: markup metacharacters
// stripped, whitespace collapsed, capped to the title budget.
func cleanTitle(text string) string {
	cleaned := metaPattern.ReplaceAllString(text, " ")
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	return strings.TrimSpace(feedTruncate(cleaned, titleBudget))
}

func feedTruncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
