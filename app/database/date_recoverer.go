package database

import (
	"time"
)

// PublishedAtRecoverer recovers a previously stored publish date for a URL.
// Satisfies the transformer's DateRecoverer; the lookup is a best-effort
// hint, not required for correctness.
type PublishedAtRecoverer struct {
	articles ArticleRepository
}

func NewPublishedAtRecoverer(articles ArticleRepository) *PublishedAtRecoverer {
	return &PublishedAtRecoverer{articles: articles}
}

func (r *PublishedAtRecoverer) RecoverPublishedAt(url string) (time.Time, bool) {
	article, err := r.articles.FindAnyByURL(url)
	if err != nil || article == nil {
		return time.Time{}, false
	}
	return article.PublishedAt, true
}
