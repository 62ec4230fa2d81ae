package export

import (
	"log/slog"

	"github.com/feedward/feedward/app/database"
)

// TargetPusher forwards newly created articles to downstream export
// targets. Delivery is at-least-once; article identity (URL) keeps
// redundant pushes idempotent.
type TargetPusher interface {
	Push(corrID string, articles []database.Article, streamID string, source database.ArticleSource, actor string) error
}

var _ TargetPusher = (*Fanout)(nil)

// Fanout releases articles into their stream so exporters observing the
// stream's bucket pick them up on the next due-scan.
type Fanout struct {
	articles database.ArticleRepository
}

func NewFanout(articles database.ArticleRepository) *Fanout {
	return &Fanout{articles: articles}
}

func (f *Fanout) Push(corrID string, articles []database.Article, streamID string, source database.ArticleSource, actor string) error {
	if len(articles) == 0 {
		return nil
	}

	ids := make([]string, 0, len(articles))
	for _, article := range articles {
		ids = append(ids, article.ID)
	}

	if err := f.articles.MarkReleased(ids); err != nil {
		return err
	}

	slog.Info("Articles pushed to targets",
		"corr_id", corrID,
		"stream", streamID,
		"source", string(source),
		"actor", actor,
		"count", len(articles))

	return nil
}
