package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var _ ArticleRepository = (*SQLArticleRepository)(nil)

type SQLArticleRepository struct {
	db *DB
}

func NewArticleRepository(db *DB) *SQLArticleRepository {
	return &SQLArticleRepository{db: db}
}

const articleColumns = `id, stream_id, url, title, content_raw, content_raw_mime,
	content_text, main_image_url, source, score, released, published_at, updated_at, created_at`

func (r *SQLArticleRepository) scanArticle(row interface{ Scan(...any) error }) (*Article, error) {
	var a Article
	err := row.Scan(
		&a.ID, &a.StreamID, &a.URL, &a.Title, &a.ContentRaw, &a.ContentRawMime,
		&a.ContentText, &a.MainImageURL, &a.Source, &a.Score, &a.Released,
		&a.PublishedAt, &a.UpdatedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *SQLArticleRepository) FindByURL(streamID, url string) (*Article, error) {
	article, err := r.scanArticle(r.db.QueryRow(
		`SELECT `+articleColumns+` FROM articles WHERE stream_id = ? AND url = ?`,
		streamID, url))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find article by URL: %w", err)
	}
	if err := r.loadAssociations(article); err != nil {
		return nil, err
	}
	return article, nil
}

func (r *SQLArticleRepository) FindAnyByURL(url string) (*Article, error) {
	article, err := r.scanArticle(r.db.QueryRow(
		`SELECT `+articleColumns+` FROM articles WHERE url = ? ORDER BY created_at LIMIT 1`,
		url))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find article by URL: %w", err)
	}
	return article, nil
}

func (r *SQLArticleRepository) loadAssociations(article *Article) error {
	tagRows, err := r.db.Query(`SELECT tag FROM article_tags WHERE article_id = ? ORDER BY tag`, article.ID)
	if err != nil {
		return fmt.Errorf("failed to load tags: %w", err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tag string
		if err := tagRows.Scan(&tag); err != nil {
			return fmt.Errorf("failed to scan tag: %w", err)
		}
		article.Tags = append(article.Tags, tag)
	}
	if err := tagRows.Err(); err != nil {
		return fmt.Errorf("error iterating tags: %w", err)
	}

	attRows, err := r.db.Query(`
		SELECT id, article_id, url, mime_type, length
		FROM attachments WHERE article_id = ? ORDER BY id
	`, article.ID)
	if err != nil {
		return fmt.Errorf("failed to load attachments: %w", err)
	}
	defer attRows.Close()
	for attRows.Next() {
		var att Attachment
		if err := attRows.Scan(&att.ID, &att.ArticleID, &att.URL, &att.MimeType, &att.Length); err != nil {
			return fmt.Errorf("failed to scan attachment: %w", err)
		}
		article.Attachments = append(article.Attachments, att)
	}
	return attRows.Err()
}

func (r *SQLArticleRepository) Create(article *Article) (*Article, error) {
	if article.URL == "" {
		return nil, fmt.Errorf("article URL is required")
	}
	if article.StreamID == "" {
		return nil, fmt.Errorf("article stream is required")
	}
	if article.ID == "" {
		article.ID = uuid.NewString()
	}
	if article.Source == "" {
		article.Source = ArticleSourceFeed
	}
	article.Title = TruncateRunes(article.Title, LenTitle)

	_, err := r.db.Exec(`
		INSERT INTO articles (id, stream_id, url, title, content_raw, content_raw_mime,
			content_text, main_image_url, source, score, published_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, article.ID, article.StreamID, article.URL, article.Title, article.ContentRaw,
		article.ContentRawMime, article.ContentText, article.MainImageURL,
		article.Source, article.Score, article.PublishedAt, article.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create article: %w", err)
	}

	if err := r.mergeTags(article.ID, article.Tags); err != nil {
		return nil, err
	}
	if err := r.mergeAttachments(article.ID, article.Attachments); err != nil {
		return nil, err
	}
	return article, nil
}

// Update persists only the named scalar fields. Tags and attachments are
// always merged additively, never replaced.
func (r *SQLArticleRepository) Update(article *Article, changedFields []string) error {
	allowed := map[string]any{
		"title":        TruncateRunes(article.Title, LenTitle),
		"content_text": article.ContentText,
		"content_raw":  article.ContentRaw,
		"score":        article.Score,
		"published_at": article.PublishedAt,
		"updated_at":   article.UpdatedAt,
	}

	var assignments []string
	var args []any
	for _, field := range changedFields {
		value, ok := allowed[field]
		if !ok {
			return fmt.Errorf("field %q is not updatable", field)
		}
		assignments = append(assignments, field+" = ?")
		args = append(args, value)
	}

	if len(assignments) > 0 {
		args = append(args, article.ID)
		_, err := r.db.Exec(
			`UPDATE articles SET `+strings.Join(assignments, ", ")+` WHERE id = ?`, args...)
		if err != nil {
			return fmt.Errorf("failed to update article: %w", err)
		}
	}

	if err := r.mergeTags(article.ID, article.Tags); err != nil {
		return err
	}
	return r.mergeAttachments(article.ID, article.Attachments)
}

func (r *SQLArticleRepository) mergeTags(articleID string, tags []string) error {
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		_, err := r.db.Exec(`
			INSERT INTO article_tags (article_id, tag) VALUES (?, ?)
			ON CONFLICT (article_id, tag) DO NOTHING
		`, articleID, tag)
		if err != nil {
			return fmt.Errorf("failed to merge tag: %w", err)
		}
	}
	return nil
}

func (r *SQLArticleRepository) mergeAttachments(articleID string, attachments []Attachment) error {
	for _, att := range attachments {
		if att.URL == "" {
			continue
		}
		id := att.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := r.db.Exec(`
			INSERT INTO attachments (id, article_id, url, mime_type, length)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (article_id, url) DO NOTHING
		`, id, articleID, att.URL, att.MimeType, att.Length)
		if err != nil {
			return fmt.Errorf("failed to merge attachment: %w", err)
		}
	}
	return nil
}

func (r *SQLArticleRepository) ListByStream(streamID string, limit int) ([]Article, error) {
	rows, err := r.db.Query(`
		SELECT `+articleColumns+`
		FROM articles WHERE stream_id = ?
		ORDER BY published_at DESC
		LIMIT ?
	`, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	return r.collect(rows)
}

func (r *SQLArticleRepository) ListByBucket(bucketID string, limit int) ([]Article, error) {
	rows, err := r.db.Query(`
		SELECT `+articleColumns+`
		FROM articles
		WHERE stream_id IN (
			SELECT f.stream_id FROM feeds f
			JOIN subscriptions s ON s.feed_id = f.id
			WHERE s.bucket_id = ?
		)
		ORDER BY published_at DESC
		LIMIT ?
	`, bucketID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket articles: %w", err)
	}
	return r.collect(rows)
}

func (r *SQLArticleRepository) collect(rows *sql.Rows) ([]Article, error) {
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		article, err := r.scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article row: %w", err)
		}
		articles = append(articles, *article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating article rows: %w", err)
	}
	return articles, nil
}

func (r *SQLArticleRepository) GetArticleCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM articles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get article count: %w", err)
	}
	return count, nil
}

func (r *SQLArticleRepository) CountByStream(streamID string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM articles WHERE stream_id = ?`, streamID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stream articles: %w", err)
	}
	return count, nil
}

func (r *SQLArticleRepository) EvictOldest(streamID string, keep int) (int, error) {
	result, err := r.db.Exec(`
		DELETE FROM articles
		WHERE stream_id = ?1
		  AND id NOT IN (
			SELECT id FROM articles WHERE stream_id = ?1
			ORDER BY published_at DESC LIMIT ?2
		  )
	`, streamID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to evict articles: %w", err)
	}
	evicted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read eviction count: %w", err)
	}
	return int(evicted), nil
}

func (r *SQLArticleRepository) MarkReleased(ids []string) error {
	for _, id := range ids {
		if _, err := r.db.Exec(`UPDATE articles SET released = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to mark article released: %w", err)
		}
	}
	return nil
}
