package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ FeedRepository = (*SQLFeedRepository)(nil)

type SQLFeedRepository struct {
	db *DB
}

func NewFeedRepository(db *DB) *SQLFeedRepository {
	return &SQLFeedRepository{db: db}
}

const feedColumns = `id, title, description, feed_url, website_url, domain, source, status,
	failed_attempt_count, harvest_interval_s, next_harvest_at, last_updated_at, stream_id,
	context_path, link_path, date_path, pagination_path, extend_context,
	date_is_start_of_event, prerender, created_at, updated_at`

func (r *SQLFeedRepository) scanFeed(row interface{ Scan(...any) error }) (*Feed, error) {
	var feed Feed
	err := row.Scan(
		&feed.ID, &feed.Title, &feed.Description, &feed.FeedURL, &feed.WebsiteURL,
		&feed.Domain, &feed.Source, &feed.Status, &feed.FailedAttemptCount,
		&feed.HarvestIntervalS, &feed.NextHarvestAt, &feed.LastUpdatedAt, &feed.StreamID,
		&feed.ContextPath, &feed.LinkPath, &feed.DatePath, &feed.PaginationPath,
		&feed.ExtendContext, &feed.DateIsStartOfEvent, &feed.Prerender,
		&feed.CreatedAt, &feed.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &feed, nil
}

func (r *SQLFeedRepository) GetFeed(id string) (*Feed, error) {
	feed, err := r.scanFeed(r.db.QueryRow(
		`SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}
	return feed, nil
}

func (r *SQLFeedRepository) GetFeedByURL(feedURL string) (*Feed, error) {
	feed, err := r.scanFeed(r.db.QueryRow(
		`SELECT `+feedColumns+` FROM feeds WHERE feed_url = ?`, feedURL))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed by URL: %w", err)
	}
	return feed, nil
}

func (r *SQLFeedRepository) GetFeedCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM feeds`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get feed count: %w", err)
	}
	return count, nil
}

func (r *SQLFeedRepository) CreateStream() (string, error) {
	id := uuid.NewString()
	if _, err := r.db.Exec(`INSERT INTO streams (id) VALUES (?)`, id); err != nil {
		return "", fmt.Errorf("failed to create stream: %w", err)
	}
	return id, nil
}

func (r *SQLFeedRepository) CreateFeed(feed *Feed) (string, error) {
	if feed.FeedURL == "" {
		return "", fmt.Errorf("feed URL is required")
	}
	if feed.StreamID == "" {
		return "", fmt.Errorf("stream is required")
	}
	if feed.ID == "" {
		feed.ID = uuid.NewString()
	}
	if feed.Status == "" {
		feed.Status = FeedStatusOK
	}
	if feed.Source == "" {
		feed.Source = FeedSourceNative
	}
	feed.Title = TruncateRunes(feed.Title, LenTitle)

	_, err := r.db.Exec(`
		INSERT INTO feeds (id, title, description, feed_url, website_url, domain, source,
			status, harvest_interval_s, stream_id, context_path, link_path, date_path,
			pagination_path, extend_context, date_is_start_of_event, prerender)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, feed.ID, feed.Title, feed.Description, feed.FeedURL, feed.WebsiteURL, feed.Domain,
		feed.Source, feed.Status, feed.HarvestIntervalS, feed.StreamID,
		feed.ContextPath, feed.LinkPath, feed.DatePath, feed.PaginationPath,
		feed.ExtendContext, feed.DateIsStartOfEvent, feed.Prerender)
	if err != nil {
		return "", fmt.Errorf("failed to create feed: %w", err)
	}
	return feed.ID, nil
}

func (r *SQLFeedRepository) ListDueFeeds(now time.Time, limit int) ([]Feed, error) {
	rows, err := r.db.Query(`
		SELECT `+feedColumns+`
		FROM feeds
		WHERE status != 'disabled'
		  AND (next_harvest_at IS NULL OR next_harvest_at <= ?)
		ORDER BY next_harvest_at ASC
		LIMIT ?
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		feed, err := r.scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed row: %w", err)
		}
		feeds = append(feeds, *feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed rows: %w", err)
	}
	return feeds, nil
}

func (r *SQLFeedRepository) UpdateHarvestSuccess(id string, nextHarvestAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET status = 'ok', failed_attempt_count = 0, next_harvest_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, nextHarvestAt, id)
	if err != nil {
		return fmt.Errorf("failed to update harvest success: %w", err)
	}
	return nil
}

func (r *SQLFeedRepository) UpdateHarvestFailure(id string, attempts int, status FeedStatus, nextHarvestAt time.Time) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET status = ?, failed_attempt_count = ?, next_harvest_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, attempts, nextHarvestAt, id)
	if err != nil {
		return fmt.Errorf("failed to update harvest failure: %w", err)
	}
	return nil
}

func (r *SQLFeedRepository) TouchLastUpdated(id string, t time.Time) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET last_updated_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, t, id)
	if err != nil {
		return fmt.Errorf("failed to touch feed: %w", err)
	}
	return nil
}
