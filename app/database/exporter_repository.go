package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ ExporterRepository = (*SQLExporterRepository)(nil)

type SQLExporterRepository struct {
	db *DB
}

func NewExporterRepository(db *DB) *SQLExporterRepository {
	return &SQLExporterRepository{db: db}
}

// FindDue joins exporters against their bucket's subscribed feeds. An
// exporter is due when any subscribed feed changed after the exporter last
// rendered; scheduled exporters additionally wait for their next fire time.
// Never-triggered exporters (NULL last_updated_at) sort first.
func (r *SQLExporterRepository) FindDue(now time.Time) ([]Exporter, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT e.id, e.bucket_id, e.trigger_refresh_on,
			e.trigger_scheduled_expression, e.trigger_scheduled_next_at,
			e.trigger_scheduled_last_at, e.look_ahead_min, e.segment_size,
			e.last_updated_at, e.created_at
		FROM exporters e
		JOIN buckets b ON b.id = e.bucket_id
		JOIN subscriptions s ON s.bucket_id = b.id
		JOIN feeds f ON f.id = s.feed_id
		WHERE (
			e.trigger_refresh_on = 'change'
			AND (
				e.last_updated_at IS NULL
				OR (f.last_updated_at IS NOT NULL AND f.last_updated_at > e.last_updated_at)
			)
		) OR (
			e.trigger_refresh_on = 'scheduled'
			AND (
				e.last_updated_at IS NULL
				OR (f.last_updated_at IS NOT NULL AND f.last_updated_at > e.last_updated_at)
			)
			AND (e.trigger_scheduled_next_at IS NULL OR e.trigger_scheduled_next_at < ?)
		)
		ORDER BY e.last_updated_at ASC NULLS FIRST
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to find due exporters: %w", err)
	}
	defer rows.Close()

	var exporters []Exporter
	for rows.Next() {
		var e Exporter
		err := rows.Scan(&e.ID, &e.BucketID, &e.TriggerRefreshOn,
			&e.TriggerScheduledExpression, &e.TriggerScheduledNextAt,
			&e.TriggerScheduledLastAt, &e.LookAheadMin, &e.SegmentSize,
			&e.LastUpdatedAt, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exporter row: %w", err)
		}
		exporters = append(exporters, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating exporter rows: %w", err)
	}
	return exporters, nil
}

func (r *SQLExporterRepository) SetLastUpdatedAt(id string, t time.Time) error {
	_, err := r.db.Exec(`UPDATE exporters SET last_updated_at = ? WHERE id = ?`, t, id)
	if err != nil {
		return fmt.Errorf("failed to set exporter last_updated_at: %w", err)
	}
	return nil
}

func (r *SQLExporterRepository) SetScheduledNextAt(id string, t time.Time) error {
	_, err := r.db.Exec(`
		UPDATE exporters
		SET trigger_scheduled_next_at = ?, trigger_scheduled_last_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, t, id)
	if err != nil {
		return fmt.Errorf("failed to set exporter scheduled_next_at: %w", err)
	}
	return nil
}

func (r *SQLExporterRepository) CreateBucket(bucket *Bucket) (string, error) {
	if bucket.ID == "" {
		bucket.ID = uuid.NewString()
	}
	_, err := r.db.Exec(`INSERT INTO buckets (id, title) VALUES (?, ?)`,
		bucket.ID, bucket.Title)
	if err != nil {
		return "", fmt.Errorf("failed to create bucket: %w", err)
	}
	return bucket.ID, nil
}

func (r *SQLExporterRepository) GetBucketByTitle(title string) (*Bucket, error) {
	var bucket Bucket
	err := r.db.QueryRow(`SELECT id, title, created_at FROM buckets WHERE title = ?`, title).
		Scan(&bucket.ID, &bucket.Title, &bucket.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}
	return &bucket, nil
}

func (r *SQLExporterRepository) CreateExporter(exporter *Exporter) (string, error) {
	if exporter.BucketID == "" {
		return "", fmt.Errorf("exporter bucket is required")
	}
	if exporter.ID == "" {
		exporter.ID = uuid.NewString()
	}
	if exporter.TriggerRefreshOn == "" {
		exporter.TriggerRefreshOn = TriggerChange
	}
	if exporter.TriggerRefreshOn == TriggerScheduled && exporter.TriggerScheduledExpression == "" {
		return "", fmt.Errorf("scheduled exporter requires a schedule expression")
	}

	_, err := r.db.Exec(`
		INSERT INTO exporters (id, bucket_id, trigger_refresh_on,
			trigger_scheduled_expression, trigger_scheduled_next_at,
			look_ahead_min, segment_size)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, exporter.ID, exporter.BucketID, exporter.TriggerRefreshOn,
		exporter.TriggerScheduledExpression, exporter.TriggerScheduledNextAt,
		exporter.LookAheadMin, exporter.SegmentSize)
	if err != nil {
		return "", fmt.Errorf("failed to create exporter: %w", err)
	}
	return exporter.ID, nil
}

func (r *SQLExporterRepository) Subscribe(bucketID, feedID string) error {
	_, err := r.db.Exec(`
		INSERT INTO subscriptions (bucket_id, feed_id) VALUES (?, ?)
		ON CONFLICT (bucket_id, feed_id) DO NOTHING
	`, bucketID, feedID)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	return nil
}

func (r *SQLExporterRepository) GetExporterCount() (int, error) {
	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM exporters`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get exporter count: %w", err)
	}
	return count, nil
}
