package store

import (
	"context"
	"database/sql"
	"fmt"
)

// InsertScrape records one capture attempt. Attempts are recorded before
// change detection runs, so failed captures appear in the history too.
func (s *Store) InsertScrape(ctx context.Context, rec *ScrapeRecord) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO scrape_history
		(id, identity, status, error, position, company, experience_count,
		 capture_md, duration_ms, scraped_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.Identity, rec.Status, rec.Error,
		rec.Position, rec.Company, rec.ExperienceCount,
		rec.CaptureMD, rec.DurationMs, rec.ScrapedAt,
	)
	return err
}

// ScrapeHistory returns capture attempts newest first. An empty identity
// means all identities; limit <= 0 means no limit.
func (s *Store) ScrapeHistory(ctx context.Context, identity string, limit int) ([]*ScrapeRecord, error) {
	q := `SELECT id, identity, status, error, position, company,
		experience_count, capture_md, duration_ms, scraped_at
		FROM scrape_history`
	var args []any
	if identity != "" {
		q += ` WHERE identity = ?`
		args = append(args, identity)
	}
	q += ` ORDER BY scraped_at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*ScrapeRecord
	for rows.Next() {
		rec, err := scanScrapeRows(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func scanScrapeRows(rows *sql.Rows) (*ScrapeRecord, error) {
	var rec ScrapeRecord
	if err := rows.Scan(
		&rec.ID, &rec.Identity, &rec.Status, &rec.Error,
		&rec.Position, &rec.Company, &rec.ExperienceCount,
		&rec.CaptureMD, &rec.DurationMs, &rec.ScrapedAt,
	); err != nil {
		return nil, fmt.Errorf("scan scrape record: %w", err)
	}
	return &rec, nil
}
