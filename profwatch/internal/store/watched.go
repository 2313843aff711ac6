package store

import (
	"context"
	"database/sql"
	"fmt"
)

// AddWatched inserts a roster entry. The identity is the primary key, so
// inserting a duplicate fails with a constraint error the caller maps.
func (s *Store) AddWatched(ctx context.Context, w *WatchedProfile) error {
	active := 0
	if w.Active {
		active = 1
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO watched_profiles (identity, name, active, added_at, last_checked)
		VALUES (?,?,?,?,?)`,
		w.Identity, w.Name, active, w.AddedAt, w.LastChecked,
	)
	return err
}

// RemoveWatched deletes a roster entry. The stored profile and its change
// history are left intact. Returns the number of rows removed so callers can
// distinguish a missing identity.
func (s *Store) RemoveWatched(ctx context.Context, identity string) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM watched_profiles WHERE identity = ?`, identity)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetWatched returns one roster entry, or (nil, nil) when the identity is
// not on the roster.
func (s *Store) GetWatched(ctx context.Context, identity string) (*WatchedProfile, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT identity, name, active, added_at, last_checked
		FROM watched_profiles WHERE identity = ?`, identity)
	return scanWatched(row)
}

// ListWatched returns roster entries in insertion order. When activeOnly is
// set, paused entries are excluded.
func (s *Store) ListWatched(ctx context.Context, activeOnly bool) ([]*WatchedProfile, error) {
	q := `SELECT identity, name, active, added_at, last_checked FROM watched_profiles`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY added_at ASC, identity ASC`

	rows, err := s.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var watched []*WatchedProfile
	for rows.Next() {
		w, err := scanWatchedRows(rows)
		if err != nil {
			return nil, err
		}
		watched = append(watched, w)
	}
	return watched, rows.Err()
}

// TouchWatched records the time of the latest check attempt for an identity.
func (s *Store) TouchWatched(ctx context.Context, identity string, checkedAt int64) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE watched_profiles SET last_checked = ? WHERE identity = ?`,
		checkedAt, identity)
	return err
}

// SetWatchedActive pauses or resumes checks for an identity without touching
// its history.
func (s *Store) SetWatchedActive(ctx context.Context, identity string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	_, err := s.DB.ExecContext(ctx,
		`UPDATE watched_profiles SET active = ? WHERE identity = ?`, v, identity)
	return err
}

// CountWatched returns the number of roster entries.
func (s *Store) CountWatched(ctx context.Context) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM watched_profiles`).Scan(&count)
	return count, err
}

func scanWatched(row *sql.Row) (*WatchedProfile, error) {
	var w WatchedProfile
	var active int
	err := row.Scan(&w.Identity, &w.Name, &active, &w.AddedAt, &w.LastChecked)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan watched profile: %w", err)
	}
	w.Active = active != 0
	return &w, nil
}

func scanWatchedRows(rows *sql.Rows) (*WatchedProfile, error) {
	var w WatchedProfile
	var active int
	if err := rows.Scan(&w.Identity, &w.Name, &active, &w.AddedAt, &w.LastChecked); err != nil {
		return nil, fmt.Errorf("scan watched profile: %w", err)
	}
	w.Active = active != 0
	return &w, nil
}
