package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/vigie/profwatch/internal/profile"
)

const upsertProfileSQL = `INSERT INTO profiles
	(identity, display_name, headline, current_position, current_company,
	 experience_json, captured_at, updated_at)
	VALUES (?,?,?,?,?,?,?,?)
	ON CONFLICT(identity) DO UPDATE SET
		display_name=excluded.display_name,
		headline=excluded.headline,
		current_position=excluded.current_position,
		current_company=excluded.current_company,
		experience_json=excluded.experience_json,
		captured_at=excluded.captured_at,
		updated_at=excluded.updated_at`

// UpsertProfile overwrites the stored profile for the snapshot's identity.
// Every successful extraction lands here, changed or not, so captured_at
// always reflects the latest observation.
func (s *Store) UpsertProfile(ctx context.Context, snap *profile.Snapshot) error {
	args, err := upsertProfileArgs(snap)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, upsertProfileSQL, args...)
	return err
}

func upsertProfileArgs(snap *profile.Snapshot) ([]any, error) {
	exp := "[]"
	if len(snap.Experience) > 0 {
		b, err := json.Marshal(snap.Experience)
		if err != nil {
			return nil, fmt.Errorf("marshal experience: %w", err)
		}
		exp = string(b)
	}
	return []any{
		snap.Identity, snap.DisplayName, snap.Headline,
		snap.CurrentPosition, snap.CurrentCompany,
		exp, snap.CapturedAt, time.Now().UnixMilli(),
	}, nil
}

// GetProfile returns the stored profile for an identity, or nil when the
// identity has never been successfully observed.
func (s *Store) GetProfile(ctx context.Context, identity string) (*Profile, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT identity, display_name, headline, current_position, current_company,
		experience_json, captured_at, updated_at
		FROM profiles WHERE identity = ?`, identity)
	return scanProfile(row)
}

// ListProfiles returns all stored profiles, most recently updated first.
func (s *Store) ListProfiles(ctx context.Context) ([]*Profile, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT identity, display_name, headline, current_position, current_company,
		experience_json, captured_at, updated_at
		FROM profiles ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfileRows(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// CountProfiles returns the number of stored profiles.
func (s *Store) CountProfiles(ctx context.Context) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count)
	return count, err
}

func scanProfile(row *sql.Row) (*Profile, error) {
	var p Profile
	var expJSON string
	err := row.Scan(
		&p.Identity, &p.DisplayName, &p.Headline, &p.CurrentPosition, &p.CurrentCompany,
		&expJSON, &p.CapturedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	if err := json.Unmarshal([]byte(expJSON), &p.Experience); err != nil {
		return nil, fmt.Errorf("unmarshal experience: %w", err)
	}
	return &p, nil
}

func scanProfileRows(rows *sql.Rows) (*Profile, error) {
	var p Profile
	var expJSON string
	err := rows.Scan(
		&p.Identity, &p.DisplayName, &p.Headline, &p.CurrentPosition, &p.CurrentCompany,
		&expJSON, &p.CapturedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	if err := json.Unmarshal([]byte(expJSON), &p.Experience); err != nil {
		return nil, fmt.Errorf("unmarshal experience: %w", err)
	}
	return &p, nil
}
