package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/vigie/dbopen"
	"github.com/hazyhaar/vigie/profwatch/internal/profile"
)

const insertChangeSQL = `INSERT INTO change_events
	(id, identity, display_name, old_position, new_position, old_company, new_company,
	 detected_at, notified)
	VALUES (?,?,?,?,?,?,?,?,0)`

// InsertChange appends one change event. Events are append-only; nothing in
// this package deletes them.
func (s *Store) InsertChange(ctx context.Context, ev *ChangeEvent) error {
	_, err := s.DB.ExecContext(ctx, insertChangeSQL,
		ev.ID, ev.Identity, ev.DisplayName,
		ev.OldPosition, ev.NewPosition, ev.OldCompany, ev.NewCompany,
		ev.DetectedAt,
	)
	return err
}

// ApplyOutcome persists one successful evaluation atomically: the change
// event (when the evaluation produced one) is appended and the stored
// profile is overwritten in the same transaction, so a crash cannot leave an
// event without its matching profile state or vice versa.
func (s *Store) ApplyOutcome(ctx context.Context, snap *profile.Snapshot, ev *ChangeEvent) error {
	args, err := upsertProfileArgs(snap)
	if err != nil {
		return err
	}
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		if ev != nil {
			if _, err := tx.ExecContext(ctx, insertChangeSQL,
				ev.ID, ev.Identity, ev.DisplayName,
				ev.OldPosition, ev.NewPosition, ev.OldCompany, ev.NewCompany,
				ev.DetectedAt,
			); err != nil {
				return fmt.Errorf("insert change: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, upsertProfileSQL, args...); err != nil {
			return fmt.Errorf("upsert profile: %w", err)
		}
		return nil
	})
}

// UnnotifiedChanges returns events whose notification is still pending,
// oldest first.
func (s *Store) UnnotifiedChanges(ctx context.Context) ([]*ChangeEvent, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, identity, display_name, old_position, new_position,
		old_company, new_company, detected_at, notified
		FROM change_events WHERE notified = 0 ORDER BY detected_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChanges(rows)
}

// MarkNotified flips an event's notified flag. The flag never flips back.
func (s *Store) MarkNotified(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE change_events SET notified = 1 WHERE id = ?`, id)
	return err
}

// ChangeHistory returns change events newest first. An empty identity means
// all identities; limit <= 0 means no limit.
func (s *Store) ChangeHistory(ctx context.Context, identity string, limit int) ([]*ChangeEvent, error) {
	q := `SELECT id, identity, display_name, old_position, new_position,
		old_company, new_company, detected_at, notified
		FROM change_events`
	var args []any
	if identity != "" {
		q += ` WHERE identity = ?`
		args = append(args, identity)
	}
	q += ` ORDER BY detected_at DESC, id DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectChanges(rows)
}

// CountChanges returns the total number of change events.
func (s *Store) CountChanges(ctx context.Context) (int, error) {
	var count int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM change_events`).Scan(&count)
	return count, err
}

func collectChanges(rows *sql.Rows) ([]*ChangeEvent, error) {
	var events []*ChangeEvent
	for rows.Next() {
		var ev ChangeEvent
		var notified int
		if err := rows.Scan(
			&ev.ID, &ev.Identity, &ev.DisplayName,
			&ev.OldPosition, &ev.NewPosition, &ev.OldCompany, &ev.NewCompany,
			&ev.DetectedAt, &notified,
		); err != nil {
			return nil, fmt.Errorf("scan change event: %w", err)
		}
		ev.Notified = notified != 0
		events = append(events, &ev)
	}
	return events, rows.Err()
}
