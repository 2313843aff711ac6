package store

import "context"

// Stats aggregates counters across the four tables for the status surfaces.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats

	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM watched_profiles`).Scan(&st.WatchedProfiles); err != nil {
		return nil, err
	}
	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles`).Scan(&st.StoredProfiles); err != nil {
		return nil, err
	}
	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM change_events`).Scan(&st.TotalChanges); err != nil {
		return nil, err
	}
	if err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM change_events WHERE notified = 0`).Scan(&st.UnnotifiedChanges); err != nil {
		return nil, err
	}
	if err := s.DB.QueryRowContext(ctx,
		`SELECT MAX(updated_at) FROM profiles`).Scan(&st.LastUpdated); err != nil {
		return nil, err
	}
	return &st, nil
}
