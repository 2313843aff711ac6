// Package store provides the persistence layer for profile monitoring.
//
// One SQLite database holds four concerns: the roster of watched identities,
// the latest stored profile per identity (exactly one row, overwritten on
// every successful extraction), the append-only change event log, and the
// per-attempt scrape history. Change events are never deleted; removing an
// identity from the roster leaves its profile and history intact.
package store

import "database/sql"

// Store wraps the monitor database.
type Store struct {
	DB *sql.DB
}

// NewStore creates a Store from an already-opened database connection.
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}
