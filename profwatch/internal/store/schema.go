package store

import "database/sql"

// Schema is the complete monitor schema.
const Schema = `
-- Roster of watched identities
CREATE TABLE IF NOT EXISTS watched_profiles (
    identity     TEXT PRIMARY KEY,
    name         TEXT NOT NULL DEFAULT '',
    active       INTEGER NOT NULL DEFAULT 1,
    added_at     INTEGER NOT NULL,
    last_checked INTEGER
);

-- Stored profiles: exactly one row per identity, overwritten on every
-- successful extraction
CREATE TABLE IF NOT EXISTS profiles (
    identity         TEXT PRIMARY KEY,
    display_name     TEXT NOT NULL DEFAULT '',
    headline         TEXT NOT NULL DEFAULT '',
    current_position TEXT NOT NULL DEFAULT '',
    current_company  TEXT NOT NULL DEFAULT '',
    experience_json  TEXT NOT NULL DEFAULT '[]',
    captured_at      INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);

-- Append-only change event log
CREATE TABLE IF NOT EXISTS change_events (
    id           TEXT PRIMARY KEY,
    identity     TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    old_position TEXT NOT NULL DEFAULT '',
    new_position TEXT NOT NULL DEFAULT '',
    old_company  TEXT NOT NULL DEFAULT '',
    new_company  TEXT NOT NULL DEFAULT '',
    detected_at  INTEGER NOT NULL,
    notified     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_changes_identity ON change_events(identity, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_changes_notified ON change_events(notified, detected_at);

-- Scrape history: one row per attempt, success or failure
CREATE TABLE IF NOT EXISTS scrape_history (
    id               TEXT PRIMARY KEY,
    identity         TEXT NOT NULL,
    status           TEXT NOT NULL,
    error            TEXT NOT NULL DEFAULT '',
    position         TEXT NOT NULL DEFAULT '',
    company          TEXT NOT NULL DEFAULT '',
    experience_count INTEGER NOT NULL DEFAULT 0,
    capture_md       TEXT NOT NULL DEFAULT '',
    duration_ms      INTEGER NOT NULL DEFAULT 0,
    scraped_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scrape_identity ON scrape_history(identity, scraped_at DESC);
`

// ApplySchema creates all tables and indexes on the given database.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
