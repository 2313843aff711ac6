// Package profwatch monitors professional profiles for job changes.
//
// It keeps a roster of watched profile URLs, captures each profile through
// an authenticated browser session, extracts a structured snapshot, compares
// it against the last stored observation, and appends a durable ChangeEvent
// when the current position or company moved between two present values.
// Detected changes are handed to the notification dispatcher once per batch,
// and marked notified only after a successful delivery.
package profwatch

import (
	"github.com/hazyhaar/vigie/profwatch/internal/profile"
	"github.com/hazyhaar/vigie/profwatch/internal/session"
	"github.com/hazyhaar/vigie/profwatch/internal/store"
)

// Re-export storage and extraction types for the public API.
type (
	WatchedProfile = store.WatchedProfile
	StoredProfile  = store.Profile
	ChangeEvent    = store.ChangeEvent
	ScrapeRecord   = store.ScrapeRecord
	Stats          = store.Stats
	Snapshot       = profile.Snapshot
	Experience     = profile.Experience
	Selectors      = profile.Selectors
	Tokens         = profile.Tokens
	PageState      = session.PageState
)

// Page states reported by the session controller.
const (
	StateReady             = session.StateReady
	StateAuthRequired      = session.StateAuthRequired
	StateChallengeRequired = session.StateChallengeRequired
	StateTransportError    = session.StateTransportError
)

// ProfileSummary joins a roster entry with its last stored observation.
// Snapshot fields stay empty while the identity has never been successfully
// captured.
type ProfileSummary struct {
	Identity        string `json:"identity"`
	Name            string `json:"name,omitempty"`
	Active          bool   `json:"active"`
	AddedAt         int64  `json:"added_at"`
	LastChecked     *int64 `json:"last_checked,omitempty"`
	DisplayName     string `json:"display_name,omitempty"`
	Headline        string `json:"headline,omitempty"`
	CurrentPosition string `json:"current_position,omitempty"`
	CurrentCompany  string `json:"current_company,omitempty"`
	ExperienceCount int    `json:"experience_count"`
	CapturedAt      int64  `json:"captured_at,omitempty"`
}

// CheckResult is the outcome of one immediate identity check.
type CheckResult struct {
	Identity        string       `json:"identity"`
	Outcome         string       `json:"outcome"` // new_identity | no_change | changed
	Change          *ChangeEvent `json:"change,omitempty"`
	DisplayName     string       `json:"display_name,omitempty"`
	Position        string       `json:"position,omitempty"`
	Company         string       `json:"company,omitempty"`
	ExperienceCount int          `json:"experience_count"`
	DurationMs      int64        `json:"duration_ms"`
}

// BatchReport summarizes one roster pass. Changes lists the events delivered
// in this pass, oldest first; it includes events left undelivered by an
// earlier pass.
type BatchReport struct {
	Processed  int            `json:"processed"`
	Failed     int            `json:"failed"`
	Changes    []*ChangeEvent `json:"changes,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}
