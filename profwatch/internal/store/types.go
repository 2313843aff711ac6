package store

import "github.com/hazyhaar/vigie/profwatch/internal/profile"

// WatchedProfile is one roster entry.
type WatchedProfile struct {
	Identity    string `json:"identity"`
	Name        string `json:"name"`
	Active      bool   `json:"active"`
	AddedAt     int64  `json:"added_at"`
	LastChecked *int64 `json:"last_checked,omitempty"`
}

// Profile is the stored profile for one identity: the latest successful
// observation plus bookkeeping.
type Profile struct {
	Identity        string               `json:"identity"`
	DisplayName     string               `json:"display_name"`
	Headline        string               `json:"headline"`
	CurrentPosition string               `json:"current_position"`
	CurrentCompany  string               `json:"current_company"`
	Experience      []profile.Experience `json:"experience"`
	CapturedAt      int64                `json:"captured_at"`
	UpdatedAt       int64                `json:"updated_at"`
}

// Snapshot converts the stored row back into an extraction snapshot for
// change evaluation.
func (p *Profile) Snapshot() *profile.Snapshot {
	return &profile.Snapshot{
		Identity:        p.Identity,
		DisplayName:     p.DisplayName,
		Headline:        p.Headline,
		CurrentPosition: p.CurrentPosition,
		CurrentCompany:  p.CurrentCompany,
		Experience:      p.Experience,
		CapturedAt:      p.CapturedAt,
	}
}

// ChangeEvent is one appended job-change record.
type ChangeEvent struct {
	ID          string `json:"id"`
	Identity    string `json:"identity"`
	DisplayName string `json:"display_name"`
	OldPosition string `json:"old_position"`
	NewPosition string `json:"new_position"`
	OldCompany  string `json:"old_company"`
	NewCompany  string `json:"new_company"`
	DetectedAt  int64  `json:"detected_at"`
	Notified    bool   `json:"notified"`
}

// ScrapeRecord is one scrape attempt, successful or not.
type ScrapeRecord struct {
	ID              string `json:"id"`
	Identity        string `json:"identity"`
	Status          string `json:"status"` // "ok" | "failed"
	Error           string `json:"error"`
	Position        string `json:"position"`
	Company         string `json:"company"`
	ExperienceCount int    `json:"experience_count"`
	CaptureMD       string `json:"capture_md"`
	DurationMs      int64  `json:"duration_ms"`
	ScrapedAt       int64  `json:"scraped_at"`
}

// Stats holds aggregate counters for the monitor database.
type Stats struct {
	WatchedProfiles   int    `json:"watched_profiles"`
	StoredProfiles    int    `json:"stored_profiles"`
	TotalChanges      int    `json:"total_changes"`
	UnnotifiedChanges int    `json:"unnotified_changes"`
	LastUpdated       *int64 `json:"last_updated,omitempty"`
}
