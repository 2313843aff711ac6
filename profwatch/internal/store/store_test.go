package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/hazyhaar/vigie/dbopen"
	"github.com/hazyhaar/vigie/profwatch/internal/profile"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := ApplySchema(db); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func snap(identity, position, company string) *profile.Snapshot {
	s := &profile.Snapshot{
		Identity:        identity,
		DisplayName:     "Jane Doe",
		Headline:        "Engineer at " + company,
		CurrentPosition: position,
		CurrentCompany:  company,
		CapturedAt:      1700000000000,
	}
	if position != "" {
		s.Experience = []profile.Experience{{Title: position, Company: company}}
	}
	return s
}

func TestApplySchema(t *testing.T) {
	// WHAT: Verify schema creates all tables without error.
	// WHY: Schema is the foundation — if it fails, nothing works.
	db := openTestDB(t)
	for _, table := range []string{"watched_profiles", "profiles", "change_events", "scrape_history"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}
}

func TestUpsertProfileOverwrites(t *testing.T) {
	// WHAT: A second upsert for the same identity replaces the stored row.
	// WHY: The store keeps exactly one profile per identity, always the
	// latest successful observation.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	first := snap("https://www.linkedin.com/in/jdoe", "Engineer", "Acme")
	if err := s.UpsertProfile(ctx, first); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	second := snap("https://www.linkedin.com/in/jdoe", "Staff Engineer", "Beta Corp")
	second.CapturedAt = 1700000100000
	if err := s.UpsertProfile(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	count, err := s.CountProfiles(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count: got %d, want 1", count)
	}

	got, err := s.GetProfile(ctx, "https://www.linkedin.com/in/jdoe")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("profile not found")
	}
	if got.CurrentPosition != "Staff Engineer" {
		t.Errorf("position: got %q, want %q", got.CurrentPosition, "Staff Engineer")
	}
	if got.CurrentCompany != "Beta Corp" {
		t.Errorf("company: got %q", got.CurrentCompany)
	}
	if got.CapturedAt != 1700000100000 {
		t.Errorf("captured_at: got %d", got.CapturedAt)
	}
	if len(got.Experience) != 1 || got.Experience[0].Title != "Staff Engineer" {
		t.Errorf("experience: got %+v", got.Experience)
	}
}

func TestGetProfileAbsent(t *testing.T) {
	// WHAT: GetProfile returns (nil, nil) for an unknown identity.
	// WHY: Callers use nil to mean "never observed", not an error.
	db := openTestDB(t)
	s := NewStore(db)

	got, err := s.GetProfile(context.Background(), "https://www.linkedin.com/in/nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestUpsertProfileEmptyExperience(t *testing.T) {
	// WHAT: A snapshot with no experience stores and reads back cleanly.
	// WHY: Profiles without an experience section are valid observations.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	empty := snap("https://www.linkedin.com/in/fresh", "", "")
	empty.Headline = "Open to work"
	if err := s.UpsertProfile(ctx, empty); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetProfile(ctx, "https://www.linkedin.com/in/fresh")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("profile not found")
	}
	if len(got.Experience) != 0 {
		t.Errorf("experience: got %+v, want empty", got.Experience)
	}
	if got.Headline != "Open to work" {
		t.Errorf("headline: got %q", got.Headline)
	}
}

func TestInsertChangeAndHistory(t *testing.T) {
	// WHAT: Change events append and list newest first, with identity
	// filter and limit.
	// WHY: History powers the status command and the API.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	s.InsertChange(ctx, &ChangeEvent{
		ID: "ev-1", Identity: "https://www.linkedin.com/in/jdoe",
		DisplayName: "Jane Doe", OldPosition: "Engineer", NewPosition: "Staff Engineer",
		OldCompany: "Acme", NewCompany: "Acme", DetectedAt: 1000,
	})
	s.InsertChange(ctx, &ChangeEvent{
		ID: "ev-2", Identity: "https://www.linkedin.com/in/jdoe",
		DisplayName: "Jane Doe", OldPosition: "Staff Engineer", NewPosition: "Principal",
		OldCompany: "Acme", NewCompany: "Beta", DetectedAt: 2000,
	})
	s.InsertChange(ctx, &ChangeEvent{
		ID: "ev-3", Identity: "https://www.linkedin.com/in/other",
		DisplayName: "Sam Roe", OldPosition: "Analyst", NewPosition: "Manager",
		OldCompany: "Gamma", NewCompany: "Gamma", DetectedAt: 1500,
	})

	all, err := s.ChangeHistory(ctx, "", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("count: got %d, want 3", len(all))
	}
	if all[0].ID != "ev-2" {
		t.Errorf("newest first: got %s, want ev-2", all[0].ID)
	}

	jdoe, err := s.ChangeHistory(ctx, "https://www.linkedin.com/in/jdoe", 0)
	if err != nil {
		t.Fatalf("filtered history: %v", err)
	}
	if len(jdoe) != 2 {
		t.Fatalf("filtered count: got %d, want 2", len(jdoe))
	}

	limited, err := s.ChangeHistory(ctx, "", 1)
	if err != nil {
		t.Fatalf("limited history: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "ev-2" {
		t.Errorf("limit: got %+v", limited)
	}

	total, err := s.CountChanges(ctx)
	if err != nil {
		t.Fatalf("count changes: %v", err)
	}
	if total != 3 {
		t.Errorf("total: got %d, want 3", total)
	}
}

func TestUnnotifiedAndMarkNotified(t *testing.T) {
	// WHAT: Unnotified events list oldest first; MarkNotified removes an
	// event from the pending set permanently.
	// WHY: The notifier drains pending events in detection order and must
	// never deliver the same event twice.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	s.InsertChange(ctx, &ChangeEvent{ID: "ev-b", Identity: "i", DetectedAt: 2000})
	s.InsertChange(ctx, &ChangeEvent{ID: "ev-a", Identity: "i", DetectedAt: 1000})

	pending, err := s.UnnotifiedChanges(ctx)
	if err != nil {
		t.Fatalf("unnotified: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending: got %d, want 2", len(pending))
	}
	if pending[0].ID != "ev-a" {
		t.Errorf("oldest first: got %s, want ev-a", pending[0].ID)
	}

	if err := s.MarkNotified(ctx, "ev-a"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	pending, err = s.UnnotifiedChanges(ctx)
	if err != nil {
		t.Fatalf("unnotified after mark: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "ev-b" {
		t.Errorf("pending after mark: got %+v", pending)
	}

	// The flag survives on the event itself.
	hist, _ := s.ChangeHistory(ctx, "", 0)
	for _, ev := range hist {
		if ev.ID == "ev-a" && !ev.Notified {
			t.Error("ev-a should be notified")
		}
		if ev.ID == "ev-b" && ev.Notified {
			t.Error("ev-b should not be notified")
		}
	}
}

func TestApplyOutcome(t *testing.T) {
	// WHAT: ApplyOutcome writes the change event and the profile together.
	// WHY: Detection and persistence form one unit; a change without its
	// matching profile state would re-fire on the next check.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	first := snap("https://www.linkedin.com/in/jdoe", "Engineer", "Acme")
	if err := s.ApplyOutcome(ctx, first, nil); err != nil {
		t.Fatalf("apply first: %v", err)
	}

	total, _ := s.CountChanges(ctx)
	if total != 0 {
		t.Fatalf("first sight should not record a change, got %d", total)
	}

	second := snap("https://www.linkedin.com/in/jdoe", "Staff Engineer", "Acme")
	ev := &ChangeEvent{
		ID: "ev-1", Identity: second.Identity, DisplayName: second.DisplayName,
		OldPosition: "Engineer", NewPosition: "Staff Engineer",
		OldCompany: "Acme", NewCompany: "Acme", DetectedAt: second.CapturedAt,
	}
	if err := s.ApplyOutcome(ctx, second, ev); err != nil {
		t.Fatalf("apply second: %v", err)
	}

	total, _ = s.CountChanges(ctx)
	if total != 1 {
		t.Errorf("changes: got %d, want 1", total)
	}
	got, _ := s.GetProfile(ctx, second.Identity)
	if got == nil || got.CurrentPosition != "Staff Engineer" {
		t.Errorf("profile not updated: %+v", got)
	}
}

func TestApplyOutcomeRollsBack(t *testing.T) {
	// WHAT: When the event insert fails, the profile upsert is rolled back.
	// WHY: A half-applied outcome would desynchronise history and state.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	base := snap("https://www.linkedin.com/in/jdoe", "Engineer", "Acme")
	ev := &ChangeEvent{ID: "ev-dup", Identity: base.Identity, DetectedAt: 1000}
	if err := s.ApplyOutcome(ctx, base, ev); err != nil {
		t.Fatalf("apply base: %v", err)
	}

	// Same event ID again: the insert violates the primary key.
	next := snap("https://www.linkedin.com/in/jdoe", "Principal", "Beta")
	dup := &ChangeEvent{ID: "ev-dup", Identity: next.Identity, DetectedAt: 2000}
	if err := s.ApplyOutcome(ctx, next, dup); err == nil {
		t.Fatal("duplicate event id should fail")
	}

	got, _ := s.GetProfile(ctx, base.Identity)
	if got == nil || got.CurrentPosition != "Engineer" {
		t.Errorf("profile should be unchanged after rollback, got %+v", got)
	}
}

func TestWatchedRoster(t *testing.T) {
	// WHAT: Roster add, get, duplicate rejection, list order, touch,
	// pause, and remove.
	// WHY: The roster drives every scheduled check.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	a := &WatchedProfile{Identity: "https://www.linkedin.com/in/a", Name: "A", Active: true, AddedAt: 1000}
	b := &WatchedProfile{Identity: "https://www.linkedin.com/in/b", Name: "B", Active: true, AddedAt: 2000}
	if err := s.AddWatched(ctx, a); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := s.AddWatched(ctx, b); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := s.AddWatched(ctx, a); err == nil {
		t.Error("duplicate add should fail")
	}

	got, err := s.GetWatched(ctx, a.Identity)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Name != "A" || !got.Active {
		t.Errorf("get: %+v", got)
	}
	if got.LastChecked != nil {
		t.Error("last_checked should start unset")
	}

	missing, err := s.GetWatched(ctx, "https://www.linkedin.com/in/nobody")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("missing should be nil, got %+v", missing)
	}

	list, err := s.ListWatched(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].Identity != a.Identity {
		t.Errorf("list order: got %+v", list)
	}

	if err := s.TouchWatched(ctx, a.Identity, 5000); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ = s.GetWatched(ctx, a.Identity)
	if got.LastChecked == nil || *got.LastChecked != 5000 {
		t.Errorf("last_checked: got %v", got.LastChecked)
	}

	if err := s.SetWatchedActive(ctx, b.Identity, false); err != nil {
		t.Fatalf("pause: %v", err)
	}
	active, err := s.ListWatched(ctx, true)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].Identity != a.Identity {
		t.Errorf("active list: got %+v", active)
	}

	n, err := s.RemoveWatched(ctx, b.Identity)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if n != 1 {
		t.Errorf("removed: got %d, want 1", n)
	}
	n, _ = s.RemoveWatched(ctx, b.Identity)
	if n != 0 {
		t.Errorf("second remove: got %d, want 0", n)
	}

	count, _ := s.CountWatched(ctx)
	if count != 1 {
		t.Errorf("count: got %d, want 1", count)
	}
}

func TestRemoveWatchedKeepsHistory(t *testing.T) {
	// WHAT: Removing a roster entry leaves the stored profile and its
	// change events in place.
	// WHY: Remove stops future checks; it never erases what was observed.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	identity := "https://www.linkedin.com/in/jdoe"
	s.AddWatched(ctx, &WatchedProfile{Identity: identity, Name: "Jane", Active: true, AddedAt: 1000})
	s.UpsertProfile(ctx, snap(identity, "Engineer", "Acme"))
	s.InsertChange(ctx, &ChangeEvent{ID: "ev-1", Identity: identity, DetectedAt: 1000})

	if _, err := s.RemoveWatched(ctx, identity); err != nil {
		t.Fatalf("remove: %v", err)
	}

	p, _ := s.GetProfile(ctx, identity)
	if p == nil {
		t.Error("profile should survive roster removal")
	}
	hist, _ := s.ChangeHistory(ctx, identity, 0)
	if len(hist) != 1 {
		t.Errorf("history should survive roster removal, got %d", len(hist))
	}
}

func TestScrapeHistory(t *testing.T) {
	// WHAT: Scrape attempts record and list newest first, failures
	// included.
	// WHY: The attempt log is the debugging trail when extraction breaks.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	s.InsertScrape(ctx, &ScrapeRecord{
		ID: "sc-1", Identity: "i", Status: "ok",
		Position: "Engineer", Company: "Acme", ExperienceCount: 3,
		DurationMs: 1200, ScrapedAt: 1000,
	})
	s.InsertScrape(ctx, &ScrapeRecord{
		ID: "sc-2", Identity: "i", Status: "failed", Error: "challenge page",
		DurationMs: 400, ScrapedAt: 2000,
	})
	s.InsertScrape(ctx, &ScrapeRecord{
		ID: "sc-3", Identity: "other", Status: "ok", ScrapedAt: 1500,
	})

	all, err := s.ScrapeHistory(ctx, "", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("count: got %d, want 3", len(all))
	}
	if all[0].ID != "sc-2" {
		t.Errorf("newest first: got %s", all[0].ID)
	}
	if all[0].Status != "failed" || all[0].Error != "challenge page" {
		t.Errorf("failure record: got %+v", all[0])
	}

	filtered, err := s.ScrapeHistory(ctx, "i", 1)
	if err != nil {
		t.Fatalf("filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID != "sc-2" {
		t.Errorf("filtered: got %+v", filtered)
	}
}

func TestStats(t *testing.T) {
	// WHAT: Stats returns correct aggregate counts.
	// WHY: The status command and /api/stats read these.
	db := openTestDB(t)
	s := NewStore(db)
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if empty.WatchedProfiles != 0 || empty.LastUpdated != nil {
		t.Errorf("empty stats: %+v", empty)
	}

	s.AddWatched(ctx, &WatchedProfile{Identity: "i", Name: "N", Active: true, AddedAt: 1000})
	s.UpsertProfile(ctx, snap("i", "Engineer", "Acme"))
	s.InsertChange(ctx, &ChangeEvent{ID: "ev-1", Identity: "i", DetectedAt: 1000})
	s.InsertChange(ctx, &ChangeEvent{ID: "ev-2", Identity: "i", DetectedAt: 2000})
	s.MarkNotified(ctx, "ev-1")

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.WatchedProfiles != 1 {
		t.Errorf("watched: got %d", st.WatchedProfiles)
	}
	if st.StoredProfiles != 1 {
		t.Errorf("stored: got %d", st.StoredProfiles)
	}
	if st.TotalChanges != 2 {
		t.Errorf("changes: got %d", st.TotalChanges)
	}
	if st.UnnotifiedChanges != 1 {
		t.Errorf("unnotified: got %d", st.UnnotifiedChanges)
	}
	if st.LastUpdated == nil {
		t.Error("last_updated should be set")
	}
}
