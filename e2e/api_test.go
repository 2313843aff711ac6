package e2e

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/vigie/audit"
	"github.com/hazyhaar/vigie/dbopen"
	"github.com/hazyhaar/vigie/profwatch"
)

const (
	apiUser = "admin"
	apiPass = "hunter2"
)

// newAPIMonitor wires a Service with admin credentials and an audit trail,
// the way cmd/vigie serve does.
func newAPIMonitor(t *testing.T, pages *pageServer) (http.Handler, *audit.SQLiteLogger) {
	t.Helper()

	db, err := dbopen.Open(filepath.Join(t.TempDir(), "vigie.db"), dbopen.WithMkdirAll())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	auditLog := audit.NewSQLiteLogger(db)
	if err := auditLog.Init(); err != nil {
		t.Fatal(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(apiPass), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	cfg := profwatch.DefaultConfig()
	cfg.Check.SkipInitialRun = true
	cfg.API.AdminUser = apiUser
	cfg.API.AdminPassHash = string(hash)

	svc, err := profwatch.New(db, cfg, quiet(),
		profwatch.WithNavigator(pages),
		profwatch.WithNotifier(&recorder{}),
		profwatch.WithAudit(auditLog),
		profwatch.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	return svc.Routes(), auditLog
}

func call(t *testing.T, h http.Handler, method, target, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	if authed {
		r.SetBasicAuth(apiUser, apiPass)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHTTPAPI_FullCycle(t *testing.T) {
	// WHAT: The whole admin workflow over HTTP: add, check twice, read the
	// change feed and stats, inspect the audit trail.
	pages := newPageServer()
	pages.serve(urlAlice, profilePage("Alice Smith", "Software Engineer", "Acme Corp"))
	h, auditLog := newAPIMonitor(t, pages)

	w := call(t, h, http.MethodPost, "/api/profiles", `{"url":"`+urlAlice+`","name":"Alice"}`, true)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", w.Code, w.Body.String())
	}

	checkPath := "/api/profiles/" + url.PathEscape(urlAlice) + "/check"
	w = call(t, h, http.MethodPost, checkPath, "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("first check: %d %s", w.Code, w.Body.String())
	}
	var res profwatch.CheckResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Outcome != "new_identity" {
		t.Fatalf("first outcome = %q", res.Outcome)
	}

	pages.serve(urlAlice, profilePage("Alice Smith", "Engineering Manager", "Globex Corporation"))
	w = call(t, h, http.MethodPost, checkPath, "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("second check: %d %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Outcome != "changed" || res.Change == nil {
		t.Fatalf("second outcome = %+v", res)
	}

	// Change feed and stats are open reads.
	w = call(t, h, http.MethodGet, "/api/changes?url="+url.QueryEscape(urlAlice), "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("changes: %d", w.Code)
	}
	var events []*profwatch.ChangeEvent
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].NewPosition != "Engineering Manager" {
		t.Fatalf("events = %+v", events)
	}

	w = call(t, h, http.MethodGet, "/api/stats", "", false)
	if w.Code != http.StatusOK {
		t.Fatalf("stats: %d", w.Code)
	}
	var stats profwatch.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.WatchedProfiles != 1 || stats.TotalChanges != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	// Close flushes the async audit buffer, then the trail is queryable.
	if err := auditLog.Close(); err != nil {
		t.Fatal(err)
	}
	w = call(t, h, http.MethodGet, "/api/audit?action=check_profile", "", true)
	if w.Code != http.StatusOK {
		t.Fatalf("audit: %d %s", w.Code, w.Body.String())
	}
	var entries []*audit.Entry
	if err := json.Unmarshal(w.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.UserID != apiUser {
			t.Errorf("entry user = %q", e.UserID)
		}
	}
}

func TestHTTPAPI_RejectsUnauthenticatedWrites(t *testing.T) {
	// WHAT: Reads are open, writes demand admin credentials.
	h, _ := newAPIMonitor(t, newPageServer())

	if w := call(t, h, http.MethodGet, "/api/profiles", "", false); w.Code != http.StatusOK {
		t.Fatalf("open read: %d", w.Code)
	}
	if w := call(t, h, http.MethodPost, "/api/profiles", `{"url":"`+urlAlice+`"}`, false); w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated write: %d", w.Code)
	}
}
