// Package e2e tests the monitor through its public surface only: the
// profwatch facade, the HTTP API, and the SQLite file on disk. The browser
// is the lone fake; everything else runs the production wiring.
package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/vigie/channels"
	"github.com/hazyhaar/vigie/dbopen"
	"github.com/hazyhaar/vigie/profwatch"

	_ "modernc.org/sqlite"
)

const (
	urlAlice = "https://www.linkedin.com/in/alice"
	urlBob   = "https://www.linkedin.com/in/bob"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pageServer stands in for the browser session: canned markup per identity.
type pageServer struct {
	mu    sync.Mutex
	pages map[string]string
}

func newPageServer() *pageServer {
	return &pageServer{pages: make(map[string]string)}
}

func (p *pageServer) serve(identity, markup string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages[identity] = markup
}

func (p *pageServer) Start(ctx context.Context) error { return nil }
func (p *pageServer) Close() error                    { return nil }

func (p *pageServer) CapturePage(ctx context.Context, url string) (string, profwatch.PageState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	markup, ok := p.pages[url]
	if !ok {
		return "", profwatch.StateTransportError, nil
	}
	return markup, profwatch.StateReady, nil
}

// recorder collects every delivered notification batch.
type recorder struct {
	mu      sync.Mutex
	batches [][]channels.Event
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Notify(ctx context.Context, events []channels.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, events)
	return nil
}

func (r *recorder) all() [][]channels.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]channels.Event, len(r.batches))
	copy(out, r.batches)
	return out
}

func profilePage(name, title, company string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html><body><main>
<section class="profile-card">
  <div class="pv-text-details__left-panel">
    <h1 class="text-heading-xlarge">%s</h1>
    <div class="text-body-medium break-words">%s at %s</div>
  </div>
</section>
<section data-section="experience">
  <ul>
    <li class="artdeco-list__item">
      <span aria-hidden="true">%s</span>
      <span aria-hidden="true">%s</span>
      <span aria-hidden="true">Jan 2022 - Present · 2 yrs</span>
    </li>
  </ul>
</section>
</main></body></html>`, name, title, company, title, company)
}

// newMonitor wires a Service against a real SQLite file under dir.
func newMonitor(t *testing.T, dir string, pages *pageServer, rec *recorder) *profwatch.Service {
	t.Helper()

	db, err := dbopen.Open(filepath.Join(dir, "vigie.db"), dbopen.WithMkdirAll())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := profwatch.DefaultConfig()
	cfg.DataDir = dir
	cfg.Check.SkipInitialRun = true

	svc, err := profwatch.New(db, cfg, quiet(),
		profwatch.WithNavigator(pages),
		profwatch.WithNotifier(rec),
		profwatch.WithSleep(func(ctx context.Context, d time.Duration) error { return nil }),
	)
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	return svc
}
