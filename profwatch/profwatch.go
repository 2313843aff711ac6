package profwatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/hazyhaar/vigie/audit"
	"github.com/hazyhaar/vigie/channels"
	"github.com/hazyhaar/vigie/idgen"
	"github.com/hazyhaar/vigie/profwatch/internal/diff"
	"github.com/hazyhaar/vigie/profwatch/internal/profile"
	"github.com/hazyhaar/vigie/profwatch/internal/schedule"
	"github.com/hazyhaar/vigie/profwatch/internal/session"
	"github.com/hazyhaar/vigie/profwatch/internal/store"
	"github.com/hazyhaar/vigie/vtq"
)

// checkQueue is the vtq queue name for profile checks.
const checkQueue = "profile_check"

// Navigator abstracts the browser session. The production implementation is
// session.Controller; tests substitute a fake serving canned markup.
type Navigator interface {
	Start(ctx context.Context) error
	CapturePage(ctx context.Context, url string) (string, session.PageState, error)
	Close() error
}

// Service is the profile monitor orchestrator.
type Service struct {
	db        *sql.DB
	store     *store.Store
	queue     *vtq.Q
	scheduler *schedule.Scheduler
	extractor *profile.Extractor
	mdConv    *converter.Converter
	logger    *slog.Logger
	config    *Config

	navigator Navigator         // browser session (default: session.Controller)
	notifier  channels.Notifier // delivery fan-out (default: channels.Dispatcher)
	audit     audit.Logger      // optional audit trail for API and MCP calls
	newID     idgen.Generator
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	endpoints endpoints

	// sessionMu serializes browser use: the queue worker and on-demand
	// checks share one authenticated session.
	sessionMu sync.Mutex
	sessionUp bool
}

// New creates a monitor Service on an open SQLite handle. The schema and
// queue table are applied on creation.
func New(db *sql.DB, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	if !channels.ValidMode(cfg.Notify.Mode) {
		return nil, fmt.Errorf("%w: unknown notify mode %q", ErrInvalidInput, cfg.Notify.Mode)
	}

	if err := store.ApplySchema(db); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	st := store.NewStore(db)

	q := vtq.New(db, vtq.Options{
		Queue:      checkQueue,
		Visibility: cfg.Check.Visibility,
		Logger:     logger,
	})
	if err := q.EnsureTable(context.Background()); err != nil {
		return nil, fmt.Errorf("queue table: %w", err)
	}

	svc := &Service{
		db:        db,
		store:     st,
		queue:     q,
		extractor: profile.NewExtractor(cfg.Selectors, cfg.Tokens, logger),
		mdConv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		logger: logger,
		config: cfg,
		newID:  idgen.Default,
		now:    time.Now,
		sleep:  wait,
	}

	// Apply options.
	for _, opt := range opts {
		opt(svc)
	}

	if svc.navigator == nil {
		nav, err := session.New(session.Config{
			RemoteURL:     cfg.Browser.RemoteURL,
			Headless:      cfg.Browser.Headless,
			Email:         cfg.Browser.Email,
			Password:      cfg.Browser.Password,
			DataDir:       cfg.DataDir,
			CookieFile:    cfg.Browser.CookieFile,
			NavTimeout:    cfg.Browser.NavTimeout,
			SettleDelay:   cfg.Browser.SettleDelay,
			ChallengeWait: cfg.Browser.ChallengeWait,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		svc.navigator = nav
	}

	if svc.notifier == nil {
		dopts := []channels.DispatcherOption{
			channels.WithMode(cfg.Notify.Mode),
			channels.WithLogger(logger),
			channels.WithEmail(channels.NewEmail(cfg.Notify.Email, logger)),
		}
		if cfg.Notify.Webhook.URL != "" {
			wh, err := channels.NewWebhook(cfg.Notify.Webhook, logger)
			if err != nil {
				return nil, err
			}
			dopts = append(dopts, channels.WithWebhook(wh))
		}
		svc.notifier = channels.NewDispatcher(dopts...)
	}

	svc.scheduler = schedule.New(st, q, schedule.Config{
		CheckInterval: cfg.Check.Interval,
		RunOnStart:    !cfg.Check.SkipInitialRun,
	}, logger)

	svc.endpoints = svc.buildEndpoints()

	return svc, nil
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithNavigator replaces the browser session. Use in tests with a fake that
// serves canned markup.
func WithNavigator(n Navigator) ServiceOption {
	return func(svc *Service) { svc.navigator = n }
}

// WithNotifier replaces the delivery dispatcher.
func WithNotifier(n channels.Notifier) ServiceOption {
	return func(svc *Service) { svc.notifier = n }
}

// WithAudit sets the audit logger for API and MCP calls.
func WithAudit(a audit.Logger) ServiceOption {
	return func(svc *Service) { svc.audit = a }
}

// WithIDGenerator overrides event and scrape record ID generation.
func WithIDGenerator(gen idgen.Generator) ServiceOption {
	return func(svc *Service) { svc.newID = gen }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(svc *Service) { svc.now = now }
}

// WithSleep overrides the politeness delay between profile visits. Tests
// pass a no-op.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ServiceOption {
	return func(svc *Service) { svc.sleep = fn }
}

// ApplySchema creates the monitor tables on db. New applies it as well;
// exposed for tools that open the database without a Service.
func ApplySchema(db *sql.DB) error {
	return store.ApplySchema(db)
}

// Start brings up the browser session and launches the background scheduler
// and queue worker. Non-blocking; the goroutines stop when ctx is canceled.
func (svc *Service) Start(ctx context.Context) error {
	if err := svc.ensureSession(ctx); err != nil {
		return err
	}
	go svc.scheduler.Run(ctx)
	go svc.workerLoop(ctx)
	svc.logger.Info("profwatch: started", "interval", svc.config.Check.Interval)
	return nil
}

// Close shuts down the service: flushes the audit logger when configured
// and tears down the browser session.
func (svc *Service) Close() error {
	if svc.audit != nil {
		if err := svc.audit.Close(); err != nil {
			svc.logger.Warn("profwatch: audit close", "error", err)
		}
	}
	svc.sessionMu.Lock()
	up := svc.sessionUp
	svc.sessionUp = false
	svc.sessionMu.Unlock()

	var err error
	if up {
		err = svc.navigator.Close()
	}
	svc.logger.Info("profwatch: closed")
	return err
}

// --- Roster ---

// AddProfile puts a profile URL under watch. The URL is canonicalized first;
// two spellings of the same profile count as one entry.
func (svc *Service) AddProfile(ctx context.Context, rawURL, name string) (*WatchedProfile, error) {
	identity, err := NormalizeProfileURL(rawURL)
	if err != nil {
		return nil, err
	}
	if err := validateProfileName(name); err != nil {
		return nil, err
	}

	count, err := svc.store.CountWatched(ctx)
	if err != nil {
		return nil, fmt.Errorf("count watched: %w", err)
	}
	if count >= MaxWatchedProfiles {
		return nil, fmt.Errorf("%w: maximum %d watched profiles", ErrQuotaExceeded, MaxWatchedProfiles)
	}

	existing, err := svc.store.GetWatched(ctx, identity)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateProfile, identity)
	}

	w := &store.WatchedProfile{
		Identity: identity,
		Name:     name,
		Active:   true,
		AddedAt:  svc.now().UnixMilli(),
	}
	if err := svc.store.AddWatched(ctx, w); err != nil {
		return nil, err
	}
	svc.logger.Info("profwatch: profile added", "identity", identity)
	return w, nil
}

// RemoveProfile drops a profile from the roster. Stored observations and
// change history stay.
func (svc *Service) RemoveProfile(ctx context.Context, rawURL string) error {
	identity, err := NormalizeProfileURL(rawURL)
	if err != nil {
		return err
	}
	n, err := svc.store.RemoveWatched(ctx, identity)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrProfileNotFound, identity)
	}
	svc.logger.Info("profwatch: profile removed", "identity", identity)
	return nil
}

// ListProfiles returns the roster joined with the last stored observation
// per identity.
func (svc *Service) ListProfiles(ctx context.Context) ([]*ProfileSummary, error) {
	watched, err := svc.store.ListWatched(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make([]*ProfileSummary, 0, len(watched))
	for _, w := range watched {
		s := &ProfileSummary{
			Identity:    w.Identity,
			Name:        w.Name,
			Active:      w.Active,
			AddedAt:     w.AddedAt,
			LastChecked: w.LastChecked,
		}
		p, err := svc.store.GetProfile(ctx, w.Identity)
		if err != nil {
			return nil, err
		}
		if p != nil {
			s.DisplayName = p.DisplayName
			s.Headline = p.Headline
			s.CurrentPosition = p.CurrentPosition
			s.CurrentCompany = p.CurrentCompany
			s.ExperienceCount = len(p.Experience)
			s.CapturedAt = p.CapturedAt
		}
		out = append(out, s)
	}
	return out, nil
}

// --- Checking ---

// CheckNow checks a single watched profile immediately, outside the
// schedule. A detected change is delivered on its own, not batched.
func (svc *Service) CheckNow(ctx context.Context, rawURL string) (*CheckResult, error) {
	identity, err := NormalizeProfileURL(rawURL)
	if err != nil {
		return nil, err
	}
	w, err := svc.store.GetWatched(ctx, identity)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, identity)
	}

	if err := svc.ensureSession(ctx); err != nil {
		return nil, err
	}

	svc.sessionMu.Lock()
	res, err := svc.processIdentity(ctx, identity)
	svc.sessionMu.Unlock()
	if err != nil {
		return nil, err
	}

	if res.Change != nil {
		svc.deliver(ctx, []*store.ChangeEvent{res.Change})
	}
	return res, nil
}

// RunBatch checks every active profile now: queue the roster, drain the
// queue, deliver pending notifications. Blocks until the pass finishes.
func (svc *Service) RunBatch(ctx context.Context) (*BatchReport, error) {
	if err := svc.ensureSession(ctx); err != nil {
		return nil, err
	}
	if err := svc.scheduler.Enqueue(ctx); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	return svc.runPass(ctx)
}

// --- History ---

// Stats returns aggregate counters for the monitor database.
func (svc *Service) Stats(ctx context.Context) (*Stats, error) {
	return svc.store.Stats(ctx)
}

// ChangeHistory returns detected changes, newest first. An empty URL means
// all profiles.
func (svc *Service) ChangeHistory(ctx context.Context, rawURL string, limit int) ([]*ChangeEvent, error) {
	identity := ""
	if rawURL != "" {
		var err error
		identity, err = NormalizeProfileURL(rawURL)
		if err != nil {
			return nil, err
		}
	}
	return svc.store.ChangeHistory(ctx, identity, limit)
}

// ScrapeHistory returns scrape attempts, newest first. An empty URL means
// all profiles.
func (svc *Service) ScrapeHistory(ctx context.Context, rawURL string, limit int) ([]*ScrapeRecord, error) {
	identity := ""
	if rawURL != "" {
		var err error
		identity, err = NormalizeProfileURL(rawURL)
		if err != nil {
			return nil, err
		}
	}
	return svc.store.ScrapeHistory(ctx, identity, limit)
}

// --- Internals ---

// ensureSession starts the browser session once. Later calls are no-ops
// until Close.
func (svc *Service) ensureSession(ctx context.Context) error {
	svc.sessionMu.Lock()
	defer svc.sessionMu.Unlock()
	if svc.sessionUp {
		return nil
	}
	if err := svc.navigator.Start(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionNotReady, err)
	}
	svc.sessionUp = true
	return nil
}

// workerLoop drains the queue whenever jobs appear. A whole batch drains in
// one go so the pass produces one digest, not one message per profile.
func (svc *Service) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(svc.config.Check.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := svc.queue.Len(ctx)
		if err != nil {
			svc.logger.Error("profwatch: queue len", "error", err)
			continue
		}
		if n == 0 {
			continue
		}
		report, err := svc.runPass(ctx)
		if err != nil {
			svc.logger.Error("profwatch: pass failed", "error", err)
			continue
		}
		svc.logger.Info("profwatch: pass complete",
			"processed", report.Processed, "failed", report.Failed,
			"notified", len(report.Changes))
	}
}

// runPass drains every queued check, then delivers all still-unnotified
// change events as one batch.
func (svc *Service) runPass(ctx context.Context) (*BatchReport, error) {
	start := svc.now()
	report := &BatchReport{}
	svc.drainBatch(ctx, report)

	pending, err := svc.store.UnnotifiedChanges(ctx)
	if err != nil {
		return report, fmt.Errorf("unnotified changes: %w", err)
	}
	report.Changes = svc.deliver(ctx, pending)
	report.DurationMs = svc.now().Sub(start).Milliseconds()
	return report, nil
}

// drainBatch claims and processes queued checks until the queue is empty.
// Every claimed job is acked, success or failure: the scrape record holds
// the outcome, and a failed visit is not worth a second browser trip in the
// same pass.
func (svc *Service) drainBatch(ctx context.Context, report *BatchReport) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := svc.queue.Claim(ctx)
		if err != nil {
			svc.logger.Error("profwatch: claim failed", "error", err)
			return
		}
		if job == nil {
			return
		}

		var cj schedule.CheckJob
		if err := json.Unmarshal(job.Payload, &cj); err != nil {
			svc.logger.Error("profwatch: bad job payload, dropping", "id", job.ID, "error", err)
			if err := svc.queue.Ack(ctx, job.ID); err != nil {
				svc.logger.Warn("profwatch: ack failed", "id", job.ID, "error", err)
			}
			continue
		}

		svc.sessionMu.Lock()
		_, perr := svc.processIdentity(ctx, cj.Identity)
		svc.sessionMu.Unlock()

		if perr != nil {
			report.Failed++
			svc.logger.Warn("profwatch: check failed", "identity", cj.Identity, "error", perr)
		} else {
			report.Processed++
		}
		if err := svc.queue.Ack(ctx, job.ID); err != nil {
			svc.logger.Warn("profwatch: ack failed", "id", job.ID, "error", err)
		}

		svc.politeness(ctx)
	}
}

// processIdentity visits one profile and applies the outcome: scrape record
// always, snapshot upsert and change event on success. Caller holds
// sessionMu.
func (svc *Service) processIdentity(ctx context.Context, identity string) (*CheckResult, error) {
	start := svc.now()
	if err := svc.store.TouchWatched(ctx, identity, start.UnixMilli()); err != nil {
		svc.logger.Warn("profwatch: touch watched", "identity", identity, "error", err)
	}

	markup, state, err := svc.navigator.CapturePage(ctx, identity)
	if err != nil {
		svc.recordScrape(ctx, identity, start, nil, fmt.Sprintf("capture: %v", err), "")
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	if state != session.StateReady {
		svc.recordScrape(ctx, identity, start, nil, "page state: "+state.String(), "")
		switch state {
		case session.StateAuthRequired, session.StateChallengeRequired:
			return nil, fmt.Errorf("%w: %s", ErrSessionNotReady, state)
		default:
			return nil, fmt.Errorf("%w: %s", ErrExtractionFailed, state)
		}
	}

	snap, err := svc.extractor.Extract(identity, markup)
	if err != nil {
		svc.recordScrape(ctx, identity, start, nil, err.Error(), "")
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	svc.recordScrape(ctx, identity, start, snap, "", svc.renderMarkdown(identity, markup))

	prior, err := svc.store.GetProfile(ctx, identity)
	if err != nil {
		return nil, err
	}
	var priorSnap *profile.Snapshot
	if prior != nil {
		priorSnap = prior.Snapshot()
	}

	outcome := diff.Evaluate(snap, priorSnap)

	var ev *store.ChangeEvent
	if outcome.Kind == diff.Changed {
		c := outcome.Change
		ev = &store.ChangeEvent{
			ID:          svc.newID(),
			Identity:    c.Identity,
			DisplayName: c.DisplayName,
			OldPosition: c.OldPosition,
			NewPosition: c.NewPosition,
			OldCompany:  c.OldCompany,
			NewCompany:  c.NewCompany,
			DetectedAt:  c.DetectedAt,
		}
	}
	if err := svc.store.ApplyOutcome(ctx, snap, ev); err != nil {
		return nil, fmt.Errorf("apply outcome: %w", err)
	}
	if ev != nil {
		svc.logger.Info("profwatch: job change detected", "identity", identity,
			"old_position", ev.OldPosition, "new_position", ev.NewPosition,
			"old_company", ev.OldCompany, "new_company", ev.NewCompany)
	}

	return &CheckResult{
		Identity:        identity,
		Outcome:         outcome.Kind.String(),
		Change:          ev,
		DisplayName:     snap.DisplayName,
		Position:        snap.CurrentPosition,
		Company:         snap.CurrentCompany,
		ExperienceCount: len(snap.Experience),
		DurationMs:      svc.now().Sub(start).Milliseconds(),
	}, nil
}

// recordScrape appends the attempt to scrape history. Recording failures
// must not fail the check, so errors are only logged.
func (svc *Service) recordScrape(ctx context.Context, identity string, start time.Time, snap *profile.Snapshot, errText, captureMD string) {
	rec := &store.ScrapeRecord{
		ID:         svc.newID(),
		Identity:   identity,
		Status:     "ok",
		CaptureMD:  captureMD,
		DurationMs: svc.now().Sub(start).Milliseconds(),
		ScrapedAt:  start.UnixMilli(),
	}
	if errText != "" {
		rec.Status = "failed"
		rec.Error = errText
	}
	if snap != nil {
		rec.Position = snap.CurrentPosition
		rec.Company = snap.CurrentCompany
		rec.ExperienceCount = len(snap.Experience)
	}
	if err := svc.store.InsertScrape(ctx, rec); err != nil {
		svc.logger.Warn("profwatch: scrape record", "identity", identity, "error", err)
	}
}

// renderMarkdown converts the captured markup into the archived markdown
// form, truncated at the configured byte cap. Falls back to the raw markup
// when conversion fails or comes back empty.
func (svc *Service) renderMarkdown(identity, markup string) string {
	md, err := svc.mdConv.ConvertString(markup, converter.WithDomain(identity))
	if err != nil || strings.TrimSpace(md) == "" {
		md = markup
	}
	return truncateUTF8(md, svc.config.Check.CaptureMaxBytes)
}

// deliver hands events to the notifier and marks each one notified only
// after the dispatcher reports success. On failure the events stay pending
// and the next pass retries them. Returns the events actually delivered.
func (svc *Service) deliver(ctx context.Context, events []*store.ChangeEvent) []*store.ChangeEvent {
	if len(events) == 0 {
		return nil
	}
	if err := svc.notifier.Notify(ctx, toChannelEvents(events)); err != nil {
		svc.logger.Error("profwatch: delivery failed, events stay pending",
			"count", len(events), "error", err)
		return nil
	}
	delivered := make([]*store.ChangeEvent, 0, len(events))
	for _, ev := range events {
		if err := svc.store.MarkNotified(ctx, ev.ID); err != nil {
			svc.logger.Warn("profwatch: mark notified", "id", ev.ID, "error", err)
			continue
		}
		ev.Notified = true
		delivered = append(delivered, ev)
	}
	return delivered
}

// politeness pauses between profile visits while more work is queued.
func (svc *Service) politeness(ctx context.Context) {
	n, err := svc.queue.Len(ctx)
	if err != nil || n == 0 {
		return
	}
	d := svc.config.Check.DelayMin
	if spread := svc.config.Check.DelayMax - d; spread > 0 {
		d += rand.N(spread)
	}
	_ = svc.sleep(ctx, d)
}

func toChannelEvents(events []*store.ChangeEvent) []channels.Event {
	out := make([]channels.Event, 0, len(events))
	for _, ev := range events {
		out = append(out, channels.Event{
			ID:          ev.ID,
			Identity:    ev.Identity,
			DisplayName: ev.DisplayName,
			OldPosition: ev.OldPosition,
			NewPosition: ev.NewPosition,
			OldCompany:  ev.OldCompany,
			NewCompany:  ev.NewCompany,
			DetectedAt:  time.UnixMilli(ev.DetectedAt),
		})
	}
	return out
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// truncateUTF8 cuts s at max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
