package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/vigie/horosafe"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvent() Event {
	return Event{
		ID:          "ev-1",
		Identity:    "https://www.linkedin.com/in/jdoe/",
		DisplayName: "Jane Doe",
		OldPosition: "Engineer",
		NewPosition: "Staff Engineer",
		OldCompany:  "Acme",
		NewCompany:  "Globex",
		DetectedAt:  time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func enabledEmailCfg() EmailConfig {
	return EmailConfig{
		Host:     "smtp.example.com",
		Username: "monitor@example.com",
		Password: "hunter2-hunter2",
		To:       "alerts@example.com",
	}
}

// capturedMail records what the send hook was asked to deliver.
type capturedMail struct {
	addr  string
	from  string
	to    []string
	msg   string
	calls int
}

func testEmail(t *testing.T, cfg EmailConfig) (*Email, *capturedMail) {
	t.Helper()
	cap := &capturedMail{}
	e := NewEmail(cfg, discard())
	e.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		cap.addr, cap.from, cap.to, cap.msg = addr, from, to, string(msg)
		cap.calls++
		return nil
	}
	return e, cap
}

// mailHeader pulls one header value out of a raw SMTP message.
func mailHeader(t *testing.T, msg, key string) string {
	t.Helper()
	for _, line := range strings.Split(msg, "\r\n") {
		if v, ok := strings.CutPrefix(line, key+": "); ok {
			return v
		}
	}
	t.Fatalf("header %s not found in message:\n%s", key, msg)
	return ""
}

// fakeNotifier records every batch it is handed.
type fakeNotifier struct {
	name  string
	err   error
	calls [][]Event
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) Notify(_ context.Context, events []Event) error {
	f.calls = append(f.calls, events)
	return f.err
}

// disabledNotifier reports itself disabled, like an Email without credentials.
type disabledNotifier struct {
	fakeNotifier
}

func (d *disabledNotifier) Enabled() bool { return false }

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

// TestFormatEvent pins the alert text byte for byte. Operators grep their
// logs for these lines; the layout is load-bearing.
func TestFormatEvent(t *testing.T) {
	got := FormatEvent(sampleEvent())
	want := "🔔 JOB CHANGE DETECTED!\n" +
		"\n" +
		"Name: Jane Doe\n" +
		"Profile: https://www.linkedin.com/in/jdoe/\n" +
		"\n" +
		"PREVIOUS POSITION:\n" +
		"  Title: Engineer\n" +
		"  Company: Acme\n" +
		"\n" +
		"NEW POSITION:\n" +
		"  Title: Staff Engineer\n" +
		"  Company: Globex\n" +
		"\n" +
		"Detected: 2025-03-14T09:30:00Z"
	if got != want {
		t.Errorf("FormatEvent mismatch:\ngot:\n%q\nwant:\n%q", got, want)
	}
}

// TestFormatEventDefaults verifies missing profile fields render as Unknown
// instead of blanks a reader could misparse.
func TestFormatEventDefaults(t *testing.T) {
	got := FormatEvent(Event{Identity: "https://www.linkedin.com/in/jdoe/"})
	for _, want := range []string{
		"Name: Unknown",
		"  Title: Unknown",
		"  Company: Unknown",
		"Detected: Unknown",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("formatted event missing %q:\n%s", want, got)
		}
	}
}

// ---------------------------------------------------------------------------
// Console
// ---------------------------------------------------------------------------

// TestConsoleFraming verifies each change prints as its own framed block, in
// batch order.
func TestConsoleFraming(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	first := sampleEvent()
	second := sampleEvent()
	second.ID = "ev-2"
	second.DisplayName = "John Smith"

	if err := c.Notify(context.Background(), []Event{first, second}); err != nil {
		t.Fatalf("console notify: %v", err)
	}

	out := buf.String()
	if got := strings.Count(out, rule); got != 4 {
		t.Errorf("expected 4 rule lines (2 per event), got %d:\n%s", got, out)
	}
	jane := strings.Index(out, "Name: Jane Doe")
	john := strings.Index(out, "Name: John Smith")
	if jane < 0 || john < 0 {
		t.Fatalf("both events should print:\n%s", out)
	}
	if jane > john {
		t.Errorf("events printed out of batch order:\n%s", out)
	}
}

// TestConsoleName keeps the channel name stable; the dispatcher logs it.
func TestConsoleName(t *testing.T) {
	if got := NewConsole(nil).Name(); got != "console" {
		t.Errorf("Name() = %q, want console", got)
	}
}

// ---------------------------------------------------------------------------
// Email
// ---------------------------------------------------------------------------

// TestEmailSingleMessage verifies a one-change batch sends a single alert
// mail with the per-profile subject.
func TestEmailSingleMessage(t *testing.T) {
	e, mail := testEmail(t, enabledEmailCfg())

	if err := e.Notify(context.Background(), []Event{sampleEvent()}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if mail.calls != 1 {
		t.Fatalf("expected one delivery, got %d", mail.calls)
	}
	if mail.addr != "smtp.example.com:587" {
		t.Errorf("addr = %q, want default port 587", mail.addr)
	}
	if mail.from != "monitor@example.com" {
		t.Errorf("from = %q, want the username fallback", mail.from)
	}
	if len(mail.to) != 1 || mail.to[0] != "alerts@example.com" {
		t.Errorf("to = %v", mail.to)
	}
	if got := mailHeader(t, mail.msg, "Subject"); got != "LinkedIn Job Change: Jane Doe" {
		t.Errorf("subject = %q", got)
	}
	if got := mailHeader(t, mail.msg, "Content-Type"); got != "text/plain; charset=UTF-8" {
		t.Errorf("content type = %q", got)
	}
	if !strings.Contains(mail.msg, "NEW POSITION:") {
		t.Errorf("body missing alert text:\n%s", mail.msg)
	}
}

// TestEmailDigest verifies multiple changes collapse into one digest mail
// enumerating every change.
func TestEmailDigest(t *testing.T) {
	e, mail := testEmail(t, enabledEmailCfg())

	events := make([]Event, 3)
	for i := range events {
		events[i] = sampleEvent()
	}
	if err := e.Notify(context.Background(), events); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if mail.calls != 1 {
		t.Fatalf("a digest is one delivery, got %d", mail.calls)
	}
	if got := mailHeader(t, mail.msg, "Subject"); got != "LinkedIn Job Changes Digest - 3 changes detected" {
		t.Errorf("subject = %q", got)
	}
	for _, want := range []string{
		"Detected 3 job changes:",
		"Change #1:",
		"Change #3:",
		dashRule,
	} {
		if !strings.Contains(mail.msg, want) {
			t.Errorf("digest body missing %q", want)
		}
	}
}

// TestEmailDisabled verifies a connector without credentials refuses to
// deliver with ErrNotConfigured instead of dialing an empty host.
func TestEmailDisabled(t *testing.T) {
	e, mail := testEmail(t, EmailConfig{Host: "smtp.example.com"})

	if e.Enabled() {
		t.Fatal("connector without credentials must report disabled")
	}
	err := e.Notify(context.Background(), []Event{sampleEvent()})
	var notCfg *ErrNotConfigured
	if !errors.As(err, &notCfg) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
	if mail.calls != 0 {
		t.Errorf("disabled connector must not send, got %d calls", mail.calls)
	}
}

// TestEmailHTMLSanitizes verifies scraped markup cannot reach an HTML mail
// body intact.
func TestEmailHTMLSanitizes(t *testing.T) {
	cfg := enabledEmailCfg()
	cfg.HTML = true
	e, mail := testEmail(t, cfg)

	ev := sampleEvent()
	ev.DisplayName = `<script>alert("x")</script>Jane Doe`
	ev.NewCompany = `<img src=x onerror=steal()>Globex`
	if err := e.Notify(context.Background(), []Event{ev}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got := mailHeader(t, mail.msg, "Content-Type"); got != "text/html; charset=UTF-8" {
		t.Errorf("content type = %q", got)
	}
	for _, banned := range []string{"<script>", "onerror", "<img"} {
		if strings.Contains(mail.msg, banned) {
			t.Errorf("sanitizer let %q through:\n%s", banned, mail.msg)
		}
	}
	if !strings.Contains(mail.msg, "Jane Doe") || !strings.Contains(mail.msg, "Globex") {
		t.Errorf("sanitizer stripped the text content too:\n%s", mail.msg)
	}
}

// TestEmailTestMessage verifies the configuration self-test mail.
func TestEmailTestMessage(t *testing.T) {
	e, mail := testEmail(t, enabledEmailCfg())

	if err := e.TestMessage(context.Background()); err != nil {
		t.Fatalf("test message: %v", err)
	}
	if got := mailHeader(t, mail.msg, "Subject"); got != "LinkedIn Monitor - Test Email" {
		t.Errorf("subject = %q", got)
	}
	for _, want := range []string{
		"- SMTP Server: smtp.example.com:587",
		"- To: alerts@example.com",
		"your notifications are working correctly",
	} {
		if !strings.Contains(mail.msg, want) {
			t.Errorf("test body missing %q:\n%s", want, mail.msg)
		}
	}
}

// TestEmailEmptyBatch verifies an empty batch is a no-op, not an error.
func TestEmailEmptyBatch(t *testing.T) {
	e, mail := testEmail(t, enabledEmailCfg())
	if err := e.Notify(context.Background(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if mail.calls != 0 {
		t.Errorf("empty batch must not send, got %d calls", mail.calls)
	}
}

// ---------------------------------------------------------------------------
// Webhook
// ---------------------------------------------------------------------------

const testSecret = "0123456789abcdef0123456789abcdef"

// testWebhook wires the struct directly: NewWebhook refuses loopback
// receivers, which is exactly where httptest listens.
func testWebhook(url, secret string) *Webhook {
	cfg := WebhookConfig{URL: url, Secret: secret, Timeout: 5 * time.Second}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: discard(),
	}
}

// TestWebhookDeliversSignedBatch verifies the receiver gets one signed JSON
// POST carrying the whole batch.
func TestWebhookDeliversSignedBatch(t *testing.T) {
	var gotBody []byte
	var gotSig, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature-256")
		gotCT = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := testWebhook(srv.URL, testSecret)
	events := []Event{sampleEvent(), sampleEvent()}
	if err := wh.Notify(context.Background(), events); err != nil {
		t.Fatalf("notify: %v", err)
	}

	if gotCT != "application/json" {
		t.Errorf("content type = %q", gotCT)
	}
	if !strings.HasPrefix(gotSig, "sha256=") {
		t.Errorf("signature header %q missing sha256= prefix", gotSig)
	}
	if !VerifySignature(testSecret, gotBody, gotSig) {
		t.Error("signature does not verify against the body")
	}
	if VerifySignature("wrong-secret-wrong-secret-wrong!", gotBody, gotSig) {
		t.Error("signature verified under the wrong secret")
	}

	var payload webhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Kind != "job_changes" || payload.Count != 2 || len(payload.Events) != 2 {
		t.Errorf("payload = kind %q count %d events %d", payload.Kind, payload.Count, len(payload.Events))
	}
	if payload.Events[0].DisplayName != "Jane Doe" {
		t.Errorf("event round-trip lost fields: %+v", payload.Events[0])
	}
}

// TestWebhookUnsignedWithoutSecret verifies no signature header is attached
// when no secret is configured.
func TestWebhookUnsignedWithoutSecret(t *testing.T) {
	var gotSig string
	sigSeen := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature-256")
		sigSeen = true
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := testWebhook(srv.URL, "")
	if err := wh.Notify(context.Background(), []Event{sampleEvent()}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !sigSeen {
		t.Fatal("receiver never saw the request")
	}
	if gotSig != "" {
		t.Errorf("unexpected signature header %q", gotSig)
	}
}

// TestWebhookRejectsErrorStatus verifies a non-2xx response surfaces as a
// send failure carrying the status and a body snippet.
func TestWebhookRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := testWebhook(srv.URL, "")
	err := wh.Notify(context.Background(), []Event{sampleEvent()})
	var sendErr *ErrSendFailed
	if !errors.As(err, &sendErr) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "queue full") {
		t.Errorf("error should carry status and body snippet: %v", err)
	}
}

// TestNewWebhookValidation verifies the constructor rejects missing URLs,
// internal receivers, and weak secrets.
func TestNewWebhookValidation(t *testing.T) {
	_, err := NewWebhook(WebhookConfig{}, discard())
	var notCfg *ErrNotConfigured
	if !errors.As(err, &notCfg) {
		t.Errorf("empty URL: expected ErrNotConfigured, got %v", err)
	}

	_, err = NewWebhook(WebhookConfig{URL: "http://127.0.0.1:8080/hook"}, discard())
	if !errors.Is(err, horosafe.ErrSSRF) {
		t.Errorf("loopback receiver: expected SSRF rejection, got %v", err)
	}

	_, err = NewWebhook(WebhookConfig{URL: "ftp://hooks.example.com/x"}, discard())
	if !errors.Is(err, horosafe.ErrUnsafeScheme) {
		t.Errorf("ftp scheme: expected scheme rejection, got %v", err)
	}

	_, err = NewWebhook(WebhookConfig{URL: "https://hooks.example.com/x", Secret: "short"}, discard())
	if !errors.Is(err, horosafe.ErrSecretTooShort) {
		t.Errorf("weak secret: expected secret rejection, got %v", err)
	}

	wh, err := NewWebhook(WebhookConfig{URL: "https://hooks.example.com/x", Secret: testSecret}, discard())
	if err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	if wh.Name() != "webhook" {
		t.Errorf("Name() = %q", wh.Name())
	}
}

// TestVerifySignature covers the header variants a receiver may present.
func TestVerifySignature(t *testing.T) {
	body := []byte(`{"kind":"job_changes"}`)
	sig := signBody(testSecret, body)

	if !VerifySignature(testSecret, body, sig) {
		t.Error("bare hex signature should verify")
	}
	if !VerifySignature(testSecret, body, "sha256="+sig) {
		t.Error("prefixed signature should verify")
	}
	if VerifySignature(testSecret, body, "") {
		t.Error("empty signature must not verify")
	}
	if VerifySignature(testSecret, body, "sha256=zznothex") {
		t.Error("non-hex signature must not verify")
	}
	if VerifySignature(testSecret, []byte("tampered"), sig) {
		t.Error("tampered body must not verify")
	}
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// TestDispatcherModeRouting verifies console and email are selected by mode
// while a configured webhook fires in every mode.
func TestDispatcherModeRouting(t *testing.T) {
	cases := []struct {
		mode        string
		wantConsole int
		wantEmail   int
	}{
		{ModeConsole, 1, 0},
		{ModeEmail, 0, 1},
		{ModeBoth, 1, 1},
	}
	for _, tc := range cases {
		t.Run(tc.mode, func(t *testing.T) {
			console := &fakeNotifier{name: "console"}
			email := &fakeNotifier{name: "email"}
			hook := &fakeNotifier{name: "webhook"}
			d := NewDispatcher(
				WithMode(tc.mode),
				WithConsole(console),
				WithEmail(email),
				WithWebhook(hook),
				WithLogger(discard()),
			)

			if err := d.Notify(context.Background(), []Event{sampleEvent()}); err != nil {
				t.Fatalf("notify: %v", err)
			}
			if len(console.calls) != tc.wantConsole {
				t.Errorf("console called %d times, want %d", len(console.calls), tc.wantConsole)
			}
			if len(email.calls) != tc.wantEmail {
				t.Errorf("email called %d times, want %d", len(email.calls), tc.wantEmail)
			}
			if len(hook.calls) != 1 {
				t.Errorf("webhook called %d times, want 1 regardless of mode", len(hook.calls))
			}
		})
	}
}

// TestDispatcherSkipsDisabledEmail verifies an unconfigured email connector
// is skipped silently instead of producing an error on every batch.
func TestDispatcherSkipsDisabledEmail(t *testing.T) {
	console := &fakeNotifier{name: "console"}
	email := &disabledNotifier{fakeNotifier{name: "email"}}
	d := NewDispatcher(
		WithMode(ModeBoth),
		WithConsole(console),
		WithEmail(email),
		WithLogger(discard()),
	)

	if err := d.Notify(context.Background(), []Event{sampleEvent()}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(console.calls) != 1 {
		t.Errorf("console called %d times, want 1", len(console.calls))
	}
	if len(email.calls) != 0 {
		t.Errorf("disabled email was called %d times", len(email.calls))
	}
}

// TestDispatcherCollectsFailures verifies one failing connector does not
// stop the others and the joined error still identifies it.
func TestDispatcherCollectsFailures(t *testing.T) {
	console := &fakeNotifier{name: "console", err: &ErrSendFailed{Channel: "console", Cause: errors.New("pipe closed")}}
	hook := &fakeNotifier{name: "webhook"}
	d := NewDispatcher(
		WithMode(ModeConsole),
		WithConsole(console),
		WithWebhook(hook),
		WithLogger(discard()),
	)

	err := d.Notify(context.Background(), []Event{sampleEvent()})
	if err == nil {
		t.Fatal("expected the console failure to surface")
	}
	var sendErr *ErrSendFailed
	if !errors.As(err, &sendErr) {
		t.Errorf("joined error should unwrap to ErrSendFailed, got %v", err)
	}
	if len(hook.calls) != 1 {
		t.Errorf("webhook should still deliver after console failed, called %d times", len(hook.calls))
	}
}

// TestDispatcherEmptyBatch verifies nothing is dispatched for an empty batch.
func TestDispatcherEmptyBatch(t *testing.T) {
	console := &fakeNotifier{name: "console"}
	d := NewDispatcher(WithConsole(console), WithLogger(discard()))

	if err := d.Notify(context.Background(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if len(console.calls) != 0 {
		t.Errorf("empty batch reached the console %d times", len(console.calls))
	}
}

// TestDispatcherDefaults verifies the zero-option dispatcher is usable and
// prints to a console connector in ModeBoth.
func TestDispatcherDefaults(t *testing.T) {
	d := NewDispatcher(WithLogger(discard()))
	if d.mode != ModeBoth {
		t.Errorf("default mode = %q, want %q", d.mode, ModeBoth)
	}
	if d.console == nil {
		t.Error("default console connector missing")
	}
	if !ValidMode(ModeConsole) || !ValidMode(ModeEmail) || !ValidMode(ModeBoth) {
		t.Error("known modes must validate")
	}
	if ValidMode("carrier-pigeon") {
		t.Error("unknown mode must not validate")
	}
}
