package channels

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// EmailConfig holds the SMTP settings for the email connector.
type EmailConfig struct {
	// Host and Port of the SMTP server. smtp.SendMail upgrades the
	// connection with STARTTLS when the server offers it.
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// Username and Password authenticate against Host.
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"-" json:"-"`

	// From defaults to Username.
	From string `yaml:"from" json:"from"`

	// To is the notification recipient. Email delivery is disabled while
	// Username, Password, or To is empty.
	To string `yaml:"to" json:"to"`

	// HTML switches the body to an HTML rendering. Profile-derived
	// strings are stripped of markup before interpolation.
	HTML bool `yaml:"html" json:"html"`
}

func (c *EmailConfig) defaults() {
	if c.Port <= 0 {
		c.Port = 587
	}
	if c.From == "" {
		c.From = c.Username
	}
}

// Email delivers alerts over SMTP: one message for a single change, a digest
// for several.
type Email struct {
	cfg    EmailConfig
	logger *slog.Logger
	policy *bluemonday.Policy

	// send is swapped out in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmail creates the email connector. A connector without credentials is
// valid but disabled; it reports ErrNotConfigured on delivery.
func NewEmail(cfg EmailConfig, logger *slog.Logger) *Email {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	e := &Email{
		cfg:    cfg,
		logger: logger,
		policy: bluemonday.StrictPolicy(),
		send:   smtp.SendMail,
	}
	if !e.Enabled() {
		logger.Warn("channels: email not configured, only console notifications will work")
	}
	return e
}

// Enabled reports whether the SMTP credentials and recipient are all set.
func (e *Email) Enabled() bool {
	return e.cfg.Username != "" && e.cfg.Password != "" && e.cfg.To != ""
}

func (e *Email) Name() string { return "email" }

// Notify sends one message for a single change, or a digest enumerating the
// whole batch.
func (e *Email) Notify(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if !e.Enabled() {
		return &ErrNotConfigured{Channel: e.Name(), Missing: "smtp credentials or recipient"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var subject, body string
	if len(events) == 1 {
		ev := events[0]
		subject = fmt.Sprintf("LinkedIn Job Change: %s", orUnknown(ev.DisplayName))
		body = e.renderSingle(ev)
	} else {
		subject = fmt.Sprintf("LinkedIn Job Changes Digest - %d changes detected", len(events))
		body = e.renderDigest(events)
	}

	if err := e.deliver(subject, body); err != nil {
		return err
	}
	if len(events) == 1 {
		e.logger.Info("channels: email sent", "name", events[0].DisplayName)
	} else {
		e.logger.Info("channels: digest email sent", "count", len(events))
	}
	return nil
}

// TestMessage sends a configuration self-test mail.
func (e *Email) TestMessage(ctx context.Context) error {
	if !e.Enabled() {
		return &ErrNotConfigured{Channel: e.Name(), Missing: "smtp credentials or recipient"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body := fmt.Sprintf(`This is a test email from LinkedIn Job Change Monitor.

Configuration:
- SMTP Server: %s:%d
- From: %s
- To: %s

Time: %s

If you received this email, your notifications are working correctly!
`, e.cfg.Host, e.cfg.Port, e.cfg.Username, e.cfg.To, time.Now().Format(time.RFC3339))

	if e.cfg.HTML {
		body = "<pre>" + e.policy.Sanitize(body) + "</pre>"
	}
	if err := e.deliver("LinkedIn Monitor - Test Email", body); err != nil {
		return err
	}
	e.logger.Info("channels: test email sent", "to", e.cfg.To)
	return nil
}

func (e *Email) renderSingle(ev Event) string {
	if e.cfg.HTML {
		return e.renderHTMLEvents([]Event{ev})
	}
	return FormatEvent(ev)
}

func (e *Email) renderDigest(events []Event) string {
	if e.cfg.HTML {
		return e.renderHTMLEvents(events)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Detected %d job changes:\n\n", len(events))
	b.WriteString(rule + "\n\n")
	for i, ev := range events {
		fmt.Fprintf(&b, "Change #%d:\n", i+1)
		b.WriteString(FormatEvent(ev))
		b.WriteString("\n" + dashRule + "\n\n")
	}
	return b.String()
}

// renderHTMLEvents builds the HTML body. Every profile-derived string passes
// through the strict policy; scraped markup must never execute in a mail
// client.
func (e *Email) renderHTMLEvents(events []Event) string {
	clean := e.policy.Sanitize

	var b strings.Builder
	b.WriteString("<html><body>\n")
	if len(events) > 1 {
		fmt.Fprintf(&b, "<h2>Detected %d job changes</h2>\n", len(events))
	}
	for i, ev := range events {
		detected := "Unknown"
		if !ev.DetectedAt.IsZero() {
			detected = ev.DetectedAt.Format(time.RFC3339)
		}
		if len(events) > 1 {
			fmt.Fprintf(&b, "<h3>Change #%d</h3>\n", i+1)
		} else {
			b.WriteString("<h3>🔔 Job change detected</h3>\n")
		}
		fmt.Fprintf(&b, "<p><strong>Name:</strong> %s<br>\n<strong>Profile:</strong> %s</p>\n",
			clean(orUnknown(ev.DisplayName)), clean(ev.Identity))
		fmt.Fprintf(&b, "<p><strong>Previous position:</strong> %s at %s<br>\n<strong>New position:</strong> %s at %s</p>\n",
			clean(orUnknown(ev.OldPosition)), clean(orUnknown(ev.OldCompany)),
			clean(orUnknown(ev.NewPosition)), clean(orUnknown(ev.NewCompany)))
		fmt.Fprintf(&b, "<p><em>Detected: %s</em></p>\n", detected)
		if i < len(events)-1 {
			b.WriteString("<hr>\n")
		}
	}
	b.WriteString("</body></html>\n")
	return b.String()
}

func (e *Email) deliver(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)

	contentType := "text/plain; charset=UTF-8"
	if e.cfg.HTML {
		contentType = "text/html; charset=UTF-8"
	}
	msg := []byte(fmt.Sprintf("To: %s\r\n"+
		"From: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: %s\r\n"+
		"\r\n"+
		"%s\r\n", e.cfg.To, e.cfg.From, subject, contentType, body))

	if err := e.send(addr, auth, e.cfg.From, []string{e.cfg.To}, msg); err != nil {
		return &ErrSendFailed{Channel: e.Name(), Cause: err}
	}
	return nil
}
