package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Dispatcher fans a change batch out to the configured connectors. Console
// and email are selected by mode; the webhook fires whenever one is
// configured, independent of mode.
type Dispatcher struct {
	mode    string
	console Notifier
	email   Notifier
	webhook Notifier
	logger  *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMode selects which of console/email deliver. Unrecognized values fall
// back to ModeBoth.
func WithMode(mode string) DispatcherOption {
	return func(d *Dispatcher) { d.mode = mode }
}

// WithConsole replaces the default stdout console connector.
func WithConsole(n Notifier) DispatcherOption {
	return func(d *Dispatcher) { d.console = n }
}

// WithEmail sets the email connector.
func WithEmail(n Notifier) DispatcherOption {
	return func(d *Dispatcher) { d.email = n }
}

// WithWebhook sets the webhook connector.
func WithWebhook(n Notifier) DispatcherOption {
	return func(d *Dispatcher) { d.webhook = n }
}

// WithLogger sets a custom logger for the dispatcher.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher builds a dispatcher. Without options it prints to stdout in
// ModeBoth.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		mode:   ModeBoth,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.console == nil {
		d.console = NewConsole(nil)
	}
	return d
}

// ValidMode reports whether mode names a known delivery mode.
func ValidMode(mode string) bool {
	switch mode {
	case ModeConsole, ModeEmail, ModeBoth:
		return true
	}
	return false
}

func (d *Dispatcher) Name() string { return "dispatcher" }

// Notify delivers the batch to every selected connector. One connector
// failing does not stop the others; failures are logged and returned joined.
func (d *Dispatcher) Notify(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	var errs []error
	for _, n := range d.targets() {
		if err := n.Notify(ctx, events); err != nil {
			d.logger.Error("channels: delivery failed",
				"channel", n.Name(), "count", len(events), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		d.logger.Debug("channels: delivered", "channel", n.Name(), "count", len(events))
	}
	return errors.Join(errs...)
}

// targets resolves the connector set for the current mode. A connector that
// reports itself disabled is skipped rather than failed, so a console-only
// setup running in ModeBoth stays quiet about the missing SMTP account.
func (d *Dispatcher) targets() []Notifier {
	var ts []Notifier
	switch d.mode {
	case ModeConsole:
		ts = append(ts, d.console)
	case ModeEmail:
		ts = d.appendEnabled(ts, d.email)
	default:
		ts = append(ts, d.console)
		ts = d.appendEnabled(ts, d.email)
	}
	if d.webhook != nil {
		ts = append(ts, d.webhook)
	}
	return ts
}

func (d *Dispatcher) appendEnabled(ts []Notifier, n Notifier) []Notifier {
	if n == nil {
		return ts
	}
	if e, ok := n.(interface{ Enabled() bool }); ok && !e.Enabled() {
		d.logger.Debug("channels: connector disabled, skipping", "channel", n.Name())
		return ts
	}
	return append(ts, n)
}
