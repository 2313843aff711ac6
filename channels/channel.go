// Package channels delivers job-change notifications to their recipients.
//
// Each connector implements Notifier and renders the same ordered event
// batch its own way: console prints every change framed and in full, email
// collapses multiple changes into one digest message, webhook posts the
// batch as signed JSON. The Dispatcher fans one batch out to the connectors
// the delivery mode selects.
//
//	d := channels.NewDispatcher(
//		channels.WithMode(channels.ModeBoth),
//		channels.WithEmail(mailer),
//		channels.WithLogger(logger),
//	)
//	err := d.Notify(ctx, events)
//
// Events reach this package only after they are persisted; delivery failures
// are per-connector and never invent or drop events.
package channels

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Delivery modes. ModeBoth is the default.
const (
	ModeConsole = "console"
	ModeEmail   = "email"
	ModeBoth    = "both"
)

// Event is one detected job change, ready for delivery.
type Event struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`
	OldPosition string    `json:"old_position"`
	NewPosition string    `json:"new_position"`
	OldCompany  string    `json:"old_company"`
	NewCompany  string    `json:"new_company"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Notifier is a delivery connector. Notify receives the whole ordered batch
// and decides its own rendering; it must not reorder the events.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, events []Event) error
}

const ruleWidth = 60

var (
	rule     = strings.Repeat("=", ruleWidth)
	dashRule = strings.Repeat("-", ruleWidth)
)

// FormatEvent renders one change as the canonical alert text shared by the
// console and email connectors.
func FormatEvent(ev Event) string {
	detected := "Unknown"
	if !ev.DetectedAt.IsZero() {
		detected = ev.DetectedAt.Format(time.RFC3339)
	}
	return strings.TrimSpace(fmt.Sprintf(`
🔔 JOB CHANGE DETECTED!

Name: %s
Profile: %s

PREVIOUS POSITION:
  Title: %s
  Company: %s

NEW POSITION:
  Title: %s
  Company: %s

Detected: %s`,
		orUnknown(ev.DisplayName), ev.Identity,
		orUnknown(ev.OldPosition), orUnknown(ev.OldCompany),
		orUnknown(ev.NewPosition), orUnknown(ev.NewCompany),
		detected))
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
