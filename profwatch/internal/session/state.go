package session

import (
	"strings"

	"github.com/hazyhaar/vigie/extract"
)

// PageState classifies what LinkedIn served for a navigation.
type PageState int

const (
	// StateReady means the authenticated page chrome is present and the
	// document is worth extracting from.
	StateReady PageState = iota
	// StateAuthRequired means the session is gone: LinkedIn redirected to
	// the login form or the logged-out auth wall.
	StateAuthRequired
	// StateChallengeRequired means a checkpoint or captcha interstitial is
	// blocking the session.
	StateChallengeRequired
	// StateTransportError means navigation itself failed.
	StateTransportError
)

func (s PageState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateAuthRequired:
		return "auth_required"
	case StateChallengeRequired:
		return "challenge_required"
	case StateTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Markers for the authenticated navigation chrome. Any one of them is
// sufficient; LinkedIn ships different shells to different accounts.
var readyMarkers = []string{
	".global-nav__me",
	"nav.global-nav",
	`[data-control-name="nav.settings"]`,
}

// Markers for the login form.
var authMarkers = []string{
	"#username",
	"input[name='session_key']",
	"form.login__form",
}

// Classify inspects the final URL and document of a navigation and decides
// the page state. The URL is checked first: a checkpoint redirect serves a
// full document that would otherwise look like an auth wall.
func Classify(finalURL, markup string) PageState {
	lower := strings.ToLower(finalURL)
	if strings.Contains(lower, "checkpoint") || strings.Contains(lower, "challenge") {
		return StateChallengeRequired
	}
	if strings.Contains(lower, "/login") || strings.Contains(lower, "authwall") {
		return StateAuthRequired
	}

	doc, err := extract.Parse(markup)
	if err != nil {
		return StateTransportError
	}
	for _, sel := range readyMarkers {
		if extract.SelectFirst(doc, sel) != nil {
			return StateReady
		}
	}
	for _, sel := range authMarkers {
		if extract.SelectFirst(doc, sel) != nil {
			return StateAuthRequired
		}
	}
	if extract.SelectFirst(doc, "input[type='password']") != nil {
		return StateAuthRequired
	}

	// No nav chrome and no login form. Profile pages served to a valid
	// session still carry the nav shell, so treat its absence as a lost
	// session rather than risking extraction from an interstitial.
	return StateAuthRequired
}
