package profwatch

import "errors"

// ErrInvalidInput is returned when a profile URL or name fails validation.
var ErrInvalidInput = errors.New("profwatch: invalid input")

// ErrDuplicateProfile is returned when the identity is already on the roster.
var ErrDuplicateProfile = errors.New("profwatch: profile already watched")

// ErrProfileNotFound is returned when the identity is not on the roster.
var ErrProfileNotFound = errors.New("profwatch: profile not found")

// ErrQuotaExceeded is returned when a resource limit is reached.
var ErrQuotaExceeded = errors.New("profwatch: quota exceeded")

// ErrSessionNotReady is returned when the browser session cannot serve an
// authenticated page.
var ErrSessionNotReady = errors.New("profwatch: session not ready")

// ErrExtractionFailed is returned when a captured document yields no
// parseable snapshot.
var ErrExtractionFailed = errors.New("profwatch: extraction failed")
