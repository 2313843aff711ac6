package profwatch

import (
	"fmt"
	"net/url"
	"strings"
)

// ProfileURLPrefix is the only identity namespace the monitor accepts.
const ProfileURLPrefix = "https://www.linkedin.com/in/"

// NormalizeProfileURL canonicalizes a profile URL into its identity form:
// scheme and host lowercased, query and fragment dropped, sub-page paths
// (details, overlays) reduced to the handle, no trailing slash. Two URLs
// naming the same profile normalize to the same identity, which is what
// dedup and the storage key rely on.
func NormalizeProfileURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty profile URL", ErrInvalidInput)
	}
	if len(raw) > maxURLLen {
		return "", fmt.Errorf("%w: url exceeds %d characters", ErrInvalidInput, maxURLLen)
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Host)
	if host == "linkedin.com" {
		host = "www.linkedin.com"
	}
	if scheme != "https" || host != "www.linkedin.com" {
		return "", fmt.Errorf("%w: profile URL must start with %s", ErrInvalidInput, ProfileURLPrefix)
	}

	rest, ok := strings.CutPrefix(parsed.Path, "/in/")
	if !ok {
		return "", fmt.Errorf("%w: profile URL must start with %s", ErrInvalidInput, ProfileURLPrefix)
	}
	handle := rest
	if i := strings.IndexByte(handle, '/'); i >= 0 {
		handle = handle[:i]
	}
	if handle == "" {
		return "", fmt.Errorf("%w: profile URL has no handle", ErrInvalidInput)
	}

	return ProfileURLPrefix + handle, nil
}
