package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// saveCookies snapshots the page's cookies to a JSON state file so the next
// run can skip the credential login.
func saveCookies(page *rod.Page, path string) error {
	res, err := proto.NetworkGetCookies{}.Call(page)
	if err != nil {
		return fmt.Errorf("session: get cookies: %w", err)
	}

	data, err := json.MarshalIndent(res.Cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal cookies: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("session: mkdir: %w", err)
	}
	// Cookies are credentials; keep the file owner-only.
	return os.WriteFile(path, data, 0o600)
}

// loadCookies restores cookies from the state file into the page. A missing
// file is not an error; it returns the number of cookies restored.
func loadCookies(page *rod.Page, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("session: read cookie file: %w", err)
	}

	var cookies []*proto.NetworkCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return 0, fmt.Errorf("session: parse cookie file: %w", err)
	}
	if len(cookies) == 0 {
		return 0, nil
	}

	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite,
			Priority: c.Priority,
		})
	}
	if err := page.SetCookies(params); err != nil {
		return 0, fmt.Errorf("session: set cookies: %w", err)
	}
	return len(params), nil
}
