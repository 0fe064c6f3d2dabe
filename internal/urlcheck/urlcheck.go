// Package urlcheck validates candidate archive targets.
package urlcheck

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// ErrInvalidURL marks a candidate that is not an absolute http(s) URL with a host.
var ErrInvalidURL = errors.New("invalid url")

// Parse returns the parsed URL when raw is an absolute HTTP/HTTPS URL with a
// non-empty host. Surrounding whitespace is ignored.
func Parse(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty string", ErrInvalidURL)
	}
	if strings.ContainsAny(trimmed, " \t\r\n") {
		return nil, fmt.Errorf("%w: %q contains whitespace", ErrInvalidURL, trimmed)
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: %q is not http(s)", ErrInvalidURL, trimmed)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("%w: %q has no host", ErrInvalidURL, trimmed)
	}
	if !plausibleHost(u.Hostname()) {
		return nil, fmt.Errorf("%w: %q has a malformed host", ErrInvalidURL, trimmed)
	}
	return u, nil
}

// Valid reports whether raw passes Parse.
func Valid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// plausibleHost rejects hosts that can never resolve. Unicode hosts are
// checked in their punycode form and one trailing root dot is allowed. IPv6
// literals pass.
func plausibleHost(host string) bool {
	if strings.Contains(host, ":") {
		return true
	}
	ascii, err := idna.Lookup.ToASCII(strings.TrimSuffix(host, "."))
	if err != nil {
		return false
	}
	for _, label := range strings.Split(ascii, ".") {
		if label == "" || strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return false
		}
		for _, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			default:
				return false
			}
		}
	}
	return true
}
