package eprints

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/JakeFAU/eprints-archiver/internal/urlcheck"
)

// NormalizeAPIURL turns user input into the REST base URL. A missing scheme
// defaults to https, a trailing /eprint is removed and /rest is appended when
// absent.
func NormalizeAPIURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("normalize api url: %w", urlcheck.ErrInvalidURL)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := urlcheck.Parse(s)
	if err != nil {
		return "", fmt.Errorf("normalize api url: %w", err)
	}
	u.RawQuery = ""
	u.Fragment = ""
	p := strings.TrimRight(u.Path, "/")
	p = strings.TrimSuffix(p, "/eprint")
	if !strings.HasSuffix(p, "/rest") {
		p += "/rest"
	}
	u.Path = p
	return u.String(), nil
}

// Site derives the public page URLs of a repository from its REST base.
type Site struct {
	scheme string
	host   string
}

// NewSite parses a normalized REST base URL.
func NewSite(apiURL string) (Site, error) {
	u, err := urlcheck.Parse(apiURL)
	if err != nil {
		return Site{}, fmt.Errorf("parse api url: %w", err)
	}
	return Site{scheme: strings.ToLower(u.Scheme), host: u.Host}, nil
}

// Host returns the repository host, including any port.
func (s Site) Host() string { return s.host }

// Root returns the repository home page.
func (s Site) Root() string {
	return s.scheme + "://" + s.host + "/"
}

// BrowseIndex returns the page listing the browse categories.
func (s Site) BrowseIndex() string {
	return s.scheme + "://" + s.host + "/view/"
}

// CanonicalShort returns the short form of a record's public URL.
func (s Site) CanonicalShort(id int) string {
	return s.scheme + "://" + s.host + "/" + strconv.Itoa(id)
}

// CanonicalLong returns the long form of a record's public URL.
func (s Site) CanonicalLong(id int) string {
	return s.scheme + "://" + s.host + "/id/eprint/" + strconv.Itoa(id)
}

// LeafURL returns the per-record page under a browse category.
func (s Site) LeafURL(category string, id int) string {
	return s.scheme + "://" + s.host + "/view/" + url.PathEscape(category) + "/" + strconv.Itoa(id) + ".html"
}

// OnSite reports whether u lives on this repository's host.
func (s Site) OnSite(u *url.URL) bool {
	return u != nil && strings.EqualFold(u.Host, s.host)
}
