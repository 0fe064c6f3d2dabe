// Package eprints is a read-only client for the EPrints REST interface and
// the public pages of an EPrints repository.
package eprints

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/eprints-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/eprints-archiver/internal/retry"
)

// Record is the subset of an EPrints record the archiver needs.
type Record struct {
	ID          int
	Modified    time.Time
	Status      string
	OfficialURL string
	Exists      bool
}

// Client talks to one repository.
type Client struct {
	base    string
	site    Site
	doer    collyfetcher.Doer
	auth    collyfetcher.Credentials
	policy  retry.Policy
	sleeper retry.Sleeper
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithCredentials attaches login credentials to REST calls.
func WithCredentials(user, password string) Option {
	return func(c *Client) {
		c.auth = collyfetcher.Credentials{User: user, Password: password}
	}
}

// WithRetryPolicy overrides the internal retry budget for network errors.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithSleeper replaces the backoff sleeper.
func WithSleeper(s retry.Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleeper = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for the given API URL, which is normalized first.
func New(apiURL string, doer collyfetcher.Doer, opts ...Option) (*Client, error) {
	if doer == nil {
		return nil, errors.New("eprints client requires a fetcher")
	}
	base, err := NormalizeAPIURL(apiURL)
	if err != nil {
		return nil, err
	}
	site, err := NewSite(base)
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:    base,
		site:    site,
		doer:    doer,
		policy:  retry.DefaultPolicy(),
		sleeper: retry.TimerSleeper{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized REST base.
func (c *Client) BaseURL() string { return c.base }

// Site returns the public URL helpers for the repository.
func (c *Client) Site() Site { return c.site }

// FetchIndex lists every record id the server knows about, ascending.
func (c *Client) FetchIndex(ctx context.Context) ([]int, error) {
	target := c.base + "/eprint"
	resp, err := c.get(ctx, http.MethodGet, target, true)
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch index: %w: status %d", ErrProtocol, resp.StatusCode)
	}
	ids, err := parseIndex(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch index: %w", err)
	}
	c.logger.Debug("index fetched", zap.Int("records", len(ids)))
	return ids, nil
}

// parseIndex extracts ids from the XHTML listing, whose anchors point at
// "N.xml" for each record.
func parseIndex(body []byte) ([]int, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty index", ErrProtocol)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse index: %v", ErrProtocol, err)
	}
	seen := map[int]struct{}{}
	var ids []int
	var bad string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if !strings.HasSuffix(href, ".xml") {
			return
		}
		id, convErr := strconv.Atoi(strings.TrimSuffix(href, ".xml"))
		if convErr != nil || id <= 0 {
			bad = href
			return
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	})
	if len(ids) == 0 {
		if bad != "" {
			return nil, fmt.Errorf("%w: unexpected index entry %q", ErrProtocol, bad)
		}
		return nil, fmt.Errorf("%w: no records listed", ErrProtocol)
	}
	sort.Ints(ids)
	return ids, nil
}

// FetchRecord retrieves one record. Records the server refuses or does not
// have are reported as ErrNotFound.
func (c *Client) FetchRecord(ctx context.Context, id int) (Record, error) {
	target := c.base + "/eprint/" + strconv.Itoa(id) + ".xml"
	resp, err := c.get(ctx, http.MethodGet, target, true)
	if err != nil {
		return Record{ID: id}, fmt.Errorf("fetch record %d: %w", id, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return Record{ID: id}, fmt.Errorf("fetch record %d: %w", id, ErrNotFound)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return Record{ID: id}, fmt.Errorf("fetch record %d: access forbidden: %w", id, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return Record{ID: id}, fmt.Errorf("fetch record %d: %w: status %d", id, ErrProtocol, resp.StatusCode)
	}
	rec, err := parseRecord(resp.Body)
	if err != nil {
		return Record{ID: id}, fmt.Errorf("fetch record %d: %w", id, err)
	}
	rec.ID = id
	return rec, nil
}

type recordDocument struct {
	EPrints []recordXML `xml:"eprint"`
}

type recordXML struct {
	LastMod     string `xml:"lastmod"`
	Status      string `xml:"eprint_status"`
	OfficialURL string `xml:"official_url"`
}

// parseRecord decodes EPrints XML. Tags are matched by local name so the
// http://eprints.org/ep2/data/2.0 namespace need not be spelled out.
func parseRecord(body []byte) (Record, error) {
	var doc recordDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return Record{}, fmt.Errorf("%w: decode record: %v", ErrProtocol, err)
	}
	if len(doc.EPrints) == 0 {
		return Record{}, fmt.Errorf("%w: record document has no eprint element", ErrProtocol)
	}
	raw := doc.EPrints[0]
	rec := Record{
		Status:      strings.TrimSpace(raw.Status),
		OfficialURL: strings.TrimSpace(raw.OfficialURL),
		Exists:      true,
	}
	if lm := strings.TrimSpace(raw.LastMod); lm != "" {
		modified, err := dateparse.ParseIn(lm, time.UTC)
		if err != nil {
			return Record{}, fmt.Errorf("%w: lastmod %q: %v", ErrProtocol, lm, err)
		}
		rec.Modified = modified
	}
	return rec, nil
}

// FetchPage returns the body of a public page. A 404 or 410 reports the page
// as absent without an error.
func (c *Client) FetchPage(ctx context.Context, pageURL string) ([]byte, bool, error) {
	resp, err := c.get(ctx, http.MethodGet, pageURL, false)
	if err != nil {
		return nil, false, fmt.Errorf("fetch page %s: %w", pageURL, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return nil, false, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, false, fmt.Errorf("fetch page %s: %w: status %d", pageURL, ErrProtocol, resp.StatusCode)
	}
	return resp.Body, true, nil
}

// Exists checks a public page with a HEAD request.
func (c *Client) Exists(ctx context.Context, pageURL string) (bool, error) {
	resp, err := c.get(ctx, http.MethodHead, pageURL, false)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", pageURL, err)
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 400, nil
}

// get performs one call, retrying transport failures and 5xx responses.
func (c *Client) get(ctx context.Context, method, target string, withAuth bool) (collyfetcher.Response, error) {
	req := collyfetcher.Request{Method: method, URL: target}
	if withAuth {
		req.Auth = c.auth
	}
	var resp collyfetcher.Response
	attempt := 0
	err := retry.Do(ctx, c.policy, c.sleeper, retryable, func(ctx context.Context) error {
		attempt++
		r, err := c.doer.Do(ctx, req)
		if err != nil {
			c.logger.Debug("request failed",
				zap.String("method", method),
				zap.String("url", target),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		if r.StatusCode >= 500 {
			c.logger.Debug("server error",
				zap.String("url", target),
				zap.Int("status", r.StatusCode),
				zap.Int("attempt", attempt),
			)
			return fmt.Errorf("%w: %s %s returned %d", ErrNetwork, method, target, r.StatusCode)
		}
		resp = r
		return nil
	})
	if err != nil {
		return collyfetcher.Response{}, err
	}
	return resp, nil
}

func retryable(err error) bool {
	return errors.Is(err, ErrNetwork) && !errors.Is(err, context.Canceled)
}
