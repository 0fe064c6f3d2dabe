// Package archivetoday submits URLs to archive.today, which answers under a
// rotating set of mirror domains and offers no lookup API.
package archivetoday

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/eprints-archiver/internal/destination"
	collyfetcher "github.com/JakeFAU/eprints-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/eprints-archiver/internal/retry"
)

// Name is the registry key.
const Name = "archive.today"

// Label is the display name.
const Label = "Archive.today"

// UserAgent is sent on every request; the service rejects obvious robots.
const UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/83.0.4103.116 Safari/537.36"

// DefaultHosts are the mirror domains tried in order.
var DefaultHosts = []string{
	"archive.li",
	"archive.vn",
	"archive.fo",
	"archive.md",
	"archive.ph",
	"archive.today",
	"archive.is",
}

// Option customizes an Adapter.
type Option func(*Adapter)

// WithHosts replaces the mirror list.
func WithHosts(hosts ...string) Option {
	return func(a *Adapter) {
		a.hosts = append([]string(nil), hosts...)
	}
}

// WithScheme sets the scheme used to reach the mirrors.
func WithScheme(scheme string) Option {
	return func(a *Adapter) {
		a.scheme = scheme
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Adapter talks to archive.today.
type Adapter struct {
	doer   collyfetcher.Doer
	hosts  []string
	scheme string
	logger *zap.Logger

	mu       sync.Mutex
	resolved bool
	host     string
	submitID string
}

var _ destination.Adapter = (*Adapter)(nil)

// New builds an Adapter on top of doer.
func New(doer collyfetcher.Doer, opts ...Option) *Adapter {
	a := &Adapter{
		doer:   doer,
		hosts:  DefaultHosts,
		scheme: "https",
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named("archivetoday")
	return a
}

// Descriptor reports archive.today's limits. It tolerates only a handful of
// submissions a minute and punishes bursts with long 503 spells.
func (a *Adapter) Descriptor() destination.Descriptor {
	endpoints := make([]string, len(a.hosts))
	for i, h := range a.hosts {
		endpoints[i] = a.scheme + "://" + h + "/submit/"
	}
	return destination.Descriptor{
		Name:        Name,
		Label:       Label,
		Endpoints:   endpoints,
		MaxInFlight: 1,
		CanProbe:    false,
		Retry: retry.Policy{
			MaxRetries: 4,
			BaseDelay:  15 * time.Second,
			MaxDelay:   5 * time.Minute,
		},
		RateLimit: retry.Policy{
			MaxRetries: 4,
			BaseDelay:  time.Minute,
			MaxDelay:   10 * time.Minute,
		},
		Requests: 4,
		Window:   time.Minute,
	}
}

// Probe always reports Unsupported.
func (a *Adapter) Probe(context.Context, string) (destination.ProbeResult, error) {
	return destination.Unsupported, nil
}

// Submit posts target to the live mirror. A 503 is the service's rate-limit
// signal. When no mirror responds the attempt is Unavailable.
func (a *Adapter) Submit(ctx context.Context, target string) destination.Attempt {
	start := time.Now()
	host, submitID, err := a.resolve(ctx)
	if err != nil {
		return destination.Attempt{
			Verdict:  destination.Classify(0, err),
			Err:      err,
			Duration: time.Since(start),
		}
	}

	form := url.Values{}
	form.Set("submitid", submitID)
	form.Set("url", target)
	resp, err := a.doer.Do(ctx, collyfetcher.Request{
		Method:  http.MethodPost,
		URL:     a.scheme + "://" + host + "/submit/",
		Headers: http.Header{"User-Agent": []string{UserAgent}},
		Form:    form,
	})
	attempt := destination.Attempt{
		Verdict:    destination.Classify(resp.StatusCode, err),
		StatusCode: resp.StatusCode,
		Err:        err,
		Duration:   time.Since(start),
	}
	if err == nil && resp.StatusCode == http.StatusServiceUnavailable {
		attempt.Verdict = destination.RateLimited
		attempt.Err = destination.ErrRateLimited
	}
	if attempt.Err == nil && attempt.Verdict != destination.Accepted {
		attempt.Err = errors.New(http.StatusText(resp.StatusCode))
	}
	if attempt.Verdict == destination.Accepted {
		a.logger.Debug("save requested",
			zap.String("url", target),
			zap.String("saved", savedLocation(resp)),
		)
	}
	return attempt
}

// resolve finds a responsive mirror and its submit token once per adapter.
func (a *Adapter) resolve(ctx context.Context) (string, string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resolved {
		if a.host == "" {
			return "", "", fmt.Errorf("%s: no responsive host: %w", Name, destination.ErrUnavailable)
		}
		return a.host, a.submitID, nil
	}

	for _, host := range a.hosts {
		resp, err := a.doer.Do(ctx, collyfetcher.Request{
			Method:  http.MethodGet,
			URL:     a.scheme + "://" + host + "/",
			Headers: http.Header{"User-Agent": []string{UserAgent}},
		})
		if err != nil {
			if ctx.Err() != nil {
				return "", "", fmt.Errorf("%s: find host: %w", Name, ctx.Err())
			}
			a.logger.Debug("host unreachable", zap.String("host", host), zap.Error(err))
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			a.logger.Debug("host refused", zap.String("host", host), zap.Int("status", resp.StatusCode))
			continue
		}
		id, err := submitID(resp.Body)
		if err != nil {
			a.logger.Warn("host page has no submit form", zap.String("host", host), zap.Error(err))
			continue
		}
		a.logger.Info("using host", zap.String("host", host))
		a.resolved, a.host, a.submitID = true, host, id
		return host, id, nil
	}
	a.resolved = true
	return "", "", fmt.Errorf("%s: no responsive host: %w", Name, destination.ErrUnavailable)
}

// submitID extracts the hidden token from the mirror's front page form.
func submitID(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse front page: %w", err)
	}
	id, ok := doc.Find(`input[name="submitid"]`).First().Attr("value")
	if !ok || id == "" {
		return "", errors.New("submitid not found")
	}
	return id, nil
}

// savedLocation reports where the service says the capture will live.
func savedLocation(resp collyfetcher.Response) string {
	if refresh := resp.Headers.Get("Refresh"); refresh != "" {
		if _, after, ok := strings.Cut(refresh, ";url="); ok {
			return after
		}
	}
	if loc := resp.Headers.Get("Location"); loc != "" {
		return loc
	}
	return resp.URL
}
