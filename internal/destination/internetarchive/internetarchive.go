// Package internetarchive submits URLs to the Wayback Machine and probes it
// for existing captures through its link-format TimeMap endpoint.
package internetarchive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/eprints-archiver/internal/destination"
	collyfetcher "github.com/JakeFAU/eprints-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/eprints-archiver/internal/retry"
)

// Name is the registry key.
const Name = "internetarchive"

// Label is the display name.
const Label = "Internet Archive"

const (
	defaultTimeMapURL = "https://web.archive.org/web/timemap/link/"
	defaultSaveURL    = "https://web.archive.org/save/"
)

// Option customizes an Adapter.
type Option func(*Adapter)

// WithEndpoints overrides the TimeMap and save prefixes. Each prefix is joined
// directly with the target URL.
func WithEndpoints(timeMapPrefix, savePrefix string) Option {
	return func(a *Adapter) {
		a.timeMapURL = timeMapPrefix
		a.saveURL = savePrefix
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

// Adapter talks to the Wayback Machine.
type Adapter struct {
	doer       collyfetcher.Doer
	timeMapURL string
	saveURL    string
	logger     *zap.Logger
}

var _ destination.Adapter = (*Adapter)(nil)

// New builds an Adapter on top of doer.
func New(doer collyfetcher.Doer, opts ...Option) *Adapter {
	a := &Adapter{
		doer:       doer,
		timeMapURL: defaultTimeMapURL,
		saveURL:    defaultSaveURL,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.Named(Name)
	return a
}

// Descriptor reports the Wayback Machine's limits. The save endpoint accepts
// roughly fifteen requests a minute from one client.
func (a *Adapter) Descriptor() destination.Descriptor {
	return destination.Descriptor{
		Name:        Name,
		Label:       Label,
		Endpoints:   []string{a.timeMapURL, a.saveURL},
		MaxInFlight: 1,
		CanProbe:    true,
		Retry: retry.Policy{
			MaxRetries: 4,
			BaseDelay:  5 * time.Second,
			MaxDelay:   2 * time.Minute,
		},
		RateLimit: retry.Policy{
			MaxRetries: 4,
			BaseDelay:  10 * time.Second,
			MaxDelay:   5 * time.Minute,
		},
		Requests: 15,
		Window:   time.Minute,
	}
}

// Probe fetches the TimeMap for target. Any memento means Present. A body that
// does not parse and lists no mementos is logged and treated as Absent.
func (a *Adapter) Probe(ctx context.Context, target string) (destination.ProbeResult, error) {
	resp, err := a.doer.Do(ctx, collyfetcher.Request{
		Method: http.MethodGet,
		URL:    a.timeMapURL + uniform(target),
	})
	if err != nil {
		return destination.Absent, fmt.Errorf("probe %s: %w", target, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent:
		return destination.Absent, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return destination.Absent, fmt.Errorf("probe %s: %w", target, destination.ErrRateLimited)
	case resp.StatusCode >= 300:
		return destination.Absent, fmt.Errorf("probe %s: unexpected status %d", target, resp.StatusCode)
	}

	body := strings.TrimSpace(string(resp.Body))
	if body == "" {
		return destination.Absent, nil
	}
	tm, perr := destination.ParseTimeMap(body)
	if len(tm.Mementos) > 0 {
		a.logger.Debug("mementos found", zap.String("url", target), zap.Int("count", len(tm.Mementos)))
		return destination.Present, nil
	}
	if perr != nil {
		a.logger.Warn("unparsable timemap", zap.String("url", target), zap.Error(perr))
	}
	return destination.Absent, nil
}

// Submit asks the save endpoint to capture target and its embedded resources.
func (a *Adapter) Submit(ctx context.Context, target string) destination.Attempt {
	form := url.Values{}
	form.Set("url", target)
	form.Set("capture_all", "on")

	start := time.Now()
	resp, err := a.doer.Do(ctx, collyfetcher.Request{
		Method: http.MethodPost,
		URL:    a.saveURL + uniform(target),
		Form:   form,
	})
	attempt := destination.Attempt{
		Verdict:    destination.Classify(resp.StatusCode, err),
		StatusCode: resp.StatusCode,
		Err:        err,
		Duration:   time.Since(start),
	}
	if err == nil && attempt.Verdict != destination.Accepted {
		attempt.Err = errors.New(http.StatusText(resp.StatusCode))
	}
	a.logger.Debug("save requested",
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Stringer("verdict", attempt.Verdict),
	)
	return attempt
}

// uniform makes target safe to append to an endpoint path.
func uniform(target string) string {
	return strings.ReplaceAll(strings.TrimSpace(target), " ", "_")
}
