// Package collyfetcher performs single HTTP exchanges through a Colly collector.
// It is the only component that talks to the network; the repository client
// and the archive destinations build on it.
package collyfetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
)

const defaultTimeout = 30 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// Credentials are attached as HTTP basic auth and never inspected.
type Credentials struct {
	User     string
	Password string
}

// Empty reports whether no user name is present.
func (c Credentials) Empty() bool {
	return c.User == ""
}

// Request describes one HTTP exchange.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Form    url.Values
	Auth    Credentials
}

// Response is the outcome of an exchange that reached the server. Any status
// code is returned as-is; callers interpret it.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Doer is the interface consumed by the repository client and destinations.
type Doer interface {
	Do(ctx context.Context, request Request) (Response, error)
}

// Fetcher implements Doer using the Colly collector.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. Connections are pooled across requests.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
	}
}

// Do executes the request. A transport failure, a timeout, or a canceled
// context produce an error; HTTP error statuses do not.
func (f *Fetcher) Do(ctx context.Context, request Request) (Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(callCtx)
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	if err := f.runCollector(callCtx, collector, request); err != nil {
		return Response{}, err
	}
	if fetchErr != nil {
		return Response{}, fmt.Errorf("colly response failed: %w", fetchErr)
	}
	return result, nil
}

// buildCollector creates a fresh collector per exchange. Clones share the
// HTTP backend, so a per-call transport needs its own collector.
func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	if f.cfg.MaxBodySize > 0 {
		collector.MaxBodySize = f.cfg.MaxBodySize
	}
	collector.ParseHTTPErrorResponse = true
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.WithTransport(&contextTransport{base: f.transport, ctx: ctx})
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request Request,
	start time.Time,
	result *Response,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		finalURL := request.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		*result = Response{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, request Request) error {
	method := request.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	hdr := http.Header{}
	if len(request.Form) > 0 {
		body = strings.NewReader(request.Form.Encode())
		hdr.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if err := collector.Request(method, request.URL, body, nil, hdr); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("colly %s %s: %w", method, redact(request.URL), ctxErr)
		}
		return fmt.Errorf("colly %s %s: %w", method, redact(request.URL), err)
	}
	return nil
}

func copyHeaders(request Request, r *colly.Request) {
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
	if !request.Auth.Empty() {
		token := base64.StdEncoding.EncodeToString([]byte(request.Auth.User + ":" + request.Auth.Password))
		r.Headers.Set("Authorization", "Basic "+token)
	}
}

// redact drops any userinfo from a URL before it reaches an error message.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}
}
