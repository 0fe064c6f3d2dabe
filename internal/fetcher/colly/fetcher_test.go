package collyfetcher

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcherGetReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "archiver-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "yes", r.Header.Get("X-Trace"))
		w.Header().Set("X-Resp", "ok")
		_, _ = io.WriteString(w, "hello")
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "archiver-test", Timeout: time.Second})
	resp, err := f.Do(context.Background(), Request{
		URL:     srv.URL + "/page",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hello", string(resp.Body))
	require.Equal(t, "ok", resp.Headers.Get("X-Resp"))
	require.Equal(t, srv.URL+"/page", resp.URL)
}

func TestFetcherPostsForm(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "https://example.org/1", r.PostForm.Get("url"))
		assert.Equal(t, "on", r.PostForm.Get("capture_all"))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	resp, err := f.Do(context.Background(), Request{
		Method: http.MethodPost,
		URL:    srv.URL + "/save",
		Form:   url.Values{"url": {"https://example.org/1"}, "capture_all": {"on"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestFetcherPassesErrorStatusThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, "slow down")
	}))
	defer srv.Close()

	resp, err := New(Config{Timeout: time.Second}).Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "slow down", string(resp.Body))
}

func TestFetcherSendsBasicAuth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "reader" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New(Config{Timeout: time.Second})
	resp, err := f.Do(context.Background(), Request{URL: srv.URL, Auth: Credentials{User: "reader", Password: "s3cret"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = f.Do(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestFetcherHonoursCanceledContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := New(Config{Timeout: 5 * time.Second}).Do(ctx, Request{URL: srv.URL})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestFetcherTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: time.Second}).Do(context.Background(), Request{URL: addr})
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	req := Request{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
		Auth:    Credentials{User: "u", Password: "p"},
	}
	var result Response
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))
	require.Equal(t, "Basic dTpw", collyReq.Headers.Get("Authorization"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "https://example.com/final", result.URL)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestRedactDropsUserinfo(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://example.org/x", redact("https://user:pw@example.org/x"))
	require.Equal(t, "https://example.org/x", redact("https://example.org/x"))
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
