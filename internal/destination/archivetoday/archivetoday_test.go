package archivetoday

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/eprints-archiver/internal/destination"
	collyfetcher "github.com/JakeFAU/eprints-archiver/internal/fetcher/colly"
)

const frontPage = `<html><body><form id="submiturl" action="/submit/" method="GET">
<input type="hidden" name="submitid" value="tok123"/>
<input type="text" name="url"/></form></body></html>`

// hostDoer answers per URL; unknown URLs fail like an unreachable host.
type hostDoer struct {
	mu       sync.Mutex
	routes   map[string][]collyfetcher.Response
	requests []collyfetcher.Request
}

func (d *hostDoer) Do(_ context.Context, req collyfetcher.Request) (collyfetcher.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	queue := d.routes[req.Method+" "+req.URL]
	if len(queue) == 0 {
		return collyfetcher.Response{}, errors.New("dial tcp: no such host")
	}
	resp := queue[0]
	if len(queue) > 1 {
		d.routes[req.Method+" "+req.URL] = queue[1:]
	}
	return resp, nil
}

func reply(status int, body string) collyfetcher.Response {
	return collyfetcher.Response{StatusCode: status, Body: []byte(body), Headers: http.Header{}}
}

func TestSubmitFindsLiveMirror(t *testing.T) {
	t.Parallel()

	doer := &hostDoer{routes: map[string][]collyfetcher.Response{
		"GET https://one.test/":           {reply(http.StatusServiceUnavailable, "")},
		"GET https://three.test/":         {reply(http.StatusOK, frontPage)},
		"POST https://three.test/submit/": {reply(http.StatusOK, ""), reply(http.StatusOK, "")},
	}}
	a := New(doer, WithHosts("one.test", "two.test", "three.test"))

	first := a.Submit(context.Background(), "https://repo.example/1")
	require.Equal(t, destination.Accepted, first.Verdict)
	require.NoError(t, first.Err)
	second := a.Submit(context.Background(), "https://repo.example/2")
	require.Equal(t, destination.Accepted, second.Verdict)

	// Three root probes, then two submissions with no further host lookups.
	require.Len(t, doer.requests, 5)
	post := doer.requests[3]
	require.Equal(t, http.MethodPost, post.Method)
	require.Equal(t, "tok123", post.Form.Get("submitid"))
	require.Equal(t, "https://repo.example/1", post.Form.Get("url"))
	require.Equal(t, UserAgent, post.Headers.Get("User-Agent"))
	require.Equal(t, "https://repo.example/2", doer.requests[4].Form.Get("url"))
}

func TestSubmitTreats503AsRateLimit(t *testing.T) {
	t.Parallel()

	doer := &hostDoer{routes: map[string][]collyfetcher.Response{
		"GET https://one.test/":         {reply(http.StatusOK, frontPage)},
		"POST https://one.test/submit/": {reply(http.StatusServiceUnavailable, "")},
	}}
	attempt := New(doer, WithHosts("one.test")).Submit(context.Background(), "https://repo.example/1")
	require.Equal(t, destination.RateLimited, attempt.Verdict)
	require.ErrorIs(t, attempt.Err, destination.ErrRateLimited)
	require.Equal(t, http.StatusServiceUnavailable, attempt.StatusCode)
}

func TestSubmitUnavailableWhenNoMirrorAnswers(t *testing.T) {
	t.Parallel()

	doer := &hostDoer{routes: map[string][]collyfetcher.Response{
		"GET https://one.test/": {reply(http.StatusOK, "<html>no form</html>")},
	}}
	a := New(doer, WithHosts("one.test", "two.test"))

	for i := 0; i < 2; i++ {
		attempt := a.Submit(context.Background(), "https://repo.example/1")
		require.Equal(t, destination.Unavailable, attempt.Verdict)
		require.ErrorIs(t, attempt.Err, destination.ErrUnavailable)
	}
	require.Len(t, doer.requests, 2, "hosts are only searched once")
}

func TestSubmitCanceledDuringHostSearchRetriesLater(t *testing.T) {
	t.Parallel()

	doer := &hostDoer{routes: map[string][]collyfetcher.Response{}}
	a := New(doer, WithHosts("one.test"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempt := a.Submit(ctx, "https://repo.example/1")
	require.ErrorIs(t, attempt.Err, context.Canceled)
	assert.False(t, a.resolved)
}

func TestProbeUnsupported(t *testing.T) {
	t.Parallel()

	a := New(&hostDoer{})
	got, err := a.Probe(context.Background(), "https://repo.example/1")
	require.NoError(t, err)
	require.Equal(t, destination.Unsupported, got)
	require.False(t, a.Descriptor().CanProbe)
	require.Equal(t, 4, a.Descriptor().Requests)
	require.Len(t, a.Descriptor().Endpoints, len(DefaultHosts))
}

func TestSavedLocation(t *testing.T) {
	t.Parallel()

	resp := reply(http.StatusOK, "")
	resp.Headers.Set("Refresh", "0;url=https://archive.ph/abcd")
	assert.Equal(t, "https://archive.ph/abcd", savedLocation(resp))

	resp = reply(http.StatusFound, "")
	resp.Headers.Set("Location", "https://archive.ph/wip/abcd")
	assert.Equal(t, "https://archive.ph/wip/abcd", savedLocation(resp))
}
