package internetarchive

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/eprints-archiver/internal/destination"
	collyfetcher "github.com/JakeFAU/eprints-archiver/internal/fetcher/colly"
)

type scriptedDoer struct {
	mu        sync.Mutex
	requests  []collyfetcher.Request
	responses []collyfetcher.Response
	errs      []error
}

func (d *scriptedDoer) Do(_ context.Context, req collyfetcher.Request) (collyfetcher.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := len(d.requests)
	d.requests = append(d.requests, req)
	var err error
	if i < len(d.errs) {
		err = d.errs[i]
	}
	if err != nil {
		return collyfetcher.Response{}, err
	}
	return d.responses[i], nil
}

func reply(status int, body string) collyfetcher.Response {
	return collyfetcher.Response{StatusCode: status, Body: []byte(body), Headers: http.Header{}}
}

const oneMemento = `<http://example.com/a b>; rel="original",
<https://web.archive.org/web/20200101000000/http://example.com/a_b>; rel="first last memento"; datetime="Wed, 01 Jan 2020 00:00:00 GMT"`

func TestProbe(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		resp    collyfetcher.Response
		want    destination.ProbeResult
		wantErr error
	}{
		{name: "mementos", resp: reply(http.StatusOK, oneMemento), want: destination.Present},
		{name: "not found", resp: reply(http.StatusNotFound, ""), want: destination.Absent},
		{name: "empty", resp: reply(http.StatusOK, "\n"), want: destination.Absent},
		{name: "malformed", resp: reply(http.StatusOK, "<html>oops</html>"), want: destination.Absent},
		{name: "rate limited", resp: reply(http.StatusTooManyRequests, ""), want: destination.Absent, wantErr: destination.ErrRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doer := &scriptedDoer{responses: []collyfetcher.Response{tc.resp}}
			a := New(doer, WithEndpoints("https://ia.test/tm/", "https://ia.test/save/"))

			got, err := a.Probe(context.Background(), " http://example.com/a b ")
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, tc.want, got)
			require.Len(t, doer.requests, 1)
			require.Equal(t, http.MethodGet, doer.requests[0].Method)
			require.Equal(t, "https://ia.test/tm/http://example.com/a_b", doer.requests[0].URL)
		})
	}
}

func TestProbeLogsMalformedTimeMap(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.WarnLevel)
	doer := &scriptedDoer{responses: []collyfetcher.Response{reply(http.StatusOK, "nonsense")}}
	a := New(doer, WithLogger(zap.New(core)))

	got, err := a.Probe(context.Background(), "https://x.example/1")
	require.NoError(t, err)
	require.Equal(t, destination.Absent, got)
	require.Equal(t, 1, logs.FilterMessage("unparsable timemap").Len())
}

func TestProbeTransportError(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{errs: []error{errors.New("dial tcp: refused")}}
	_, err := New(doer).Probe(context.Background(), "https://x.example/1")
	require.Error(t, err)
	require.NotErrorIs(t, err, destination.ErrRateLimited)
}

func TestSubmit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		want   destination.Verdict
	}{
		{http.StatusOK, destination.Accepted},
		{http.StatusTooManyRequests, destination.RateLimited},
		{http.StatusBadRequest, destination.RetryOnce},
		{http.StatusNotFound, destination.Permanent},
		{http.StatusServiceUnavailable, destination.Transient},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()
			doer := &scriptedDoer{responses: []collyfetcher.Response{reply(tc.status, "")}}
			a := New(doer, WithEndpoints("https://ia.test/tm/", "https://ia.test/save/"))

			attempt := a.Submit(context.Background(), "https://x.example/1")
			require.Equal(t, tc.want, attempt.Verdict)
			require.Equal(t, tc.status, attempt.StatusCode)
			if tc.want == destination.Accepted {
				require.NoError(t, attempt.Err)
			} else {
				require.Error(t, attempt.Err)
			}

			req := doer.requests[0]
			require.Equal(t, http.MethodPost, req.Method)
			require.Equal(t, "https://ia.test/save/https://x.example/1", req.URL)
			require.Equal(t, "https://x.example/1", req.Form.Get("url"))
			require.Equal(t, "on", req.Form.Get("capture_all"))
		})
	}
}

func TestSubmitTransportError(t *testing.T) {
	t.Parallel()

	doer := &scriptedDoer{errs: []error{context.DeadlineExceeded}}
	attempt := New(doer).Submit(context.Background(), "https://x.example/1")
	require.Equal(t, destination.Transient, attempt.Verdict)
	require.ErrorIs(t, attempt.Err, context.DeadlineExceeded)
}

func TestDescriptor(t *testing.T) {
	t.Parallel()

	d := New(&scriptedDoer{}).Descriptor()
	require.Equal(t, Name, d.Name)
	require.True(t, d.CanProbe)
	require.Equal(t, 1, d.MaxInFlight)
	require.Equal(t, 4, d.Retry.MaxRetries)
	require.Positive(t, d.Interval())
}
