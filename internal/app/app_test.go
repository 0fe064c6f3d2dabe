package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/eprints-archiver/internal/config"
	"github.com/JakeFAU/eprints-archiver/internal/credentials"
	"github.com/JakeFAU/eprints-archiver/internal/destination"
	"github.com/JakeFAU/eprints-archiver/internal/destination/archivetoday"
	"github.com/JakeFAU/eprints-archiver/internal/destination/internetarchive"
	collyfetcher "github.com/JakeFAU/eprints-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/eprints-archiver/internal/filter"
	"github.com/JakeFAU/eprints-archiver/internal/progress"
	"github.com/JakeFAU/eprints-archiver/internal/report"
	"github.com/JakeFAU/eprints-archiver/internal/runenv"
	"github.com/JakeFAU/eprints-archiver/internal/scheduler"
)

const saveEndpoint = "https://web.archive.org/save/"

// repoDoer serves a tiny EPrints site and a Wayback Machine that has nothing
// archived and accepts every save.
type repoDoer struct {
	mu       sync.Mutex
	routes   map[string]collyfetcher.Response
	requests []collyfetcher.Request
}

func newRepoDoer() *repoDoer {
	record := func(status, official string) collyfetcher.Response {
		body := `<?xml version="1.0"?><eprints xmlns="http://eprints.org/ep2/data/2.0"><eprint>` +
			`<eprint_status>` + status + `</eprint_status>`
		if official != "" {
			body += `<official_url>` + official + `</official_url>`
		}
		body += `<lastmod>2024-03-01 10:00:00</lastmod></eprint></eprints>`
		return collyfetcher.Response{StatusCode: 200, Body: []byte(body)}
	}
	return &repoDoer{routes: map[string]collyfetcher.Response{
		"GET https://repo.example/rest/eprint/1.xml": record("archive", "https://x.example/1"),
		"GET https://repo.example/rest/eprint/2.xml": record("inbox", ""),
		"GET https://repo.example/rest/eprint/3.xml": record("archive", ""),
	}}
}

func (d *repoDoer) Do(ctx context.Context, req collyfetcher.Request) (collyfetcher.Response, error) {
	if err := ctx.Err(); err != nil {
		return collyfetcher.Response{}, err
	}
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
	if resp, ok := d.routes[req.Method+" "+req.URL]; ok {
		resp.URL = req.URL
		return resp, nil
	}
	if req.Method == "POST" && strings.HasPrefix(req.URL, saveEndpoint) {
		return collyfetcher.Response{URL: req.URL, StatusCode: 200}, nil
	}
	return collyfetcher.Response{URL: req.URL, StatusCode: 404}, nil
}

func (d *repoDoer) saves() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, r := range d.requests {
		if r.Method == "POST" {
			out = append(out, strings.TrimPrefix(r.URL, saveEndpoint))
		}
	}
	return out
}

func (d *repoDoer) restAuth() []collyfetcher.Credentials {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []collyfetcher.Credentials
	for _, r := range d.requests {
		if strings.Contains(r.URL, "/rest/") {
			out = append(out, r.Auth)
		}
	}
	return out
}

type noSleep struct{}

func (noSleep) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type openLimiter struct{}

func (openLimiter) Wait(ctx context.Context) error { return ctx.Err() }

func noLimits(destination.Descriptor, time.Duration) scheduler.Limiter { return openLimiter{} }

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]credentials.Credentials
	lookups int
}

func (s *memoryStore) Lookup(server string) (credentials.Credentials, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	c, ok := s.entries[server]
	return c, ok, nil
}

func (s *memoryStore) Save(server string, c credentials.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[server] = c
	return nil
}

func baseConfig() config.Config {
	var cfg config.Config
	cfg.API.URL = "https://repo.example"
	cfg.Dest.Names = internetarchive.Name
	cfg.Filter.IDList = "1-3"
	cfg.Filter.Status = "archive"
	cfg.Discovery.Threads = 2
	cfg.HTTP.TimeoutSeconds = 5
	cfg.HTTP.MaxRetries = 1
	return cfg
}

func newRunner(cfg config.Config, env *runenv.Env, doer *repoDoer, opts ...Option) *Runner {
	base := []Option{
		WithDoer(doer),
		WithSleeper(noSleep{}),
		WithLimiterFactory(noLimits),
		WithNetworkCheck(nil),
	}
	return New(cfg, env, append(base, opts...)...)
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		stages []progress.Stage
	)
	reporter := progress.NewReporter(progress.EmitterFunc(func(evt progress.Event) {
		mu.Lock()
		stages = append(stages, evt.Stage)
		mu.Unlock()
	}))
	env := runenv.New(zap.NewNop(), reporter, nil, nil)
	doer := newRepoDoer()

	results, err := newRunner(baseConfig(), env, doer).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, results)

	assert.Equal(t, 5, results.Count(report.Submitted))
	assert.ElementsMatch(t, []string{
		"https://repo.example/1",
		"https://repo.example/id/eprint/1",
		"https://x.example/1",
		"https://repo.example/3",
		"https://repo.example/id/eprint/3",
	}, doer.saves())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, stages)
	assert.Equal(t, progress.StageRunStart, stages[0])
	assert.Equal(t, progress.StageRunDone, stages[len(stages)-1])
}

func TestRunRejectsBadOptionsBeforeNetwork(t *testing.T) {
	t.Parallel()

	checked := false
	check := func(context.Context) error {
		checked = true
		return nil
	}

	cfg := baseConfig()
	cfg.Filter.IDList = "3-x"
	_, err := newRunner(cfg, nil, newRepoDoer(), WithNetworkCheck(check)).Run(context.Background())
	var ferr *filter.InvalidFilterError
	require.ErrorAs(t, err, &ferr)

	cfg = baseConfig()
	cfg.Dest.Names = "nowhere"
	_, err = newRunner(cfg, nil, newRepoDoer(), WithNetworkCheck(check)).Run(context.Background())
	var derr *destination.UnknownDestinationError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, "nowhere", derr.Name)

	assert.False(t, checked)
}

func TestRunStopsWithoutNetwork(t *testing.T) {
	t.Parallel()

	doer := newRepoDoer()
	offline := func(context.Context) error { return ErrNoNetwork }
	results, err := newRunner(baseConfig(), nil, doer, WithNetworkCheck(offline)).Run(context.Background())
	require.ErrorIs(t, err, ErrNoNetwork)
	assert.Nil(t, results)
	assert.Empty(t, doer.requests)
}

func TestRunUsesStoredCredentials(t *testing.T) {
	t.Parallel()

	store := &memoryStore{entries: map[string]credentials.Credentials{
		"repo.example": {User: "alice", Password: "s3cret"},
	}}
	env := runenv.New(zap.NewNop(), nil, credentials.NewCache(store), nil)
	doer := newRepoDoer()

	_, err := newRunner(baseConfig(), env, doer).Run(context.Background())
	require.NoError(t, err)

	auth := doer.restAuth()
	require.Len(t, auth, 3)
	for _, a := range auth {
		assert.Equal(t, collyfetcher.Credentials{User: "alice", Password: "s3cret"}, a)
	}
	assert.Equal(t, 1, store.lookups)
}

func TestRunSavesExplicitCredentials(t *testing.T) {
	t.Parallel()

	store := &memoryStore{entries: map[string]credentials.Credentials{}}
	env := runenv.New(zap.NewNop(), nil, credentials.NewCache(store), nil)
	cfg := baseConfig()
	cfg.API.User = "bob"
	cfg.API.Password = "hunter2"

	_, err := newRunner(cfg, env, newRepoDoer()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, credentials.Credentials{User: "bob", Password: "hunter2"}, store.entries["repo.example"])
}

func TestRunErrorOutReturnsPartialReport(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Filter.IDList = "1-4"
	cfg.Discovery.ErrorOut = true
	doer := newRepoDoer()

	results, err := newRunner(cfg, nil, doer).Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, results)
	assert.NotEmpty(t, results.Anomalies())
	assert.Empty(t, doer.saves())
}

func TestRunCanceledMarksIncomplete(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newRunner(baseConfig(), nil, newRepoDoer()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDefaultRegistry(t *testing.T) {
	t.Parallel()

	reg := DefaultRegistry(newRepoDoer(), zap.NewNop())
	assert.Equal(t, []string{archivetoday.Name, internetarchive.Name}, reg.Names())
	assert.Equal(t, "Internet Archive", reg.Label(internetarchive.Name))

	adapters, err := reg.Resolve("all")
	require.NoError(t, err)
	require.Len(t, adapters, 2)
}

func TestDialCheckWrapsErrNoNetwork(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := DialCheck(ctx)
	require.True(t, errors.Is(err, ErrNoNetwork))
}

func TestRunCountsInvalidOfficialURLs(t *testing.T) {
	t.Parallel()

	doer := newRepoDoer()
	doer.routes["GET https://repo.example/rest/eprint/3.xml"] = collyfetcher.Response{
		StatusCode: 200,
		Body:       []byte(`<eprints><eprint><eprint_status>archive</eprint_status><official_url>not a url</official_url></eprint></eprints>`),
	}

	results, err := newRunner(baseConfig(), nil, doer).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, results.Invalid())
	assert.Equal(t, 5, results.Count(report.Submitted))
}
