// Package app wires the repository client, discovery engine and submission
// scheduler into one archiving run.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/eprints-archiver/internal/config"
	"github.com/JakeFAU/eprints-archiver/internal/credentials"
	"github.com/JakeFAU/eprints-archiver/internal/destination"
	"github.com/JakeFAU/eprints-archiver/internal/destination/archivetoday"
	"github.com/JakeFAU/eprints-archiver/internal/destination/internetarchive"
	"github.com/JakeFAU/eprints-archiver/internal/discovery"
	"github.com/JakeFAU/eprints-archiver/internal/eprints"
	collyfetcher "github.com/JakeFAU/eprints-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/eprints-archiver/internal/filter"
	"github.com/JakeFAU/eprints-archiver/internal/progress"
	"github.com/JakeFAU/eprints-archiver/internal/report"
	"github.com/JakeFAU/eprints-archiver/internal/retry"
	"github.com/JakeFAU/eprints-archiver/internal/runenv"
	"github.com/JakeFAU/eprints-archiver/internal/scheduler"
)

// ErrNoNetwork is returned when the preflight connectivity check fails.
var ErrNoNetwork = errors.New("no network connection")

// probeAddress is a well-known DNS server used only to test connectivity.
const probeAddress = "8.8.8.8:53"

// NetworkCheck reports whether the network is reachable.
type NetworkCheck func(ctx context.Context) error

// DialCheck dials probeAddress over TCP.
func DialCheck(ctx context.Context) error {
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", probeAddress)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoNetwork, err)
	}
	return conn.Close()
}

// DefaultRegistry registers every destination the archiver knows about.
func DefaultRegistry(doer collyfetcher.Doer, logger *zap.Logger) *destination.Registry {
	reg := destination.NewRegistry()
	// Names are constants, so registration cannot collide.
	_ = reg.Register(internetarchive.Name, internetarchive.Label, func() destination.Adapter {
		return internetarchive.New(doer, internetarchive.WithLogger(logger))
	})
	_ = reg.Register(archivetoday.Name, archivetoday.Label, func() destination.Adapter {
		return archivetoday.New(doer, archivetoday.WithLogger(logger))
	})
	return reg
}

// Option customizes a Runner.
type Option func(*Runner)

// WithDoer replaces the HTTP transport shared by the repository client and
// the default destinations.
func WithDoer(doer collyfetcher.Doer) Option {
	return func(r *Runner) { r.doer = doer }
}

// WithRegistry replaces the destination registry.
func WithRegistry(reg *destination.Registry) Option {
	return func(r *Runner) { r.registry = reg }
}

// WithSleeper replaces the backoff sleeper for both the repository client and
// the scheduler.
func WithSleeper(s retry.Sleeper) Option {
	return func(r *Runner) { r.sleeper = s }
}

// WithNetworkCheck replaces the connectivity preflight. Nil disables it.
func WithNetworkCheck(check NetworkCheck) Option {
	return func(r *Runner) { r.netCheck = check }
}

// WithLimiterFactory replaces the per-lane rate limiter.
func WithLimiterFactory(f scheduler.LimiterFactory) Option {
	return func(r *Runner) { r.limiters = f }
}

// Runner executes one archiving run.
type Runner struct {
	cfg      config.Config
	env      *runenv.Env
	logger   *zap.Logger
	doer     collyfetcher.Doer
	registry *destination.Registry
	sleeper  retry.Sleeper
	netCheck NetworkCheck
	limiters scheduler.LimiterFactory
}

// New builds a Runner. A nil env gets defaults.
func New(cfg config.Config, env *runenv.Env, opts ...Option) *Runner {
	if env == nil {
		env = runenv.New(nil, nil, nil, nil)
	}
	r := &Runner{
		cfg:      cfg,
		env:      env,
		logger:   env.Logger.Named("app"),
		sleeper:  retry.TimerSleeper{},
		netCheck: DialCheck,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.doer == nil {
		r.doer = collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.HTTP.UserAgent,
			Timeout:   cfg.Timeout(),
		})
	}
	if r.registry == nil {
		r.registry = DefaultRegistry(r.doer, env.Logger)
	}
	return r
}

// Registry returns the destination registry in use.
func (r *Runner) Registry() *destination.Registry {
	return r.registry
}

// Run discovers the URLs selected by the configured filters and submits them
// to every selected destination. The returned report is non-nil once option
// validation has passed, even when err is not nil.
func (r *Runner) Run(ctx context.Context) (*report.Report, error) {
	spec, err := filter.Build(r.cfg.Filter.IDList, r.cfg.Filter.LastMod, r.cfg.Filter.Status)
	if err != nil {
		return nil, err
	}
	adapters, err := r.registry.Resolve(r.cfg.Dest.Names)
	if err != nil {
		return nil, err
	}
	apiURL, err := eprints.NormalizeAPIURL(r.cfg.API.URL)
	if err != nil {
		return nil, err
	}
	if r.netCheck != nil {
		if err := r.netCheck(ctx); err != nil {
			return nil, err
		}
	}

	client, err := r.client(apiURL)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results := report.New()
	r.emit(progress.Event{Stage: progress.StageRunStart, Note: client.Site().Host()})
	defer func() {
		r.emit(progress.Event{
			Stage: progress.StageRunDone,
			Count: int64(len(results.Entries())),
			Dur:   time.Since(start),
		})
	}()

	engine := discovery.NewEngine(client, discovery.Config{
		Threads:  r.cfg.Discovery.Threads,
		Selector: r.cfg.Discovery.Selector,
		ErrorOut: r.cfg.Discovery.ErrorOut,
	}, r.env.Logger, r.env.Progress)
	found, err := engine.Discover(ctx, spec)
	results.SetInvalid(found.Invalid)
	for _, a := range found.Anomalies {
		results.AddAnomaly(a.String())
	}
	if err != nil {
		return results, err
	}
	r.logger.Info("discovery finished",
		zap.Int("urls", len(found.URLs)),
		zap.Int("records", len(found.Selected)),
		zap.Int("invalid", found.Invalid),
		zap.Int("anomalies", len(found.Anomalies)),
	)

	opts := []scheduler.Option{
		scheduler.WithLogger(r.env.Logger),
		scheduler.WithReporter(r.env.Progress),
		scheduler.WithSleeper(r.sleeper),
	}
	if r.limiters != nil {
		opts = append(opts, scheduler.WithLimiterFactory(r.limiters))
	}
	sched := scheduler.New(scheduler.Config{Force: r.cfg.Dest.Force, Delay: r.cfg.Delay()}, results, opts...)
	if err := sched.Dispatch(ctx, found.URLs, adapters); err != nil {
		return results, err
	}
	return results, nil
}

// client builds the repository client, attaching any known credentials.
func (r *Runner) client(apiURL string) (*eprints.Client, error) {
	site, err := eprints.NewSite(apiURL)
	if err != nil {
		return nil, err
	}
	explicit := credentials.Credentials{User: r.cfg.API.User, Password: r.cfg.API.Password}
	creds, err := r.env.Credentials.Resolve(site.Host(), explicit)
	if err != nil {
		r.logger.Warn("credential store unavailable", zap.String("server", site.Host()), zap.Error(err))
	}

	initial, maxDelay := r.cfg.Backoff()
	opts := []eprints.Option{
		eprints.WithRetryPolicy(retry.Policy{
			MaxRetries: r.cfg.HTTP.MaxRetries,
			BaseDelay:  initial,
			MaxDelay:   maxDelay,
		}),
		eprints.WithSleeper(r.sleeper),
		eprints.WithLogger(r.env.Logger),
	}
	if !creds.Empty() {
		opts = append(opts, eprints.WithCredentials(creds.User, creds.Password))
	}
	return eprints.New(apiURL, r.doer, opts...)
}

func (r *Runner) emit(evt progress.Event) {
	r.env.Progress.Emit(evt)
}
