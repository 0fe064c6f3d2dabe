// Package scheduler fans the frozen URL set out to the archive destinations.
// Each destination gets one serialized, rate-limited lane; lanes run in
// parallel.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/eprints-archiver/internal/destination"
	"github.com/JakeFAU/eprints-archiver/internal/discovery"
	"github.com/JakeFAU/eprints-archiver/internal/progress"
	"github.com/JakeFAU/eprints-archiver/internal/report"
	"github.com/JakeFAU/eprints-archiver/internal/retry"
)

// DefaultDelay is the pause added between requests to one destination.
const DefaultDelay = 100 * time.Millisecond

// Config tunes dispatch.
type Config struct {
	// Force skips probing and submits every URL.
	Force bool
	// Delay is added to each destination's own request interval.
	Delay time.Duration
}

// Limiter gates every request a lane sends.
type Limiter interface {
	Wait(ctx context.Context) error
}

// LimiterFactory builds the limiter for one lane.
type LimiterFactory func(d destination.Descriptor, delay time.Duration) Limiter

// NewRateLimiter spaces requests by the destination interval plus delay, with
// a burst of one.
func NewRateLimiter(d destination.Descriptor, delay time.Duration) Limiter {
	every := d.Interval() + delay
	if every <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(every), 1)
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithReporter sets the progress reporter.
func WithReporter(reporter *progress.Reporter) Option {
	return func(s *Scheduler) {
		s.reporter = reporter
	}
}

// WithSleeper replaces the backoff sleeper.
func WithSleeper(sleeper retry.Sleeper) Option {
	return func(s *Scheduler) {
		if sleeper != nil {
			s.sleeper = sleeper
		}
	}
}

// WithLimiterFactory replaces the per-lane limiter.
func WithLimiterFactory(factory LimiterFactory) Option {
	return func(s *Scheduler) {
		if factory != nil {
			s.newLimiter = factory
		}
	}
}

// Scheduler dispatches URLs to destinations.
type Scheduler struct {
	cfg        Config
	results    *report.Report
	logger     *zap.Logger
	reporter   *progress.Reporter
	sleeper    retry.Sleeper
	newLimiter LimiterFactory
}

// New builds a Scheduler that records outcomes into results.
func New(cfg Config, results *report.Report, opts ...Option) *Scheduler {
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	s := &Scheduler{
		cfg:        cfg,
		results:    results,
		logger:     zap.NewNop(),
		sleeper:    retry.TimerSleeper{},
		newLimiter: NewRateLimiter,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("scheduler")
	return s
}

// Dispatch runs one lane per adapter over urls, in order, and waits for all
// lanes. Every (URL, destination) pair gets exactly one outcome in the
// report; pairs cut short by cancellation are recorded as incomplete and the
// context error is returned.
func (s *Scheduler) Dispatch(ctx context.Context, urls []discovery.TargetURL, adapters []destination.Adapter) error {
	var g errgroup.Group
	for _, adapter := range adapters {
		l := s.newLane(adapter)
		g.Go(func() error {
			return l.run(ctx, urls)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	return nil
}

func (s *Scheduler) newLane(adapter destination.Adapter) *lane {
	desc := adapter.Descriptor()
	return &lane{
		s:       s,
		adapter: adapter,
		desc:    desc,
		limiter: s.newLimiter(desc, s.cfg.Delay),
		logger:  s.logger.With(zap.String("destination", desc.Name)),
	}
}
