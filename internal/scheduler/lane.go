package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/eprints-archiver/internal/destination"
	"github.com/JakeFAU/eprints-archiver/internal/discovery"
	"github.com/JakeFAU/eprints-archiver/internal/progress"
	"github.com/JakeFAU/eprints-archiver/internal/report"
)

// lane is the single serialized worker for one destination.
type lane struct {
	s       *Scheduler
	adapter destination.Adapter
	desc    destination.Descriptor
	limiter Limiter
	logger  *zap.Logger

	// unavailable is set once the destination reports it cannot serve the run.
	unavailable bool
}

func (l *lane) run(ctx context.Context, urls []discovery.TargetURL) error {
	l.emit(progress.Event{Stage: progress.StageLaneStart, Count: int64(len(urls))})
	l.logger.Info("lane started", zap.Int("urls", len(urls)))

	start := time.Now()
	for i, u := range urls {
		p := &pair{url: u.URL, provenance: string(u.Provenance), seq: i}
		l.drive(ctx, p)
		if err := l.record(p); err != nil {
			return err
		}
	}

	l.emit(progress.Event{Stage: progress.StageLaneDone, Count: int64(len(urls)), Dur: time.Since(start)})
	l.logger.Info("lane finished", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// drive steps p until it reaches a terminal state.
func (l *lane) drive(ctx context.Context, p *pair) {
	for !p.state.Terminal() {
		next := l.step(ctx, p)
		if next != p.state {
			l.logger.Debug("transition",
				zap.String("url", p.url),
				zap.Stringer("from", p.state),
				zap.Stringer("to", next),
			)
		}
		p.state = next
	}
}

// step performs the work of p's current state and returns the next state.
func (l *lane) step(ctx context.Context, p *pair) State {
	if ctx.Err() != nil {
		p.detail = "interrupted"
		return Incomplete
	}
	switch p.state {
	case Pending:
		if l.unavailable {
			p.detail = "destination unavailable"
			return SkippedByPolicy
		}
		if l.s.cfg.Force || !l.desc.CanProbe {
			return NeedsSubmit
		}
		return Probing
	case Probing:
		return l.probe(ctx, p)
	case NeedsSubmit:
		return Submitting
	case Submitting:
		return l.submit(ctx, p)
	case RetryWait:
		return l.wait(ctx, p)
	default:
		return p.state
	}
}

func (l *lane) probe(ctx context.Context, p *pair) State {
	if err := l.limiter.Wait(ctx); err != nil {
		p.detail = "interrupted"
		return Incomplete
	}
	start := time.Now()
	result, err := l.adapter.Probe(ctx, p.url)
	evt := progress.Event{Stage: progress.StageProbeDone, URL: p.url, Dur: time.Since(start), Outcome: result.String()}
	if err != nil {
		evt.Outcome = "error"
		evt.Note = err.Error()
	}
	l.emit(evt)

	switch {
	case ctx.Err() != nil:
		p.detail = "interrupted"
		return Incomplete
	case err == nil && result == destination.Present:
		return AlreadyArchived
	case err == nil:
		return NeedsSubmit
	case errors.Is(err, destination.ErrUnavailable):
		l.unavailable = true
		p.detail = err.Error()
		return SkippedByPolicy
	case errors.Is(err, destination.ErrRateLimited):
		p.rateLimits++
		return l.retryOr(p, Probing, reasonRateLimit, NeedsSubmit)
	default:
		l.logger.Debug("probe failed", zap.String("url", p.url), zap.Error(err))
		p.probeRetries++
		if l.desc.Retry.Exhausted(p.probeRetries) {
			// An unanswered probe falls through to submission.
			return NeedsSubmit
		}
		p.resume, p.reason = Probing, reasonProbe
		return RetryWait
	}
}

func (l *lane) submit(ctx context.Context, p *pair) State {
	if err := l.limiter.Wait(ctx); err != nil {
		p.detail = "interrupted"
		return Incomplete
	}
	p.submits++
	attempt := l.adapter.Submit(ctx, p.url)
	p.detail = attempt.Detail()
	l.emit(progress.Event{
		Stage:       progress.StageSubmitDone,
		URL:         p.url,
		Attempt:     p.submits,
		StatusClass: progress.ClassifyStatus(attempt.StatusCode),
		Dur:         attempt.Duration,
		Note:        attempt.Verdict.String(),
	})

	if ctx.Err() != nil {
		p.detail = "interrupted"
		return Incomplete
	}
	switch attempt.Verdict {
	case destination.Accepted:
		return Submitted
	case destination.Permanent:
		return FailedPermanent
	case destination.Unavailable:
		l.unavailable = true
		return SkippedByPolicy
	case destination.RateLimited:
		p.rateLimits++
		return l.retryOr(p, Submitting, reasonRateLimit, FailedAfterRetries)
	case destination.RetryOnce:
		if p.retriedOnce {
			return FailedAfterRetries
		}
		p.retriedOnce = true
		return l.retryOr(p, Submitting, reasonRetryOnce, FailedAfterRetries)
	default:
		p.transients++
		return l.retryOr(p, Submitting, reasonTransient, FailedAfterRetries)
	}
}

// retryOr spends one retry from the budget and schedules a wait before
// resume, or returns exhausted when the budget is spent.
func (l *lane) retryOr(p *pair, resume State, reason waitReason, exhausted State) State {
	p.retries++
	if l.desc.Retry.Exhausted(p.retries) {
		return exhausted
	}
	p.resume, p.reason = resume, reason
	return RetryWait
}

// backoff is the wait for the pair's current reason. Each reason doubles from
// its own base.
func (l *lane) backoff(p *pair) time.Duration {
	switch p.reason {
	case reasonRateLimit:
		return l.desc.RateLimit.Backoff(p.rateLimits)
	case reasonRetryOnce:
		return 0
	case reasonProbe:
		return l.desc.Retry.Backoff(p.probeRetries)
	default:
		return l.desc.Retry.Backoff(p.transients)
	}
}

func (l *lane) wait(ctx context.Context, p *pair) State {
	d := l.backoff(p)
	l.emit(progress.Event{
		Stage:   progress.StageRetryWait,
		URL:     p.url,
		Attempt: p.submits,
		Dur:     d,
		Note:    string(p.reason),
	})
	if p.reason == reasonRateLimit {
		l.logger.Info("rate limited; pausing", zap.String("url", p.url), zap.Duration("wait", d))
	}
	if err := l.s.sleeper.Sleep(ctx, d); err != nil {
		p.detail = "interrupted"
		return Incomplete
	}
	return p.resume
}

func (l *lane) record(p *pair) error {
	outcome, ok := p.state.Outcome()
	if !ok {
		return fmt.Errorf("lane %s: %s ended in non-terminal state %s", l.desc.Name, p.url, p.state)
	}
	if outcome.Failed() {
		l.logger.Warn("submission failed",
			zap.String("url", p.url),
			zap.String("outcome", string(outcome)),
			zap.Int("attempts", p.submits),
			zap.String("detail", p.detail),
		)
	}
	if outcome == report.Submitted || outcome == report.AlreadyArchived {
		p.detail = ""
	}
	l.emit(progress.Event{
		Stage:   progress.StageOutcome,
		URL:     p.url,
		Attempt: p.submits,
		Outcome: string(outcome),
		Note:    p.detail,
	})
	return l.s.results.Record(report.Entry{
		Seq:         p.seq,
		URL:         p.url,
		Provenance:  p.provenance,
		Destination: l.desc.Name,
		Outcome:     outcome,
		Attempts:    p.submits,
		Detail:      p.detail,
		At:          time.Now(),
	})
}

func (l *lane) emit(evt progress.Event) {
	evt.Destination = l.desc.Name
	l.s.reporter.Emit(evt)
}
