// Package destination defines the contract every archive service implements
// and the status classification the submission scheduler acts on.
package destination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/eprints-archiver/internal/retry"
)

var (
	// ErrRateLimited marks a response telling the client to slow down.
	ErrRateLimited = errors.New("destination rate limit")
	// ErrUnavailable marks a destination that cannot be used for this run.
	ErrUnavailable = errors.New("destination unavailable")
)

// ProbeResult is the answer to "is this URL already archived?".
type ProbeResult int

// Probe answers.
const (
	Absent ProbeResult = iota
	Present
	Unsupported
)

func (p ProbeResult) String() string {
	switch p {
	case Absent:
		return "absent"
	case Present:
		return "present"
	case Unsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("probe(%d)", int(p))
	}
}

// Verdict tells the scheduler what to do after a submission attempt.
type Verdict int

// Submission verdicts.
const (
	// Accepted means the archive took the URL.
	Accepted Verdict = iota
	// RateLimited means back off and try again without spending the budget
	// differently from any other retry.
	RateLimited
	// RetryOnce means try exactly one more time.
	RetryOnce
	// Permanent means give up on this URL.
	Permanent
	// Transient means retry within the budget.
	Transient
	// Unavailable means the destination cannot serve this run at all.
	Unavailable
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case RateLimited:
		return "rate-limited"
	case RetryOnce:
		return "retry-once"
	case Permanent:
		return "permanent"
	case Transient:
		return "transient"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Attempt is the result of one submission request.
type Attempt struct {
	Verdict    Verdict
	StatusCode int
	Err        error
	Duration   time.Duration
}

// Detail summarizes the attempt for reports.
func (a Attempt) Detail() string {
	switch {
	case a.Err != nil && a.StatusCode != 0:
		return fmt.Sprintf("status %d: %v", a.StatusCode, a.Err)
	case a.Err != nil:
		return a.Err.Error()
	case a.StatusCode != 0:
		return fmt.Sprintf("status %d", a.StatusCode)
	default:
		return ""
	}
}

// Descriptor is static metadata about a destination.
type Descriptor struct {
	// Name is the registry key, lower case.
	Name string
	// Label is the human-readable service name.
	Label     string
	Endpoints []string
	// MaxInFlight is always 1: each destination gets one serialized lane.
	MaxInFlight int
	CanProbe    bool
	// Retry governs transient failures.
	Retry retry.Policy
	// RateLimit governs backoff after a rate-limit signal.
	RateLimit retry.Policy
	// Requests per Window is the steady request rate the lane enforces.
	Requests int
	Window   time.Duration
}

// Interval returns the minimum spacing between requests implied by the
// request window, or zero when unlimited.
func (d Descriptor) Interval() time.Duration {
	if d.Requests <= 0 || d.Window <= 0 {
		return 0
	}
	return d.Window / time.Duration(d.Requests)
}

// Adapter is one archive service.
type Adapter interface {
	Descriptor() Descriptor
	// Probe reports whether url already has a capture. Adapters without a
	// lookup API return Unsupported. A rate-limit response yields an error
	// wrapping ErrRateLimited.
	Probe(ctx context.Context, url string) (ProbeResult, error)
	// Submit asks the service to capture url.
	Submit(ctx context.Context, url string) Attempt
}

// Classify maps an HTTP exchange to a verdict: 2xx and 3xx are accepted, 429
// is a rate limit, 400 earns one retry, other 4xx are permanent, and 5xx and
// transport errors are transient.
func Classify(status int, err error) Verdict {
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return Unavailable
		}
		if errors.Is(err, ErrRateLimited) {
			return RateLimited
		}
		return Transient
	}
	switch {
	case status >= 200 && status < 400:
		return Accepted
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusBadRequest:
		return RetryOnce
	case status >= 400 && status < 500:
		return Permanent
	default:
		return Transient
	}
}
