package scheduler

import (
	"fmt"

	"github.com/JakeFAU/eprints-archiver/internal/report"
)

// State is a step in the life of one (URL, destination) pair.
type State int

// Pair states. The last six are terminal.
const (
	Pending State = iota
	Probing
	NeedsSubmit
	Submitting
	RetryWait
	AlreadyArchived
	Submitted
	FailedPermanent
	FailedAfterRetries
	SkippedByPolicy
	Incomplete
)

var stateNames = [...]string{
	Pending:            "pending",
	Probing:            "probing",
	NeedsSubmit:        "needsSubmit",
	Submitting:         "submitting",
	RetryWait:          "retryWait",
	AlreadyArchived:    "alreadyArchived",
	Submitted:          "submitted",
	FailedPermanent:    "failedPermanent",
	FailedAfterRetries: "failedAfterRetries",
	SkippedByPolicy:    "skippedByPolicy",
	Incomplete:         "incomplete",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s >= AlreadyArchived
}

// Outcome maps a terminal state to its report outcome.
func (s State) Outcome() (report.Outcome, bool) {
	switch s {
	case AlreadyArchived:
		return report.AlreadyArchived, true
	case Submitted:
		return report.Submitted, true
	case FailedPermanent:
		return report.FailedPermanent, true
	case FailedAfterRetries:
		return report.FailedAfterRetries, true
	case SkippedByPolicy:
		return report.SkippedByPolicy, true
	case Incomplete:
		return report.Incomplete, true
	default:
		return "", false
	}
}

// waitReason says why a pair is in RetryWait.
type waitReason string

const (
	reasonRateLimit waitReason = "rate-limit"
	reasonTransient waitReason = "transient"
	reasonRetryOnce waitReason = "retry-once"
	reasonProbe     waitReason = "probe"
)

// pair carries the per-URL counters. Backoff state lives here, so it resets
// for every URL.
type pair struct {
	url        string
	provenance string
	seq        int
	state      State

	// resume is the state RetryWait returns to.
	resume State
	reason waitReason

	// submits counts submit calls.
	submits int
	// retries counts retries spent from the submit budget.
	retries int
	// rateLimits counts rate-limit backoffs, which also spend the budget.
	rateLimits int
	// transients counts backoffs after transient failures.
	transients int
	// probeRetries counts probe retries.
	probeRetries int
	retriedOnce  bool
	detail       string
}
