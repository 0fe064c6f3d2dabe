// Package report collects the outcome of every (URL, destination) pair in a
// run and renders it as a table.
package report

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Outcome is the terminal state of one (URL, destination) pair.
type Outcome string

// Terminal outcomes.
const (
	Submitted          Outcome = "submitted"
	AlreadyArchived    Outcome = "alreadyArchived"
	SkippedByPolicy    Outcome = "skippedByPolicy"
	FailedPermanent    Outcome = "failedPermanent"
	FailedAfterRetries Outcome = "failedAfterRetries"
	Incomplete         Outcome = "incomplete"
)

// Outcomes lists every outcome in display order.
var Outcomes = []Outcome{
	Submitted,
	AlreadyArchived,
	SkippedByPolicy,
	FailedPermanent,
	FailedAfterRetries,
	Incomplete,
}

// Failed reports whether the outcome counts against the run.
func (o Outcome) Failed() bool {
	return o == FailedPermanent || o == FailedAfterRetries
}

// Entry is one row of the report.
type Entry struct {
	// Seq is the URL's position in discovery order.
	Seq         int
	URL         string
	Provenance  string
	Destination string
	Outcome     Outcome
	// Attempts counts submit calls; zero when no submission was made.
	Attempts int
	Detail   string
	At       time.Time
}

// Summary holds per-destination totals.
type Summary struct {
	Destination string
	Counts      map[Outcome]int
	Total       int
}

// Report is safe for concurrent use by the destination lanes.
type Report struct {
	mu        sync.Mutex
	entries   []Entry
	seen      map[string]struct{}
	anomalies []string
	invalid   int
}

// New returns an empty Report.
func New() *Report {
	return &Report{seen: map[string]struct{}{}}
}

// Record stores e. A pair is recorded at most once; a duplicate is an error.
func (r *Report) Record(e Entry) error {
	key := e.Destination + "\x00" + e.URL
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[key]; dup {
		return fmt.Errorf("report: %s already recorded for %s", e.URL, e.Destination)
	}
	r.seen[key] = struct{}{}
	r.entries = append(r.entries, e)
	return nil
}

// Recorded reports whether the pair has an outcome.
func (r *Report) Recorded(destination, url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.seen[destination+"\x00"+url]
	return ok
}

// AddAnomaly stores a discovery problem for the end-of-run summary.
func (r *Report) AddAnomaly(msg string) {
	r.mu.Lock()
	r.anomalies = append(r.anomalies, msg)
	r.mu.Unlock()
}

// SetInvalid records how many discovered candidates were not valid URLs.
func (r *Report) SetInvalid(n int) {
	r.mu.Lock()
	r.invalid = n
	r.mu.Unlock()
}

// Invalid returns the count stored by SetInvalid.
func (r *Report) Invalid() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.invalid
}

// Anomalies returns the stored anomaly messages.
func (r *Report) Anomalies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.anomalies...)
}

// Entries returns rows ordered by destination, then discovery order.
func (r *Report) Entries() []Entry {
	r.mu.Lock()
	out := append([]Entry(nil), r.entries...)
	r.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Destination != out[j].Destination {
			return out[i].Destination < out[j].Destination
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Summaries returns totals per destination in name order.
func (r *Report) Summaries() []Summary {
	byDest := map[string]*Summary{}
	var names []string
	for _, e := range r.Entries() {
		s, ok := byDest[e.Destination]
		if !ok {
			s = &Summary{Destination: e.Destination, Counts: map[Outcome]int{}}
			byDest[e.Destination] = s
			names = append(names, e.Destination)
		}
		s.Counts[e.Outcome]++
		s.Total++
	}
	out := make([]Summary, 0, len(names))
	for _, n := range names {
		out = append(out, *byDest[n])
	}
	return out
}

// Count returns how many pairs ended with outcome across all destinations.
func (r *Report) Count(outcome Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Outcome == outcome {
			n++
		}
	}
	return n
}
