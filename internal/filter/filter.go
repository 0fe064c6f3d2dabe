// Package filter narrows the repository's records to the ones a run should
// archive: by id, by modification date and by status.
package filter

import (
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/eprints-archiver/internal/eprints"
)

// StatusRule keeps records whose status is in Statuses, or, when Negate is
// set, records whose status is not.
type StatusRule struct {
	Statuses []string
	Negate   bool
}

// Allows reports whether status passes the rule. Comparison ignores case.
func (r *StatusRule) Allows(status string) bool {
	if r == nil {
		return true
	}
	s := strings.ToLower(strings.TrimSpace(status))
	found := false
	for _, want := range r.Statuses {
		if want == s {
			found = true
			break
		}
	}
	return found != r.Negate
}

// String renders the rule for progress messages, e.g.
// `with status "archive" or "inbox"`.
func (r *StatusRule) String() string {
	if r == nil {
		return "with any status"
	}
	quoted := make([]string, len(r.Statuses))
	for i, s := range r.Statuses {
		quoted[i] = `"` + s + `"`
	}
	list := strings.Join(quoted, " or ")
	if len(quoted) > 2 {
		list = strings.Join(quoted[:len(quoted)-1], ", ") + " or " + quoted[len(quoted)-1]
	}
	if r.Negate {
		return "without status " + list
	}
	return "with status " + list
}

// Spec is the conjunction of the three filters. Nil fields do not filter.
type Spec struct {
	IDs           []int
	ModifiedAfter *time.Time
	Status        *StatusRule
	// Requested records that the user passed a filter option, even one such
	// as "--status any" that selects everything.
	Requested bool
}

// Restricted reports whether discovery should run in restricted mode.
func (s Spec) Restricted() bool {
	return s.Requested || s.IDs != nil || s.ModifiedAfter != nil || s.Status != nil
}

// NeedsRecords reports whether record metadata is required to apply the spec.
func (s Spec) NeedsRecords() bool {
	return s.ModifiedAfter != nil || s.Status != nil
}

// SelectIDs applies the id filter to the repository index. When the spec has
// an explicit id list, the list is used as given.
func (s Spec) SelectIDs(all []int) []int {
	var out []int
	if s.IDs != nil {
		out = append(out, s.IDs...)
	} else {
		out = append(out, all...)
	}
	sort.Ints(out)
	return out
}

// Match applies the date floor and status rule to a fetched record. Records
// that do not exist never match. A record without a modification time fails
// a date floor.
func (s Spec) Match(rec eprints.Record) bool {
	if !rec.Exists {
		return false
	}
	if s.ModifiedAfter != nil {
		if rec.Modified.IsZero() || rec.Modified.Before(*s.ModifiedAfter) {
			return false
		}
	}
	return s.Status.Allows(rec.Status)
}

// Select returns the ids of records that pass every filter, ascending.
func Select(records []eprints.Record, spec Spec) []int {
	allowed := map[int]struct{}{}
	if spec.IDs != nil {
		for _, id := range spec.IDs {
			allowed[id] = struct{}{}
		}
	}
	var out []int
	for _, rec := range records {
		if spec.IDs != nil {
			if _, ok := allowed[rec.ID]; !ok {
				continue
			}
		}
		if spec.Match(rec) {
			out = append(out, rec.ID)
		}
	}
	sort.Ints(out)
	return out
}
