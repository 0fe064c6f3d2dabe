package discovery

import (
	"strings"
	"sync"

	"github.com/JakeFAU/eprints-archiver/internal/urlcheck"
)

// Provenance records why a URL is in the target set.
type Provenance string

// URL provenances.
const (
	CanonicalShort    Provenance = "canonical-short"
	CanonicalLong     Provenance = "canonical-long"
	Official          Provenance = "official"
	GeneralIndex      Provenance = "general-index"
	GeneralBrowseLeaf Provenance = "general-browse-leaf"
)

// TargetURL is a validated URL with its provenance.
type TargetURL struct {
	URL        string
	Provenance Provenance
}

// URLSet accumulates candidates in insertion order, dropping invalid ones and
// exact duplicates. The first provenance seen for a URL wins.
type URLSet struct {
	mu      sync.Mutex
	items   []TargetURL
	seen    map[string]struct{}
	invalid int
	frozen  bool
}

// NewURLSet returns an empty set.
func NewURLSet() *URLSet {
	return &URLSet{seen: map[string]struct{}{}}
}

// Add inserts raw when it is a valid absolute http(s) URL not already
// present. It reports whether the set grew. Adding to a frozen set is a no-op.
func (s *URLSet) Add(raw string, p Provenance) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return false
	}
	candidate := strings.TrimSpace(raw)
	if !urlcheck.Valid(candidate) {
		s.invalid++
		return false
	}
	if _, ok := s.seen[candidate]; ok {
		return false
	}
	s.seen[candidate] = struct{}{}
	s.items = append(s.items, TargetURL{URL: candidate, Provenance: p})
	return true
}

// Invalid returns how many candidates failed validation.
func (s *URLSet) Invalid() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalid
}

// Len returns the number of distinct URLs.
func (s *URLSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Freeze stops further additions and returns the URLs in insertion order.
func (s *URLSet) Freeze() []TargetURL {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
	return append([]TargetURL(nil), s.items...)
}
