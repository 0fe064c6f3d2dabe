package filter

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// InvalidFilterError names the piece of filter input that could not be parsed.
type InvalidFilterError struct {
	Kind  string
	Token string
	Err   error
}

func (e *InvalidFilterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s %q: %v", e.Kind, e.Token, e.Err)
	}
	return fmt.Sprintf("invalid %s %q", e.Kind, e.Token)
}

func (e *InvalidFilterError) Unwrap() error { return e.Err }

// ParseIDList parses comma-separated ids and inclusive ranges such as
// "1,4-7". When s names an existing file, the file is read instead, one
// entry per line; blank lines and lines starting with # are skipped. The
// result is deduplicated and ascending.
func ParseIDList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if looksLikeFile(s) {
		return parseIDFile(s)
	}
	return normalizeIDs(strings.Split(s, ","))
}

func looksLikeFile(s string) bool {
	if _, err := strconv.Atoi(s); err == nil {
		return false
	}
	info, err := os.Stat(s)
	return err == nil && !info.IsDir()
}

func parseIDFile(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open id list: %w", err)
	}
	defer func() { _ = f.Close() }()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, strings.Split(line, ",")...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read id list %s: %w", path, err)
	}
	return normalizeIDs(tokens)
}

// MaxIDs bounds how many ids one id list may name, ranges included.
const MaxIDs = 1_000_000

func normalizeIDs(tokens []string) ([]int, error) {
	seen := map[int]struct{}{}
	var ids []int
	add := func(id int) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, raw := range tokens {
		tok := strings.TrimSpace(raw)
		if tok == "" {
			return nil, &InvalidFilterError{Kind: "id list entry", Token: raw}
		}
		lo, hi, err := parseToken(tok)
		if err != nil {
			return nil, err
		}
		if hi-lo >= MaxIDs-len(ids) {
			return nil, &InvalidFilterError{Kind: "id range", Token: tok, Err: fmt.Errorf("more than %d ids", MaxIDs)}
		}
		for id := lo; id <= hi; id++ {
			add(id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}

// parseToken accepts "N" or "A-B". Reversed bounds are swapped.
func parseToken(tok string) (int, int, error) {
	parts := strings.Split(tok, "-")
	switch len(parts) {
	case 1:
		id, err := positiveInt(parts[0])
		if err != nil {
			return 0, 0, &InvalidFilterError{Kind: "id list entry", Token: tok, Err: err}
		}
		return id, id, nil
	case 2:
		lo, err := positiveInt(parts[0])
		if err != nil {
			return 0, 0, &InvalidFilterError{Kind: "id range", Token: tok, Err: err}
		}
		hi, err := positiveInt(parts[1])
		if err != nil {
			return 0, 0, &InvalidFilterError{Kind: "id range", Token: tok, Err: err}
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		return lo, hi, nil
	default:
		return 0, 0, &InvalidFilterError{Kind: "id range", Token: tok}
	}
}

func positiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, errors.New("not an integer")
	}
	if n <= 0 {
		return 0, errors.New("ids start at 1")
	}
	return n, nil
}

var relativeDate = regexp.MustCompile(`^(\d+)\s+(second|minute|hour|day|week|month|year)s?\s+ago$`)

// ParseDate parses a modification floor such as "2021-03-15", "Mar 3 2020",
// "yesterday" or "2 weeks ago".
func ParseDate(s string) (time.Time, error) {
	return ParseDateAt(s, time.Now())
}

// ParseDateAt is ParseDate relative to now.
func ParseDateAt(s string, now time.Time) (time.Time, error) {
	text := strings.ToLower(strings.TrimSpace(s))
	if text == "" {
		return time.Time{}, &InvalidFilterError{Kind: "date", Token: s}
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch text {
	case "now":
		return now, nil
	case "today":
		return midnight, nil
	case "yesterday":
		return midnight.AddDate(0, 0, -1), nil
	}
	if m := relativeDate.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, &InvalidFilterError{Kind: "date", Token: s, Err: err}
		}
		switch m[2] {
		case "second":
			return now.Add(-time.Duration(n) * time.Second), nil
		case "minute":
			return now.Add(-time.Duration(n) * time.Minute), nil
		case "hour":
			return now.Add(-time.Duration(n) * time.Hour), nil
		case "day":
			return now.AddDate(0, 0, -n), nil
		case "week":
			return now.AddDate(0, 0, -7*n), nil
		case "month":
			return now.AddDate(0, -n, 0), nil
		default:
			return now.AddDate(-n, 0, 0), nil
		}
	}
	t, err := dateparse.ParseIn(strings.TrimSpace(s), now.Location())
	if err != nil {
		return time.Time{}, &InvalidFilterError{Kind: "date", Token: s, Err: err}
	}
	return t, nil
}

// ParseStatus parses a comma-separated status list. A leading ^ inverts the
// rule. "any" or an empty string yields no rule.
func ParseStatus(s string) (*StatusRule, error) {
	text := strings.TrimSpace(s)
	if text == "" || strings.EqualFold(text, "any") {
		return nil, nil
	}
	rule := &StatusRule{}
	if strings.HasPrefix(text, "^") {
		rule.Negate = true
		text = strings.TrimSpace(strings.TrimPrefix(text, "^"))
	}
	seen := map[string]struct{}{}
	for _, raw := range strings.Split(text, ",") {
		st := strings.ToLower(strings.TrimSpace(raw))
		if st == "" || strings.ContainsAny(st, " \t^") {
			return nil, &InvalidFilterError{Kind: "status", Token: raw}
		}
		if _, dup := seen[st]; dup {
			continue
		}
		seen[st] = struct{}{}
		rule.Statuses = append(rule.Statuses, st)
	}
	return rule, nil
}

// Build parses all three filter inputs. Id list errors are reported before
// date errors, and date errors before status errors.
func Build(idList, lastmod, status string) (Spec, error) {
	spec := Spec{
		Requested: strings.TrimSpace(idList) != "" || strings.TrimSpace(lastmod) != "" || strings.TrimSpace(status) != "",
	}
	ids, err := ParseIDList(idList)
	if err != nil {
		return Spec{}, err
	}
	if strings.TrimSpace(idList) != "" {
		if len(ids) == 0 {
			return Spec{}, &InvalidFilterError{Kind: "id list", Token: idList, Err: errors.New("no ids")}
		}
		spec.IDs = ids
	}
	if strings.TrimSpace(lastmod) != "" {
		floor, err := ParseDate(lastmod)
		if err != nil {
			return Spec{}, err
		}
		spec.ModifiedAfter = &floor
	}
	rule, err := ParseStatus(status)
	if err != nil {
		return Spec{}, err
	}
	spec.Status = rule
	return spec, nil
}
