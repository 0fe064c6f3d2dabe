package destination

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrMalformedTimeMap marks link-format content that could not be parsed.
var ErrMalformedTimeMap = errors.New("malformed timemap")

// Memento is one capture listed in a TimeMap.
type Memento struct {
	URI      string
	Datetime time.Time
}

// TimeMap is the parsed form of an RFC 7089 link-format TimeMap.
type TimeMap struct {
	Original string
	TimeGate string
	Self     string
	Mementos []Memento
}

// ParseTimeMap parses application/link-format content leniently: entries that
// cannot be parsed are skipped and reported through the returned error, which
// wraps ErrMalformedTimeMap. The TimeMap holds every entry that did parse.
func ParseTimeMap(body string) (TimeMap, error) {
	var (
		tm       TimeMap
		problems []string
	)
	p := linkParser{s: body}
	for {
		p.skip(func(c byte) bool { return isSpace(c) || c == ',' })
		if p.done() {
			break
		}
		uri, params, err := p.entry()
		if err != nil {
			problems = append(problems, err.Error())
			p.recover()
			continue
		}
		if perr := tm.add(uri, params); perr != nil {
			problems = append(problems, perr.Error())
		}
	}
	if len(problems) > 0 {
		return tm, fmt.Errorf("%w: %s", ErrMalformedTimeMap, strings.Join(problems, "; "))
	}
	return tm, nil
}

func (tm *TimeMap) add(uri string, params map[string]string) error {
	rels := strings.Fields(strings.ToLower(params["rel"]))
	has := func(want string) bool {
		for _, r := range rels {
			if r == want {
				return true
			}
		}
		return false
	}
	switch {
	case has("memento"):
		m := Memento{URI: uri}
		if dt, ok := params["datetime"]; ok {
			t, err := time.Parse(http.TimeFormat, dt)
			if err != nil {
				tm.Mementos = append(tm.Mementos, m)
				return fmt.Errorf("memento %s: bad datetime %q", uri, dt)
			}
			m.Datetime = t
		}
		tm.Mementos = append(tm.Mementos, m)
	case has("original"):
		tm.Original = uri
	case has("timegate"):
		tm.TimeGate = uri
	case has("self"):
		tm.Self = uri
	}
	return nil
}

// linkParser walks a link-format document one entry at a time.
type linkParser struct {
	s   string
	pos int
}

func (p *linkParser) done() bool { return p.pos >= len(p.s) }

func (p *linkParser) peek() byte { return p.s[p.pos] }

func (p *linkParser) skip(match func(byte) bool) {
	for !p.done() && match(p.peek()) {
		p.pos++
	}
}

// entry reads `<uri>; key="value"; key=value` up to the next top-level comma.
func (p *linkParser) entry() (string, map[string]string, error) {
	start := p.pos
	if p.peek() != '<' {
		return "", nil, fmt.Errorf("offset %d: expected '<'", start)
	}
	end := strings.IndexByte(p.s[p.pos:], '>')
	if end < 0 {
		return "", nil, fmt.Errorf("offset %d: unterminated uri", start)
	}
	uri := strings.TrimSpace(p.s[p.pos+1 : p.pos+end])
	p.pos += end + 1

	params := map[string]string{}
	for {
		p.skip(isSpace)
		if p.done() || p.peek() == ',' {
			return uri, params, nil
		}
		if p.peek() != ';' {
			return "", nil, fmt.Errorf("offset %d: expected ';' after %s", p.pos, uri)
		}
		p.pos++
		p.skip(isSpace)
		eq := strings.IndexByte(p.s[p.pos:], '=')
		if eq < 0 {
			return "", nil, fmt.Errorf("offset %d: parameter without value", p.pos)
		}
		key := strings.ToLower(strings.TrimSpace(p.s[p.pos : p.pos+eq]))
		if key == "" || strings.ContainsAny(key, ",;<>\"") {
			return "", nil, fmt.Errorf("offset %d: bad parameter name", p.pos)
		}
		p.pos += eq + 1
		p.skip(isSpace)
		value, err := p.value()
		if err != nil {
			return "", nil, err
		}
		params[key] = value
	}
}

func (p *linkParser) value() (string, error) {
	if p.done() {
		return "", fmt.Errorf("offset %d: missing value", p.pos)
	}
	if p.peek() == '"' {
		closing := strings.IndexByte(p.s[p.pos+1:], '"')
		if closing < 0 {
			return "", fmt.Errorf("offset %d: unterminated quoted value", p.pos)
		}
		v := p.s[p.pos+1 : p.pos+1+closing]
		p.pos += closing + 2
		return strings.TrimSpace(v), nil
	}
	start := p.pos
	p.skip(func(c byte) bool { return c != ';' && c != ',' && !isSpace(c) })
	return p.s[start:p.pos], nil
}

// recover moves past the current entry after a parse failure.
func (p *linkParser) recover() {
	p.pos++
	for !p.done() {
		if p.peek() == ',' {
			next := p.pos + 1
			for next < len(p.s) && isSpace(p.s[next]) {
				next++
			}
			if next >= len(p.s) || p.s[next] == '<' {
				p.pos = next
				return
			}
		}
		p.pos++
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
