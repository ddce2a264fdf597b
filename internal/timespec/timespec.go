// Package timespec recognizes the time tokens accepted on the command line
// and in factoids: "now", relative minute offsets, wall-clock times and
// ISO 8601 dates, plus friendly phrases such as "yesterday at 3pm".
package timespec

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrInvalidDatetime means the text could not be read as a time at all.
	ErrInvalidDatetime = errors.New("invalid datetime")
	// ErrOutOfRange means the text has a valid shape but names an impossible
	// value, such as month 13 or 25:00.
	ErrOutOfRange = errors.New("datetime out of range")
)

// Kind classifies a leading time token.
type Kind int

const (
	KindNone Kind = iota
	KindNow
	KindRelative
	KindClock
	KindDatetime
)

func (k Kind) String() string {
	switch k {
	case KindNow:
		return "now"
	case KindRelative:
		return "relative"
	case KindClock:
		return "clock"
	case KindDatetime:
		return "datetime"
	default:
		return "none"
	}
}

// Token is a time expression found at the head of a string, not yet turned
// into an instant.
type Token struct {
	Kind Kind
	Text string
}

const (
	relativePattern = `[-+]?\d+h|[-+](?:\d+h)?\d+m?`
	clockPattern    = `\d{1,2}:?\d{2}(?::\d{2})?`
	datePattern     = `\d{8}|\d{4}-\d{1,2}(?:-\d{1,2})?`
	timePattern     = `\d{2}(?::?\d{2}(?::?\d{2}(?:\.\d+)?)?)?`
	zonePattern     = `(?:Z|[+-]\d{2}(?::?\d{2})?)?`
)

// Group order: now, relative, clock, datetime, trailing boundary.
var reTimeSpec = regexp.MustCompile(
	`^\s?(?:(now)|(` + relativePattern + `)|(` + clockPattern + `)|((?:` + datePattern + `)(?:[ T]` + timePattern + zonePattern + `)?))[,:]?(\s|$)`,
)

// Discern looks for a time token at the start of s. The token may be
// preceded by one whitespace character and followed by a ',' or ':' item
// separator; it must end at whitespace or at the end of s. rest is whatever
// follows the token and its separator, leading whitespace included.
//
// Alternatives are tried in a fixed order (now, relative, clock, ISO), so
// four bare digits read as a clock time rather than a year.
func Discern(s string) (tok Token, rest string, ok bool) {
	m := reTimeSpec.FindStringSubmatchIndex(s)
	if m == nil {
		return Token{}, s, false
	}
	kinds := []Kind{KindNow, KindRelative, KindClock, KindDatetime}
	for i, k := range kinds {
		g := (i + 1) * 2
		if m[g] >= 0 {
			tok = Token{Kind: k, Text: s[m[g]:m[g+1]]}
			break
		}
	}
	boundary := m[len(m)-2]
	return tok, s[boundary:], true
}

// Resolve turns the token into an instant. Relative offsets and "now" are
// taken from now; clock times are placed by place, which defaults to the most
// recent occurrence at or before now; ISO values without a zone use loc.
func (tok Token) Resolve(now time.Time, place func(Clock) time.Time, loc *time.Location) (time.Time, error) {
	switch tok.Kind {
	case KindNow:
		return now, nil
	case KindRelative:
		mins, err := ParseRelativeMinutes(tok.Text)
		if err != nil {
			return time.Time{}, err
		}
		return now.Add(time.Duration(mins) * time.Minute), nil
	case KindClock:
		c, err := ParseClock(tok.Text)
		if err != nil {
			return time.Time{}, err
		}
		if place == nil {
			return ClockPrior(now, c), nil
		}
		return place(c), nil
	case KindDatetime:
		if loc == nil {
			loc = now.Location()
		}
		return ParseISO8601(tok.Text, loc)
	}
	return time.Time{}, errors.Wrapf(ErrInvalidDatetime, "no time token in %q", tok.Text)
}

var reRelative = regexp.MustCompile(`^([-+])?(?:(\d+)h)?(?:(\d+)m?)?$`)

// maxOffsetMinutes is the largest offset that still fits a time.Duration.
const maxOffsetMinutes = int64(math.MaxInt64 / int64(time.Minute))

// ParseRelativeMinutes reads offsets like "-30", "+1h", "-1h15m" and returns
// the signed number of minutes.
func ParseRelativeMinutes(s string) (int, error) {
	m := reRelative.FindStringSubmatch(s)
	if m == nil || (m[2] == "" && m[3] == "") {
		return 0, errors.Wrapf(ErrInvalidDatetime, "not a relative time: %q", s)
	}
	var mins int64
	if m[2] != "" {
		h, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil || h > maxOffsetMinutes/60 {
			return 0, errors.Wrapf(ErrOutOfRange, "relative time %q", s)
		}
		mins = h * 60
	}
	if m[3] != "" {
		n, err := strconv.ParseInt(m[3], 10, 64)
		if err != nil || n > maxOffsetMinutes-mins {
			return 0, errors.Wrapf(ErrOutOfRange, "relative time %q", s)
		}
		mins += n
	}
	if m[1] == "-" {
		mins = -mins
	}
	return int(mins), nil
}

// Clock is a time of day without a date.
type Clock struct {
	Hour, Minute, Second int
}

var reClock = regexp.MustCompile(`^(\d{1,2}):?(\d{2})(?::(\d{2}))?$`)

// ParseClock reads "HH:MM", "HHMM" or "HH:MM:SS".
func ParseClock(s string) (Clock, error) {
	m := reClock.FindStringSubmatch(s)
	if m == nil {
		return Clock{}, errors.Wrapf(ErrInvalidDatetime, "not a clock time: %q", s)
	}
	var c Clock
	c.Hour, _ = strconv.Atoi(m[1])
	c.Minute, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		c.Second, _ = strconv.Atoi(m[3])
	}
	if c.Hour > 23 || c.Minute > 59 || c.Second > 59 {
		return Clock{}, errors.Wrapf(ErrOutOfRange, "clock time %q", s)
	}
	return c, nil
}

// ClockOn places c on the calendar day of day.
func ClockOn(day time.Time, c Clock) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, c.Second, 0, day.Location())
}

// ClockPrior returns the latest occurrence of c at or before anchor.
func ClockPrior(anchor time.Time, c Clock) time.Time {
	t := ClockOn(anchor, c)
	if t.After(anchor) {
		t = t.AddDate(0, 0, -1)
	}
	return t
}

// ClockAfter returns the earliest occurrence of c at or after anchor,
// wrapping to the next day when c is earlier than anchor's time of day.
func ClockAfter(anchor time.Time, c Clock) time.Time {
	t := ClockOn(anchor, c)
	if t.Before(anchor) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// ParseDated resolves a whole string to an instant: a single time token,
// then strict ISO 8601, then a friendly phrase. Clock times resolve to their
// most recent occurrence.
func ParseDated(s string, now time.Time, loc *time.Location) (time.Time, error) {
	text := strings.TrimSpace(s)
	if text == "" {
		return time.Time{}, errors.Wrap(ErrInvalidDatetime, "empty time")
	}
	if loc == nil {
		loc = now.Location()
	}
	if tok, rest, ok := Discern(text); ok && strings.TrimSpace(rest) == "" {
		return tok.Resolve(now, nil, loc)
	}
	t, err := ParseISO8601(text, loc)
	if err == nil || errors.Is(err, ErrOutOfRange) {
		return t, err
	}
	return ParseFriendly(text, now)
}

// Truncate drops sub-second precision.
func Truncate(t time.Time) time.Time {
	return t.Truncate(time.Second)
}
