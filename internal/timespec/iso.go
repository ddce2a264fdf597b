package timespec

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Accepted shapes:
//
//	dates: YYYY-MM-DD | YYYYMMDD | YYYY-MM | YYYY
//	times: hh:mm:ss(.f) | hhmmss(.f) | hh:mm | hhmm | hh
//	zones: Z | +hh:mm | +hhmm | +hh
//
// Date and time are joined by 'T' or a single space.
var reISO8601 = regexp.MustCompile(
	`^(?:(\d{4})-(\d{1,2})(?:-(\d{1,2}))?|(\d{4})(\d{2})(\d{2})|(\d{4}))` +
		`(?:[ T](\d{2})(?::?(\d{2})(?::?(\d{2})(?:[.,](\d+))?)?)?` +
		`(Z|[+-]\d{2}(?::?\d{2})?)?)?$`,
)

// ParseISO8601 parses s strictly. Values without a zone designator are
// placed in loc.
func ParseISO8601(s string, loc *time.Location) (time.Time, error) {
	m := reISO8601.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return time.Time{}, errors.Wrapf(ErrInvalidDatetime, "unable to parse iso8601 datetime %q", s)
	}
	if loc == nil {
		loc = time.Local
	}

	year, month, day := 0, 1, 1
	switch {
	case m[1] != "":
		year = atoi(m[1])
		month = atoi(m[2])
		if m[3] != "" {
			day = atoi(m[3])
		}
	case m[4] != "":
		year, month, day = atoi(m[4]), atoi(m[5]), atoi(m[6])
	default:
		year = atoi(m[7])
	}

	hour, minute, second, nsec := atoi(m[8]), atoi(m[9]), atoi(m[10]), fraction(m[11])
	if m[12] != "" {
		z, err := zone(m[12])
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "iso8601 datetime %q", s)
		}
		loc = z
	}

	if month < 1 || month > 12 || day < 1 || day > 31 ||
		hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, errors.Wrapf(ErrOutOfRange, "iso8601 datetime %q", s)
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, nsec, loc)
	if t.Day() != day {
		// time.Date normalized something like Feb 30.
		return time.Time{}, errors.Wrapf(ErrOutOfRange, "iso8601 datetime %q", s)
	}
	return t, nil
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

func fraction(s string) int {
	if s == "" {
		return 0
	}
	if len(s) > 9 {
		s = s[:9]
	}
	s += strings.Repeat("0", 9-len(s))
	return atoi(s)
}

func zone(s string) (*time.Location, error) {
	if s == "Z" {
		return time.UTC, nil
	}
	sign := 1
	if s[0] == '-' {
		sign = -1
	}
	digits := strings.ReplaceAll(s[1:], ":", "")
	h := atoi(digits[:2])
	mins := 0
	if len(digits) == 4 {
		mins = atoi(digits[2:])
	}
	if h > 23 || mins > 59 {
		return nil, errors.Wrapf(ErrOutOfRange, "zone offset %q", s)
	}
	return time.FixedZone("", sign*(h*3600+mins*60)), nil
}
