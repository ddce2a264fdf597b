package timespec

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2015, 12, 25, 18, 0, 0, 0, time.UTC)

func TestDiscern(t *testing.T) {
	tests := []struct {
		in       string
		wantKind Kind
		wantText string
		wantRest string
	}{
		{"now foo@bar", KindNow, "now", " foo@bar"},
		{"-30 foo", KindRelative, "-30", " foo"},
		{"+1h15m, foo", KindRelative, "+1h15m", " foo"},
		{"2h foo", KindRelative, "2h", " foo"},
		{"13:00 to 16:30: foo@bar", KindClock, "13:00", " to 16:30: foo@bar"},
		{"16:30: foo@bar", KindClock, "16:30", " foo@bar"},
		{"12:00:11 - 11:01:59", KindClock, "12:00:11", " - 11:01:59"},
		{"1300 foo", KindClock, "1300", " foo"},
		{"2030", KindClock, "2030", ""},
		{" 09:15 x", KindClock, "09:15", " x"},
		{"2015-12-12 13:00 foo@bar", KindDatetime, "2015-12-12 13:00", " foo@bar"},
		{"2015-12-12T13:00:00Z, foo", KindDatetime, "2015-12-12T13:00:00Z", " foo"},
		{"20151212 foo", KindDatetime, "20151212", " foo"},
		{"2015-12 foo", KindDatetime, "2015-12", " foo"},
		{"2015-12-12 13:00:01.5+01:00 x", KindDatetime, "2015-12-12 13:00:01.5+01:00", " x"},
	}
	for _, tt := range tests {
		tok, rest, ok := Discern(tt.in)
		require.True(t, ok, tt.in)
		assert.Equal(t, tt.wantKind, tok.Kind, tt.in)
		assert.Equal(t, tt.wantText, tok.Text, tt.in)
		assert.Equal(t, tt.wantRest, rest, tt.in)
	}
}

func TestDiscernRejects(t *testing.T) {
	for _, in := range []string{"", "foo@bar", "nowhere", "13:00foo", "yesterday at 3pm", "- 13:00", "12.30"} {
		_, rest, ok := Discern(in)
		assert.False(t, ok, in)
		assert.Equal(t, in, rest, in)
	}
}

func TestParseRelativeMinutes(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"-30", -30},
		{"+5", 5},
		{"15m", 15},
		{"+1h", 60},
		{"-1h15m", -75},
		{"-0", 0},
	}
	for _, tt := range tests {
		got, err := ParseRelativeMinutes(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseRelativeMinutes("+")
	assert.True(t, errors.Is(err, ErrInvalidDatetime))

	for _, in := range []string{
		"+99999999999999999999",
		"-9999999999999999",
		"+153722868m",
		"2562048h",
		"+2562047h60",
	} {
		_, err := ParseRelativeMinutes(in)
		assert.True(t, errors.Is(err, ErrOutOfRange), in)
	}

	got, err := ParseRelativeMinutes("+153722867")
	require.NoError(t, err)
	assert.Equal(t, 153722867, got)
}

func TestResolveRejectsHugeOffset(t *testing.T) {
	tok, _, ok := Discern("+99999999999999999999 foo")
	require.True(t, ok)
	_, err := tok.Resolve(now, nil, time.UTC)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestClockPlacement(t *testing.T) {
	c, err := ParseClock("11:01:59")
	require.NoError(t, err)
	assert.Equal(t, Clock{11, 1, 59}, c)

	anchor := time.Date(2015, 12, 25, 12, 0, 11, 0, time.UTC)
	assert.Equal(t, time.Date(2015, 12, 26, 11, 1, 59, 0, time.UTC), ClockAfter(anchor, c))
	assert.Equal(t, time.Date(2015, 12, 25, 11, 1, 59, 0, time.UTC), ClockPrior(anchor, c))
	assert.Equal(t, time.Date(2015, 12, 25, 11, 1, 59, 0, time.UTC), ClockOn(anchor, c))

	late := Clock{Hour: 13}
	assert.Equal(t, time.Date(2015, 12, 25, 13, 0, 0, 0, time.UTC), ClockAfter(anchor, late))
	assert.Equal(t, time.Date(2015, 12, 24, 13, 0, 0, 0, time.UTC), ClockPrior(anchor, late))

	_, err = ParseClock("25:00")
	assert.True(t, errors.Is(err, ErrOutOfRange))
	_, err = ParseClock("noon")
	assert.True(t, errors.Is(err, ErrInvalidDatetime))
}

func TestParseISO8601(t *testing.T) {
	berlin := time.FixedZone("CET", 3600)
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2015-12-12", time.Date(2015, 12, 12, 0, 0, 0, 0, berlin)},
		{"20151212", time.Date(2015, 12, 12, 0, 0, 0, 0, berlin)},
		{"2015-12", time.Date(2015, 12, 1, 0, 0, 0, 0, berlin)},
		{"2015", time.Date(2015, 1, 1, 0, 0, 0, 0, berlin)},
		{"2015-12-12 13:00", time.Date(2015, 12, 12, 13, 0, 0, 0, berlin)},
		{"2015-12-12T13", time.Date(2015, 12, 12, 13, 0, 0, 0, berlin)},
		{"2015-12-12T130005", time.Date(2015, 12, 12, 13, 0, 5, 0, berlin)},
		{"2015-12-12T13:00:05.25Z", time.Date(2015, 12, 12, 13, 0, 5, 250000000, time.UTC)},
		{"2015-12-12 13:00-0230", time.Date(2015, 12, 12, 15, 30, 0, 0, time.UTC)},
		{"2015-12-12 13:00+02", time.Date(2015, 12, 12, 11, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := ParseISO8601(tt.in, berlin)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %v want %v", tt.in, got, tt.want)
	}
}

func TestParseISO8601Errors(t *testing.T) {
	for _, in := range []string{"2018-W20", "201805", "2015-12-12 1", "tomorrow", "2015-12-12  13:00"} {
		_, err := ParseISO8601(in, time.UTC)
		assert.True(t, errors.Is(err, ErrInvalidDatetime), in)
		assert.Contains(t, err.Error(), in)
	}
	for _, in := range []string{"2015-13-01", "2015-02-30", "2015-12-12 24:00", "2015-12-12 13:61"} {
		_, err := ParseISO8601(in, time.UTC)
		assert.True(t, errors.Is(err, ErrOutOfRange), in)
		assert.False(t, errors.Is(err, ErrInvalidDatetime), in)
	}
}

func TestTokenResolve(t *testing.T) {
	tok, _, _ := Discern("-90")
	got, err := tok.Resolve(now, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-90*time.Minute), got)

	tok, _, _ = Discern("19:00")
	got, err = tok.Resolve(now, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2015, 12, 24, 19, 0, 0, 0, time.UTC), got)

	got, err = tok.Resolve(now, func(c Clock) time.Time { return ClockOn(now, c) }, nil)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2015, 12, 25, 19, 0, 0, 0, time.UTC), got)

	tok, _, _ = Discern("now")
	got, err = tok.Resolve(now, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, now, got)
}

func TestParseDated(t *testing.T) {
	got, err := ParseDated("  2015-12-12 13:00 ", now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2015, 12, 12, 13, 0, 0, 0, time.UTC), got)

	got, err = ParseDated("-15", now, nil)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-15*time.Minute), got)

	got, err = ParseDated("yesterday", now, nil)
	require.NoError(t, err)
	y, m, d := got.Date()
	assert.Equal(t, []int{2015, 12, 24}, []int{y, int(m), d})

	_, err = ParseDated("2015-13-01", now, nil)
	assert.True(t, errors.Is(err, ErrOutOfRange))

	_, err = ParseDated("flibbertigibbet", now, nil)
	assert.True(t, errors.Is(err, ErrInvalidDatetime))
	assert.Contains(t, err.Error(), "flibbertigibbet")

	_, err = ParseDated("", now, nil)
	assert.True(t, errors.Is(err, ErrInvalidDatetime))
}
