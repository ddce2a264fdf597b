package model

import (
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/Tiliavir/nark/internal/timespec"
)

var (
	// ErrInvalidTimeType is returned when a fact time is set from a value
	// that is not a time, a time string or nil.
	ErrInvalidTimeType = errors.New("fact time must be a time.Time, a string or nil")
	// ErrStartAfterEnd is returned when a fact would end before it starts.
	ErrStartAfterEnd = errors.New("fact start is after its end")
	// ErrSquash is returned when two facts cannot be squashed together.
	ErrSquash = errors.New("cannot squash facts")
)

// Fact is one tracked interval. A nil Start means the start should be
// inferred from the timeline; a nil End means the fact is ongoing.
type Fact struct {
	PK          int64
	Start       *time.Time
	End         *time.Time
	Activity    string
	Category    string
	Tags        []string
	Description string
	Deleted     bool
	SplitFrom   int64
	Dirty       Change

	// Unparsed start/end text, resolved by ResolveDeferred.
	rawStart string
	rawEnd   string
}

// TimePtr returns a pointer to t truncated to whole seconds.
func TimePtr(t time.Time) *time.Time {
	t = timespec.Truncate(t)
	return &t
}

// SetStart accepts a time.Time, a *time.Time, a string to be resolved later
// by ResolveDeferred, or nil.
func (f *Fact) SetStart(v any) error {
	t, raw, err := timeValue(v)
	if err != nil {
		return errors.Wrap(err, "start")
	}
	f.Start, f.rawStart = t, raw
	return nil
}

// SetEnd is SetStart for the end time.
func (f *Fact) SetEnd(v any) error {
	t, raw, err := timeValue(v)
	if err != nil {
		return errors.Wrap(err, "end")
	}
	f.End, f.rawEnd = t, raw
	return nil
}

func timeValue(v any) (*time.Time, string, error) {
	switch tv := v.(type) {
	case nil:
		return nil, "", nil
	case time.Time:
		return TimePtr(tv), "", nil
	case *time.Time:
		if tv == nil {
			return nil, "", nil
		}
		return TimePtr(*tv), "", nil
	case string:
		if strings.TrimSpace(tv) == "" {
			return nil, "", nil
		}
		return nil, tv, nil
	}
	return nil, "", errors.Wrapf(ErrInvalidTimeType, "got %T", v)
}

// Deferred reports whether a start or end is still unparsed text.
func (f *Fact) Deferred() bool {
	return f.rawStart != "" || f.rawEnd != ""
}

// ResolveDeferred parses any string times set through SetStart/SetEnd.
func (f *Fact) ResolveDeferred(now time.Time, loc *time.Location) error {
	if f.rawStart != "" {
		t, err := timespec.ParseDated(f.rawStart, now, loc)
		if err != nil {
			return errors.Wrap(err, "start")
		}
		f.Start, f.rawStart = TimePtr(t), ""
	}
	if f.rawEnd != "" {
		t, err := timespec.ParseDated(f.rawEnd, now, loc)
		if err != nil {
			return errors.Wrap(err, "end")
		}
		f.End, f.rawEnd = TimePtr(t), ""
	}
	return f.Validate()
}

// Validate checks that the fact does not end before it starts.
func (f *Fact) Validate() error {
	if f.Start != nil && f.End != nil && f.Start.After(*f.End) {
		return errors.Wrapf(ErrStartAfterEnd, "%s > %s",
			f.Start.Format(time.DateTime), f.End.Format(time.DateTime))
	}
	return nil
}

// Ongoing reports whether the fact has no end.
func (f Fact) Ongoing() bool {
	return f.End == nil
}

// Momentaneous reports whether the fact starts and ends at the same instant.
func (f Fact) Momentaneous() bool {
	return f.Start != nil && f.End != nil && f.Start.Equal(*f.End)
}

// Duration is end minus start, using now for ongoing facts.
func (f Fact) Duration(now time.Time) time.Duration {
	if f.Start == nil {
		return 0
	}
	end := now
	if f.End != nil {
		end = *f.End
	}
	return end.Sub(*f.Start)
}

// Actegory renders "activity@category".
func (f Fact) Actegory() string {
	return f.Activity + "@" + f.Category
}

// Copy returns an independent copy. The change set is cleared; includePK
// decides whether the copy keeps the storage key.
func (f Fact) Copy(includePK bool) Fact {
	c := f
	if !includePK {
		c.PK = 0
	}
	c.Tags = append([]string(nil), f.Tags...)
	c.Start = copyTime(f.Start)
	c.End = copyTime(f.End)
	c.Dirty = 0
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// WithStart returns a copy with a new start, keeping key and change set.
func (f Fact) WithStart(t *time.Time) Fact {
	c := f.clone()
	c.Start = copyTime(t)
	return c
}

// WithEnd returns a copy with a new end, keeping key and change set.
func (f Fact) WithEnd(t *time.Time) Fact {
	c := f.clone()
	c.End = copyTime(t)
	return c
}

// Marked returns a copy with k added to its change set.
func (f Fact) Marked(k Change) Fact {
	c := f.clone()
	c.Dirty |= k
	if k.Has(ChangeDeleted) {
		c.Deleted = true
	}
	return c
}

func (f Fact) clone() Fact {
	dirty := f.Dirty
	c := f.Copy(true)
	c.Dirty = dirty
	return c
}

// NormalizeTags trims, de-duplicates and sorts tag names.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Tuple is a comparable projection of a fact, usable as a map key.
type Tuple struct {
	PK          int64
	Activity    string
	Category    string
	HasStart    bool
	Start       int64
	HasEnd      bool
	End         int64
	Description string
	Tags        string
	Deleted     bool
	SplitFrom   int64
}

// Tuple projects the fact. Tags compare as a set.
func (f Fact) Tuple() Tuple {
	t := Tuple{
		PK:          f.PK,
		Activity:    f.Activity,
		Category:    f.Category,
		Description: f.Description,
		Tags:        strings.Join(NormalizeTags(f.Tags), "\x00"),
		Deleted:     f.Deleted,
		SplitFrom:   f.SplitFrom,
	}
	if f.Start != nil {
		t.HasStart, t.Start = true, f.Start.UnixNano()
	}
	if f.End != nil {
		t.HasEnd, t.End = true, f.End.UnixNano()
	}
	return t
}

// Equal compares every stored field, including the key.
func (f Fact) Equal(o Fact) bool {
	return f.Tuple() == o.Tuple()
}

// EqualFields compares like Equal but ignores the key.
func (f Fact) EqualFields(o Fact) bool {
	a, b := f.Tuple(), o.Tuple()
	a.PK, b.PK = 0, 0
	return a == b
}

// Squash folds other, a continuation that carries only one of start or end,
// into f, which must be ongoing. The squashed fact ends where other starts
// (or ends), takes other's activity when other names one, and gains other's
// tags and description. The absorbed copy of other is returned marked
// deleted and spanning the squashed interval.
func (f Fact) Squash(other Fact, sep string) (squashed, absorbed Fact, err error) {
	switch {
	case f.Deleted || other.Deleted:
		return Fact{}, Fact{}, errors.Wrap(ErrSquash, "fact is deleted")
	case f.Start == nil || f.End != nil:
		return Fact{}, Fact{}, errors.Wrap(ErrSquash, "target must be ongoing with a start")
	case other.SplitFrom != 0:
		return Fact{}, Fact{}, errors.Wrap(ErrSquash, "continuation is a split")
	case other.Start != nil && other.End != nil:
		return Fact{}, Fact{}, errors.Wrap(ErrSquash, "continuation has both start and end")
	case other.Start == nil && other.End == nil:
		return Fact{}, Fact{}, errors.Wrap(ErrSquash, "continuation has neither start nor end")
	}

	squashed = f.clone()
	if other.Start != nil {
		squashed.End = copyTime(other.Start)
	} else {
		squashed.End = copyTime(other.End)
	}
	if squashed.End.Before(*squashed.Start) {
		return Fact{}, Fact{}, errors.Wrapf(ErrStartAfterEnd, "squash would end %s before it starts",
			squashed.End.Format(time.DateTime))
	}
	if other.Activity != "" || other.Category != "" {
		squashed.Activity, squashed.Category = other.Activity, other.Category
	}
	squashed.Tags = NormalizeTags(append(squashed.Tags, other.Tags...))
	if other.Description != "" {
		if squashed.Description != "" {
			squashed.Description += sep
		}
		squashed.Description += other.Description
	}

	absorbed = other.clone()
	absorbed.Deleted = true
	absorbed.Description = ""
	absorbed.Start = copyTime(squashed.Start)
	absorbed.End = copyTime(squashed.End)
	return squashed, absorbed, nil
}
