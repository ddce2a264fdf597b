package model

import (
	"strings"
	"time"
)

// FactoidLayout is the time layout used when serializing facts.
const FactoidLayout = time.DateTime

// TagStamps are the characters that introduce a tag in a factoid.
const TagStamps = "#@"

// Factoid renders the fact in the textual form the factoid parser reads:
//
//	2016-02-01 17:30:00 to 2016-02-01 18:10:00 plans@world: #tag 1 #tag 2, description
//
// An ongoing fact renders its start only. A fact with only an end renders
// the end alone and must be read back as an end time. Tags are sorted. A
// tagless description that starts with a stamp follows an empty tag
// section, as in "a@b, , #1 priority".
func (f Fact) Factoid() string {
	var b strings.Builder
	switch {
	case f.Start != nil && f.End != nil:
		b.WriteString(f.Start.Format(FactoidLayout))
		b.WriteString(" to ")
		b.WriteString(f.End.Format(FactoidLayout))
	case f.Start != nil:
		b.WriteString(f.Start.Format(FactoidLayout))
	case f.End != nil:
		b.WriteString(f.End.Format(FactoidLayout))
	}
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(f.Actegory())

	tags := NormalizeTags(f.Tags)
	if len(tags) > 0 {
		b.WriteString(":")
		for _, t := range tags {
			b.WriteString(" #")
			b.WriteString(t)
		}
	}
	if f.Description != "" {
		if len(tags) == 0 && strings.IndexAny(f.Description, TagStamps) == 0 {
			// An empty tag section keeps the description from being read as tags.
			b.WriteString(", ")
		}
		b.WriteString(", ")
		b.WriteString(f.Description)
	}
	return b.String()
}

// String is the one-line display form used in logs and the CLI.
func (f Fact) String() string {
	s := f.Factoid()
	if f.Ongoing() && f.Start != nil {
		s = strings.Replace(s, f.Start.Format(FactoidLayout), f.Start.Format(FactoidLayout)+" to <now>", 1)
	}
	if f.Deleted {
		s += " [deleted]"
	}
	return s
}
