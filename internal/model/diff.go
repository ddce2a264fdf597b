package model

import (
	"strconv"
	"strings"
	"time"
)

// FieldDiff is one changed attribute between two versions of a fact.
type FieldDiff struct {
	Field string
	Old   string
	New   string
}

// Diff lists the attributes that differ between orig and edited, in a
// stable order.
func Diff(orig, edited Fact) []FieldDiff {
	var out []FieldDiff
	add := func(field, o, n string) {
		if o != n {
			out = append(out, FieldDiff{Field: field, Old: o, New: n})
		}
	}
	add("start", formatTime(orig.Start, ""), formatTime(edited.Start, ""))
	add("end", formatTime(orig.End, "<now>"), formatTime(edited.End, "<now>"))
	add("activity", orig.Activity, edited.Activity)
	add("category", orig.Category, edited.Category)
	add("tags", tagList(orig.Tags), tagList(edited.Tags))
	add("description", orig.Description, edited.Description)
	add("deleted", strconv.FormatBool(orig.Deleted), strconv.FormatBool(edited.Deleted))
	return out
}

func formatTime(t *time.Time, missing string) string {
	if t == nil {
		return missing
	}
	return t.Format(FactoidLayout)
}

func tagList(tags []string) string {
	norm := NormalizeTags(tags)
	for i, t := range norm {
		norm[i] = "#" + t
	}
	return strings.Join(norm, " ")
}
