package model

import "strings"

// Change records why the resolver touched a fact. It is a bit set; the
// values are only used for display and diffing.
type Change uint8

const (
	ChangeStart Change = 1 << iota
	ChangeEnd
	ChangeDeleted
	ChangeSquash
	ChangeLSplit
	ChangeRSplit
	ChangeStopped
)

var changeNames = []struct {
	c    Change
	name string
}{
	{ChangeStart, "start"},
	{ChangeEnd, "end"},
	{ChangeDeleted, "deleted"},
	{ChangeSquash, "squash"},
	{ChangeLSplit, "lsplit"},
	{ChangeRSplit, "rsplit"},
	{ChangeStopped, "stopped"},
}

// Has reports whether every kind in k is set.
func (c Change) Has(k Change) bool {
	return c&k == k
}

func (c Change) String() string {
	var parts []string
	for _, n := range changeNames {
		if c.Has(n.c) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}
