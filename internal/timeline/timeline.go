// Package timeline reconciles a new fact with the facts already recorded so
// that no two non-deleted facts overlap.
package timeline

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/Tiliavir/nark/internal/model"
)

var (
	// ErrUnresolvable is returned when a fact cannot be placed on the
	// timeline, e.g. it has no start and nothing precedes it.
	ErrUnresolvable = errors.New("cannot place fact on timeline")
	// ErrIntegrity is returned by Timeline implementations that find the
	// stored facts already overlapping.
	ErrIntegrity = errors.New("timeline integrity violated")
)

// Timeline is the read side of a fact store. Lookups ignore deleted facts and
// the fact's own key. A miss is a nil fact or an empty slice, not an error.
type Timeline interface {
	// StartingAt finds the fact starting exactly at fact.Start.
	StartingAt(ctx context.Context, fact model.Fact) (*model.Fact, error)
	// EndingAt finds the fact ending exactly at fact.End.
	EndingAt(ctx context.Context, fact model.Fact) (*model.Fact, error)
	// Antecedent finds the latest fact starting before fact.Start, or before
	// fact.End when there is no start.
	Antecedent(ctx context.Context, fact model.Fact) (*model.Fact, error)
	// Subsequent finds the earliest fact starting after fact.End, or after
	// fact.Start when there is no end.
	Subsequent(ctx context.Context, fact model.Fact) (*model.Fact, error)
	// Surrounding finds facts with start < t < end, ongoing facts included.
	Surrounding(ctx context.Context, t time.Time) ([]model.Fact, error)
	// StrictlyDuring finds facts with start >= start and end <= end.
	StrictlyDuring(ctx context.Context, start, end time.Time) ([]model.Fact, error)
}
