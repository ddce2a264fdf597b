package timeline

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/Tiliavir/nark/internal/logger"
	"github.com/Tiliavir/nark/internal/model"
)

// Options tune a Resolver.
type Options struct {
	// Now stands in for the open end of an ongoing fact. The zero value
	// means the wall clock, read once per InsertForcefully call.
	Now time.Time
	// AllowMomentaneous permits facts whose start equals their end.
	AllowMomentaneous bool
	// SquashSep joins descriptions when a continuation is squashed into the
	// ongoing fact.
	SquashSep string
}

// Edit pairs a conflicting fact as it was read with the version that makes
// room for the new fact.
type Edit struct {
	Edited   model.Fact
	Original model.Fact
}

// Plan is the outcome of placing one fact. Nothing is written; the caller
// persists Fact and Edits together.
type Plan struct {
	// Fact is the new fact with inferred boundaries. When Squashed, it is
	// the absorbed continuation, marked deleted.
	Fact  model.Fact
	Edits []Edit
	// Squashed reports that Fact was folded into the ongoing fact, which
	// appears among Edits.
	Squashed bool
	// Ongoing reports that Fact has no end and became the current fact.
	Ongoing bool
}

// Resolver computes the edits needed to insert a fact without overlaps.
type Resolver struct {
	Timeline Timeline
	Options  Options

	log *zap.SugaredLogger
}

// NewResolver returns a Resolver reading from tl.
func NewResolver(tl Timeline, opts Options) *Resolver {
	return &Resolver{Timeline: tl, Options: opts, log: logger.Named("timeline")}
}

func (r *Resolver) logger() *zap.SugaredLogger {
	if r.log == nil {
		r.log = logger.Named("timeline")
	}
	return r.log
}

// InsertForcefully places fact on the timeline. Missing boundaries are taken
// from the neighbouring facts; facts in the way are shortened, split,
// deleted or, for a start-less continuation of the ongoing fact, squashed.
// Facts read from the Timeline are never modified; every change is returned
// as a new value in Plan.Edits, ordered by start.
func (r *Resolver) InsertForcefully(ctx context.Context, fact model.Fact) (Plan, error) {
	if fact.Deferred() {
		return Plan{}, errors.Wrap(ErrUnresolvable, "fact times must be resolved first")
	}
	if fact.Start == nil && fact.End == nil {
		return Plan{}, errors.WithHint(
			errors.Wrap(ErrUnresolvable, "fact has neither start nor end"),
			"Give the fact a start time, an end time, or both.")
	}

	now := r.Options.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = *model.TimePtr(now)

	fact = fact.Copy(true)
	plan := Plan{}
	log := r.logger()

	var conflicts []model.Fact

	// Start edge.
	if fact.Start != nil {
		found, err := r.edge(ctx, fact, *fact.Start, r.Timeline.StartingAt)
		if err != nil {
			return Plan{}, errors.Wrap(err, "start boundary")
		}
		conflicts = append(conflicts, found...)
	} else {
		ante, err := r.Timeline.Antecedent(ctx, fact)
		if err != nil {
			return Plan{}, errors.Wrap(err, "start boundary")
		}
		switch {
		case ante == nil:
			return Plan{}, errors.WithHint(
				errors.Wrap(ErrUnresolvable, "must specify start: no prior timeline"),
				"The fact would be the first one recorded; give it a start time.")
		case ante.End == nil:
			conflicts = append(conflicts, *ante)
		case ante.End.After(*fact.End):
			return Plan{}, errors.Wrapf(ErrUnresolvable,
				"start boundary: end %s falls inside fact #%d",
				fact.End.Format(time.DateTime), ante.PK)
		default:
			fact.Start = model.TimePtr(*ante.End)
			log.Debugw("start inferred from antecedent", "pk", ante.PK, "start", *fact.Start)
		}
	}

	// End edge.
	if fact.End != nil {
		found, err := r.edge(ctx, fact, *fact.End, r.Timeline.EndingAt)
		if err != nil {
			return Plan{}, errors.Wrap(err, "end boundary")
		}
		conflicts = append(conflicts, found...)
	} else {
		sub, err := r.Timeline.Subsequent(ctx, fact)
		if err != nil {
			return Plan{}, errors.Wrap(err, "end boundary")
		}
		if sub != nil {
			if sub.Start == nil || !sub.Start.After(*fact.Start) {
				return Plan{}, errors.Wrapf(ErrIntegrity, "subsequent fact #%d does not start after %s",
					sub.PK, fact.Start.Format(time.DateTime))
			}
			fact.End = model.TimePtr(*sub.Start)
			log.Debugw("end inferred from subsequent", "pk", sub.PK, "end", *fact.End)
		} else {
			if now.Before(*fact.Start) {
				return Plan{}, errors.WithHint(
					errors.Wrapf(ErrUnresolvable, "end boundary: ongoing fact would start in the future (%s)",
						fact.Start.Format(time.DateTime)),
					"Give the fact an end time.")
			}
			// Provisional end for validation; conflicts are resolved as
			// if the fact had no end.
			fact.End = model.TimePtr(now)
			plan.Ongoing = true
			log.Debugw("no end and nothing after; fact is ongoing", "start", *fact.Start)
		}
	}

	if fact.Start != nil {
		if err := r.checkInterval(fact, plan.Ongoing); err != nil {
			return Plan{}, err
		}
		during, err := r.Timeline.StrictlyDuring(ctx, *fact.Start, *fact.End)
		if err != nil {
			return Plan{}, errors.Wrap(err, "facts during")
		}
		conflicts = append(conflicts, during...)
	}

	seen := make(map[int64]struct{}, len(conflicts))
	for _, c := range conflicts {
		if fact.PK != 0 && c.PK == fact.PK {
			continue
		}
		if _, ok := seen[c.PK]; ok {
			continue
		}
		seen[c.PK] = struct{}{}

		original := c.Copy(true)
		if fact.Start == nil {
			squashed, absorbed, err := r.squash(fact, c)
			if err != nil {
				return Plan{}, err
			}
			plan.Edits = append(plan.Edits, Edit{Edited: squashed, Original: original})
			plan.Squashed = true
			fact = absorbed
			continue
		}

		edited, err := r.resolve(fact, c, plan.Ongoing)
		if err != nil {
			return Plan{}, err
		}
		for _, e := range edited {
			log.Debugw("conflict resolved", "pk", c.PK, "change", e.Dirty.String())
			plan.Edits = append(plan.Edits, Edit{Edited: e, Original: original})
		}
	}

	sort.SliceStable(plan.Edits, func(i, j int) bool {
		return before(plan.Edits[i].Edited.Start, plan.Edits[j].Edited.Start)
	})

	if plan.Ongoing {
		fact.End = nil
	}
	plan.Fact = fact
	return plan, nil
}

type boundaryFunc func(context.Context, model.Fact) (*model.Fact, error)

// edge finds the fact surrounding t or, failing that, the fact sharing the
// boundary exactly.
func (r *Resolver) edge(ctx context.Context, fact model.Fact, t time.Time, exact boundaryFunc) ([]model.Fact, error) {
	found, err := r.Timeline.Surrounding(ctx, t)
	if err != nil {
		return nil, err
	}
	if len(found) > 1 {
		r.logger().Warnw("more than one fact surrounds instant", "count", len(found), "at", t)
	}
	if len(found) > 0 {
		return found, nil
	}
	c, err := exact(ctx, fact)
	if err != nil || c == nil {
		return nil, err
	}
	return []model.Fact{*c}, nil
}

func (r *Resolver) checkInterval(fact model.Fact, ongoing bool) error {
	if fact.End.Before(*fact.Start) {
		return errors.Mark(
			errors.Wrapf(model.ErrStartAfterEnd, "%s > %s",
				fact.Start.Format(time.DateTime), fact.End.Format(time.DateTime)),
			ErrUnresolvable)
	}
	if !ongoing && fact.Start.Equal(*fact.End) && !r.Options.AllowMomentaneous {
		return errors.WithHint(
			errors.Wrapf(ErrUnresolvable, "fact starts and ends at %s", fact.Start.Format(time.DateTime)),
			"Enable time.allow_momentaneous to record zero-length facts.")
	}
	return nil
}

func (r *Resolver) squash(fact, c model.Fact) (model.Fact, model.Fact, error) {
	if c.End != nil {
		return model.Fact{}, model.Fact{}, errors.Wrapf(ErrUnresolvable,
			"fact without start conflicts with closed fact #%d", c.PK)
	}
	squashed, absorbed, err := c.Squash(fact, r.Options.SquashSep)
	if err != nil {
		return model.Fact{}, model.Fact{}, errors.Mark(err, ErrUnresolvable)
	}
	squashed = squashed.Marked(model.ChangeStopped | model.ChangeEnd | model.ChangeSquash)
	r.logger().Debugw("squashed into ongoing fact", "pk", c.PK, "end", *squashed.End)
	return squashed, absorbed, nil
}

// resolve makes room for fact, which has both boundaries, in c. An ongoing
// fact reaches past its provisional end, so c is never split around it.
func (r *Resolver) resolve(fact, c model.Fact, ongoing bool) ([]model.Fact, error) {
	if c.Start == nil {
		return nil, errors.Wrapf(ErrIntegrity, "fact #%d has no start", c.PK)
	}
	switch {
	case !fact.Start.After(*c.Start):
		return r.startsBefore(fact, c, ongoing), nil
	case ongoing || c.End == nil || !fact.End.Before(*c.End):
		return endsAfter(fact, c), nil
	default:
		return split(fact, c), nil
	}
}

func (r *Resolver) startsBefore(fact, c model.Fact, ongoing bool) []model.Fact {
	switch {
	case !ongoing && !fact.End.After(*c.Start):
		return nil
	case c.End == nil && ongoing:
		// Both would be ongoing; the new fact replaces the old one.
		return []model.Fact{c.Marked(model.ChangeDeleted)}
	case ongoing || c.End != nil && !fact.End.Before(*c.End):
		if r.exempt(fact, c, ongoing) {
			return nil
		}
		return []model.Fact{c.Marked(model.ChangeDeleted)}
	default:
		return []model.Fact{c.WithStart(fact.End).Marked(model.ChangeStart)}
	}
}

func endsAfter(fact, c model.Fact) []model.Fact {
	if c.End != nil && !fact.Start.Before(*c.End) {
		return nil
	}
	k := model.ChangeEnd
	if c.End == nil {
		k |= model.ChangeStopped
	}
	return []model.Fact{c.WithEnd(fact.Start).Marked(k)}
}

func split(fact, c model.Fact) []model.Fact {
	left := c.WithEnd(fact.Start)
	left.SplitFrom = c.PK

	right := c.WithStart(fact.End)
	right.PK = 0
	right.SplitFrom = c.PK

	return []model.Fact{left.Marked(model.ChangeLSplit), right.Marked(model.ChangeRSplit)}
}

// exempt keeps a zero-length conflict that sits on either boundary of fact.
func (r *Resolver) exempt(fact, c model.Fact, ongoing bool) bool {
	if !r.Options.AllowMomentaneous || !c.Momentaneous() {
		return false
	}
	return c.Start.Equal(*fact.Start) || !ongoing && c.End.Equal(*fact.End)
}

func before(a, b *time.Time) bool {
	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	}
	return a.Before(*b)
}
