package timeline

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/nark/internal/model"
)

// memTimeline is an in-memory Timeline with the same lookup rules as the
// SQLite store.
type memTimeline struct {
	facts  []model.Fact
	nextPK int64
}

func (m *memTimeline) live() []model.Fact {
	var out []model.Fact
	for _, f := range m.facts {
		if !f.Deleted {
			out = append(out, f.Copy(true))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(*out[j].Start) })
	return out
}

func (m *memTimeline) add(f model.Fact) model.Fact {
	m.nextPK++
	f.PK = m.nextPK
	m.facts = append(m.facts, f)
	return f
}

func (m *memTimeline) StartingAt(_ context.Context, fact model.Fact) (*model.Fact, error) {
	return m.exact(fact, func(f model.Fact) bool { return f.Start.Equal(*fact.Start) })
}

func (m *memTimeline) EndingAt(_ context.Context, fact model.Fact) (*model.Fact, error) {
	return m.exact(fact, func(f model.Fact) bool { return f.End != nil && f.End.Equal(*fact.End) })
}

func (m *memTimeline) exact(fact model.Fact, match func(model.Fact) bool) (*model.Fact, error) {
	var found []model.Fact
	for _, f := range m.live() {
		if f.PK != fact.PK && match(f) {
			found = append(found, f)
		}
	}
	if len(found) > 1 {
		return nil, ErrIntegrity
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (m *memTimeline) Antecedent(_ context.Context, fact model.Fact) (*model.Fact, error) {
	ref := fact.Start
	if ref == nil {
		ref = fact.End
	}
	var best *model.Fact
	for _, f := range m.live() {
		if f.PK != fact.PK && f.Start.Before(*ref) {
			f := f
			best = &f
		}
	}
	return best, nil
}

func (m *memTimeline) Subsequent(_ context.Context, fact model.Fact) (*model.Fact, error) {
	ref := fact.End
	if ref == nil {
		ref = fact.Start
	}
	for _, f := range m.live() {
		if f.PK != fact.PK && f.Start.After(*ref) {
			return &f, nil
		}
	}
	return nil, nil
}

func (m *memTimeline) Surrounding(_ context.Context, t time.Time) ([]model.Fact, error) {
	var out []model.Fact
	for _, f := range m.live() {
		if f.Start.Before(t) && (f.End == nil || f.End.After(t)) {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memTimeline) StrictlyDuring(_ context.Context, start, end time.Time) ([]model.Fact, error) {
	var out []model.Fact
	for _, f := range m.live() {
		if !f.Start.Before(start) && f.End != nil && !f.End.After(end) {
			out = append(out, f)
		}
	}
	return out, nil
}

// apply persists a plan the simple way: edits replace rows in place.
func (m *memTimeline) apply(p Plan) {
	for _, e := range p.Edits {
		if e.Edited.PK == 0 {
			m.add(e.Edited.Copy(false))
			continue
		}
		for i := range m.facts {
			if m.facts[i].PK == e.Edited.PK {
				m.facts[i] = e.Edited.Copy(true)
			}
		}
	}
	if !p.Squashed {
		m.add(p.Fact.Copy(false))
	}
}

func clock(h, m int) *time.Time {
	return model.TimePtr(time.Date(2020, 1, 1, h, m, 0, 0, time.UTC))
}

func newResolver(tl Timeline) *Resolver {
	return NewResolver(tl, Options{Now: *clock(18, 0), SquashSep: "\n"})
}

func TestInsertIntoEmptyTimeline(t *testing.T) {
	tl := &memTimeline{}
	plan, err := newResolver(tl).InsertForcefully(context.Background(),
		model.Fact{Start: clock(9, 0), End: clock(10, 0), Activity: "work"})
	require.NoError(t, err)

	assert.Empty(t, plan.Edits)
	assert.False(t, plan.Ongoing)
	assert.False(t, plan.Squashed)
	assert.Equal(t, *clock(9, 0), *plan.Fact.Start)
	assert.Equal(t, *clock(10, 0), *plan.Fact.End)
}

func TestInsertInsideSplitsConflict(t *testing.T) {
	tl := &memTimeline{}
	tl.add(model.Fact{Start: clock(9, 0), End: clock(11, 0), Activity: "long"})
	stored := tl.facts[0].Copy(true)

	plan, err := newResolver(tl).InsertForcefully(context.Background(),
		model.Fact{Start: clock(10, 0), End: clock(10, 30), Activity: "short"})
	require.NoError(t, err)
	require.Len(t, plan.Edits, 2)

	left, right := plan.Edits[0].Edited, plan.Edits[1].Edited
	assert.Equal(t, int64(1), left.PK)
	assert.Equal(t, int64(1), left.SplitFrom)
	assert.Equal(t, *clock(9, 0), *left.Start)
	assert.Equal(t, *clock(10, 0), *left.End)
	assert.True(t, left.Dirty.Has(model.ChangeLSplit))

	assert.Equal(t, int64(0), right.PK)
	assert.Equal(t, int64(1), right.SplitFrom)
	assert.Equal(t, *clock(10, 30), *right.Start)
	assert.Equal(t, *clock(11, 0), *right.End)
	assert.True(t, right.Dirty.Has(model.ChangeRSplit))

	for _, e := range plan.Edits {
		assert.True(t, e.Original.Equal(stored))
	}
	assert.True(t, tl.facts[0].Equal(stored), "stored fact must not be modified")
}

func TestSquashIntoOngoing(t *testing.T) {
	tl := &memTimeline{}
	tl.facts = []model.Fact{{PK: 2, Start: clock(9, 0), Activity: "work", Tags: []string{"a"}, Description: "morning"}}

	plan, err := newResolver(tl).InsertForcefully(context.Background(),
		model.Fact{End: clock(12, 0), Tags: []string{"b"}, Description: "lunch"})
	require.NoError(t, err)

	assert.True(t, plan.Squashed)
	require.Len(t, plan.Edits, 1)
	sq := plan.Edits[0].Edited
	assert.Equal(t, int64(2), sq.PK)
	assert.Equal(t, *clock(12, 0), *sq.End)
	assert.Equal(t, []string{"a", "b"}, sq.Tags)
	assert.Equal(t, "morning\nlunch", sq.Description)
	assert.True(t, sq.Dirty.Has(model.ChangeSquash|model.ChangeStopped|model.ChangeEnd))
	assert.True(t, plan.Edits[0].Original.Ongoing())

	assert.True(t, plan.Fact.Deleted)
	assert.Equal(t, *clock(9, 0), *plan.Fact.Start)
	assert.Equal(t, *clock(12, 0), *plan.Fact.End)
}

func TestStartInferredFromAntecedent(t *testing.T) {
	tl := &memTimeline{}
	tl.add(model.Fact{Start: clock(8, 0), End: clock(9, 0)})

	plan, err := newResolver(tl).InsertForcefully(context.Background(), model.Fact{End: clock(10, 0)})
	require.NoError(t, err)
	assert.Empty(t, plan.Edits)
	assert.Equal(t, *clock(9, 0), *plan.Fact.Start)
}

func TestEndInferred(t *testing.T) {
	tl := &memTimeline{}
	tl.add(model.Fact{Start: clock(12, 0), End: clock(13, 0)})
	r := newResolver(tl)

	plan, err := r.InsertForcefully(context.Background(), model.Fact{Start: clock(10, 0)})
	require.NoError(t, err)
	assert.False(t, plan.Ongoing)
	assert.Equal(t, *clock(12, 0), *plan.Fact.End)

	plan, err = r.InsertForcefully(context.Background(), model.Fact{Start: clock(14, 0)})
	require.NoError(t, err)
	assert.True(t, plan.Ongoing)
	assert.Nil(t, plan.Fact.End)
}

func TestStartingStopsOngoing(t *testing.T) {
	tl := &memTimeline{}
	tl.add(model.Fact{Start: clock(9, 0), Activity: "old"})

	plan, err := newResolver(tl).InsertForcefully(context.Background(), model.Fact{Start: clock(11, 0)})
	require.NoError(t, err)
	assert.True(t, plan.Ongoing)
	require.Len(t, plan.Edits, 1)
	stopped := plan.Edits[0].Edited
	assert.Equal(t, *clock(11, 0), *stopped.End)
	assert.Equal(t, "end,stopped", stopped.Dirty.String())
}

func TestTouchingBoundariesDoNotConflict(t *testing.T) {
	tl := &memTimeline{}
	tl.add(model.Fact{Start: clock(9, 0), End: clock(10, 0)})
	tl.add(model.Fact{Start: clock(11, 0), End: clock(12, 0)})

	plan, err := newResolver(tl).InsertForcefully(context.Background(),
		model.Fact{Start: clock(10, 0), End: clock(11, 0)})
	require.NoError(t, err)
	assert.Empty(t, plan.Edits)
}

func TestSpanningFactDeletesAndTrims(t *testing.T) {
	tl := &memTimeline{}
	tl.add(model.Fact{Start: clock(8, 0), End: clock(9, 30)})
	tl.add(model.Fact{Start: clock(10, 0), End: clock(11, 0)})
	tl.add(model.Fact{Start: clock(11, 30), End: clock(13, 0)})

	plan, err := newResolver(tl).InsertForcefully(context.Background(),
		model.Fact{Start: clock(9, 0), End: clock(12, 0)})
	require.NoError(t, err)
	require.Len(t, plan.Edits, 3)

	assert.Equal(t, "end", plan.Edits[0].Edited.Dirty.String())
	assert.Equal(t, *clock(9, 0), *plan.Edits[0].Edited.End)
	assert.True(t, plan.Edits[1].Edited.Deleted)
	assert.Equal(t, "start", plan.Edits[2].Edited.Dirty.String())
	assert.Equal(t, *clock(12, 0), *plan.Edits[2].Edited.Start)
}

func TestSplitThenSpanRestoresInterval(t *testing.T) {
	tl := &memTimeline{}
	tl.add(model.Fact{Start: clock(9, 0), End: clock(11, 0), Activity: "long"})
	r := newResolver(tl)

	plan, err := r.InsertForcefully(context.Background(), model.Fact{Start: clock(10, 0), End: clock(10, 30)})
	require.NoError(t, err)
	tl.apply(plan)
	require.Len(t, tl.live(), 3)

	plan, err = r.InsertForcefully(context.Background(),
		model.Fact{Start: clock(9, 0), End: clock(11, 0), Activity: "long"})
	require.NoError(t, err)
	tl.apply(plan)

	live := tl.live()
	require.Len(t, live, 1)
	assert.Equal(t, *clock(9, 0), *live[0].Start)
	assert.Equal(t, *clock(11, 0), *live[0].End)
}

func TestMomentaneousExemption(t *testing.T) {
	for _, allow := range []bool{true, false} {
		for _, at := range []*time.Time{clock(9, 0), clock(10, 0)} {
			tl := &memTimeline{}
			tl.facts = []model.Fact{{PK: 5, Start: at, End: at}}
			r := NewResolver(tl, Options{Now: *clock(18, 0), AllowMomentaneous: allow})

			plan, err := r.InsertForcefully(context.Background(), model.Fact{Start: clock(9, 0), End: clock(10, 0)})
			require.NoError(t, err)

			if at.Equal(*clock(10, 0)) || allow {
				assert.Empty(t, plan.Edits, "allow=%v at=%s", allow, at)
			} else {
				require.Len(t, plan.Edits, 1)
				assert.True(t, plan.Edits[0].Edited.Deleted)
			}
		}
	}
}

func TestOwnKeyIsSkipped(t *testing.T) {
	tl := &memTimeline{}
	stored := tl.add(model.Fact{Start: clock(9, 0), End: clock(10, 0)})

	moved := stored.WithEnd(clock(10, 30))
	plan, err := newResolver(tl).InsertForcefully(context.Background(), moved)
	require.NoError(t, err)
	assert.Empty(t, plan.Edits)
	assert.Equal(t, stored.PK, plan.Fact.PK)
}

func TestUnresolvable(t *testing.T) {
	tl := &memTimeline{}
	r := newResolver(tl)
	ctx := context.Background()

	_, err := r.InsertForcefully(ctx, model.Fact{})
	assert.True(t, errors.Is(err, ErrUnresolvable))

	_, err = r.InsertForcefully(ctx, model.Fact{End: clock(10, 0)})
	assert.True(t, errors.Is(err, ErrUnresolvable))
	assert.Contains(t, err.Error(), "no prior timeline")

	_, err = r.InsertForcefully(ctx, model.Fact{Start: clock(19, 0)})
	assert.True(t, errors.Is(err, ErrUnresolvable))

	_, err = r.InsertForcefully(ctx, model.Fact{Start: clock(10, 0), End: clock(9, 0)})
	assert.True(t, errors.Is(err, ErrUnresolvable))
	assert.True(t, errors.Is(err, model.ErrStartAfterEnd))

	_, err = r.InsertForcefully(ctx, model.Fact{Start: clock(10, 0), End: clock(10, 0)})
	assert.True(t, errors.Is(err, ErrUnresolvable))

	tl.add(model.Fact{Start: clock(8, 0), End: clock(12, 0)})
	_, err = r.InsertForcefully(ctx, model.Fact{End: clock(10, 0)})
	assert.True(t, errors.Is(err, ErrUnresolvable))
}

func TestOngoingInsertTrimsFactRunningPastNow(t *testing.T) {
	tl := &memTimeline{}
	tl.add(model.Fact{Start: clock(9, 0), End: clock(12, 0), Activity: "meeting"})
	r := NewResolver(tl, Options{Now: *clock(11, 0)})

	plan, err := r.InsertForcefully(context.Background(), model.Fact{Start: clock(10, 30), Activity: "coffee"})
	require.NoError(t, err)
	assert.True(t, plan.Ongoing)
	assert.Nil(t, plan.Fact.End)
	require.Len(t, plan.Edits, 1)
	stopped := plan.Edits[0].Edited
	assert.Equal(t, int64(1), stopped.PK)
	assert.Equal(t, *clock(10, 30), *stopped.End)
	assert.Equal(t, "end", stopped.Dirty.String())

	tl.apply(plan)
	live := tl.live()
	require.Len(t, live, 2)
	assert.Equal(t, "coffee", live[1].Activity)
	assertNoOverlap(t, live, "after ongoing insert")
}

func TestOngoingInsertReplacesFactStartingWithIt(t *testing.T) {
	tl := &memTimeline{}
	tl.add(model.Fact{Start: clock(10, 0), End: clock(12, 0), Activity: "meeting"})
	r := NewResolver(tl, Options{Now: *clock(11, 0)})

	plan, err := r.InsertForcefully(context.Background(), model.Fact{Start: clock(10, 0), Activity: "coffee"})
	require.NoError(t, err)
	assert.True(t, plan.Ongoing)
	require.Len(t, plan.Edits, 1)
	assert.True(t, plan.Edits[0].Edited.Deleted)
}

// assertNoOverlap checks consecutive live facts, treating a missing end as
// open-ended.
func assertNoOverlap(t *testing.T, live []model.Fact, msg string) {
	t.Helper()
	for j := 1; j < len(live); j++ {
		prev, next := live[j-1], live[j]
		require.NotNil(t, prev.End, "%s: ongoing %s is followed by %s", msg, prev, next)
		require.False(t, next.Start.Before(*prev.End), "%s: %s overlaps %s", msg, prev, next)
	}
}

func TestRandomInsertsNeverOverlap(t *testing.T) {
	for _, seed := range []int64{0, 42, 7} {
		rng := rand.New(rand.NewSource(seed))
		tl := &memTimeline{}
		now := time.Date(2020, 1, 1, 18, 0, 0, 0, time.UTC)
		r := NewResolver(tl, Options{Now: now, SquashSep: "\n"})

		for i := 0; i < 300; i++ {
			s := time.Date(2020, 1, 1, 0, rng.Intn(24*4)*15, 0, 0, time.UTC)
			e := s.Add(time.Duration(1+rng.Intn(12)) * 15 * time.Minute)

			fact := model.Fact{Start: model.TimePtr(s), End: model.TimePtr(e)}
			switch rng.Intn(4) {
			case 0:
				fact.End = nil
			case 1:
				fact.Start = nil
			}

			plan, err := r.InsertForcefully(context.Background(), fact)
			if errors.Is(err, ErrUnresolvable) {
				continue
			}
			require.NoError(t, err, "seed %d iteration %d", seed, i)
			tl.apply(plan)
			assertNoOverlap(t, tl.live(), fmt.Sprintf("seed %d iteration %d", seed, i))
		}
	}
}
