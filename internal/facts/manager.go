// Package facts ties parsing, conflict resolution and storage together into
// the operations the CLI exposes.
package facts

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/Tiliavir/nark/internal/config"
	"github.com/Tiliavir/nark/internal/factoid"
	"github.com/Tiliavir/nark/internal/logger"
	"github.com/Tiliavir/nark/internal/model"
	"github.com/Tiliavir/nark/internal/storage"
	"github.com/Tiliavir/nark/internal/timecalc"
	"github.com/Tiliavir/nark/internal/timeline"
	"github.com/Tiliavir/nark/internal/timespec"
)

// ErrNoCurrent is returned by Stop and Cancel when nothing is being tracked.
var ErrNoCurrent = errors.New("no fact is being tracked")

// Manager runs fact operations against a store, one transaction each.
type Manager struct {
	Store  *storage.Store
	Config config.Config
	// Now is the clock; tests replace it.
	Now func() time.Time

	loc      *time.Location
	dayStart timespec.Clock
	log      *zap.SugaredLogger
}

// Result describes a stored fact and what happened to its neighbours.
type Result struct {
	// Fact is the stored fact; after a squash it is the ongoing fact that
	// absorbed the new one.
	Fact     model.Fact
	Edits    []timeline.Edit
	Squashed bool
	Ongoing  bool
	// ParseErr is a grammar problem tolerated by lenient parsing.
	ParseErr error
}

// New returns a Manager for store configured by cfg.
func New(store *storage.Store, cfg config.Config) (*Manager, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	dayStart, err := cfg.DayStart()
	if err != nil {
		return nil, err
	}
	return &Manager{
		Store:    store,
		Config:   cfg,
		Now:      time.Now,
		loc:      loc,
		dayStart: dayStart,
		log:      logger.Named("facts"),
	}, nil
}

func (m *Manager) now() time.Time {
	return timespec.Truncate(m.Now().In(m.loc))
}

// AddFactoid parses raw with the times hint implies and inserts the fact.
// Commands without times ("on", "now") parse leniently and start the fact
// now; a tolerated parse problem is reported in Result.ParseErr.
func (m *Manager) AddFactoid(ctx context.Context, raw string, hint factoid.TimeHint) (Result, error) {
	now := m.now()
	lenient := hint == factoid.VerifyNone
	rec, perr := factoid.Parse(raw, hint, factoid.Options{Now: now, Location: m.loc, Lenient: lenient})
	if perr != nil && !lenient {
		return Result{}, perr
	}
	if perr != nil {
		m.log.Warnw("factoid parsed leniently", "raw", raw, "error", perr)
	}

	fact, err := rec.Fact()
	if err != nil {
		return Result{}, err
	}
	if hint == factoid.VerifyNone && fact.Start == nil && fact.End == nil {
		fact.Start = model.TimePtr(now)
	}

	res, err := m.insert(ctx, fact, now)
	res.ParseErr = perr
	return res, err
}

// Insert places fact on the timeline, adjusting the facts in its way, and
// stores everything in one transaction.
func (m *Manager) Insert(ctx context.Context, fact model.Fact) (Result, error) {
	return m.insert(ctx, fact, m.now())
}

func (m *Manager) insert(ctx context.Context, fact model.Fact, now time.Time) (Result, error) {
	if err := fact.ResolveDeferred(now, m.loc); err != nil {
		return Result{}, err
	}

	var res Result
	err := m.Store.WithTx(ctx, func(tx *storage.Tx) error {
		r := timeline.NewResolver(tx, timeline.Options{
			Now:               now,
			AllowMomentaneous: m.Config.Time.AllowMomentaneous,
			SquashSep:         m.Config.Parser.SquashSep,
		})
		plan, err := r.InsertForcefully(ctx, fact)
		if err != nil {
			return err
		}
		stored, err := tx.Apply(ctx, plan)
		if err != nil {
			return err
		}
		res = Result{Fact: stored, Edits: plan.Edits, Squashed: plan.Squashed, Ongoing: plan.Ongoing}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	m.log.Debugw("fact inserted", "fact", res.Fact.String(), "edits", len(res.Edits))
	return res, nil
}

// Stop ends the ongoing fact at end, or now when end is nil.
func (m *Manager) Stop(ctx context.Context, end *time.Time) (Result, error) {
	at := m.now()
	if end != nil {
		at = timespec.Truncate(*end)
	}

	var res Result
	err := m.Store.WithTx(ctx, func(tx *storage.Tx) error {
		cur, err := tx.Current(ctx)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrNoCurrent
		}
		if at.Before(*cur.Start) {
			return errors.WithHint(
				errors.Wrapf(model.ErrStartAfterEnd, "cannot stop at %s, fact started %s",
					at.Format(time.DateTime), cur.Start.Format(time.DateTime)),
				"Pick a stop time after the fact started.")
		}
		stopped := cur.WithEnd(&at).Marked(model.ChangeEnd | model.ChangeStopped)
		saved, err := tx.Save(ctx, stopped)
		if err != nil {
			return err
		}
		res = Result{
			Fact:  saved,
			Edits: []timeline.Edit{{Edited: stopped, Original: *cur}},
		}
		return nil
	})
	return res, err
}

// Cancel deletes the ongoing fact and returns it. Without purge the fact is
// only flagged deleted.
func (m *Manager) Cancel(ctx context.Context, purge bool) (model.Fact, error) {
	var cancelled model.Fact
	err := m.Store.WithTx(ctx, func(tx *storage.Tx) error {
		cur, err := tx.Current(ctx)
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrNoCurrent
		}
		cancelled = *cur
		return tx.Remove(ctx, cur.PK, purge)
	})
	return cancelled, err
}

// Current returns the ongoing fact, or nil.
func (m *Manager) Current(ctx context.Context) (*model.Fact, error) {
	return m.Store.Current(ctx)
}

// Today lists the facts overlapping the current tracking day, which begins
// at the configured day start.
func (m *Manager) Today(ctx context.Context) ([]model.Fact, error) {
	start, end := m.TodayBounds()
	return m.Store.List(ctx, storage.Filter{Since: &start, Until: &end})
}

// TodayBounds is the current tracking day as [start, end).
func (m *Manager) TodayBounds() (time.Time, time.Time) {
	return timecalc.DayBounds(m.now(), m.dayStart)
}

// List returns facts matching f.
func (m *Manager) List(ctx context.Context, f storage.Filter) ([]model.Fact, error) {
	return m.Store.List(ctx, f)
}

// Location is the zone naive times are read in.
func (m *Manager) Location() *time.Location {
	return m.loc
}

// Clock returns the current time in the configured zone.
func (m *Manager) Clock() time.Time {
	return m.now()
}
