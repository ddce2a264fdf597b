package storage

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/Tiliavir/nark/internal/model"
)

// StartingAt returns the live fact starting exactly at fact.Start.
func (c *conn) StartingAt(ctx context.Context, fact model.Fact) (*model.Fact, error) {
	if fact.Start == nil {
		return nil, errors.New("starting at: fact has no start")
	}
	return c.exactlyOne(ctx, "starting at", fact.Start,
		`deleted = 0 AND start_time = ? AND id != ?`, formatTime(fact.Start), fact.PK)
}

// EndingAt returns the live fact ending exactly at fact.End.
func (c *conn) EndingAt(ctx context.Context, fact model.Fact) (*model.Fact, error) {
	if fact.End == nil {
		return nil, errors.New("ending at: fact has no end")
	}
	return c.exactlyOne(ctx, "ending at", fact.End,
		`deleted = 0 AND end_time = ? AND id != ?`, formatTime(fact.End), fact.PK)
}

func (c *conn) exactlyOne(ctx context.Context, what string, at *time.Time, where string, args ...any) (*model.Fact, error) {
	found, err := c.selectFacts(ctx, where, args...)
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return &found[0], nil
	}
	return nil, errors.Wrapf(ErrIntegrity, "%d facts found %s %s", len(found), what, at.Format(time.DateTime))
}

// Antecedent returns the latest live fact starting before fact.Start, or
// before fact.End when the fact has no start.
func (c *conn) Antecedent(ctx context.Context, fact model.Fact) (*model.Fact, error) {
	ref := fact.Start
	if ref == nil {
		ref = fact.End
	}
	if ref == nil {
		return nil, errors.New("antecedent: fact has neither start nor end")
	}
	return c.first(ctx, `deleted = 0 AND id != ? AND start_time < ? ORDER BY start_time DESC LIMIT 1`,
		fact.PK, formatTime(ref))
}

// Subsequent returns the earliest live fact starting after fact.End, or
// after fact.Start when the fact has no end.
func (c *conn) Subsequent(ctx context.Context, fact model.Fact) (*model.Fact, error) {
	ref := fact.End
	if ref == nil {
		ref = fact.Start
	}
	if ref == nil {
		return nil, errors.New("subsequent: fact has neither start nor end")
	}
	return c.first(ctx, `deleted = 0 AND id != ? AND start_time > ? ORDER BY start_time ASC LIMIT 1`,
		fact.PK, formatTime(ref))
}

func (c *conn) first(ctx context.Context, where string, args ...any) (*model.Fact, error) {
	found, err := c.selectFacts(ctx, where, args...)
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return &found[0], nil
}

// Surrounding returns the live facts with start < t < end, including an
// ongoing fact that started before t.
func (c *conn) Surrounding(ctx context.Context, t time.Time) ([]model.Fact, error) {
	at := formatTime(&t)
	return c.selectFacts(ctx,
		`deleted = 0 AND start_time < ? AND (end_time > ? OR end_time IS NULL) ORDER BY start_time`, at, at)
}

// StrictlyDuring returns the live, closed facts within [start, end].
func (c *conn) StrictlyDuring(ctx context.Context, start, end time.Time) ([]model.Fact, error) {
	return c.selectFacts(ctx,
		`deleted = 0 AND start_time >= ? AND end_time <= ? ORDER BY start_time`,
		formatTime(&start), formatTime(&end))
}

// Endless returns live facts missing a start or an end.
func (c *conn) Endless(ctx context.Context) ([]model.Fact, error) {
	return c.selectFacts(ctx, `deleted = 0 AND (start_time IS NULL OR end_time IS NULL) ORDER BY start_time`)
}

// Current returns the ongoing fact, or nil when nothing is being tracked.
func (c *conn) Current(ctx context.Context) (*model.Fact, error) {
	found, err := c.selectFacts(ctx, `deleted = 0 AND end_time IS NULL ORDER BY start_time`)
	if err != nil {
		return nil, err
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return &found[0], nil
	}
	return nil, errors.Wrapf(ErrIntegrity, "%d ongoing facts", len(found))
}
