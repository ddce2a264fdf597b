package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/Tiliavir/nark/internal/model"
	"github.com/Tiliavir/nark/internal/timeline"
)

const factColumns = `id, activity, category, start_time, end_time, description, deleted, split_from`

// selectFacts runs a query over facts and attaches their tags. The rows are
// drained before the tag query so a single connection suffices.
func (c *conn) selectFacts(ctx context.Context, where string, args ...any) ([]model.Fact, error) {
	query := `SELECT ` + factColumns + ` FROM facts WHERE ` + where
	c.log.Debugw("select facts", "where", where, "args", args)

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "storage error querying facts")
	}
	var facts []model.Fact
	for rows.Next() {
		f, err := c.scanFact(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, errors.Wrap(err, "storage error reading facts")
	}
	if err := rows.Close(); err != nil {
		return nil, errors.Wrap(err, "storage error closing rows")
	}

	if err := c.attachTags(ctx, facts); err != nil {
		return nil, err
	}
	return facts, nil
}

func (c *conn) scanFact(rows *sql.Rows) (model.Fact, error) {
	var (
		f          model.Fact
		start, end sql.NullString
		deleted    int
		splitFrom  sql.NullInt64
	)
	if err := rows.Scan(&f.PK, &f.Activity, &f.Category, &start, &end, &f.Description, &deleted, &splitFrom); err != nil {
		return model.Fact{}, errors.Wrap(err, "storage error scanning fact")
	}
	var err error
	if f.Start, err = c.parseTime(start); err != nil {
		return model.Fact{}, err
	}
	if f.End, err = c.parseTime(end); err != nil {
		return model.Fact{}, err
	}
	f.Deleted = deleted != 0
	f.SplitFrom = splitFrom.Int64
	return f, nil
}

func (c *conn) attachTags(ctx context.Context, facts []model.Fact) error {
	if len(facts) == 0 {
		return nil
	}
	index := make(map[int64]int, len(facts))
	args := make([]any, len(facts))
	for i, f := range facts {
		index[f.PK] = i
		args[i] = f.PK
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(facts)), ",")

	rows, err := c.q.QueryContext(ctx,
		`SELECT ft.fact_id, t.name FROM fact_tags ft JOIN tags t ON t.id = ft.tag_id
		 WHERE ft.fact_id IN (`+placeholders+`) ORDER BY t.name`, args...)
	if err != nil {
		return errors.Wrap(err, "storage error querying tags")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return errors.Wrap(err, "storage error scanning tag")
		}
		if i, ok := index[id]; ok {
			facts[i].Tags = append(facts[i].Tags, name)
		}
	}
	return errors.Wrap(rows.Err(), "storage error reading tags")
}

// Get returns the fact with the given key, deleted or not.
func (c *conn) Get(ctx context.Context, pk int64) (model.Fact, error) {
	found, err := c.selectFacts(ctx, `id = ?`, pk)
	if err != nil {
		return model.Fact{}, err
	}
	if len(found) == 0 {
		return model.Fact{}, errors.Wrapf(ErrNotFound, "fact #%d", pk)
	}
	return found[0], nil
}

// Filter narrows List. Zero fields do not filter.
type Filter struct {
	// Since and Until select facts overlapping [Since, Until).
	Since *time.Time
	Until *time.Time
	// Search matches activity, category or description, case-insensitively.
	Search   string
	Activity string
	Category string
	// Deleted includes deleted facts.
	Deleted bool
	Desc    bool
	Limit   int
}

// List returns facts matching f, ordered by start.
func (c *conn) List(ctx context.Context, f Filter) ([]model.Fact, error) {
	var (
		conds = []string{"start_time IS NOT NULL"}
		args  []any
	)
	if !f.Deleted {
		conds = append(conds, "deleted = 0")
	}
	if f.Since != nil {
		conds = append(conds, "(end_time IS NULL OR end_time > ?)")
		args = append(args, formatTime(f.Since))
	}
	if f.Until != nil {
		conds = append(conds, "start_time < ?")
		args = append(args, formatTime(f.Until))
	}
	if f.Activity != "" {
		conds = append(conds, "activity = ?")
		args = append(args, f.Activity)
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		conds = append(conds, "(LOWER(activity) LIKE ? OR LOWER(category) LIKE ? OR LOWER(description) LIKE ?)")
		args = append(args, like, like, like)
	}

	where := strings.Join(conds, " AND ") + " ORDER BY start_time"
	if f.Desc {
		where += " DESC"
	}
	where += ", id"
	if f.Limit > 0 {
		where += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return c.selectFacts(ctx, where, args...)
}

// Usage counts how often a name is used by live facts.
type Usage struct {
	Name     string
	Category string
	Count    int
}

// Tags returns tag usage, most used first.
func (c *conn) Tags(ctx context.Context) ([]Usage, error) {
	return c.usage(ctx,
		`SELECT t.name, '', COUNT(*) FROM tags t
		 JOIN fact_tags ft ON ft.tag_id = t.id
		 JOIN facts f ON f.id = ft.fact_id
		 WHERE f.deleted = 0
		 GROUP BY t.name ORDER BY COUNT(*) DESC, t.name`)
}

// Activities returns activity@category usage, most used first.
func (c *conn) Activities(ctx context.Context) ([]Usage, error) {
	return c.usage(ctx,
		`SELECT activity, category, COUNT(*) FROM facts
		 WHERE deleted = 0
		 GROUP BY activity, category ORDER BY COUNT(*) DESC, activity, category`)
}

func (c *conn) usage(ctx context.Context, query string) ([]Usage, error) {
	rows, err := c.q.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "storage error querying usage")
	}
	defer rows.Close()
	var out []Usage
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.Name, &u.Category, &u.Count); err != nil {
			return nil, errors.Wrap(err, "storage error scanning usage")
		}
		out = append(out, u)
	}
	return out, errors.Wrap(rows.Err(), "storage error reading usage")
}

// Save adds or updates a fact without touching any other fact. It fails
// with ErrTimeframeOccupied if the interval is not free.
func (t *Tx) Save(ctx context.Context, fact model.Fact) (model.Fact, error) {
	if fact.Start == nil {
		return model.Fact{}, errors.WithHint(errors.New("fact has no start"),
			"Use a factoid command to infer the start from earlier facts.")
	}
	if err := fact.Validate(); err != nil {
		return model.Fact{}, err
	}
	if err := t.checkMinDelta(fact); err != nil {
		return model.Fact{}, err
	}
	if err := t.checkFree(ctx, fact); err != nil {
		return model.Fact{}, err
	}
	if fact.PK != 0 {
		return t.supersede(ctx, fact)
	}
	return t.insert(ctx, fact)
}

func (c *conn) checkMinDelta(fact model.Fact) error {
	if c.opts.MinDelta <= 0 || fact.Start == nil || fact.End == nil || fact.Deleted {
		return nil
	}
	if d := fact.End.Sub(*fact.Start); d < c.opts.MinDelta {
		return errors.Wrapf(ErrMinDelta, "%s < %s", d, c.opts.MinDelta)
	}
	return nil
}

func (t *Tx) checkFree(ctx context.Context, fact model.Fact) error {
	var taken []model.Fact
	add := func(fs ...model.Fact) {
		for _, f := range fs {
			if f.PK != fact.PK {
				taken = append(taken, f)
			}
		}
	}

	around, err := t.Surrounding(ctx, *fact.Start)
	if err != nil {
		return err
	}
	add(around...)
	if same, err := t.StartingAt(ctx, fact); err != nil {
		return err
	} else if same != nil {
		add(*same)
	}

	if fact.End != nil {
		around, err := t.Surrounding(ctx, *fact.End)
		if err != nil {
			return err
		}
		add(around...)
		during, err := t.StrictlyDuring(ctx, *fact.Start, *fact.End)
		if err != nil {
			return err
		}
		add(during...)
	} else if next, err := t.Subsequent(ctx, fact); err != nil {
		return err
	} else if next != nil {
		add(*next)
	}

	if len(taken) > 0 {
		return errors.WithHintf(
			errors.Wrapf(ErrTimeframeOccupied, "conflicts with fact #%d (%s)", taken[0].PK, taken[0].String()),
			"%d conflicting fact(s); add it with a factoid command to adjust them automatically.", len(taken))
	}
	return nil
}

// Apply persists a reconciliation plan. Edited facts are superseded: the
// stored row is flagged deleted and the new version is inserted pointing
// back at it. Deleted edits only flag the row. The planned fact is inserted
// unless it was squashed into the ongoing fact. Apply returns the stored
// new fact, or the stored squashed fact.
func (t *Tx) Apply(ctx context.Context, plan timeline.Plan) (model.Fact, error) {
	var squashed model.Fact
	for _, e := range plan.Edits {
		stored, err := t.applyEdit(ctx, e.Edited)
		if err != nil {
			return model.Fact{}, errors.Wrapf(err, "applying %s to fact #%d", e.Edited.Dirty, e.Original.PK)
		}
		if e.Edited.Dirty.Has(model.ChangeSquash) {
			squashed = stored
		}
	}
	if plan.Squashed {
		return squashed, nil
	}

	fact := plan.Fact
	if plan.Ongoing {
		fact.End = nil
	}
	if err := t.checkMinDelta(fact); err != nil {
		return model.Fact{}, err
	}
	if fact.PK != 0 {
		return t.supersede(ctx, fact)
	}
	return t.insert(ctx, fact)
}

func (t *Tx) applyEdit(ctx context.Context, f model.Fact) (model.Fact, error) {
	switch {
	case f.PK == 0:
		return t.insert(ctx, f)
	case f.Deleted:
		return f, t.markDeleted(ctx, f.PK)
	default:
		return t.supersede(ctx, f)
	}
}

// supersede retires the stored row for f.PK and inserts f as its successor.
func (t *Tx) supersede(ctx context.Context, f model.Fact) (model.Fact, error) {
	if err := t.markDeleted(ctx, f.PK); err != nil {
		return model.Fact{}, err
	}
	next := f.Copy(false)
	next.SplitFrom = f.PK
	next.Deleted = false
	return t.insert(ctx, next)
}

func (t *Tx) markDeleted(ctx context.Context, pk int64) error {
	res, err := t.q.ExecContext(ctx, `UPDATE facts SET deleted = 1 WHERE id = ?`, pk)
	if err != nil {
		return errors.Wrapf(err, "storage error deleting fact #%d", pk)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "fact #%d", pk)
	}
	return nil
}

func (t *Tx) insert(ctx context.Context, f model.Fact) (model.Fact, error) {
	var splitFrom any
	if f.SplitFrom != 0 {
		splitFrom = f.SplitFrom
	}
	deleted := 0
	if f.Deleted {
		deleted = 1
	}
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO facts (activity, category, start_time, end_time, description, deleted, split_from)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.Activity, f.Category, formatTime(f.Start), formatTime(f.End), f.Description, deleted, splitFrom)
	if err != nil {
		return model.Fact{}, errors.Wrap(err, "storage error inserting fact")
	}
	pk, err := res.LastInsertId()
	if err != nil {
		return model.Fact{}, errors.Wrap(err, "storage error reading fact id")
	}

	stored := f.Copy(false)
	stored.PK = pk
	stored.Tags = model.NormalizeTags(f.Tags)
	for _, name := range stored.Tags {
		if err := t.tag(ctx, pk, name); err != nil {
			return model.Fact{}, err
		}
	}
	t.log.Debugw("inserted fact", "pk", pk, "fact", stored.String())
	return stored, nil
}

func (t *Tx) tag(ctx context.Context, pk int64, name string) error {
	if _, err := t.q.ExecContext(ctx, `INSERT OR IGNORE INTO tags (name) VALUES (?)`, name); err != nil {
		return errors.Wrapf(err, "storage error inserting tag %q", name)
	}
	_, err := t.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO fact_tags (fact_id, tag_id) SELECT ?, id FROM tags WHERE name = ?`, pk, name)
	return errors.Wrapf(err, "storage error tagging fact #%d", pk)
}

// Remove deletes a fact. Without purge the row is only flagged deleted and
// stays in the history.
func (t *Tx) Remove(ctx context.Context, pk int64, purge bool) error {
	if !purge {
		return t.markDeleted(ctx, pk)
	}
	if _, err := t.q.ExecContext(ctx, `UPDATE facts SET split_from = NULL WHERE split_from = ?`, pk); err != nil {
		return errors.Wrapf(err, "storage error unlinking fact #%d", pk)
	}
	if _, err := t.q.ExecContext(ctx, `DELETE FROM fact_tags WHERE fact_id = ?`, pk); err != nil {
		return errors.Wrapf(err, "storage error untagging fact #%d", pk)
	}
	res, err := t.q.ExecContext(ctx, `DELETE FROM facts WHERE id = ?`, pk)
	if err != nil {
		return errors.Wrapf(err, "storage error purging fact #%d", pk)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNotFound, "fact #%d", pk)
	}
	return nil
}

// Save runs Tx.Save in its own transaction.
func (s *Store) Save(ctx context.Context, fact model.Fact) (model.Fact, error) {
	var saved model.Fact
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		saved, err = tx.Save(ctx, fact)
		return err
	})
	return saved, err
}

// Apply runs Tx.Apply in its own transaction.
func (s *Store) Apply(ctx context.Context, plan timeline.Plan) (model.Fact, error) {
	var stored model.Fact
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		stored, err = tx.Apply(ctx, plan)
		return err
	})
	return stored, err
}

// Remove runs Tx.Remove in its own transaction.
func (s *Store) Remove(ctx context.Context, pk int64, purge bool) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.Remove(ctx, pk, purge)
	})
}
