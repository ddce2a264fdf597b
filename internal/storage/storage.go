// Package storage persists facts in SQLite and answers the timeline queries
// the conflict resolver needs.
package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/Tiliavir/nark/internal/logger"
	"github.com/Tiliavir/nark/internal/timeline"
)

var (
	// ErrNotFound is returned when a fact key does not exist.
	ErrNotFound = errors.New("fact not found")
	// ErrIntegrity is returned when stored facts overlap or more than one
	// fact is ongoing.
	ErrIntegrity = timeline.ErrIntegrity
	// ErrTimeframeOccupied is returned by Save when another fact already
	// covers part of the new fact's interval.
	ErrTimeframeOccupied = errors.New("timeframe already occupied")
	// ErrMinDelta is returned when a closed fact is shorter than the
	// configured minimum.
	ErrMinDelta = errors.New("fact is shorter than the minimum duration")
)

// timeLayout is how times are stored: UTC, so text order is time order.
const timeLayout = "2006-01-02 15:04:05"

const schema = `
CREATE TABLE IF NOT EXISTS facts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	activity    TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	start_time  TEXT,
	end_time    TEXT,
	description TEXT NOT NULL DEFAULT '',
	deleted     INTEGER NOT NULL DEFAULT 0,
	split_from  INTEGER REFERENCES facts(id)
);
CREATE INDEX IF NOT EXISTS idx_facts_start ON facts(start_time);
CREATE INDEX IF NOT EXISTS idx_facts_end ON facts(end_time);
CREATE INDEX IF NOT EXISTS idx_facts_deleted ON facts(deleted);

CREATE TABLE IF NOT EXISTS tags (
	id   INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS fact_tags (
	fact_id INTEGER NOT NULL REFERENCES facts(id) ON DELETE CASCADE,
	tag_id  INTEGER NOT NULL REFERENCES tags(id),
	PRIMARY KEY (fact_id, tag_id)
);
CREATE INDEX IF NOT EXISTS idx_fact_tags_tag ON fact_tags(tag_id);
`

// Options tune a Store.
type Options struct {
	// Location is the zone facts are returned in. Nil means time.Local.
	Location *time.Location
	// MinDelta is the shortest closed fact Save and Apply accept. Zero
	// disables the check.
	MinDelta time.Duration
}

// querier is the part of *sql.DB and *sql.Tx the queries need.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn holds the queries shared by Store and Tx.
type conn struct {
	q    querier
	opts Options
	log  *zap.SugaredLogger
}

// Store is a SQLite fact store. Reads run directly on the database; writes
// run inside a transaction.
type Store struct {
	conn
	db *sql.DB
}

// Tx is a Store bound to one transaction. It is a timeline.Timeline, so a
// reconciliation can read and write atomically.
type Tx struct {
	conn
	tx *sql.Tx
}

var (
	_ timeline.Timeline = (*Store)(nil)
	_ timeline.Timeline = (*Tx)(nil)
)

// Open opens or creates the database at path and applies the schema.
func Open(path string, opts Options) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "storage error creating database directory")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrapf(err, "storage error opening %s", path)
	}
	s := newStore(db, opts)
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "storage error migrating schema")
	}
	s.log.Debugw("opened database", "path", path)
	return s, nil
}

// newStore wraps an open database without touching the schema.
func newStore(db *sql.DB, opts Options) *Store {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Store{
		conn: conn{q: db, opts: opts, log: logger.Named("storage")},
		db:   db,
	}
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Location is the zone facts are returned in.
func (s *Store) Location() *time.Location {
	return s.opts.Location
}

// WithTx runs fn in a transaction, committing if fn returns nil and rolling
// back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "storage error starting transaction")
	}
	tx := &Tx{conn: conn{q: sqlTx, opts: s.opts, log: s.log}, tx: sqlTx}

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.log.Warnw("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return errors.Wrap(err, "storage error committing transaction")
	}
	return nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func (c *conn) parseTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(timeLayout, ns.String, time.UTC)
	if err != nil {
		return nil, errors.Wrapf(err, "storage error parsing time %q", ns.String)
	}
	t = t.In(c.opts.Location)
	return &t, nil
}
