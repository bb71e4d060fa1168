package result

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Entry is one catalogued result.
type Entry struct {
	ID       uuid.UUID
	Name     string
	Sample   string
	Datetime time.Time
	Dir      string
}

// Catalog indexes saved results in a SQLite database.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens or creates the catalog at dsn. ":memory:" gives a
// private in-memory catalog.
func OpenCatalog(dsn string) (*Catalog, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	// one connection keeps an in-memory database alive and serialises writers
	db.SetMaxOpenConns(1)

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate catalog")
	}
	return c, nil
}

// datetimeLayout is fixed width so that datetimes sort as text.
const datetimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (c *Catalog) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		sample TEXT NOT NULL,
		datetime TEXT NOT NULL,
		dir TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_results_sample ON results(sample, name);
	`
	_, err := c.db.Exec(schema)
	return err
}

func (c *Catalog) Close() error { return c.db.Close() }

// Record adds r, saved in dir, replacing an entry with the same id.
func (c *Catalog) Record(ctx context.Context, r *Result, dir string) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO results (id, name, sample, datetime, dir) VALUES (?, ?, ?, ?, ?)`,
		r.ID.String(), r.Name, r.Sample, r.Datetime.UTC().Format(datetimeLayout), dir)
	return err
}

// List returns the entries of sample, newest first. An empty sample lists
// every entry.
func (c *Catalog) List(ctx context.Context, sample string) ([]Entry, error) {
	query := `SELECT id, name, sample, datetime, dir FROM results`
	var args []any
	if sample != "" {
		query += ` WHERE sample = ?`
		args = append(args, sample)
	}
	query += ` ORDER BY datetime DESC`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var id, dt string
		if err := rows.Scan(&id, &e.Name, &e.Sample, &dt, &e.Dir); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, errors.Wrapf(err, "entry %q", id)
		}
		if e.Datetime, err = time.Parse(datetimeLayout, dt); err != nil {
			return nil, errors.Wrapf(err, "entry %q", id)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Remove deletes the entry with the given id. Removing an unknown id is not
// an error.
func (c *Catalog) Remove(ctx context.Context, id uuid.UUID) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM results WHERE id = ?`, id.String())
	return err
}
