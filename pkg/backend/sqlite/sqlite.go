// Package sqlite verifies a local SQLite mirror of the hosted schema.
//
// Row-level security is emulated with an optional policy table:
//
//	CREATE TABLE _rls_policies (entity TEXT PRIMARY KEY, anon_select INTEGER NOT NULL);
//
// An entity with anon_select = 0 refuses anonymous reads.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/cgast/schemaprobe/pkg/backend"
)

// PolicyTable is the table consulted for anonymous read policies.
const PolicyTable = "_rls_policies"

// DB is a read-only view over a SQLite database.
type DB struct {
	db        *sql.DB
	anonymous bool
}

// Open opens the existing database at path read-only. A missing file is an
// error; it is never created.
func Open(path string) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Anonymous returns a view that applies the policy table to reads.
func (d *DB) Anonymous() *DB {
	return &DB{db: d.db, anonymous: true}
}

// Clients wires the database into the harness collaborator set.
func (d *DB) Clients() backend.Clients {
	return backend.Clients{Query: d, Anonymous: d.Anonymous(), Auth: d}
}

// CountRows returns the number of rows in entity.
func (d *DB) CountRows(ctx context.Context, entity string) (int, error) {
	if err := d.check(ctx, entity); err != nil {
		return 0, err
	}
	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(entity)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", entity, err)
	}
	return n, nil
}

// FetchRows returns up to limit rows of entity.
func (d *DB) FetchRows(ctx context.Context, entity string, limit int) ([]backend.Record, error) {
	if err := d.check(ctx, entity); err != nil {
		return nil, err
	}
	rows, err := d.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(entity)+" LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch %s: %w", entity, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch %s: %w", entity, err)
	}

	var out []backend.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", entity, err)
		}
		rec := make(backend.Record, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[col] = string(b)
				continue
			}
			rec[col] = vals[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: fetch %s: %w", entity, err)
	}
	return out, nil
}

// CurrentIdentity always reports an anonymous caller; a local file has no
// auth service behind it.
func (d *DB) CurrentIdentity(ctx context.Context) (*backend.Identity, error) {
	if err := d.db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sqlite: identity: %w", err)
	}
	return nil, nil
}

// check resolves entity existence and, for anonymous views, its policy.
func (d *DB) check(ctx context.Context, entity string) error {
	ok, err := d.exists(ctx, entity)
	if err != nil {
		return err
	}
	if !ok {
		return backend.NotFound(entity, "no such table or view")
	}
	if !d.anonymous {
		return nil
	}

	hasPolicies, err := d.exists(ctx, PolicyTable)
	if err != nil || !hasPolicies {
		return err
	}
	var allowed int
	err = d.db.QueryRowContext(ctx,
		"SELECT anon_select FROM "+quoteIdent(PolicyTable)+" WHERE entity = ?", entity,
	).Scan(&allowed)
	switch {
	case err == sql.ErrNoRows:
		return nil
	case err != nil:
		return fmt.Errorf("sqlite: policy lookup %s: %w", entity, err)
	case allowed == 0:
		return backend.Denied(entity, "anonymous select disabled by policy")
	}
	return nil
}

func (d *DB) exists(ctx context.Context, name string) (bool, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table', 'view') AND name = ?", name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: lookup %s: %w", name, err)
	}
	return n > 0, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
