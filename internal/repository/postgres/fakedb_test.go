package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

// reply is what the fake database answers to one statement.
type reply struct {
	columns  []string
	rows     [][]driver.Value
	affected int64
	err      error
}

// fakeDB is a scripted database/sql driver. Each statement is answered by
// the first rule whose fragment occurs in the query text.
type fakeDB struct {
	rules []rule

	mu        sync.Mutex
	queries   []string
	commits   int
	rollbacks int
}

type rule struct {
	fragment string
	reply    reply
}

func newFakeDB(t *testing.T, rules ...rule) (*fakeDB, *sql.DB) {
	t.Helper()
	f := &fakeDB{rules: rules}
	db := sql.OpenDB(f)
	t.Cleanup(func() { _ = db.Close() })
	return f, db
}

func on(fragment string, r reply) rule { return rule{fragment: fragment, reply: r} }

func (f *fakeDB) answer(query string) reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	for _, r := range f.rules {
		if strings.Contains(query, r.fragment) {
			return r.reply
		}
	}
	return reply{err: errors.New("unexpected query: " + query)}
}

// ran reports, in order, which of fragments each executed statement matched.
func (f *fakeDB) ran(fragments ...string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, q := range f.queries {
		for _, frag := range fragments {
			if strings.Contains(q, frag) {
				out = append(out, frag)
				break
			}
		}
	}
	return out
}

func (f *fakeDB) txCounts() (commits, rollbacks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits, f.rollbacks
}

func (f *fakeDB) Connect(context.Context) (driver.Conn, error) { return &fakeConn{db: f}, nil }
func (f *fakeDB) Driver() driver.Driver                        { return fakeDriver{db: f} }

type fakeDriver struct{ db *fakeDB }

func (d fakeDriver) Open(string) (driver.Conn, error) { return &fakeConn{db: d.db}, nil }

type fakeConn struct{ db *fakeDB }

func (c *fakeConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) { return fakeTx{db: c.db}, nil }

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	r := c.db.answer(query)
	if r.err != nil {
		return nil, r.err
	}
	return &fakeRows{columns: r.columns, rows: r.rows}, nil
}

func (c *fakeConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	r := c.db.answer(query)
	if r.err != nil {
		return nil, r.err
	}
	return driver.RowsAffected(r.affected), nil
}

type fakeTx struct{ db *fakeDB }

func (t fakeTx) Commit() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.commits++
	return nil
}

func (t fakeTx) Rollback() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.rollbacks++
	return nil
}

type fakeRows struct {
	columns []string
	rows    [][]driver.Value
	next    int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.next >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.next])
	r.next++
	return nil
}
