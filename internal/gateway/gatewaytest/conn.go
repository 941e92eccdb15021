// Package gatewaytest provides an in-memory connection for exercising the
// database gateway without a PostgreSQL server.
package gatewaytest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Result is the canned answer for one statement run inside a transaction.
type Result struct {
	Fields []string
	Rows   [][]any
	// Err is returned by Query itself.
	Err error
	// RowsErr surfaces from Rows.Err after iteration, the way pgx reports
	// most statement failures.
	RowsErr error
}

// Conn satisfies gateway.Querier and records transaction activity.
type Conn struct {
	Tables  []string
	Columns map[string][][]any
	Results map[string]Result

	QueryErr    error
	BeginErr    error
	RollbackErr error

	// OnStatement runs inside every transactional Query, while the
	// transaction is still open.
	OnStatement func(sql string)

	mu        sync.Mutex
	open      int
	maxOpen   int
	begins    int
	rollbacks int
	commits   int
	lastOpts  pgx.TxOptions
}

// Stats is a snapshot of the transaction counters.
type Stats struct {
	Open      int
	MaxOpen   int
	Begins    int
	Rollbacks int
	Commits   int
	LastOpts  pgx.TxOptions
}

// Stats returns the current counters.
func (c *Conn) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Open:      c.open,
		MaxOpen:   c.maxOpen,
		Begins:    c.begins,
		Rollbacks: c.rollbacks,
		Commits:   c.commits,
		LastOpts:  c.lastOpts,
	}
}

// Query answers the catalog statements issued outside transactions.
func (c *Conn) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	if c.QueryErr != nil {
		return nil, c.QueryErr
	}
	switch {
	case strings.Contains(sql, "information_schema.tables"):
		data := make([][]any, 0, len(c.Tables))
		for _, t := range c.Tables {
			data = append(data, []any{t})
		}
		return &Rows{Fields: []string{"table_name"}, Data: data}, nil
	case strings.Contains(sql, "information_schema.columns"):
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 bound argument, got %d", len(args))
		}
		table, _ := args[0].(string)
		return &Rows{Fields: []string{"column_name", "data_type", "is_nullable"}, Data: c.Columns[table]}, nil
	default:
		return nil, syntaxError(sql)
	}
}

// BeginTx opens a fake transaction.
func (c *Conn) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	if c.BeginErr != nil {
		return nil, c.BeginErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.begins++
	c.open++
	if c.open > c.maxOpen {
		c.maxOpen = c.open
	}
	c.lastOpts = opts
	return &Tx{conn: c, opts: opts}, nil
}

// Tx implements the pgx.Tx methods the gateway uses. Calling any other
// method panics.
type Tx struct {
	pgx.Tx
	conn   *Conn
	opts   pgx.TxOptions
	closed bool
}

// Query runs sql against the canned results.
func (t *Tx) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	if t.conn.OnStatement != nil {
		t.conn.OnStatement(sql)
	}
	if t.opts.AccessMode == pgx.ReadOnly && isWrite(sql) {
		return nil, &pgconn.PgError{
			Severity: "ERROR",
			Code:     "25006",
			Message:  fmt.Sprintf("cannot execute %s in a read-only transaction", firstWord(sql)),
		}
	}
	res, ok := t.conn.Results[sql]
	if !ok {
		return nil, syntaxError(sql)
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return &Rows{Fields: res.Fields, Data: res.Rows, RowsErr: res.RowsErr}, nil
}

// Rollback closes the transaction. RollbackErr is still reported but the
// transaction counts as resolved, matching pgx which closes the connection
// when a rollback fails.
func (t *Tx) Rollback(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.conn.mu.Lock()
	t.conn.open--
	t.conn.rollbacks++
	t.conn.mu.Unlock()
	return t.conn.RollbackErr
}

// Commit is counted so tests can assert it never happens.
func (t *Tx) Commit(context.Context) error {
	if t.closed {
		return pgx.ErrTxClosed
	}
	t.closed = true
	t.conn.mu.Lock()
	t.conn.open--
	t.conn.commits++
	t.conn.mu.Unlock()
	return nil
}

// Rows is a minimal pgx.Rows over in-memory values.
type Rows struct {
	Fields  []string
	Data    [][]any
	RowsErr error

	idx    int
	closed bool
}

func (r *Rows) Close() { r.closed = true }

func (r *Rows) Err() error { return r.RowsErr }

func (r *Rows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("SELECT %d", len(r.Data)))
}

func (r *Rows) FieldDescriptions() []pgconn.FieldDescription {
	fds := make([]pgconn.FieldDescription, len(r.Fields))
	for i, name := range r.Fields {
		fds[i] = pgconn.FieldDescription{Name: name}
	}
	return fds
}

func (r *Rows) Next() bool {
	if r.closed || r.RowsErr != nil || r.idx >= len(r.Data) {
		r.closed = true
		return false
	}
	r.idx++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if len(dest) == 1 {
		if rs, ok := dest[0].(pgx.RowScanner); ok {
			return rs.ScanRow(r)
		}
	}
	row := r.current()
	if len(dest) != len(row) {
		return fmt.Errorf("scan: %d destinations for %d columns", len(dest), len(row))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			s, ok := row[i].(string)
			if !ok {
				return fmt.Errorf("scan column %d: %T is not a string", i, row[i])
			}
			*p = s
		case *any:
			*p = row[i]
		default:
			return fmt.Errorf("scan column %d: unsupported destination %T", i, d)
		}
	}
	return nil
}

func (r *Rows) Values() ([]any, error) {
	row := r.current()
	out := make([]any, len(row))
	copy(out, row)
	return out, nil
}

func (r *Rows) RawValues() [][]byte { return nil }

func (r *Rows) Conn() *pgx.Conn { return nil }

func (r *Rows) current() []any {
	if r.idx == 0 || r.idx > len(r.Data) {
		return nil
	}
	return r.Data[r.idx-1]
}

// ErrConnDead mimics a dropped connection.
var ErrConnDead = errors.New("conn closed")

func isWrite(sql string) bool {
	switch strings.ToUpper(firstWord(sql)) {
	case "INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER", "TRUNCATE":
		return true
	}
	return false
}

func firstWord(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToUpper(fields[0])
}

func syntaxError(sql string) error {
	return &pgconn.PgError{
		Severity: "ERROR",
		Code:     "42601",
		Message:  fmt.Sprintf("syntax error at or near %q", firstWord(sql)),
	}
}
