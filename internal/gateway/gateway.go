package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xscopehub/pgmcp/internal/metrics"
	"github.com/xscopehub/pgmcp/internal/types"
)

const (
	listTablesSQL = `SELECT table_name::text FROM information_schema.tables WHERE table_schema = 'public'`

	describeTableSQL = `SELECT column_name::text, data_type::text, is_nullable::text
FROM information_schema.columns
WHERE table_schema = 'public' AND table_name = $1
ORDER BY ordinal_position`
)

var tracer = otel.Tracer("github.com/xscopehub/pgmcp/internal/gateway")

// Querier is the subset of *pgx.Conn the gateway needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Config describes how to reach the database.
type Config struct {
	URL            string
	ConnectTimeout time.Duration
}

// Options carries optional collaborators.
type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Gateway owns the single database connection. All calls are serialized and
// RunReadOnly never returns with a transaction open.
type Gateway struct {
	conn    Querier
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	open atomic.Int32
}

// Open dials one connection and verifies it with a ping.
func Open(ctx context.Context, cfg Config, opts Options) (*Gateway, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("database url required")
	}

	connConfig, err := pgx.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(context.Background())
		return nil, &ConnectionError{Op: "ping", Err: err}
	}

	return New(conn, opts), nil
}

// New wraps an established connection.
func New(conn Querier, opts Options) *Gateway {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{conn: conn, logger: logger, metrics: opts.Metrics}
}

// OpenTransactions reports how many transactions are open right now.
func (g *Gateway) OpenTransactions() int {
	return int(g.open.Load())
}

// ListTables returns the names of the tables in the public schema.
func (g *Gateway) ListTables(ctx context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, span := tracer.Start(ctx, "gateway.ListTables")
	defer span.End()
	defer g.observe("list_tables", time.Now())

	rows, err := g.conn.Query(ctx, listTablesSQL)
	if err != nil {
		return nil, g.fail(span, classify("list tables", err))
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, g.fail(span, classify("list tables", err))
	}
	if names == nil {
		names = []string{}
	}
	sort.Strings(names)
	return names, nil
}

// DescribeTable returns the columns of a public table. The name is always
// sent as a bound parameter.
func (g *Gateway) DescribeTable(ctx context.Context, table string) ([]types.Column, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, span := tracer.Start(ctx, "gateway.DescribeTable")
	defer span.End()
	span.SetAttributes(attribute.String("db.table", table))
	defer g.observe("describe_table", time.Now())

	rows, err := g.conn.Query(ctx, describeTableSQL, table)
	if err != nil {
		return nil, g.fail(span, classify("describe table", err))
	}
	columns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Column, error) {
		var c types.Column
		err := row.Scan(&c.ColumnName, &c.DataType, &c.IsNullable)
		return c, err
	})
	if err != nil {
		return nil, g.fail(span, classify("describe table", err))
	}
	if len(columns) == 0 {
		return nil, g.fail(span, &TableNotFoundError{Table: table})
	}
	return columns, nil
}

// RunReadOnly executes sql inside a read-only transaction and always rolls
// the transaction back, whether the statement succeeded or not.
func (g *Gateway) RunReadOnly(ctx context.Context, sql string) ([]map[string]any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ctx, span := tracer.Start(ctx, "gateway.RunReadOnly")
	defer span.End()
	defer g.observe("run_read_only", time.Now())

	tx, err := g.conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, g.fail(span, &ConnectionError{Op: "begin", Err: err})
	}
	g.txOpened()
	defer g.rollback(ctx, tx)

	rows, err := tx.Query(ctx, sql)
	if err != nil {
		return nil, g.fail(span, &QueryExecutionError{Err: err})
	}
	result, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, g.fail(span, &QueryExecutionError{Err: err})
	}
	if result == nil {
		result = []map[string]any{}
	}
	span.SetAttributes(attribute.Int("db.rows", len(result)))
	return result, nil
}

// Ping checks the connection when the underlying value supports it.
func (g *Gateway) Ping(ctx context.Context) error {
	p, ok := g.conn.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := p.Ping(ctx); err != nil {
		return &ConnectionError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases the connection.
func (g *Gateway) Close(ctx context.Context) error {
	c, ok := g.conn.(interface{ Close(context.Context) error })
	if !ok {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return c.Close(ctx)
}

// rollback resolves tx. It runs on a context detached from cancellation so a
// cancelled request still releases its transaction.
func (g *Gateway) rollback(ctx context.Context, tx pgx.Tx) {
	err := tx.Rollback(context.WithoutCancel(ctx))
	g.txClosed()
	if err == nil || errors.Is(err, pgx.ErrTxClosed) {
		return
	}
	g.metrics.RollbackFailed()
	g.logger.Error("read-only transaction not resolved cleanly", "error", &RollbackError{Err: err})
}

func (g *Gateway) txOpened() {
	n := g.open.Add(1)
	g.metrics.SetOpenTransactions(int(n))
}

func (g *Gateway) txClosed() {
	n := g.open.Add(-1)
	g.metrics.SetOpenTransactions(int(n))
}

func (g *Gateway) observe(op string, start time.Time) {
	g.metrics.ObserveQuery(op, time.Since(start).Seconds())
}

func (g *Gateway) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// classify separates server-reported statement errors from failures of the
// connection itself.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &QueryExecutionError{Err: err}
	}
	return &ConnectionError{Op: op, Err: err}
}
