package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xscopehub/pgmcp/internal/audit"
	"github.com/xscopehub/pgmcp/internal/gateway"
	"github.com/xscopehub/pgmcp/internal/gateway/gatewaytest"
	"github.com/xscopehub/pgmcp/internal/registry"
	"github.com/xscopehub/pgmcp/internal/types"
)

func toolJSON(t *testing.T, env types.Envelope) string {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return string(b)
}

func TestQuerySelectOne(t *testing.T) {
	conn := &gatewaytest.Conn{Results: map[string]gatewaytest.Result{
		"SELECT 1 AS x": {Fields: []string{"x"}, Rows: [][]any{{int32(1)}}},
	}}
	q := &Query{Runner: gateway.New(conn, gateway.Options{})}

	env, err := q.Call(context.Background(), map[string]any{"sql": "SELECT 1 AS x"})
	require.NoError(t, err)
	assert.Equal(t, `{"content":[{"type":"text","text":"[{\"x\":1}]"}]}`, toolJSON(t, env))
}

func TestQueryEmptyResult(t *testing.T) {
	conn := &gatewaytest.Conn{Results: map[string]gatewaytest.Result{
		"SELECT id FROM users WHERE false": {Fields: []string{"id"}},
	}}
	q := &Query{Runner: gateway.New(conn, gateway.Options{})}

	env, err := q.Call(context.Background(), map[string]any{"sql": "SELECT id FROM users WHERE false"})
	require.NoError(t, err)
	require.False(t, env.IsError())
	assert.Equal(t, "[]", env.Tool.Content[0].Text)
}

func TestQueryUUIDRendering(t *testing.T) {
	id := [16]byte{0x55, 0x0e, 0x84, 0x00, 0xe2, 0x9b, 0x41, 0xd4, 0xa7, 0x16, 0x44, 0x66, 0x55, 0x44, 0x00, 0x00}
	conn := &gatewaytest.Conn{Results: map[string]gatewaytest.Result{
		"SELECT id FROM t": {Fields: []string{"id"}, Rows: [][]any{{id}}},
	}}
	q := &Query{Runner: gateway.New(conn, gateway.Options{})}

	env, err := q.Call(context.Background(), map[string]any{"sql": "SELECT id FROM t"})
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"550e8400-e29b-41d4-a716-446655440000"}]`, env.Tool.Content[0].Text)
}

func TestQueryStatementError(t *testing.T) {
	conn := &gatewaytest.Conn{Results: map[string]gatewaytest.Result{
		"SELECT * FROM missing": {Err: &pgconn.PgError{Severity: "ERROR", Code: "42P01", Message: `relation "missing" does not exist`}},
	}}
	q := &Query{Runner: gateway.New(conn, gateway.Options{})}

	env, err := q.Call(context.Background(), map[string]any{"sql": "SELECT * FROM missing"})
	require.NoError(t, err)
	require.True(t, env.IsError())
	assert.Equal(t, `Error: ERROR: relation "missing" does not exist (SQLSTATE 42P01)`, env.Tool.Content[0].Text)
	assert.Zero(t, conn.Stats().Open)
}

func TestQueryRejectedWrite(t *testing.T) {
	conn := &gatewaytest.Conn{}
	q := &Query{Runner: gateway.New(conn, gateway.Options{})}

	env, err := q.Call(context.Background(), map[string]any{"sql": "DELETE FROM users"})
	require.NoError(t, err)
	require.True(t, env.IsError())
	assert.Contains(t, env.Tool.Content[0].Text, "read-only transaction")
}

func TestQueryRegisterValidatesArguments(t *testing.T) {
	reg := registry.New()
	q := &Query{Runner: gateway.New(&gatewaytest.Conn{}, gateway.Options{})}
	require.NoError(t, q.Register(reg))

	h, ok := reg.Tool("query")
	require.True(t, ok)
	assert.Error(t, h.Validate(map[string]any{}))
	assert.Error(t, h.Validate(map[string]any{"sql": 42}))
	assert.NoError(t, h.Validate(map[string]any{"sql": "SELECT 1"}))
}

func TestQueryAudit(t *testing.T) {
	conn := &gatewaytest.Conn{Results: map[string]gatewaytest.Result{
		"SELECT 1 AS x": {Fields: []string{"x"}, Rows: [][]any{{int32(1)}}},
	}}
	var buf bytes.Buffer
	q := &Query{Runner: gateway.New(conn, gateway.Options{}), Audit: audit.New(true, &buf)}
	ctx := audit.WithRequestID(context.Background(), "req-1")

	_, err := q.Call(ctx, map[string]any{"sql": "SELECT 1 AS x"})
	require.NoError(t, err)
	_, err = q.Call(ctx, map[string]any{"sql": "DROP TABLE users"})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var ok, failed audit.Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ok))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &failed))
	assert.Equal(t, "req-1", ok.RequestID)
	assert.Equal(t, 1, ok.Rows)
	assert.Empty(t, ok.Error)
	assert.Equal(t, "DROP TABLE users", failed.Statement)
	assert.Contains(t, failed.Error, "read-only transaction")
}
