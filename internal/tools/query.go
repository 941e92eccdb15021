package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xscopehub/pgmcp/internal/audit"
	"github.com/xscopehub/pgmcp/internal/registry"
	"github.com/xscopehub/pgmcp/internal/types"
)

// QueryDescriptor is the descriptor advertised for the query tool.
var QueryDescriptor = types.ToolDescriptor{
	Name:        "query",
	Description: "Run a read-only SQL query",
	InputSchema: json.RawMessage(`{"type":"object","properties":{"sql":{"type":"string"}},"required":["sql"]}`),
}

// Runner executes one statement in a read-only transaction.
type Runner interface {
	RunReadOnly(ctx context.Context, sql string) ([]map[string]any, error)
}

// Query runs client SQL through the gateway.
type Query struct {
	Runner Runner
	Audit  *audit.Logger
}

// Register adds the query tool to r.
func (q *Query) Register(r *registry.Registry) error {
	return r.RegisterTool(QueryDescriptor, q.Call)
}

// Call answers the rows as one JSON text block. Statement failures are
// reported in the envelope, not returned.
func (q *Query) Call(ctx context.Context, args map[string]any) (types.Envelope, error) {
	sql, ok := args["sql"].(string)
	if !ok {
		return types.ErrorEnvelope(types.KindTool, errors.New("sql must be a string")), nil
	}

	start := time.Now()
	rows, err := q.Runner.RunReadOnly(ctx, sql)
	entry := audit.Entry{
		RequestID: audit.RequestID(ctx),
		Statement: sql,
		Rows:      len(rows),
		Duration:  time.Since(start),
		Time:      start,
	}
	if err != nil {
		entry.Error = err.Error()
		q.Audit.Log(entry)
		return types.ErrorEnvelope(types.KindTool, err), nil
	}
	q.Audit.Log(entry)

	for _, row := range rows {
		for k, v := range row {
			row[k] = jsonValue(v)
		}
	}
	text, err := json.Marshal(rows)
	if err != nil {
		return types.ErrorEnvelope(types.KindTool, fmt.Errorf("encode rows: %w", err)), nil
	}
	return types.ToolResult(types.TextBlock(string(text))), nil
}

// jsonValue rewrites driver values whose default JSON form is unreadable.
func jsonValue(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case []any:
		for i := range x {
			x[i] = jsonValue(x[i])
		}
		return x
	default:
		return v
	}
}
