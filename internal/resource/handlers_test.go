package resource

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xscopehub/pgmcp/internal/gateway"
	"github.com/xscopehub/pgmcp/internal/metrics"
	"github.com/xscopehub/pgmcp/internal/registry"
	"github.com/xscopehub/pgmcp/internal/types"
)

type fakeCatalog struct {
	tables  []string
	columns map[string][]types.Column
	listErr error
}

func (f *fakeCatalog) ListTables(context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tables, nil
}

func (f *fakeCatalog) DescribeTable(_ context.Context, table string) ([]types.Column, error) {
	cols, ok := f.columns[table]
	if !ok {
		return nil, &gateway.TableNotFoundError{Table: table}
	}
	return cols, nil
}

const base = "postgres://alice@db:5432/app"

func marshal(t *testing.T, env types.Envelope) string {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return string(b)
}

func TestListDescribesEveryTable(t *testing.T) {
	h := &Handlers{Catalog: &fakeCatalog{tables: []string{"orders", "users"}}, Base: base}

	env, err := h.List(context.Background(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"resources":[
		{"uri":"postgres://alice@db:5432/app/orders/schema","mimeType":"application/json","name":"\"orders\" database schema"},
		{"uri":"postgres://alice@db:5432/app/users/schema","mimeType":"application/json","name":"\"users\" database schema"}
	]}`, marshal(t, env))
}

func TestListEmptyDatabase(t *testing.T) {
	h := &Handlers{Catalog: &fakeCatalog{}, Base: base}

	env, err := h.List(context.Background(), nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"resources":[]}`, marshal(t, env))
}

func TestListSwallowsConnectionError(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	h := &Handlers{
		Catalog: &fakeCatalog{listErr: &gateway.ConnectionError{Op: "list tables", Err: context.DeadlineExceeded}},
		Base:    base,
		Metrics: m,
	}

	env, err := h.List(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, env.IsError())
	assert.JSONEq(t, `{"resources":[]}`, marshal(t, env))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResourceListFailures))
}

func TestReadSchema(t *testing.T) {
	h := &Handlers{
		Catalog: &fakeCatalog{columns: map[string][]types.Column{
			"users": {{ColumnName: "id", DataType: "integer", IsNullable: "NO"}},
		}},
		Base: base,
	}
	uri := Encode(base, "users")

	env, err := h.Read(context.Background(), map[string]any{"uri": uri})
	require.NoError(t, err)
	require.NotNil(t, env.Resource)
	require.Len(t, env.Resource.Contents, 1)

	content := env.Resource.Contents[0]
	assert.Equal(t, uri, content.URI)
	assert.Equal(t, types.MimeJSON, content.MimeType)
	assert.JSONEq(t, `[{"column_name":"id","data_type":"integer","is_nullable":"NO"}]`, content.Text)
}

func TestReadWrongKind(t *testing.T) {
	h := &Handlers{Catalog: &fakeCatalog{}, Base: base}

	_, err := h.Read(context.Background(), map[string]any{"uri": "postgres://h/db/users/data"})
	require.ErrorIs(t, err, ErrInvalidResourceURI)
	assert.Equal(t, "Invalid resource URI: postgres://h/db/users/data", err.Error())
}

func TestReadMissingTable(t *testing.T) {
	h := &Handlers{Catalog: &fakeCatalog{}, Base: base}

	_, err := h.Read(context.Background(), map[string]any{"uri": Encode(base, "ghost")})
	require.ErrorIs(t, err, gateway.ErrTableNotFound)
}

func TestReadMissingURI(t *testing.T) {
	h := &Handlers{Catalog: &fakeCatalog{}, Base: base}

	_, err := h.Read(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestRegister(t *testing.T) {
	reg := registry.New()
	h := &Handlers{Catalog: &fakeCatalog{}, Base: base}
	require.NoError(t, h.Register(reg))

	for _, method := range []string{MethodList, MethodRead} {
		handler, ok := reg.Lookup(method)
		require.True(t, ok, method)
		assert.Equal(t, types.KindResource, handler.Kind)
	}
	require.ErrorIs(t, h.Register(reg), registry.ErrDuplicateHandler)
}
