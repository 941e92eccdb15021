package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xscopehub/pgmcp/internal/metrics"
	"github.com/xscopehub/pgmcp/internal/registry"
	"github.com/xscopehub/pgmcp/internal/types"
)

const (
	MethodList = "resources/list"
	MethodRead = "resources/read"
)

// Catalog is the read side of the database gateway used by resources.
type Catalog interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) ([]types.Column, error)
}

// Handlers serves table schemas as resources.
type Handlers struct {
	Catalog Catalog
	Base    string
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Register binds List and Read to their protocol methods.
func (h *Handlers) Register(r *registry.Registry) error {
	if err := r.RegisterResource(MethodList, h.List); err != nil {
		return err
	}
	return r.RegisterResource(MethodRead, h.Read)
}

// List answers one descriptor per public table. A catalog failure is not
// reported to the client: the listing is empty and the failure is logged and
// counted instead.
func (h *Handlers) List(ctx context.Context, _ map[string]any) (types.Envelope, error) {
	tables, err := h.Catalog.ListTables(ctx)
	if err != nil {
		h.logger().Warn("list resources failed, answering empty listing", "error", err)
		h.Metrics.ResourceListFailed()
		return types.ResourceList(nil), nil
	}

	resources := make([]types.ResourceDescriptor, 0, len(tables))
	for _, table := range tables {
		resources = append(resources, types.ResourceDescriptor{
			URI:      Encode(h.Base, table),
			MimeType: types.MimeJSON,
			Name:     fmt.Sprintf(`"%s" database schema`, table),
		})
	}
	return types.ResourceList(resources), nil
}

// Read answers the column description of the table named by params.uri.
func (h *Handlers) Read(ctx context.Context, params map[string]any) (types.Envelope, error) {
	uri, ok := params["uri"].(string)
	if !ok || uri == "" {
		return types.Envelope{}, errors.New("missing uri parameter")
	}

	table, kind, err := Decode(uri)
	if err != nil {
		return types.Envelope{}, err
	}
	if kind != SchemaKind {
		return types.Envelope{}, &InvalidURIError{URI: uri}
	}

	columns, err := h.Catalog.DescribeTable(ctx, table)
	if err != nil {
		return types.Envelope{}, err
	}
	text, err := json.Marshal(columns)
	if err != nil {
		return types.Envelope{}, fmt.Errorf("encode columns: %w", err)
	}

	return types.ResourceContents(types.ResourceContent{
		URI:      uri,
		MimeType: types.MimeJSON,
		Text:     string(text),
	}), nil
}

func (h *Handlers) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
