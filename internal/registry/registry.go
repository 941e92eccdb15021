package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/xscopehub/pgmcp/internal/types"
)

var (
	// ErrDuplicateHandler is returned when a method or tool name is registered twice.
	ErrDuplicateHandler = errors.New("duplicate handler")
	// ErrRegistrySealed is returned when registering after Seal.
	ErrRegistrySealed = errors.New("registry sealed")
)

// ResourceFunc implements a resource-protocol method.
type ResourceFunc func(ctx context.Context, params map[string]any) (types.Envelope, error)

// ToolFunc implements an MCP tool call.
type ToolFunc func(ctx context.Context, arguments map[string]any) (types.Envelope, error)

// Handler is one registered entry. Kind is fixed at registration and decides
// the envelope shape used for its errors.
type Handler struct {
	Method     string
	Kind       types.Kind
	Descriptor types.ToolDescriptor

	resource ResourceFunc
	tool     ToolFunc
	schema   *jsonschema.Resolved
}

// Call runs the handler. Tool arguments are checked against the declared
// input schema first.
func (h *Handler) Call(ctx context.Context, params map[string]any) (types.Envelope, error) {
	switch h.Kind {
	case types.KindTool:
		if err := h.Validate(params); err != nil {
			return types.Envelope{}, err
		}
		return h.tool(ctx, params)
	default:
		return h.resource(ctx, params)
	}
}

// Validate checks params against the tool input schema. Resource handlers
// have no schema and always pass.
func (h *Handler) Validate(params map[string]any) error {
	if h.schema == nil {
		return nil
	}
	if params == nil {
		params = map[string]any{}
	}
	if err := h.schema.Validate(params); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// Registry maps request methods to handlers.
type Registry struct {
	mu       sync.RWMutex
	sealed   bool
	handlers map[string]*Handler
	tools    map[string]*Handler
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		handlers: make(map[string]*Handler),
		tools:    make(map[string]*Handler),
	}
}

// RegisterResource adds a fixed resource-protocol handler.
func (r *Registry) RegisterResource(method string, fn ResourceFunc) error {
	if method == "" {
		return errors.New("register resource: empty method")
	}
	if fn == nil {
		return fmt.Errorf("register resource %s: nil handler", method)
	}
	return r.add(&Handler{Method: method, Kind: types.KindResource, resource: fn}, false)
}

// RegisterTool adds a tool. The tool is reachable both through tools/call and
// directly by its name as a request method.
func (r *Registry) RegisterTool(desc types.ToolDescriptor, fn ToolFunc) error {
	if desc.Name == "" {
		return errors.New("register tool: empty name")
	}
	if fn == nil {
		return fmt.Errorf("register tool %s: nil handler", desc.Name)
	}
	if len(desc.InputSchema) == 0 {
		desc.InputSchema = json.RawMessage(`{"type":"object"}`)
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(desc.InputSchema, &schema); err != nil {
		return fmt.Errorf("register tool %s: decode input schema: %w", desc.Name, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("register tool %s: resolve input schema: %w", desc.Name, err)
	}

	return r.add(&Handler{
		Method:     desc.Name,
		Kind:       types.KindTool,
		Descriptor: desc,
		tool:       fn,
		schema:     resolved,
	}, true)
}

func (r *Registry) add(h *Handler, isTool bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, h.Method)
	}
	if _, exists := r.handlers[h.Method]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, h.Method)
	}
	r.handlers[h.Method] = h
	if isTool {
		r.tools[h.Method] = h
	}
	return nil
}

// Seal freezes the registry. Registration afterwards fails.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Lookup finds the handler for a request method.
func (r *Registry) Lookup(method string) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[method]
	return h, ok
}

// Tool finds a registered tool by name.
func (r *Registry) Tool(name string) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.tools[name]
	return h, ok
}

// ListTools returns tool descriptors ordered by name.
func (r *Registry) ListTools() []types.ToolDescriptor {
	r.mu.RLock()
	descriptors := make([]types.ToolDescriptor, 0, len(r.tools))
	for _, h := range r.tools {
		descriptors = append(descriptors, h.Descriptor)
	}
	r.mu.RUnlock()

	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })
	return descriptors
}
