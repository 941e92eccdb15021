package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/xscopehub/pgmcp/internal/audit"
	"github.com/xscopehub/pgmcp/internal/metrics"
	"github.com/xscopehub/pgmcp/internal/registry"
	"github.com/xscopehub/pgmcp/internal/types"
	"github.com/xscopehub/pgmcp/pkg/manifest"
)

// DefaultMaxMessageSize bounds a single inbound line.
const DefaultMaxMessageSize = 1 << 20

const (
	methodInitialize = "initialize"
	methodPing       = "ping"
	methodToolsList  = "tools/list"
	methodToolsCall  = "tools/call"

	notificationPrefix = "notifications/"
)

const (
	outcomeOK            = "ok"
	outcomeError         = "error"
	outcomeUnknownMethod = "unknown_method"
	outcomeMalformed     = "malformed"
)

var (
	tracer = otel.Tracer("github.com/xscopehub/pgmcp/internal/server")
	nullID = json.RawMessage("null")
)

// Options configures the MCP stdio server.
type Options struct {
	Manifest       manifest.Manifest
	Registry       *registry.Registry
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
	MaxMessageSize int
}

// Server reads requests from a message channel, routes them to registered
// handlers and writes one response per request.
type Server struct {
	manifest manifest.Manifest
	registry *registry.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
	maxSize  int
}

// New creates a new MCP server instance.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	maxSize := opts.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Server{
		manifest: opts.Manifest,
		registry: reg,
		logger:   logger,
		metrics:  opts.Metrics,
		maxSize:  maxSize,
	}
}

// Request represents an MCP JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no reply.
func (r Request) IsNotification() bool {
	return len(r.ID) == 0 && strings.HasPrefix(r.Method, notificationPrefix)
}

// Response represents an MCP JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      manifest.Info  `json:"serverInfo"`
	Instructions    string         `json:"instructions,omitempty"`
}

type toolsListResult struct {
	Tools []types.ToolDescriptor `json:"tools"`
}

// Serve processes messages from in until EOF, writing responses to out.
// Requests are handled strictly one at a time. Only a failure of the channel
// itself ends the loop with an error.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	reader := bufio.NewReaderSize(in, 64*1024)
	writer := bufio.NewWriter(out)

	s.logger.Info("serving MCP over stdio", "server", s.manifest.Name, "version", s.manifest.Version)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := readMessage(reader, s.maxSize)
		switch {
		case errors.Is(err, io.EOF):
			s.logger.Info("message channel closed")
			return nil
		case errors.Is(err, errMessageTooLarge):
			s.metrics.Request("", outcomeMalformed)
			if werr := s.write(writer, Response{JSONRPC: "2.0", ID: nullID, Error: malformed(codeInvalidRequest, err.Error())}); werr != nil {
				return werr
			}
			continue
		case err != nil:
			return fmt.Errorf("read message: %w", err)
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		resp, reply := s.handleMessage(ctx, line)
		if !reply {
			continue
		}
		if err := s.write(writer, resp); err != nil {
			return err
		}
	}
}

// handleMessage decodes one line and produces its response. The second result
// is false for notifications.
func (s *Server) handleMessage(ctx context.Context, line []byte) (Response, bool) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.metrics.Request("", outcomeMalformed)
		s.logger.Warn("undecodable message", "error", err)
		return Response{JSONRPC: "2.0", ID: nullID, Error: &Error{Code: codeParseError, Message: "parse error: " + err.Error()}}, true
	}

	id := req.ID
	if len(id) == 0 {
		id = nullID
	}

	if req.Method == "" {
		s.metrics.Request("", outcomeMalformed)
		return Response{JSONRPC: "2.0", ID: id, Error: malformed(codeInvalidRequest, "method not specified")}, true
	}

	if req.IsNotification() {
		s.logger.Debug("notification received", "method", req.Method)
		return Response{}, false
	}

	if _, err := decodeParams(req.Params); err != nil {
		s.metrics.Request(req.Method, outcomeMalformed)
		return Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: codeInvalidParams, Message: err.Error()}}, true
	}

	result := s.Handle(ctx, req)
	return Response{JSONRPC: "2.0", ID: id, Result: result}, true
}

// Handle answers a decoded request. Protocol built-ins are answered here;
// everything else goes through Dispatch.
func (s *Server) Handle(ctx context.Context, req Request) any {
	requestID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "mcp "+req.Method)
	defer span.End()
	span.SetAttributes(
		attribute.String("mcp.method", req.Method),
		attribute.String("mcp.request_id", requestID),
	)
	ctx = audit.WithRequestID(ctx, requestID)
	logger := s.logger.With("request_id", requestID, "method", req.Method)

	var (
		result  any
		outcome string
	)
	switch req.Method {
	case methodInitialize:
		result, outcome = s.initialize(), outcomeOK
	case methodPing:
		result, outcome = struct{}{}, outcomeOK
	case methodToolsList:
		result, outcome = toolsListResult{Tools: s.registry.ListTools()}, outcomeOK
	default:
		var env types.Envelope
		env, outcome = s.dispatch(ctx, logger, req)
		result = env
	}

	if outcome != outcomeOK {
		span.SetStatus(codes.Error, outcome)
	}
	s.metrics.Request(req.Method, outcome)
	logger.Debug("request handled", "outcome", outcome)
	return result
}

// Dispatch routes req to its handler and always answers an envelope. Errors
// and panics inside handlers are converted to the envelope of the handler's
// kind. Unknown methods answer a resource error envelope.
func (s *Server) Dispatch(ctx context.Context, req Request) types.Envelope {
	env, _ := s.dispatch(ctx, s.logger, req)
	return env
}

func (s *Server) dispatch(ctx context.Context, logger *slog.Logger, req Request) (types.Envelope, string) {
	params, err := decodeParams(req.Params)
	if err != nil {
		return types.ErrorEnvelope(types.KindResource, err), outcomeMalformed
	}

	if req.Method == methodToolsCall {
		return s.callTool(ctx, logger, params)
	}

	h, ok := s.registry.Lookup(req.Method)
	if !ok {
		return types.ErrorEnvelope(types.KindResource, &UnknownMethodError{Method: req.Method}), outcomeUnknownMethod
	}
	return s.invoke(ctx, logger, h, params)
}

func (s *Server) callTool(ctx context.Context, logger *slog.Logger, params map[string]any) (types.Envelope, string) {
	name, _ := params["name"].(string)
	h, ok := s.registry.Tool(name)
	if !ok {
		return types.ErrorEnvelope(types.KindTool, fmt.Errorf("Unknown tool: %s", name)), outcomeError
	}

	args := map[string]any{}
	switch raw := params["arguments"].(type) {
	case nil:
	case map[string]any:
		args = raw
	default:
		return types.ErrorEnvelope(types.KindTool, fmt.Errorf("invalid arguments: expected object, got %T", raw)), outcomeError
	}
	return s.invoke(ctx, logger, h, args)
}

// invoke runs the handler and enforces the envelope kind it was registered with.
func (s *Server) invoke(ctx context.Context, logger *slog.Logger, h *registry.Handler, params map[string]any) (env types.Envelope, outcome string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("handler panicked", "handler", h.Method, "panic", r, "stack", string(debug.Stack()))
			env, outcome = types.ErrorEnvelope(h.Kind, fmt.Errorf("internal error: %v", r)), outcomeError
		}
	}()

	env, err := h.Call(ctx, params)
	if err != nil {
		logger.Debug("handler returned error", "handler", h.Method, "error", err)
		return types.ErrorEnvelope(h.Kind, err), outcomeError
	}
	if env.Kind != h.Kind {
		logger.Error("handler answered wrong envelope kind", "handler", h.Method, "want", h.Kind, "got", env.Kind)
		return types.ErrorEnvelope(h.Kind, fmt.Errorf("handler %s answered a %s envelope", h.Method, env.Kind)), outcomeError
	}
	if env.IsError() {
		return env, outcomeError
	}
	return env, outcomeOK
}

func (s *Server) initialize() initializeResult {
	return initializeResult{
		ProtocolVersion: manifest.ProtocolVersion,
		Capabilities: map[string]any{
			"resources": map[string]any{},
			"tools":     map[string]any{},
		},
		ServerInfo:   s.manifest.Info(),
		Instructions: s.manifest.Instructions,
	}
}

// write emits one response line. A response that cannot be encoded is
// replaced by an internal error carrying the same id.
func (s *Server) write(w *bufio.Writer, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encode response", "error", err)
		payload, err = json.Marshal(Response{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error:   &Error{Code: codeInternalError, Message: "internal error: failed to encode response"},
		})
		if err != nil {
			return fmt.Errorf("encode fallback response: %w", err)
		}
	}

	payload = append(payload, '\n')
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func decodeParams(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	params := map[string]any{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("invalid params: %v", err)
	}
	return params, nil
}

// readMessage returns the next newline-terminated message. A message longer
// than limit is consumed and reported as errMessageTooLarge so the stream stays
// framed.
func readMessage(r *bufio.Reader, limit int) ([]byte, error) {
	var (
		buf      []byte
		tooLarge bool
	)
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLarge {
			if len(buf)+len(chunk) > limit+1 {
				tooLarge = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if tooLarge {
				return nil, errMessageTooLarge
			}
			if len(buf) > 0 {
				return buf, nil
			}
			return nil, io.EOF
		case err != nil:
			return nil, err
		}

		if tooLarge {
			return nil, errMessageTooLarge
		}
		return buf, nil
	}
}
