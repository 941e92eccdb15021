package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xscopehub/pgmcp/internal/registry"
	"github.com/xscopehub/pgmcp/internal/types"
)

// DefaultFlowInstancesEndpoint is used when no endpoint is configured.
const DefaultFlowInstancesEndpoint = "http://host.docker.local:5000/api/v1/flow_instances/recent"

const maxFetchBody = 8 << 20

// ErrRateLimited indicates the fetch tool was called faster than allowed.
var ErrRateLimited = errors.New("rate limit exceeded")

// FlowErrorsDescriptor is the descriptor advertised for the fetch tool.
var FlowErrorsDescriptor = types.ToolDescriptor{
	Name:        "get_recent_flow_instance_errors",
	Description: "Fetch recently failed flow instances",
	InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
}

// FetchConfig controls the flow instance fetcher.
type FetchConfig struct {
	Endpoint string
	// InstanceBaseURL prefixes each instance id. Defaults to the endpoint
	// without its last path segment.
	InstanceBaseURL   string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// FlowErrors fetches recent flow instances and presents each one as an
// embedded resource.
type FlowErrors struct {
	endpoint     string
	instanceBase string
	http         *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger
}

// NewFlowErrors validates cfg and builds the tool.
func NewFlowErrors(cfg FetchConfig, logger *slog.Logger) (*FlowErrors, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultFlowInstancesEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse fetch endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("fetch endpoint %q must be http or https", endpoint)
	}

	base := strings.TrimRight(cfg.InstanceBaseURL, "/")
	if base == "" {
		dir := *u
		dir.Path = path.Dir(strings.TrimRight(u.Path, "/"))
		dir.RawQuery = ""
		dir.Fragment = ""
		base = strings.TrimRight(dir.String(), "/")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(cfg.RequestsPerSecond * 2)
		if burst < 1 {
			burst = 1
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &FlowErrors{
		endpoint:     endpoint,
		instanceBase: base,
		http:         &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(limit, burst),
		logger:       logger,
	}, nil
}

// Register adds the fetch tool to r.
func (f *FlowErrors) Register(r *registry.Registry) error {
	return r.RegisterTool(FlowErrorsDescriptor, f.Call)
}

// Call performs one fetch. Every failure becomes a tool error envelope.
func (f *FlowErrors) Call(ctx context.Context, _ map[string]any) (types.Envelope, error) {
	blocks, err := f.fetch(ctx)
	if err != nil {
		f.logger.Warn("fetch flow instances failed", "endpoint", f.endpoint, "error", err)
		return types.ErrorEnvelope(types.KindTool, err), nil
	}
	return types.ToolResult(blocks...), nil
}

func (f *FlowErrors) fetch(ctx context.Context) ([]types.ContentBlock, error) {
	if !f.limiter.Allow() {
		return nil, ErrRateLimited
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("flow instances endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var payload struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode flow instances: %w", err)
	}
	if payload.Results == nil {
		return nil, errors.New("flow instances response has no results")
	}

	blocks := make([]types.ContentBlock, 0, len(payload.Results))
	for _, raw := range payload.Results {
		block, err := f.instanceBlock(raw)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

func (f *FlowErrors) instanceBlock(raw json.RawMessage) (types.ContentBlock, error) {
	var instance struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &instance); err != nil {
		return types.ContentBlock{}, fmt.Errorf("decode flow instance: %w", err)
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return types.ContentBlock{}, fmt.Errorf("compact flow instance: %w", err)
	}

	embedded, err := json.Marshal(struct {
		Contents []types.ResourceContent `json:"contents"`
	}{[]types.ResourceContent{{
		URI:      f.instanceBase + "/" + instanceID(instance.ID),
		MimeType: types.MimeJSON,
		Text:     compact.String(),
	}}})
	if err != nil {
		return types.ContentBlock{}, err
	}
	return types.TextBlock(string(embedded)), nil
}

// instanceID renders an id of any JSON type as a path segment. A missing or
// null id renders empty.
func instanceID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return url.PathEscape(s)
	}
	return string(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
