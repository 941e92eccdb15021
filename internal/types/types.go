package types

import (
	"encoding/json"
	"fmt"
)

// MimeJSON is the mime type of every resource served.
const MimeJSON = "application/json"

// Kind selects which envelope shape a handler produces.
type Kind int

const (
	// KindResource handlers answer with resources, contents or error.
	KindResource Kind = iota
	// KindTool handlers answer with text content blocks.
	KindTool
)

func (k Kind) String() string {
	switch k {
	case KindResource:
		return "resource"
	case KindTool:
		return "tool"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ResourceDescriptor describes one table schema resource.
type ResourceDescriptor struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Name     string `json:"name"`
}

// ResourceContent carries the body of a read resource.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// Column is one row of a table description.
type Column struct {
	ColumnName string `json:"column_name"`
	DataType   string `json:"data_type"`
	IsNullable string `json:"is_nullable,omitempty"`
}

// ToolDescriptor describes a tool callable by clients.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ContentBlock is a single piece of tool output.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ResourceEnvelope is the resource-protocol response shape. Exactly one of
// the three members is emitted.
type ResourceEnvelope struct {
	Resources []ResourceDescriptor
	Contents  []ResourceContent
	Error     string
}

// MarshalJSON emits {"error"}, {"contents"} or {"resources"} in that order of
// precedence. An empty listing is encoded as an empty array.
func (e ResourceEnvelope) MarshalJSON() ([]byte, error) {
	switch {
	case e.Error != "":
		return json.Marshal(struct {
			Error string `json:"error"`
		}{e.Error})
	case e.Contents != nil:
		return json.Marshal(struct {
			Contents []ResourceContent `json:"contents"`
		}{e.Contents})
	default:
		resources := e.Resources
		if resources == nil {
			resources = []ResourceDescriptor{}
		}
		return json.Marshal(struct {
			Resources []ResourceDescriptor `json:"resources"`
		}{resources})
	}
}

// ToolEnvelope is the tool-call response shape.
type ToolEnvelope struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"is_error,omitempty"`
}

// Envelope is the tagged union answered for every dispatched request.
type Envelope struct {
	Kind     Kind
	Resource *ResourceEnvelope
	Tool     *ToolEnvelope
}

// MarshalJSON encodes the active variant only.
func (e Envelope) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindResource:
		if e.Resource == nil {
			return json.Marshal(ResourceEnvelope{})
		}
		return json.Marshal(*e.Resource)
	case KindTool:
		if e.Tool == nil {
			return json.Marshal(ToolEnvelope{Content: []ContentBlock{}})
		}
		tool := *e.Tool
		if tool.Content == nil {
			tool.Content = []ContentBlock{}
		}
		return json.Marshal(tool)
	default:
		return nil, fmt.Errorf("marshal envelope: unknown %s", e.Kind)
	}
}

// IsError reports whether the envelope carries a failure.
func (e Envelope) IsError() bool {
	switch e.Kind {
	case KindResource:
		return e.Resource != nil && e.Resource.Error != ""
	case KindTool:
		return e.Tool != nil && e.Tool.IsError
	}
	return false
}

// ResourceList wraps descriptors as {"resources": [...]}.
func ResourceList(resources []ResourceDescriptor) Envelope {
	if resources == nil {
		resources = []ResourceDescriptor{}
	}
	return Envelope{Kind: KindResource, Resource: &ResourceEnvelope{Resources: resources}}
}

// ResourceContents wraps contents as {"contents": [...]}.
func ResourceContents(contents ...ResourceContent) Envelope {
	if contents == nil {
		contents = []ResourceContent{}
	}
	return Envelope{Kind: KindResource, Resource: &ResourceEnvelope{Contents: contents}}
}

// ToolResult wraps content blocks as a successful tool answer.
func ToolResult(blocks ...ContentBlock) Envelope {
	if blocks == nil {
		blocks = []ContentBlock{}
	}
	return Envelope{Kind: KindTool, Tool: &ToolEnvelope{Content: blocks}}
}

// ErrorEnvelope renders err in the shape of the given kind.
func ErrorEnvelope(kind Kind, err error) Envelope {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	if kind == KindTool {
		return Envelope{Kind: KindTool, Tool: &ToolEnvelope{
			Content: []ContentBlock{TextBlock("Error: " + msg)},
			IsError: true,
		}}
	}
	return Envelope{Kind: KindResource, Resource: &ResourceEnvelope{Error: msg}}
}
