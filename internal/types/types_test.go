package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestResourceEnvelopeShapes(t *testing.T) {
	assert.Equal(t, `{"resources":[]}`, encode(t, ResourceList(nil)))
	assert.Equal(t, `{"resources":[]}`, encode(t, Envelope{Kind: KindResource}))
	assert.Equal(t,
		`{"resources":[{"uri":"postgres://db/app/users/schema","mimeType":"application/json","name":"\"users\" database schema"}]}`,
		encode(t, ResourceList([]ResourceDescriptor{{URI: "postgres://db/app/users/schema", MimeType: MimeJSON, Name: `"users" database schema`}})))
	assert.Equal(t, `{"contents":[]}`, encode(t, ResourceContents()))
	assert.Equal(t, `{"error":"boom"}`, encode(t, ErrorEnvelope(KindResource, errors.New("boom"))))
}

func TestErrorTakesPrecedence(t *testing.T) {
	env := ResourceEnvelope{
		Resources: []ResourceDescriptor{{URI: "x"}},
		Contents:  []ResourceContent{{URI: "y"}},
		Error:     "failed",
	}
	assert.Equal(t, `{"error":"failed"}`, encode(t, env))
}

func TestToolEnvelopeShapes(t *testing.T) {
	assert.Equal(t, `{"content":[{"type":"text","text":"[]"}]}`, encode(t, ToolResult(TextBlock("[]"))))
	assert.Equal(t, `{"content":[]}`, encode(t, ToolResult()))
	assert.Equal(t, `{"content":[]}`, encode(t, Envelope{Kind: KindTool}))
	assert.Equal(t,
		`{"content":[{"type":"text","text":"Error: relation does not exist"}],"is_error":true}`,
		encode(t, ErrorEnvelope(KindTool, errors.New("relation does not exist"))))
}

func TestIsError(t *testing.T) {
	assert.False(t, ResourceList(nil).IsError())
	assert.False(t, ToolResult().IsError())
	assert.True(t, ErrorEnvelope(KindResource, errors.New("x")).IsError())
	assert.True(t, ErrorEnvelope(KindTool, errors.New("x")).IsError())
}

func TestErrorEnvelopeNilError(t *testing.T) {
	assert.Equal(t, `{"error":"unknown error"}`, encode(t, ErrorEnvelope(KindResource, nil)))
}

func TestUnknownKind(t *testing.T) {
	_, err := json.Marshal(Envelope{Kind: Kind(7)})
	require.Error(t, err)
	assert.Equal(t, "kind(7)", Kind(7).String())
}

func TestColumnOmitsEmptyNullable(t *testing.T) {
	assert.Equal(t, `{"column_name":"id","data_type":"integer"}`, encode(t, Column{ColumnName: "id", DataType: "integer"}))
}
