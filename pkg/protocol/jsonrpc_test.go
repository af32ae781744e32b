package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageKind(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Kind
	}{
		{"response", `{"jsonrpc":"2.0","id":1,"result":{}}`, KindResponse},
		{"null result", `{"jsonrpc":"2.0","id":1,"result":null}`, KindResponse},
		{"error response", `{"jsonrpc":"2.0","id":2,"error":{"code":-32601,"message":"nope"}}`, KindResponse},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/tools/list_changed"}`, KindNotification},
		{"null id notification", `{"jsonrpc":"2.0","id":null,"method":"x"}`, KindNotification},
		{"server request", `{"jsonrpc":"2.0","id":"abc","method":"ping"}`, KindRequest},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"result":{}}`, KindInvalid},
		{"no result", `{"jsonrpc":"2.0","id":1}`, KindInvalid},
		{"null id response", `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse"}}`, KindInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.frame))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Kind())
		})
	}
}

func TestParseMessageRejectsInvalidJSON(t *testing.T) {
	_, err := ParseMessage([]byte(`{"jsonrpc":`))
	assert.Error(t, err)
}

func TestNumericID(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":42,"result":{}}`))
	require.NoError(t, err)
	id, ok := msg.NumericID()
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	msg, err = ParseMessage([]byte(`{"jsonrpc":"2.0","id":"7","result":{}}`))
	require.NoError(t, err)
	id, ok = msg.NumericID()
	assert.True(t, ok)
	assert.Equal(t, int64(7), id)

	msg, err = ParseMessage([]byte(`{"jsonrpc":"2.0","id":"req-x","result":{}}`))
	require.NoError(t, err)
	_, ok = msg.NumericID()
	assert.False(t, ok)
}

func TestNewRequestEncoding(t *testing.T) {
	req, err := NewRequest(3, MethodCallTool, CallToolParams{
		Name:      "echo",
		Arguments: json.RawMessage(`{"text":"hi"}`),
	})
	require.NoError(t, err)

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hi"}}}`,
		string(data))
}

func TestNewRequestWithoutParams(t *testing.T) {
	req, err := NewRequest(1, MethodPing, nil)
	require.NoError(t, err)
	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, string(data))
}

func TestErrorResponseEchoesID(t *testing.T) {
	resp := NewErrorResponse(json.RawMessage(`"srv-1"`), MethodNotFound, "unsupported")
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"srv-1","error":{"code":-32601,"message":"unsupported"}}`, string(data))
}

func TestSupportedVersions(t *testing.T) {
	assert.True(t, IsSupportedVersion(ProtocolRevision))
	assert.True(t, IsSupportedVersion("2024-11-05"))
	assert.False(t, IsSupportedVersion("1999-01-01"))
}

func TestDecodeListToolsResult(t *testing.T) {
	raw := `{"tools":[{"name":"echo","description":"Echo input","inputSchema":{"type":"object","properties":{"text":{"type":"string"}}}}],"nextCursor":"p2"}`
	var result ListToolsResult
	require.NoError(t, json.Unmarshal([]byte(raw), &result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo", result.Tools[0].Name)
	assert.JSONEq(t, `{"type":"object","properties":{"text":{"type":"string"}}}`, string(result.Tools[0].InputSchema))
	assert.Equal(t, "p2", result.NextCursor)
}

func TestInitializeResultCapabilities(t *testing.T) {
	raw := `{"protocolVersion":"2024-11-05","capabilities":{"tools":{"listChanged":true}},"serverInfo":{"name":"stub","version":"1"}}`
	var result InitializeResult
	require.NoError(t, json.Unmarshal([]byte(raw), &result))
	require.NotNil(t, result.Capabilities.Tools)
	assert.True(t, result.Capabilities.Tools.ListChanged)
	assert.Nil(t, result.Capabilities.Resources)
}

func TestTextContent(t *testing.T) {
	assert.JSONEq(t, `{"type":"text","text":"hello"}`, string(TextContent("hello")))
}
