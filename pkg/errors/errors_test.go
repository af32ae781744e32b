package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaxonomyCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      MCPError
		wantCode int
		wantCat  Category
		is       func(error) bool
	}{
		{"transport", TransportError("stdio", "open", io.EOF), CodeTransportError, CategoryTransport, IsTransport},
		{"closed transport", ClosedTransportError("stdio", "send"), CodeTransportClosed, CategoryTransport, IsClosedTransport},
		{"handshake", HandshakeError("timeout", nil), CodeHandshakeFailed, CategoryProtocol, IsHandshake},
		{"unknown tool", UnknownToolError("nope"), CodeUnknownTool, CategoryNotFound, IsUnknownTool},
		{"request timeout", RequestTimeoutError("tools/call", time.Second), CodeRequestTimeout, CategoryTimeout, IsRequestTimeout},
		{"session closed", SessionClosedError(io.EOF), CodeSessionClosed, CategoryTransport, IsSessionClosed},
		{"invalid config", InvalidConfigError("a", "command", "is required"), CodeInvalidConfig, CategoryValidation, IsInvalidConfig},
		{"not connected", ServerNotConnectedError("a", "disconnected"), CodeServerNotConnected, CategoryState, IsServerNotConnected},
		{"not found", ServerNotFound("a"), CodeServerNotFound, CategoryNotFound, IsServerNotFound},
		{"registry closed", RegistryClosed(), CodeRegistryClosed, CategoryState, IsRegistryClosed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, tt.err.Code())
			assert.Equal(t, tt.wantCat, tt.err.Category())
			assert.NotEmpty(t, tt.err.Error())
			assert.True(t, tt.is(tt.err))
			assert.True(t, tt.is(fmt.Errorf("wrapped: %w", tt.err)))
		})
	}
}

func TestPredicatesDoNotCrossMatch(t *testing.T) {
	err := UnknownToolError("x")
	assert.False(t, IsTransport(err))
	assert.False(t, IsRequestTimeout(err))
	assert.False(t, IsSessionClosed(err))
	assert.False(t, IsTransport(stderrors.New("plain")))
	assert.False(t, IsTransport(nil))
}

func TestHasCodeWalksChain(t *testing.T) {
	closed := SessionClosedError(io.EOF)
	hs := HandshakeError("stream ended", closed)

	assert.True(t, IsHandshake(hs))
	assert.True(t, IsSessionClosed(hs))
	assert.True(t, stderrors.Is(hs, io.EOF))
	assert.True(t, IsCode(hs, CodeHandshakeFailed))
	assert.False(t, IsCode(hs, CodeSessionClosed))

	joined := stderrors.Join(ServerNotFound("a"), fmt.Errorf("b: %w", UnknownToolError("x")))
	assert.True(t, IsServerNotFound(joined))
	assert.True(t, IsUnknownTool(joined))
	assert.False(t, IsTransport(joined))
}

func TestErrorMessageIncludesDetailAndCause(t *testing.T) {
	err := HandshakeError("malformed result", io.ErrUnexpectedEOF)
	assert.Equal(t, "handshake failed: malformed result: unexpected EOF", err.Error())
}

func TestWithContextKeepsTimestamp(t *testing.T) {
	err := ServerNotFound("alpha")
	ts := err.Context().Timestamp
	require.False(t, ts.IsZero())

	withCtx := err.WithContext(&Context{RequestID: "req-1", ServerID: "alpha"})
	assert.Equal(t, "req-1", withCtx.Context().RequestID)
	assert.Equal(t, ts, withCtx.Context().Timestamp)
	assert.Empty(t, err.Context().RequestID, "original must not be mutated")
}

func TestWithDetailAppends(t *testing.T) {
	err := ProtocolError("first", nil).WithDetail("second")
	assert.Equal(t, "first; second", err.Details())
}

func TestToJSON(t *testing.T) {
	err := ServerNotConnectedError("alpha", "error")
	data, jerr := json.Marshal(err)
	require.NoError(t, jerr)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(CodeServerNotConnected), decoded["code"])
	assert.Equal(t, "ServerNotConnectedError", decoded["name"])
	assert.Equal(t, "state", decoded["category"])
	assert.Contains(t, decoded, "context")
}

func TestRemoteErrorKeepsServerCode(t *testing.T) {
	err := RemoteError("tools/call", CodeMethodNotFound, "no such method", nil)
	assert.Equal(t, CodeMethodNotFound, err.Code())
	assert.Equal(t, CategoryProtocol, err.Category())

	custom := RemoteError("tools/call", 4242, "custom", map[string]string{"k": "v"})
	assert.Equal(t, 4242, custom.Code())
	assert.Equal(t, CategoryProtocol, custom.Category())
}

func TestProcessExitedData(t *testing.T) {
	err := ProcessExited("open", 3, "boom")
	data, ok := err.Data().(*TransportErrorData)
	require.True(t, ok)
	require.NotNil(t, data.ExitCode)
	assert.Equal(t, 3, *data.ExitCode)
	assert.Equal(t, "boom", data.Stderr)
	assert.True(t, IsTransport(err))
}
