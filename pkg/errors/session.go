package errors

import (
	"fmt"
	"time"
)

// HandshakeError reports a failed initialize exchange: timeout, malformed
// response, or an unsupported protocol revision.
func HandshakeError(reason string, cause error) MCPError {
	return WrapError(
		cause,
		CodeHandshakeFailed,
		"handshake failed",
		CategoryProtocol,
		SeverityError,
	).WithDetail(reason).WithContext(&Context{Component: "session", Operation: "initialize"})
}

// VersionMismatch reports a server answering with a protocol revision the
// client does not speak.
func VersionMismatch(got string, supported []string) MCPError {
	return NewError(
		CodeVersionMismatch,
		fmt.Sprintf("server protocol version %q is not supported", got),
		CategoryProtocol,
		SeverityError,
	).WithData(map[string]interface{}{
		"got":       got,
		"supported": supported,
	})
}

// UnknownToolError reports a call for a tool absent from the last
// discovered tool list. It is raised before any I/O happens.
func UnknownToolError(tool string) MCPError {
	return NewError(
		CodeUnknownTool,
		fmt.Sprintf("unknown tool %q", tool),
		CategoryNotFound,
		SeverityError,
	).WithData(map[string]interface{}{"tool": tool})
}

// RequestTimeoutError reports a request that was not answered within its
// window. The session stays open.
func RequestTimeoutError(method string, timeout time.Duration) MCPError {
	return NewError(
		CodeRequestTimeout,
		fmt.Sprintf("request %s timed out after %v", method, timeout),
		CategoryTimeout,
		SeverityError,
	).WithContext(&Context{Component: "session", Method: method})
}

// SessionClosedError reports a request that was in flight, or submitted,
// after the session's frame stream ended.
func SessionClosedError(cause error) MCPError {
	return WrapError(
		cause,
		CodeSessionClosed,
		"session closed",
		CategoryTransport,
		SeverityError,
	).WithContext(&Context{Component: "session"})
}

// OperationCancelled reports a request abandoned because its context ended.
func OperationCancelled(method string, cause error) MCPError {
	return WrapError(
		cause,
		CodeOperationCancelled,
		fmt.Sprintf("request %s cancelled", method),
		CategoryCancelled,
		SeverityInfo,
	).WithContext(&Context{Component: "session", Method: method})
}

// InvalidParams reports arguments rejected before sending.
func InvalidParams(method string, cause error) MCPError {
	return WrapError(
		cause,
		CodeInvalidParams,
		fmt.Sprintf("invalid params for %s", method),
		CategoryValidation,
		SeverityError,
	).WithContext(&Context{Component: "session", Method: method})
}

// ProtocolError reports a frame that could not be interpreted.
func ProtocolError(reason string, cause error) MCPError {
	return WrapError(
		cause,
		CodeProtocolError,
		"protocol error",
		CategoryProtocol,
		SeverityError,
	).WithDetail(reason)
}

// RemoteError converts a JSON-RPC error response from a server. The
// server's code is kept as is.
func RemoteError(method string, code int, message string, data interface{}) MCPError {
	category := CodeCategory(code)
	if _, known := GetErrorCodeInfo(code); !known {
		category = CategoryProtocol
	}
	return NewError(code, message, category, SeverityError).
		WithData(data).
		WithContext(&Context{Component: "server", Method: method})
}
