package errors

import (
	"fmt"
)

// TransportErrorData contains structured data for transport-related errors
type TransportErrorData struct {
	Transport  string `json:"transport"`
	Operation  string `json:"operation,omitempty"`
	Endpoint   string `json:"endpoint,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	Stderr     string `json:"stderr,omitempty"`
}

// TransportError reports that the underlying channel could not be
// established or used: a missing executable, a process that died during
// startup, an unreachable endpoint, or a failed write.
func TransportError(transport, operation string, cause error) MCPError {
	return WrapError(
		cause,
		CodeTransportError,
		fmt.Sprintf("%s transport failed during %s", transport, operation),
		CategoryTransport,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport: transport,
		Operation: operation,
	}).WithContext(&Context{Component: transport + "-transport", Operation: operation})
}

// HTTPTransportError reports a failed HTTP exchange. statusCode is zero when
// no response was received.
func HTTPTransportError(operation, endpoint string, statusCode int, cause error) MCPError {
	message := fmt.Sprintf("http transport failed during %s", operation)
	if statusCode > 0 {
		message = fmt.Sprintf("http transport got status %d during %s", statusCode, operation)
	}
	return WrapError(
		cause,
		CodeTransportError,
		message,
		CategoryTransport,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport:  "http",
		Operation:  operation,
		Endpoint:   endpoint,
		StatusCode: statusCode,
	}).WithContext(&Context{Component: "http-transport", Operation: operation})
}

// ProcessExited reports a stdio server that terminated. exitCode is -1 when
// the process was killed by a signal.
func ProcessExited(operation string, exitCode int, stderr string) MCPError {
	code := exitCode
	return NewError(
		CodeTransportError,
		fmt.Sprintf("stdio server exited with code %d during %s", exitCode, operation),
		CategoryTransport,
		SeverityError,
	).WithData(&TransportErrorData{
		Transport: "stdio",
		Operation: operation,
		ExitCode:  &code,
		Stderr:    stderr,
	}).WithContext(&Context{Component: "stdio-transport", Operation: operation})
}

// ClosedTransportError reports use of a transport after Close.
func ClosedTransportError(transport, operation string) MCPError {
	return NewError(
		CodeTransportClosed,
		fmt.Sprintf("%s transport is closed", transport),
		CategoryTransport,
		SeverityWarning,
	).WithContext(&Context{Component: transport + "-transport", Operation: operation})
}

// TransportNotOpen reports use of a transport before Open succeeded.
func TransportNotOpen(transport, operation string) MCPError {
	return NewError(
		CodeTransportError,
		fmt.Sprintf("%s transport is not open", transport),
		CategoryTransport,
		SeverityError,
	).WithContext(&Context{Component: transport + "-transport", Operation: operation})
}
