package errors

// JSON-RPC 2.0 standard error codes. Servers may return these in error
// responses; the hub uses InvalidParams for local argument validation.
const (
	CodeParseError     int = -32700
	CodeInvalidRequest int = -32600
	CodeMethodNotFound int = -32601
	CodeInvalidParams  int = -32602
	CodeInternalError  int = -32603
)

// Hub error codes
const (
	// Session lifecycle errors (-32000 to -32099)
	CodeHandshakeFailed    int = -32000 // initialize exchange failed
	CodeServerNotConnected int = -32001 // server is not in the connected state
	CodeRegistryClosed     int = -32002 // registry was shut down

	// Lookup errors (-32200 to -32299)
	CodeServerNotFound int = -32200 // no server registered under the id
	CodeUnknownTool    int = -32204 // tool not in the last discovered list

	// Operation errors (-32300 to -32399)
	CodeOperationCancelled int = -32300 // caller cancelled the request
	CodeRequestTimeout     int = -32301 // request not answered in time

	// Transport errors (-32500 to -32599)
	CodeTransportError  int = -32500 // spawn failure, unreachable endpoint, write failure
	CodeSessionClosed   int = -32502 // connection ended with the request in flight
	CodeTransportClosed int = -32504 // transport used after Close

	// Configuration errors (-32750 to -32799)
	CodeInvalidConfig int = -32756 // ServerConfig failed validation
	CodeStoreError    int = -32757 // config store could not load or save

	// Protocol errors (-32900 to -32999)
	CodeProtocolError   int = -32900 // malformed or unexpected frame
	CodeVersionMismatch int = -32901 // server speaks an unsupported protocol revision
)

// ErrorCodeInfo provides human-readable information about error codes
type ErrorCodeInfo struct {
	Code        int
	Name        string
	Description string
	Category    Category
	Severity    Severity
}

var errorCodeRegistry = map[int]ErrorCodeInfo{
	CodeParseError:     {CodeParseError, "ParseError", "Invalid JSON was received", CategoryProtocol, SeverityError},
	CodeInvalidRequest: {CodeInvalidRequest, "InvalidRequest", "Invalid Request object", CategoryProtocol, SeverityError},
	CodeMethodNotFound: {CodeMethodNotFound, "MethodNotFound", "Method does not exist", CategoryProtocol, SeverityError},
	CodeInvalidParams:  {CodeInvalidParams, "InvalidParams", "Invalid method parameters", CategoryValidation, SeverityError},
	CodeInternalError:  {CodeInternalError, "InternalError", "Internal JSON-RPC error", CategoryInternal, SeverityError},

	CodeHandshakeFailed:    {CodeHandshakeFailed, "HandshakeError", "Protocol handshake failed", CategoryProtocol, SeverityError},
	CodeServerNotConnected: {CodeServerNotConnected, "ServerNotConnectedError", "Server not connected", CategoryState, SeverityWarning},
	CodeRegistryClosed:     {CodeRegistryClosed, "RegistryClosed", "Registry shut down", CategoryState, SeverityWarning},

	CodeServerNotFound: {CodeServerNotFound, "ServerNotFound", "Server not registered", CategoryNotFound, SeverityError},
	CodeUnknownTool:    {CodeUnknownTool, "UnknownToolError", "Tool not offered by server", CategoryNotFound, SeverityError},

	CodeOperationCancelled: {CodeOperationCancelled, "OperationCancelled", "Operation cancelled", CategoryCancelled, SeverityInfo},
	CodeRequestTimeout:     {CodeRequestTimeout, "RequestTimeoutError", "Request timed out", CategoryTimeout, SeverityError},

	CodeTransportError:  {CodeTransportError, "TransportError", "Transport error", CategoryTransport, SeverityError},
	CodeSessionClosed:   {CodeSessionClosed, "SessionClosedError", "Session closed", CategoryTransport, SeverityError},
	CodeTransportClosed: {CodeTransportClosed, "ClosedTransportError", "Transport closed", CategoryTransport, SeverityWarning},

	CodeInvalidConfig: {CodeInvalidConfig, "InvalidConfigError", "Invalid server configuration", CategoryValidation, SeverityError},
	CodeStoreError:    {CodeStoreError, "StoreError", "Config store failure", CategoryInternal, SeverityError},

	CodeProtocolError:   {CodeProtocolError, "ProtocolError", "Protocol error", CategoryProtocol, SeverityError},
	CodeVersionMismatch: {CodeVersionMismatch, "VersionMismatch", "Protocol version mismatch", CategoryProtocol, SeverityError},
}

// GetErrorCodeInfo returns information about an error code
func GetErrorCodeInfo(code int) (ErrorCodeInfo, bool) {
	info, exists := errorCodeRegistry[code]
	return info, exists
}

// CodeName returns the registered name of an error code
func CodeName(code int) string {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Name
	}
	return "UnknownError"
}

// CodeCategory returns the category of an error code
func CodeCategory(code int) Category {
	if info, exists := errorCodeRegistry[code]; exists {
		return info.Category
	}
	return CategoryInternal
}
