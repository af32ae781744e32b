// Package protocol defines the wire format spoken with tool servers:
// JSON-RPC 2.0 frames and the MCP method names and payloads the hub uses.
//
// A session sends Requests and Notifications and receives arbitrary frames;
// ParseMessage plus Message.Kind classifies each inbound frame as a
// response (matched to a pending request by NumericID), a notification, or
// a server-initiated request.
//
// Lifecycle:
//
//	client → initialize {protocolVersion, capabilities, clientInfo}
//	server → result {protocolVersion, capabilities, serverInfo}
//	client → notifications/initialized
//
// After the handshake the client discovers with tools/list and
// resources/list (both paginated by cursor) and invokes with tools/call and
// resources/read.
package protocol
