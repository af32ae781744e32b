// Package toolhub manages connections to Model Context Protocol tool
// servers.
//
// A hub keeps an ordered list of servers, each reached either by spawning a
// process that speaks newline-delimited JSON-RPC on stdio, or over HTTP with
// an event stream for replies. For every connected server it holds one
// session, the tools and resources the server advertised, and the status of
// the connection. Failed connections are retried with exponential backoff
// until a retry budget is spent.
//
// # Packages
//
//   - pkg/transport: stdio and HTTP event-stream transports
//   - pkg/protocol: JSON-RPC 2.0 frames and MCP message types
//   - pkg/session: handshake, discovery and correlated requests over one transport
//   - pkg/registry: the server table; connect, disconnect, add, remove, execute
//   - pkg/reconnect: the per-server backoff state machine
//   - pkg/config: server configs, stores (file, Redis, SQLite) and settings
//   - pkg/controlplane: the HTTP API over a registry
//   - pkg/observability: Prometheus metrics and OpenTelemetry tracing
//   - pkg/errors: the error taxonomy shared by every package
//
// # Using a registry
//
//	reg := toolhub.NewRegistry(
//	    toolhub.WithStore(toolhub.NewFileStore("mcp-servers.yaml")),
//	)
//	defer reg.Close()
//
//	if err := reg.LoadFromConfig(ctx); err != nil {
//	    return err
//	}
//	if err := reg.ConnectServer(ctx, "fs"); err != nil {
//	    return err // the server is now in the error status and will be retried
//	}
//	res, err := reg.ExecuteTool(ctx, "fs", "read_file", json.RawMessage(`{"path":"/tmp/a"}`))
//
// Executing a tool never connects implicitly: a server that is not
// connected fails with a ServerNotConnectedError so the caller decides
// whether to connect and retry.
//
// # Serving the control plane
//
//	srv := toolhub.NewControlPlane(reg)
//	err := srv.Run(ctx, "127.0.0.1:8090")
//
// The mcp-toolhub command wires all of this together with metrics, tracing
// and a watcher on the server list file.
package toolhub
