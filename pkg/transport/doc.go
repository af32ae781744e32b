// Package transport moves raw JSON-RPC frames between the hub and a tool
// server. It knows nothing about the protocol spoken inside the frames.
//
// Two strategies implement Transport:
//
//   - StdioTransport spawns the server and exchanges newline-delimited
//     frames over its stdin and stdout. When the process exits, the frame
//     sequence ends with a TerminationExit frame carrying the exit code, so
//     a crash is distinguishable from a clean end of stream.
//   - SSETransport opens a GET event stream, learns the POST endpoint from
//     the stream's "endpoint" event, and posts one frame per request.
//     "message" events, and JSON bodies returned inline from a POST, become
//     inbound frames.
//
// Middleware such as ObservabilityMiddleware wraps either strategy:
//
//	t := transport.Chain(transport.NewStdioTransport(cfg),
//		transport.ObservabilityMiddleware(observer))
//	if err := t.Open(ctx); err != nil {
//		return err
//	}
//	frames, _ := t.Frames()
//	for f := range frames {
//		if f.Terminal() {
//			break
//		}
//		handle(f.Data)
//	}
package transport
