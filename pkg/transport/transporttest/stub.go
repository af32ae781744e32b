// Package transporttest provides in-process and out-of-process stand-ins
// for tool servers: a scripted MCP responder, an in-memory Transport, an
// SSE test server and a stdio helper process.
package transporttest

import (
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ajitpratap0/mcp-toolhub/pkg/protocol"
)

// EchoTool is the tool every stub offers unless configured otherwise.
var EchoTool = protocol.Tool{
	Name:        "echo",
	Description: "Echoes the text argument",
	InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
}

// ReadmeResource is the resource every stub offers unless configured
// otherwise.
var ReadmeResource = protocol.Resource{
	URI:      "file:///readme.txt",
	Name:     "readme",
	MimeType: "text/plain",
}

// StubServer answers MCP requests the way a minimal tool server would.
// Zero values give a server offering EchoTool and ReadmeResource.
type StubServer struct {
	// ProtocolVersion is returned from initialize; defaults to
	// protocol.ProtocolRevision.
	ProtocolVersion string
	Tools           []protocol.Tool
	Resources       []protocol.Resource
	// NoResources omits the resources capability.
	NoResources bool
	// NoTools omits the tools capability.
	NoTools bool
	// PageSize, when positive, splits tools/list into pages.
	PageSize int
	// Silent lists methods that never get a reply.
	Silent map[string]bool
	// CallTool overrides the tools/call behavior.
	CallTool func(name string, args json.RawMessage) (*protocol.CallToolResult, *protocol.Error)

	mu    sync.Mutex
	calls map[string]int
}

// Calls returns how many frames with method were received.
func (s *StubServer) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// SetTools replaces the tool list.
func (s *StubServer) SetTools(tools []protocol.Tool) {
	s.mu.Lock()
	s.Tools = tools
	s.mu.Unlock()
}

func (s *StubServer) tools() []protocol.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Tools == nil {
		return []protocol.Tool{EchoTool}
	}
	return append([]protocol.Tool(nil), s.Tools...)
}

func (s *StubServer) resources() []protocol.Resource {
	if s.Resources == nil {
		return []protocol.Resource{ReadmeResource}
	}
	return s.Resources
}

// Handle processes one inbound frame and returns the frames to send back.
func (s *StubServer) Handle(frame []byte) [][]byte {
	msg, err := protocol.ParseMessage(frame)
	if err != nil {
		return nil
	}

	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[msg.Method]++
	silent := s.Silent[msg.Method]
	s.mu.Unlock()

	if msg.Kind() != protocol.KindRequest || silent {
		return nil
	}

	var (
		result interface{}
		rpcErr *protocol.Error
	)
	switch msg.Method {
	case protocol.MethodInitialize:
		version := s.ProtocolVersion
		if version == "" {
			version = protocol.ProtocolRevision
		}
		var caps protocol.ServerCapabilities
		if !s.NoTools {
			caps.Tools = &protocol.ListChangedCapability{ListChanged: true}
		}
		if !s.NoResources {
			caps.Resources = &protocol.ListChangedCapability{}
		}
		result = protocol.InitializeResult{
			ProtocolVersion: version,
			Capabilities:    caps,
			ServerInfo:      protocol.Implementation{Name: "stub", Version: "0.0.1"},
		}
	case protocol.MethodPing:
		result = struct{}{}
	case protocol.MethodListTools:
		result = s.listTools(msg.Params)
	case protocol.MethodListResources:
		result = protocol.ListResourcesResult{Resources: s.resources()}
	case protocol.MethodReadResource:
		var params protocol.ReadResourceParams
		_ = json.Unmarshal(msg.Params, &params)
		content, _ := json.Marshal(map[string]string{"uri": params.URI, "mimeType": "text/plain", "text": "hello from " + params.URI})
		result = protocol.ReadResourceResult{Contents: []json.RawMessage{content}}
	case protocol.MethodCallTool:
		var params protocol.CallToolParams
		_ = json.Unmarshal(msg.Params, &params)
		if s.CallTool != nil {
			res, callErr := s.CallTool(params.Name, params.Arguments)
			result, rpcErr = res, callErr
		} else {
			result = echo(params)
		}
	default:
		rpcErr = &protocol.Error{Code: protocol.MethodNotFound, Message: "method not found: " + msg.Method}
	}

	var resp *protocol.Response
	if rpcErr != nil {
		resp = protocol.NewErrorResponse(msg.ID, rpcErr.Code, rpcErr.Message)
	} else {
		resp, err = protocol.NewResponse(msg.ID, result)
		if err != nil {
			return nil
		}
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil
	}
	return [][]byte{data}
}

func (s *StubServer) listTools(raw json.RawMessage) protocol.ListToolsResult {
	tools := s.tools()
	if s.PageSize <= 0 {
		return protocol.ListToolsResult{Tools: tools}
	}
	var params protocol.PaginatedParams
	_ = json.Unmarshal(raw, &params)
	start, _ := strconv.Atoi(params.Cursor)
	if start > len(tools) {
		start = len(tools)
	}
	end := start + s.PageSize
	if end >= len(tools) {
		return protocol.ListToolsResult{Tools: tools[start:]}
	}
	return protocol.ListToolsResult{Tools: tools[start:end], NextCursor: strconv.Itoa(end)}
}

func echo(params protocol.CallToolParams) *protocol.CallToolResult {
	var args struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(params.Arguments, &args)
	return &protocol.CallToolResult{Content: []json.RawMessage{protocol.TextContent(args.Text)}}
}

// Notification encodes a server notification frame.
func Notification(method string) []byte {
	n, _ := protocol.NewNotification(method, nil)
	data, _ := json.Marshal(n)
	return data
}
