package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
	"github.com/ajitpratap0/mcp-toolhub/pkg/logging"
	"github.com/ajitpratap0/mcp-toolhub/pkg/protocol"
)

// maxPages stops a server whose cursors never run out.
const maxPages = 100

type toolEntry struct {
	tool protocol.Tool
	// schema is nil when the tool's inputSchema could not be compiled;
	// arguments to such a tool are sent unchecked.
	schema *jsonschema.Resolved
}

// ListTools runs tool discovery, following pagination cursors. The result
// replaces the list CallTool checks names against. A server that did not
// advertise the tools capability is not sent tools/list and has no tools.
func (s *Session) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	tools := []protocol.Tool{}
	if s.Capabilities().Tools == nil {
		s.logger.Debug("server has no tools capability, skipping tools/list")
	} else {
		err := s.paginate(ctx, protocol.MethodListTools, func(raw json.RawMessage) (string, error) {
			var page protocol.ListToolsResult
			if err := json.Unmarshal(raw, &page); err != nil {
				return "", err
			}
			tools = append(tools, page.Tools...)
			return page.NextCursor, nil
		})
		if err != nil {
			return nil, err
		}
	}

	s.setTools(tools)
	return s.Tools(), nil
}

// ListResources runs resource discovery, following pagination cursors. A
// server that did not advertise the resources capability is not sent
// resources/list and has no resources.
func (s *Session) ListResources(ctx context.Context) ([]protocol.Resource, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	resources := []protocol.Resource{}
	if s.Capabilities().Resources == nil {
		s.logger.Debug("server has no resources capability, skipping resources/list")
		return resources, nil
	}
	err := s.paginate(ctx, protocol.MethodListResources, func(raw json.RawMessage) (string, error) {
		var page protocol.ListResourcesResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return "", err
		}
		resources = append(resources, page.Resources...)
		return page.NextCursor, nil
	})
	if err != nil {
		return nil, err
	}
	return resources, nil
}

// paginate requests method until the server stops returning a cursor.
// collect decodes one page and returns its next cursor.
func (s *Session) paginate(ctx context.Context, method string, collect func(json.RawMessage) (string, error)) error {
	cursor := ""
	for page := 0; page < maxPages; page++ {
		var params interface{}
		if cursor != "" {
			params = protocol.PaginatedParams{Cursor: cursor}
		}
		raw, err := s.request(ctx, method, params, s.requestTimeout)
		if err != nil {
			return err
		}
		next, err := collect(raw)
		if err != nil {
			return mcperrors.ProtocolError("malformed "+method+" result", err)
		}
		if next == "" || next == cursor {
			return nil
		}
		cursor = next
	}
	s.logger.Warn("pagination limit reached", logging.String("method", method), logging.Int("pages", maxPages))
	return nil
}

// CallTool invokes a tool by name. The name must be in the last discovered
// tool list; otherwise it fails with UnknownToolError without touching the
// transport. Arguments that violate the tool's input schema fail with
// InvalidParams, also locally.
//
// A result with IsError set is the tool reporting failure and is returned
// as a result, not an error.
func (s *Session) CallTool(ctx context.Context, name string, args json.RawMessage) (*protocol.CallToolResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	entry, ok := s.lookupTool(name)
	if !ok {
		return nil, mcperrors.UnknownToolError(name).WithContext(&mcperrors.Context{
			ServerID:  s.serverID,
			Component: "session",
			Operation: "call_tool",
		})
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if entry.schema != nil {
		var instance interface{}
		if err := json.Unmarshal(args, &instance); err != nil {
			return nil, mcperrors.InvalidParams(protocol.MethodCallTool, err)
		}
		if err := entry.schema.Validate(instance); err != nil {
			return nil, mcperrors.InvalidParams(protocol.MethodCallTool, fmt.Errorf("arguments for %q: %w", name, err))
		}
	}

	raw, err := s.request(ctx, protocol.MethodCallTool, protocol.CallToolParams{Name: name, Arguments: args}, s.requestTimeout)
	if err != nil {
		return nil, err
	}

	var result protocol.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, mcperrors.ProtocolError("malformed tools/call result", err)
	}
	return &result, nil
}

// ReadResource fetches the contents of a resource.
func (s *Session) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	raw, err := s.request(ctx, protocol.MethodReadResource, protocol.ReadResourceParams{URI: uri}, s.requestTimeout)
	if err != nil {
		return nil, err
	}
	var result protocol.ReadResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, mcperrors.ProtocolError("malformed resources/read result", err)
	}
	return &result, nil
}

// Ping checks that the server is responsive.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.request(ctx, protocol.MethodPing, nil, s.requestTimeout)
	return err
}

// Tools returns the last discovered tool list.
func (s *Session) Tools() []protocol.Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.Tool, len(s.tools))
	copy(out, s.tools)
	return out
}

func (s *Session) lookupTool(name string) (*toolEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.toolIndex[name]
	return entry, ok
}

func (s *Session) setTools(tools []protocol.Tool) {
	index := make(map[string]*toolEntry, len(tools))
	for _, tool := range tools {
		entry := &toolEntry{tool: tool}
		if schema, err := compileSchema(tool.InputSchema); err != nil {
			s.logger.Debug("input schema unusable, arguments will not be validated",
				logging.String("tool", tool.Name), logging.ErrorField(err))
		} else {
			entry.schema = schema
		}
		index[tool.Name] = entry
	}

	s.mu.Lock()
	s.tools = tools
	s.toolIndex = index
	s.mu.Unlock()
}

func compileSchema(raw json.RawMessage) (*jsonschema.Resolved, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, err
	}
	return schema.Resolve(nil)
}
