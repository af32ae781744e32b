// Package config holds the server list the hub manages and the stores it
// is persisted in, plus process settings read from the environment.
package config

import (
	"encoding/json"
	"net/url"
	"strings"

	"gopkg.in/yaml.v3"

	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
	"github.com/ajitpratap0/mcp-toolhub/pkg/transport"
)

// ServerConfig identifies a tool server and says how to reach it. Spec is
// either a StdioSpec or an HTTPSpec; the fields of one variant cannot be
// set on the other.
type ServerConfig struct {
	ID   string
	Name string
	Spec Spec
}

// Spec is the transport-specific part of a ServerConfig.
type Spec interface {
	Kind() transport.Kind
	validate(id string) error
	clone() Spec
}

// StdioSpec launches the server as a child process speaking
// newline-delimited frames on stdin and stdout.
type StdioSpec struct {
	Command string
	Args    []string
	Env     map[string]string
}

// HTTPSpec reaches the server over an HTTP event stream.
type HTTPSpec struct {
	URL    string
	APIKey string
}

func (StdioSpec) Kind() transport.Kind { return transport.KindStdio }
func (HTTPSpec) Kind() transport.Kind  { return transport.KindHTTP }

func (s StdioSpec) validate(id string) error {
	if strings.TrimSpace(s.Command) == "" {
		return mcperrors.InvalidConfigError(id, "command", "is required for stdio servers")
	}
	for k := range s.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return mcperrors.InvalidConfigError(id, "env", "has an invalid variable name "+strings.TrimSpace(k))
		}
	}
	return nil
}

func (s HTTPSpec) validate(id string) error {
	if strings.TrimSpace(s.URL) == "" {
		return mcperrors.InvalidConfigError(id, "url", "is required for http servers")
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return mcperrors.InvalidConfigError(id, "url", "is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return mcperrors.InvalidConfigError(id, "url", "must use http or https")
	}
	if u.Host == "" {
		return mcperrors.InvalidConfigError(id, "url", "has no host")
	}
	return nil
}

func (s StdioSpec) clone() Spec {
	out := StdioSpec{Command: s.Command}
	if s.Args != nil {
		out.Args = append([]string{}, s.Args...)
	}
	if s.Env != nil {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = v
		}
	}
	return out
}

func (s HTTPSpec) clone() Spec { return s }

// Kind returns the transport kind, or "" when Spec is unset.
func (c ServerConfig) Kind() transport.Kind {
	if c.Spec == nil {
		return ""
	}
	return c.Spec.Kind()
}

// Validate checks that id and name are present and that the transport
// variant carries its required fields.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return mcperrors.InvalidConfigError("", "id", "is required")
	}
	if strings.ContainsAny(c.ID, "/?#") || strings.TrimSpace(c.ID) != c.ID {
		return mcperrors.InvalidConfigError(c.ID, "id", "must not contain '/', '?', '#' or surrounding spaces")
	}
	if strings.TrimSpace(c.Name) == "" {
		return mcperrors.InvalidConfigError(c.ID, "name", "is required")
	}
	if c.Spec == nil {
		return mcperrors.InvalidConfigError(c.ID, "transportKind", "is required")
	}
	return c.Spec.validate(c.ID)
}

// Clone returns a deep copy.
func (c ServerConfig) Clone() ServerConfig {
	out := c
	if c.Spec != nil {
		out.Spec = c.Spec.clone()
	}
	return out
}

// record is the flat form used in files, stores and the control plane.
type record struct {
	ID            string            `json:"id" yaml:"id"`
	Name          string            `json:"name" yaml:"name"`
	TransportKind transport.Kind    `json:"transportKind" yaml:"transportKind"`
	Command       string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args          []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env           map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL           string            `json:"url,omitempty" yaml:"url,omitempty"`
	APIKey        string            `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
}

func (c ServerConfig) record() record {
	r := record{ID: c.ID, Name: c.Name, TransportKind: c.Kind()}
	switch s := c.Spec.(type) {
	case StdioSpec:
		r.Command, r.Args, r.Env = s.Command, s.Args, s.Env
	case HTTPSpec:
		r.URL, r.APIKey = s.URL, s.APIKey
	}
	return r
}

// toConfig converts a flat record, rejecting fields that belong to the
// other transport.
func (r record) toConfig() (ServerConfig, error) {
	c := ServerConfig{ID: r.ID, Name: r.Name}
	switch r.TransportKind {
	case transport.KindStdio:
		if r.URL != "" || r.APIKey != "" {
			return c, mcperrors.InvalidConfigError(r.ID, "url", "is not allowed for stdio servers")
		}
		c.Spec = StdioSpec{Command: r.Command, Args: r.Args, Env: r.Env}
	case transport.KindHTTP:
		if r.Command != "" || len(r.Args) > 0 || len(r.Env) > 0 {
			return c, mcperrors.InvalidConfigError(r.ID, "command", "is not allowed for http servers")
		}
		c.Spec = HTTPSpec{URL: r.URL, APIKey: r.APIKey}
	case "":
		return c, mcperrors.InvalidConfigError(r.ID, "transportKind", "is required")
	default:
		return c, mcperrors.InvalidConfigError(r.ID, "transportKind", "must be stdio or http, got "+string(r.TransportKind))
	}
	return c, c.Validate()
}

// MarshalJSON writes the flat record form.
func (c ServerConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.record())
}

// UnmarshalJSON reads the flat record form and validates it.
func (c *ServerConfig) UnmarshalJSON(data []byte) error {
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	parsed, err := r.toConfig()
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// MarshalYAML writes the flat record form.
func (c ServerConfig) MarshalYAML() (interface{}, error) {
	return c.record(), nil
}

// UnmarshalYAML reads the flat record form and validates it.
func (c *ServerConfig) UnmarshalYAML(node *yaml.Node) error {
	var r record
	if err := node.Decode(&r); err != nil {
		return err
	}
	parsed, err := r.toConfig()
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Document is the on-disk layout of a server list.
type Document struct {
	Servers []ServerConfig `json:"servers" yaml:"servers"`
}

// ValidateAll validates every record and rejects two records sharing an
// id. The first problem found is returned.
func ValidateAll(servers []ServerConfig) error {
	seen := make(map[string]struct{}, len(servers))
	for _, s := range servers {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := seen[s.ID]; dup {
			return mcperrors.InvalidConfigError(s.ID, "id", "is duplicated")
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func cloneAll(servers []ServerConfig) []ServerConfig {
	out := make([]ServerConfig, len(servers))
	for i, s := range servers {
		out[i] = s.Clone()
	}
	return out
}
