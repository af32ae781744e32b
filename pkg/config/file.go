package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
)

// Format is a file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the encoding from a file extension. Anything that is not
// .yaml or .yml is JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// FileStore keeps the server list in a JSON or YAML file of the form
// {"servers": [...]}. A missing file is an empty list.
type FileStore struct {
	path   string
	format Format
	mu     sync.Mutex
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, format: FormatFor(path)}
}

// Path returns the backing file.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Load(ctx context.Context) ([]ServerConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []ServerConfig{}, nil
	}
	if err != nil {
		return nil, mcperrors.StoreError("file", "load", err)
	}
	servers, err := Decode(data, f.format)
	if err != nil {
		return nil, err
	}
	return servers, nil
}

func (f *FileStore) Save(ctx context.Context, servers []ServerConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(servers, f.format)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := writeAtomic(f.path, data); err != nil {
		return mcperrors.StoreError("file", "save", err)
	}
	return nil
}

// Decode parses a server list document. Every record is validated and ids
// must be unique.
func Decode(data []byte, format Format) ([]ServerConfig, error) {
	var doc Document
	if len(bytes.TrimSpace(data)) > 0 {
		var err error
		switch format {
		case FormatYAML:
			err = yaml.Unmarshal(data, &doc)
		default:
			err = json.Unmarshal(data, &doc)
		}
		if err != nil {
			if mcperrors.IsInvalidConfig(err) {
				return nil, err
			}
			return nil, mcperrors.InvalidConfigError("", "servers", fmt.Sprintf("cannot be parsed as %s: %v", format, err))
		}
	}
	if doc.Servers == nil {
		doc.Servers = []ServerConfig{}
	}
	if err := ValidateAll(doc.Servers); err != nil {
		return nil, err
	}
	return doc.Servers, nil
}

// Encode renders a server list document.
func Encode(servers []ServerConfig, format Format) ([]byte, error) {
	if err := ValidateAll(servers); err != nil {
		return nil, err
	}
	if servers == nil {
		servers = []ServerConfig{}
	}
	doc := Document{Servers: servers}
	if format == FormatYAML {
		return yaml.Marshal(doc)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// writeAtomic replaces path with data so readers never see a partial file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(name, 0o600); err != nil {
		return err
	}
	return os.Rename(name, path)
}
