package config

import (
	"context"
	"sync"
)

// Store persists the ordered server list. Load returns validated records
// in their stored order; Save replaces the whole list.
type Store interface {
	Load(ctx context.Context) ([]ServerConfig, error)
	Save(ctx context.Context, servers []ServerConfig) error
}

// MemoryStore keeps the list in memory. It is used by tests and when no
// persistent store is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	servers []ServerConfig
	loads   int
	saves   int
}

// NewMemoryStore returns a store seeded with servers.
func NewMemoryStore(servers ...ServerConfig) *MemoryStore {
	return &MemoryStore{servers: cloneAll(servers)}
}

func (m *MemoryStore) Load(ctx context.Context) ([]ServerConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	return cloneAll(m.servers), nil
}

func (m *MemoryStore) Save(ctx context.Context, servers []ServerConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateAll(servers); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.servers = cloneAll(servers)
	return nil
}

// Loads reports how many times Load ran.
func (m *MemoryStore) Loads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loads
}

// Saves reports how many times Save ran.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
