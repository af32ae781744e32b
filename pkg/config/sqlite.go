package config

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	mcperrors "github.com/ajitpratap0/mcp-toolhub/pkg/errors"
)

// SQLiteStore keeps one row per server, ordered by position.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens or creates the database at path and runs the
// schema migration.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, mcperrors.StoreError("sqlite", "open", fmt.Errorf("create db directory: %w", err))
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, mcperrors.StoreError("sqlite", "open", err)
	}
	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, mcperrors.StoreError("sqlite", "migrate", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS servers (
		id TEXT PRIMARY KEY,
		position INTEGER NOT NULL,
		config TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_servers_position ON servers(position);
	`)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) ([]ServerConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config FROM servers ORDER BY position`)
	if err != nil {
		return nil, mcperrors.StoreError("sqlite", "load", err)
	}
	defer rows.Close()

	servers := []ServerConfig{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, mcperrors.StoreError("sqlite", "load", err)
		}
		var cfg ServerConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, err
		}
		servers = append(servers, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, mcperrors.StoreError("sqlite", "load", err)
	}
	return servers, nil
}

func (s *SQLiteStore) Save(ctx context.Context, servers []ServerConfig) error {
	if err := ValidateAll(servers); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mcperrors.StoreError("sqlite", "save", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM servers`); err != nil {
		return mcperrors.StoreError("sqlite", "save", err)
	}
	for i, cfg := range servers {
		raw, err := json.Marshal(cfg)
		if err != nil {
			return mcperrors.StoreError("sqlite", "save", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO servers (id, position, config) VALUES (?, ?, ?)`,
			cfg.ID, i, string(raw)); err != nil {
			return mcperrors.StoreError("sqlite", "save", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return mcperrors.StoreError("sqlite", "save", err)
	}
	return nil
}
