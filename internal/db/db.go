// Package db opens the folio SQLite database.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	dirName  = ".folio"
	fileName = "folio.db"
)

type Config struct {
	Workspace string
	// Path overrides the workspace location when set.
	Path string
}

// Path returns the database file for workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, dirName, fileName)
}

// Open opens the database with foreign keys on, creating its directory first.
// Transactions take the write lock at BEGIN so concurrent writers queue on
// busy_timeout instead of failing when a read-then-write transaction upgrades.
func Open(cfg Config) (*sql.DB, error) {
	path := cfg.Path
	if path == "" {
		path = Path(cfg.Workspace)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
