package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir = ".planline"
	fileName     = "planline.db"

	// DefaultBusyTimeout lets the CLI and a running server share the file.
	DefaultBusyTimeout = 5 * time.Second
)

// Config selects the workspace database and how it is opened.
type Config struct {
	Workspace string
	// BusyTimeout bounds how long a writer waits on a locked database.
	// Zero means DefaultBusyTimeout.
	BusyTimeout time.Duration
}

// Path returns the database file of a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, fileName)
}

// EnsureWorkspace creates the .planline directory if missing and returns it.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	dir := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return dir, nil
}

func dsn(cfg Config) string {
	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = DefaultBusyTimeout
	}
	q := url.Values{}
	q.Set("cache", "shared")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", timeout.Milliseconds()))
	return "file:" + Path(cfg.Workspace) + "?" + q.Encode()
}

// Open opens the workspace SQLite database with foreign keys enforced.
// The schema is not touched; run migrate.Migrate before use.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	conn, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", Path(cfg.Workspace), err)
	}
	return conn, nil
}
