package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if err := conn.Ping(); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".planline")); err != nil {
		t.Fatalf("workspace dir missing: %v", err)
	}
	if got := Path(dir); got != filepath.Join(dir, ".planline", "planline.db") {
		t.Fatalf("path = %s", got)
	}
}

func TestPragmasApplied(t *testing.T) {
	conn, err := Open(Config{Workspace: t.TempDir(), BusyTimeout: 1500 * time.Millisecond})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	var fk, busy int
	if err := conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("foreign_keys: %v", err)
	}
	if err := conn.QueryRow(`PRAGMA busy_timeout`).Scan(&busy); err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	if fk != 1 || busy != 1500 {
		t.Fatalf("foreign_keys=%d busy_timeout=%d", fk, busy)
	}
}
