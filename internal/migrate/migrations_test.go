package migrate

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func openTemp(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "m.db")+"?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrateIsRepeatable(t *testing.T) {
	conn := openTemp(t)
	if err := Migrate(conn); err != nil {
		t.Fatalf("first migrate: %v", err)
	}
	if err := Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatal(err)
	}
	var count int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != len(migrations) {
		t.Fatalf("recorded %d migrations, want %d", count, len(migrations))
	}
	for _, table := range []string{"projects", "project_configs", "tasks", "links", "recurrence_rules", "segments", "events", "api_keys"} {
		var name string
		if err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("table %s missing: %v", table, err)
		}
	}
}

func TestStatusAndCheck(t *testing.T) {
	conn := openTemp(t)
	st, err := Status(conn)
	if err != nil {
		t.Fatalf("status before migrate: %v", err)
	}
	if len(st.Applied) != 0 || len(st.Pending) == 0 {
		t.Fatalf("fresh state = %+v", st)
	}
	if err := Check(conn); !errors.Is(err, ErrPending) {
		t.Fatalf("expected ErrPending, got %v", err)
	}

	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st, err = Status(conn)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if len(st.Pending) != 0 || st.Applied[0].Version != 1 || st.Applied[0].AppliedAt == "" {
		t.Fatalf("migrated state = %+v", st)
	}
	if err := Check(conn); err != nil {
		t.Fatalf("check: %v", err)
	}
}
