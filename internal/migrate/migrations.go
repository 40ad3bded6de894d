package migrate

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema step. Files are named NNNN_name.sql.
type Migration struct {
	Version int    `json:"version"`
	Name    string `json:"name"`
	SQL     string `json:"-"`
}

// Applied is a row of the schema_migrations history.
type Applied struct {
	Version   int    `json:"version"`
	Name      string `json:"name"`
	AppliedAt string `json:"applied_at"`
}

// State is the migration history of a database next to what is embedded.
type State struct {
	Applied []Applied   `json:"applied"`
	Pending []Migration `json:"pending"`
}

func loadMigrations() ([]Migration, error) {
	files, err := fs.ReadDir(migrationsFS, "sql")
	if err != nil {
		return nil, err
	}
	var migrations []Migration
	seen := map[int]string{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(f.Name(), "_")
		v, err := strconv.Atoi(prefix)
		if !ok || err != nil || v <= 0 {
			return nil, fmt.Errorf("invalid migration filename %s", f.Name())
		}
		if other, dup := seen[v]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, f.Name(), v)
		}
		seen[v] = f.Name()
		data, err := migrationsFS.ReadFile("sql/" + f.Name())
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, Migration{Version: v, Name: f.Name(), SQL: string(data)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

const historyTable = `CREATE TABLE IF NOT EXISTS schema_migrations(
  version INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL
)`

// Migrate applies every embedded migration not yet recorded, each in its
// own transaction.
func Migrate(db *sql.DB) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}
	if _, err := db.Exec(historyTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	done, err := appliedVersions(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		if err := apply(db, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(db *sql.DB, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(m.SQL); err != nil {
		return fmt.Errorf("migration %s: %w", m.Name, err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := tx.Exec(`INSERT INTO schema_migrations(version, name, applied_at) VALUES (?,?,?)`, m.Version, m.Name, now); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}
	return tx.Commit()
}

func appliedVersions(db *sql.DB) (map[int]bool, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()
	out := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

// Status reports applied and pending migrations. A database that was never
// migrated has everything pending.
func Status(db *sql.DB) (State, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return State{}, err
	}
	var st State
	rows, err := db.Query(`SELECT version, name, applied_at FROM schema_migrations ORDER BY version`)
	if err != nil {
		if !strings.Contains(err.Error(), "no such table") {
			return State{}, err
		}
		st.Pending = migrations
		return st, nil
	}
	defer rows.Close()
	done := map[int]bool{}
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Version, &a.Name, &a.AppliedAt); err != nil {
			return State{}, err
		}
		done[a.Version] = true
		st.Applied = append(st.Applied, a)
	}
	if err := rows.Err(); err != nil {
		return State{}, err
	}
	for _, m := range migrations {
		if !done[m.Version] {
			st.Pending = append(st.Pending, m)
		}
	}
	return st, nil
}

// ErrPending is returned by Check when the schema is behind the binary.
var ErrPending = errors.New("database has pending migrations")

// Check fails with ErrPending unless every embedded migration is applied.
func Check(db *sql.DB) error {
	st, err := Status(db)
	if err != nil {
		return err
	}
	if len(st.Pending) > 0 {
		return fmt.Errorf("%w: %d to apply, first %s", ErrPending, len(st.Pending), st.Pending[0].Name)
	}
	return nil
}
