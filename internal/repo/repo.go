package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"planline/internal/config"
	"planline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q picks the transaction when one is given.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

const projectColumns = `id, name, status, COALESCE(description,''), created_at`

func scanProject(s scanner) (domain.Project, error) {
	var p domain.Project
	err := s.Scan(&p.ID, &p.Name, &p.Status, &p.Description, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	return r.InsertProjectTx(ctx, nil, p)
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(id, name, status, description, created_at) VALUES (?,?,?,?,?)`,
		p.ID, p.Name, p.Status, nullable(p.Description), p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return r.GetProjectTx(ctx, nil, id)
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	return scanProject(r.q(tx).QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// SingleProject returns the only project in the workspace. It fails when
// there are several, since the caller has to pick one.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	projects, err := r.ListProjects(ctx)
	switch {
	case err != nil:
		return domain.Project{}, err
	case len(projects) == 0:
		return domain.Project{}, ErrNotFound
	case len(projects) > 1:
		return domain.Project{}, fmt.Errorf("%d projects in workspace; specify --project", len(projects))
	}
	return projects[0], nil
}

// ListProjects returns every project, newest first.
func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProjectChanges lists the project fields to overwrite; nil leaves a field.
type ProjectChanges struct {
	Name        *string
	Status      *string
	Description *string
}

// UpdateProjectTx applies c to the project. An empty description clears it.
func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, id string, c ProjectChanges) error {
	var (
		sets []string
		args []any
	)
	if c.Name != nil {
		sets, args = append(sets, "name=?"), append(args, *c.Name)
	}
	if c.Status != nil {
		sets, args = append(sets, "status=?"), append(args, *c.Status)
	}
	if c.Description != nil {
		sets, args = append(sets, "description=?"), append(args, nullable(*c.Description))
	}
	if len(sets) == 0 {
		return nil
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE projects SET `+strings.Join(sets, ", ")+` WHERE id=?`, append(args, id)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	return r.UpsertProjectConfigTx(ctx, nil, projectID, cfg)
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	return r.GetProjectConfigTx(ctx, nil, projectID)
}

func (r Repo) GetProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string) (*config.Config, error) {
	var payload string
	err := r.q(tx).QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return domain.FormatDate(t)
}

func nullableDatePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return nullableDate(*t)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseNullDate(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return domain.ParseDate(s.String)
}

func parseNullDatePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
