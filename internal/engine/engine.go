package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"planline/internal/calendar"
	"planline/internal/config"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

// ErrInvalidInput marks errors caused by bad caller input rather than by
// storage or scheduling.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	// Config is the fallback for projects with no stored config.
	Config *config.Config
	Now    func() time.Time
	Logger *log.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

// settings returns the project's config and the calendar built from it.
func (e Engine) settings(ctx context.Context, tx *sql.Tx, projectID string) (*config.Config, *calendar.Calendar, error) {
	cfg, err := e.Repo.GetProjectConfigTx(ctx, tx, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		if e.Config != nil && e.Config.Project.ID == projectID {
			cfg, err = e.Config, nil
		} else {
			cfg, err = config.Default(projectID), nil
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("project %s config: %w", projectID, err)
	}
	cal, err := cfg.BuildCalendar()
	if err != nil {
		return nil, nil, fmt.Errorf("project %s calendar: %w", projectID, err)
	}
	return cfg, cal, nil
}

// ProjectInitOptions are parameters for creating a project.
type ProjectInitOptions struct {
	ID          string
	Name        string
	Description string
	// Config seeds the project config; nil uses the default.
	Config  *config.Config
	ActorID string
}

// InitProject creates a project and stores its config.
func (e Engine) InitProject(ctx context.Context, opts ProjectInitOptions) (domain.Project, error) {
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		return domain.Project{}, invalid("project id is required")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default(id)
	}
	name := opts.Name
	if name == "" {
		name = cfg.Project.Name
	}
	if name == "" {
		name = id
	}
	cfg.Project.Name = name

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectTx(ctx, tx, id); err == nil {
		return domain.Project{}, invalid("project %s already exists", id)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Project{}, err
	}
	p := domain.Project{
		ID:          id,
		Name:        name,
		Status:      "active",
		Description: opts.Description,
		CreatedAt:   e.stamp(),
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, cfg); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, events.KindProject, p.ID, opts.ActorID, events.EventPayload{"name": p.Name, "status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ImportConfig replaces a project's stored config. The calendar may have
// changed, so the project is rescheduled when auto recompute is on.
func (e Engine) ImportConfig(ctx context.Context, projectID string, cfg *config.Config, actorID string) error {
	if cfg == nil {
		return invalid("config is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectTx(ctx, tx, projectID); err != nil {
		return err
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, cfg); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ConfigImported, projectID, events.KindProject, projectID, actorID, events.EventPayload{
		"holidays":   len(cfg.Calendar.Holidays),
		"exceptions": len(cfg.Calendar.Exceptions),
	}); err != nil {
		return err
	}
	if cfg.Scheduling.AutoRecompute {
		if _, err := e.recomputeTx(ctx, tx, projectID, actorID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ProjectUpdateOptions are the project fields to change; nil leaves a field.
type ProjectUpdateOptions struct {
	Name        *string
	Status      *string
	Description *string
	ActorID     string
}

var projectStatuses = []string{"active", "paused", "archived"}

// UpdateProject renames a project or changes its status or description.
func (e Engine) UpdateProject(ctx context.Context, id string, opts ProjectUpdateOptions) (domain.Project, error) {
	changed := events.EventPayload{}
	if opts.Name != nil {
		if strings.TrimSpace(*opts.Name) == "" {
			return domain.Project{}, invalid("project name must not be empty")
		}
		changed["name"] = *opts.Name
	}
	if opts.Status != nil {
		if !slices.Contains(projectStatuses, *opts.Status) {
			return domain.Project{}, invalid("project status must be one of %s", strings.Join(projectStatuses, ", "))
		}
		changed["status"] = *opts.Status
	}
	if opts.Description != nil {
		changed["description"] = *opts.Description
	}
	if len(changed) == 0 {
		return domain.Project{}, invalid("nothing to update")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	err = e.Repo.UpdateProjectTx(ctx, tx, id, repo.ProjectChanges{Name: opts.Name, Status: opts.Status, Description: opts.Description})
	if err != nil {
		return domain.Project{}, fmt.Errorf("project %s: %w", id, err)
	}
	if err := e.Events.Append(ctx, tx, events.ProjectUpdated, id, events.KindProject, id, opts.ActorID, changed); err != nil {
		return domain.Project{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
