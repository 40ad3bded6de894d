package app

import (
	"context"
	"errors"
	"fmt"

	"planline/internal/config"
	"planline/internal/engine"
	"planline/internal/repo"
)

// ResolveProjectAndConfig picks the active project and ensures a project + config exist in DB.
// It prefers the override, then the workspace planline.yml, then a single-project DB.
// A project that does not exist yet is created from the workspace config or the defaults.
func ResolveProjectAndConfig(ctx context.Context, workspace, projectOverride, actorID string, eng engine.Engine) (string, *config.Config, error) {
	fileCfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	projectID := projectOverride
	if projectID == "" && fileCfg != nil {
		projectID = fileCfg.Project.ID
	}
	if projectID == "" {
		p, err := eng.Repo.SingleProject(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("project not specified; use --project")
		}
		projectID = p.ID
	}
	seedCfg := fileCfg
	if seedCfg == nil || seedCfg.Project.ID != projectID {
		seedCfg = config.Default(projectID)
	}

	if _, err := eng.Repo.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if _, err := eng.InitProject(ctx, engine.ProjectInitOptions{ID: projectID, Config: seedCfg, ActorID: actorID}); err != nil {
			return "", nil, err
		}
	}
	cfg, err := eng.Repo.GetProjectConfig(ctx, projectID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return "", nil, err
		}
		if err := eng.Repo.UpsertProjectConfig(ctx, projectID, seedCfg); err != nil {
			return "", nil, fmt.Errorf("seed project config: %w", err)
		}
		cfg = seedCfg
	}
	cfg.Project.ID = projectID
	return projectID, cfg, nil
}
