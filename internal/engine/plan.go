package engine

import (
	"context"
	"errors"

	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/planfile"
	"planline/internal/repo"
	"planline/internal/schedule"
)

// ImportResult counts what a plan import wrote.
type ImportResult struct {
	Created      int            `json:"created"`
	Updated      int            `json:"updated"`
	LinksAdded   int            `json:"links_added"`
	LinksSkipped int            `json:"links_skipped"`
	Schedule     ScheduleReport `json:"-"`
}

// ImportPlan upserts the plan's tasks and links into the project and
// reschedules it. The whole import is rejected when the resulting links
// contain a cycle.
func (e Engine) ImportPlan(ctx context.Context, projectID string, plan planfile.Plan, actorID string) (ImportResult, error) {
	if err := plan.Validate(); err != nil {
		return ImportResult{}, invalid("%v", err)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ImportResult{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectTx(ctx, tx, projectID); err != nil {
		return ImportResult{}, err
	}
	_, cal, err := e.settings(ctx, tx, projectID)
	if err != nil {
		return ImportResult{}, err
	}
	now := e.stamp()
	tasks, err := plan.DomainTasks(projectID, now)
	if err != nil {
		return ImportResult{}, invalid("%v", err)
	}
	var res ImportResult
	// parents first so the parent reference always resolves
	for _, pass := range []bool{true, false} {
		for _, t := range tasks {
			if (t.ParentID == nil) != pass {
				continue
			}
			if err := normalizeDates(&t, cal); err != nil {
				return ImportResult{}, err
			}
			existing, err := e.Repo.GetTaskTx(ctx, tx, t.ID)
			switch {
			case errors.Is(err, repo.ErrNotFound):
				if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
					return ImportResult{}, err
				}
				res.Created++
			case err != nil:
				return ImportResult{}, err
			default:
				if existing.ProjectID != projectID {
					return ImportResult{}, invalid("task %s belongs to project %s", t.ID, existing.ProjectID)
				}
				t.CreatedAt = existing.CreatedAt
				t.Baseline = existing.Baseline
				if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
					return ImportResult{}, err
				}
				res.Updated++
			}
		}
	}

	existing, err := e.Repo.ListLinksTx(ctx, tx, projectID)
	if err != nil {
		return ImportResult{}, err
	}
	seen := make(map[string]bool, len(existing))
	for _, l := range existing {
		seen[l.ID] = true
		seen[planfile.LinkID(l.FromID, l.ToID, l.Type)] = true
	}
	all := existing
	for _, l := range plan.DomainLinks(projectID, now) {
		if seen[l.ID] || seen[planfile.LinkID(l.FromID, l.ToID, l.Type)] {
			res.LinksSkipped++
			continue
		}
		seen[l.ID] = true
		if err := e.Repo.InsertLink(ctx, tx, l); err != nil {
			return ImportResult{}, err
		}
		all = append(all, l)
		res.LinksAdded++
	}
	stored, err := e.Repo.ListTasksTx(ctx, tx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return ImportResult{}, err
	}
	ids := make([]string, len(stored))
	for i, t := range stored {
		ids[i] = t.ID
	}
	if cyc := schedule.DetectCycle(ids, all); cyc != nil {
		return ImportResult{}, cyc
	}
	if err := e.Events.Append(ctx, tx, events.PlanImported, projectID, events.KindProject, projectID, actorID, events.EventPayload{
		"created":       res.Created,
		"updated":       res.Updated,
		"links_added":   res.LinksAdded,
		"links_skipped": res.LinksSkipped,
	}); err != nil {
		return ImportResult{}, err
	}
	if res.Schedule, err = e.recomputeTx(ctx, tx, projectID, actorID); err != nil {
		return ImportResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ImportResult{}, err
	}
	return res, nil
}

// ExportPlan renders the project's tasks and links as a plan.
func (e Engine) ExportPlan(ctx context.Context, projectID string) (planfile.Plan, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return planfile.Plan{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return planfile.Plan{}, err
	}
	links, err := e.Repo.ListLinks(ctx, projectID)
	if err != nil {
		return planfile.Plan{}, err
	}
	return planfile.FromDomain(p, tasks, links), nil
}

// Snapshot returns the project's tasks and links as stored.
func (e Engine) Snapshot(ctx context.Context, projectID string) ([]domain.Task, []domain.Link, error) {
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return nil, nil, err
	}
	links, err := e.Repo.ListLinks(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}
	return tasks, links, nil
}
