package engine

import (
	"context"
	"database/sql"

	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
	"planline/internal/schedule"
)

// ScheduleReport is the outcome of a scheduling pass over one project.
type ScheduleReport struct {
	ProjectID string
	Result    schedule.Result
	// Changed lists tasks whose stored dates or float changed.
	Changed []string
}

// Recompute runs a scheduling pass over the project and stores every
// task's computed dates, float and critical flag.
func (e Engine) Recompute(ctx context.Context, projectID, actorID string) (ScheduleReport, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ScheduleReport{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectTx(ctx, tx, projectID); err != nil {
		return ScheduleReport{}, err
	}
	rep, err := e.recomputeTx(ctx, tx, projectID, actorID)
	if err != nil {
		return ScheduleReport{}, err
	}
	if err := tx.Commit(); err != nil {
		return ScheduleReport{}, err
	}
	return rep, nil
}

// Schedule computes the project's schedule without storing it.
func (e Engine) Schedule(ctx context.Context, projectID string) (ScheduleReport, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return ScheduleReport{}, err
	}
	_, cal, err := e.settings(ctx, nil, projectID)
	if err != nil {
		return ScheduleReport{}, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return ScheduleReport{}, err
	}
	links, err := e.Repo.ListLinks(ctx, projectID)
	if err != nil {
		return ScheduleReport{}, err
	}
	res, err := schedule.Compute(tasks, links, cal)
	if err != nil {
		return ScheduleReport{}, err
	}
	return ScheduleReport{ProjectID: projectID, Result: res, Changed: changedTasks(tasks, res.Tasks)}, nil
}

func (e Engine) recomputeTx(ctx context.Context, tx *sql.Tx, projectID, actorID string) (ScheduleReport, error) {
	_, cal, err := e.settings(ctx, tx, projectID)
	if err != nil {
		return ScheduleReport{}, err
	}
	tasks, err := e.Repo.ListTasksTx(ctx, tx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return ScheduleReport{}, err
	}
	links, err := e.Repo.ListLinksTx(ctx, tx, projectID)
	if err != nil {
		return ScheduleReport{}, err
	}
	res, err := schedule.Compute(tasks, links, cal)
	if err != nil {
		e.logf("schedule: project %s: %v", projectID, err)
		return ScheduleReport{}, err
	}
	rep := ScheduleReport{ProjectID: projectID, Result: res, Changed: changedTasks(tasks, res.Tasks)}
	now := e.stamp()
	byID := make(map[string]domain.Task, len(res.Tasks))
	for _, t := range res.Tasks {
		byID[t.ID] = t
	}
	for _, id := range rep.Changed {
		t := byID[id]
		t.UpdatedAt = now
		if err := e.Repo.UpdateComputed(ctx, tx, t); err != nil {
			return ScheduleReport{}, err
		}
	}
	for _, w := range res.Warnings {
		e.logf("schedule: project %s: %s: %s", projectID, w.Code, w.Message)
	}
	for _, de := range res.Errors {
		e.logf("schedule: project %s: %v", projectID, de)
	}
	if err := e.Events.Append(ctx, tx, events.ScheduleComputed, projectID, events.KindProject, projectID, actorID, events.EventPayload{
		"project_start": domain.FormatDate(res.ProjectStart),
		"project_end":   domain.FormatDate(res.ProjectEnd),
		"critical_path": res.CriticalPath,
		"errors":        len(res.Errors),
		"warnings":      len(res.Warnings),
		"changed":       len(rep.Changed),
	}); err != nil {
		return ScheduleReport{}, err
	}
	return rep, nil
}

// changedTasks returns, in input order, the ids of tasks whose computed
// fields differ between before and after.
func changedTasks(before, after []domain.Task) []string {
	var ids []string
	for i := range before {
		if i >= len(after) {
			break
		}
		if computedDiffers(before[i], after[i]) {
			ids = append(ids, before[i].ID)
		}
	}
	return ids
}

func computedDiffers(a, b domain.Task) bool {
	if !a.Start.Equal(b.Start) || !a.End.Equal(b.End) {
		return true
	}
	if a.Duration != b.Duration || a.Progress != b.Progress {
		return true
	}
	if a.TotalFloat != b.TotalFloat || a.FreeFloat != b.FreeFloat {
		return true
	}
	if a.IsCritical != b.IsCritical || a.WasConstrained != b.WasConstrained {
		return true
	}
	if len(a.Segments) != len(b.Segments) {
		return true
	}
	for i := range a.Segments {
		if !a.Segments[i].Start.Equal(b.Segments[i].Start) || !a.Segments[i].End.Equal(b.Segments[i].End) {
			return true
		}
	}
	return false
}
