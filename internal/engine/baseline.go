package engine

import (
	"context"
	"errors"

	"planline/internal/baseline"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
)

// SetBaseline freezes the task's current dates. A baseline cannot be
// replaced once set.
func (e Engine) SetBaseline(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	t, err = baseline.Capture(t, e.now())
	if err != nil {
		return domain.Task{}, err
	}
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.BaselineSet, t.ProjectID, events.KindTask, t.ID, actorID, events.EventPayload{
		"start_date": domain.FormatDate(t.Baseline.Start),
		"end_date":   domain.FormatDate(t.Baseline.End),
		"duration":   t.Baseline.Duration,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// SetProjectBaseline captures a baseline for every dated task that has
// none yet and returns how many were captured.
func (e Engine) SetProjectBaseline(ctx context.Context, projectID, actorID string) (int, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	tasks, err := e.Repo.ListTasksTx(ctx, tx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return 0, err
	}
	now := e.stamp()
	captured := 0
	for _, t := range tasks {
		b, err := baseline.Capture(t, e.now())
		if errors.Is(err, baseline.ErrBaselineExists) || errors.Is(err, baseline.ErrNoDates) {
			continue
		}
		if err != nil {
			return 0, err
		}
		b.UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, b); err != nil {
			return 0, err
		}
		if err := e.Events.Append(ctx, tx, events.BaselineSet, projectID, events.KindTask, b.ID, actorID, events.EventPayload{
			"start_date": domain.FormatDate(b.Baseline.Start),
			"end_date":   domain.FormatDate(b.Baseline.End),
			"duration":   b.Baseline.Duration,
		}); err != nil {
			return 0, err
		}
		captured++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return captured, nil
}

func (e Engine) tracker(ctx context.Context, projectID string) (baseline.Tracker, error) {
	cfg, _, err := e.settings(ctx, nil, projectID)
	if err != nil {
		return baseline.Tracker{}, err
	}
	return baseline.Tracker{ThresholdDays: cfg.Scheduling.VarianceThresholdDays}, nil
}

// BaselinePerformance reports the task's variance against its baseline.
func (e Engine) BaselinePerformance(ctx context.Context, taskID string) (baseline.Performance, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return baseline.Performance{}, err
	}
	tr, err := e.tracker(ctx, t.ProjectID)
	if err != nil {
		return baseline.Performance{}, err
	}
	return tr.Calculate(t), nil
}

// ProjectBaselineSummary counts the project's tasks per baseline status.
func (e Engine) ProjectBaselineSummary(ctx context.Context, projectID string) (baseline.Summary, []baseline.Performance, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return baseline.Summary{}, nil, err
	}
	tasks, err := e.Repo.ListTasks(ctx, repo.TaskFilters{ProjectID: projectID})
	if err != nil {
		return baseline.Summary{}, nil, err
	}
	tr, err := e.tracker(ctx, projectID)
	if err != nil {
		return baseline.Summary{}, nil, err
	}
	sum, perf := tr.Summarize(tasks)
	return sum, perf, nil
}
