package engine

import (
	"context"

	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/segment"
)

// SplitOptions carry the work periods a task is split into.
type SplitOptions struct {
	TaskID  string
	Ranges  []segment.Range
	ActorID string
}

// SplitTask replaces the task's single work period with segments and
// returns the split task with its segment summary.
func (e Engine) SplitTask(ctx context.Context, opts SplitOptions) (domain.Task, segment.Summary, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, segment.Summary{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Task{}, segment.Summary{}, err
	}
	if t.IsMilestone || t.IsGroup {
		return domain.Task{}, segment.Summary{}, invalid("only work tasks can be split; %s is a milestone or group", t.ID)
	}
	cfg, cal, err := e.settings(ctx, tx, t.ProjectID)
	if err != nil {
		return domain.Task{}, segment.Summary{}, err
	}
	seg := segment.Engine{Calendar: cal, GapWarningDays: cfg.Scheduling.GapWarningDays}
	split, err := seg.Split(t, opts.Ranges)
	if err != nil {
		return domain.Task{}, segment.Summary{}, err
	}
	sum, err := seg.Summary(split)
	if err != nil {
		return domain.Task{}, segment.Summary{}, err
	}
	split.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, split); err != nil {
		return domain.Task{}, segment.Summary{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskSplit, t.ProjectID, events.KindTask, t.ID, opts.ActorID, events.EventPayload{
		"segments": sum.SegmentCount,
		"gaps":     sum.GapCount,
		"gap_days": sum.TotalGapDuration,
		"warnings": sum.Warnings,
		"duration": split.Duration,
		"end_date": domain.FormatDate(split.End),
	}); err != nil {
		return domain.Task{}, segment.Summary{}, err
	}
	for _, w := range sum.Warnings {
		e.logf("segment: task %s: %s", t.ID, w)
	}
	if cfg.Scheduling.AutoRecompute {
		if _, err := e.recomputeTx(ctx, tx, t.ProjectID, opts.ActorID); err != nil {
			return domain.Task{}, segment.Summary{}, err
		}
		if split, err = e.Repo.GetTaskTx(ctx, tx, t.ID); err != nil {
			return domain.Task{}, segment.Summary{}, err
		}
		if sum, err = seg.Summary(split); err != nil {
			return domain.Task{}, segment.Summary{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, segment.Summary{}, err
	}
	return split, sum, nil
}

// MergeTask joins a split task back into one period with the dates it had
// before the split.
func (e Engine) MergeTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	cfg, cal, err := e.settings(ctx, tx, t.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	merged, err := segment.Engine{Calendar: cal}.Merge(t)
	if err != nil {
		return domain.Task{}, err
	}
	merged.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, merged); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskMerged, t.ProjectID, events.KindTask, t.ID, actorID, events.EventPayload{
		"segments":   len(t.Segments),
		"start_date": domain.FormatDate(merged.Start),
		"end_date":   domain.FormatDate(merged.End),
	}); err != nil {
		return domain.Task{}, err
	}
	if cfg.Scheduling.AutoRecompute {
		if _, err := e.recomputeTx(ctx, tx, t.ProjectID, actorID); err != nil {
			return domain.Task{}, err
		}
		if merged, err = e.Repo.GetTaskTx(ctx, tx, t.ID); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return merged, nil
}

// SegmentSummary describes the task's segments and the gaps between them.
func (e Engine) SegmentSummary(ctx context.Context, taskID string) (segment.Summary, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return segment.Summary{}, err
	}
	cfg, cal, err := e.settings(ctx, nil, t.ProjectID)
	if err != nil {
		return segment.Summary{}, err
	}
	return segment.Engine{Calendar: cal, GapWarningDays: cfg.Scheduling.GapWarningDays}.Summary(t)
}
