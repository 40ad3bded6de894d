package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/recurrence"
	"planline/internal/repo"
)

// RecurrenceOptions attach a rule to a task. A zero StartDate uses the
// task's start and a zero Interval means every period.
type RecurrenceOptions struct {
	TaskID  string
	Rule    domain.RecurrenceRule
	ActorID string
}

// EnableRecurrence validates the rule and stores it, active, on the task.
// Any previous rule is replaced.
func (e Engine) EnableRecurrence(ctx context.Context, opts RecurrenceOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Series != nil {
		return domain.Task{}, invalid("task %s is an instance of series %s; detach it first", t.ID, t.Series.SeriesID)
	}
	if t.IsGroup {
		return domain.Task{}, invalid("group task %s cannot recur", t.ID)
	}
	rule := opts.Rule.Clone()
	if rule.ID == "" {
		if t.Recurrence != nil {
			rule.ID = t.Recurrence.ID
		} else {
			rule.ID = uuid.NewString()
		}
	}
	if rule.StartDate.IsZero() {
		rule.StartDate = t.Start
	}
	rule.StartDate = domain.Day(rule.StartDate)
	if rule.Interval == 0 {
		rule.Interval = 1
	}
	rule.Weekdays = recurrence.SortedWeekdays(rule.Weekdays)
	rule.Active = true
	if err := recurrence.ValidateRule(rule); err != nil {
		return domain.Task{}, err
	}
	t.Recurrence = &rule
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.RecurrenceEnabled, t.ProjectID, events.KindTask, t.ID, opts.ActorID, events.EventPayload{
		"rule_id":    rule.ID,
		"frequency":  string(rule.Frequency),
		"interval":   rule.Interval,
		"start_date": domain.FormatDate(rule.StartDate),
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// DisableRecurrence deactivates the task's rule. Instances already
// generated are kept.
func (e Engine) DisableRecurrence(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.Recurrence == nil {
		return domain.Task{}, recurrence.ErrNoRule
	}
	t.Recurrence.Active = false
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.RecurrenceDisabled, t.ProjectID, events.KindTask, t.ID, actorID, events.EventPayload{"rule_id": t.Recurrence.ID}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// GenerateOptions bound instance generation. Zero dates leave that side of
// the window open.
type GenerateOptions struct {
	TaskID  string
	From    time.Time
	To      time.Time
	ActorID string
}

type GenerateResult struct {
	SeriesID string        `json:"series_id"`
	Created  []domain.Task `json:"created"`
	// Existing counts occurrences whose instance was already stored.
	Existing int `json:"existing"`
}

// GenerateInstances stores the rule's instances inside the window. The
// originating task stands for the first occurrence. Instance ids are
// derived from the series and index, so running it again only adds
// occurrences that are missing.
func (e Engine) GenerateInstances(ctx context.Context, opts GenerateOptions) (GenerateResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return GenerateResult{}, err
	}
	defer tx.Rollback()

	base, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return GenerateResult{}, err
	}
	cfg, cal, err := e.settings(ctx, tx, base.ProjectID)
	if err != nil {
		return GenerateResult{}, err
	}
	gen := recurrence.Generator{Calendar: cal, MaxOccurrences: cfg.Scheduling.DefaultMaxOccurrences}
	instances, err := gen.Generate(base, recurrence.Window{Start: opts.From, End: opts.To})
	if err != nil {
		return GenerateResult{}, err
	}
	res := GenerateResult{SeriesID: recurrence.SeriesID(base, *base.Recurrence)}
	now := e.stamp()
	for _, inst := range instances {
		if inst.Series.InstanceIndex == 0 {
			continue
		}
		if _, err := e.Repo.GetTaskTx(ctx, tx, inst.ID); err == nil {
			res.Existing++
			continue
		} else if !errors.Is(err, repo.ErrNotFound) {
			return GenerateResult{}, err
		}
		inst.CreatedAt, inst.UpdatedAt = now, now
		if err := e.Repo.InsertTask(ctx, tx, inst); err != nil {
			return GenerateResult{}, err
		}
		res.Created = append(res.Created, inst)
	}
	if err := e.Events.Append(ctx, tx, events.RecurrenceGenerated, base.ProjectID, events.KindTask, base.ID, opts.ActorID, events.EventPayload{
		"series_id": res.SeriesID,
		"created":   len(res.Created),
		"existing":  res.Existing,
	}); err != nil {
		return GenerateResult{}, err
	}
	if len(res.Created) > 0 && cfg.Scheduling.AutoRecompute {
		if _, err := e.recomputeTx(ctx, tx, base.ProjectID, opts.ActorID); err != nil {
			return GenerateResult{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return GenerateResult{}, err
	}
	return res, nil
}

// DetachInstance turns a generated instance into a standalone task. Series
// updates no longer reach it.
func (e Engine) DetachInstance(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	series := t.Series
	t, err = recurrence.Detach(t)
	if err != nil {
		return domain.Task{}, err
	}
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.InstanceDetached, t.ProjectID, events.KindTask, t.ID, actorID, events.EventPayload{
		"series_id":      series.SeriesID,
		"instance_index": series.InstanceIndex,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// SeriesUpdateOptions patch one instance or an instance and every later
// one in its series.
type SeriesUpdateOptions struct {
	TaskID  string
	Scope   recurrence.Scope
	Patch   recurrence.Patch
	ActorID string
}

func (e Engine) UpdateSeries(ctx context.Context, opts SeriesUpdateOptions) ([]domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	target, err := e.Repo.GetTaskTx(ctx, tx, opts.TaskID)
	if err != nil {
		return nil, err
	}
	if target.Series == nil {
		return nil, recurrence.ErrNotInstance
	}
	cfg, cal, err := e.settings(ctx, tx, target.ProjectID)
	if err != nil {
		return nil, err
	}
	instances, err := e.Repo.ListTasksTx(ctx, tx, repo.TaskFilters{ProjectID: target.ProjectID, SeriesID: target.Series.SeriesID})
	if err != nil {
		return nil, err
	}
	selected, err := recurrence.Select(instances, target, opts.Scope)
	if err != nil {
		return nil, err
	}
	for _, t := range selected {
		if t.IsSplit {
			return nil, invalid("instance %s is split; merge it before updating the series", t.ID)
		}
	}
	updated, err := recurrence.ApplyPatch(selected, opts.Patch, cal)
	if err != nil {
		return nil, invalid("%v", err)
	}
	now := e.stamp()
	ids := make([]string, 0, len(updated))
	for i := range updated {
		updated[i].UpdatedAt = now
		if err := e.Repo.UpdateTask(ctx, tx, updated[i]); err != nil {
			return nil, err
		}
		ids = append(ids, updated[i].ID)
	}
	if err := e.Events.Append(ctx, tx, events.SeriesUpdated, target.ProjectID, events.KindTask, target.ID, opts.ActorID, events.EventPayload{
		"series_id": target.Series.SeriesID,
		"scope":     string(opts.Scope),
		"task_ids":  ids,
	}); err != nil {
		return nil, err
	}
	if cfg.Scheduling.AutoRecompute {
		if _, err := e.recomputeTx(ctx, tx, target.ProjectID, opts.ActorID); err != nil {
			return nil, err
		}
		for i := range updated {
			if updated[i], err = e.Repo.GetTaskTx(ctx, tx, updated[i].ID); err != nil {
				return nil, err
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return updated, nil
}
