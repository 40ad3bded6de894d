package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"planline/internal/domain"
)

const taskColumns = `id,project_id,parent_id,name,start_date,end_date,duration,progress,is_milestone,is_group,deadline,
baseline_start,baseline_end,baseline_duration,baseline_captured_at,
total_float,free_float,is_critical,was_constrained,
is_split,pre_split_start,pre_split_end,pre_split_duration,pre_split_progress,
series_original_task_id,series_id,series_index,created_at,updated_at`

type TaskFilters struct {
	ProjectID string
	Parent    string
	SeriesID  string
	Limit     int
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (domain.Task, error) {
	var t domain.Task
	var parentID, start, end, deadline sql.NullString
	var baseStart, baseEnd, baseCaptured sql.NullString
	var preStart, preEnd, seriesOrig, seriesID sql.NullString
	var baseDuration, preDuration, preProgress, seriesIndex sql.NullInt64
	var milestone, group, critical, constrained, split int
	err := s.Scan(&t.ID, &t.ProjectID, &parentID, &t.Name, &start, &end, &t.Duration, &t.Progress, &milestone, &group, &deadline,
		&baseStart, &baseEnd, &baseDuration, &baseCaptured,
		&t.TotalFloat, &t.FreeFloat, &critical, &constrained,
		&split, &preStart, &preEnd, &preDuration, &preProgress,
		&seriesOrig, &seriesID, &seriesIndex, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if parentID.Valid {
		t.ParentID = &parentID.String
	}
	t.IsMilestone = milestone == 1
	t.IsGroup = group == 1
	t.IsCritical = critical == 1
	t.WasConstrained = constrained == 1
	t.IsSplit = split == 1
	if t.Start, err = parseNullDate(start); err != nil {
		return t, fmt.Errorf("task %s start_date: %w", t.ID, err)
	}
	if t.End, err = parseNullDate(end); err != nil {
		return t, fmt.Errorf("task %s end_date: %w", t.ID, err)
	}
	if t.Deadline, err = parseNullDatePtr(deadline); err != nil {
		return t, fmt.Errorf("task %s deadline: %w", t.ID, err)
	}
	if baseStart.Valid {
		b := domain.Baseline{Duration: int(baseDuration.Int64), CapturedAt: baseCaptured.String}
		if b.Start, err = parseNullDate(baseStart); err != nil {
			return t, fmt.Errorf("task %s baseline_start: %w", t.ID, err)
		}
		if b.End, err = parseNullDate(baseEnd); err != nil {
			return t, fmt.Errorf("task %s baseline_end: %w", t.ID, err)
		}
		t.Baseline = &b
	}
	if preStart.Valid || preEnd.Valid || preDuration.Valid {
		p := domain.SplitSnapshot{Duration: int(preDuration.Int64), Progress: int(preProgress.Int64)}
		if p.Start, err = parseNullDate(preStart); err != nil {
			return t, err
		}
		if p.End, err = parseNullDate(preEnd); err != nil {
			return t, err
		}
		t.PreSplit = &p
	}
	if seriesID.Valid {
		t.Series = &domain.SeriesLink{
			OriginalTaskID: seriesOrig.String,
			SeriesID:       seriesID.String,
			InstanceIndex:  int(seriesIndex.Int64),
		}
	}
	return t, nil
}

func taskArgs(t domain.Task) []any {
	var baseStart, baseEnd, baseDuration, baseCaptured any
	if t.Baseline != nil {
		baseStart = nullableDate(t.Baseline.Start)
		baseEnd = nullableDate(t.Baseline.End)
		baseDuration = t.Baseline.Duration
		baseCaptured = nullable(t.Baseline.CapturedAt)
	}
	var preStart, preEnd, preDuration, preProgress any
	if t.PreSplit != nil {
		preStart = nullableDate(t.PreSplit.Start)
		preEnd = nullableDate(t.PreSplit.End)
		preDuration = t.PreSplit.Duration
		preProgress = t.PreSplit.Progress
	}
	var seriesOrig, seriesID, seriesIndex any
	if t.Series != nil {
		seriesOrig = t.Series.OriginalTaskID
		seriesID = t.Series.SeriesID
		seriesIndex = t.Series.InstanceIndex
	}
	return []any{
		t.ProjectID, nullableStringPtr(t.ParentID), t.Name, nullableDate(t.Start), nullableDate(t.End), t.Duration, t.Progress,
		boolInt(t.IsMilestone), boolInt(t.IsGroup), nullableDatePtr(t.Deadline),
		baseStart, baseEnd, baseDuration, baseCaptured,
		t.TotalFloat, t.FreeFloat, boolInt(t.IsCritical), boolInt(t.WasConstrained),
		boolInt(t.IsSplit), preStart, preEnd, preDuration, preProgress,
		seriesOrig, seriesID, seriesIndex, t.UpdatedAt,
	}
}

// InsertTask stores the task row along with its segments and recurrence
// rule when present.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	args := append([]any{t.ID}, taskArgs(t)...)
	args = append(args, t.CreatedAt)
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO tasks(id,project_id,parent_id,name,start_date,end_date,duration,progress,is_milestone,is_group,deadline,
baseline_start,baseline_end,baseline_duration,baseline_captured_at,
total_float,free_float,is_critical,was_constrained,
is_split,pre_split_start,pre_split_end,pre_split_duration,pre_split_progress,
series_original_task_id,series_id,series_index,updated_at,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, args...)
	if err != nil {
		return err
	}
	return r.saveChildren(ctx, tx, t)
}

// UpdateTask rewrites every column of the task and replaces its segments
// and recurrence rule.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	args := append(taskArgs(t), t.ID)
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET project_id=?, parent_id=?, name=?, start_date=?, end_date=?, duration=?, progress=?, is_milestone=?, is_group=?, deadline=?,
baseline_start=?, baseline_end=?, baseline_duration=?, baseline_captured_at=?,
total_float=?, free_float=?, is_critical=?, was_constrained=?,
is_split=?, pre_split_start=?, pre_split_end=?, pre_split_duration=?, pre_split_progress=?,
series_original_task_id=?, series_id=?, series_index=?, updated_at=? WHERE id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return r.saveChildren(ctx, tx, t)
}

// UpdateComputed writes only the fields a scheduling pass owns.
func (r Repo) UpdateComputed(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET start_date=?, end_date=?, duration=?, progress=?, total_float=?, free_float=?, is_critical=?, was_constrained=?, updated_at=? WHERE id=?`,
		nullableDate(t.Start), nullableDate(t.End), t.Duration, t.Progress, t.TotalFloat, t.FreeFloat, boolInt(t.IsCritical), boolInt(t.WasConstrained), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if t.IsSplit {
		return r.ReplaceSegments(ctx, tx, t.ID, t.Segments)
	}
	return nil
}

func (r Repo) saveChildren(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	if err := r.ReplaceSegments(ctx, tx, t.ID, t.Segments); err != nil {
		return err
	}
	if t.Recurrence == nil {
		return r.DeleteRecurrenceRule(ctx, tx, t.ID)
	}
	return r.UpsertRecurrenceRule(ctx, tx, t.ID, *t.Recurrence, t.UpdatedAt)
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.GetTaskTx(ctx, nil, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	t, err := scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	if t.Segments, err = r.ListSegmentsTx(ctx, tx, t.ID); err != nil {
		return t, err
	}
	rule, err := r.GetRecurrenceRuleTx(ctx, tx, t.ID)
	switch {
	case err == nil:
		t.Recurrence = &rule
	case err != ErrNotFound:
		return t, err
	}
	return t, nil
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	return r.ListTasksTx(ctx, nil, f)
}

// ListTasksTx returns matching tasks in creation order with their segments
// and recurrence rules attached.
func (r Repo) ListTasksTx(ctx context.Context, tx *sql.Tx, f TaskFilters) ([]domain.Task, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Parent != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.Parent)
	}
	if f.SeriesID != "" {
		clauses = append(clauses, "series_id=?")
		args = append(args, f.SeriesID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + taskColumns + ` FROM tasks ` + where + ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].IsSplit {
			if res[i].Segments, err = r.ListSegmentsTx(ctx, tx, res[i].ID); err != nil {
				return nil, err
			}
		}
	}
	rules, err := r.listRecurrenceRules(ctx, tx, f.ProjectID)
	if err != nil {
		return nil, err
	}
	for i := range res {
		if rule, ok := rules[res[i].ID]; ok {
			res[i].Recurrence = &rule
		}
	}
	return res, nil
}

// ListChildrenTx returns the ids of tasks whose parent is taskID.
func (r Repo) ListChildrenTx(ctx context.Context, tx *sql.Tx, taskID string) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id FROM tasks WHERE parent_id=? ORDER BY id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}
