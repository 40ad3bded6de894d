package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"planline/internal/domain"
)

const ruleColumns = `r.id,r.task_id,r.frequency,r.interval,r.start_date,r.end_date,r.max_occurrences,r.weekdays,r.day_of_month,r.active`

func scanRule(s scanner) (string, domain.RecurrenceRule, error) {
	var rule domain.RecurrenceRule
	var taskID, start string
	var end, weekdays sql.NullString
	var maxOcc, dom sql.NullInt64
	var active int
	err := s.Scan(&rule.ID, &taskID, &rule.Frequency, &rule.Interval, &start, &end, &maxOcc, &weekdays, &dom, &active)
	if err == sql.ErrNoRows {
		return "", rule, ErrNotFound
	}
	if err != nil {
		return "", rule, err
	}
	if rule.StartDate, err = domain.ParseDate(start); err != nil {
		return "", rule, fmt.Errorf("rule %s start_date: %w", rule.ID, err)
	}
	if rule.EndDate, err = parseNullDatePtr(end); err != nil {
		return "", rule, fmt.Errorf("rule %s end_date: %w", rule.ID, err)
	}
	rule.MaxOccurrences = nullIntPtr(maxOcc)
	rule.DayOfMonth = nullIntPtr(dom)
	rule.Active = active == 1
	if rule.Weekdays, err = parseWeekdays(weekdays.String); err != nil {
		return "", rule, fmt.Errorf("rule %s weekdays: %w", rule.ID, err)
	}
	return taskID, rule, nil
}

func formatWeekdays(days []time.Weekday) any {
	if len(days) == 0 {
		return nil
	}
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(int(d))
	}
	return strings.Join(parts, ",")
}

func parseWeekdays(s string) ([]time.Weekday, error) {
	if s == "" {
		return nil, nil
	}
	var res []time.Weekday
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		res = append(res, time.Weekday(n))
	}
	return res, nil
}

// UpsertRecurrenceRule stores the single rule attached to a task.
func (r Repo) UpsertRecurrenceRule(ctx context.Context, tx *sql.Tx, taskID string, rule domain.RecurrenceRule, now string) error {
	if now == "" {
		now = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO recurrence_rules(id,task_id,frequency,interval,start_date,end_date,max_occurrences,weekdays,day_of_month,active,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(task_id) DO UPDATE SET id=excluded.id, frequency=excluded.frequency, interval=excluded.interval, start_date=excluded.start_date,
end_date=excluded.end_date, max_occurrences=excluded.max_occurrences, weekdays=excluded.weekdays, day_of_month=excluded.day_of_month,
active=excluded.active, updated_at=excluded.updated_at`,
		rule.ID, taskID, string(rule.Frequency), rule.Interval, domain.FormatDate(rule.StartDate), nullableDatePtr(rule.EndDate),
		nullableIntPtr(rule.MaxOccurrences), formatWeekdays(rule.Weekdays), nullableIntPtr(rule.DayOfMonth), boolInt(rule.Active), now, now)
	return err
}

func (r Repo) DeleteRecurrenceRule(ctx context.Context, tx *sql.Tx, taskID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM recurrence_rules WHERE task_id=?`, taskID)
	return err
}

func (r Repo) GetRecurrenceRuleTx(ctx context.Context, tx *sql.Tx, taskID string) (domain.RecurrenceRule, error) {
	_, rule, err := scanRule(r.q(tx).QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM recurrence_rules r WHERE r.task_id=?`, taskID))
	return rule, err
}

// listRecurrenceRules maps task id to rule, restricted to a project when
// projectID is set.
func (r Repo) listRecurrenceRules(ctx context.Context, tx *sql.Tx, projectID string) (map[string]domain.RecurrenceRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM recurrence_rules r`
	var args []any
	if projectID != "" {
		query += ` JOIN tasks t ON t.id = r.task_id WHERE t.project_id=?`
		args = append(args, projectID)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]domain.RecurrenceRule{}
	for rows.Next() {
		taskID, rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		res[taskID] = rule
	}
	return res, rows.Err()
}
