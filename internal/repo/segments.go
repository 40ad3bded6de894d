package repo

import (
	"context"
	"database/sql"

	"planline/internal/domain"
)

// ReplaceSegments drops the task's segments and stores segs in order.
func (r Repo) ReplaceSegments(ctx context.Context, tx *sql.Tx, taskID string, segs []domain.Segment) error {
	q := r.q(tx)
	if _, err := q.ExecContext(ctx, `DELETE FROM segments WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for i, s := range segs {
		_, err := q.ExecContext(ctx, `INSERT INTO segments(id,task_id,seq,start_date,end_date,duration,progress,is_active) VALUES (?,?,?,?,?,?,?,?)`,
			s.ID, taskID, i, domain.FormatDate(s.Start), domain.FormatDate(s.End), s.Duration, s.Progress, boolInt(s.IsActive))
		if err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) ListSegmentsTx(ctx context.Context, tx *sql.Tx, taskID string) ([]domain.Segment, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,start_date,end_date,duration,progress,is_active FROM segments WHERE task_id=? ORDER BY seq`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Segment
	for rows.Next() {
		var s domain.Segment
		var start, end string
		var active int
		if err := rows.Scan(&s.ID, &start, &end, &s.Duration, &s.Progress, &active); err != nil {
			return nil, err
		}
		if s.Start, err = domain.ParseDate(start); err != nil {
			return nil, err
		}
		if s.End, err = domain.ParseDate(end); err != nil {
			return nil, err
		}
		s.IsActive = active == 1
		res = append(res, s)
	}
	return res, rows.Err()
}
