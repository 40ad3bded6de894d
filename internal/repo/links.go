package repo

import (
	"context"
	"database/sql"

	"planline/internal/domain"
)

const linkColumns = `id,project_id,from_id,to_id,type,lag,created_at`

func (r Repo) InsertLink(ctx context.Context, tx *sql.Tx, l domain.Link) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO links(id,project_id,from_id,to_id,type,lag,created_at) VALUES (?,?,?,?,?,?,?)`,
		l.ID, l.ProjectID, l.FromID, l.ToID, string(l.Type), l.Lag, l.CreatedAt)
	return err
}

func (r Repo) DeleteLink(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM links WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLinksForTask removes every link with taskID on either end and
// returns how many were removed.
func (r Repo) DeleteLinksForTask(ctx context.Context, tx *sql.Tx, taskID string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM links WHERE from_id=? OR to_id=?`, taskID, taskID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) GetLinkTx(ctx context.Context, tx *sql.Tx, id string) (domain.Link, error) {
	var l domain.Link
	err := r.q(tx).QueryRowContext(ctx, `SELECT `+linkColumns+` FROM links WHERE id=?`, id).
		Scan(&l.ID, &l.ProjectID, &l.FromID, &l.ToID, &l.Type, &l.Lag, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	return l, err
}

func (r Repo) ListLinks(ctx context.Context, projectID string) ([]domain.Link, error) {
	return r.ListLinksTx(ctx, nil, projectID)
}

// ListLinksTx returns a project's links in creation order.
func (r Repo) ListLinksTx(ctx context.Context, tx *sql.Tx, projectID string) ([]domain.Link, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+linkColumns+` FROM links WHERE project_id=? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Link
	for rows.Next() {
		var l domain.Link
		if err := rows.Scan(&l.ID, &l.ProjectID, &l.FromID, &l.ToID, &l.Type, &l.Lag, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
