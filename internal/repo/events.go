package repo

import (
	"context"
	"database/sql"
	"strings"

	"planline/internal/domain"
)

// EventFilters narrow an event log query. Zero fields match everything.
type EventFilters struct {
	ProjectID string
	// Type is an exact event type or a "prefix.*" pattern.
	Type       string
	EntityKind string
	EntityID   string
	// Since keeps events at or after an RFC 3339 time or YYYY-MM-DD date.
	Since string
	// Before pages backwards from an event id.
	Before int64
	Limit  int
}

const eventColumns = `id, ts, type, project_id, entity_kind, entity_id, actor_id, payload_json`

// conds accumulates AND-ed WHERE clauses with their arguments.
type conds struct {
	clauses []string
	args    []any
}

func (c *conds) add(clause string, arg any) {
	c.clauses = append(c.clauses, clause)
	c.args = append(c.args, arg)
}

func (c *conds) where() string {
	if len(c.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(c.clauses, " AND ")
}

func (f EventFilters) conds() *conds {
	c := &conds{}
	if f.ProjectID != "" {
		c.add("project_id=?", f.ProjectID)
	}
	if prefix, ok := strings.CutSuffix(f.Type, "*"); ok && strings.HasSuffix(prefix, ".") {
		c.add("type LIKE ?", prefix+"%")
	} else if f.Type != "" {
		c.add("type=?", f.Type)
	}
	if f.EntityKind != "" {
		c.add("entity_kind=?", f.EntityKind)
	}
	if f.EntityID != "" {
		c.add("entity_id=?", f.EntityID)
	}
	if f.Since != "" {
		c.add("ts>=?", f.Since)
	}
	if f.Before > 0 {
		c.add("id<?", f.Before)
	}
	return c
}

func (r Repo) queryEvents(ctx context.Context, c *conds, order string, limit int) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+eventColumns+` FROM events`+c.where()+` ORDER BY id `+order+` LIMIT ?`, append(c.args, limit)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var (
			e                            domain.Event
			projectID, entityID, payload sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &projectID, &e.EntityKind, &entityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.ProjectID, e.EntityID, e.Payload = projectID.String, entityID.String, payload.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// LatestEvents returns matching events, newest first. Limit defaults to 50.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	return r.queryEvents(ctx, f.conds(), "DESC", limit)
}

// EventsAfter returns up to limit events of a project with ids above cursor,
// oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	c := EventFilters{ProjectID: projectID}.conds()
	if cursor > 0 {
		c.add("id>?", cursor)
	}
	return r.queryEvents(ctx, c, "ASC", limit)
}

// LatestEventID returns the id of the newest event of a project, or 0.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM events WHERE project_id=?`, projectID).Scan(&id)
	return id, err
}
