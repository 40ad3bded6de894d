package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"planline/internal/calendar"
	"planline/internal/domain"
	"planline/internal/events"
	"planline/internal/repo"
	"planline/internal/schedule"
	"planline/internal/validation"
)

// TaskCreateOptions are parameters for creating a task. A zero End is
// derived from Duration; a nil Duration defaults to one workday, or zero for
// milestones.
type TaskCreateOptions struct {
	ID          string
	ProjectID   string
	ParentID    string
	Name        string
	Start       time.Time
	End         time.Time
	Duration    *int
	Progress    int
	IsMilestone bool
	IsGroup     bool
	Deadline    *time.Time
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Name == "" {
		return domain.Task{}, invalid("name is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, invalid("project is required")
	}
	if opts.Progress < 0 || opts.Progress > 100 {
		return domain.Task{}, invalid("progress must be between 0 and 100, got %d", opts.Progress)
	}
	if opts.IsMilestone && opts.IsGroup {
		return domain.Task{}, invalid("a task cannot be both a milestone and a group")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID); err != nil {
		return domain.Task{}, fmt.Errorf("project %s: %w", opts.ProjectID, err)
	}
	cfg, cal, err := e.settings(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.stamp()
	t := domain.Task{
		ID:          id,
		ProjectID:   opts.ProjectID,
		ParentID:    optionalString(opts.ParentID),
		Name:        opts.Name,
		Start:       dayOrZero(opts.Start),
		End:         dayOrZero(opts.End),
		Progress:    opts.Progress,
		IsMilestone: opts.IsMilestone,
		IsGroup:     opts.IsGroup,
		Deadline:    opts.Deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Duration != nil {
		t.Duration = *opts.Duration
	} else {
		t.Duration = t.MinDuration()
	}
	if opts.ParentID != "" {
		if err := e.checkParent(ctx, tx, t, opts.ParentID); err != nil {
			return domain.Task{}, err
		}
	}
	if err := normalizeDates(&t, cal); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskCreated, t.ProjectID, events.KindTask, t.ID, opts.ActorID, events.EventPayload{
		"name":       t.Name,
		"start_date": domain.FormatDate(t.Start),
		"end_date":   domain.FormatDate(t.End),
		"duration":   t.Duration,
	}); err != nil {
		return domain.Task{}, err
	}
	if cfg.Scheduling.AutoRecompute {
		if _, err := e.recomputeTx(ctx, tx, t.ProjectID, opts.ActorID); err != nil {
			return domain.Task{}, err
		}
	}
	t, err = e.Repo.GetTaskTx(ctx, tx, t.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func dayOrZero(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return domain.Day(t)
}

// normalizeDates fills in the end or duration the caller left out and
// snaps dates to workdays. Group tasks without dates are left alone; their
// dates come from their children.
func normalizeDates(t *domain.Task, cal *calendar.Calendar) error {
	if t.Duration < 0 {
		return &schedule.InvalidDateRangeError{TaskID: t.ID, Start: t.Start, End: t.End, Duration: t.Duration, Reason: "negative duration"}
	}
	if t.Start.IsZero() {
		if t.IsGroup {
			return nil
		}
		return &schedule.InvalidDateRangeError{TaskID: t.ID, End: t.End, Duration: t.Duration, Reason: "missing start date"}
	}
	if !t.End.IsZero() && t.End.Before(t.Start) {
		return &schedule.InvalidDateRangeError{TaskID: t.ID, Start: t.Start, End: t.End, Duration: t.Duration, Reason: "end date before start date"}
	}
	end := t.End
	if end.IsZero() {
		end = cal.AddWorkdays(cal.ClampToWorkdays(t.Start), t.Duration)
	}
	d, err := schedule.Validate(*t, time.Time{}, end, cal)
	if err != nil {
		return err
	}
	t.Start, t.End, t.Duration = d.Start, d.End, d.Duration
	return nil
}

func (e Engine) checkParent(ctx context.Context, tx *sql.Tx, t domain.Task, parentID string) error {
	if parentID == t.ID {
		return invalid("task %s cannot be its own parent", t.ID)
	}
	parent, err := e.Repo.GetTaskTx(ctx, tx, parentID)
	if err != nil {
		return fmt.Errorf("parent %s: %w", parentID, err)
	}
	if parent.ProjectID != t.ProjectID {
		return invalid("parent %s is in a different project", parentID)
	}
	if !parent.IsGroup {
		return invalid("parent %s is not a group task", parentID)
	}
	return e.ensureNoCycle(ctx, tx, parentID, t.ID)
}

func (e Engine) ensureNoCycle(ctx context.Context, tx *sql.Tx, parentID, childID string) error {
	// climb up parent chain to ensure no cycle
	cur := parentID
	for cur != "" {
		t, err := e.Repo.GetTaskTx(ctx, tx, cur)
		if err != nil {
			return err
		}
		if t.ParentID == nil {
			return nil
		}
		if *t.ParentID == childID {
			return invalid("task hierarchy cycle detected")
		}
		cur = *t.ParentID
	}
	return nil
}

// TaskUpdateOptions encapsulates allowed updates. Nil fields are left alone.
type TaskUpdateOptions struct {
	ID            string
	Name          *string
	Start         *time.Time
	End           *time.Time
	Duration      *int
	Progress      *int
	IsMilestone   *bool
	Deadline      *time.Time
	ClearDeadline bool
	// SetParent moves the task under a group; an empty string detaches it.
	SetParent *string
	ActorID   string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return t, err
	}
	cfg, cal, err := e.settings(ctx, tx, t.ProjectID)
	if err != nil {
		return t, err
	}
	changed := map[string]any{}
	if opts.Name != nil {
		if *opts.Name == "" {
			return t, invalid("name must not be empty")
		}
		t.Name = *opts.Name
		changed["name"] = t.Name
	}
	if opts.Progress != nil {
		if *opts.Progress < 0 || *opts.Progress > 100 {
			return t, invalid("progress must be between 0 and 100, got %d", *opts.Progress)
		}
		t.Progress = *opts.Progress
		changed["progress"] = t.Progress
	}
	if opts.ClearDeadline {
		t.Deadline = nil
		changed["deadline"] = nil
	} else if opts.Deadline != nil {
		d := domain.Day(*opts.Deadline)
		t.Deadline = &d
		changed["deadline"] = domain.FormatDate(d)
	}
	if opts.SetParent != nil {
		if *opts.SetParent == "" {
			t.ParentID = nil
		} else {
			if err := e.checkParent(ctx, tx, t, *opts.SetParent); err != nil {
				return t, err
			}
			t.ParentID = opts.SetParent
		}
		changed["parent_id"] = *opts.SetParent
	}
	datesTouched := opts.Start != nil || opts.End != nil || opts.Duration != nil || opts.IsMilestone != nil
	if datesTouched {
		if t.IsSplit {
			return t, invalid("task %s is split; merge it before changing its dates", t.ID)
		}
		if opts.IsMilestone != nil {
			t.IsMilestone = *opts.IsMilestone
			if t.IsMilestone {
				t.Duration = 0
			} else if t.Duration < 1 {
				t.Duration = 1
			}
		}
		if opts.Start != nil {
			t.Start = domain.Day(*opts.Start)
		}
		if opts.Duration != nil {
			t.Duration = *opts.Duration
		}
		switch {
		case opts.End != nil:
			t.End = domain.Day(*opts.End)
		default:
			// keep the duration and move the end with the start
			t.End = time.Time{}
		}
		if err := normalizeDates(&t, cal); err != nil {
			return t, err
		}
		changed["start_date"] = domain.FormatDate(t.Start)
		changed["end_date"] = domain.FormatDate(t.End)
		changed["duration"] = t.Duration
	}
	if len(changed) == 0 {
		return t, nil
	}
	t.UpdatedAt = e.stamp()
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := e.Events.Append(ctx, tx, events.TaskUpdated, t.ProjectID, events.KindTask, t.ID, opts.ActorID, events.EventPayload(changed)); err != nil {
		return t, err
	}
	if cfg.Scheduling.AutoRecompute {
		if _, err := e.recomputeTx(ctx, tx, t.ProjectID, opts.ActorID); err != nil {
			return t, err
		}
	}
	t, err = e.Repo.GetTaskTx(ctx, tx, t.ID)
	if err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// DeleteTask removes the task together with every link that touches it.
// Children of a deleted group lose their parent.
func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return err
	}
	cfg, _, err := e.settings(ctx, tx, t.ProjectID)
	if err != nil {
		return err
	}
	removed, err := e.Repo.DeleteLinksForTask(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TaskDeleted, t.ProjectID, events.KindTask, id, actorID, events.EventPayload{
		"name":          t.Name,
		"links_removed": removed,
	}); err != nil {
		return err
	}
	if cfg.Scheduling.AutoRecompute {
		if _, err := e.recomputeTx(ctx, tx, t.ProjectID, actorID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// LinkAddOptions are parameters for a new dependency. Type defaults to FS.
type LinkAddOptions struct {
	ID      string
	FromID  string
	ToID    string
	Type    domain.LinkType
	Lag     int
	ActorID string
}

// AddLink stores a dependency after checking both ends exist in the same
// project and the link does not close a cycle.
func (e Engine) AddLink(ctx context.Context, opts LinkAddOptions) (domain.Link, error) {
	if opts.Type == "" {
		opts.Type = domain.FinishToStart
	}
	if !opts.Type.IsValid() {
		return domain.Link{}, invalid("link type %q is not one of %s", opts.Type, validation.FormatValidValues(domain.LinkTypes))
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Link{}, err
	}
	defer tx.Rollback()

	from, err := e.Repo.GetTaskTx(ctx, tx, opts.FromID)
	if err != nil {
		return domain.Link{}, fmt.Errorf("predecessor %s: %w", opts.FromID, err)
	}
	to, err := e.Repo.GetTaskTx(ctx, tx, opts.ToID)
	if err != nil {
		return domain.Link{}, fmt.Errorf("successor %s: %w", opts.ToID, err)
	}
	if from.ProjectID != to.ProjectID {
		return domain.Link{}, invalid("tasks %s and %s are in different projects", from.ID, to.ID)
	}
	cfg, _, err := e.settings(ctx, tx, from.ProjectID)
	if err != nil {
		return domain.Link{}, err
	}
	existing, err := e.Repo.ListLinksTx(ctx, tx, from.ProjectID)
	if err != nil {
		return domain.Link{}, err
	}
	for _, l := range existing {
		if l.FromID == opts.FromID && l.ToID == opts.ToID && l.Type == opts.Type {
			return domain.Link{}, invalid("link %s %s -> %s already exists as %s", opts.Type, opts.FromID, opts.ToID, l.ID)
		}
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	link := domain.Link{
		ID:        id,
		ProjectID: from.ProjectID,
		FromID:    from.ID,
		ToID:      to.ID,
		Type:      opts.Type,
		Lag:       opts.Lag,
		CreatedAt: e.stamp(),
	}
	tasks, err := e.Repo.ListTasksTx(ctx, tx, repo.TaskFilters{ProjectID: from.ProjectID})
	if err != nil {
		return domain.Link{}, err
	}
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	if cyc := schedule.DetectCycle(ids, append(existing, link)); cyc != nil {
		return domain.Link{}, cyc
	}
	if err := e.Repo.InsertLink(ctx, tx, link); err != nil {
		return domain.Link{}, err
	}
	if err := e.Events.Append(ctx, tx, events.LinkAdded, link.ProjectID, events.KindLink, link.ID, opts.ActorID, events.EventPayload{
		"from_id": link.FromID,
		"to_id":   link.ToID,
		"type":    string(link.Type),
		"lag":     link.Lag,
	}); err != nil {
		return domain.Link{}, err
	}
	if cfg.Scheduling.AutoRecompute {
		if _, err := e.recomputeTx(ctx, tx, link.ProjectID, opts.ActorID); err != nil {
			return domain.Link{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Link{}, err
	}
	return link, nil
}

func (e Engine) RemoveLink(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	link, err := e.Repo.GetLinkTx(ctx, tx, id)
	if err != nil {
		return err
	}
	cfg, _, err := e.settings(ctx, tx, link.ProjectID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteLink(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.LinkRemoved, link.ProjectID, events.KindLink, link.ID, actorID, events.EventPayload{
		"from_id": link.FromID,
		"to_id":   link.ToID,
		"type":    string(link.Type),
	}); err != nil {
		return err
	}
	if cfg.Scheduling.AutoRecompute {
		if _, err := e.recomputeTx(ctx, tx, link.ProjectID, actorID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (e Engine) ListLinks(ctx context.Context, projectID string) ([]domain.Link, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("project %s: %w", projectID, err)
		}
		return nil, err
	}
	return e.Repo.ListLinks(ctx, projectID)
}
