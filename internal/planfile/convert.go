package planfile

import (
	"strings"

	"planline/internal/calendar"
	"planline/internal/domain"
	"planline/internal/recurrence"
)

// DomainTasks converts the plan's tasks for projectID. Missing end dates stay
// zero; a scheduling pass derives them from duration. stamp fills the
// created and updated timestamps.
func (p Plan) DomainTasks(projectID, stamp string) ([]domain.Task, error) {
	out := make([]domain.Task, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		dt := domain.Task{
			ID:          t.ID,
			ProjectID:   projectID,
			Name:        t.Name,
			Start:       toTime(t.Start),
			End:         toTime(t.End),
			Progress:    t.Progress,
			IsMilestone: t.Milestone,
			IsGroup:     t.Group,
			Deadline:    toTimePtr(t.Deadline),
			CreatedAt:   stamp,
			UpdatedAt:   stamp,
		}
		if t.Parent != "" {
			parent := t.Parent
			dt.ParentID = &parent
		}
		switch {
		case t.Duration != nil:
			dt.Duration = *t.Duration
		case t.Milestone:
			dt.Duration = 0
		default:
			dt.Duration = 1
		}
		if t.Recurrence != nil {
			rule, err := t.Recurrence.rule(dt)
			if err != nil {
				return nil, err
			}
			dt.Recurrence = &rule
		}
		out = append(out, dt)
	}
	return out, nil
}

func (r Recurrence) rule(t domain.Task) (domain.RecurrenceRule, error) {
	rule := domain.RecurrenceRule{
		ID:             recurrence.SeriesID(t, domain.RecurrenceRule{}),
		Frequency:      domain.Frequency(strings.ToLower(r.Frequency)),
		Interval:       r.Interval,
		StartDate:      toTime(r.Start),
		EndDate:        toTimePtr(r.End),
		MaxOccurrences: r.MaxOccurrences,
		DayOfMonth:     r.DayOfMonth,
		Active:         true,
	}
	if rule.Interval == 0 {
		rule.Interval = 1
	}
	if rule.StartDate.IsZero() {
		rule.StartDate = t.Start
	}
	for _, name := range r.Weekdays {
		d, err := calendar.ParseWeekday(name)
		if err != nil {
			return rule, err
		}
		rule.Weekdays = append(rule.Weekdays, d)
	}
	rule.Weekdays = recurrence.SortedWeekdays(rule.Weekdays)
	if err := recurrence.ValidateRule(rule); err != nil {
		return rule, err
	}
	return rule, nil
}

// DomainLinks converts the plan's links. Links without an id get one
// derived from their endpoints and type.
func (p Plan) DomainLinks(projectID, stamp string) []domain.Link {
	out := make([]domain.Link, 0, len(p.Links))
	for _, l := range p.Links {
		typ := domain.LinkType(strings.ToUpper(l.Type))
		if typ == "" {
			typ = domain.FinishToStart
		}
		id := l.ID
		if id == "" {
			id = LinkID(l.From, l.To, typ)
		}
		out = append(out, domain.Link{
			ID:        id,
			ProjectID: projectID,
			FromID:    l.From,
			ToID:      l.To,
			Type:      typ,
			Lag:       l.Lag,
			CreatedAt: stamp,
		})
	}
	return out
}

// LinkID is the id given to a plan link that does not name one.
func LinkID(from, to string, typ domain.LinkType) string {
	return from + "-" + string(typ) + "-" + to
}

// FromDomain builds a plan from stored tasks and links. Generated instances
// are left out; their rule on the originating task recreates them.
func FromDomain(project domain.Project, tasks []domain.Task, links []domain.Link) Plan {
	p := Plan{Project: Project{ID: project.ID, Name: project.Name}}
	kept := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.Series != nil {
			continue
		}
		kept[t.ID] = true
		entry := Task{
			ID:        t.ID,
			Name:      t.Name,
			Start:     fromTime(t.Start),
			End:       fromTime(t.End),
			Progress:  t.Progress,
			Milestone: t.IsMilestone,
			Group:     t.IsGroup,
			Deadline:  fromTimePtr(t.Deadline),
		}
		if t.IsSplit && t.PreSplit != nil {
			entry.Start = fromTime(t.PreSplit.Start)
			entry.End = fromTime(t.PreSplit.End)
		}
		if !t.IsGroup {
			d := t.Duration
			if t.IsSplit && t.PreSplit != nil {
				d = t.PreSplit.Duration
			}
			entry.Duration = &d
		}
		if t.ParentID != nil {
			entry.Parent = *t.ParentID
		}
		if r := t.Recurrence; r != nil && r.Active {
			entry.Recurrence = &Recurrence{
				Frequency:      string(r.Frequency),
				Interval:       r.Interval,
				Start:          fromTime(r.StartDate),
				End:            fromTimePtr(r.EndDate),
				MaxOccurrences: r.MaxOccurrences,
				DayOfMonth:     r.DayOfMonth,
			}
			for _, d := range recurrence.SortedWeekdays(r.Weekdays) {
				entry.Recurrence.Weekdays = append(entry.Recurrence.Weekdays, strings.ToLower(d.String()))
			}
		}
		p.Tasks = append(p.Tasks, entry)
	}
	for _, l := range links {
		if !kept[l.FromID] || !kept[l.ToID] {
			continue
		}
		p.Links = append(p.Links, Link{ID: l.ID, From: l.FromID, To: l.ToID, Type: string(l.Type), Lag: l.Lag})
	}
	return p
}
