// Package schedule turns tasks, links and a calendar into consistent dates,
// float values and critical flags.
//
// A pass is pure: Compute copies its input and never mutates it, so running
// it twice on the same snapshot returns identical results.
package schedule

import (
	"fmt"
	"time"

	"planline/internal/calendar"
	"planline/internal/domain"
)

// WarningCode classifies a Warning.
type WarningCode string

const (
	WarnDanglingLink           WarningCode = "dangling_link"
	WarnInvalidLinkType        WarningCode = "invalid_link_type"
	WarnGroupLink              WarningCode = "group_link"
	WarnUnscheduledPredecessor WarningCode = "unscheduled_predecessor"
	WarnDeadlineMissed         WarningCode = "deadline_missed"
)

// Warning is a non-fatal finding of a pass.
type Warning struct {
	Code    WarningCode `json:"code"`
	TaskID  string      `json:"task_id,omitempty"`
	LinkID  string      `json:"link_id,omitempty"`
	Message string      `json:"message"`
}

// Result is the output of one scheduling pass. Tasks keeps the input order.
type Result struct {
	Tasks        []domain.Task
	Timings      map[string]Timing
	Order        []string
	CriticalPath []string
	ProjectStart time.Time
	ProjectEnd   time.Time
	// Errors lists tasks left out of the pass. Those tasks keep their input
	// dates, have no entry in Timings and carry zero float without being
	// critical.
	Errors       []*InvalidDateRangeError
	Warnings     []Warning
}

// Excluded reports whether the task was left out of the pass because its
// dates could not be reconciled.
func (r Result) Excluded(id string) bool {
	for _, e := range r.Errors {
		if e.TaskID == id {
			return true
		}
	}
	return false
}

// Task returns the scheduled copy of the task with the given id.
func (r Result) Task(id string) (domain.Task, bool) {
	for _, t := range r.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

// Compute runs a full pass: dependency resolution and validation in
// topological order, then the critical path passes, then summary rollup.
// A cycle aborts the pass. Tasks whose dates cannot be reconciled are
// reported in Result.Errors and left out of float computation.
func Compute(tasks []domain.Task, links []domain.Link, cal *calendar.Calendar) (Result, error) {
	if cal == nil {
		cal = calendar.Standard()
	}
	res := Result{
		Tasks:   make([]domain.Task, len(tasks)),
		Timings: make(map[string]Timing),
	}
	index := make(map[string]int, len(tasks))
	known := make(map[string]bool, len(tasks))
	children := make(map[string][]string)
	for i, t := range tasks {
		if _, dup := index[t.ID]; dup {
			return Result{}, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		index[t.ID] = i
		known[t.ID] = true
		res.Tasks[i] = t.Clone()
		resetComputed(&res.Tasks[i])
	}
	for _, t := range tasks {
		if t.ParentID != nil && known[*t.ParentID] {
			children[*t.ParentID] = append(children[*t.ParentID], t.ID)
		}
	}

	summaries := make(map[string]bool)
	var nodes []string
	for _, t := range tasks {
		if t.IsGroup && len(children[t.ID]) > 0 {
			summaries[t.ID] = true
			continue
		}
		nodes = append(nodes, t.ID)
	}

	g, warnings := buildGraph(nodes, summaries, known, links)
	res.Warnings = warnings
	order, err := g.topoSort()
	if err != nil {
		return Result{}, err
	}
	res.Order = order

	dated := make(map[string]domain.Task, len(order))
	drivers := make(map[string]string)
	errored := make(map[string]bool)
	for _, id := range order {
		t := &res.Tasks[index[id]]
		span, spanErr := plannedSpan(*t, cal)
		if spanErr != nil {
			res.Errors = append(res.Errors, spanErr)
			errored[id] = true
			continue
		}

		var preds []Predecessor
		for _, l := range g.in[id] {
			p, ok := dated[l.FromID]
			if !ok {
				res.Warnings = append(res.Warnings, Warning{
					Code:    WarnUnscheduledPredecessor,
					TaskID:  id,
					LinkID:  l.ID,
					Message: fmt.Sprintf("predecessor %s of %s has no valid dates; its constraint is skipped", l.FromID, id),
				})
				continue
			}
			preds = append(preds, Predecessor{Link: l, Task: p})
		}

		r := Resolve(*t, span, preds, cal)
		own := cal.ClampToWorkdays(t.Start)
		candidateEnd := t.End
		if candidateEnd.IsZero() || r.Start.After(own) {
			from := own
			if r.Start.After(own) {
				from = r.Start
			}
			candidateEnd = cal.AddWorkdays(from, span)
		}
		d, err := Validate(*t, r.Start, candidateEnd, cal)
		if err != nil {
			res.Errors = append(res.Errors, asDateRangeError(t.ID, err))
			errored[id] = true
			continue
		}
		applyDates(t, d, own, cal)
		if r.Driver != nil {
			drivers[id] = r.Driver.ID
		}
		dated[id] = *t
	}

	cpm := criticalPath(order, g, dated, cal)
	for id, n := range cpm.nodes {
		t := &res.Tasks[index[id]]
		t.TotalFloat = n.totalFloat
		t.FreeFloat = n.freeFloat
		t.IsCritical = n.totalFloat == 0
		timing := cpm.timing(id)
		timing.DrivingLinkID = drivers[id]
		res.Timings[id] = timing
	}
	res.CriticalPath = cpm.critical
	if len(cpm.nodes) > 0 {
		res.ProjectStart = cpm.tl.base
		res.ProjectEnd = cpm.tl.date(cpm.projectEnd)
	}

	rollupSummaries(res.Tasks, index, summaries, children, errored, cal)
	res.Warnings = append(res.Warnings, deadlineWarnings(res.Tasks, errored, cal)...)
	return res, nil
}

func resetComputed(t *domain.Task) {
	t.TotalFloat = 0
	t.FreeFloat = 0
	t.IsCritical = false
	t.WasConstrained = false
}

// plannedSpan is the number of workdays the task occupies before any move.
// Split tasks span from their start to the end of their last segment. An end
// before the start counts as the minimum span; Validate repairs the dates.
func plannedSpan(t domain.Task, cal *calendar.Calendar) (int, *InvalidDateRangeError) {
	bad := func(reason string) (int, *InvalidDateRangeError) {
		return 0, &InvalidDateRangeError{TaskID: t.ID, Start: t.Start, End: t.End, Duration: t.Duration, Reason: reason}
	}
	switch {
	case t.Start.IsZero():
		return bad("missing start date")
	case t.Duration < 0:
		return bad("negative duration")
	case t.IsMilestone:
		return 0, nil
	}

	start := cal.ClampToWorkdays(t.Start)
	var span int
	switch {
	case t.IsSplit && len(t.Segments) > 0:
		span = cal.WorkdaysBetween(start, t.Segments[len(t.Segments)-1].End)
	case t.End.IsZero():
		span = t.Duration
	default:
		span = cal.WorkdaysBetween(start, t.End)
	}
	if span < t.MinDuration() {
		span = t.MinDuration()
	}
	return span, nil
}

func asDateRangeError(taskID string, err error) *InvalidDateRangeError {
	if e, ok := err.(*InvalidDateRangeError); ok {
		return e
	}
	return &InvalidDateRangeError{TaskID: taskID, Reason: err.Error()}
}

// applyDates writes validated dates back. A split task moves as a whole:
// every segment shifts by the same number of workdays.
func applyDates(t *domain.Task, d Dates, own time.Time, cal *calendar.Calendar) {
	t.WasConstrained = d.WasConstrained
	if !t.IsSplit || len(t.Segments) == 0 {
		t.Start, t.End, t.Duration = d.Start, d.End, d.Duration
		return
	}
	delta := cal.WorkdaysBetween(own, d.Start)
	if delta != 0 {
		for i := range t.Segments {
			t.Segments[i].Start = cal.AddWorkdays(t.Segments[i].Start, delta)
			t.Segments[i].End = cal.AddWorkdays(t.Segments[i].End, delta)
		}
	}
	t.Start = d.Start
	t.End = t.Segments[len(t.Segments)-1].End
}

// rollupSummaries derives summary task dates and float from their children,
// innermost summaries first.
func rollupSummaries(tasks []domain.Task, index map[string]int, summaries map[string]bool, children map[string][]string, errored map[string]bool, cal *calendar.Calendar) {
	rolled := make(map[string]bool)
	visiting := make(map[string]bool)

	var roll func(id string) bool
	roll = func(id string) bool {
		if done, ok := rolled[id]; ok {
			return done
		}
		if visiting[id] {
			return false
		}
		visiting[id] = true
		defer delete(visiting, id)

		var valid []*domain.Task
		for _, cid := range children[id] {
			if summaries[cid] {
				if !roll(cid) {
					continue
				}
			} else if errored[cid] {
				continue
			}
			valid = append(valid, &tasks[index[cid]])
		}
		if len(valid) == 0 {
			rolled[id] = false
			return false
		}

		g := &tasks[index[id]]
		g.Start, g.End = valid[0].Start, valid[0].End
		g.TotalFloat, g.FreeFloat = valid[0].TotalFloat, valid[0].FreeFloat
		weighted, weight := 0, 0
		for _, c := range valid {
			if c.Start.Before(g.Start) {
				g.Start = c.Start
			}
			if c.End.After(g.End) {
				g.End = c.End
			}
			if c.TotalFloat < g.TotalFloat {
				g.TotalFloat = c.TotalFloat
			}
			if c.FreeFloat < g.FreeFloat {
				g.FreeFloat = c.FreeFloat
			}
			w := c.Duration
			if w < 1 {
				w = 1
			}
			weighted += c.Progress * w
			weight += w
		}
		g.Duration = cal.WorkdaysBetween(g.Start, g.End)
		g.Progress = (weighted + weight/2) / weight
		g.IsCritical = g.TotalFloat == 0
		rolled[id] = true
		return true
	}

	for _, t := range tasks {
		if summaries[t.ID] {
			roll(t.ID)
		}
	}
}

func deadlineWarnings(tasks []domain.Task, errored map[string]bool, cal *calendar.Calendar) []Warning {
	var out []Warning
	for _, t := range tasks {
		if t.Deadline == nil || errored[t.ID] || t.Start.IsZero() {
			continue
		}
		finish := t.Start
		if t.End.After(t.Start) {
			finish = cal.PrevWorkday(t.End)
		}
		if finish.After(domain.Day(*t.Deadline)) {
			out = append(out, Warning{
				Code:    WarnDeadlineMissed,
				TaskID:  t.ID,
				Message: fmt.Sprintf("task %s finishes %s, after its deadline %s", t.ID, domain.FormatDate(finish), domain.FormatDate(*t.Deadline)),
			})
		}
	}
	return out
}
