package schedule

import (
	"time"

	"planline/internal/calendar"
	"planline/internal/domain"
)

// Predecessor pairs an incoming link with the predecessor's final dates.
type Predecessor struct {
	Link domain.Link
	Task domain.Task
}

// Resolution is the earliest start a task's predecessors allow.
type Resolution struct {
	Start time.Time
	// Driver is the link whose constraint won, nil without predecessors.
	Driver *domain.Link
}

// Constraint returns the earliest start a single link imposes on its
// successor. Lag is added in calendar days before clamping. FF and SF
// constrain the successor's end and are back-solved through duration.
func Constraint(link domain.Link, pred domain.Task, duration int, cal *calendar.Calendar) time.Time {
	switch link.Type {
	case domain.StartToStart:
		return cal.ClampToWorkdays(pred.Start.AddDate(0, 0, link.Lag))
	case domain.FinishToFinish:
		end := cal.ClampToWorkdays(pred.End.AddDate(0, 0, link.Lag))
		return cal.AddWorkdays(end, -duration)
	case domain.StartToFinish:
		end := cal.ClampToWorkdays(pred.Start.AddDate(0, 0, link.Lag))
		return cal.AddWorkdays(end, -duration)
	default:
		return cal.ClampToWorkdays(pred.End.AddDate(0, 0, link.Lag))
	}
}

// Resolve takes the latest constraint over all predecessors. With no
// predecessors the task's own start is clamped and returned.
func Resolve(task domain.Task, duration int, preds []Predecessor, cal *calendar.Calendar) Resolution {
	if len(preds) == 0 {
		return Resolution{Start: cal.ClampToWorkdays(task.Start)}
	}
	var res Resolution
	for i := range preds {
		c := Constraint(preds[i].Link, preds[i].Task, duration, cal)
		if res.Driver == nil || c.After(res.Start) {
			link := preds[i].Link
			res.Start = c
			res.Driver = &link
		}
	}
	res.Start = cal.ClampToWorkdays(res.Start)
	return res
}
