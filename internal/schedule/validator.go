package schedule

import (
	"time"

	"planline/internal/calendar"
	"planline/internal/domain"
)

// Dates is the validator's verdict for one task.
type Dates struct {
	Start          time.Time
	End            time.Time
	Duration       int
	WasConstrained bool
}

// Validate reconciles a task's candidate dates with the start its
// predecessors allow. The task moves right when the constraint is later
// than its own start, and the move is reported through WasConstrained.
func Validate(task domain.Task, constrainedStart, candidateEnd time.Time, cal *calendar.Calendar) (Dates, error) {
	if task.Start.IsZero() {
		return Dates{}, &InvalidDateRangeError{TaskID: task.ID, End: candidateEnd, Duration: task.Duration, Reason: "missing start date"}
	}
	if candidateEnd.IsZero() {
		return Dates{}, &InvalidDateRangeError{TaskID: task.ID, Start: task.Start, Duration: task.Duration, Reason: "missing end date"}
	}

	d := Dates{Start: cal.ClampToWorkdays(task.Start)}
	if !constrainedStart.IsZero() && constrainedStart.After(d.Start) {
		d.Start = cal.ClampToWorkdays(constrainedStart)
		d.WasConstrained = true
	}

	if task.IsMilestone {
		d.End = d.Start
		return d, nil
	}

	minDur := task.MinDuration()
	d.End = cal.ClampToWorkdays(candidateEnd)
	d.Duration = cal.WorkdaysBetween(d.Start, d.End)
	if d.Duration < minDur {
		d.End = cal.AddWorkdays(d.Start, minDur)
		d.Duration = minDur
	}
	if !d.End.After(d.Start) {
		d.End = cal.AddWorkdays(d.Start, minDur)
		d.Duration = cal.WorkdaysBetween(d.Start, d.End)
	}
	if d.Duration < minDur {
		return Dates{}, &InvalidDateRangeError{
			TaskID: task.ID, Start: d.Start, End: d.End, Duration: d.Duration,
			Reason: "duration below minimum after adjustment",
		}
	}
	return d, nil
}
