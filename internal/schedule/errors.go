package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"planline/internal/domain"
)

// ErrDuplicateTask aborts a pass when two input tasks share an id.
var ErrDuplicateTask = errors.New("duplicate task id")

// CyclicDependencyError aborts a scheduling pass. Cycle lists the task ids
// on the cycle in link order; Links holds the links that close it.
type CyclicDependencyError struct {
	Cycle []string
	Links []domain.Link
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Cycle) == 0 {
		return "cyclic dependency"
	}
	path := append(append([]string(nil), e.Cycle...), e.Cycle[0])
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(path, " -> "))
}

// Involves reports whether the task id sits on the cycle.
func (e *CyclicDependencyError) Involves(taskID string) bool {
	for _, id := range e.Cycle {
		if id == taskID {
			return true
		}
	}
	return false
}

func newCycleError(links []domain.Link) *CyclicDependencyError {
	err := &CyclicDependencyError{Links: append([]domain.Link(nil), links...)}
	for _, l := range links {
		err.Cycle = append(err.Cycle, l.FromID)
	}
	return err
}

// InvalidDateRangeError reports a task whose dates cannot be reconciled.
// The task is left out of float computation; the rest of the pass goes on.
type InvalidDateRangeError struct {
	TaskID   string
	Start    time.Time
	End      time.Time
	Duration int
	Reason   string
}

func (e *InvalidDateRangeError) Error() string {
	return fmt.Sprintf("task %s: invalid date range (start %s, end %s, duration %d): %s",
		e.TaskID, formatOrNone(e.Start), formatOrNone(e.End), e.Duration, e.Reason)
}

func formatOrNone(t time.Time) string {
	if t.IsZero() {
		return "none"
	}
	return domain.FormatDate(t)
}
