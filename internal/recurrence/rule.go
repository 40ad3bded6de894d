// Package recurrence expands recurrence rules into task instances and keeps
// instances tied to their series.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"planline/internal/domain"
	"planline/internal/validation"
)

var (
	ErrNoRule       = errors.New("task has no recurrence rule")
	ErrInactiveRule = errors.New("recurrence rule is inactive")
)

// InvalidRecurrenceRuleError lists every constraint a rule breaks.
type InvalidRecurrenceRuleError struct {
	RuleID     string
	Violations []string
}

func (e *InvalidRecurrenceRuleError) Error() string {
	id := e.RuleID
	if id == "" {
		id = "(new)"
	}
	return fmt.Sprintf("invalid recurrence rule %s: %s", id, strings.Join(e.Violations, "; "))
}

// ValidateRule checks a rule and reports all violations at once.
func ValidateRule(r domain.RecurrenceRule) error {
	var v []string
	if !r.Frequency.IsValid() {
		v = append(v, fmt.Sprintf("frequency %q is not one of %s", r.Frequency, validation.FormatValidValues(domain.Frequencies)))
	}
	if r.Interval < 1 {
		v = append(v, fmt.Sprintf("interval must be at least 1, got %d", r.Interval))
	}
	if r.StartDate.IsZero() {
		v = append(v, "start date is required")
	}
	if r.EndDate != nil && !r.StartDate.IsZero() && r.EndDate.Before(r.StartDate) {
		v = append(v, fmt.Sprintf("end date %s is before start date %s", domain.FormatDate(*r.EndDate), domain.FormatDate(r.StartDate)))
	}
	if r.MaxOccurrences != nil && *r.MaxOccurrences < 1 {
		v = append(v, fmt.Sprintf("max occurrences must be at least 1, got %d", *r.MaxOccurrences))
	}
	if len(r.Weekdays) > 0 {
		if r.Frequency != domain.Weekly {
			v = append(v, "weekdays are only allowed for weekly rules")
		}
		seen := make(map[time.Weekday]bool, len(r.Weekdays))
		for _, d := range r.Weekdays {
			if d < time.Sunday || d > time.Saturday {
				v = append(v, fmt.Sprintf("weekday %d is out of range", int(d)))
				continue
			}
			if seen[d] {
				v = append(v, fmt.Sprintf("weekday %s is listed twice", d))
			}
			seen[d] = true
		}
	}
	if r.DayOfMonth != nil {
		if r.Frequency != domain.Monthly {
			v = append(v, "day of month is only allowed for monthly rules")
		}
		if *r.DayOfMonth < 1 || *r.DayOfMonth > 31 {
			v = append(v, fmt.Sprintf("day of month must be between 1 and 31, got %d", *r.DayOfMonth))
		}
	}
	if len(v) > 0 {
		return &InvalidRecurrenceRuleError{RuleID: r.ID, Violations: v}
	}
	return nil
}
