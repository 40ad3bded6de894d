package recurrence

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"planline/internal/calendar"
	"planline/internal/domain"
)

// DefaultMaxOccurrences caps a rule that sets no limit of its own.
const DefaultMaxOccurrences = 100

// instanceNamespace seeds the name-based ids of generated instances, so the
// same series and index always map to the same task id.
var instanceNamespace = uuid.MustParse("6f1c6c7e-3f0e-5b7a-9d65-3b1f6ad1c0de")

// Window bounds generation, usually the project's start and end. Zero
// values leave that side open.
type Window struct {
	Start time.Time
	End   time.Time
}

// Occurrence is one date produced by a rule. Index counts from the rule's
// first occurrence, including occurrences before the window.
type Occurrence struct {
	Index int
	Date  time.Time
}

type Generator struct {
	Calendar       *calendar.Calendar
	MaxOccurrences int
}

func (g Generator) calendar() *calendar.Calendar {
	if g.Calendar == nil {
		return calendar.Standard()
	}
	return g.Calendar
}

func (g Generator) limit(r domain.RecurrenceRule) int {
	if r.MaxOccurrences != nil {
		return *r.MaxOccurrences
	}
	if g.MaxOccurrences > 0 {
		return g.MaxOccurrences
	}
	return DefaultMaxOccurrences
}

// Occurrences lists the rule's dates inside the window.
func (g Generator) Occurrences(r domain.RecurrenceRule, w Window) ([]Occurrence, error) {
	if err := ValidateRule(r); err != nil {
		return nil, err
	}
	var until time.Time
	if r.EndDate != nil {
		until = domain.Day(*r.EndDate)
	}
	if !w.End.IsZero() && (until.IsZero() || w.End.Before(until)) {
		until = domain.Day(w.End)
	}
	from := domain.Day(w.Start)

	it := newIterator(r)
	limit := g.limit(r)
	var out []Occurrence
	for n := 0; n < limit; n++ {
		d := it.next()
		if !until.IsZero() && d.After(until) {
			break
		}
		if !w.Start.IsZero() && d.Before(from) {
			continue
		}
		out = append(out, Occurrence{Index: n, Date: d})
	}
	return out, nil
}

// Generate expands the task's active rule into instances. Each instance
// keeps the base task's duration and links back to it through Series.
func (g Generator) Generate(base domain.Task, w Window) ([]domain.Task, error) {
	if base.Recurrence == nil {
		return nil, ErrNoRule
	}
	rule := *base.Recurrence
	if !rule.Active {
		return nil, ErrInactiveRule
	}
	occ, err := g.Occurrences(rule, w)
	if err != nil {
		return nil, err
	}

	cal := g.calendar()
	duration := baseDuration(base, cal)
	seriesID := SeriesID(base, rule)
	out := make([]domain.Task, 0, len(occ))
	for _, o := range occ {
		inst := base.Clone()
		inst.ID = InstanceID(seriesID, o.Index)
		inst.Name = InstanceName(base.Name, o.Index)
		inst.Start = o.Date
		inst.Duration = duration
		if base.IsMilestone {
			inst.End = o.Date
		} else {
			inst.End = cal.AddWorkdays(o.Date, duration)
		}
		inst.Progress = 0
		inst.Recurrence = nil
		inst.Baseline = nil
		inst.Segments = nil
		inst.IsSplit = false
		inst.PreSplit = nil
		inst.TotalFloat, inst.FreeFloat, inst.IsCritical, inst.WasConstrained = 0, 0, false, false
		inst.CreatedAt, inst.UpdatedAt = "", ""
		inst.Series = &domain.SeriesLink{
			OriginalTaskID: base.ID,
			SeriesID:       seriesID,
			InstanceIndex:  o.Index,
		}
		out = append(out, inst)
	}
	return out, nil
}

func baseDuration(t domain.Task, cal *calendar.Calendar) int {
	if t.IsMilestone {
		return 0
	}
	d := t.Duration
	if d <= 0 && !t.Start.IsZero() && !t.End.IsZero() {
		d = cal.WorkdaysBetween(t.Start, t.End)
	}
	if d < 1 {
		d = 1
	}
	return d
}

// SeriesID is the rule id, or a stable id derived from the task when the
// rule has none.
func SeriesID(base domain.Task, r domain.RecurrenceRule) string {
	if r.ID != "" {
		return r.ID
	}
	return uuid.NewSHA1(instanceNamespace, []byte("series:"+base.ID)).String()
}

func InstanceID(seriesID string, index int) string {
	return uuid.NewSHA1(instanceNamespace, []byte(fmt.Sprintf("%s:%d", seriesID, index))).String()
}

// InstanceName appends " (n)" for every instance after the first.
func InstanceName(name string, index int) string {
	if index == 0 {
		return name
	}
	return fmt.Sprintf("%s (%d)", name, index)
}

// iterator yields a rule's dates in order. The rule's start date is always
// the first occurrence; later ones follow the frequency.
type iterator struct {
	rule     domain.RecurrenceRule
	n        int
	current  time.Time
	weekdays map[time.Weekday]bool
	anchor   time.Time
	dom      int
}

// maxWeekdaySearch bounds the day-by-day search for the next listed weekday.
const maxWeekdaySearch = 14

func newIterator(r domain.RecurrenceRule) *iterator {
	it := &iterator{rule: r, anchor: domain.Day(r.StartDate)}
	switch r.Frequency {
	case domain.Weekly:
		if len(r.Weekdays) > 0 {
			it.weekdays = make(map[time.Weekday]bool, len(r.Weekdays))
			for _, d := range r.Weekdays {
				it.weekdays[d] = true
			}
		}
	case domain.Monthly:
		it.dom = it.anchor.Day()
		if r.DayOfMonth != nil {
			it.dom = *r.DayOfMonth
		}
	}
	return it
}

func (it *iterator) next() time.Time {
	defer func() { it.n++ }()
	if it.n == 0 {
		it.current = it.anchor
		return it.current
	}
	interval := it.rule.Interval
	switch it.rule.Frequency {
	case domain.Daily:
		it.current = it.anchor.AddDate(0, 0, it.n*interval)
	case domain.Monthly:
		it.current = monthDate(it.anchor.Year(), it.anchor.Month()+time.Month(it.n*interval), it.dom)
	case domain.Weekly:
		if it.weekdays == nil {
			it.current = it.anchor.AddDate(0, 0, it.n*7*interval)
			break
		}
		it.current = it.nextWeekday(it.current)
	}
	return it.current
}

// nextWeekday steps forward from d one day at a time to the next listed
// weekday. The interval plays no part once weekdays are listed.
func (it *iterator) nextWeekday(d time.Time) time.Time {
	for i := 0; i < maxWeekdaySearch; i++ {
		d = d.AddDate(0, 0, 1)
		if it.weekdays[d.Weekday()] {
			return d
		}
	}
	return d
}

// monthDate builds year/month/day, clamping day to the month's length.
// Months past December roll into later years.
func monthDate(year int, month time.Month, day int) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)
}

// SortedWeekdays returns the rule's weekdays Sunday first.
func SortedWeekdays(days []time.Weekday) []time.Weekday {
	out := append([]time.Weekday(nil), days...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
