// Package calendar answers working-time questions for a scheduling pass:
// which dates are workdays and how to step between them.
//
// All dates are treated as calendar days; the time of day is ignored and
// results are returned at midnight UTC.
package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"planline/internal/domain"
)

// DefaultHours is the working time assumed for a working weekday with no
// explicit hours.
const DefaultHours = 8.0

// WorkDay describes one weekday of the standard week.
type WorkDay struct {
	Working bool    `json:"working" yaml:"working"`
	Hours   float64 `json:"hours,omitempty" yaml:"hours,omitempty"`
}

// Holiday closes a single date. A recurring holiday closes the same
// month and day every year.
type Holiday struct {
	Date      string `json:"date" yaml:"date"`
	Name      string `json:"name,omitempty" yaml:"name,omitempty"`
	Recurring bool   `json:"recurring,omitempty" yaml:"recurring,omitempty"`
}

// Exception overrides the standard week for one date. Exceptions close a
// date unless Working is set, in which case they open it.
type Exception struct {
	Date    string  `json:"date" yaml:"date"`
	Name    string  `json:"name,omitempty" yaml:"name,omitempty"`
	Working bool    `json:"working,omitempty" yaml:"working,omitempty"`
	Hours   float64 `json:"hours,omitempty" yaml:"hours,omitempty"`
}

// Calendar is the working-time definition shared read-only by every
// component during a pass. Build one with New; the zero value has no
// working days.
type Calendar struct {
	week       [7]WorkDay
	holidays   map[time.Time]string
	recurring  map[monthDay]string
	exceptions map[time.Time]Exception
}

type monthDay struct {
	month time.Month
	day   int
}

// Spec is the serialisable form of a calendar.
type Spec struct {
	Week       map[string]WorkDay `json:"week" yaml:"week"`
	Holidays   []Holiday          `json:"holidays,omitempty" yaml:"holidays,omitempty"`
	Exceptions []Exception        `json:"exceptions,omitempty" yaml:"exceptions,omitempty"`
}

// StandardSpec returns a Monday to Friday, eight hours a day week.
func StandardSpec() Spec {
	week := make(map[string]WorkDay, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		if d == time.Saturday || d == time.Sunday {
			week[weekdayKey(d)] = WorkDay{}
			continue
		}
		week[weekdayKey(d)] = WorkDay{Working: true, Hours: DefaultHours}
	}
	return Spec{Week: week}
}

// Standard returns the Monday to Friday calendar without holidays.
func Standard() *Calendar {
	c, _ := New(StandardSpec())
	return c
}

// New validates spec and builds a Calendar from it.
func New(spec Spec) (*Calendar, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	c := &Calendar{
		holidays:   make(map[time.Time]string),
		recurring:  make(map[monthDay]string),
		exceptions: make(map[time.Time]Exception),
	}
	for key, wd := range spec.Week {
		d, _ := parseWeekday(strings.ToLower(key))
		if wd.Working && wd.Hours == 0 {
			wd.Hours = DefaultHours
		}
		c.week[d] = wd
	}
	for _, h := range spec.Holidays {
		date, _ := domain.ParseDate(h.Date)
		if h.Recurring {
			c.recurring[monthDay{date.Month(), date.Day()}] = h.Name
			continue
		}
		c.holidays[date] = h.Name
	}
	for _, e := range spec.Exceptions {
		date, _ := domain.ParseDate(e.Date)
		if e.Working && e.Hours == 0 {
			e.Hours = DefaultHours
		}
		c.exceptions[date] = e
	}
	return c, nil
}

// Validate checks the spec is well formed and has at least one working
// weekday, which guarantees NextWorkday terminates.
func (s Spec) Validate() error {
	working := 0
	for key, wd := range s.Week {
		if _, ok := parseWeekday(strings.ToLower(key)); !ok {
			return fmt.Errorf("calendar: unknown weekday %q", key)
		}
		if wd.Hours < 0 || wd.Hours > 24 {
			return fmt.Errorf("calendar: %s hours %.2f out of range", key, wd.Hours)
		}
		if wd.Working {
			working++
		}
	}
	if working == 0 {
		return errors.New("calendar: at least one working weekday is required")
	}
	for _, h := range s.Holidays {
		if _, err := domain.ParseDate(h.Date); err != nil {
			return fmt.Errorf("calendar: holiday %q: invalid date %q", h.Name, h.Date)
		}
	}
	seen := make(map[string]bool, len(s.Exceptions))
	for _, e := range s.Exceptions {
		if _, err := domain.ParseDate(e.Date); err != nil {
			return fmt.Errorf("calendar: exception %q: invalid date %q", e.Name, e.Date)
		}
		if seen[e.Date] {
			return fmt.Errorf("calendar: duplicate exception for %s", e.Date)
		}
		seen[e.Date] = true
		if e.Hours < 0 || e.Hours > 24 {
			return fmt.Errorf("calendar: exception %s hours %.2f out of range", e.Date, e.Hours)
		}
	}
	return nil
}

// Spec returns the serialisable form of c.
func (c *Calendar) Spec() Spec {
	s := Spec{Week: make(map[string]WorkDay, 7)}
	for d := time.Sunday; d <= time.Saturday; d++ {
		s.Week[weekdayKey(d)] = c.week[d]
	}
	for date, name := range c.holidays {
		s.Holidays = append(s.Holidays, Holiday{Date: domain.FormatDate(date), Name: name})
	}
	for md, name := range c.recurring {
		date := time.Date(2000, md.month, md.day, 0, 0, 0, 0, time.UTC)
		s.Holidays = append(s.Holidays, Holiday{Date: domain.FormatDate(date), Name: name, Recurring: true})
	}
	sort.Slice(s.Holidays, func(i, j int) bool { return s.Holidays[i].Date < s.Holidays[j].Date })
	for _, e := range c.exceptions {
		s.Exceptions = append(s.Exceptions, e)
	}
	sort.Slice(s.Exceptions, func(i, j int) bool { return s.Exceptions[i].Date < s.Exceptions[j].Date })
	return s
}

// IsWorkday reports whether d is a working date.
func (c *Calendar) IsWorkday(d time.Time) bool {
	d = domain.Day(d)
	if e, ok := c.exceptions[d]; ok {
		return e.Working
	}
	if c.IsHoliday(d) {
		return false
	}
	return c.week[d.Weekday()].Working
}

// IsHoliday reports whether d falls on a fixed or recurring holiday.
func (c *Calendar) IsHoliday(d time.Time) bool {
	d = domain.Day(d)
	if _, ok := c.holidays[d]; ok {
		return true
	}
	_, ok := c.recurring[monthDay{d.Month(), d.Day()}]
	return ok
}

// NextWorkday returns the first workday strictly after d.
func (c *Calendar) NextWorkday(d time.Time) time.Time {
	d = domain.Day(d).AddDate(0, 0, 1)
	for !c.IsWorkday(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// PrevWorkday returns the last workday strictly before d.
func (c *Calendar) PrevWorkday(d time.Time) time.Time {
	d = domain.Day(d).AddDate(0, 0, -1)
	for !c.IsWorkday(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// ClampToWorkdays returns d when it is a workday and the next workday
// otherwise.
func (c *Calendar) ClampToWorkdays(d time.Time) time.Time {
	d = domain.Day(d)
	if c.IsWorkday(d) {
		return d
	}
	return c.NextWorkday(d)
}

// FloorToWorkdays returns d when it is a workday and the previous workday
// otherwise.
func (c *Calendar) FloorToWorkdays(d time.Time) time.Time {
	d = domain.Day(d)
	if c.IsWorkday(d) {
		return d
	}
	return c.PrevWorkday(d)
}

// AddWorkdays moves n workdays from d. The start is clamped forward first,
// so AddWorkdays(d, 0) == ClampToWorkdays(d). Negative n moves backwards.
func (c *Calendar) AddWorkdays(d time.Time, n int) time.Time {
	d = c.ClampToWorkdays(d)
	for ; n > 0; n-- {
		d = c.NextWorkday(d)
	}
	for ; n < 0; n++ {
		d = c.PrevWorkday(d)
	}
	return d
}

// WorkdaysBetween counts the workdays in [start, end). It is negative when
// end is before start.
func (c *Calendar) WorkdaysBetween(start, end time.Time) int {
	start, end = domain.Day(start), domain.Day(end)
	sign := 1
	if end.Before(start) {
		start, end = end, start
		sign = -1
	}
	n := 0
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		if c.IsWorkday(d) {
			n++
		}
	}
	return sign * n
}

// WorkingHours returns the working hours available on d.
func (c *Calendar) WorkingHours(d time.Time) float64 {
	d = domain.Day(d)
	if e, ok := c.exceptions[d]; ok {
		if !e.Working {
			return 0
		}
		return e.Hours
	}
	if !c.IsWorkday(d) {
		return 0
	}
	return c.week[d.Weekday()].Hours
}

// HoursBetween sums the working hours in [start, end).
func (c *Calendar) HoursBetween(start, end time.Time) float64 {
	var total float64
	for d := domain.Day(start); d.Before(domain.Day(end)); d = d.AddDate(0, 0, 1) {
		total += c.WorkingHours(d)
	}
	return total
}

var weekdayKeys = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

func weekdayKey(d time.Weekday) string { return weekdayKeys[d] }

func parseWeekday(s string) (time.Weekday, bool) {
	for i, k := range weekdayKeys {
		if k == s {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, k := range weekdayKeys {
		if k == s || k[:3] == s {
			return time.Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
