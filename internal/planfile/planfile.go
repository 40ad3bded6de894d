// Package planfile reads and writes whole project plans as TOML.
//
// A plan file lists tasks and links with native TOML dates:
//
//	[project]
//	id = "launch"
//
//	[[task]]
//	id = "design"
//	name = "Design"
//	start = 2024-01-01
//	duration = 5
//
//	[[link]]
//	from = "design"
//	to = "build"
//	type = "FS"
package planfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"planline/internal/domain"
	"planline/internal/validation"
)

// ErrEmptyPlan is returned when a plan file has no tasks.
var ErrEmptyPlan = errors.New("plan has no tasks")

type Plan struct {
	Project Project `toml:"project"`
	Tasks   []Task  `toml:"task"`
	Links   []Link  `toml:"link,omitempty"`
}

type Project struct {
	ID   string `toml:"id,omitempty"`
	Name string `toml:"name,omitempty"`
}

type Task struct {
	ID         string          `toml:"id"`
	Name       string          `toml:"name"`
	Parent     string          `toml:"parent,omitempty"`
	Start      *toml.LocalDate `toml:"start,omitempty"`
	End        *toml.LocalDate `toml:"end,omitempty"`
	Duration   *int            `toml:"duration,omitempty"`
	Progress   int             `toml:"progress,omitempty"`
	Milestone  bool            `toml:"milestone,omitempty"`
	Group      bool            `toml:"group,omitempty"`
	Deadline   *toml.LocalDate `toml:"deadline,omitempty"`
	Recurrence *Recurrence     `toml:"recurrence,omitempty"`
}

type Recurrence struct {
	Frequency      string          `toml:"frequency"`
	Interval       int             `toml:"interval,omitempty"`
	Start          *toml.LocalDate `toml:"start,omitempty"`
	End            *toml.LocalDate `toml:"end,omitempty"`
	MaxOccurrences *int            `toml:"max_occurrences,omitempty"`
	Weekdays       []string        `toml:"weekdays,omitempty"`
	DayOfMonth     *int            `toml:"day_of_month,omitempty"`
}

type Link struct {
	ID   string `toml:"id,omitempty"`
	From string `toml:"from"`
	To   string `toml:"to"`
	Type string `toml:"type,omitempty"`
	Lag  int    `toml:"lag,omitempty"`
}

// Parse decodes and validates a plan. Unknown keys are rejected so typos do
// not silently drop data.
func Parse(data []byte) (Plan, error) {
	var p Plan
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return Plan{}, fmt.Errorf("parsing plan: %s", strict.String())
		}
		return Plan{}, fmt.Errorf("parsing plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Load reads a plan from a file.
func Load(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("reading plan: %w", err)
	}
	return Parse(data)
}

// Encode writes the plan as TOML.
func Encode(w io.Writer, p Plan) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(p)
}

// Validate checks ids are unique and links point at tasks in the plan.
func (p Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return ErrEmptyPlan
	}
	ids := make(map[string]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task[%d]: id is required", i)
		}
		if t.Name == "" {
			return fmt.Errorf("task %s: name is required", t.ID)
		}
		if ids[t.ID] {
			return fmt.Errorf("task %s: duplicate id", t.ID)
		}
		ids[t.ID] = true
		if t.Progress < 0 || t.Progress > 100 {
			return fmt.Errorf("task %s: progress must be between 0 and 100", t.ID)
		}
		if t.Start == nil && !t.Group {
			return fmt.Errorf("task %s: start is required", t.ID)
		}
	}
	for _, t := range p.Tasks {
		if t.Parent != "" && !ids[t.Parent] {
			return fmt.Errorf("task %s: unknown parent %s", t.ID, t.Parent)
		}
	}
	for i, l := range p.Links {
		if !ids[l.From] || !ids[l.To] {
			return fmt.Errorf("link[%d] %s -> %s: unknown task", i, l.From, l.To)
		}
		if l.Type != "" && !domain.LinkType(strings.ToUpper(l.Type)).IsValid() {
			return fmt.Errorf("link[%d]: type %q is not one of %s", i, l.Type, validation.FormatValidValues(domain.LinkTypes))
		}
	}
	return nil
}

func toTime(d *toml.LocalDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.AsTime(time.UTC)
}

func toTimePtr(d *toml.LocalDate) *time.Time {
	if d == nil {
		return nil
	}
	t := d.AsTime(time.UTC)
	return &t
}

func fromTime(t time.Time) *toml.LocalDate {
	if t.IsZero() {
		return nil
	}
	d := toml.LocalDate{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
	return &d
}

func fromTimePtr(t *time.Time) *toml.LocalDate {
	if t == nil {
		return nil
	}
	return fromTime(*t)
}
