package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"planline/internal/calendar"
	"planline/internal/domain"
)

var (
	ErrNotInstance  = errors.New("task is not part of a recurrence series")
	ErrInvalidScope = errors.New("invalid series update scope")
)

// Scope selects which instances a series update touches.
type Scope string

const (
	ScopeThis   Scope = "this"
	ScopeFuture Scope = "future"
)

var Scopes = []Scope{ScopeThis, ScopeFuture}

// Patch is a partial update applied to instances. Nil fields are left alone.
// ShiftDays moves start and end by calendar days.
type Patch struct {
	Name      *string
	Duration  *int
	Progress  *int
	ShiftDays *int
}

// Select returns the instances of target's series a scope covers, in
// instance order. ScopeFuture includes target itself.
func Select(instances []domain.Task, target domain.Task, scope Scope) ([]domain.Task, error) {
	if target.Series == nil {
		return nil, ErrNotInstance
	}
	var out []domain.Task
	switch scope {
	case ScopeThis:
		return []domain.Task{target}, nil
	case ScopeFuture:
		for _, t := range instances {
			if t.Series == nil || t.Series.SeriesID != target.Series.SeriesID {
				continue
			}
			if t.Series.InstanceIndex >= target.Series.InstanceIndex {
				out = append(out, t)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Series.InstanceIndex < out[j].Series.InstanceIndex
	})
	return out, nil
}

// ApplyPatch returns updated copies of the selected instances.
func ApplyPatch(selected []domain.Task, patch Patch, cal *calendar.Calendar) ([]domain.Task, error) {
	if cal == nil {
		cal = calendar.Standard()
	}
	if patch.Duration != nil && *patch.Duration < 0 {
		return nil, fmt.Errorf("duration must not be negative, got %d", *patch.Duration)
	}
	if patch.Progress != nil && (*patch.Progress < 0 || *patch.Progress > 100) {
		return nil, fmt.Errorf("progress must be between 0 and 100, got %d", *patch.Progress)
	}
	out := make([]domain.Task, 0, len(selected))
	for _, t := range selected {
		u := t.Clone()
		if patch.Name != nil {
			idx := 0
			if u.Series != nil {
				idx = u.Series.InstanceIndex
			}
			u.Name = InstanceName(*patch.Name, idx)
		}
		if patch.ShiftDays != nil {
			u.Start = u.Start.AddDate(0, 0, *patch.ShiftDays)
		}
		if patch.Duration != nil && !u.IsMilestone {
			u.Duration = *patch.Duration
			if u.Duration < 1 {
				u.Duration = 1
			}
		}
		if patch.ShiftDays != nil || patch.Duration != nil {
			if u.IsMilestone {
				u.End = u.Start
			} else {
				u.End = cal.AddWorkdays(u.Start, u.Duration)
			}
		}
		if patch.Progress != nil {
			u.Progress = *patch.Progress
		}
		out = append(out, u)
	}
	return out, nil
}

// Detach cuts an instance loose from its series: the series linkage is
// cleared and the " (n)" suffix dropped from its name.
func Detach(t domain.Task) (domain.Task, error) {
	if t.Series == nil {
		return t, ErrNotInstance
	}
	out := t.Clone()
	out.Name = BaseName(out.Name, out.Series.InstanceIndex)
	out.Series = nil
	return out, nil
}

// BaseName strips the suffix InstanceName added for index.
func BaseName(name string, index int) string {
	if index == 0 {
		return name
	}
	return strings.TrimSuffix(name, fmt.Sprintf(" (%d)", index))
}
