// Package segment splits tasks into discontinuous work periods and merges
// them back.
package segment

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"planline/internal/calendar"
	"planline/internal/domain"
)

// DefaultGapWarningDays is the gap length, in calendar days, above which a
// gap is reported as a warning.
const DefaultGapWarningDays = 30

var (
	ErrNotSplit = errors.New("task is not split")
	ErrNoRanges = errors.New("at least one range is required")
)

var segmentNamespace = uuid.MustParse("0b7d3c52-4e0a-5d0f-8a51-6d1f0c2b9e47")

// SegmentOverlapError names the two segments that overlap.
type SegmentOverlapError struct {
	TaskID string
	First  domain.Segment
	Second domain.Segment
}

func (e *SegmentOverlapError) Error() string {
	return fmt.Sprintf("task %s: segment %s (%s..%s) overlaps segment %s (%s..%s)",
		e.TaskID,
		e.First.ID, domain.FormatDate(e.First.Start), domain.FormatDate(e.First.End),
		e.Second.ID, domain.FormatDate(e.Second.Start), domain.FormatDate(e.Second.End))
}

// InvalidSegmentDurationError reports a segment that is empty or reversed.
type InvalidSegmentDurationError struct {
	TaskID    string
	SegmentID string
	Start     time.Time
	End       time.Time
	Duration  int
	Reason    string
}

func (e *InvalidSegmentDurationError) Error() string {
	return fmt.Sprintf("task %s: segment %s (%s..%s, duration %d): %s",
		e.TaskID, e.SegmentID, domain.FormatDate(e.Start), domain.FormatDate(e.End), e.Duration, e.Reason)
}

// Range is one requested work period. A zero Duration is derived from the
// calendar; a nil Progress inherits the task's progress.
type Range struct {
	Start    time.Time
	End      time.Time
	Duration int
	Progress *int
}

// Gap is idle time between two consecutive segments, in calendar days.
type Gap struct {
	AfterSegmentID  string    `json:"after_segment_id"`
	BeforeSegmentID string    `json:"before_segment_id"`
	Start           time.Time `json:"start_date"`
	End             time.Time `json:"end_date"`
	Days            int       `json:"days"`
}

// Report is the outcome of a successful validation.
type Report struct {
	Gaps     []Gap
	Warnings []string
}

type Engine struct {
	Calendar       *calendar.Calendar
	GapWarningDays int
}

func (e Engine) cal() *calendar.Calendar {
	if e.Calendar == nil {
		return calendar.Standard()
	}
	return e.Calendar
}

func (e Engine) gapThreshold() int {
	if e.GapWarningDays <= 0 {
		return DefaultGapWarningDays
	}
	return e.GapWarningDays
}

// Split turns ranges into the task's segments. The returned task carries the
// derived aggregates and a snapshot of its pre-split fields. On error the
// input is returned unchanged.
func (e Engine) Split(task domain.Task, ranges []Range) (domain.Task, error) {
	if len(ranges) == 0 {
		return task, ErrNoRanges
	}
	cal := e.cal()
	segs := make([]domain.Segment, 0, len(ranges))
	for i, r := range ranges {
		start, end := domain.Day(r.Start), domain.Day(r.End)
		dur := r.Duration
		if dur == 0 && end.After(start) {
			dur = cal.WorkdaysBetween(start, end)
		}
		progress := task.Progress
		if r.Progress != nil {
			progress = *r.Progress
		}
		segs = append(segs, domain.Segment{
			ID:       SegmentID(task.ID, i, start),
			Start:    start,
			End:      end,
			Duration: dur,
			Progress: progress,
			IsActive: true,
		})
	}
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start.Before(segs[j].Start) })
	if _, err := e.Validate(task.ID, segs); err != nil {
		return task, err
	}

	out := task.Clone()
	if !out.IsSplit || out.PreSplit == nil {
		out.PreSplit = &domain.SplitSnapshot{
			Start:    task.Start,
			End:      task.End,
			Duration: task.Duration,
			Progress: task.Progress,
		}
	}
	out.Segments = segs
	out.IsSplit = true
	Aggregate(&out)
	return out, nil
}

// Merge restores the fields the task had before it was split and drops its
// segments.
func (e Engine) Merge(task domain.Task) (domain.Task, error) {
	if !task.IsSplit || task.PreSplit == nil {
		return task, ErrNotSplit
	}
	out := task.Clone()
	out.Start = task.PreSplit.Start
	out.End = task.PreSplit.End
	out.Duration = task.PreSplit.Duration
	out.Progress = task.PreSplit.Progress
	out.Segments = nil
	out.IsSplit = false
	out.PreSplit = nil
	return out, nil
}

// Validate checks segments already sorted by start. Durations and overlaps
// are errors; gaps are reported, and long gaps become warnings.
func (e Engine) Validate(taskID string, segs []domain.Segment) (Report, error) {
	var rep Report
	for i, s := range segs {
		if !s.End.After(s.Start) {
			return Report{}, &InvalidSegmentDurationError{TaskID: taskID, SegmentID: s.ID, Start: s.Start, End: s.End, Duration: s.Duration, Reason: "end must be after start"}
		}
		if s.Duration <= 0 {
			return Report{}, &InvalidSegmentDurationError{TaskID: taskID, SegmentID: s.ID, Start: s.Start, End: s.End, Duration: s.Duration, Reason: "duration must be positive"}
		}
		if i == 0 {
			continue
		}
		prev := segs[i-1]
		if s.Start.Before(prev.End) {
			return Report{}, &SegmentOverlapError{TaskID: taskID, First: prev, Second: s}
		}
		if s.Start.After(prev.End) {
			g := Gap{
				AfterSegmentID:  prev.ID,
				BeforeSegmentID: s.ID,
				Start:           prev.End,
				End:             s.Start,
				Days:            int(s.Start.Sub(prev.End).Hours() / 24),
			}
			rep.Gaps = append(rep.Gaps, g)
			if g.Days > e.gapThreshold() {
				rep.Warnings = append(rep.Warnings, fmt.Sprintf("gap of %d days between segments %s and %s exceeds %d days", g.Days, prev.ID, s.ID, e.gapThreshold()))
			}
		}
	}
	return rep, nil
}

// Aggregate recomputes the task's dates, duration and progress from its
// segments: first start, last end, summed duration and mean progress.
func Aggregate(t *domain.Task) {
	if len(t.Segments) == 0 {
		return
	}
	t.Start = t.Segments[0].Start
	t.End = t.Segments[len(t.Segments)-1].End
	total, progress := 0, 0
	for _, s := range t.Segments {
		total += s.Duration
		progress += s.Progress
	}
	t.Duration = total
	n := len(t.Segments)
	t.Progress = (progress + n/2) / n
}

// Summary describes a task's segments.
type Summary struct {
	TaskID           string    `json:"task_id"`
	IsSplit          bool      `json:"is_split"`
	SegmentCount     int       `json:"segment_count"`
	ActiveCount      int       `json:"active_count"`
	TotalDuration    int       `json:"total_duration"`
	GapCount         int       `json:"gap_count"`
	TotalGapDuration int       `json:"total_gap_duration"`
	Start            time.Time `json:"start_date"`
	End              time.Time `json:"end_date"`
	Gaps             []Gap     `json:"gaps,omitempty"`
	Warnings         []string  `json:"warnings,omitempty"`
}

func (e Engine) Summary(task domain.Task) (Summary, error) {
	s := Summary{TaskID: task.ID, IsSplit: task.IsSplit, Start: task.Start, End: task.End}
	if !task.IsSplit {
		return s, nil
	}
	rep, err := e.Validate(task.ID, task.Segments)
	if err != nil {
		return s, err
	}
	s.SegmentCount = len(task.Segments)
	for _, seg := range task.Segments {
		s.TotalDuration += seg.Duration
		if seg.IsActive {
			s.ActiveCount++
		}
	}
	s.Gaps = rep.Gaps
	s.Warnings = rep.Warnings
	s.GapCount = len(rep.Gaps)
	for _, g := range rep.Gaps {
		s.TotalGapDuration += g.Days
	}
	return s, nil
}

// SegmentID derives a stable id from the task, position and start date.
func SegmentID(taskID string, index int, start time.Time) string {
	return uuid.NewSHA1(segmentNamespace, []byte(fmt.Sprintf("%s:%d:%s", taskID, index, domain.FormatDate(start)))).String()
}
