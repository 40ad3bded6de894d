// Package baseline compares a task's frozen baseline with its current dates.
package baseline

import (
	"errors"
	"time"

	"planline/internal/domain"
)

var (
	ErrBaselineExists = errors.New("baseline already set")
	ErrNoDates        = errors.New("task has no dates to capture")
)

// DefaultThresholdDays is the variance, either way, still counted as on track.
const DefaultThresholdDays = 1

type Status string

const (
	Ahead      Status = "ahead"
	OnTrack    Status = "on-track"
	Behind     Status = "behind"
	NoBaseline Status = "no-baseline"
)

// Performance is the variance of one task against its baseline. Start and
// finish variances are in calendar days, duration variance in workdays.
type Performance struct {
	TaskID           string `json:"task_id"`
	HasBaseline      bool   `json:"has_baseline"`
	StartVariance    int    `json:"start_variance"`
	FinishVariance   int    `json:"finish_variance"`
	DurationVariance int    `json:"duration_variance"`
	StartStatus      Status `json:"start_status"`
	FinishStatus     Status `json:"finish_status"`
	DurationStatus   Status `json:"duration_status"`
	Status           Status `json:"status"`
}

// Tracker classifies variances. The zero value uses DefaultThresholdDays.
type Tracker struct {
	ThresholdDays int
}

func (tr Tracker) threshold() int {
	if tr.ThresholdDays <= 0 {
		return DefaultThresholdDays
	}
	return tr.ThresholdDays
}

// Calculate uses the default threshold.
func Calculate(task domain.Task) Performance {
	return Tracker{}.Calculate(task)
}

// Calculate never fails: a task without a baseline reports NoBaseline for
// every status and zero variances.
func (tr Tracker) Calculate(task domain.Task) Performance {
	p := Performance{TaskID: task.ID}
	b := task.Baseline
	if b == nil || b.Start.IsZero() || b.End.IsZero() {
		p.StartStatus, p.FinishStatus, p.DurationStatus, p.Status = NoBaseline, NoBaseline, NoBaseline, NoBaseline
		return p
	}
	p.HasBaseline = true
	p.StartVariance = daysBetween(b.Start, task.Start)
	p.FinishVariance = daysBetween(b.End, task.End)
	p.DurationVariance = task.Duration - b.Duration

	th := tr.threshold()
	p.StartStatus = Classify(p.StartVariance, th)
	p.FinishStatus = Classify(p.FinishVariance, th)
	p.DurationStatus = Classify(p.DurationVariance, th)
	p.Status = p.FinishStatus
	return p
}

// Classify maps a variance to a status: beyond -threshold is ahead, beyond
// +threshold behind, anything in between on track.
func Classify(variance, threshold int) Status {
	switch {
	case variance < -threshold:
		return Ahead
	case variance > threshold:
		return Behind
	default:
		return OnTrack
	}
}

func daysBetween(from, to time.Time) int {
	return int(domain.Day(to).Sub(domain.Day(from)).Hours() / 24)
}

// Capture freezes the task's current dates. A baseline is immutable once set.
func Capture(task domain.Task, at time.Time) (domain.Task, error) {
	if task.Baseline != nil {
		return task, ErrBaselineExists
	}
	if task.Start.IsZero() || task.End.IsZero() {
		return task, ErrNoDates
	}
	out := task.Clone()
	out.Baseline = &domain.Baseline{
		Start:      task.Start,
		End:        task.End,
		Duration:   task.Duration,
		CapturedAt: at.UTC().Format(time.RFC3339),
	}
	return out, nil
}

// Summary counts tasks per overall status across a project.
type Summary struct {
	Total      int `json:"total"`
	Ahead      int `json:"ahead"`
	OnTrack    int `json:"on_track"`
	Behind     int `json:"behind"`
	NoBaseline int `json:"no_baseline"`
	// WorstTaskID is the task furthest behind its baseline finish.
	WorstTaskID         string `json:"worst_task_id,omitempty"`
	WorstFinishVariance int    `json:"worst_finish_variance"`
}

func (tr Tracker) Summarize(tasks []domain.Task) (Summary, []Performance) {
	s := Summary{Total: len(tasks)}
	perf := make([]Performance, 0, len(tasks))
	for _, t := range tasks {
		p := tr.Calculate(t)
		perf = append(perf, p)
		switch p.Status {
		case Ahead:
			s.Ahead++
		case Behind:
			s.Behind++
		case OnTrack:
			s.OnTrack++
		default:
			s.NoBaseline++
			continue
		}
		if s.WorstTaskID == "" || p.FinishVariance > s.WorstFinishVariance {
			s.WorstTaskID = p.TaskID
			s.WorstFinishVariance = p.FinishVariance
		}
	}
	return s, perf
}
