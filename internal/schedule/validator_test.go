package schedule_test

import (
	"errors"
	"testing"
	"time"

	"planline/internal/calendar"
	"planline/internal/domain"
	"planline/internal/schedule"
)

func TestValidateAdoptsLaterConstraint(t *testing.T) {
	cal := calendar.Standard()
	tk := task("A", "2024-01-08", "2024-01-10")
	d, err := schedule.Validate(tk, day("2024-01-09"), tk.End, cal)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !d.WasConstrained {
		t.Fatalf("expected constrained flag")
	}
	expectDate(t, "start", d.Start, "2024-01-09")
	if d.Duration != 1 {
		t.Fatalf("duration = %d, want 1", d.Duration)
	}
}

func TestValidateExtendsToMinimum(t *testing.T) {
	cal := calendar.Standard()
	tk := task("A", "2024-01-12", "2024-01-12")
	d, err := schedule.Validate(tk, time.Time{}, tk.End, cal)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	expectDate(t, "end", d.End, "2024-01-15")
	if d.Duration != 1 || d.WasConstrained {
		t.Fatalf("unexpected result %+v", d)
	}
}

func TestValidatePushedPastEnd(t *testing.T) {
	cal := calendar.Standard()
	tk := task("A", "2024-01-08", "2024-01-10")
	d, err := schedule.Validate(tk, day("2024-01-17"), tk.End, cal)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	expectDate(t, "start", d.Start, "2024-01-17")
	expectDate(t, "end", d.End, "2024-01-18")
}

func TestValidateMilestone(t *testing.T) {
	cal := calendar.Standard()
	tk := task("M", "2024-01-13", "2024-01-20")
	tk.IsMilestone = true
	d, err := schedule.Validate(tk, time.Time{}, tk.End, cal)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	expectDate(t, "milestone start", d.Start, "2024-01-15")
	if !d.End.Equal(d.Start) || d.Duration != 0 {
		t.Fatalf("milestone must collapse to a point: %+v", d)
	}
}

func TestValidateMissingStart(t *testing.T) {
	_, err := schedule.Validate(domain.Task{ID: "x"}, time.Time{}, day("2024-01-10"), calendar.Standard())
	var dr *schedule.InvalidDateRangeError
	if !errors.As(err, &dr) || dr.TaskID != "x" {
		t.Fatalf("expected InvalidDateRangeError for x, got %v", err)
	}
}

func TestResolveTakesLatestConstraint(t *testing.T) {
	cal := calendar.Standard()
	succ := task("S", "2024-01-08", "2024-01-09")
	preds := []schedule.Predecessor{
		{Link: fs("early", "A", "S", 0), Task: task("A", "2024-01-08", "2024-01-09")},
		{Link: fs("late", "B", "S", 0), Task: task("B", "2024-01-08", "2024-01-13")},
		{Link: domain.Link{ID: "ss", FromID: "C", ToID: "S", Type: domain.StartToStart, Lag: 1}, Task: task("C", "2024-01-08", "2024-01-09")},
	}
	r := schedule.Resolve(succ, 1, preds, cal)
	expectDate(t, "resolved start", r.Start, "2024-01-15")
	if r.Driver == nil || r.Driver.ID != "late" {
		t.Fatalf("driver = %+v", r.Driver)
	}

	free := schedule.Resolve(task("F", "2024-01-14", ""), 1, nil, cal)
	expectDate(t, "unconstrained start", free.Start, "2024-01-15")
	if free.Driver != nil {
		t.Fatalf("no predecessors means no driver")
	}
}
