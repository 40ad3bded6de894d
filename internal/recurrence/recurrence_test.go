package recurrence_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"planline/internal/calendar"
	"planline/internal/domain"
	"planline/internal/recurrence"
)

func day(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func intp(n int) *int { return &n }

func dates(occ []recurrence.Occurrence) []string {
	out := make([]string, 0, len(occ))
	for _, o := range occ {
		out = append(out, domain.FormatDate(o.Date))
	}
	return out
}

func baseTask(rule domain.RecurrenceRule) domain.Task {
	return domain.Task{
		ID:         "standup",
		ProjectID:  "p1",
		Name:       "Standup",
		Start:      rule.StartDate,
		End:        rule.StartDate.AddDate(0, 0, 1),
		Duration:   1,
		Recurrence: &rule,
	}
}

func TestWeeklyWithWeekdays(t *testing.T) {
	rule := domain.RecurrenceRule{
		ID:             "r1",
		Frequency:      domain.Weekly,
		Interval:       1,
		StartDate:      day("2024-01-01"),
		Weekdays:       []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		MaxOccurrences: intp(5),
		Active:         true,
	}
	occ, err := recurrence.Generator{}.Occurrences(rule, recurrence.Window{})
	if err != nil {
		t.Fatalf("occurrences: %v", err)
	}
	want := []string{"2024-01-01", "2024-01-03", "2024-01-05", "2024-01-08", "2024-01-10"}
	if diff := cmp.Diff(want, dates(occ)); diff != "" {
		t.Fatalf("dates mismatch (-want +got):\n%s", diff)
	}
}

func TestWeeklyStartsOnRuleStart(t *testing.T) {
	cases := []struct {
		name     string
		start    string
		weekdays []time.Weekday
		interval int
		want     []string
	}{
		{"off-pattern start", "2024-01-03", []time.Weekday{time.Monday}, 1, []string{"2024-01-03", "2024-01-08", "2024-01-15"}},
		{"interval ignored with weekdays", "2024-01-01", []time.Weekday{time.Monday, time.Wednesday}, 2, []string{"2024-01-01", "2024-01-03", "2024-01-08"}},
		{"steps to next listed day", "2024-01-03", []time.Weekday{time.Monday, time.Thursday}, 2, []string{"2024-01-03", "2024-01-04", "2024-01-08"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rule := domain.RecurrenceRule{
				Frequency:      domain.Weekly,
				Interval:       tc.interval,
				StartDate:      day(tc.start),
				Weekdays:       tc.weekdays,
				MaxOccurrences: intp(3),
			}
			occ, err := recurrence.Generator{}.Occurrences(rule, recurrence.Window{})
			if err != nil {
				t.Fatalf("occurrences: %v", err)
			}
			if diff := cmp.Diff(tc.want, dates(occ)); diff != "" {
				t.Fatalf("dates mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDailyAndPlainWeekly(t *testing.T) {
	daily := domain.RecurrenceRule{Frequency: domain.Daily, Interval: 3, StartDate: day("2024-01-01"), MaxOccurrences: intp(3)}
	occ, err := recurrence.Generator{}.Occurrences(daily, recurrence.Window{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"2024-01-01", "2024-01-04", "2024-01-07"}, dates(occ)); diff != "" {
		t.Fatalf("daily mismatch:\n%s", diff)
	}

	weekly := domain.RecurrenceRule{Frequency: domain.Weekly, Interval: 2, StartDate: day("2024-01-01"), MaxOccurrences: intp(3)}
	occ, err = recurrence.Generator{}.Occurrences(weekly, recurrence.Window{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"2024-01-01", "2024-01-15", "2024-01-29"}, dates(occ)); diff != "" {
		t.Fatalf("weekly mismatch:\n%s", diff)
	}
}

func TestMonthlyClampsToMonthEnd(t *testing.T) {
	rule := domain.RecurrenceRule{Frequency: domain.Monthly, Interval: 1, StartDate: day("2024-01-31"), MaxOccurrences: intp(4)}
	occ, err := recurrence.Generator{}.Occurrences(rule, recurrence.Window{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"}
	if diff := cmp.Diff(want, dates(occ)); diff != "" {
		t.Fatalf("monthly mismatch (-want +got):\n%s", diff)
	}
}

func TestMonthlyDayOfMonth(t *testing.T) {
	rule := domain.RecurrenceRule{
		Frequency:  domain.Monthly,
		Interval:   2,
		StartDate:  day("2024-01-20"),
		DayOfMonth: intp(15),
		EndDate:    ptr(day("2024-08-01")),
	}
	occ, err := recurrence.Generator{}.Occurrences(rule, recurrence.Window{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"2024-01-20", "2024-03-15", "2024-05-15", "2024-07-15"}
	if diff := cmp.Diff(want, dates(occ)); diff != "" {
		t.Fatalf("day-of-month mismatch (-want +got):\n%s", diff)
	}

	first := domain.RecurrenceRule{Frequency: domain.Monthly, Interval: 1, StartDate: day("2024-01-15"), DayOfMonth: intp(1), MaxOccurrences: intp(3)}
	occ, err = recurrence.Generator{}.Occurrences(first, recurrence.Window{})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"2024-01-15", "2024-02-01", "2024-03-01"}, dates(occ)); diff != "" {
		t.Fatalf("off-pattern start mismatch (-want +got):\n%s", diff)
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestWindowBoundsAndDefaultCap(t *testing.T) {
	rule := domain.RecurrenceRule{Frequency: domain.Daily, Interval: 1, StartDate: day("2024-01-01")}
	occ, err := recurrence.Generator{}.Occurrences(rule, recurrence.Window{})
	if err != nil {
		t.Fatal(err)
	}
	if len(occ) != recurrence.DefaultMaxOccurrences {
		t.Fatalf("expected default cap, got %d", len(occ))
	}

	w := recurrence.Window{Start: day("2024-01-03"), End: day("2024-01-05")}
	occ, err = recurrence.Generator{}.Occurrences(rule, w)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"2024-01-03", "2024-01-04", "2024-01-05"}, dates(occ)); diff != "" {
		t.Fatalf("window mismatch:\n%s", diff)
	}
	if occ[0].Index != 2 {
		t.Fatalf("index should count from the rule start, got %d", occ[0].Index)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	rule := domain.RecurrenceRule{
		ID:             "r1",
		Frequency:      domain.Weekly,
		Interval:       1,
		StartDate:      day("2024-01-01"),
		Weekdays:       []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		MaxOccurrences: intp(5),
		Active:         true,
	}
	base := baseTask(rule)
	g := recurrence.Generator{Calendar: calendar.Standard()}
	first, err := g.Generate(base, recurrence.Window{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := g.Generate(base, recurrence.Window{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("generation is not deterministic:\n%s", diff)
	}
	if len(first) != 5 {
		t.Fatalf("expected 5 instances, got %d", len(first))
	}
	if first[0].Name != "Standup" || first[3].Name != "Standup (3)" {
		t.Fatalf("names = %q, %q", first[0].Name, first[3].Name)
	}
	for i, inst := range first {
		if inst.Series == nil || inst.Series.InstanceIndex != i || inst.Series.SeriesID != "r1" || inst.Series.OriginalTaskID != "standup" {
			t.Fatalf("instance %d series = %+v", i, inst.Series)
		}
		if inst.Duration != 1 || inst.Recurrence != nil {
			t.Fatalf("instance %d: %+v", i, inst)
		}
	}
	if !first[2].End.Equal(day("2024-01-08")) {
		t.Fatalf("friday instance should end monday, got %s", domain.FormatDate(first[2].End))
	}
	if first[1].ID == first[2].ID {
		t.Fatalf("instance ids must be distinct")
	}
}

func TestGenerateRejectsInactiveAndMissingRules(t *testing.T) {
	if _, err := (recurrence.Generator{}).Generate(domain.Task{ID: "x"}, recurrence.Window{}); !errors.Is(err, recurrence.ErrNoRule) {
		t.Fatalf("expected ErrNoRule, got %v", err)
	}
	rule := domain.RecurrenceRule{Frequency: domain.Daily, Interval: 1, StartDate: day("2024-01-01")}
	if _, err := (recurrence.Generator{}).Generate(baseTask(rule), recurrence.Window{}); !errors.Is(err, recurrence.ErrInactiveRule) {
		t.Fatalf("expected ErrInactiveRule, got %v", err)
	}
}

func TestValidateRuleListsEveryViolation(t *testing.T) {
	rule := domain.RecurrenceRule{
		ID:         "bad",
		Frequency:  "hourly",
		Interval:   0,
		StartDate:  day("2024-02-01"),
		EndDate:    ptr(day("2024-01-01")),
		Weekdays:   []time.Weekday{time.Monday},
		DayOfMonth: intp(40),
	}
	err := recurrence.ValidateRule(rule)
	var invalid *recurrence.InvalidRecurrenceRuleError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidRecurrenceRuleError, got %v", err)
	}
	if invalid.RuleID != "bad" {
		t.Fatalf("rule id = %q", invalid.RuleID)
	}
	if len(invalid.Violations) != 6 {
		t.Fatalf("expected 6 violations, got %d: %v", len(invalid.Violations), invalid.Violations)
	}
	if !strings.Contains(invalid.Violations[0], "daily, weekly, monthly") {
		t.Fatalf("frequency violation should list valid values: %q", invalid.Violations[0])
	}
}

func TestSeriesUpdateAndDetach(t *testing.T) {
	rule := domain.RecurrenceRule{ID: "r1", Frequency: domain.Daily, Interval: 7, StartDate: day("2024-01-01"), MaxOccurrences: intp(4), Active: true}
	instances, err := recurrence.Generator{}.Generate(baseTask(rule), recurrence.Window{})
	if err != nil {
		t.Fatal(err)
	}

	selected, err := recurrence.Select(instances, instances[2], recurrence.ScopeFuture)
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 2 || selected[0].Series.InstanceIndex != 2 {
		t.Fatalf("future scope selected %d instances", len(selected))
	}
	name, dur := "Retro", 2
	updated, err := recurrence.ApplyPatch(selected, recurrence.Patch{Name: &name, Duration: &dur}, calendar.Standard())
	if err != nil {
		t.Fatal(err)
	}
	if updated[0].Name != "Retro (2)" || updated[1].Duration != 2 {
		t.Fatalf("patch not applied: %+v", updated[0])
	}
	if !updated[0].End.Equal(day("2024-01-17")) {
		t.Fatalf("end = %s", domain.FormatDate(updated[0].End))
	}
	if instances[2].Name != "Standup (2)" {
		t.Fatalf("input instance mutated")
	}

	only, err := recurrence.Select(instances, instances[1], recurrence.ScopeThis)
	if err != nil || len(only) != 1 || only[0].ID != instances[1].ID {
		t.Fatalf("this scope = %v, %v", only, err)
	}
	if _, err := recurrence.Select(instances, instances[1], "all"); !errors.Is(err, recurrence.ErrInvalidScope) {
		t.Fatalf("expected ErrInvalidScope, got %v", err)
	}

	detached, err := recurrence.Detach(instances[3])
	if err != nil {
		t.Fatal(err)
	}
	if detached.Series != nil || detached.Name != "Standup" {
		t.Fatalf("detach = %+v", detached)
	}
	if _, err := recurrence.Detach(detached); !errors.Is(err, recurrence.ErrNotInstance) {
		t.Fatalf("expected ErrNotInstance, got %v", err)
	}
}
