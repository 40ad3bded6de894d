package baseline_test

import (
	"errors"
	"testing"
	"time"

	"planline/internal/baseline"
	"planline/internal/domain"
)

func day(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestFinishSlipIsBehind(t *testing.T) {
	tk := domain.Task{
		ID:       "t1",
		Start:    day("2024-01-29"),
		End:      day("2024-02-05"),
		Duration: 5,
		Baseline: &domain.Baseline{Start: day("2024-01-29"), End: day("2024-02-01"), Duration: 3},
	}
	p := baseline.Calculate(tk)
	if !p.HasBaseline {
		t.Fatalf("expected baseline")
	}
	if p.FinishVariance != 4 || p.FinishStatus != baseline.Behind {
		t.Fatalf("finish variance %d status %s", p.FinishVariance, p.FinishStatus)
	}
	if p.StartVariance != 0 || p.StartStatus != baseline.OnTrack {
		t.Fatalf("start variance %d status %s", p.StartVariance, p.StartStatus)
	}
	if p.DurationVariance != 2 || p.DurationStatus != baseline.Behind {
		t.Fatalf("duration variance %d status %s", p.DurationVariance, p.DurationStatus)
	}
	if p.Status != baseline.Behind {
		t.Fatalf("overall status %s", p.Status)
	}
}

func TestNoBaselineIsDistinct(t *testing.T) {
	p := baseline.Calculate(domain.Task{ID: "t1", Start: day("2024-01-01"), End: day("2024-01-02")})
	if p.HasBaseline || p.Status != baseline.NoBaseline || p.FinishStatus != baseline.NoBaseline {
		t.Fatalf("unexpected %+v", p)
	}
}

func TestClassifyThreshold(t *testing.T) {
	cases := []struct {
		variance int
		want     baseline.Status
	}{
		{-2, baseline.Ahead},
		{-1, baseline.OnTrack},
		{0, baseline.OnTrack},
		{1, baseline.OnTrack},
		{2, baseline.Behind},
	}
	for _, tc := range cases {
		if got := baseline.Classify(tc.variance, 1); got != tc.want {
			t.Fatalf("Classify(%d) = %s, want %s", tc.variance, got, tc.want)
		}
	}
	tr := baseline.Tracker{ThresholdDays: 5}
	tk := domain.Task{
		Start:    day("2024-01-01"),
		End:      day("2024-01-05"),
		Baseline: &domain.Baseline{Start: day("2024-01-01"), End: day("2024-01-02")},
	}
	if p := tr.Calculate(tk); p.FinishStatus != baseline.OnTrack {
		t.Fatalf("wider threshold should keep the task on track, got %s", p.FinishStatus)
	}
}

func TestCaptureIsImmutable(t *testing.T) {
	tk := domain.Task{ID: "t1", Start: day("2024-01-01"), End: day("2024-01-03"), Duration: 2}
	at := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	captured, err := baseline.Capture(tk, at)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if captured.Baseline == nil || !captured.Baseline.End.Equal(tk.End) || captured.Baseline.Duration != 2 {
		t.Fatalf("baseline = %+v", captured.Baseline)
	}
	if tk.Baseline != nil {
		t.Fatalf("input mutated")
	}
	if _, err := baseline.Capture(captured, at); !errors.Is(err, baseline.ErrBaselineExists) {
		t.Fatalf("expected ErrBaselineExists, got %v", err)
	}
	if _, err := baseline.Capture(domain.Task{ID: "empty"}, at); !errors.Is(err, baseline.ErrNoDates) {
		t.Fatalf("expected ErrNoDates, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	bl := func(end string) *domain.Baseline {
		return &domain.Baseline{Start: day("2024-01-01"), End: day(end)}
	}
	tasks := []domain.Task{
		{ID: "late", Start: day("2024-01-01"), End: day("2024-01-10"), Baseline: bl("2024-01-05")},
		{ID: "later", Start: day("2024-01-01"), End: day("2024-01-20"), Baseline: bl("2024-01-05")},
		{ID: "early", Start: day("2024-01-01"), End: day("2024-01-02"), Baseline: bl("2024-01-05")},
		{ID: "fine", Start: day("2024-01-01"), End: day("2024-01-05"), Baseline: bl("2024-01-05")},
		{ID: "none", Start: day("2024-01-01"), End: day("2024-01-05")},
	}
	s, perf := baseline.Tracker{}.Summarize(tasks)
	if s.Total != 5 || s.Behind != 2 || s.Ahead != 1 || s.OnTrack != 1 || s.NoBaseline != 1 {
		t.Fatalf("summary = %+v", s)
	}
	if s.WorstTaskID != "later" || s.WorstFinishVariance != 15 {
		t.Fatalf("worst = %s (%d)", s.WorstTaskID, s.WorstFinishVariance)
	}
	if len(perf) != 5 {
		t.Fatalf("expected a performance row per task")
	}
}
