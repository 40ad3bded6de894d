package segment_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"planline/internal/calendar"
	"planline/internal/domain"
	"planline/internal/segment"
)

func day(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func tenDayTask() domain.Task {
	return domain.Task{
		ID:       "t1",
		Name:     "Build",
		Start:    day("2024-01-01"),
		End:      day("2024-01-11"),
		Duration: 10,
		Progress: 20,
	}
}

func TestSplitReportsGap(t *testing.T) {
	eng := segment.Engine{Calendar: calendar.Standard()}
	split, err := eng.Split(tenDayTask(), []segment.Range{
		{Start: day("2024-01-07"), End: day("2024-01-10"), Duration: 3},
		{Start: day("2024-01-01"), End: day("2024-01-04"), Duration: 3},
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if !split.IsSplit || len(split.Segments) != 2 {
		t.Fatalf("split = %+v", split)
	}
	if !split.Segments[0].Start.Equal(day("2024-01-01")) {
		t.Fatalf("segments must be sorted by start")
	}
	if !split.Start.Equal(day("2024-01-01")) || !split.End.Equal(day("2024-01-10")) || split.Duration != 6 {
		t.Fatalf("aggregates: start %s end %s duration %d", domain.FormatDate(split.Start), domain.FormatDate(split.End), split.Duration)
	}

	sum, err := eng.Summary(split)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.SegmentCount != 2 || sum.GapCount != 1 || sum.TotalGapDuration != 3 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(sum.Warnings) != 0 {
		t.Fatalf("short gap should not warn: %v", sum.Warnings)
	}
}

func TestMergeRestoresTask(t *testing.T) {
	eng := segment.Engine{}
	orig := tenDayTask()
	split, err := eng.Split(orig, []segment.Range{
		{Start: day("2024-01-01"), End: day("2024-01-03")},
		{Start: day("2024-01-08"), End: day("2024-01-12")},
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if split.Segments[0].Duration != 2 || split.Segments[1].Duration != 4 {
		t.Fatalf("derived durations: %d, %d", split.Segments[0].Duration, split.Segments[1].Duration)
	}
	merged, err := eng.Merge(split)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if diff := cmp.Diff(orig, merged); diff != "" {
		t.Fatalf("merge(split(t)) != t (-want +got):\n%s", diff)
	}
	if _, err := eng.Merge(merged); !errors.Is(err, segment.ErrNotSplit) {
		t.Fatalf("expected ErrNotSplit, got %v", err)
	}
}

func TestResplitKeepsOriginalSnapshot(t *testing.T) {
	eng := segment.Engine{}
	orig := tenDayTask()
	first, err := eng.Split(orig, []segment.Range{{Start: day("2024-01-01"), End: day("2024-01-03")}, {Start: day("2024-01-04"), End: day("2024-01-05")}})
	if err != nil {
		t.Fatal(err)
	}
	second, err := eng.Split(first, []segment.Range{{Start: day("2024-01-02"), End: day("2024-01-03")}})
	if err != nil {
		t.Fatal(err)
	}
	merged, err := eng.Merge(second)
	if err != nil {
		t.Fatal(err)
	}
	if !merged.Start.Equal(orig.Start) || !merged.End.Equal(orig.End) || merged.Duration != orig.Duration {
		t.Fatalf("merge after re-split lost original dates: %+v", merged)
	}
}

func TestOverlapIsRejected(t *testing.T) {
	eng := segment.Engine{}
	orig := tenDayTask()
	got, err := eng.Split(orig, []segment.Range{
		{Start: day("2024-01-01"), End: day("2024-01-05"), Duration: 4},
		{Start: day("2024-01-04"), End: day("2024-01-08"), Duration: 2},
	})
	var overlap *segment.SegmentOverlapError
	if !errors.As(err, &overlap) {
		t.Fatalf("expected SegmentOverlapError, got %v", err)
	}
	if overlap.TaskID != "t1" {
		t.Fatalf("task id = %q", overlap.TaskID)
	}
	if diff := cmp.Diff(orig, got); diff != "" {
		t.Fatalf("task changed on failed split:\n%s", diff)
	}
}

func TestInvalidDurationIsRejected(t *testing.T) {
	eng := segment.Engine{}
	_, err := eng.Split(tenDayTask(), []segment.Range{{Start: day("2024-01-05"), End: day("2024-01-05")}})
	var invalid *segment.InvalidSegmentDurationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidSegmentDurationError, got %v", err)
	}
	_, err = eng.Split(tenDayTask(), []segment.Range{{Start: day("2024-01-06"), End: day("2024-01-08")}})
	if !errors.As(err, &invalid) {
		t.Fatalf("weekend-only segment has no workdays and must be rejected, got %v", err)
	}
	if _, err := eng.Split(tenDayTask(), nil); !errors.Is(err, segment.ErrNoRanges) {
		t.Fatalf("expected ErrNoRanges, got %v", err)
	}
}

func TestLongGapWarns(t *testing.T) {
	eng := segment.Engine{GapWarningDays: 5}
	split, err := eng.Split(tenDayTask(), []segment.Range{
		{Start: day("2024-01-01"), End: day("2024-01-03")},
		{Start: day("2024-01-15"), End: day("2024-01-17")},
	})
	if err != nil {
		t.Fatal(err)
	}
	sum, err := eng.Summary(split)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalGapDuration != 12 || len(sum.Warnings) != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestAggregateMeanProgress(t *testing.T) {
	p1, p2 := 100, 0
	split, err := segment.Engine{}.Split(tenDayTask(), []segment.Range{
		{Start: day("2024-01-01"), End: day("2024-01-03"), Progress: &p1},
		{Start: day("2024-01-04"), End: day("2024-01-05"), Progress: &p2},
	})
	if err != nil {
		t.Fatal(err)
	}
	if split.Progress != 50 {
		t.Fatalf("progress = %d, want 50", split.Progress)
	}
}
