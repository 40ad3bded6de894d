package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"planline/internal/baseline"
	"planline/internal/calendar"
	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/events"
	"planline/internal/migrate"
	"planline/internal/planfile"
	"planline/internal/recurrence"
	"planline/internal/repo"
	"planline/internal/schedule"
	"planline/internal/segment"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, engine.ProjectInitOptions{ID: "proj-1", Name: "test", Config: cfg, ActorID: "tester"}); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func day(s string) time.Time {
	d, err := domain.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func intPtr(v int) *int { return &v }

func (env testEnv) task(t *testing.T, id, start string, duration int) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ID:        id,
		ProjectID: "proj-1",
		Name:      id,
		Start:     day(start),
		Duration:  intPtr(duration),
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	return task
}

func (env testEnv) link(t *testing.T, from, to string, lag int) domain.Link {
	t.Helper()
	l, err := env.Engine.AddLink(env.Ctx, engine.LinkAddOptions{FromID: from, ToID: to, Lag: lag, ActorID: "tester"})
	if err != nil {
		t.Fatalf("link %s -> %s: %v", from, to, err)
	}
	return l
}

func (env testEnv) get(t *testing.T, id string) domain.Task {
	t.Helper()
	task, err := env.Engine.GetTask(env.Ctx, id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return task
}

func expectDate(t *testing.T, what string, got time.Time, want string) {
	t.Helper()
	if domain.FormatDate(got) != want {
		t.Fatalf("%s = %s, want %s", what, domain.FormatDate(got), want)
	}
}

func TestCreateTaskDerivesEnd(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "a", "2024-01-05", 3)
	// Fri + 3 workdays skips the weekend
	expectDate(t, "end", task.End, "2024-01-10")
	if task.CreatedAt == "" || task.ProjectID != "proj-1" {
		t.Fatalf("task = %+v", task)
	}

	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", Name: "bad", Start: day("2024-01-10"), End: day("2024-01-08")})
	var dr *schedule.InvalidDateRangeError
	if !errors.As(err, &dr) {
		t.Fatalf("expected InvalidDateRangeError, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", Start: day("2024-01-10")}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing name, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "nope", Name: "x", Start: day("2024-01-10")}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found project, got %v", err)
	}
}

func TestLinkLagMovesSuccessor(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "pred", "2024-01-08", 2)
	env.task(t, "succ", "2024-01-08", 1)
	env.link(t, "pred", "succ", 2)

	succ := env.get(t, "succ")
	expectDate(t, "successor start", succ.Start, "2024-01-12")
	if !succ.WasConstrained {
		t.Fatalf("successor should be marked constrained")
	}
}

func TestChainIsCriticalAndCycleRejected(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "A", "2024-01-08", 1)
	env.task(t, "B", "2024-01-08", 1)
	env.task(t, "C", "2024-01-08", 1)
	env.link(t, "A", "B", 0)
	env.link(t, "B", "C", 0)

	rep, err := env.Engine.Recompute(env.Ctx, "proj-1", "tester")
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if diff := cmp.Diff([]string{"A", "B", "C"}, rep.Result.CriticalPath); diff != "" {
		t.Fatalf("critical path (-want +got):\n%s", diff)
	}
	for _, id := range []string{"A", "B", "C"} {
		task := env.get(t, id)
		if !task.IsCritical || task.TotalFloat != 0 {
			t.Fatalf("%s: critical=%v float=%d", id, task.IsCritical, task.TotalFloat)
		}
	}

	_, err = env.Engine.AddLink(env.Ctx, engine.LinkAddOptions{FromID: "C", ToID: "A", ActorID: "tester"})
	var cyc *schedule.CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
	if !cyc.Involves("A") || !cyc.Involves("C") {
		t.Fatalf("cycle = %v", cyc.Cycle)
	}
	if _, err := env.Engine.AddLink(env.Ctx, engine.LinkAddOptions{FromID: "A", ToID: "A"}); !errors.As(err, &cyc) {
		t.Fatalf("self link should be a cycle, got %v", err)
	}
	if _, err := env.Engine.AddLink(env.Ctx, engine.LinkAddOptions{FromID: "A", ToID: "B"}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("duplicate link should be rejected, got %v", err)
	}
	if _, err := env.Engine.AddLink(env.Ctx, engine.LinkAddOptions{FromID: "A", ToID: "C", Type: "XX"}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("bad link type should be rejected, got %v", err)
	}
	links, err := env.Engine.ListLinks(env.Ctx, "proj-1")
	if err != nil || len(links) != 2 {
		t.Fatalf("links = %v, %v", links, err)
	}
}

func TestDeleteTaskRemovesLinks(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "A", "2024-01-08", 2)
	env.task(t, "B", "2024-01-08", 1)
	env.link(t, "A", "B", 0)
	expectDate(t, "B start", env.get(t, "B").Start, "2024-01-10")

	if err := env.Engine.DeleteTask(env.Ctx, "A", "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	links, err := env.Engine.ListLinks(env.Ctx, "proj-1")
	if err != nil || len(links) != 0 {
		t.Fatalf("links after delete = %v, %v", links, err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, "A"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := env.Engine.DeleteTask(env.Ctx, "A", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestUpdateTaskMovesDates(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "A", "2024-01-08", 2)
	start := day("2024-01-15")
	name := "renamed"
	task, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: "A", Start: &start, Name: &name, ActorID: "tester"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	expectDate(t, "start", task.Start, "2024-01-15")
	expectDate(t, "end", task.End, "2024-01-17")
	if task.Name != "renamed" || task.Duration != 2 {
		t.Fatalf("task = %+v", task)
	}
	bad := 101
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: "A", Progress: &bad}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid progress, got %v", err)
	}
}

func TestGroupRollsUpChildren(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: "g", ProjectID: "proj-1", Name: "group", IsGroup: true}); err != nil {
		t.Fatalf("group: %v", err)
	}
	for _, c := range []struct {
		id, start string
		dur       int
	}{{"c1", "2024-01-08", 2}, {"c2", "2024-01-10", 3}} {
		if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ID: c.id, ProjectID: "proj-1", ParentID: "g", Name: c.id, Start: day(c.start), Duration: intPtr(c.dur)}); err != nil {
			t.Fatalf("child %s: %v", c.id, err)
		}
	}
	g := env.get(t, "g")
	expectDate(t, "group start", g.Start, "2024-01-08")
	expectDate(t, "group end", g.End, "2024-01-15")

	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "proj-1", ParentID: "c1", Name: "x", Start: day("2024-01-08")}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("non-group parent should be rejected, got %v", err)
	}
}

func TestBaselineVariance(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "A", "2024-01-29", 3)
	task, err := env.Engine.SetBaseline(env.Ctx, "A", "tester")
	if err != nil {
		t.Fatalf("baseline: %v", err)
	}
	expectDate(t, "baseline end", task.Baseline.End, "2024-02-01")
	if _, err := env.Engine.SetBaseline(env.Ctx, "A", "tester"); !errors.Is(err, baseline.ErrBaselineExists) {
		t.Fatalf("expected ErrBaselineExists, got %v", err)
	}

	end := day("2024-02-05")
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: "A", End: &end, ActorID: "tester"}); err != nil {
		t.Fatalf("slip: %v", err)
	}
	perf, err := env.Engine.BaselinePerformance(env.Ctx, "A")
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if perf.FinishVariance != 4 || perf.FinishStatus != baseline.Behind {
		t.Fatalf("performance = %+v", perf)
	}

	env.task(t, "B", "2024-01-08", 1)
	n, err := env.Engine.SetProjectBaseline(env.Ctx, "proj-1", "tester")
	if err != nil || n != 1 {
		t.Fatalf("project baseline = %d, %v", n, err)
	}
	sum, perfs, err := env.Engine.ProjectBaselineSummary(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if len(perfs) != 2 || sum.Behind != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestRecurrenceGenerateIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "standup", "2024-01-01", 1)
	_, err := env.Engine.EnableRecurrence(env.Ctx, engine.RecurrenceOptions{
		TaskID: "standup",
		Rule: domain.RecurrenceRule{
			Frequency:      domain.Weekly,
			Weekdays:       []time.Weekday{time.Friday, time.Monday, time.Wednesday},
			MaxOccurrences: intPtr(5),
		},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	first, err := env.Engine.GenerateInstances(env.Ctx, engine.GenerateOptions{TaskID: "standup", ActorID: "tester"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var got []string
	for _, inst := range first.Created {
		got = append(got, domain.FormatDate(inst.Start))
	}
	if diff := cmp.Diff([]string{"2024-01-03", "2024-01-05", "2024-01-08", "2024-01-10"}, got); diff != "" {
		t.Fatalf("instances (-want +got):\n%s", diff)
	}
	second, err := env.Engine.GenerateInstances(env.Ctx, engine.GenerateOptions{TaskID: "standup", ActorID: "tester"})
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(second.Created) != 0 || second.Existing != 4 {
		t.Fatalf("second run = %+v", second)
	}
	stored, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{ProjectID: "proj-1", SeriesID: first.SeriesID})
	if err != nil || len(stored) != 4 {
		t.Fatalf("series tasks = %d, %v", len(stored), err)
	}

	if _, err := env.Engine.DisableRecurrence(env.Ctx, "standup", "tester"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := env.Engine.GenerateInstances(env.Ctx, engine.GenerateOptions{TaskID: "standup"}); !errors.Is(err, recurrence.ErrInactiveRule) {
		t.Fatalf("expected ErrInactiveRule, got %v", err)
	}
}

func TestSeriesUpdateAndDetach(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "review", "2024-01-01", 1)
	if _, err := env.Engine.EnableRecurrence(env.Ctx, engine.RecurrenceOptions{
		TaskID: "review",
		Rule:   domain.RecurrenceRule{Frequency: domain.Daily, MaxOccurrences: intPtr(4)},
	}); err != nil {
		t.Fatalf("enable: %v", err)
	}
	gen, err := env.Engine.GenerateInstances(env.Ctx, engine.GenerateOptions{TaskID: "review"})
	if err != nil || len(gen.Created) != 3 {
		t.Fatalf("generate = %+v, %v", gen, err)
	}
	ids := []string{gen.Created[0].ID, gen.Created[1].ID, gen.Created[2].ID}

	detached, err := env.Engine.DetachInstance(env.Ctx, ids[2], "tester")
	if err != nil {
		t.Fatalf("detach: %v", err)
	}
	if detached.Series != nil {
		t.Fatalf("detached task still in series: %+v", detached.Series)
	}
	if _, err := env.Engine.DetachInstance(env.Ctx, ids[2], "tester"); !errors.Is(err, recurrence.ErrNotInstance) {
		t.Fatalf("expected ErrNotInstance, got %v", err)
	}

	name := "Review"
	updated, err := env.Engine.UpdateSeries(env.Ctx, engine.SeriesUpdateOptions{
		TaskID: ids[0],
		Scope:  recurrence.ScopeFuture,
		Patch:  recurrence.Patch{Name: &name},
	})
	if err != nil {
		t.Fatalf("update series: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("future scope touched %d instances, want 2", len(updated))
	}
	if env.get(t, ids[2]).Name == env.get(t, ids[1]).Name {
		t.Fatalf("detached instance was renamed with the series")
	}
}

func TestSplitAndMerge(t *testing.T) {
	env := newTestEnv(t)
	orig := env.task(t, "work", "2024-01-09", 10)
	split, sum, err := env.Engine.SplitTask(env.Ctx, engine.SplitOptions{
		TaskID: "work",
		Ranges: []segment.Range{
			{Start: day("2024-01-09"), End: day("2024-01-12")},
			{Start: day("2024-01-15"), End: day("2024-01-18")},
		},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if !split.IsSplit || sum.SegmentCount != 2 || sum.GapCount != 1 || sum.TotalGapDuration != 3 {
		t.Fatalf("summary = %+v", sum)
	}
	stored, err := env.Engine.SegmentSummary(env.Ctx, "work")
	if err != nil || stored.SegmentCount != 2 {
		t.Fatalf("stored summary = %+v, %v", stored, err)
	}
	start := day("2024-01-22")
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: "work", Start: &start}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("moving a split task should be rejected, got %v", err)
	}

	merged, err := env.Engine.MergeTask(env.Ctx, "work", "tester")
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !merged.Start.Equal(orig.Start) || !merged.End.Equal(orig.End) || merged.Duration != orig.Duration {
		t.Fatalf("merge lost dates: %+v", merged)
	}
	if _, err := env.Engine.MergeTask(env.Ctx, "work", "tester"); !errors.Is(err, segment.ErrNotSplit) {
		t.Fatalf("expected ErrNotSplit, got %v", err)
	}
}

const plan = `
[project]
id = "proj-1"

[[task]]
id = "design"
name = "Design"
start = 2024-01-08
duration = 2

[[task]]
id = "build"
name = "Build"
start = 2024-01-08
duration = 3

[[link]]
from = "design"
to = "build"
`

func TestImportAndExportPlan(t *testing.T) {
	env := newTestEnv(t)
	p, err := planfile.Parse([]byte(plan))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res, err := env.Engine.ImportPlan(env.Ctx, "proj-1", p, "tester")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Created != 2 || res.LinksAdded != 1 {
		t.Fatalf("import = %+v", res)
	}
	expectDate(t, "build start", env.get(t, "build").Start, "2024-01-10")

	again, err := env.Engine.ImportPlan(env.Ctx, "proj-1", p, "tester")
	if err != nil {
		t.Fatalf("reimport: %v", err)
	}
	if again.Updated != 2 || again.LinksSkipped != 1 || again.LinksAdded != 0 {
		t.Fatalf("reimport = %+v", again)
	}

	out, err := env.Engine.ExportPlan(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(out.Tasks) != 2 || len(out.Links) != 1 || out.Project.ID != "proj-1" {
		t.Fatalf("export = %+v", out)
	}

	p.Links = append(p.Links, planfile.Link{From: "build", To: "design"})
	var cyc *schedule.CyclicDependencyError
	if _, err := env.Engine.ImportPlan(env.Ctx, "proj-1", p, "tester"); !errors.As(err, &cyc) {
		t.Fatalf("expected cycle, got %v", err)
	}
	links, _ := env.Engine.ListLinks(env.Ctx, "proj-1")
	if len(links) != 1 {
		t.Fatalf("failed import must not leave links behind, got %d", len(links))
	}
}

func TestEventsAreRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "A", "2024-01-08", 1)
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	seen := map[string]bool{}
	for _, e := range evts {
		seen[e.Type] = true
	}
	for _, want := range []string{events.ProjectCreated, events.TaskCreated, events.ScheduleComputed} {
		if !seen[want] {
			t.Fatalf("missing %s event in %v", want, seen)
		}
	}
}

func TestImportConfigChangesCalendar(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default("proj-1")
	cfg.Calendar.Holidays = []calendar.Holiday{{Date: "2024-01-09", Name: "closed"}}
	if err := env.Engine.ImportConfig(env.Ctx, "proj-1", cfg, "tester"); err != nil {
		t.Fatalf("import config: %v", err)
	}
	stored, err := env.Engine.Repo.GetProjectConfig(env.Ctx, "proj-1")
	if err != nil || len(stored.Calendar.Holidays) != 1 {
		t.Fatalf("stored config = %+v, %v", stored, err)
	}
	task := env.task(t, "A", "2024-01-09", 1)
	expectDate(t, "start after holiday", task.Start, "2024-01-10")
	expectDate(t, "end", task.End, "2024-01-11")
}

func TestUpdateProject(t *testing.T) {
	env := newTestEnv(t)
	status, desc := "paused", "waiting on vendor"
	p, err := env.Engine.UpdateProject(env.Ctx, "proj-1", engine.ProjectUpdateOptions{Status: &status, Description: &desc, ActorID: "tester"})
	if err != nil {
		t.Fatalf("update project: %v", err)
	}
	if p.Status != "paused" || p.Description != desc || p.Name != "test" {
		t.Fatalf("project = %+v", p)
	}
	bad := "done"
	if _, err := env.Engine.UpdateProject(env.Ctx, "proj-1", engine.ProjectUpdateOptions{Status: &bad}); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid input for status %q, got %v", bad, err)
	}
	if _, err := env.Engine.UpdateProject(env.Ctx, "missing", engine.ProjectUpdateOptions{Status: &status}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{Type: events.ProjectUpdated})
	if err != nil || len(evts) != 1 || evts[0].ActorID != "tester" {
		t.Fatalf("events = %+v, %v", evts, err)
	}
}
