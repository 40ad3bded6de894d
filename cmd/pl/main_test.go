package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"planline/internal/segment"
)

type cli struct {
	t         *testing.T
	workspace string
}

func newCLI(t *testing.T) cli {
	t.Helper()
	return cli{t: t, workspace: t.TempDir()}
}

// run executes one command against the workspace and returns its stdout.
func (c cli) run(args ...string) (string, error) {
	c.t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"-w", c.workspace, "--project", "demo", "--actor-id", "tester"}, args...))
	err := root.Execute()
	return out.String(), err
}

func (c cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	if err != nil {
		c.t.Fatalf("pl %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func decodeJSON[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return v
}

func TestScheduleMovesSuccessor(t *testing.T) {
	c := newCLI(t)
	c.mustRun("task", "add", "Design", "--id", "design", "--start", "2024-01-08", "--duration", "2")
	c.mustRun("task", "add", "Build", "--id", "build", "--start", "2024-01-08", "--duration", "3")
	c.mustRun("link", "add", "design", "build", "--lag", "2")

	rep := decodeJSON[scheduleJSON](t, c.mustRun("schedule", "--dry-run", "--json"))
	if rep.ProjectEnd != "2024-01-17" {
		t.Fatalf("project end = %s", rep.ProjectEnd)
	}
	if diff := cmp.Diff([]string{"design", "build"}, rep.CriticalPath); diff != "" {
		t.Fatalf("critical path (-want +got):\n%s", diff)
	}
	starts := map[string]string{}
	for _, task := range rep.Tasks {
		starts[task.ID] = task.Start.Format("2006-01-02")
	}
	if starts["build"] != "2024-01-12" {
		t.Fatalf("build start = %s", starts["build"])
	}

	out := c.mustRun("critical-path")
	if strings.TrimSpace(out) != "design -> build" {
		t.Fatalf("critical-path = %q", out)
	}

	if _, err := c.run("link", "add", "build", "design"); err == nil || !strings.Contains(err.Error(), "cyclic dependency") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestTaskUpdateAndRemove(t *testing.T) {
	c := newCLI(t)
	c.mustRun("task", "add", "Write", "--id", "write", "--start", "2024-01-05", "--duration", "3")
	out := c.mustRun("task", "update", "write", "--start", "2024-01-15")
	if !strings.Contains(out, "2024-01-15 -> 2024-01-18") {
		t.Fatalf("update output = %q", out)
	}
	if _, err := c.run("task", "update", "write", "--start", "15/01/2024"); err == nil {
		t.Fatal("expected bad date error")
	}
	c.mustRun("task", "rm", "write")
	if _, err := c.run("task", "show", "write"); err == nil {
		t.Fatal("expected not found after delete")
	}
}

func TestRecurAndSplit(t *testing.T) {
	c := newCLI(t)
	c.mustRun("task", "add", "Standup", "--id", "standup", "--start", "2024-01-01", "--duration", "1")
	c.mustRun("recur", "enable", "standup", "--freq", "daily", "--max", "4")
	out := c.mustRun("recur", "generate", "standup")
	if !strings.Contains(out, "3 created") {
		t.Fatalf("generate output = %q", out)
	}
	out = c.mustRun("recur", "generate", "standup")
	if !strings.Contains(out, "0 created, 3 already present") {
		t.Fatalf("second generate output = %q", out)
	}

	c.mustRun("task", "add", "Build", "--id", "build", "--start", "2024-01-09", "--duration", "10")
	c.mustRun("split", "build", "--segment", "2024-01-09:2024-01-12", "--segment", "2024-01-15:2024-01-18")
	sum := decodeJSON[segment.Summary](t, c.mustRun("segments", "build", "--json"))
	if sum.SegmentCount != 2 || sum.GapCount != 1 || sum.TotalGapDuration != 3 {
		t.Fatalf("summary = %+v", sum)
	}
	if _, err := c.run("split", "build", "--segment", "2024-01-09"); err == nil {
		t.Fatal("expected segment format error")
	}
	c.mustRun("merge", "build")
	out = c.mustRun("segments", "build")
	if !strings.Contains(out, "not split") {
		t.Fatalf("segments after merge = %q", out)
	}
}

const demoPlan = `
[project]
id = "demo"

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

func TestPlanImportExport(t *testing.T) {
	c := newCLI(t)
	in := filepath.Join(c.workspace, "plan.toml")
	if err := os.WriteFile(in, []byte(demoPlan), 0o644); err != nil {
		t.Fatal(err)
	}
	out := c.mustRun("plan", "import", in)
	if !strings.Contains(out, "2 created, 0 updated; links: 1 added") {
		t.Fatalf("import output = %q", out)
	}

	exported := filepath.Join(c.workspace, "out.toml")
	c.mustRun("plan", "export", "-o", exported)
	data, err := os.ReadFile(exported)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"design", "build", "2024-01-10"} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("export missing %q:\n%s", want, data)
		}
	}

	out = c.mustRun("log", "tail", "--type", "plan.imported")
	if !strings.Contains(out, "plan.imported") {
		t.Fatalf("log tail = %q", out)
	}
}

func TestConfigInitAndImport(t *testing.T) {
	c := newCLI(t)
	c.mustRun("config", "init", "demo")
	path := filepath.Join(c.workspace, "planline.yml")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.run("config", "init", "demo"); err == nil {
		t.Fatal("expected refusal to overwrite")
	}

	cfg := c.mustRun("config", "show")
	if !strings.Contains(cfg, "demo") {
		t.Fatalf("config show = %q", cfg)
	}
	if err := os.WriteFile(path, append(data, []byte("\n# edited\n")...), 0o644); err != nil {
		t.Fatal(err)
	}
	c.mustRun("config", "import")
	out := c.mustRun("log", "tail", "--type", "config.imported")
	if !strings.Contains(out, "config.imported") {
		t.Fatalf("log tail = %q", out)
	}
}

func TestProjectUpdate(t *testing.T) {
	c := newCLI(t)
	out := c.mustRun("project", "update", "--status", "paused", "--name", "Demo")
	if !strings.Contains(out, "project demo: Demo (paused)") {
		t.Fatalf("update = %q", out)
	}
	if _, err := c.run("project", "update", "--status", "finished"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if _, err := c.run("project", "update"); err == nil {
		t.Fatal("expected error with nothing to update")
	}
}

func TestDBStatus(t *testing.T) {
	c := newCLI(t)
	out := c.mustRun("db", "status")
	if !strings.Contains(out, "pending") {
		t.Fatalf("fresh status = %q", out)
	}
	c.mustRun("db", "migrate")
	out = c.mustRun("db", "status")
	if strings.Contains(out, "pending") || !strings.Contains(out, "0001_init.sql") {
		t.Fatalf("migrated status = %q", out)
	}
}

func TestAPIKeys(t *testing.T) {
	c := newCLI(t)
	created := decodeJSON[map[string]string](t, c.mustRun("apikey", "create", "--actor", "bot", "--name", "ci", "--ttl", "24h", "--json"))
	if !strings.HasPrefix(created["key"], "pl_") || created["id"] == "" {
		t.Fatalf("created = %v", created)
	}
	list := c.mustRun("apikey", "list", "--actor", "bot")
	if !strings.Contains(list, created["id"]) {
		t.Fatalf("list = %q", list)
	}
	c.mustRun("apikey", "rm", created["id"])
	if _, err := c.run("apikey", "rm", created["id"]); err == nil {
		t.Fatal("expected not found on second revoke")
	}
}
