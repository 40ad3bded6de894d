package planfile

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"planline/internal/domain"
)

const sample = `
[project]
id = "launch"
name = "Launch"

[[task]]
id = "design"
name = "Design"
start = 2024-01-01
duration = 5

[[task]]
id = "build"
name = "Build"
start = 2024-01-08
end = 2024-01-18
deadline = 2024-01-31

[[task]]
id = "standup"
name = "Standup"
start = 2024-01-01
duration = 1
  [task.recurrence]
  frequency = "weekly"
  weekdays = ["fri", "monday"]
  max_occurrences = 4

[[link]]
from = "design"
to = "build"
lag = 2
`

func TestParseSample(t *testing.T) {
	p, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Project.ID != "launch" || len(p.Tasks) != 3 || len(p.Links) != 1 {
		t.Fatalf("plan = %+v", p)
	}
	tasks, err := p.DomainTasks("launch", "2024-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if got := domain.FormatDate(tasks[1].End); got != "2024-01-18" {
		t.Fatalf("build end = %s", got)
	}
	if tasks[1].Duration != 1 || tasks[1].Deadline == nil {
		t.Fatalf("build = %+v", tasks[1])
	}
	rule := tasks[2].Recurrence
	if rule == nil || rule.Frequency != domain.Weekly || rule.Interval != 1 {
		t.Fatalf("rule = %+v", rule)
	}
	if diff := cmp.Diff([]time.Weekday{time.Monday, time.Friday}, rule.Weekdays); diff != "" {
		t.Fatalf("weekdays (-want +got):\n%s", diff)
	}
	if !rule.StartDate.Equal(tasks[2].Start) {
		t.Fatalf("rule start should default to task start")
	}
	links := p.DomainLinks("launch", "")
	if links[0].Type != domain.FinishToStart || links[0].ID != "design-FS-build" || links[0].Lag != 2 {
		t.Fatalf("link = %+v", links[0])
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	p, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, p); err != nil {
		t.Fatalf("encode: %v", err)
	}
	again, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("reparse: %v\n%s", err, buf.String())
	}
	if diff := cmp.Diff(p, again); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "[[task]]\nid = \"a\"\nname = \"A\"\nstart = 2024-01-01\ncolour = \"red\"\n",
		"no tasks":      "[project]\nid = \"p\"\n",
		"duplicate id":  "[[task]]\nid = \"a\"\nname = \"A\"\nstart = 2024-01-01\n[[task]]\nid = \"a\"\nname = \"B\"\nstart = 2024-01-01\n",
		"dangling link": "[[task]]\nid = \"a\"\nname = \"A\"\nstart = 2024-01-01\n[[link]]\nfrom = \"a\"\nto = \"b\"\n",
		"bad link type": "[[task]]\nid = \"a\"\nname = \"A\"\nstart = 2024-01-01\n[[task]]\nid = \"b\"\nname = \"B\"\nstart = 2024-01-01\n[[link]]\nfrom = \"a\"\nto = \"b\"\ntype = \"XX\"\n",
		"missing start": "[[task]]\nid = \"a\"\nname = \"A\"\n",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := Parse([]byte("[project]\nid = \"p\"\n")); !errors.Is(err, ErrEmptyPlan) {
		t.Fatalf("expected ErrEmptyPlan, got %v", err)
	}
}

func TestFromDomainSkipsInstances(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tasks := []domain.Task{
		{ID: "a", Name: "A", Start: start, End: start.AddDate(0, 0, 1), Duration: 1},
		{ID: "a-1", Name: "A (1)", Start: start, Duration: 1, Series: &domain.SeriesLink{OriginalTaskID: "a", SeriesID: "s", InstanceIndex: 1}},
	}
	links := []domain.Link{{ID: "l", FromID: "a", ToID: "a-1", Type: domain.FinishToStart}}
	p := FromDomain(domain.Project{ID: "p"}, tasks, links)
	if len(p.Tasks) != 1 || len(p.Links) != 0 {
		t.Fatalf("plan = %+v", p)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, p); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "start = 2024-01-01") {
		t.Fatalf("dates should be written as TOML local dates:\n%s", buf.String())
	}
}
