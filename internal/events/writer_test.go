package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"planline/internal/db"
	"planline/internal/events"
	"planline/internal/migrate"
	"planline/internal/repo"
)

func TestRecordWritesRow(t *testing.T) {
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ctx := context.Background()
	w := events.Writer{DB: conn, Now: func() time.Time { return time.Date(2024, 1, 8, 9, 30, 0, 0, time.UTC) }}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	first, err := w.Record(ctx, tx, events.Entry{Type: events.TaskSplit, EntityKind: events.KindTask, EntityID: "build", Payload: events.EventPayload{"segments": 2}})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := w.Append(ctx, tx, events.TaskMerged, "", events.KindTask, "build", "alice", nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Append(ctx, tx, "task.exploded", "", events.KindTask, "build", "", nil); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if err := w.Append(ctx, tx, events.TaskSplit, "", "widget", "build", "", nil); err == nil {
		t.Fatal("expected error for unknown entity kind")
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	evts, err := repo.Repo{DB: conn}.LatestEvents(ctx, repo.EventFilters{Type: events.TaskSplit})
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("events = %+v", evts)
	}
	got := evts[0]
	if got.ID != first || got.ActorID != "system" || got.TS != "2024-01-08T09:30:00Z" || got.EntityID != "build" || got.ProjectID != "" {
		t.Fatalf("event = %+v (id %d)", got, first)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(got.Payload), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"segments": float64(2)}, payload); diff != "" {
		t.Fatalf("payload (-want +got):\n%s", diff)
	}
}

func TestKnownPattern(t *testing.T) {
	for p, want := range map[string]bool{
		events.ScheduleComputed: true,
		"task.*":                true,
		"recurrence.*":          true,
		"*":                     true,
		"widget.*":              false,
		"task":                  false,
		"task.exploded":         false,
	} {
		if got := events.KnownPattern(p); got != want {
			t.Fatalf("KnownPattern(%q) = %v, want %v", p, got, want)
		}
	}
	if types := events.Types(); len(types) != 18 || types[0] != events.BaselineSet {
		t.Fatalf("types = %v", types)
	}
}
