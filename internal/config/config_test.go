package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("demo")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Project.ID != "demo" {
		t.Fatalf("project id = %q", cfg.Project.ID)
	}
	if cfg.Scheduling.GapWarningDays != 30 || cfg.Scheduling.DefaultMaxOccurrences != 100 || cfg.Scheduling.VarianceThresholdDays != 1 {
		t.Fatalf("scheduling defaults = %+v", cfg.Scheduling)
	}
	cal, err := cfg.BuildCalendar()
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	if cal.IsWorkday(time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("default calendar should not work on Saturday")
	}
}

func TestFromYAMLAppliesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("project:\n  id: p1\ncalendar:\n  holidays:\n    - date: \"2024-12-25\"\n      name: Christmas\n      recurring: true\n"))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if len(cfg.Calendar.Week) != 7 {
		t.Fatalf("missing week should default to the standard week")
	}
	cal, err := cfg.BuildCalendar()
	if err != nil {
		t.Fatal(err)
	}
	if cal.IsWorkday(time.Date(2025, 12, 25, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("recurring holiday not applied")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := map[string]string{
		"missing project":  "project:\n  id: \"\"\n",
		"closed week":      "project:\n  id: p\ncalendar:\n  week:\n    monday: {working: false}\n",
		"bad holiday":      "project:\n  id: p\ncalendar:\n  holidays:\n    - date: tomorrow\n",
		"bad webhook":      "project:\n  id: p\nwebhooks:\n  - url: ftp://example.com\n",
		"unknown event":    "project:\n  id: p\nwebhooks:\n  - url: https://example.com\n    events: [task.exploded]\n",
		"negative gap":     "project:\n  id: p\nscheduling:\n  gap_warning_days: -1\n",
		"invalid yaml":     "project: [",
		"unknown week day": "project:\n  id: p\ncalendar:\n  week:\n    caturday: {working: true}\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestToYAMLRoundTrip(t *testing.T) {
	cfg := Default("round")
	cfg.Webhooks = []WebhookConfig{{URL: "https://example.com/hook", Events: []string{"schedule.computed"}}}
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatal(err)
	}
	again, err := FromYAML(data)
	if err != nil {
		t.Fatalf("reparse: %v\n%s", err, data)
	}
	if again.Project.ID != "round" || len(again.Webhooks) != 1 {
		t.Fatalf("round trip lost data: %+v", again)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing file should yield nil,nil: %v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("Load should explain the missing file, got %v", err)
	}
	if err := os.WriteFile(Path(dir), []byte(GenerateDefault("p9")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil || cfg == nil || cfg.Project.ID != "p9" {
		t.Fatalf("load optional = %+v, %v", cfg, err)
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "planline.yml")
	if err := os.WriteFile(path, []byte(GenerateDefault("before")), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte(GenerateDefault("after")), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case ch := <-w.Changes:
		if ch.Err != nil {
			t.Fatalf("reload error: %v", ch.Err)
		}
		if ch.Config.Project.ID != "after" {
			t.Fatalf("reloaded project = %q", ch.Config.Project.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no change observed")
	}
}

func TestWatcherStopWithUnreadChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "planline.yml")
	if err := os.WriteFile(path, []byte(GenerateDefault("before")), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	w.debounce = 10 * time.Millisecond
	if err := w.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < cap(w.changes); i++ {
		w.changes <- Change{}
	}
	for _, id := range []string{"one", "two", "three"} {
		if err := os.WriteFile(path, []byte(GenerateDefault(id)), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatalf("stop blocked on a full change buffer")
	}
	w.Stop()
}
