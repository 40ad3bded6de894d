package planlinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"planline/internal/config"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/repo"
	"planline/internal/server"
)

const apiKey = "pl_sdk_test_key"

func newClient(t *testing.T) *Client {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("demo")
	e := engine.New(conn, cfg)
	ctx := context.Background()
	if _, err := e.InitProject(ctx, engine.ProjectInitOptions{ID: "demo", Config: cfg, ActorID: "tester"}); err != nil {
		t.Fatalf("init project: %v", err)
	}
	key := domain.APIKey{ID: "k1", ActorID: "sdk", KeyHash: repo.HashAPIKey(apiKey)}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		t.Fatalf("insert key: %v", err)
	}
	handler, err := server.New(server.Config{Engine: e, BasePath: "/v0", Auth: server.AuthConfig{JWTSecret: "sdk-secret"}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c := New(ts.URL, "demo")
	c.APIKey = apiKey
	return c
}

func intPtr(v int) *int { return &v }

func TestScheduleThroughClient(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	paused := "paused"
	p, err := c.UpdateProject(ctx, ProjectPatch{Status: &paused})
	if err != nil || p.Status != "paused" {
		t.Fatalf("update project = %+v, %v", p, err)
	}

	if _, err := c.CreateTask(ctx, TaskInput{ID: "design", Name: "Design", StartDate: "2024-01-08", Duration: intPtr(2)}); err != nil {
		t.Fatalf("create design: %v", err)
	}
	if _, err := c.CreateTask(ctx, TaskInput{ID: "build", Name: "Build", StartDate: "2024-01-08", Duration: intPtr(3)}); err != nil {
		t.Fatalf("create build: %v", err)
	}
	if _, err := c.AddLink(ctx, "design", "build", "", 0); err != nil {
		t.Fatalf("link: %v", err)
	}
	build, err := c.GetTask(ctx, "build")
	if err != nil {
		t.Fatalf("get build: %v", err)
	}
	if build.StartDate != "2024-01-10" || build.EndDate != "2024-01-15" {
		t.Fatalf("build = %s..%s", build.StartDate, build.EndDate)
	}

	path, err := c.CriticalPath(ctx)
	if err != nil {
		t.Fatalf("critical path: %v", err)
	}
	if diff := cmp.Diff([]string{"design", "build"}, path); diff != "" {
		t.Fatalf("critical path (-want +got):\n%s", diff)
	}

	_, err = c.AddLink(ctx, "build", "design", "FS", 0)
	if !IsCode(err, "cyclic_dependency") {
		t.Fatalf("expected cyclic_dependency, got %v", err)
	}
	_, err = c.GetTask(ctx, "missing")
	if !IsCode(err, "not_found") {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestPlanAndEventsThroughClient(t *testing.T) {
	c := newClient(t)
	ctx := context.Background()

	res, err := c.ImportPlan(ctx, `
[[task]]
id = "a"
name = "A"
start = 2024-01-08
duration = 1

[[task]]
id = "b"
name = "B"
start = 2024-01-08
duration = 1

[[link]]
from = "a"
to = "b"
`)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Created != 2 || res.LinksAdded != 1 {
		t.Fatalf("import = %+v", res)
	}
	toml, err := c.ExportPlan(ctx)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(toml, `from = "a"`) && !strings.Contains(toml, `from = 'a'`) {
		t.Fatalf("export missing link:\n%s", toml)
	}

	evts, err := c.Events(ctx, 10)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) == 0 || evts[0].ActorID != "sdk" {
		t.Fatalf("events = %+v", evts)
	}

	c.APIKey = "wrong"
	_, err = c.ListLinks(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized || apiErr.Code != "invalid_credentials" {
		t.Fatalf("expected 401, got %v", err)
	}
}
