package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/app"
	"planline/internal/db"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/migrate"
	"planline/internal/repo"
)

const longHelp = `Planline schedules project plans: tasks with workday durations, dependency
links with lag, and a working calendar with holidays.
Core concepts:
- Workspace: a directory holding .planline/planline.db and an optional planline.yml.
- Project: owns tasks, links and its calendar config (imported with 'pl config import').
- Tasks: a start date plus a duration in workdays; the end date is exclusive.
- Links: FS, SS, FF or SF dependencies with a lag in calendar days.
- Schedule: a pass that moves successors, computes float and marks the critical path.
- Baselines: a snapshot of planned dates used to report variance.
- Recurrence: a rule that generates instances of a task; instances form a series.
- Segments: a task split into work periods with gaps between them.
- Event log: every change is recorded, view it with 'pl log tail'.`

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	initConfig()
	root := &cobra.Command{
		Use:           "pl",
		Short:         "Planline CLI",
		Long:          longHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := db.EnsureWorkspace(viper.GetString("workspace"))
			return err
		},
	}
	addPersistentFlags(root)
	root.AddCommand(projectCmd())
	root.AddCommand(configCmd())
	root.AddCommand(taskCmd())
	root.AddCommand(linkCmd())
	root.AddCommand(scheduleCmd())
	root.AddCommand(criticalPathCmd())
	root.AddCommand(baselineCmd())
	root.AddCommand(recurCmd())
	root.AddCommand(splitCmd())
	root.AddCommand(mergeCmd())
	root.AddCommand(segmentsCmd())
	root.AddCommand(planCmd())
	root.AddCommand(logCmd())
	root.AddCommand(apiKeyCmd())
	root.AddCommand(dbCmd())
	root.AddCommand(serveCmd())
	return root
}

func initConfig() {
	viper.SetEnvPrefix("PLANLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("project", "", "project id (overrides planline.yml)")
	flags.BoolP("verbose", "v", false, "log engine activity to stderr")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "verbose"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

// session is an opened workspace bound to the active project.
type session struct {
	engine    engine.Engine
	projectID string
	actorID   string
}

func openEngine() (engine.Engine, func(), error) {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	e := engine.New(conn, nil)
	if viper.GetBool("verbose") {
		e.Logger = log.New(os.Stderr, "planline: ", log.LstdFlags)
	}
	return e, func() { conn.Close() }, nil
}

func withSession(ctx context.Context, fn func(context.Context, session) error) error {
	e, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()
	actorID := viper.GetString("actor-id")
	projectID, cfg, err := app.ResolveProjectAndConfig(ctx, viper.GetString("workspace"), viper.GetString("project"), actorID, e)
	if err != nil {
		return err
	}
	e.Config = cfg
	return fn(ctx, session{engine: e, projectID: projectID, actorID: actorID})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	e, closeFn, err := openEngine()
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e.Repo)
}

// projectTask loads a task and checks it belongs to the active project.
func (s session) projectTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := s.engine.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, err)
	}
	if t.ProjectID != s.projectID {
		return domain.Task{}, fmt.Errorf("task %s: %w", id, repo.ErrNotFound)
	}
	return t, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseDateFlag(name, value string) (time.Time, error) {
	t, err := domain.ParseDate(strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: expected YYYY-MM-DD, got %q", name, value)
	}
	return t, nil
}

func parseOptionalDate(name, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	return parseDateFlag(name, value)
}
