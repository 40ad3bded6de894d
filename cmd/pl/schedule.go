package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/baseline"
	"planline/internal/domain"
	"planline/internal/engine"
)

var (
	critical = color.New(color.Bold, color.FgRed).SprintFunc()
	warning  = color.New(color.FgYellow).SprintFunc()
	dim      = color.New(color.Faint).SprintFunc()
)

func scheduleCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Recompute the project schedule",
		Long:  "Resolves dependencies, computes float and marks the critical path. With --dry-run nothing is stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				var rep engine.ScheduleReport
				var err error
				if dryRun {
					rep, err = s.engine.Schedule(ctx, s.projectID)
				} else {
					rep, err = s.engine.Recompute(ctx, s.projectID, s.actorID)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), scheduleView(rep))
				}
				renderSchedule(cmd.OutOrStdout(), rep)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute without storing")
	return cmd
}

type scheduleJSON struct {
	ProjectID    string        `json:"project_id"`
	ProjectStart string        `json:"project_start,omitempty"`
	ProjectEnd   string        `json:"project_end,omitempty"`
	CriticalPath []string      `json:"critical_path"`
	Changed      []string      `json:"changed"`
	Tasks        []domain.Task `json:"tasks"`
	Warnings     []string      `json:"warnings,omitempty"`
	Errors       []string      `json:"errors,omitempty"`
}

func scheduleView(rep engine.ScheduleReport) scheduleJSON {
	res := rep.Result
	out := scheduleJSON{
		ProjectID:    rep.ProjectID,
		ProjectStart: domain.FormatDate(res.ProjectStart),
		ProjectEnd:   domain.FormatDate(res.ProjectEnd),
		CriticalPath: append([]string{}, res.CriticalPath...),
		Changed:      append([]string{}, rep.Changed...),
		Tasks:        res.Tasks,
	}
	for _, w := range res.Warnings {
		out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %s", w.Code, w.Message))
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, e.Error())
	}
	return out
}

func renderSchedule(w io.Writer, rep engine.ScheduleReport) {
	res := rep.Result
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Name", "Start", "End", "Days", "Total Float", "Free Float", ""})
	for _, t := range res.Tasks {
		mark := ""
		switch {
		case t.IsCritical:
			mark = critical("critical")
		case t.WasConstrained:
			mark = dim("moved")
		}
		tw.AppendRow(table.Row{t.ID, taskLabel(t), domain.FormatDate(t.Start), domain.FormatDate(t.End), t.Duration, t.TotalFloat, t.FreeFloat, mark})
	}
	tw.Render()
	if !res.ProjectStart.IsZero() {
		fmt.Fprintf(w, "project %s: %s -> %s\n", rep.ProjectID, domain.FormatDate(res.ProjectStart), domain.FormatDate(res.ProjectEnd))
	}
	if len(res.CriticalPath) > 0 {
		fmt.Fprintf(w, "critical path: %s\n", strings.Join(res.CriticalPath, " -> "))
	}
	if len(rep.Changed) > 0 {
		fmt.Fprintf(w, "changed: %s\n", strings.Join(rep.Changed, ", "))
	}
	for _, wr := range res.Warnings {
		fmt.Fprintln(w, warning(fmt.Sprintf("warning %s: %s", wr.Code, wr.Message)))
	}
	for _, e := range res.Errors {
		fmt.Fprintln(w, critical("error: "+e.Error()))
	}
}

func criticalPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "critical-path",
		Short: "Print the tasks on the critical path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				rep, err := s.engine.Schedule(ctx, s.projectID)
				if err != nil {
					return err
				}
				path := append([]string{}, rep.Result.CriticalPath...)
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"project_id":    s.projectID,
						"critical_path": path,
						"project_end":   domain.FormatDate(rep.Result.ProjectEnd),
					})
				}
				if len(path) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no critical path")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), strings.Join(path, " -> "))
				return nil
			})
		},
	}
}

func baselineCmd() *cobra.Command {
	b := &cobra.Command{Use: "baseline", Short: "Capture and compare baselines"}
	b.AddCommand(baselineSetCmd())
	b.AddCommand(baselineShowCmd())
	return b
}

func baselineSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set [task-id]",
		Short: "Capture a baseline for one task, or every task without one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				if len(args) == 0 {
					n, err := s.engine.SetProjectBaseline(ctx, s.projectID, s.actorID)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "baselined %d tasks\n", n)
					return nil
				}
				if _, err := s.projectTask(ctx, args[0]); err != nil {
					return err
				}
				t, err := s.engine.SetBaseline(ctx, args[0], s.actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), t.Baseline)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "baselined %s: %s -> %s\n", t.ID, domain.FormatDate(t.Baseline.Start), domain.FormatDate(t.Baseline.End))
				return nil
			})
		},
	}
}

func baselineShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [task-id]",
		Short: "Show variance against the baseline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				var perfs []baseline.Performance
				var summary *baseline.Summary
				if len(args) == 1 {
					if _, err := s.projectTask(ctx, args[0]); err != nil {
						return err
					}
					p, err := s.engine.BaselinePerformance(ctx, args[0])
					if err != nil {
						return err
					}
					perfs = []baseline.Performance{p}
				} else {
					sum, all, err := s.engine.ProjectBaselineSummary(ctx, s.projectID)
					if err != nil {
						return err
					}
					summary, perfs = &sum, all
				}
				if viper.GetBool("json") {
					if summary == nil {
						return printJSON(cmd.OutOrStdout(), perfs[0])
					}
					return printJSON(cmd.OutOrStdout(), map[string]any{"summary": summary, "tasks": perfs})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"Task", "Start Var", "Finish Var", "Duration Var", "Status"})
				for _, p := range perfs {
					if !p.HasBaseline {
						tw.AppendRow(table.Row{p.TaskID, "", "", "", dim("no baseline")})
						continue
					}
					status := string(p.Status)
					if p.Status == baseline.Behind {
						status = critical(status)
					}
					tw.AppendRow(table.Row{p.TaskID, p.StartVariance, p.FinishVariance, p.DurationVariance, status})
				}
				tw.Render()
				if summary != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%d tasks: %d ahead, %d on track, %d behind, %d without baseline\n",
						summary.Total, summary.Ahead, summary.OnTrack, summary.Behind, summary.NoBaseline)
				}
				return nil
			})
		},
	}
}
