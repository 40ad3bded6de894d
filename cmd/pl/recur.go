package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/calendar"
	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/recurrence"
	"planline/internal/segment"
)

func recurCmd() *cobra.Command {
	r := &cobra.Command{Use: "recur", Short: "Manage recurring tasks and their series"}
	r.AddCommand(recurEnableCmd())
	r.AddCommand(recurDisableCmd())
	r.AddCommand(recurGenerateCmd())
	r.AddCommand(recurDetachCmd())
	r.AddCommand(recurUpdateCmd())
	return r
}

func recurEnableCmd() *cobra.Command {
	var freq, start, end string
	var interval, maxOcc, dayOfMonth int
	var weekdays []string
	cmd := &cobra.Command{
		Use:   "enable <task-id>",
		Short: "Attach a recurrence rule to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rule := domain.RecurrenceRule{
				Frequency: domain.Frequency(strings.ToLower(freq)),
				Interval:  interval,
			}
			var err error
			if rule.StartDate, err = parseOptionalDate("start", start); err != nil {
				return err
			}
			if end != "" {
				d, err := parseDateFlag("end", end)
				if err != nil {
					return err
				}
				rule.EndDate = &d
			}
			if cmd.Flags().Changed("max") {
				rule.MaxOccurrences = &maxOcc
			}
			if cmd.Flags().Changed("day") {
				rule.DayOfMonth = &dayOfMonth
			}
			for _, name := range weekdays {
				d, err := calendar.ParseWeekday(name)
				if err != nil {
					return fmt.Errorf("--weekdays: %w", err)
				}
				rule.Weekdays = append(rule.Weekdays, d)
			}
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				t, err := s.projectTask(ctx, args[0])
				if err != nil {
					return err
				}
				if rule.StartDate.IsZero() {
					rule.StartDate = t.Start
				}
				t, err = s.engine.EnableRecurrence(ctx, engine.RecurrenceOptions{TaskID: t.ID, Rule: rule, ActorID: s.actorID})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), t.Recurrence)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "task %s recurs %s from %s\n", t.ID, t.Recurrence.Frequency, domain.FormatDate(t.Recurrence.StartDate))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&freq, "freq", string(domain.Weekly), "daily, weekly or monthly")
	cmd.Flags().IntVar(&interval, "interval", 1, "repeat every N periods")
	cmd.Flags().StringVar(&start, "start", "", "first occurrence (defaults to the task start)")
	cmd.Flags().StringVar(&end, "end", "", "last possible occurrence (inclusive)")
	cmd.Flags().IntVar(&maxOcc, "max", 0, "maximum occurrences")
	cmd.Flags().StringSliceVar(&weekdays, "weekdays", nil, "weekly days, e.g. mon,wed,fri")
	cmd.Flags().IntVar(&dayOfMonth, "day", 0, "day of month for monthly rules")
	return cmd
}

func recurDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <task-id>",
		Short: "Stop generating instances; existing instances stay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				if _, err := s.projectTask(ctx, args[0]); err != nil {
					return err
				}
				if _, err := s.engine.DisableRecurrence(ctx, args[0], s.actorID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recurrence disabled on %s\n", args[0])
				return nil
			})
		},
	}
}

func recurGenerateCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "generate <task-id>",
		Short: "Create the missing instances of a recurring task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.GenerateOptions{TaskID: args[0]}
			var err error
			if opts.From, err = parseOptionalDate("from", from); err != nil {
				return err
			}
			if opts.To, err = parseOptionalDate("to", to); err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				if _, err := s.projectTask(ctx, args[0]); err != nil {
					return err
				}
				opts.ActorID = s.actorID
				res, err := s.engine.GenerateInstances(ctx, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), res)
				}
				for _, t := range res.Created {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", t.ID, domain.FormatDate(t.Start))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "series %s: %d created, %d already present\n", res.SeriesID, len(res.Created), res.Existing)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "window end, exclusive (YYYY-MM-DD)")
	return cmd
}

func recurDetachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detach <instance-id>",
		Short: "Detach an instance from its series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				if _, err := s.projectTask(ctx, args[0]); err != nil {
					return err
				}
				if _, err := s.engine.DetachInstance(ctx, args[0], s.actorID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "detached %s\n", args[0])
				return nil
			})
		},
	}
}

func recurUpdateCmd() *cobra.Command {
	var scope, name string
	var duration, progress, shift int
	cmd := &cobra.Command{
		Use:   "update <instance-id>",
		Short: "Edit one instance or it and every later instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var patch recurrence.Patch
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("duration") {
				patch.Duration = &duration
			}
			if flags.Changed("progress") {
				patch.Progress = &progress
			}
			if flags.Changed("shift") {
				patch.ShiftDays = &shift
			}
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				if _, err := s.projectTask(ctx, args[0]); err != nil {
					return err
				}
				updated, err := s.engine.UpdateSeries(ctx, engine.SeriesUpdateOptions{
					TaskID:  args[0],
					Scope:   recurrence.Scope(strings.ToLower(scope)),
					Patch:   patch,
					ActorID: s.actorID,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), updated)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated %d instances\n", len(updated))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scope, "scope", string(recurrence.ScopeThis), "this or future")
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().IntVar(&duration, "duration", 0, "new duration in workdays")
	cmd.Flags().IntVar(&progress, "progress", 0, "new progress percent")
	cmd.Flags().IntVar(&shift, "shift", 0, "move by calendar days")
	return cmd
}

// parseSegment reads START:END or START:END:DAYS.
func parseSegment(value string) (segment.Range, error) {
	parts := strings.Split(value, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return segment.Range{}, fmt.Errorf("--segment %q: expected START:END[:DAYS]", value)
	}
	start, err := parseDateFlag("segment", parts[0])
	if err != nil {
		return segment.Range{}, err
	}
	end, err := parseDateFlag("segment", parts[1])
	if err != nil {
		return segment.Range{}, err
	}
	r := segment.Range{Start: start, End: end}
	if len(parts) == 3 {
		if r.Duration, err = strconv.Atoi(parts[2]); err != nil {
			return segment.Range{}, fmt.Errorf("--segment %q: bad duration", value)
		}
	}
	return r, nil
}

func splitCmd() *cobra.Command {
	var specs []string
	cmd := &cobra.Command{
		Use:   "split <task-id>",
		Short: "Split a task into work periods",
		Example: `  pl split build --segment 2024-01-08:2024-01-11 --segment 2024-01-15:2024-01-18
  pl split build --segment 2024-01-08:2024-01-11:2 --segment 2024-01-15:2024-01-18`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ranges := make([]segment.Range, 0, len(specs))
			for _, spec := range specs {
				r, err := parseSegment(spec)
				if err != nil {
					return err
				}
				ranges = append(ranges, r)
			}
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				if _, err := s.projectTask(ctx, args[0]); err != nil {
					return err
				}
				t, sum, err := s.engine.SplitTask(ctx, engine.SplitOptions{TaskID: args[0], Ranges: ranges, ActorID: s.actorID})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), map[string]any{"task": t, "summary": sum})
				}
				printSegments(cmd, t, sum)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&specs, "segment", nil, "work period START:END[:DAYS]; repeat for each segment")
	_ = cmd.MarkFlagRequired("segment")
	return cmd
}

func mergeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "merge <task-id>",
		Short: "Undo a split and restore the task's dates",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				if _, err := s.projectTask(ctx, args[0]); err != nil {
					return err
				}
				t, err := s.engine.MergeTask(ctx, args[0], s.actorID)
				if err != nil {
					return err
				}
				return printTask(cmd.OutOrStdout(), t)
			})
		},
	}
}

func segmentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "segments <task-id>",
		Short: "Show a task's segments and gaps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				t, err := s.projectTask(ctx, args[0])
				if err != nil {
					return err
				}
				sum, err := s.engine.SegmentSummary(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), sum)
				}
				printSegments(cmd, t, sum)
				return nil
			})
		},
	}
}

func printSegments(cmd *cobra.Command, t domain.Task, sum segment.Summary) {
	out := cmd.OutOrStdout()
	if !sum.IsSplit {
		fmt.Fprintf(out, "task %s is not split\n", t.ID)
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.AppendHeader(table.Row{"ID", "Start", "End", "Days", "Progress", "Active"})
	for _, s := range t.Segments {
		tw.AppendRow(table.Row{s.ID, domain.FormatDate(s.Start), domain.FormatDate(s.End), s.Duration, fmt.Sprintf("%d%%", s.Progress), s.IsActive})
	}
	tw.Render()
	fmt.Fprintf(out, "%d segments, %d workdays, %d gaps (%d days)\n", sum.SegmentCount, sum.TotalDuration, sum.GapCount, sum.TotalGapDuration)
	for _, w := range sum.Warnings {
		fmt.Fprintln(out, warning("warning: "+w))
	}
}
