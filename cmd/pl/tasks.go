package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/domain"
	"planline/internal/engine"
	"planline/internal/repo"
)

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskRemoveCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var id, parent, start, end, deadline string
	var duration, progress int
	var milestone, group bool
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskCreateOptions{
				ID:          id,
				ParentID:    parent,
				Name:        args[0],
				Progress:    progress,
				IsMilestone: milestone,
				IsGroup:     group,
			}
			var err error
			if opts.Start, err = parseOptionalDate("start", start); err != nil {
				return err
			}
			if opts.End, err = parseOptionalDate("end", end); err != nil {
				return err
			}
			if cmd.Flags().Changed("duration") {
				opts.Duration = &duration
			}
			if deadline != "" {
				d, err := parseDateFlag("deadline", deadline)
				if err != nil {
					return err
				}
				opts.Deadline = &d
			}
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				opts.ProjectID = s.projectID
				opts.ActorID = s.actorID
				t, err := s.engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printTask(cmd.OutOrStdout(), t)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "task id (generated when empty)")
	cmd.Flags().StringVar(&parent, "parent", "", "parent group task id")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "exclusive end date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&duration, "duration", 1, "duration in workdays")
	cmd.Flags().IntVar(&progress, "progress", 0, "progress percent")
	cmd.Flags().BoolVar(&milestone, "milestone", false, "zero-duration milestone")
	cmd.Flags().BoolVar(&group, "group", false, "summary task spanning its children")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline date (YYYY-MM-DD)")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				f.ProjectID = s.projectID
				tasks, err := s.engine.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Name", "Start", "End", "Days", "Progress", "Parent"})
				for _, t := range tasks {
					parent := ""
					if t.ParentID != nil {
						parent = *t.ParentID
					}
					tw.AppendRow(table.Row{t.ID, taskLabel(t), domain.FormatDate(t.Start), domain.FormatDate(t.End), t.Duration, fmt.Sprintf("%d%%", t.Progress), parent})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Parent, "parent", "", "parent task id")
	cmd.Flags().StringVar(&f.SeriesID, "series", "", "recurrence series id")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max tasks (0 for all)")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				t, err := s.projectTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), t)
			})
		},
	}
}

func taskUpdateCmd() *cobra.Command {
	var name, start, end, deadline, parent string
	var duration, progress int
	var milestone bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a task; only the flags given are changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			opts := engine.TaskUpdateOptions{ID: args[0]}
			if flags.Changed("name") {
				opts.Name = &name
			}
			if flags.Changed("start") {
				d, err := parseDateFlag("start", start)
				if err != nil {
					return err
				}
				opts.Start = &d
			}
			if flags.Changed("end") {
				d, err := parseDateFlag("end", end)
				if err != nil {
					return err
				}
				opts.End = &d
			}
			if flags.Changed("duration") {
				opts.Duration = &duration
			}
			if flags.Changed("progress") {
				opts.Progress = &progress
			}
			if flags.Changed("milestone") {
				opts.IsMilestone = &milestone
			}
			if flags.Changed("deadline") {
				if deadline == "" {
					opts.ClearDeadline = true
				} else {
					d, err := parseDateFlag("deadline", deadline)
					if err != nil {
						return err
					}
					opts.Deadline = &d
				}
			}
			if flags.Changed("parent") {
				opts.SetParent = &parent
			}
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				if _, err := s.projectTask(ctx, opts.ID); err != nil {
					return err
				}
				opts.ActorID = s.actorID
				t, err := s.engine.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printTask(cmd.OutOrStdout(), t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "exclusive end date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&duration, "duration", 0, "duration in workdays")
	cmd.Flags().IntVar(&progress, "progress", 0, "progress percent")
	cmd.Flags().BoolVar(&milestone, "milestone", false, "zero-duration milestone")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline date; empty clears it")
	cmd.Flags().StringVar(&parent, "parent", "", "parent group id; empty detaches")
	return cmd
}

func taskRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task and its links",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				if _, err := s.projectTask(ctx, args[0]); err != nil {
					return err
				}
				if err := s.engine.DeleteTask(ctx, args[0], s.actorID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted task %s\n", args[0])
				return nil
			})
		},
	}
}

func linkCmd() *cobra.Command {
	link := &cobra.Command{Use: "link", Short: "Manage dependency links"}
	link.AddCommand(linkAddCmd())
	link.AddCommand(linkListCmd())
	link.AddCommand(linkRemoveCmd())
	return link
}

func linkAddCmd() *cobra.Command {
	var id, typ string
	var lag int
	cmd := &cobra.Command{
		Use:   "add <from> <to>",
		Short: "Link two tasks; the second depends on the first",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				if _, err := s.projectTask(ctx, args[0]); err != nil {
					return err
				}
				l, err := s.engine.AddLink(ctx, engine.LinkAddOptions{
					ID:      id,
					FromID:  args[0],
					ToID:    args[1],
					Type:    domain.LinkType(strings.ToUpper(typ)),
					Lag:     lag,
					ActorID: s.actorID,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), l)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "linked %s -%s(%+d)-> %s as %s\n", l.FromID, l.Type, l.Lag, l.ToID, l.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "link id (generated when empty)")
	cmd.Flags().StringVar(&typ, "type", string(domain.FinishToStart), "FS, SS, FF or SF")
	cmd.Flags().IntVar(&lag, "lag", 0, "lag in calendar days; negative for lead")
	return cmd
}

func linkListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List links",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				links, err := s.engine.ListLinks(ctx, s.projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), links)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "From", "To", "Type", "Lag"})
				for _, l := range links {
					tw.AppendRow(table.Row{l.ID, l.FromID, l.ToID, l.Type, l.Lag})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func linkRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				if err := s.engine.RemoveLink(ctx, args[0], s.actorID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed link %s\n", args[0])
				return nil
			})
		},
	}
}

func taskLabel(t domain.Task) string {
	switch {
	case t.IsGroup:
		return t.Name + " [group]"
	case t.IsMilestone:
		return t.Name + " [milestone]"
	case t.IsSplit:
		return t.Name + " [split]"
	}
	return t.Name
}

func printTask(w io.Writer, t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(w, t)
	}
	_, err := fmt.Fprintf(w, "%s  %s  %s -> %s (%d workdays)\n", t.ID, taskLabel(t), domain.FormatDate(t.Start), domain.FormatDate(t.End), t.Duration)
	return err
}
