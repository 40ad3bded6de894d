package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/config"
	"planline/internal/engine"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectUpdateCmd())
	return prj
}

func projectUpdateCmd() *cobra.Command {
	var name, status, desc string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Rename the active project or change its status or description",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ProjectUpdateOptions{}
			flags := cmd.Flags()
			if flags.Changed("name") {
				opts.Name = &name
			}
			if flags.Changed("status") {
				opts.Status = &status
			}
			if flags.Changed("description") {
				opts.Description = &desc
			}
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				opts.ActorID = s.actorID
				p, err := s.engine.UpdateProject(ctx, s.projectID, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), p)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "project %s: %s (%s)\n", p.ID, p.Name, p.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&status, "status", "", "active, paused or archived")
	cmd.Flags().StringVar(&desc, "description", "", "description (empty clears it)")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil || cfg.Project.ID != id {
				cfg = config.Default(id)
			}
			p, err := e.InitProject(cmd.Context(), engine.ProjectInitOptions{
				ID:          id,
				Name:        name,
				Description: desc,
				Config:      cfg,
				ActorID:     viper.GetString("actor-id"),
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), p)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created project %s\n", p.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&name, "name", "", "display name (defaults to the id)")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, closeFn, err := openEngine()
			if err != nil {
				return err
			}
			defer closeFn()
			items, err := e.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), items)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"ID", "Name", "Status", "Created"})
			for _, p := range items {
				tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.CreatedAt})
			}
			tw.Render()
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage the project calendar and scheduling config"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init <project-id>",
		Short: "Write a default planline.yml into the workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(args[0])), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored project config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				cfg, err := s.engine.Repo.GetProjectConfig(ctx, s.projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), cfg)
				}
				out, err := cfg.ToYAML()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(out)
				return err
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Validate a config file and store it for the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Path(viper.GetString("workspace"))
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				cfg.Project.ID = s.projectID
				if err := s.engine.ImportConfig(ctx, s.projectID, cfg, s.actorID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %s into project %s\n", file, s.projectID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (defaults to <workspace>/planline.yml)")
	return cmd
}
