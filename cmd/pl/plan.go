package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/domain"
	"planline/internal/planfile"
	"planline/internal/repo"
)

func planCmd() *cobra.Command {
	p := &cobra.Command{Use: "plan", Short: "Import and export TOML plan files"}
	p.AddCommand(planImportCmd())
	p.AddCommand(planExportCmd())
	return p
}

func planImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Create or update tasks and links from a plan file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := planfile.Load(args[0])
			if err != nil {
				return err
			}
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				res, err := s.engine.ImportPlan(ctx, s.projectID, plan, s.actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tasks: %d created, %d updated; links: %d added, %d skipped\n",
					res.Created, res.Updated, res.LinksAdded, res.LinksSkipped)
				if path := res.Schedule.Result.CriticalPath; len(path) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "critical path: %s\n", strings.Join(path, " -> "))
				}
				return nil
			})
		},
	}
}

func planExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the project as a plan file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				plan, err := s.engine.ExportPlan(ctx, s.projectID)
				if err != nil {
					return err
				}
				var w io.Writer = cmd.OutOrStdout()
				if out != "" && out != "-" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return planfile.Encode(w, plan)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (stdout when empty)")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), func(ctx context.Context, s session) error {
				f.ProjectID = s.projectID
				events, err := s.engine.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Actor"})
				for _, e := range events {
					entity := e.EntityKind
					if e.EntityID != "" {
						entity += ":" + e.EntityID
					}
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, entity, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type, or a prefix pattern like task.*")
	cmd.Flags().StringVar(&f.Since, "since", "", "only events at or after this date or RFC 3339 time")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys for the HTTP server"}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyRemoveCmd())
	return k
}

func newAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "pl_" + hex.EncodeToString(buf), nil
}

func apiKeyCreateCmd() *cobra.Command {
	var actor, name string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key; the key is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(actor) == "" {
				actor = viper.GetString("actor-id")
			}
			key, err := newAPIKey()
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rec := domain.APIKey{ID: uuid.NewString(), ActorID: actor, Name: name, KeyHash: repo.HashAPIKey(key)}
				if ttl > 0 {
					rec.ExpiresAt = time.Now().Add(ttl).UTC().Format(time.RFC3339)
				}
				if err := r.InsertAPIKey(ctx, nil, rec); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), map[string]string{"id": rec.ID, "actor_id": actor, "key": key})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "id:  %s\nkey: %s\n", rec.ID, key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "label")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "expire the key after this long, e.g. 720h")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Created", "Expires", "Last Used"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.CreatedAt, k.ExpiresAt, k.LastUsedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "only keys of this actor")
	return cmd
}

func apiKeyRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
				return nil
			})
		},
	}
}
