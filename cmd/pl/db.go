package main

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"planline/internal/db"
	"planline/internal/migrate"
)

func dbCmd() *cobra.Command {
	d := &cobra.Command{Use: "db", Short: "Inspect and migrate the workspace database"}
	d.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			st, err := migrate.Status(conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cmd.OutOrStdout(), st)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"Version", "Name", "Applied"})
			for _, a := range st.Applied {
				tw.AppendRow(table.Row{a.Version, a.Name, a.AppliedAt})
			}
			for _, m := range st.Pending {
				tw.AppendRow(table.Row{m.Version, m.Name, warning("pending")})
			}
			tw.Render()
			return nil
		},
	})
	d.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database %s is up to date\n", db.Path(viper.GetString("workspace")))
			return nil
		},
	})
	return d
}
