package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			st, closeStore, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()
			if err := st.Ping(cmd.Context()); err != nil {
				return fmt.Errorf("database unreachable after migrating: %w", err)
			}
			if cfg.UsePostgres() {
				fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied to postgres")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Migrations applied to sqlite database %s\n", cfg.SQLitePath)
			}
			return nil
		},
	}
}
