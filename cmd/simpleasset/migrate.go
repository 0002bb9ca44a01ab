package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-asset/pkg/simpleasset/config"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.DatabaseType == config.DatabaseMemory {
				fmt.Fprintln(out, "memory database: nothing to migrate")
				return nil
			}

			applied, err := cfg.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(out, "schema up to date")
				return nil
			}
			for _, name := range applied {
				fmt.Fprintf(out, "applied %s\n", name)
			}
			return nil
		},
	}
}
