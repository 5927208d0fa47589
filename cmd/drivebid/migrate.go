// README: migrate subcommand.
package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"drivebid/internal/infra"
)

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			if err := infra.MigrateUp(a.cfg.DB.DSN); err != nil {
				return err
			}
			a.log.Info("migrations applied")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (all when steps is omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			steps := 0
			if len(args) == 1 {
				if steps, err = strconv.Atoi(args[0]); err != nil {
					return err
				}
			}
			if err := infra.MigrateDown(a.cfg.DB.DSN, steps); err != nil {
				return err
			}
			a.log.Info("migrations rolled back", "steps", steps)
			return nil
		},
	})
	return cmd
}
