package main

import (
	"github.com/smallbiznis/registrar/internal/scheduler"
	"github.com/smallbiznis/registrar/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the admin API and webhooks; runs periodic sync when enabled",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := fx.New(
				coreModules(),
				server.Module,
				scheduler.PeriodicModule,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}
