package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	accountingdomain "github.com/smallbiznis/registrar/internal/accounting/domain"
	accountingservice "github.com/smallbiznis/registrar/internal/accounting/service"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func connectCmd() *cobra.Command {
	var (
		tenantID  string
		name      string
		isDefault bool
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Record an authorised Xero tenant so sync runs include it",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID = strings.TrimSpace(tenantID)
			if tenantID == "" {
				return errors.New("--tenant-id is required")
			}
			var accounting *accountingservice.Service
			return runOnce(cmd.Context(), func(ctx context.Context) error {
				tenant := accountingdomain.Tenant{ID: tenantID, Name: strings.TrimSpace(name)}
				if err := accounting.Connect(ctx, tenant, isDefault); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "connected tenant %s (default=%t)\n", tenant.ID, isDefault)
				return nil
			}, fx.Populate(&accounting))
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant-id", "", "Xero tenant id")
	cmd.Flags().StringVar(&name, "name", "", "organisation name shown in logs")
	cmd.Flags().BoolVar(&isDefault, "default", false, "adopt documents staged without a tenant")
	return cmd
}
