package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	accountingdomain "github.com/smallbiznis/registrar/internal/accounting/domain"
	accountingservice "github.com/smallbiznis/registrar/internal/accounting/service"
	"github.com/smallbiznis/registrar/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func syncCmd() *cobra.Command {
	var (
		tenantID string
		strict   bool
	)
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push every due staging document to Xero once",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sched *scheduler.Scheduler
			return runOnce(cmd.Context(), func(ctx context.Context) error {
				summary, err := sched.RunOnce(ctx, scheduler.RunRequest{
					TenantID:    strings.TrimSpace(tenantID),
					TriggeredBy: scheduler.TriggerCLI,
				})
				if summary != nil {
					if werr := writeJSON(cmd.OutOrStdout(), summary); werr != nil {
						return werr
					}
				}
				if err != nil {
					return err
				}
				if strict && summary.Failed() > 0 {
					return fmt.Errorf("sync finished with %d failed records", summary.Failed())
				}
				return nil
			}, fx.Populate(&sched))
		},
	}
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "limit the run to one accounting tenant")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any record failed")
	return cmd
}

func syncAccountsCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "sync-accounts",
		Short: "Refresh the cached chart of accounts from Xero",
		RunE: func(cmd *cobra.Command, args []string) error {
			var accounting *accountingservice.Service
			return runOnce(cmd.Context(), func(ctx context.Context) error {
				tenants, err := accountTenants(ctx, accounting, strings.TrimSpace(tenantID))
				if err != nil {
					return err
				}
				results := make([]*accountingdomain.SyncAccountsResult, 0, len(tenants))
				for _, tenant := range tenants {
					result, err := accounting.SyncAccounts(ctx, tenant)
					if err != nil {
						return fmt.Errorf("tenant %s: %w", tenant.ID, err)
					}
					results = append(results, result)
				}
				return writeJSON(cmd.OutOrStdout(), results)
			}, fx.Populate(&accounting))
		},
	}
	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "refresh one tenant instead of every active one")
	return cmd
}

func accountTenants(ctx context.Context, accounting *accountingservice.Service, tenantID string) ([]accountingdomain.Tenant, error) {
	if tenantID != "" {
		tenant, err := accounting.Tenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		return []accountingdomain.Tenant{*tenant}, nil
	}
	return accounting.ActiveTenants(ctx)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
