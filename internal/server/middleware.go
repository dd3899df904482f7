package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	accountingdomain "github.com/smallbiznis/registrar/internal/accounting/domain"
	obscontext "github.com/smallbiznis/registrar/internal/observability/context"
)

// HeaderTenant selects the accounting tenant for admin calls. The default
// connection is used when it is absent.
const HeaderTenant = "X-Tenant-ID"

func (s *Server) resolveTenant(c *gin.Context) (*accountingdomain.Tenant, error) {
	ctx := c.Request.Context()
	tenantID := strings.TrimSpace(c.GetHeader(HeaderTenant))
	if tenantID == "" {
		tenantID = strings.TrimSpace(c.Query("tenant_id"))
	}

	var (
		tenant *accountingdomain.Tenant
		err    error
	)
	if tenantID != "" {
		tenant, err = s.accountingSvc.Tenant(ctx, tenantID)
	} else {
		tenant, err = s.accountingSvc.DefaultTenant(ctx)
	}
	if err != nil {
		return nil, err
	}

	c.Request = c.Request.WithContext(obscontext.WithTenantID(ctx, tenant.ID))
	return tenant, nil
}
