package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/registrar/internal/scheduler"
)

type runSyncRequest struct {
	TenantID string `json:"tenant_id"`
}

// RunSync pushes every due staging document now. An empty body syncs all
// active tenants.
func (s *Server) RunSync(c *gin.Context) {
	var req runSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	summary, err := s.syncRunner.RunOnce(c.Request.Context(), scheduler.RunRequest{
		TenantID:    strings.TrimSpace(req.TenantID),
		TriggeredBy: scheduler.TriggerManual,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":      summary,
		"processed": summary.Processed(),
		"failed":    summary.Failed(),
	})
}

func (s *Server) SyncAccounts(c *gin.Context) {
	tenant, err := s.resolveTenant(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.accountingSvc.SyncAccounts(c.Request.Context(), *tenant)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (s *Server) ListAccounts(c *gin.Context) {
	tenant, err := s.resolveTenant(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	accounts, err := s.accountingSvc.ListAccounts(c.Request.Context(), tenant.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": accounts})
}
