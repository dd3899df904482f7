package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/registrar/internal/audit/domain"
	stagingdomain "github.com/smallbiznis/registrar/internal/staging/domain"
	stagingservice "github.com/smallbiznis/registrar/internal/staging/service"
	"github.com/smallbiznis/registrar/pkg/db/pagination"
	"go.uber.org/zap"
)

type listStagingInvoicesQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	TenantID  string `form:"tenant_id"`
	Status    string `form:"status"`
	Reason    string `form:"reason"`
	UserID    string `form:"user_id"`
}

func (s *Server) ListStagingInvoices(c *gin.Context) {
	var query listStagingInvoicesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := stagingdomain.Status(strings.ToLower(strings.TrimSpace(query.Status)))
	if status != "" && !validStagingStatus(status) {
		AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
		return
	}

	resp, err := s.stagingSvc.List(c.Request.Context(), stagingservice.ListRequest{
		TenantID: strings.TrimSpace(query.TenantID),
		Status:   status,
		Reason:   stagingdomain.Reason(strings.TrimSpace(query.Reason)),
		UserID:   strings.TrimSpace(query.UserID),
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}

func (s *Server) GetStagingInvoice(c *gin.Context) {
	id, ok := pathSnowflakeID(c)
	if !ok {
		return
	}
	invoice, err := s.stagingSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

// IgnoreStagingInvoice parks a document so the sync run never pushes it.
func (s *Server) IgnoreStagingInvoice(c *gin.Context) {
	id, ok := pathSnowflakeID(c)
	if !ok {
		return
	}
	invoice, err := s.stagingSvc.Ignore(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.auditStaging(c, "staging_invoice.ignored", invoice)
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

// RequeueStagingInvoice makes a failed or ignored document due on the next run.
func (s *Server) RequeueStagingInvoice(c *gin.Context) {
	id, ok := pathSnowflakeID(c)
	if !ok {
		return
	}
	invoice, err := s.stagingSvc.Requeue(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.auditStaging(c, "staging_invoice.requeued", invoice)
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) auditStaging(c *gin.Context, action string, invoice *stagingdomain.Invoice) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	subject := subjectFromContext(c)
	targetID := invoice.ID.String()
	if err := s.auditSvc.AuditLog(c.Request.Context(), string(auditdomain.ActorTypeAdmin), &subject, action, "staging_invoice", &targetID, map[string]any{
		"status":    string(invoice.Status),
		"tenant_id": invoice.TenantID,
	}); err != nil {
		s.log.Warn("failed to audit staging change", zap.String("action", action), zap.Error(err))
	}
}

func validStagingStatus(status stagingdomain.Status) bool {
	switch status {
	case stagingdomain.StatusDraft,
		stagingdomain.StatusStaged,
		stagingdomain.StatusPending,
		stagingdomain.StatusSynced,
		stagingdomain.StatusFailed,
		stagingdomain.StatusIgnore:
		return true
	default:
		return false
	}
}
