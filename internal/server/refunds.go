package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	refunddomain "github.com/smallbiznis/registrar/internal/refund/domain"
	refundservice "github.com/smallbiznis/registrar/internal/refund/service"
)

type previewRefundRequest struct {
	PaymentID      string `json:"payment_id"`
	Type           string `json:"type"`
	Amount         int64  `json:"amount"`
	DiscountCodeID string `json:"discount_code_id"`
	Reason         string `json:"reason"`
}

func (s *Server) PreviewRefund(c *gin.Context) {
	var req previewRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	paymentID, err := parseOptionalSnowflakeID(req.PaymentID)
	if err != nil || paymentID == nil {
		AbortWithError(c, newValidationError("payment_id", "invalid_payment_id", "invalid payment_id"))
		return
	}
	discountCodeID, err := parseOptionalSnowflakeID(req.DiscountCodeID)
	if err != nil {
		AbortWithError(c, newValidationError("discount_code_id", "invalid_discount_code_id", "invalid discount_code_id"))
		return
	}

	tenant, err := s.resolveTenant(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	preview, err := s.refundSvc.Preview(c.Request.Context(), tenant.ID, refundservice.PreviewRequest{
		PaymentID:      *paymentID,
		Type:           refunddomain.Type(strings.TrimSpace(req.Type)),
		Amount:         req.Amount,
		DiscountCodeID: discountCodeID,
		Reason:         strings.TrimSpace(req.Reason),
		CreatedBy:      subjectFromContext(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": preview})
}

func (s *Server) GetRefund(c *gin.Context) {
	id, ok := pathSnowflakeID(c)
	if !ok {
		return
	}
	refund, err := s.refundSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": refund})
}

func (s *Server) ConfirmRefund(c *gin.Context) {
	id, ok := pathSnowflakeID(c)
	if !ok {
		return
	}
	refund, err := s.refundSvc.Confirm(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": refund})
}

func (s *Server) CancelRefund(c *gin.Context) {
	id, ok := pathSnowflakeID(c)
	if !ok {
		return
	}
	refund, err := s.refundSvc.Cancel(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": refund})
}

func pathSnowflakeID(c *gin.Context) (snowflake.ID, bool) {
	id, err := parseOptionalSnowflakeID(c.Param("id"))
	if err != nil || id == nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, false
	}
	return *id, true
}
