package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
)

const maxWebhookBytes = 1 << 20

var errPayloadTooLarge = errors.New("payload_too_large")

// HandlePaymentWebhook feeds one provider delivery to the payment service.
// Duplicates are acknowledged with 200 so the provider stops retrying them;
// any other failure returns a non-2xx status so the provider redelivers.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes+1))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(payload) > maxWebhookBytes {
		AbortWithError(c, errPayloadTooLarge)
		return
	}

	err = s.webhookSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	case errors.Is(err, paymentdomain.ErrEventAlreadyProcessed):
		c.JSON(http.StatusOK, gin.H{"status": "ok", "duplicate": true})
	default:
		AbortWithError(c, err)
	}
}
