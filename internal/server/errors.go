package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountingdomain "github.com/smallbiznis/registrar/internal/accounting/domain"
	paymentdomain "github.com/smallbiznis/registrar/internal/payment/domain"
	refunddomain "github.com/smallbiznis/registrar/internal/refund/domain"
	regdomain "github.com/smallbiznis/registrar/internal/registration/domain"
	"github.com/smallbiznis/registrar/internal/scheduler"
	stagingdomain "github.com/smallbiznis/registrar/internal/staging/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// validationSentinels are input errors reported as 400 with their code.
var validationSentinels = []error{
	ErrInvalidRequest,
	refunddomain.ErrInvalidRequest,
	refunddomain.ErrDiscountCodeRequired,
	regdomain.ErrInvalidRequest,
	stagingdomain.ErrInvalidPageToken,
	paymentdomain.ErrInvalidProvider,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidSignature,
	paymentdomain.ErrInvalidEvent,
	paymentdomain.ErrMissingPaymentIntent,
}

// conflictSentinels are precondition failures on the current state of a row.
var conflictSentinels = []error{
	ErrConflict,
	refunddomain.ErrInvalidRefundStatus,
	refunddomain.ErrRefundExceedsBalance,
	refunddomain.ErrPaymentNotRefundable,
	regdomain.ErrCategoryFull,
	regdomain.ErrCategoryMismatch,
	regdomain.ErrSameCategory,
	regdomain.ErrRegistrationNotPaid,
	stagingdomain.ErrInvalidTransition,
	stagingdomain.ErrNotDraft,
	stagingdomain.ErrPaymentNotCompleted,
	stagingdomain.ErrRefundExceedsSource,
	stagingdomain.ErrInvalidRefundAmount,
	stagingdomain.ErrUnbalancedInvoice,
	stagingdomain.ErrUnsupportedReason,
}

var notFoundSentinels = []error{
	ErrNotFound,
	refunddomain.ErrRefundNotFound,
	regdomain.ErrRegistrationNotFound,
	regdomain.ErrCategoryNotFound,
	regdomain.ErrSeasonNotFound,
	stagingdomain.ErrInvoiceNotFound,
	stagingdomain.ErrSourceInvoiceNotFound,
	paymentdomain.ErrPaymentNotFound,
	paymentdomain.ErrProviderNotFound,
	accountingdomain.ErrTenantNotFound,
	gorm.ErrRecordNotFound,
}

var unavailableSentinels = []error{
	ErrServiceUnavailable,
	accountingdomain.ErrNoDefaultTenant,
	accountingdomain.ErrNotConfigured,
	paymentdomain.ErrRefundGatewayDisabled,
	scheduler.ErrNoActiveTenants,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if sentinel := matchSentinel(err, validationSentinels); sentinel != nil {
		code := sentinel.Error()
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(err, sentinel),
				},
			},
		}
	}

	var missingCode *stagingdomain.MissingAccountingCodeError
	var remoteErr *accountingdomain.RemoteError

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, errPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "payload_too_large",
			Message: "payload too large",
		}
	case errors.As(err, &missingCode):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "configuration_error",
			Code:    "missing_accounting_code",
			Message: missingCode.Error(),
		}
	case matchSentinel(err, conflictSentinels) != nil:
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    matchSentinel(err, conflictSentinels).Error(),
			Message: "conflict",
		}
	case matchSentinel(err, notFoundSentinels) != nil:
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    matchSentinel(err, notFoundSentinels).Error(),
			Message: "not found",
		}
	case matchSentinel(err, unavailableSentinels) != nil:
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Code:    matchSentinel(err, unavailableSentinels).Error(),
			Message: "service unavailable",
		}
	case errors.As(err, &remoteErr):
		return http.StatusBadGateway, errorPayload{
			Type:    "remote_error",
			Message: remoteErr.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same type and code the
// client receives.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func matchSentinel(err error, sentinels []error) error {
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

// validationErrorMessage keeps the detail a service appended to a wrapped
// sentinel, such as the failing validator tag.
func validationErrorMessage(err error, sentinel error) string {
	detail := strings.TrimSpace(strings.TrimPrefix(err.Error(), sentinel.Error()))
	detail = strings.TrimSpace(strings.TrimPrefix(detail, ":"))
	if detail != "" {
		return detail
	}
	if sentinel.Error() == "invalid_request" {
		return "invalid request"
	}
	return "invalid value"
}
