package server

import (
	"errors"
	"net/http"

	invoicedomain "github.com/croftlabs/croft/internal/invoice/domain"
	paymentdomain "github.com/croftlabs/croft/internal/payment/domain"
	plandomain "github.com/croftlabs/croft/internal/plan/domain"
	provisioningdomain "github.com/croftlabs/croft/internal/provisioning/domain"
	subscriptiondomain "github.com/croftlabs/croft/internal/subscription/domain"
	tenantdomain "github.com/croftlabs/croft/internal/tenant/domain"
	usagedomain "github.com/croftlabs/croft/internal/usage/domain"
	"github.com/gin-gonic/gin"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	// ExistingTenant names the conflicting workspace on duplicate
	// signup. No other tenant data leaks through it.
	ExistingTenant string `json:"existing_tenant,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
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

func mapError(err error) (int, errorPayload) {
	var duplicate *provisioningdomain.DuplicateAccountError
	if errors.As(err, &duplicate) {
		return http.StatusConflict, errorPayload{
			Type:           "conflict",
			Code:           "duplicate_account",
			Message:        "a live workspace already exists for this payer email",
			ExistingTenant: duplicate.ExistingTenant,
		}
	}

	switch {
	case errors.Is(err, provisioningdomain.ErrInvalidName),
		errors.Is(err, provisioningdomain.ErrInvalidEmail),
		errors.Is(err, plandomain.ErrUnknownTier),
		errors.Is(err, subscriptiondomain.ErrInvalidBillingCycle),
		errors.Is(err, usagedomain.ErrUnknownResource),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		return http.StatusBadRequest, errorPayload{
			Type: "validation", Code: err.Error(), Message: "the request could not be accepted",
		}

	case errors.Is(err, tenantdomain.ErrSchemaNameTaken),
		errors.Is(err, subscriptiondomain.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{
			Type: "conflict", Code: err.Error(), Message: "the current state conflicts with the request",
		}

	case errors.Is(err, tenantdomain.ErrTenantNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, paymentdomain.ErrGatewayNotFound):
		return http.StatusNotFound, errorPayload{
			Type: "not_found", Code: err.Error(), Message: "no matching record",
		}

	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type: "security", Code: "invalid_signature", Message: "webhook signature rejected",
		}

	case errors.Is(err, tenantdomain.ErrPlatformSchema):
		return http.StatusForbidden, errorPayload{
			Type: "forbidden", Code: "platform_schema", Message: "the platform workspace cannot be targeted",
		}

	default:
		// Underlying cause stays in logs only.
		return http.StatusInternalServerError, errorPayload{
			Type: "internal", Code: "internal_error", Message: "something went wrong",
		}
	}
}
