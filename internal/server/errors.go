package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	invoicedomain "github.com/smallbiznis/atelier/internal/invoice/domain"
	organizationdomain "github.com/smallbiznis/atelier/internal/organization/domain"
	paymentdomain "github.com/smallbiznis/atelier/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/atelier/internal/pricing/domain"
	quotedomain "github.com/smallbiznis/atelier/internal/quote/domain"
	subscriptiondomain "github.com/smallbiznis/atelier/internal/subscription/domain"
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
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConflict       = errors.New("conflict")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

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

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isUpstreamError(err):
		return http.StatusBadGateway, errorPayload{
			Type:    "payment_processor_error",
			Message: "payment processor request failed",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

// validationErrors maps domain input sentinels to their client-facing code.
var validationErrors = []error{
	ErrInvalidRequest,
	pricingdomain.ErrInvalidFeature,
	subscriptiondomain.ErrNoBillableFeatures,
	subscriptiondomain.ErrInvalidTrialDays,
	organizationdomain.ErrInvalidName,
	organizationdomain.ErrInvalidEmail,
	organizationdomain.ErrInvalidInvoicePrefix,
	organizationdomain.ErrInvalidOrganization,
	quotedomain.ErrInvalidSubject,
	invoicedomain.ErrInvalidLineItems,
	invoicedomain.ErrInvalidAmount,
	invoicedomain.ErrInvalidDueDate,
	invoicedomain.ErrInvalidKind,
	paymentdomain.ErrInvalidPayload,
	paymentdomain.ErrInvalidEvent,
	paymentdomain.ErrProviderNotFound,
}

func validationErrorCode(err error) (string, bool) {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return target.Error(), true
		}
	}
	return "", false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, organizationdomain.ErrOrganizationNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, quotedomain.ErrQuoteNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, subscriptiondomain.ErrSubscriptionExists),
		errors.Is(err, subscriptiondomain.ErrInvalidTransition),
		errors.Is(err, subscriptiondomain.ErrNotReactivatable),
		errors.Is(err, invoicedomain.ErrInvalidInvoiceStatus),
		errors.Is(err, invoicedomain.ErrVersionConflict),
		errors.Is(err, organizationdomain.ErrVersionConflict):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	for _, target := range []error{
		subscriptiondomain.ErrSubscriptionExists,
		subscriptiondomain.ErrInvalidTransition,
		subscriptiondomain.ErrNotReactivatable,
		invoicedomain.ErrInvalidInvoiceStatus,
	} {
		if errors.Is(err, target) {
			return strings.ReplaceAll(target.Error(), "_", " ")
		}
	}
	return "conflict"
}

func isUpstreamError(err error) bool {
	switch {
	case errors.Is(err, subscriptiondomain.ErrPaymentSetup),
		errors.Is(err, subscriptiondomain.ErrProcessorCall),
		errors.Is(err, invoicedomain.ErrInvoiceFinalize),
		errors.Is(err, invoicedomain.ErrInvoiceSend),
		errors.Is(err, invoicedomain.ErrProcessorCall):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	switch code {
	case "invalid_request":
		return "request"
	case "no_billable_features":
		return "features"
	case "provider_not_found":
		return "provider"
	}
	field := strings.TrimPrefix(code, "invalid_")
	field = strings.TrimPrefix(field, "invoice_")
	if field == "feature" {
		return "features"
	}
	return field
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "no_billable_features":
		return "at least one billable feature is required"
	default:
		return "invalid value"
	}
}

// classifyErrorForLog gives the request logger a stable type and code.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, err.Error()
}
