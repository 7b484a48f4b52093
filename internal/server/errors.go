package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/rentwise/internal/lock"
	paymentdomain "github.com/smallbiznis/rentwise/internal/payment/domain"
	"github.com/smallbiznis/rentwise/internal/payment/gateway"
	"github.com/smallbiznis/rentwise/internal/payment/link"
	"github.com/smallbiznis/rentwise/internal/payment/receipt"
	processordomain "github.com/smallbiznis/rentwise/internal/processoraccount/domain"
	"github.com/smallbiznis/rentwise/internal/ratelimit"
	tenancydomain "github.com/smallbiznis/rentwise/internal/tenancy/domain"
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
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
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

	if dErr := paymentdomain.AsValidationError(err); dErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   dErr.Field,
					Code:    "invalid_" + dErr.Field,
					Message: dErr.Rule,
				},
			},
		}
	}

	if isValidationError(err) {
		code := err.Error()
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

	if kind, ok := gateway.ProcessorErrorKind(err); ok {
		switch kind {
		case gateway.ErrorKindTransient:
			return http.StatusServiceUnavailable, errorPayload{
				Type:    "processor_unavailable",
				Message: "payment processor unavailable",
			}
		case gateway.ErrorKindAuth:
			return http.StatusBadGateway, errorPayload{
				Type:    "processor_error",
				Message: "payment processor rejected the credentials",
			}
		default:
			return http.StatusBadGateway, errorPayload{
				Type:    "processor_error",
				Message: "payment processor rejected the request",
			}
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, lock.ErrLockHeld):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "operation already in progress",
		}
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger the same type and code the
// client sees.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError && payload.Type == "internal_error" {
		return payload.Type, "unhandled"
	}
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, err.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, paymentdomain.ErrInvalidID),
		errors.Is(err, paymentdomain.ErrInvalidFilter),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, processordomain.ErrInvalidID),
		errors.Is(err, processordomain.ErrInvalidName),
		errors.Is(err, processordomain.ErrInvalidProvider),
		errors.Is(err, processordomain.ErrInvalidSecret),
		errors.Is(err, processordomain.ErrInvalidProperty),
		errors.Is(err, gateway.ErrProviderNotFound):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, paymentdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrNoActiveLease),
		errors.Is(err, processordomain.ErrNotFound),
		errors.Is(err, tenancydomain.ErrTenantNotFound),
		errors.Is(err, tenancydomain.ErrPropertyNotFound),
		errors.Is(err, tenancydomain.ErrSpotNotFound),
		errors.Is(err, tenancydomain.ErrLeaseNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, paymentdomain.ErrDuplicatePeriodPayment),
		errors.Is(err, paymentdomain.ErrAlreadyPaid),
		errors.Is(err, paymentdomain.ErrStatusConflict),
		errors.Is(err, paymentdomain.ErrInvalidTransition),
		errors.Is(err, paymentdomain.ErrTransactionConflict),
		errors.Is(err, receipt.ErrNotPaid),
		errors.Is(err, link.ErrNotCollectible),
		errors.Is(err, processordomain.ErrNoProcessorAccountFound),
		errors.Is(err, processordomain.ErrPropertyAlreadyAssigned),
		errors.Is(err, processordomain.ErrDuplicateName),
		errors.Is(err, processordomain.ErrDuplicateExternalID),
		errors.Is(err, processordomain.ErrDefaultConflict):
		return true
	default:
		return false
	}
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

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
