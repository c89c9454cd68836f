package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	bookingdomain "github.com/smallbiznis/warmline/internal/booking/domain"
	queuedomain "github.com/smallbiznis/warmline/internal/callqueue/domain"
	capacitydomain "github.com/smallbiznis/warmline/internal/capacity/domain"
	dispatchdomain "github.com/smallbiznis/warmline/internal/dispatch/domain"
	lifecycledomain "github.com/smallbiznis/warmline/internal/lifecycle/domain"
	paymentdomain "github.com/smallbiznis/warmline/internal/payment/domain"
	"github.com/smallbiznis/warmline/internal/plan"
	voicedomain "github.com/smallbiznis/warmline/internal/providers/voice/domain"
	trialdomain "github.com/smallbiznis/warmline/internal/trial/domain"
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
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
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

	if isValidationError(err) {
		code := validationErrorCode(err)
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
		errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, voicedomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, dispatchdomain.ErrPaymentPending):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_required",
			Message: "payment has not completed",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, trialdomain.ErrAlreadyRedeemed),
		errors.Is(err, dispatchdomain.ErrCallInProgress),
		errors.Is(err, dispatchdomain.ErrBookingTerminal),
		errors.Is(err, dispatchdomain.ErrDispatchConflict),
		errors.Is(err, capacitydomain.ErrDuplicateCall),
		errors.Is(err, paymentdomain.ErrTxRefAlreadyApplied):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, trialdomain.ErrAlreadyRedeemed):
		return "free trial already used for this phone number"
	case errors.Is(err, dispatchdomain.ErrCallInProgress):
		return "a call is already in progress for this booking"
	case errors.Is(err, dispatchdomain.ErrBookingTerminal):
		return "booking is already closed"
	default:
		return "conflict"
	}
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
		errors.Is(err, bookingdomain.ErrInvalidName),
		errors.Is(err, bookingdomain.ErrInvalidPhone),
		errors.Is(err, bookingdomain.ErrInvalidEmail),
		errors.Is(err, bookingdomain.ErrInvalidID),
		errors.Is(err, plan.ErrUnknownPlan),
		errors.Is(err, trialdomain.ErrInvalidPhone),
		errors.Is(err, queuedomain.ErrInvalidEntry),
		errors.Is(err, paymentdomain.ErrInvalidProvider),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, paymentdomain.ErrInvalidBookingRef):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, bookingdomain.ErrNotFound),
		errors.Is(err, queuedomain.ErrEntryNotFound),
		errors.Is(err, capacitydomain.ErrAccountNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
		errors.Is(err, lifecycledomain.ErrUnknownCall),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if code == "unknown_plan" {
		return "plan_type"
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
	case "unknown_plan":
		return "unknown plan type"
	default:
		return "invalid value"
	}
}
