package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	automationdomain "github.com/permitwise/billingcore/internal/automation/domain"
	billingscheduledomain "github.com/permitwise/billingcore/internal/billingschedule/domain"
	invoicingdomain "github.com/permitwise/billingcore/internal/invoicing/domain"
	promisedomain "github.com/permitwise/billingcore/internal/promise/domain"
	retainerdomain "github.com/permitwise/billingcore/internal/retainer/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrInvalidRequest = errors.New("invalid_request")
	ErrNotFound       = errors.New("not_found")
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

func mapError(err error) (int, errorPayload) {
	switch {
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
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
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, retainerdomain.ErrInvalidOrganization),
		errors.Is(err, retainerdomain.ErrInvalidClient),
		errors.Is(err, retainerdomain.ErrInvalidAmount),
		errors.Is(err, retainerdomain.ErrInvalidInvoice),
		errors.Is(err, automationdomain.ErrInvalidOrganization),
		errors.Is(err, automationdomain.ErrInvalidRuleConfig),
		errors.Is(err, billingscheduledomain.ErrInvalidOrganization),
		errors.Is(err, billingscheduledomain.ErrInvalidSchedule),
		errors.Is(err, promisedomain.ErrInvalidOrganization),
		errors.Is(err, promisedomain.ErrInvalidPromise):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, retainerdomain.ErrRetainerNotFound),
		errors.Is(err, automationdomain.ErrRuleNotFound),
		errors.Is(err, automationdomain.ErrLogNotFound),
		errors.Is(err, billingscheduledomain.ErrScheduleNotFound),
		errors.Is(err, promisedomain.ErrPromiseNotFound),
		errors.Is(err, invoicingdomain.ErrInvoiceNotFound),
		errors.Is(err, invoicingdomain.ErrClientNotFound),
		errors.Is(err, invoicingdomain.ErrProjectNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// conflicts are business-state rejections: the request was well formed but the
// aggregate cannot accept it in its current state.
func isConflictError(err error) bool {
	switch {
	case errors.Is(err, retainerdomain.ErrRetainerClosed),
		errors.Is(err, retainerdomain.ErrInsufficientBalance),
		errors.Is(err, automationdomain.ErrInvalidTransition),
		errors.Is(err, promisedomain.ErrPromiseTerminal):
		return true
	default:
		return false
	}
}
