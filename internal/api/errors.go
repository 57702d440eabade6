package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/permitguard/permitguard/internal/httputil"
	"github.com/permitguard/permitguard/internal/metrics"
	"github.com/permitguard/permitguard/internal/models"
)

// Error code constants for standardized API responses.
const (
	ErrCodeInvalidRequest  = "invalid_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeInternalError   = "internal_error"
	ErrCodeUnauthorized    = "unauthorized"
	ErrCodeForbidden       = "forbidden"
	ErrCodeConflict        = "conflict"
	ErrCodeLocked          = "locked"
	ErrCodeInvalidCode     = "invalid_code"
	ErrCodeValidationError = "validation_error"
	ErrCodeUnavailable     = "audit_unavailable"
)

// respondError writes a standardized JSON error response, pulling the request
// ID from the Gin context (set by the request ID middleware).
func respondError(c *gin.Context, status int, code, message string) {
	metrics.ErrorsTotal.WithLabelValues(code).Inc()
	httputil.RespondError(c, status, code, message)
}

// respondServiceError maps a service error onto its HTTP status. Unknown
// errors are logged under action and reported as 500 without detail.
func respondServiceError(c *gin.Context, log *logrus.Logger, action string, err error) {
	var (
		vErr    *models.ValidationError
		lockErr *models.LockoutError
	)

	switch {
	case errors.As(err, &vErr):
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, vErr.Error())
	case errors.As(err, &lockErr):
		metrics.ErrorsTotal.WithLabelValues(ErrCodeLocked).Inc()
		httputil.RespondErrorDetails(c, http.StatusLocked, ErrCodeLocked, lockErr.Error(), map[string]any{
			"locked_until":      lockErr.LockedUntil,
			"remaining_minutes": lockErr.RemainingMinutes,
		})
	case errors.Is(err, models.ErrInvalidCode):
		respondError(c, http.StatusUnauthorized, ErrCodeInvalidCode, err.Error())
	case errors.Is(err, models.ErrNotFound):
		respondError(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, models.ErrSelfApproval):
		respondError(c, http.StatusForbidden, ErrCodeForbidden, models.ErrSelfApproval.Error())
	case errors.Is(err, models.ErrDuplicateVote),
		errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrDuplicateKey):
		respondError(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, models.ErrAuditWriteFailed):
		log.WithError(err).WithField("action", action).Error("audit unavailable")
		respondError(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "audit trail unavailable, change not applied")
	default:
		log.WithError(err).WithField("action", action).Error("request failed")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
	}
}
