package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// statusFor maps an orchestrator error to its HTTP status.
func statusFor(se *service.Error) int {
	switch se.Kind {
	case service.KindValidation:
		if se.Code == response.ErrAssessmentNotFound || se.Code == response.ErrSessionNotFound {
			return http.StatusNotFound
		}
		return http.StatusBadRequest
	case service.KindState:
		return http.StatusConflict
	case service.KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusServiceUnavailable
	}
}

// failService writes the error envelope for an orchestrator error.
func failService(c *gin.Context, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	status := statusFor(se)
	details := map[string]interface{}{}
	if se.RemainingAttempts != nil {
		details["remaining_attempts"] = *se.RemainingAttempts
	}
	if se.RetryAfter > 0 {
		secs := int(math.Ceil(se.RetryAfter.Seconds()))
		details["retry_after_seconds"] = secs
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	if se.Retryable() {
		details["retryable"] = true
	}

	if len(details) == 0 {
		response.Fail(c, status, se.Code)
		return
	}
	response.FailWithDetails(c, status, se.Code, details)
}
