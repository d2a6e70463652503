package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tourney-registry/internal/errs"
)

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusUnprocessableEntity
	case errs.KindDuplicateRegistration, errs.KindAllocationConflict, errs.KindInvalidTransition:
		return http.StatusConflict
	case errs.KindSignatureMismatch:
		return http.StatusPaymentRequired
	case errs.KindGatewayTransport:
		return http.StatusBadGateway
	case errs.KindUnknownEntity:
		return http.StatusNotFound
	case errs.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the tagged error result. Only the user-safe message leaves the
// server; the cause stays in the log.
func (h *handlers) fail(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	body := gin.H{
		"result":    "error",
		"kind":      kind,
		"message":   errs.Message(err),
		"retryable": errs.Retryable(err),
	}
	var e *errs.Error
	if errors.As(err, &e) && e.TeamID != 0 {
		body["teamId"] = e.TeamID
		body["teamNumber"] = e.TeamNumber
	}
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "kind", kind, "err", err)
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"result": "error", "kind": errs.KindValidation, "message": "malformed request: " + err.Error()})
}

func ok(c *gin.Context, status int, fields gin.H) {
	body := gin.H{"result": "ok"}
	for k, v := range fields {
		body[k] = v
	}
	c.JSON(status, body)
}
