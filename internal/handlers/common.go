// Package handlers exposes the medication cache to the UI over HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dinakaranthiru/meds-buddy-check-tracker/internal/middleware"
	"github.com/dinakaranthiru/meds-buddy-check-tracker/pkg/api"
	appErrors "github.com/dinakaranthiru/meds-buddy-check-tracker/pkg/errors"
)

// statusFor maps an error to its HTTP status code.
func statusFor(err error) int {
	switch {
	case appErrors.IsValidation(err):
		return http.StatusBadRequest
	case appErrors.IsNotAuthenticated(err):
		return http.StatusUnauthorized
	case appErrors.IsRemoteWriteFailed(err), appErrors.IsRemoteReadFailed(err):
		return http.StatusBadGateway
	case appErrors.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleServiceError converts service errors to appropriate HTTP responses
func handleServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := statusFor(err)
	fields := []zap.Field{
		zap.String("request_id", middleware.GetRequestIDFromRequest(r)),
		zap.String("type", string(appErrors.TypeOf(err))),
		zap.Error(err),
	}

	if status == http.StatusInternalServerError {
		// Full details stay in the log
		logger.Error("Internal error", fields...)
		api.Error(w, status, "An internal error occurred")
		return
	}

	logger.Warn("Request failed", fields...)
	api.Error(w, status, err.Error())
}
