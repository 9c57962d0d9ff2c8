package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/usermanager/internal/notifications"
	"github.com/charlesng35/usermanager/internal/services"
	appErrors "github.com/charlesng35/usermanager/pkg/errors"
	"github.com/charlesng35/usermanager/pkg/logger"
	"github.com/charlesng35/usermanager/pkg/response"
	appValidator "github.com/charlesng35/usermanager/pkg/validator"
)

// toAppError maps service errors onto the client-facing error catalogue.
func toAppError(err error) *appErrors.AppError {
	var rateErr *notifications.RateLimitedError
	var transportErr *notifications.TransportError

	switch {
	case errors.Is(err, services.ErrValidation):
		return appErrors.NewValidation(appValidator.FirstMessage(err))
	case errors.Is(err, services.ErrAlreadyRegistered):
		return appErrors.ErrAlreadyRegistered
	case errors.Is(err, services.ErrInvalidCredentials):
		return appErrors.ErrInvalidCredentials
	case errors.Is(err, services.ErrTokenInvalid):
		return appErrors.ErrResetTokenInvalid
	case errors.As(err, &rateErr):
		return appErrors.ErrRateLimit.WithInternal(err)
	case errors.As(err, &transportErr):
		return appErrors.ErrEmailTransport.WithInternal(err)
	default:
		return appErrors.ErrInternalServer.WithInternal(err)
	}
}

func respondError(c *gin.Context, err error) {
	respondAppError(c, toAppError(err), err)
}

// respondGeneric reports anything but a validation problem as a plain internal error.
func respondGeneric(c *gin.Context, err error) {
	if errors.Is(err, services.ErrValidation) {
		respondError(c, err)
		return
	}
	respondAppError(c, appErrors.ErrInternalServer.WithInternal(err), err)
}

func respondAppError(c *gin.Context, appErr *appErrors.AppError, err error) {
	if appErr.StatusCode >= 500 {
		logger.WithModule("http").Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", appErr.Code),
			zap.Error(err),
		)
	}
	response.Error(c, appErr)
}
