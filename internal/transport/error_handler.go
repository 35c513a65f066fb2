package transport

import (
	"errors"

	"github.com/dialware/dialer-engine/internal/domain"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// StatusFromError maps domain errors to HTTP status codes. Unclassified
// errors are internal failures.
func StatusFromError(err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, domain.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, domain.ErrTerminalState),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler renders every failed request as {"error": string}. Domain
// errors that escape a handler unmapped still get the right status.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := StatusFromError(err)

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("request error", fields...)
		} else {
			logger.Warn("request rejected", fields...)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}
