package api

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/deskline/support-chat/internal/apperror"
	"github.com/deskline/support-chat/internal/observability"
)

// RegisterMiddlewares attaches the request timeout, error rendering and
// request logging middlewares.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, timeout time.Duration) {
	if timeout > 0 {
		app.Use(requestTimeoutMiddleware(timeout))
	}
	app.Use(errorHandlingMiddleware(logger))
	app.Use(observability.RequestLogger(logger))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// errorHandlingMiddleware renders every error, and recovered panics, as
// {"error": {"code", "message"}} with the error's HTTP status.
func errorHandlingMiddleware(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperror.Internal(nil)
			}
			if err != nil {
				appErr := toAppError(err)
				if appErr.HTTPStatus >= fiber.StatusInternalServerError {
					logger.Error("request failed", zap.Error(appErr))
				}
				c.Status(appErr.HTTPStatus)
				_ = c.JSON(fiber.Map{"error": fiber.Map{
					"code":    appErr.Code,
					"message": appErr.Message,
				}})
				err = nil
			}
		}()
		return c.Next()
	}
}

// toAppError maps Fiber's own errors (unknown route, bad method) onto the
// application taxonomy and everything else through apperror.From.
func toAppError(err error) *apperror.Error {
	var fe *fiber.Error
	if !errors.As(err, &fe) {
		return apperror.From(err)
	}
	kind := apperror.KindValidation
	if fe.Code >= fiber.StatusInternalServerError {
		kind = apperror.KindInternal
	}
	e := apperror.New(kind, fe.Message)
	e.HTTPStatus = fe.Code
	if fe.Code == fiber.StatusNotFound {
		e.Code = "not_found"
	}
	return e
}
