package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/ringkv/internal/cluster"
	"github.com/soltixdb/ringkv/internal/logging"
	"github.com/soltixdb/ringkv/internal/models"
	"github.com/soltixdb/ringkv/internal/storage"
)

type errorMapping struct {
	err    error
	status int
	code   string
}

// First match wins.
var errorMappings = []errorMapping{
	{storage.ErrNotFound, fiber.StatusNotFound, "NOT_FOUND"},
	{cluster.ErrLocked, fiber.StatusLocked, "LOCKED"},
	{cluster.ErrNotOwner, fiber.StatusMisdirectedRequest, "NOT_OWNER"},
	{cluster.ErrNotServing, fiber.StatusServiceUnavailable, "NOT_SERVING"},
	{cluster.ErrRingInconsistency, fiber.StatusConflict, "RING_INCONSISTENCY"},
	{cluster.ErrProtocol, fiber.StatusBadRequest, "PROTOCOL_ERROR"},
	{cluster.ErrRejected, fiber.StatusBadGateway, "REJECTED"},
	{cluster.ErrTransferFailure, fiber.StatusBadGateway, "TRANSFER_FAILURE"},
	{cluster.ErrNodeUnreachable, fiber.StatusBadGateway, "NODE_UNREACHABLE"},
	{cluster.ErrTimeout, fiber.StatusGatewayTimeout, "TIMEOUT"},
}

// StatusFor maps an error onto an HTTP status and an error code
func StatusFor(err error) (int, string) {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code, "ERROR"
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return fiber.StatusInternalServerError, "INTERNAL"
}

// ErrorHandler returns a custom error handler middleware
func ErrorHandler(logger *logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, errCode := StatusFor(err)
		message := err.Error()
		if code == fiber.StatusInternalServerError && errCode == "INTERNAL" {
			message = "Internal Server Error"
		}

		if code >= fiber.StatusInternalServerError {
			logger.Error("Request error",
				"path", c.Path(),
				"method", c.Method(),
				"status", code,
				"error", err,
			)
		} else {
			logger.Debug("Request rejected",
				"path", c.Path(),
				"method", c.Method(),
				"status", code,
				"error", err,
			)
		}

		return c.Status(code).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    errCode,
				Message: message,
				Path:    c.Path(),
			},
		})
	}
}
