package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/qwikcal/qwikcal/internal/pkg/blobstore"
	"github.com/qwikcal/qwikcal/internal/pkg/calendar"
	"github.com/qwikcal/qwikcal/internal/pkg/pipeline"
)

// errorResponse maps a domain error onto an HTTP status and a stable error
// code clients can switch on.
func errorResponse(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, pipeline.ErrInvalidSubmission), errors.Is(err, calendar.ErrValidation):
		return jsonError(c, fiber.StatusBadRequest, "invalid_submission", err.Error())
	case errors.Is(err, pipeline.ErrEntitlementRequired):
		return jsonError(c, fiber.StatusForbidden, "entitlement_required", "Premium subscription required")
	case errors.Is(err, pipeline.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, blobstore.ErrNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "Resource not found")
	default:
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Something went wrong")
	}
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}
