package apperr

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// Handler returns a fiber error handler that renders every failure as the JSON
// envelope and logs internal and gateway failures.
func Handler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, resp := Render(err)
		if status >= fiber.StatusInternalServerError {
			logger.Error("request failed",
				"method", c.Method(),
				"path", c.Path(),
				"status", status,
				"kind", resp.Error.Kind,
				"error", err,
			)
		}
		return c.Status(status).JSON(resp)
	}
}
