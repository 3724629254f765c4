package server

import (
	"strconv"
	"strings"

	"nosmobile/internal/middleware"
	"nosmobile/internal/models"

	"github.com/gofiber/fiber/v2"
)

// parseBody decodes the JSON body into dest.
func parseBody(c *fiber.Ctx, dest interface{}) error {
	if err := c.BodyParser(dest); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	return nil
}

// parseMessageID parses a message id sent as a decimal string.
func parseMessageID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, models.NewValidationError("Invalid message ID")
	}
	return id, nil
}

// requireParam returns a non-empty route parameter.
func requireParam(c *fiber.Ctx, name string) (string, error) {
	v := strings.TrimSpace(c.Params(name))
	if v == "" {
		return "", models.NewValidationError("Invalid " + name)
	}
	return v, nil
}

func currentUserID(c *fiber.Ctx) string {
	return middleware.UserID(c)
}
