package server

import (
	"errors"

	"nosmobile/internal/blob"
	"nosmobile/internal/models"

	"github.com/gofiber/fiber/v2"
)

// BlobURL handles GET /api/blobs/url?handle=
func (s *Server) BlobURL(c *fiber.Ctx) error {
	if s.blobs == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: blob.ErrNotConfigured.Error(),
		})
	}

	url, expiresAt, err := s.blobs.URL(c.UserContext(), c.Query("handle"))
	if errors.Is(err, blob.ErrUnavailable) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: err.Error(),
		})
	}
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.JSON(fiber.Map{
		"url":        url,
		"expires_at": expiresAt,
	})
}
