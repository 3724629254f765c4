package server

import (
	"nosmobile/internal/models"

	"github.com/gofiber/fiber/v2"
)

// MessageRefRequest names a message by id. It is the websocket payload of
// mark_read, star and unstar.
type MessageRefRequest struct {
	MessageID string `json:"message_id"`
}

// ReactRequest is the body of PUT /api/messages/:id/reaction.
type ReactRequest struct {
	MessageID string `json:"message_id"`
	Reaction  string `json:"reaction"`
}

func messageIDParam(c *fiber.Ctx) (int64, error) {
	return parseMessageID(c.Params("id"))
}

// MarkRead handles POST /api/messages/:id/read
func (s *Server) MarkRead(c *fiber.Ctx) error {
	id, err := messageIDParam(c)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	msg, err := s.messages.MarkRead(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.JSON(msg)
}

// React handles PUT /api/messages/:id/reaction
func (s *Server) React(c *fiber.Ctx) error {
	id, err := messageIDParam(c)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	var req ReactRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithError(c, err)
	}
	if err := s.messages.React(c.UserContext(), currentUserID(c), id, req.Reaction); err != nil {
		return models.RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Star handles POST /api/messages/:id/star
func (s *Server) Star(c *fiber.Ctx) error {
	id, err := messageIDParam(c)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	if err := s.messages.Star(c.UserContext(), currentUserID(c), id); err != nil {
		return models.RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Unstar handles DELETE /api/messages/:id/star
func (s *Server) Unstar(c *fiber.Ctx) error {
	id, err := messageIDParam(c)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	if err := s.messages.Unstar(c.UserContext(), currentUserID(c), id); err != nil {
		return models.RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
