package server

import (
	"nosmobile/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetMe handles GET /api/users/me
func (s *Server) GetMe(c *fiber.Ctx) error {
	user, err := s.identity.GetUser(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.JSON(user)
}

// GetUser handles GET /api/users/:id
func (s *Server) GetUser(c *fiber.Ctx) error {
	id, err := requireParam(c, "id")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	user, err := s.identity.GetUser(c.UserContext(), id)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.JSON(user)
}

// GetPresence handles GET /api/users/:id/presence
func (s *Server) GetPresence(c *fiber.Ctx) error {
	ctx := c.UserContext()
	id, err := requireParam(c, "id")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	user, err := s.identity.GetUser(ctx, id)
	if err != nil {
		return models.RespondWithError(c, err)
	}

	event := models.PresenceEvent{
		UserID:     user.ID,
		Online:     s.relay.IsOnline(ctx, user.ID),
		LastSeenAt: user.LastSeenAt,
	}
	if seen, ok := s.presence.LastSeen(ctx, user.ID); ok {
		event.LastSeenAt = &seen
	}
	return c.JSON(event)
}

// ListContacts handles GET /api/contacts
func (s *Server) ListContacts(c *fiber.Ctx) error {
	contacts, err := s.identity.ListContacts(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondWithError(c, err)
	}
	if contacts == nil {
		contacts = []models.User{}
	}
	return c.JSON(contacts)
}

// AddContactRequest is the body of POST /api/contacts.
type AddContactRequest struct {
	UserID string `json:"user_id"`
}

// AddContact handles POST /api/contacts
func (s *Server) AddContact(c *fiber.Ctx) error {
	var req AddContactRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithError(c, err)
	}
	if req.UserID == "" {
		return models.RespondWithError(c, models.NewValidationError("user_id is required"))
	}
	if err := s.identity.AddContact(c.UserContext(), currentUserID(c), req.UserID); err != nil {
		return models.RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
