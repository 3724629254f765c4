package server

import (
	"nosmobile/internal/models"

	"github.com/gofiber/fiber/v2"
)

// FriendRequestBody addresses a request by user id or by shareable code.
type FriendRequestBody struct {
	ToUserID string `json:"to_user_id"`
	Code     string `json:"code"`
}

// RespondFriendRequestBody is the body of POST /api/friends/requests/:id/respond.
type RespondFriendRequestBody struct {
	Accept bool `json:"accept"`
}

// SendFriendRequest handles POST /api/friends/requests
func (s *Server) SendFriendRequest(c *fiber.Ctx) error {
	var body FriendRequestBody
	if err := parseBody(c, &body); err != nil {
		return models.RespondWithError(c, err)
	}

	ctx := c.UserContext()
	userID := currentUserID(c)
	var (
		req *models.FriendRequest
		err error
	)
	switch {
	case body.ToUserID != "":
		req, err = s.friends.SendRequest(ctx, userID, body.ToUserID)
	case body.Code != "":
		req, err = s.friends.SendRequestByCode(ctx, userID, body.Code)
	default:
		err = models.NewValidationError("to_user_id or code is required")
	}
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(req)
}

// RespondFriendRequest handles POST /api/friends/requests/:id/respond
func (s *Server) RespondFriendRequest(c *fiber.Ctx) error {
	requestID, err := requireParam(c, "id")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	var body RespondFriendRequestBody
	if err := parseBody(c, &body); err != nil {
		return models.RespondWithError(c, err)
	}

	req, err := s.friends.Respond(c.UserContext(), currentUserID(c), requestID, body.Accept)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.JSON(req)
}

// ListFriendRequests handles GET /api/friends/requests
func (s *Server) ListFriendRequests(c *fiber.Ctx) error {
	reqs, err := s.friends.ListPending(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondWithError(c, err)
	}
	if reqs == nil {
		reqs = []models.FriendRequest{}
	}
	return c.JSON(reqs)
}
