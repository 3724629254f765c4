package server

import (
	"errors"

	"nosmobile/internal/middleware"
	"nosmobile/internal/models"
	"nosmobile/internal/service"

	"github.com/gofiber/fiber/v2"
)

// RegisterRequest is the body of POST /api/register.
type RegisterRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Phone       string `json:"phone"`
	Avatar      string `json:"avatar"`
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Username string `json:"username"`
}

// AuthResponse carries the user and a bearer token.
type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register handles POST /api/register. An existing username returns the
// existing user with 200 instead of 201.
func (s *Server) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithError(c, err)
	}

	user, created, err := s.identity.Register(c.UserContext(), service.RegisterInput{
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Phone:       req.Phone,
		Avatar:      req.Avatar,
	})
	if err != nil {
		return models.RespondWithError(c, err)
	}

	token, err := s.auth.IssueToken(user.ID, user.Username)
	if err != nil {
		return models.RespondWithError(c, models.NewInternalError(err))
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(AuthResponse{Token: token, User: user})
}

// Login handles POST /api/login. It never creates a user.
func (s *Server) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithError(c, err)
	}

	user, err := s.identity.Login(c.UserContext(), req.Username)
	if err != nil {
		return models.RespondWithError(c, err)
	}

	token, err := s.auth.IssueToken(user.ID, user.Username)
	if err != nil {
		return models.RespondWithError(c, models.NewInternalError(err))
	}
	return c.JSON(AuthResponse{Token: token, User: user})
}

// IssueWSTicket handles POST /api/ws/ticket.
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	ticket, err := s.auth.IssueTicket(c.UserContext(), currentUserID(c))
	if errors.Is(err, middleware.ErrTicketsUnavailable) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: "websocket tickets are unavailable; connect with ?token=",
		})
	}
	if err != nil {
		return models.RespondWithError(c, models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(middleware.WSTicketTTL.Seconds()),
	})
}

// ICEServer is one entry of an RTCPeerConnection iceServers list.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// WebRTCConfig handles GET /api/webrtc/config.
func (s *Server) WebRTCConfig(c *fiber.Ctx) error {
	servers := []ICEServer{}
	if stun := s.config.STUNServers(); len(stun) > 0 {
		servers = append(servers, ICEServer{URLs: stun})
	}
	if s.config.TURNURL != "" {
		servers = append(servers, ICEServer{
			URLs:       []string{s.config.TURNURL},
			Username:   s.config.TURNUsername,
			Credential: s.config.TURNPassword,
		})
	}
	return c.JSON(fiber.Map{"ice_servers": servers})
}
