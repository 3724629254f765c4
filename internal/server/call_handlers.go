package server

import (
	"encoding/json"

	"nosmobile/internal/models"

	"github.com/gofiber/fiber/v2"
)

// StartCallRequest is the body of POST /api/calls.
type StartCallRequest struct {
	ConversationID string          `json:"conversation_id"`
	CallType       models.CallType `json:"call_type"`
	Offer          json.RawMessage `json:"offer"`
}

// AnswerCallRequest is the body of POST /api/calls/:id/answer.
type AnswerCallRequest struct {
	CallID string          `json:"call_id"`
	Accept bool            `json:"accept"`
	Answer json.RawMessage `json:"answer"`
}

// CallSignalRequest is the body of POST /api/calls/:id/signal.
type CallSignalRequest struct {
	CallID       string          `json:"call_id"`
	Signal       json.RawMessage `json:"signal"`
	TargetUserID string          `json:"target_user_id"`
}

// CallRefRequest names a call. It is the websocket payload of end_call.
type CallRefRequest struct {
	CallID string `json:"call_id"`
}

// StartCall handles POST /api/calls
func (s *Server) StartCall(c *fiber.Ctx) error {
	var req StartCallRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithError(c, err)
	}
	call, err := s.calls.Initiate(c.UserContext(), currentUserID(c), req.ConversationID, req.CallType, req.Offer)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(call)
}

// AnswerCall handles POST /api/calls/:id/answer
func (s *Server) AnswerCall(c *fiber.Ctx) error {
	callID, err := requireParam(c, "id")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	var req AnswerCallRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithError(c, err)
	}
	call, err := s.calls.Answer(c.UserContext(), currentUserID(c), callID, req.Accept, req.Answer)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.JSON(call)
}

// SignalCall handles POST /api/calls/:id/signal
func (s *Server) SignalCall(c *fiber.Ctx) error {
	callID, err := requireParam(c, "id")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	var req CallSignalRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithError(c, err)
	}
	if err := s.calls.RelaySignal(c.UserContext(), currentUserID(c), callID, req.Signal, req.TargetUserID); err != nil {
		return models.RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusAccepted)
}

// EndCall handles POST /api/calls/:id/end
func (s *Server) EndCall(c *fiber.Ctx) error {
	callID, err := requireParam(c, "id")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	call, err := s.calls.End(c.UserContext(), currentUserID(c), callID)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.JSON(call)
}
