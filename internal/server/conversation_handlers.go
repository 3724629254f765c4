package server

import (
	"nosmobile/internal/models"
	"nosmobile/internal/service"

	"github.com/gofiber/fiber/v2"
)

// DirectConversationRequest is the body of POST /api/conversations/direct.
type DirectConversationRequest struct {
	UserID string `json:"user_id"`
}

// CreateGroupRequest is the body of POST /api/conversations/groups.
type CreateGroupRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"member_ids"`
}

// SendMessageRequest is a message as clients submit it over HTTP or the
// websocket. Message ids travel as decimal strings.
type SendMessageRequest struct {
	ConversationID  string             `json:"conversation_id"`
	Type            models.MessageType `json:"type"`
	Content         string             `json:"content"`
	FilePath        string             `json:"file_path"`
	Thumbnail       string             `json:"thumbnail"`
	DurationSeconds *int               `json:"duration_seconds"`
	RepliedToID     string             `json:"replied_to_id"`
	ForwardedFromID string             `json:"forwarded_from_id"`
}

func (r SendMessageRequest) input(senderID string) (service.SendMessageInput, error) {
	in := service.SendMessageInput{
		SenderID:        senderID,
		ConversationID:  r.ConversationID,
		Type:            r.Type,
		Content:         r.Content,
		FilePath:        r.FilePath,
		Thumbnail:       r.Thumbnail,
		DurationSeconds: r.DurationSeconds,
	}
	if r.RepliedToID != "" {
		id, err := parseMessageID(r.RepliedToID)
		if err != nil {
			return in, err
		}
		in.RepliedToID = &id
	}
	if r.ForwardedFromID != "" {
		id, err := parseMessageID(r.ForwardedFromID)
		if err != nil {
			return in, err
		}
		in.ForwardedFromID = &id
	}
	return in, nil
}

// TypingRequest is the body of POST /api/conversations/:id/typing.
type TypingRequest struct {
	ConversationID string `json:"conversation_id"`
	IsTyping       bool   `json:"is_typing"`
}

// ResolveDirectConversation handles POST /api/conversations/direct
func (s *Server) ResolveDirectConversation(c *fiber.Ctx) error {
	var req DirectConversationRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithError(c, err)
	}
	conv, err := s.convs.ResolveDirect(c.UserContext(), currentUserID(c), req.UserID)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.JSON(conv)
}

// CreateGroup handles POST /api/conversations/groups
func (s *Server) CreateGroup(c *fiber.Ctx) error {
	var req CreateGroupRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithError(c, err)
	}
	conv, err := s.convs.CreateGroup(c.UserContext(), req.Name, currentUserID(c), req.MemberIDs)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(conv)
}

// ListConversations handles GET /api/conversations
func (s *Server) ListConversations(c *fiber.Ctx) error {
	summaries, err := s.convs.ListForUser(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.RespondWithError(c, err)
	}
	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}
	return c.JSON(summaries)
}

// GetMessages handles GET /api/conversations/:id/messages?limit=
func (s *Server) GetMessages(c *fiber.Ctx) error {
	convID, err := requireParam(c, "id")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	msgs, err := s.messages.ListByConversation(c.UserContext(), currentUserID(c), convID, c.QueryInt("limit", 0))
	if err != nil {
		return models.RespondWithError(c, err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return c.JSON(msgs)
}

// SendMessage handles POST /api/conversations/:id/messages
func (s *Server) SendMessage(c *fiber.Ctx) error {
	convID, err := requireParam(c, "id")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	var req SendMessageRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithError(c, err)
	}
	req.ConversationID = convID

	in, err := req.input(currentUserID(c))
	if err != nil {
		return models.RespondWithError(c, err)
	}
	msg, err := s.messages.Append(c.UserContext(), in)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// SetTyping handles POST /api/conversations/:id/typing
func (s *Server) SetTyping(c *fiber.Ctx) error {
	convID, err := requireParam(c, "id")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	var req TypingRequest
	if err := parseBody(c, &req); err != nil {
		return models.RespondWithError(c, err)
	}
	if err := s.convs.SetTyping(c.UserContext(), convID, currentUserID(c), req.IsTyping); err != nil {
		return models.RespondWithError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListCalls handles GET /api/conversations/:id/calls
func (s *Server) ListCalls(c *fiber.Ctx) error {
	convID, err := requireParam(c, "id")
	if err != nil {
		return models.RespondWithError(c, err)
	}
	calls, err := s.calls.ListByConversation(c.UserContext(), currentUserID(c), convID)
	if err != nil {
		return models.RespondWithError(c, err)
	}
	if calls == nil {
		calls = []models.Call{}
	}
	return c.JSON(calls)
}
