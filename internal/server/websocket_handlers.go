package server

import (
	"context"
	"encoding/json"
	"errors"

	"nosmobile/internal/middleware"
	"nosmobile/internal/models"
	"nosmobile/internal/notifications"
	"nosmobile/internal/observability"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// WebsocketUpgrade rejects plain HTTP requests to the websocket endpoint.
func (s *Server) WebsocketUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

// WebsocketHandler binds an authenticated connection to its user and serves
// inbound commands until the connection ends.
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals(middleware.UserIDLocal).(string)
		if userID == "" {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"error":"unauthorized"}}`))
			_ = conn.Close()
			return
		}
		ctx := observability.WithUserID(context.Background(), userID)

		if _, err := s.identity.GetUser(ctx, userID); err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"error":"unknown user"}}`))
			_ = conn.Close()
			return
		}

		client, err := s.relay.Bind(ctx, userID, conn)
		if err != nil {
			observability.Warn(ctx, "websocket bind rejected", zap.Error(err))
			frame, _ := notifications.Encode("error", fiber.Map{"error": err.Error()})
			_ = conn.WriteMessage(websocket.TextMessage, frame)
			_ = conn.Close()
			return
		}

		client.IncomingHandler = func(c *notifications.Client, frame []byte) {
			s.handleFrame(ctx, c, frame)
		}

		go client.WritePump()
		client.ReadPump()

		for _, convID := range client.TypingConversations() {
			if err := s.convs.SetTyping(ctx, convID, userID, false); err != nil {
				observability.Debug(ctx, "typing reset failed", zap.String("conversation_id", convID), zap.Error(err))
			}
		}
	})
}

// Ack answers one inbound command on the connection that issued it.
type Ack struct {
	Ref   string      `json:"ref"`
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Code  string      `json:"code,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

func newAck(ref string, data interface{}, err error) Ack {
	if err == nil {
		return Ack{Ref: ref, OK: true, Data: data}
	}
	ack := Ack{Ref: ref, Code: models.CodeInternal, Error: "Internal server error"}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		ack.Code = appErr.Code
		if appErr.Code != models.CodeInternal {
			ack.Error = appErr.Message
		}
	}
	return ack
}

// handleFrame decodes one inbound frame, runs it and queues the reply.
func (s *Server) handleFrame(ctx context.Context, c *notifications.Client, raw []byte) {
	var in notifications.Envelope
	if err := json.Unmarshal(raw, &in); err != nil || in.Type == "" {
		s.reply(ctx, c, notifications.EventAck, newAck(in.Ref, nil, models.NewValidationError("malformed frame")))
		return
	}

	if in.Type == "ping" {
		s.reply(ctx, c, notifications.EventPong, fiber.Map{"ref": in.Ref})
		return
	}

	data, err := s.dispatch(ctx, c, in.Type, in.Payload)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if models.IsCode(err, models.CodeInternal) {
			s.wsLog.LogError(ctx, c.UserID(), err, in.Type)
		}
	}
	observability.WebSocketCommands.WithLabelValues(in.Type, outcome).Inc()
	s.reply(ctx, c, notifications.EventAck, newAck(in.Ref, data, err))
}

func (s *Server) reply(ctx context.Context, c *notifications.Client, eventType string, payload interface{}) {
	frame, err := notifications.Encode(eventType, payload)
	if err != nil {
		observability.Error(ctx, "failed to encode reply", zap.Error(err))
		return
	}
	if !c.TrySend(frame) {
		observability.Warn(ctx, "reply dropped, send buffer full", zap.String("event", eventType))
	}
}

func decodePayload(payload json.RawMessage, dest interface{}) error {
	if len(payload) == 0 {
		return models.NewValidationError("payload is required")
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return models.NewValidationError("invalid payload")
	}
	return nil
}

// dispatch runs one websocket command as the connection's user. The acting
// user always comes from the binding, never from the payload.
func (s *Server) dispatch(ctx context.Context, c *notifications.Client, command string, payload json.RawMessage) (interface{}, error) {
	userID := c.UserID()

	switch command {
	case "send_message":
		var req SendMessageRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		in, err := req.input(userID)
		if err != nil {
			return nil, err
		}
		return s.messages.Append(ctx, in)

	case "mark_read":
		var req MessageRefRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		id, err := parseMessageID(req.MessageID)
		if err != nil {
			return nil, err
		}
		return s.messages.MarkRead(ctx, userID, id)

	case "react":
		var req ReactRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		id, err := parseMessageID(req.MessageID)
		if err != nil {
			return nil, err
		}
		return nil, s.messages.React(ctx, userID, id, req.Reaction)

	case "star", "unstar":
		var req MessageRefRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		id, err := parseMessageID(req.MessageID)
		if err != nil {
			return nil, err
		}
		if command == "star" {
			return nil, s.messages.Star(ctx, userID, id)
		}
		return nil, s.messages.Unstar(ctx, userID, id)

	case "typing":
		var req TypingRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		if err := s.convs.SetTyping(ctx, req.ConversationID, userID, req.IsTyping); err != nil {
			return nil, err
		}
		c.SetTyping(req.ConversationID, req.IsTyping)
		return nil, nil

	case "start_call":
		var req StartCallRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return s.calls.Initiate(ctx, userID, req.ConversationID, req.CallType, req.Offer)

	case "answer_call":
		var req AnswerCallRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return s.calls.Answer(ctx, userID, req.CallID, req.Accept, req.Answer)

	case "call_signal":
		var req CallSignalRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return nil, s.calls.RelaySignal(ctx, userID, req.CallID, req.Signal, req.TargetUserID)

	case "end_call":
		var req CallRefRequest
		if err := decodePayload(payload, &req); err != nil {
			return nil, err
		}
		return s.calls.End(ctx, userID, req.CallID)
	}

	return nil, models.NewValidationError("unknown command type " + command)
}
