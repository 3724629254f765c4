package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"nosmobile/internal/ids"
	"nosmobile/internal/models"
	"nosmobile/internal/observability"
	"nosmobile/internal/repository"

	"go.uber.org/zap"
)

const (
	defaultHistoryPageSize = 50
	maxHistoryPageSize     = 200
	maxContentLength       = 10000
	maxReactionLength      = 32
)

// MessageService appends to and reads conversation message logs.
type MessageService struct {
	msgRepo   repository.MessageRepository
	userRepo  repository.UserRepository
	convs     *ConversationService
	publisher Publisher
	locks     *keyedMutex
	pageSize  int
}

// SendMessageInput is the input for sending a message.
type SendMessageInput struct {
	SenderID        string
	ConversationID  string
	Type            models.MessageType
	Content         string
	FilePath        string
	Thumbnail       string
	DurationSeconds *int
	RepliedToID     *int64
	ForwardedFromID *int64
}

// NewMessageService returns a new MessageService. pageSize is the history
// page used when callers pass no limit.
func NewMessageService(
	msgRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	convs *ConversationService,
	publisher Publisher,
	pageSize int,
) *MessageService {
	if pageSize <= 0 || pageSize > maxHistoryPageSize {
		pageSize = defaultHistoryPageSize
	}
	return &MessageService{
		msgRepo:   msgRepo,
		userRepo:  userRepo,
		convs:     convs,
		publisher: publisherOrNop(publisher),
		locks:     newKeyedMutex(),
		pageSize:  pageSize,
	}
}

func validateMessage(in *SendMessageInput) error {
	if in.ConversationID == "" {
		return models.NewValidationError("conversation_id is required")
	}
	if in.Type == "" {
		in.Type = models.MessageText
	}
	if !in.Type.Valid() {
		return models.NewValidationError("unknown message type " + string(in.Type))
	}
	if utf8.RuneCountInString(in.Content) > maxContentLength {
		return models.NewValidationError("message content is too long")
	}
	switch {
	case in.Type == models.MessageText && strings.TrimSpace(in.Content) == "":
		return models.NewValidationError("message content is required")
	case in.Type == models.MessageLocation && strings.TrimSpace(in.Content) == "":
		return models.NewValidationError("location payload is required")
	case in.Type.HasBlob() && in.FilePath == "":
		return models.NewValidationError("file_path is required for " + string(in.Type) + " messages")
	}
	if in.DurationSeconds != nil {
		if in.Type != models.MessageVoice {
			return models.NewValidationError("duration_seconds is only valid for voice messages")
		}
		if *in.DurationSeconds < 0 {
			return models.NewValidationError("duration_seconds must not be negative")
		}
	}
	return nil
}

// Append validates and stores a message, then delivers it to every
// participant. Appends to one conversation are serialized, so recipients
// observe them in storage order.
func (s *MessageService) Append(ctx context.Context, in SendMessageInput) (msg *models.Message, err error) {
	ctx, span := observability.StartSpan(ctx, "MessageService.Append")
	defer func() { observability.EndSpan(span, err) }()

	if err := validateMessage(&in); err != nil {
		return nil, err
	}
	members, err := s.convs.RequireParticipant(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return nil, err
	}
	if in.RepliedToID != nil {
		parent, err := s.msgRepo.Get(ctx, *in.RepliedToID)
		if err != nil {
			return nil, err
		}
		if parent.ConversationID != in.ConversationID {
			return nil, models.NewValidationError("replied_to_id must reference a message in the same conversation")
		}
	}
	if in.ForwardedFromID != nil {
		source, err := s.msgRepo.Get(ctx, *in.ForwardedFromID)
		if err != nil {
			return nil, err
		}
		if err := s.convs.CheckParticipant(ctx, source.ConversationID, in.SenderID); err != nil {
			return nil, err
		}
	}

	msg = &models.Message{
		ConversationID:  in.ConversationID,
		SenderID:        in.SenderID,
		Type:            in.Type,
		Content:         in.Content,
		FilePath:        in.FilePath,
		Thumbnail:       in.Thumbnail,
		DurationSeconds: in.DurationSeconds,
		Status:          models.StatusSent,
		RepliedToID:     in.RepliedToID,
		ForwardedFromID: in.ForwardedFromID,
	}
	if sender, err := s.userRepo.GetByID(ctx, in.SenderID); err == nil {
		msg.SenderUsername = sender.Username
	}

	unlock := s.locks.Lock(in.ConversationID)
	defer unlock()

	msg.ID = ids.MessageID()
	msg.Timestamp = time.Now().UTC()
	if err := s.msgRepo.Append(ctx, msg); err != nil {
		return nil, err
	}
	observability.MessagesAppended.WithLabelValues(string(msg.Type)).Inc()

	delivered := s.publisher.Publish(ctx, models.EventNewMessage, msg, members...)
	observability.Debug(ctx, "message appended",
		zap.Int64("message_id", msg.ID),
		zap.String("conversation_id", msg.ConversationID),
		zap.Int("delivered", delivered))
	return msg, nil
}

// ListByConversation returns the latest limit messages, oldest first, as seen
// by viewerID.
func (s *MessageService) ListByConversation(ctx context.Context, viewerID, conversationID string, limit int) ([]models.Message, error) {
	if err := s.convs.CheckParticipant(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > maxHistoryPageSize {
		limit = maxHistoryPageSize
	}

	messages, err := s.msgRepo.ListLatest(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	if err := s.decorate(ctx, viewerID, messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *MessageService) decorate(ctx context.Context, viewerID string, messages []models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	msgIDs := make([]int64, 0, len(messages))
	senderSet := make(map[string]bool)
	for _, m := range messages {
		msgIDs = append(msgIDs, m.ID)
		senderSet[m.SenderID] = true
	}

	reactions, err := s.msgRepo.Reactions(ctx, msgIDs)
	if err != nil {
		return err
	}
	readBy, err := s.msgRepo.ReadBy(ctx, msgIDs)
	if err != nil {
		return err
	}
	starred, err := s.msgRepo.StarredBy(ctx, viewerID, msgIDs)
	if err != nil {
		return err
	}
	senderIDs := make([]string, 0, len(senderSet))
	for id := range senderSet {
		senderIDs = append(senderIDs, id)
	}
	senders, err := s.userRepo.GetByIDs(ctx, senderIDs)
	if err != nil {
		return err
	}
	usernames := make(map[string]string, len(senders))
	for _, u := range senders {
		usernames[u.ID] = u.Username
	}

	for i := range messages {
		m := &messages[i]
		m.Reactions = reactions[m.ID]
		m.ReadBy = readBy[m.ID]
		m.Starred = starred[m.ID]
		m.SenderUsername = usernames[m.SenderID]
	}
	return nil
}

// accessible loads a message and checks that userID belongs to its conversation.
func (s *MessageService) accessible(ctx context.Context, userID string, messageID int64) (*models.Message, []string, error) {
	msg, err := s.msgRepo.Get(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	members, err := s.convs.RequireParticipant(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, nil, err
	}
	return msg, members, nil
}

// MarkRead records that readerID read the message. The status becomes
// delivered on the first acknowledgement and read once every recipient has
// acknowledged. It never moves backwards.
func (s *MessageService) MarkRead(ctx context.Context, readerID string, messageID int64) (msg *models.Message, err error) {
	ctx, span := observability.StartSpan(ctx, "MessageService.MarkRead")
	defer func() { observability.EndSpan(span, err) }()

	_, members, err := s.accessible(ctx, readerID, messageID)
	if err != nil {
		return nil, err
	}
	msg, changed, err := s.msgRepo.MarkRead(ctx, messageID, readerID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if changed {
		s.publisher.Publish(ctx, models.EventMessageStatusChanged, models.MessageStatusEvent{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			Status:         msg.Status,
			ReaderID:       readerID,
		}, members...)
	}
	return msg, nil
}

// React sets userID's single reaction on a message, replacing any previous one.
func (s *MessageService) React(ctx context.Context, userID string, messageID int64, reaction string) error {
	reaction = strings.TrimSpace(reaction)
	if reaction == "" {
		return models.NewValidationError("reaction is required")
	}
	if utf8.RuneCountInString(reaction) > maxReactionLength {
		return models.NewValidationError("reaction is too long")
	}

	msg, members, err := s.accessible(ctx, userID, messageID)
	if err != nil {
		return err
	}
	if err := s.msgRepo.UpsertReaction(ctx, &models.MessageReaction{
		MessageID: messageID,
		UserID:    userID,
		Reaction:  reaction,
	}); err != nil {
		return err
	}
	s.publisher.Publish(ctx, models.EventMessageReaction, models.ReactionEvent{
		MessageID:      messageID,
		ConversationID: msg.ConversationID,
		UserID:         userID,
		Reaction:       reaction,
	}, members...)
	return nil
}

// Star marks the message as starred for userID only.
func (s *MessageService) Star(ctx context.Context, userID string, messageID int64) error {
	if _, _, err := s.accessible(ctx, userID, messageID); err != nil {
		return err
	}
	return s.msgRepo.Star(ctx, userID, messageID)
}

// Unstar removes userID's star. Unstarring an unstarred message succeeds.
func (s *MessageService) Unstar(ctx context.Context, userID string, messageID int64) error {
	if _, _, err := s.accessible(ctx, userID, messageID); err != nil {
		return err
	}
	return s.msgRepo.Unstar(ctx, userID, messageID)
}
