package service

import (
	"context"
	"strings"

	"nosmobile/internal/ids"
	"nosmobile/internal/models"
	"nosmobile/internal/observability"
	"nosmobile/internal/repository"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	participantCacheSize = 4096
	maxGroupNameLength   = 128
)

// ConversationService resolves conversation identity and membership.
type ConversationService struct {
	convRepo     repository.ConversationRepository
	userRepo     repository.UserRepository
	publisher    Publisher
	participants *lru.Cache[string, []string]
}

// NewConversationService returns a new ConversationService.
func NewConversationService(convRepo repository.ConversationRepository, userRepo repository.UserRepository, publisher Publisher) *ConversationService {
	// Membership never changes after creation, so cached sets never go stale.
	cache, err := lru.New[string, []string](participantCacheSize)
	if err != nil {
		panic(err)
	}
	return &ConversationService{
		convRepo:     convRepo,
		userRepo:     userRepo,
		publisher:    publisherOrNop(publisher),
		participants: cache,
	}
}

// ResolveDirect returns the direct conversation between a and b, creating it
// on first use. Both argument orders resolve to the same conversation.
func (s *ConversationService) ResolveDirect(ctx context.Context, a, b string) (conv *models.Conversation, err error) {
	ctx, span := observability.StartSpan(ctx, "ConversationService.ResolveDirect")
	defer func() { observability.EndSpan(span, err) }()

	if a == "" || b == "" {
		return nil, models.NewValidationError("both users are required")
	}
	if a == b {
		return nil, models.NewValidationError("a direct conversation needs two different users")
	}
	for _, id := range []string{a, b} {
		if _, err := s.userRepo.GetByID(ctx, id); err != nil {
			return nil, err
		}
	}

	id := models.DirectConversationID(a, b)
	conv = &models.Conversation{ID: id, CreatedBy: a}
	parts := []models.ConversationParticipant{
		{ConversationID: id, UserID: a, Role: models.RoleMember},
		{ConversationID: id, UserID: b, Role: models.RoleMember},
	}
	if err := s.convRepo.CreateIfAbsent(ctx, conv, parts); err != nil {
		return nil, err
	}
	return s.convRepo.Get(ctx, id)
}

// CreateGroup creates a group conversation. The creator joins as admin and
// does not count towards memberIDs.
func (s *ConversationService) CreateGroup(ctx context.Context, name, creatorID string, memberIDs []string) (conv *models.Conversation, err error) {
	ctx, span := observability.StartSpan(ctx, "ConversationService.CreateGroup")
	defer func() { observability.EndSpan(span, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, models.NewValidationError("group name is required")
	}
	if len(name) > maxGroupNameLength {
		return nil, models.NewValidationError("group name is too long")
	}

	seen := map[string]bool{creatorID: true}
	members := make([]string, 0, len(memberIDs))
	for _, id := range memberIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	if len(members) == 0 {
		return nil, models.NewEmptyGroupError()
	}

	users, err := s.userRepo.GetByIDs(ctx, append([]string{creatorID}, members...))
	if err != nil {
		return nil, err
	}
	if len(users) != len(members)+1 {
		known := make(map[string]bool, len(users))
		for _, u := range users {
			known[u.ID] = true
		}
		for _, id := range append([]string{creatorID}, members...) {
			if !known[id] {
				return nil, models.NewNotFoundError("User", id)
			}
		}
	}

	conv = &models.Conversation{
		ID:        ids.New(),
		IsGroup:   true,
		Name:      name,
		CreatedBy: creatorID,
	}
	parts := make([]models.ConversationParticipant, 0, len(members)+1)
	parts = append(parts, models.ConversationParticipant{ConversationID: conv.ID, UserID: creatorID, Role: models.RoleAdmin})
	for _, id := range members {
		parts = append(parts, models.ConversationParticipant{ConversationID: conv.ID, UserID: id, Role: models.RoleMember})
	}
	if err := s.convRepo.Create(ctx, conv, parts); err != nil {
		return nil, err
	}
	return conv, nil
}

// Participants returns the user ids of a conversation's members.
func (s *ConversationService) Participants(ctx context.Context, conversationID string) ([]string, error) {
	if cached, ok := s.participants.Get(conversationID); ok {
		return cached, nil
	}
	rows, err := s.convRepo.Participants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if _, err := s.convRepo.Get(ctx, conversationID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	userIDs := make([]string, 0, len(rows))
	for _, p := range rows {
		userIDs = append(userIDs, p.UserID)
	}
	s.participants.Add(conversationID, userIDs)
	return userIDs, nil
}

// RequireParticipant returns the conversation's members, failing when userID
// is not one of them.
func (s *ConversationService) RequireParticipant(ctx context.Context, conversationID, userID string) ([]string, error) {
	userIDs, err := s.Participants(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	for _, id := range userIDs {
		if id == userID {
			return userIDs, nil
		}
	}
	return nil, models.NewNotParticipantError("conversation", conversationID)
}

// CheckParticipant fails when userID is not a member of the conversation,
// without loading the member list on a cache miss.
func (s *ConversationService) CheckParticipant(ctx context.Context, conversationID, userID string) error {
	if cached, ok := s.participants.Get(conversationID); ok {
		for _, id := range cached {
			if id == userID {
				return nil
			}
		}
		return models.NewNotParticipantError("conversation", conversationID)
	}
	ok, err := s.convRepo.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := s.convRepo.Get(ctx, conversationID); err != nil {
		return err
	}
	return models.NewNotParticipantError("conversation", conversationID)
}

// ListForUser returns the user's conversations, most recently active first.
func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	convs, err := s.convRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.ConversationSummary, 0, len(convs))
	peers := make(map[string]string)
	for _, conv := range convs {
		members, err := s.Participants(ctx, conv.ID)
		if err != nil {
			return nil, err
		}
		latest, err := s.convRepo.LatestMessage(ctx, conv.ID)
		if err != nil {
			return nil, err
		}

		summary := models.ConversationSummary{
			ID:           conv.ID,
			IsGroup:      conv.IsGroup,
			Name:         conv.Name,
			Participants: members,
			LastMessage:  latest,
			Preview:      preview(latest),
			UpdatedAt:    conv.CreatedAt,
		}
		if conv.LastMessageAt != nil {
			summary.UpdatedAt = *conv.LastMessageAt
		}
		if !conv.IsGroup {
			for _, id := range members {
				if id != userID {
					peers[conv.ID] = id
				}
			}
		}
		summaries = append(summaries, summary)
	}

	if len(peers) > 0 {
		if err := s.nameDirectConversations(ctx, summaries, peers); err != nil {
			return nil, err
		}
	}
	return summaries, nil
}

func (s *ConversationService) nameDirectConversations(ctx context.Context, summaries []models.ConversationSummary, peers map[string]string) error {
	peerIDs := make([]string, 0, len(peers))
	for _, id := range peers {
		peerIDs = append(peerIDs, id)
	}
	users, err := s.userRepo.GetByIDs(ctx, peerIDs)
	if err != nil {
		return err
	}
	names := make(map[string]string, len(users))
	for i := range users {
		names[users[i].ID] = users[i].Name()
	}
	for i := range summaries {
		if peer, ok := peers[summaries[i].ID]; ok {
			summaries[i].Name = names[peer]
		}
	}
	return nil
}

// SetTyping tells the other participants that userID started or stopped typing.
func (s *ConversationService) SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	members, err := s.RequireParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	s.publisher.Publish(ctx, models.EventTyping, models.TypingEvent{
		ConversationID: conversationID,
		UserID:         userID,
		IsTyping:       isTyping,
	}, others(members, userID)...)
	return nil
}

func preview(msg *models.Message) string {
	if msg == nil {
		return models.NoMessagesYet
	}
	switch msg.Type {
	case models.MessageText:
		return msg.Content
	case models.MessageVoice:
		return "Voice message"
	case models.MessageImage:
		return "Photo"
	case models.MessageFile:
		return "File"
	case models.MessageLocation:
		return "Location"
	}
	return msg.Content
}
