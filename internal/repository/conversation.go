package repository

import (
	"context"
	"time"

	"nosmobile/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository defines the interface for conversation data operations
type ConversationRepository interface {
	// CreateIfAbsent inserts conv and its participants, leaving existing rows untouched.
	CreateIfAbsent(ctx context.Context, conv *models.Conversation, participants []models.ConversationParticipant) error
	Create(ctx context.Context, conv *models.Conversation, participants []models.ConversationParticipant) error
	Get(ctx context.Context, id string) (*models.Conversation, error)
	Participants(ctx context.Context, conversationID string) ([]models.ConversationParticipant, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	LatestMessage(ctx context.Context, conversationID string) (*models.Message, error)
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// stampJoined fills JoinedAt on rows that do not carry one.
func stampJoined(participants []models.ConversationParticipant) {
	now := time.Now().UTC()
	for i := range participants {
		if participants[i].JoinedAt.IsZero() {
			participants[i].JoinedAt = now
		}
	}
}

func (r *conversationRepository) CreateIfAbsent(ctx context.Context, conv *models.Conversation, participants []models.ConversationParticipant) error {
	stampJoined(participants)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(conv).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&participants).Error
	})
	return internal(err)
}

func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation, participants []models.ConversationParticipant) error {
	stampJoined(participants)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conv).Error; err != nil {
			return err
		}
		return tx.Create(&participants).Error
	})
	return internal(err)
}

func (r *conversationRepository) Get(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := r.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "Conversation", id)
	}
	return &conv, nil
}

func (r *conversationRepository) Participants(ctx context.Context, conversationID string) ([]models.ConversationParticipant, error) {
	var parts []models.ConversationParticipant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("joined_at ASC, user_id ASC").
		Find(&parts).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return parts, nil
}

func (r *conversationRepository) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *conversationRepository) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := r.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID).
		Order("COALESCE(conversations.last_message_at, conversations.created_at) DESC").
		Find(&convs).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return convs, nil
}

func (r *conversationRepository) LatestMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	var msgs []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp DESC, id DESC").
		Limit(1).
		Find(&msgs).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}
