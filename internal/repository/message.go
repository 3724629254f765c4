package repository

import (
	"context"
	"time"

	"nosmobile/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository defines the interface for message data operations
type MessageRepository interface {
	// Append stores msg under a row lock on its conversation. The timestamp is
	// raised to the conversation's last message time if the clock went backwards.
	Append(ctx context.Context, msg *models.Message) error
	Get(ctx context.Context, id int64) (*models.Message, error)
	ListLatest(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	// MarkRead records the read receipt and advances the status. It reports
	// whether the status changed.
	MarkRead(ctx context.Context, id int64, readerID string, at time.Time) (*models.Message, bool, error)
	UpsertReaction(ctx context.Context, reaction *models.MessageReaction) error
	Star(ctx context.Context, userID string, messageID int64) error
	Unstar(ctx context.Context, userID string, messageID int64) error
	Reactions(ctx context.Context, messageIDs []int64) (map[int64]map[string]string, error)
	ReadBy(ctx context.Context, messageIDs []int64) (map[int64][]string, error)
	StarredBy(ctx context.Context, userID string, messageIDs []int64) (map[int64]bool, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Append(ctx context.Context, msg *models.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&conv, "id = ?", msg.ConversationID).Error; err != nil {
			return err
		}

		if conv.LastMessageAt != nil && msg.Timestamp.Before(*conv.LastMessageAt) {
			msg.Timestamp = *conv.LastMessageAt
		}
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.Conversation{}).
			Where("id = ?", conv.ID).
			Updates(map[string]interface{}{"last_message_at": msg.Timestamp}).Error
	})
	return notFoundOr(err, "Conversation", msg.ConversationID)
}

func (r *messageRepository) Get(ctx context.Context, id int64) (*models.Message, error) {
	var msg models.Message
	if err := r.db.WithContext(ctx).First(&msg, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "Message", id)
	}
	return &msg, nil
}

func (r *messageRepository) ListLatest(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	// Fetched newest first to get the latest page; callers read oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *messageRepository) MarkRead(ctx context.Context, id int64, readerID string, at time.Time) (*models.Message, bool, error) {
	var msg models.Message
	changed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&msg, "id = ?", id).Error; err != nil {
			return err
		}
		if msg.SenderID == readerID {
			return nil
		}

		receipt := models.MessageRead{MessageID: id, UserID: readerID, ReadAt: at}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&receipt).Error; err != nil {
			return err
		}

		var recipients int64
		if err := tx.Model(&models.ConversationParticipant{}).
			Where("conversation_id = ? AND user_id <> ?", msg.ConversationID, msg.SenderID).
			Count(&recipients).Error; err != nil {
			return err
		}
		var readers int64
		if err := tx.Model(&models.MessageRead{}).
			Where("message_id = ? AND user_id IN (?)", id,
				tx.Model(&models.ConversationParticipant{}).
					Select("user_id").
					Where("conversation_id = ? AND user_id <> ?", msg.ConversationID, msg.SenderID)).
			Count(&readers).Error; err != nil {
			return err
		}

		next := models.StatusDelivered
		if readers >= recipients {
			next = models.StatusRead
		}
		if next.Rank() <= msg.Status.Rank() {
			return nil
		}
		if err := tx.Model(&models.Message{}).Where("id = ?", id).Update("status", next).Error; err != nil {
			return err
		}
		msg.Status = next
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, notFoundOr(err, "Message", id)
	}
	return &msg, changed, nil
}

func (r *messageRepository) UpsertReaction(ctx context.Context, reaction *models.MessageReaction) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reaction", "updated_at"}),
	}).Create(reaction).Error
	return internal(err)
}

func (r *messageRepository) Star(ctx context.Context, userID string, messageID int64) error {
	row := models.MessageStar{UserID: userID, MessageID: messageID}
	return internal(r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error)
}

func (r *messageRepository) Unstar(ctx context.Context, userID string, messageID int64) error {
	return internal(r.db.WithContext(ctx).
		Where("user_id = ? AND message_id = ?", userID, messageID).
		Delete(&models.MessageStar{}).Error)
}

func (r *messageRepository) Reactions(ctx context.Context, messageIDs []int64) (map[int64]map[string]string, error) {
	out := make(map[int64]map[string]string)
	if len(messageIDs) == 0 {
		return out, nil
	}
	var rows []models.MessageReaction
	if err := r.db.WithContext(ctx).Where("message_id IN ?", messageIDs).Find(&rows).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	for _, row := range rows {
		if out[row.MessageID] == nil {
			out[row.MessageID] = make(map[string]string)
		}
		out[row.MessageID][row.UserID] = row.Reaction
	}
	return out, nil
}

func (r *messageRepository) ReadBy(ctx context.Context, messageIDs []int64) (map[int64][]string, error) {
	out := make(map[int64][]string)
	if len(messageIDs) == 0 {
		return out, nil
	}
	var rows []models.MessageRead
	err := r.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("read_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	for _, row := range rows {
		out[row.MessageID] = append(out[row.MessageID], row.UserID)
	}
	return out, nil
}

func (r *messageRepository) StarredBy(ctx context.Context, userID string, messageIDs []int64) (map[int64]bool, error) {
	out := make(map[int64]bool)
	if len(messageIDs) == 0 {
		return out, nil
	}
	var rows []models.MessageStar
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND message_id IN ?", userID, messageIDs).
		Find(&rows).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	for _, row := range rows {
		out[row.MessageID] = true
	}
	return out, nil
}
