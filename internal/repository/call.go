package repository

import (
	"context"

	"nosmobile/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var liveCallStatuses = []models.CallStatus{models.CallRinging, models.CallActive}

// CallRepository defines the interface for call data operations
type CallRepository interface {
	// Create stores a ringing call, failing with a conflict if the
	// conversation already has a live call.
	Create(ctx context.Context, call *models.Call) error
	Get(ctx context.Context, id string) (*models.Call, error)
	// Transition applies updates when the call's status is one of from.
	// It reports false, with the current row, when the call was not in from.
	Transition(ctx context.Context, id string, from []models.CallStatus, updates map[string]interface{}) (*models.Call, bool, error)
	ListLive(ctx context.Context) ([]models.Call, error)
	ListLiveForUser(ctx context.Context, userID string) ([]models.Call, error)
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]models.Call, error)
}

type callRepository struct {
	db *gorm.DB
}

// NewCallRepository creates a new call repository
func NewCallRepository(db *gorm.DB) CallRepository {
	return &callRepository{db: db}
}

func (r *callRepository) Create(ctx context.Context, call *models.Call) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&conv, "id = ?", call.ConversationID).Error; err != nil {
			return err
		}

		var live int64
		if err := tx.Model(&models.Call{}).
			Where("conversation_id = ? AND status IN ?", call.ConversationID, liveCallStatuses).
			Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return models.NewConflictError("conversation already has a call in progress")
		}
		return tx.Create(call).Error
	})
	return notFoundOr(err, "Conversation", call.ConversationID)
}

func (r *callRepository) Get(ctx context.Context, id string) (*models.Call, error) {
	var call models.Call
	if err := r.db.WithContext(ctx).First(&call, "id = ?", id).Error; err != nil {
		return nil, callErr(err, id)
	}
	return &call, nil
}

func (r *callRepository) Transition(ctx context.Context, id string, from []models.CallStatus, updates map[string]interface{}) (*models.Call, bool, error) {
	var call models.Call
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Call{}).
			Where("id = ? AND status IN ?", id, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected == 1
		return tx.First(&call, "id = ?", id).Error
	})
	if err != nil {
		return nil, false, callErr(err, id)
	}
	return &call, applied, nil
}

func (r *callRepository) ListLive(ctx context.Context) ([]models.Call, error) {
	var calls []models.Call
	err := r.db.WithContext(ctx).
		Where("status IN ?", liveCallStatuses).
		Order("created_at ASC").
		Find(&calls).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return calls, nil
}

func (r *callRepository) ListLiveForUser(ctx context.Context, userID string) ([]models.Call, error) {
	var calls []models.Call
	err := r.db.WithContext(ctx).
		Where("status IN ?", liveCallStatuses).
		Where("conversation_id IN (?)",
			r.db.Model(&models.ConversationParticipant{}).Select("conversation_id").Where("user_id = ?", userID)).
		Find(&calls).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return calls, nil
}

func (r *callRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]models.Call, error) {
	var calls []models.Call
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(limit).
		Find(&calls).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return calls, nil
}

func callErr(err error, id string) error {
	err = notFoundOr(err, "Call", id)
	if models.IsCode(err, models.CodeNotFound) {
		return models.NewCallNotFoundError(id)
	}
	return err
}
