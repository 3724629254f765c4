package repository

import (
	"context"
	"time"

	"nosmobile/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FriendRepository defines the interface for friend request and contact data operations
type FriendRepository interface {
	CreateRequest(ctx context.Context, req *models.FriendRequest) error
	GetRequest(ctx context.Context, id string) (*models.FriendRequest, error)
	ListPendingFor(ctx context.Context, userID string) ([]models.FriendRequest, error)
	// Resolve moves a pending request to status. Accepting writes both
	// friendship directions in the same transaction.
	Resolve(ctx context.Context, id string, status models.FriendRequestStatus, at time.Time) (*models.FriendRequest, error)
	// AddFriendship adds a one-directional contact. It fails with a conflict
	// while a request between the pair is pending.
	AddFriendship(ctx context.Context, ownerID, contactID string) error
	AreFriends(ctx context.Context, ownerID, contactID string) (bool, error)
	// AreMutualFriends reports whether both directions exist.
	AreMutualFriends(ctx context.Context, a, b string) (bool, error)
	ListContacts(ctx context.Context, ownerID string) ([]models.User, error)
}

type friendRepository struct {
	db *gorm.DB
}

// NewFriendRepository creates a new friend repository
func NewFriendRepository(db *gorm.DB) FriendRepository {
	return &friendRepository{db: db}
}

func (r *friendRepository) CreateRequest(ctx context.Context, req *models.FriendRequest) error {
	if err := r.db.WithContext(ctx).Create(req).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.NewConflictError("a friend request between these users is already pending")
		}
		return models.NewInternalError(err)
	}
	return nil
}

func (r *friendRepository) GetRequest(ctx context.Context, id string) (*models.FriendRequest, error) {
	var req models.FriendRequest
	if err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "FriendRequest", id)
	}
	return &req, nil
}

func (r *friendRepository) ListPendingFor(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	var reqs []models.FriendRequest
	err := r.db.WithContext(ctx).
		Where("to_user_id = ? AND status = ?", userID, models.FriendRequestPending).
		Order("created_at DESC").
		Find(&reqs).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return reqs, nil
}

func (r *friendRepository) Resolve(ctx context.Context, id string, status models.FriendRequestStatus, at time.Time) (*models.FriendRequest, error) {
	var out models.FriendRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.FriendRequest{}).
			Where("id = ? AND status = ?", id, models.FriendRequestPending).
			Updates(map[string]interface{}{
				"status":       status,
				"pending_key":  nil,
				"responded_at": at,
			})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.First(&out, "id = ?", id).Error; err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return models.NewConflictError("friend request is already " + string(out.Status))
		}

		if status != models.FriendRequestAccepted {
			return nil
		}
		rows := []models.Friendship{
			{OwnerID: out.FromUserID, ContactID: out.ToUserID, CreatedAt: at},
			{OwnerID: out.ToUserID, ContactID: out.FromUserID, CreatedAt: at},
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if err != nil {
		return nil, notFoundOr(err, "FriendRequest", id)
	}
	return &out, nil
}

func (r *friendRepository) AddFriendship(ctx context.Context, ownerID, contactID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending int64
		if err := tx.Model(&models.FriendRequest{}).
			Where("pending_key = ?", models.PairKey(ownerID, contactID)).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return models.NewConflictError("a friend request between these users is pending")
		}
		row := models.Friendship{OwnerID: ownerID, ContactID: contactID}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	})
	return internal(err)
}

func (r *friendRepository) AreFriends(ctx context.Context, ownerID, contactID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Friendship{}).
		Where("owner_id = ? AND contact_id = ?", ownerID, contactID).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count > 0, nil
}

func (r *friendRepository) AreMutualFriends(ctx context.Context, a, b string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Friendship{}).
		Where("(owner_id = ? AND contact_id = ?) OR (owner_id = ? AND contact_id = ?)", a, b, b, a).
		Count(&count).Error
	if err != nil {
		return false, models.NewInternalError(err)
	}
	return count == 2, nil
}

func (r *friendRepository) ListContacts(ctx context.Context, ownerID string) ([]models.User, error) {
	var users []models.User
	err := r.db.WithContext(ctx).
		Joins("JOIN friendships f ON f.contact_id = users.id").
		Where("f.owner_id = ?", ownerID).
		Order("users.username ASC").
		Find(&users).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}
