package repository

import (
	"context"
	"time"

	"nosmobile/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserRepository defines the interface for user data operations
type UserRepository interface {
	// CreateIfAbsent inserts u unless its username is taken and reports whether a row was written.
	CreateIfAbsent(ctx context.Context, u *models.User) (bool, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByCode(ctx context.Context, code string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []string) ([]models.User, error)
	// SetPresence updates the online flag and last-seen time; it reports false for unknown users.
	SetPresence(ctx context.Context, id string, online bool, at time.Time) (bool, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) CreateIfAbsent(ctx context.Context, u *models.User) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "username"}}, DoNothing: true}).
		Create(u)
	if res.Error != nil {
		if isUniqueConstraintError(res.Error) {
			return false, models.NewConflictError("user code already in use")
		}
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFoundOr(err, "User", id)
	}
	return &u, nil
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "username = ?", username).Error; err != nil {
		return nil, notFoundOr(err, "User", username)
	}
	return &u, nil
}

func (r *userRepository) GetByCode(ctx context.Context, code string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, "code = ?", code).Error; err != nil {
		return nil, notFoundOr(err, "User", code)
	}
	return &u, nil
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("username ASC").Find(&users).Error; err != nil {
		return nil, models.NewInternalError(err)
	}
	return users, nil
}

func (r *userRepository) SetPresence(ctx context.Context, id string, online bool, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"online": online, "last_seen_at": at})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	return res.RowsAffected > 0, nil
}
