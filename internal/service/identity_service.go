package service

import (
	"context"
	"strings"
	"time"

	"nosmobile/internal/cache"
	"nosmobile/internal/ids"
	"nosmobile/internal/models"
	"nosmobile/internal/observability"
	"nosmobile/internal/repository"
	"nosmobile/internal/validation"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	maxUsernameLength = validation.MaxUsernameLength
	codeAttempts      = 5
	userCacheTTL      = 5 * time.Minute
)

// IdentityService owns users, contacts and stored presence.
type IdentityService struct {
	userRepo   repository.UserRepository
	friendRepo repository.FriendRepository
	redis      *redis.Client

	presenceLocks *keyedMutex
}

// RegisterInput is the input for registering a user.
type RegisterInput struct {
	Username    string
	DisplayName string
	Phone       string
	Avatar      string
}

// NewIdentityService returns a new IdentityService. rdb may be nil.
func NewIdentityService(userRepo repository.UserRepository, friendRepo repository.FriendRepository, rdb *redis.Client) *IdentityService {
	return &IdentityService{
		userRepo:      userRepo,
		friendRepo:    friendRepo,
		redis:         rdb,
		presenceLocks: newKeyedMutex(),
	}
}

func userCacheKey(id string) string {
	return "user:" + id
}

// Register creates a user, or returns the existing user when the username is
// already taken. created reports which of the two happened.
func (s *IdentityService) Register(ctx context.Context, in RegisterInput) (user *models.User, created bool, err error) {
	ctx, span := observability.StartSpan(ctx, "IdentityService.Register")
	defer func() { observability.EndSpan(span, err) }()

	username := strings.TrimSpace(in.Username)
	if err := validation.ValidateUsername(username); err != nil {
		return nil, false, models.NewValidationError(err.Error())
	}
	phone := strings.TrimSpace(in.Phone)
	if err := validation.ValidatePhone(phone); err != nil {
		return nil, false, models.NewValidationError(err.Error())
	}
	displayName := strings.TrimSpace(in.DisplayName)
	if displayName == "" {
		displayName = username
	}

	for attempt := 0; attempt < codeAttempts; attempt++ {
		u := &models.User{
			ID:          ids.New(),
			Username:    username,
			DisplayName: displayName,
			Code:        ids.Code(),
			Phone:       phone,
			Avatar:      in.Avatar,
			StatusText:  models.DefaultStatusText,
		}
		inserted, err := s.userRepo.CreateIfAbsent(ctx, u)
		if models.IsCode(err, models.CodeConflict) {
			// Code collision; draw another.
			continue
		}
		if err != nil {
			return nil, false, err
		}
		if inserted {
			observability.Info(ctx, "user registered", zap.String("registered_user_id", u.ID))
			return u, true, nil
		}
		existing, err := s.userRepo.GetByUsername(ctx, username)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return nil, false, models.NewConflictError("could not allocate a unique user code")
}

// Login returns the user registered under username. It never creates one.
func (s *IdentityService) Login(ctx context.Context, username string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, models.NewValidationError("username is required")
	}
	return s.userRepo.GetByUsername(ctx, username)
}

// GetUser returns a user by id, read through the redis cache when configured.
func (s *IdentityService) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := cache.Aside(ctx, s.redis, userCacheKey(id), &u, userCacheTTL, func() error {
		found, err := s.userRepo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		u = *found
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByCode resolves a shareable user code.
func (s *IdentityService) GetByCode(ctx context.Context, code string) (*models.User, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, models.NewValidationError("code is required")
	}
	return s.userRepo.GetByCode(ctx, code)
}

// GetUsers returns the users with the given ids, skipping unknown ones.
func (s *IdentityService) GetUsers(ctx context.Context, userIDs []string) ([]models.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	return s.userRepo.GetByIDs(ctx, userIDs)
}

// SetOnline updates the stored presence of a user. Unknown users are logged
// and ignored.
func (s *IdentityService) SetOnline(ctx context.Context, userID string, online bool) error {
	found, err := s.userRepo.SetPresence(ctx, userID, online, time.Now().UTC())
	if err != nil {
		return err
	}
	if !found {
		observability.Warn(ctx, "presence update for unknown user",
			zap.String("target_user_id", userID), zap.Bool("online", online))
		return nil
	}
	if err := cache.Delete(ctx, s.redis, userCacheKey(userID)); err != nil {
		observability.Debug(ctx, "user cache invalidation failed", zap.Error(err))
	}
	return nil
}

// SyncPresence stores the presence reported by connected and returns it.
// connected is evaluated under a per-user lock, so overlapping connect and
// disconnect handlers settle on the current connection state.
func (s *IdentityService) SyncPresence(ctx context.Context, userID string, connected func() bool) (bool, error) {
	unlock := s.presenceLocks.Lock(userID)
	defer unlock()
	online := connected()
	return online, s.SetOnline(ctx, userID, online)
}

// AddContact adds contactID to ownerID's contact list. The relation is
// one-directional; friend requests create both directions. It fails with a
// conflict while a friend request between the pair is pending.
func (s *IdentityService) AddContact(ctx context.Context, ownerID, contactID string) error {
	if ownerID == contactID {
		return models.NewConflictError("cannot add yourself as a contact")
	}
	if _, err := s.userRepo.GetByID(ctx, contactID); err != nil {
		return err
	}
	return s.friendRepo.AddFriendship(ctx, ownerID, contactID)
}

// ListContacts returns ownerID's contacts ordered by username.
func (s *IdentityService) ListContacts(ctx context.Context, ownerID string) ([]models.User, error) {
	return s.friendRepo.ListContacts(ctx, ownerID)
}

// IsFriend reports whether contactID is in ownerID's contact list.
func (s *IdentityService) IsFriend(ctx context.Context, ownerID, contactID string) (bool, error) {
	return s.friendRepo.AreFriends(ctx, ownerID, contactID)
}
