package service

import (
	"context"
	"time"

	"nosmobile/internal/ids"
	"nosmobile/internal/models"
	"nosmobile/internal/observability"
	"nosmobile/internal/repository"
)

// FriendService provides friend-request and friendship business logic.
type FriendService struct {
	friendRepo repository.FriendRepository
	userRepo   repository.UserRepository
	publisher  Publisher
}

// NewFriendService returns a new FriendService.
func NewFriendService(friendRepo repository.FriendRepository, userRepo repository.UserRepository, publisher Publisher) *FriendService {
	return &FriendService{
		friendRepo: friendRepo,
		userRepo:   userRepo,
		publisher:  publisherOrNop(publisher),
	}
}

// SendRequest sends a friend request to the target user.
func (s *FriendService) SendRequest(ctx context.Context, fromID, toID string) (req *models.FriendRequest, err error) {
	ctx, span := observability.StartSpan(ctx, "FriendService.SendRequest")
	defer func() { observability.EndSpan(span, err) }()

	if toID == "" {
		return nil, models.NewValidationError("target user is required")
	}
	if fromID == toID {
		return nil, models.NewConflictError("cannot send friend request to yourself")
	}

	sender, err := s.userRepo.GetByID(ctx, fromID)
	if err != nil {
		return nil, err
	}
	if _, err := s.userRepo.GetByID(ctx, toID); err != nil {
		return nil, err
	}

	friends, err := s.friendRepo.AreMutualFriends(ctx, fromID, toID)
	if err != nil {
		return nil, err
	}
	if friends {
		return nil, models.NewConflictError("you are already friends")
	}

	key := models.PairKey(fromID, toID)
	req = &models.FriendRequest{
		ID:         ids.New(),
		FromUserID: fromID,
		ToUserID:   toID,
		Status:     models.FriendRequestPending,
		PendingKey: &key,
	}
	if err := s.friendRepo.CreateRequest(ctx, req); err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, models.EventFriendRequestReceived,
		models.FriendRequestEvent{Request: req, User: sender}, toID)
	return req, nil
}

// SendRequestByCode sends a friend request to the user owning code.
func (s *FriendService) SendRequestByCode(ctx context.Context, fromID, code string) (*models.FriendRequest, error) {
	if code == "" {
		return nil, models.NewValidationError("code is required")
	}
	target, err := s.userRepo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.SendRequest(ctx, fromID, target.ID)
}

// Respond accepts or declines a pending request addressed to userID.
func (s *FriendService) Respond(ctx context.Context, userID, requestID string, accept bool) (req *models.FriendRequest, err error) {
	ctx, span := observability.StartSpan(ctx, "FriendService.Respond")
	defer func() { observability.EndSpan(span, err) }()

	req, err = s.friendRepo.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ToUserID != userID {
		return nil, models.NewNotParticipantError("friend request", requestID)
	}

	status := models.FriendRequestDeclined
	if accept {
		status = models.FriendRequestAccepted
	}
	req, err = s.friendRepo.Resolve(ctx, requestID, status, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if accept {
		responder, err := s.userRepo.GetByID(ctx, userID)
		if err != nil {
			// The friendship is already stored; only the event loses its profile.
			responder = &models.User{ID: userID}
		}
		s.publisher.Publish(ctx, models.EventFriendRequestAccepted,
			models.FriendRequestEvent{Request: req, User: responder}, req.FromUserID)
	}
	return req, nil
}

// ListPending returns pending requests addressed to userID.
func (s *FriendService) ListPending(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	return s.friendRepo.ListPendingFor(ctx, userID)
}
