package service

import (
	"context"
	"testing"
	"time"

	"nosmobile/internal/models"
	"nosmobile/internal/repository"
	"nosmobile/internal/testutil"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type harness struct {
	db       *gorm.DB
	pub      *testutil.RecordingPublisher
	identity *IdentityService
	friends  *FriendService
	convs    *ConversationService
	messages *MessageService
	calls    *CallService
}

func newHarness(t *testing.T, ringTimeout time.Duration) *harness {
	t.Helper()
	db := testutil.NewTestDB(t)
	pub := &testutil.RecordingPublisher{}

	userRepo := repository.NewUserRepository(db)
	friendRepo := repository.NewFriendRepository(db)
	convRepo := repository.NewConversationRepository(db)
	msgRepo := repository.NewMessageRepository(db)
	callRepo := repository.NewCallRepository(db)

	convs := NewConversationService(convRepo, userRepo, pub)
	h := &harness{
		db:       db,
		pub:      pub,
		identity: NewIdentityService(userRepo, friendRepo, nil),
		friends:  NewFriendService(friendRepo, userRepo, pub),
		convs:    convs,
		messages: NewMessageService(msgRepo, userRepo, convs, pub, 50),
		calls:    NewCallService(callRepo, userRepo, convs, pub, ringTimeout),
	}
	t.Cleanup(func() { _ = h.calls.Shutdown(context.Background()) })
	return h
}

func (h *harness) register(t *testing.T, username string) *models.User {
	t.Helper()
	u, created, err := h.identity.Register(context.Background(), RegisterInput{Username: username})
	require.NoError(t, err)
	require.True(t, created)
	return u
}

func (h *harness) direct(t *testing.T, a, b *models.User) *models.Conversation {
	t.Helper()
	conv, err := h.convs.ResolveDirect(context.Background(), a.ID, b.ID)
	require.NoError(t, err)
	return conv
}
