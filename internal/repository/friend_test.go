package repository

import (
	"context"
	"testing"
	"time"

	"nosmobile/internal/ids"
	"nosmobile/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pendingRequest(from, to string) *models.FriendRequest {
	key := models.PairKey(from, to)
	return &models.FriendRequest{
		ID:         ids.New(),
		FromUserID: from,
		ToUserID:   to,
		Status:     models.FriendRequestPending,
		PendingKey: &key,
	}
}

func TestFriendRepository_SinglePendingPerPair(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFriendRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	require.NoError(t, repo.CreateRequest(ctx, pendingRequest(alice.ID, bob.ID)))

	err := repo.CreateRequest(ctx, pendingRequest(bob.ID, alice.ID))
	assert.True(t, models.IsCode(err, models.CodeConflict))

	pending, err := repo.ListPendingFor(ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestFriendRepository_AcceptCreatesBothDirections(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFriendRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	req := pendingRequest(alice.ID, bob.ID)
	require.NoError(t, repo.CreateRequest(ctx, req))

	resolved, err := repo.Resolve(ctx, req.ID, models.FriendRequestAccepted, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, models.FriendRequestAccepted, resolved.Status)
	assert.Nil(t, resolved.PendingKey)

	ab, err := repo.AreFriends(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	ba, err := repo.AreFriends(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, ab)
	assert.True(t, ba)

	again, err := repo.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.FriendRequestAccepted, again.Status)

	_, err = repo.Resolve(ctx, req.ID, models.FriendRequestDeclined, time.Now().UTC())
	assert.True(t, models.IsCode(err, models.CodeConflict))
}

func TestFriendRepository_DeclineAllowsNewRequest(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFriendRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	first := pendingRequest(alice.ID, bob.ID)
	require.NoError(t, repo.CreateRequest(ctx, first))
	_, err := repo.Resolve(ctx, first.ID, models.FriendRequestDeclined, time.Now().UTC())
	require.NoError(t, err)

	friends, err := repo.AreFriends(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, friends)

	require.NoError(t, repo.CreateRequest(ctx, pendingRequest(alice.ID, bob.ID)))
}

func TestFriendRepository_ResolveUnknown(t *testing.T) {
	db := setupTestDB(t)
	_, err := NewFriendRepository(db).Resolve(context.Background(), "nope", models.FriendRequestAccepted, time.Now())
	assert.True(t, models.IsCode(err, models.CodeNotFound))
}

func TestFriendRepository_ListContacts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFriendRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")
	carol := seedUser(t, db, "carol")

	require.NoError(t, repo.AddFriendship(ctx, alice.ID, carol.ID))
	require.NoError(t, repo.AddFriendship(ctx, alice.ID, bob.ID))
	require.NoError(t, repo.AddFriendship(ctx, alice.ID, bob.ID))

	contacts, err := repo.ListContacts(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "bob", contacts[0].Username)
	assert.Equal(t, "carol", contacts[1].Username)

	none, err := repo.ListContacts(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFriendRepository_MutualAndPendingExclusion(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFriendRepository(db)
	ctx := context.Background()
	alice := seedUser(t, db, "alice")
	bob := seedUser(t, db, "bob")

	require.NoError(t, repo.AddFriendship(ctx, alice.ID, bob.ID))
	mutual, err := repo.AreMutualFriends(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, mutual)

	req := pendingRequest(bob.ID, alice.ID)
	require.NoError(t, repo.CreateRequest(ctx, req))
	err = repo.AddFriendship(ctx, bob.ID, alice.ID)
	assert.True(t, models.IsCode(err, models.CodeConflict))

	_, err = repo.Resolve(ctx, req.ID, models.FriendRequestAccepted, time.Now())
	require.NoError(t, err)
	mutual, err = repo.AreMutualFriends(ctx, bob.ID, alice.ID)
	require.NoError(t, err)
	assert.True(t, mutual)
}
