package service

import (
	"context"
	"testing"

	"nosmobile/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFriendService_RequestByCodeAndAccept(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")

	req, err := h.friends.SendRequestByCode(ctx, alice.ID, bob.Code)
	require.NoError(t, err)
	assert.Equal(t, models.FriendRequestPending, req.Status)

	received := h.pub.SentTo(models.EventFriendRequestReceived, bob.ID)
	require.Len(t, received, 1)
	evt := received[0].Payload.(models.FriendRequestEvent)
	assert.Equal(t, alice.ID, evt.User.ID)

	pending, err := h.friends.ListPending(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	accepted, err := h.friends.Respond(ctx, bob.ID, req.ID, true)
	require.NoError(t, err)
	assert.Equal(t, models.FriendRequestAccepted, accepted.Status)
	assert.Len(t, h.pub.SentTo(models.EventFriendRequestAccepted, alice.ID), 1)

	for _, pair := range [][2]string{{alice.ID, bob.ID}, {bob.ID, alice.ID}} {
		ok, err := h.identity.IsFriend(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, ok)
	}
	aliceContacts, err := h.identity.ListContacts(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, aliceContacts, 1)
	assert.Equal(t, bob.ID, aliceContacts[0].ID)

	_, err = h.friends.SendRequest(ctx, bob.ID, alice.ID)
	assert.True(t, models.IsCode(err, models.CodeConflict))

	_, err = h.friends.Respond(ctx, bob.ID, req.ID, false)
	assert.True(t, models.IsCode(err, models.CodeConflict))
}

func TestFriendService_SendRequestErrors(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")

	_, err := h.friends.SendRequest(ctx, alice.ID, alice.ID)
	assert.True(t, models.IsCode(err, models.CodeConflict))

	_, err = h.friends.SendRequest(ctx, alice.ID, "missing")
	assert.True(t, models.IsCode(err, models.CodeNotFound))

	_, err = h.friends.SendRequestByCode(ctx, alice.ID, "ZZZZZZZZ")
	assert.True(t, models.IsCode(err, models.CodeNotFound))

	_, err = h.friends.SendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = h.friends.SendRequest(ctx, bob.ID, alice.ID)
	assert.True(t, models.IsCode(err, models.CodeConflict))

	assert.Len(t, h.pub.OfType(models.EventFriendRequestReceived), 1)
}

func TestFriendService_OnlyAddresseeResponds(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")

	req, err := h.friends.SendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	_, err = h.friends.Respond(ctx, alice.ID, req.ID, true)
	assert.True(t, models.IsCode(err, models.CodeNotParticipant))

	declined, err := h.friends.Respond(ctx, bob.ID, req.ID, false)
	require.NoError(t, err)
	assert.Equal(t, models.FriendRequestDeclined, declined.Status)
	assert.Empty(t, h.pub.OfType(models.EventFriendRequestAccepted))

	// A declined request does not block a new one.
	_, err = h.friends.SendRequest(ctx, alice.ID, bob.ID)
	assert.NoError(t, err)
}

func TestFriendService_PendingRequestBlocksContactAdd(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")

	req, err := h.friends.SendRequest(ctx, alice.ID, bob.ID)
	require.NoError(t, err)

	for _, pair := range [][2]string{{alice.ID, bob.ID}, {bob.ID, alice.ID}} {
		err := h.identity.AddContact(ctx, pair[0], pair[1])
		assert.True(t, models.IsCode(err, models.CodeConflict))
	}
	friends, err := h.identity.IsFriend(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, friends)

	_, err = h.friends.Respond(ctx, bob.ID, req.ID, false)
	require.NoError(t, err)
	assert.NoError(t, h.identity.AddContact(ctx, alice.ID, bob.ID))
}

func TestFriendService_OneWayContactDoesNotBlockRequest(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	alice := h.register(t, "alice")
	carol := h.register(t, "carol")

	require.NoError(t, h.identity.AddContact(ctx, alice.ID, carol.ID))

	req, err := h.friends.SendRequest(ctx, alice.ID, carol.ID)
	require.NoError(t, err)
	_, err = h.friends.Respond(ctx, carol.ID, req.ID, true)
	require.NoError(t, err)

	for _, pair := range [][2]string{{alice.ID, carol.ID}, {carol.ID, alice.ID}} {
		friends, err := h.identity.IsFriend(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.True(t, friends)
	}

	_, err = h.friends.SendRequest(ctx, carol.ID, alice.ID)
	assert.True(t, models.IsCode(err, models.CodeConflict))
}
