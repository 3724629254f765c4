package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"nosmobile/internal/blob"
	"nosmobile/internal/config"
	"nosmobile/internal/models"
	"nosmobile/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-12345678901234567890123456789012"

func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "test",
		JWTSecret:         testSecret,
		DBDriver:          "sqlite",
		CallRingTimeout:   time.Second,
		FanoutSendTimeout: 50 * time.Millisecond,
		FanoutWorkers:     8,
		HistoryPageSize:   50,
		STUNURLs:          "stun:stun.example.com:3478, stun:stun2.example.com:3478",
		TURNURL:           "turn:turn.example.com:3478",
		TURNUsername:      "nos",
		TURNPassword:      "secret",
	}
}

func newTestServer(t *testing.T) (*Server, *miniredis.Miniredis) {
	t.Helper()
	db := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s, err := NewServerWithDeps(testConfig(), db, rdb, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.relay.Shutdown(context.Background())
		_ = s.calls.Shutdown(context.Background())
	})
	return s, mr
}

type testUser struct {
	*models.User
	token string
}

func (s *Server) testUser(t *testing.T, username string) testUser {
	t.Helper()
	var res AuthResponse
	status := doJSON(t, s, http.MethodPost, "/api/register", "", RegisterRequest{Username: username}, &res)
	require.Equal(t, http.StatusCreated, status)
	return testUser{User: res.User, token: res.Token}
}

// doJSON sends body as JSON and decodes the response into out when non-nil.
func doJSON(t *testing.T, s *Server, method, path, token string, body, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, out), string(raw))
		}
	}
	return resp.StatusCode
}

func TestHealthChecks(t *testing.T) {
	s, _ := newTestServer(t)

	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/health/live", "", nil, nil))

	var ready map[string]interface{}
	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/health/ready", "", nil, &ready))
	assert.Equal(t, "healthy", ready["status"])
}

func TestReadinessFailsWhenRedisIsDown(t *testing.T) {
	s, mr := newTestServer(t)
	mr.Close()

	var ready map[string]interface{}
	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, s, http.MethodGet, "/health/ready", "", nil, &ready))
	assert.Equal(t, "unhealthy", ready["status"])
}

func TestRegisterIsIdempotentAndLoginNeverCreates(t *testing.T) {
	s, _ := newTestServer(t)

	var first, second AuthResponse
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, "/api/register", "",
		RegisterRequest{Username: "alice", DisplayName: "Alice"}, &first))
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/register", "",
		RegisterRequest{Username: "alice"}, &second))
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.NotEmpty(t, first.Token)

	var login AuthResponse
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/login", "", LoginRequest{Username: "alice"}, &login))
	assert.Equal(t, first.User.ID, login.User.ID)

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusNotFound, doJSON(t, s, http.MethodPost, "/api/login", "", LoginRequest{Username: "nobody"}, &errResp))
	assert.Equal(t, models.CodeNotFound, errResp.Code)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, s, http.MethodPost, "/api/register", "", RegisterRequest{}, &errResp))
	assert.Equal(t, models.CodeValidation, errResp.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s, _ := newTestServer(t)
	alice := s.testUser(t, "alice")

	assert.Equal(t, http.StatusUnauthorized, doJSON(t, s, http.MethodGet, "/api/users/me", "", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, doJSON(t, s, http.MethodGet, "/api/users/me", "not-a-token", nil, nil))

	var me models.User
	assert.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/users/me", alice.token, nil, &me))
	assert.Equal(t, alice.ID, me.ID)
}

func TestFriendChatAndReadFlow(t *testing.T) {
	s, _ := newTestServer(t)
	alice := s.testUser(t, "alice")
	bob := s.testUser(t, "bob")

	var req models.FriendRequest
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, "/api/friends/requests", alice.token,
		FriendRequestBody{Code: bob.Code}, &req))

	var pending []models.FriendRequest
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/friends/requests", bob.token, nil, &pending))
	require.Len(t, pending, 1)

	// Only the addressee may answer.
	assert.Equal(t, http.StatusForbidden, doJSON(t, s, http.MethodPost, "/api/friends/requests/"+req.ID+"/respond", alice.token,
		RespondFriendRequestBody{Accept: true}, nil))
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/friends/requests/"+req.ID+"/respond", bob.token,
		RespondFriendRequestBody{Accept: true}, &req))
	assert.Equal(t, models.FriendRequestAccepted, req.Status)

	var aliceContacts, bobContacts []models.User
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/contacts", alice.token, nil, &aliceContacts))
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/contacts", bob.token, nil, &bobContacts))
	require.Len(t, aliceContacts, 1)
	require.Len(t, bobContacts, 1)
	assert.Equal(t, bob.ID, aliceContacts[0].ID)
	assert.Equal(t, alice.ID, bobContacts[0].ID)

	var conv1, conv2 models.Conversation
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/conversations/direct", alice.token,
		DirectConversationRequest{UserID: bob.ID}, &conv1))
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/conversations/direct", bob.token,
		DirectConversationRequest{UserID: alice.ID}, &conv2))
	assert.Equal(t, conv1.ID, conv2.ID)

	var sent models.Message
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, "/api/conversations/"+conv1.ID+"/messages", alice.token,
		SendMessageRequest{Content: "hi"}, &sent))
	assert.Equal(t, models.StatusSent, sent.Status)

	var history []models.Message
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/conversations/"+conv1.ID+"/messages", bob.token, nil, &history))
	require.Len(t, history, 1)
	assert.Equal(t, "hi", history[0].Content)

	msgID := strconv.FormatInt(history[0].ID, 10)
	var read models.Message
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/messages/"+msgID+"/read", bob.token, nil, &read))
	assert.Equal(t, models.StatusRead, read.Status)

	assert.Equal(t, http.StatusNoContent, doJSON(t, s, http.MethodPut, "/api/messages/"+msgID+"/reaction", bob.token,
		ReactRequest{Reaction: "👍"}, nil))
	assert.Equal(t, http.StatusNoContent, doJSON(t, s, http.MethodPost, "/api/messages/"+msgID+"/star", bob.token, nil, nil))

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/conversations/"+conv1.ID+"/messages", bob.token, nil, &history))
	assert.Equal(t, map[string]string{bob.ID: "👍"}, history[0].Reactions)
	assert.True(t, history[0].Starred)

	var summaries []models.ConversationSummary
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/conversations", alice.token, nil, &summaries))
	require.Len(t, summaries, 1)
	require.NotNil(t, summaries[0].LastMessage)
	assert.Equal(t, "hi", summaries[0].LastMessage.Content)
}

func TestOutsidersAreRejected(t *testing.T) {
	s, _ := newTestServer(t)
	alice := s.testUser(t, "alice")
	bob := s.testUser(t, "bob")
	mallory := s.testUser(t, "mallory")

	var conv models.Conversation
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/conversations/direct", alice.token,
		DirectConversationRequest{UserID: bob.ID}, &conv))

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusForbidden, doJSON(t, s, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", mallory.token,
		SendMessageRequest{Content: "let me in"}, &errResp))
	assert.Equal(t, models.CodeNotParticipant, errResp.Code)

	assert.Equal(t, http.StatusForbidden, doJSON(t, s, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", mallory.token, nil, nil))
	assert.Equal(t, http.StatusBadRequest, doJSON(t, s, http.MethodPost, "/api/messages/not-a-number/read", alice.token, nil, nil))
	assert.Equal(t, http.StatusNotFound, doJSON(t, s, http.MethodPost, "/api/calls/missing/answer", bob.token,
		AnswerCallRequest{Accept: true}, nil))
}

func TestGroupAndCallRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	alice := s.testUser(t, "alice")
	bob := s.testUser(t, "bob")
	carol := s.testUser(t, "carol")

	var errResp models.ErrorResponse
	assert.Equal(t, http.StatusBadRequest, doJSON(t, s, http.MethodPost, "/api/conversations/groups", alice.token,
		CreateGroupRequest{Name: "empty"}, &errResp))
	assert.Equal(t, models.CodeEmptyGroup, errResp.Code)

	var group models.Conversation
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, "/api/conversations/groups", alice.token,
		CreateGroupRequest{Name: "trip", MemberIDs: []string{bob.ID, carol.ID}}, &group))
	assert.True(t, group.IsGroup)

	var call models.Call
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, "/api/calls", alice.token,
		StartCallRequest{ConversationID: group.ID, CallType: models.CallVideo, Offer: json.RawMessage(`{"sdp":"o"}`)}, &call))
	assert.Equal(t, models.CallRinging, call.Status)

	assert.Equal(t, http.StatusBadRequest, doJSON(t, s, http.MethodPost, "/api/calls", bob.token,
		StartCallRequest{ConversationID: group.ID, CallType: "hologram", Offer: json.RawMessage(`{}`)}, nil))
	assert.Equal(t, http.StatusConflict, doJSON(t, s, http.MethodPost, "/api/calls", bob.token,
		StartCallRequest{ConversationID: group.ID, CallType: models.CallVoice, Offer: json.RawMessage(`{}`)}, nil))

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/calls/"+call.ID+"/answer", carol.token,
		AnswerCallRequest{Accept: true, Answer: json.RawMessage(`{"sdp":"a"}`)}, &call))
	assert.Equal(t, models.CallActive, call.Status)
	assert.Equal(t, carol.ID, call.ToUserID)

	assert.Equal(t, http.StatusAccepted, doJSON(t, s, http.MethodPost, "/api/calls/"+call.ID+"/signal", carol.token,
		CallSignalRequest{Signal: json.RawMessage(`{"candidate":"c"}`)}, nil))

	// Answered calls cannot be answered again.
	assert.Equal(t, http.StatusConflict, doJSON(t, s, http.MethodPost, "/api/calls/"+call.ID+"/answer", bob.token,
		AnswerCallRequest{Accept: true}, nil))

	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/calls/"+call.ID+"/end", alice.token, nil, &call))
	assert.Equal(t, models.CallEnded, call.Status)

	var history []models.Call
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/conversations/"+group.ID+"/calls", bob.token, nil, &history))
	require.Len(t, history, 1)
	assert.Equal(t, models.CallEnded, history[0].Status)
}

func TestWebRTCConfig(t *testing.T) {
	s, _ := newTestServer(t)

	var body struct {
		ICEServers []ICEServer `json:"ice_servers"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/webrtc/config", "", nil, &body))
	require.Len(t, body.ICEServers, 2)
	assert.Equal(t, []string{"stun:stun.example.com:3478", "stun:stun2.example.com:3478"}, body.ICEServers[0].URLs)
	assert.Equal(t, "nos", body.ICEServers[1].Username)
}

func TestIssueWSTicket(t *testing.T) {
	s, mr := newTestServer(t)
	alice := s.testUser(t, "alice")

	var body struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/ws/ticket", alice.token, nil, &body))
	assert.NotEmpty(t, body.Ticket)
	assert.Equal(t, 30, body.ExpiresIn)
	got, err := mr.Get("ws_ticket:" + body.Ticket)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got)
}

type fakeSigner struct{}

func (fakeSigner) PresignedGetObject(_ context.Context, bucket, object string, _ time.Duration, _ url.Values) (*url.URL, error) {
	return url.Parse("https://blobs.example.com/" + bucket + "/" + object + "?sig=1")
}

func TestBlobURL(t *testing.T) {
	s, _ := newTestServer(t)
	alice := s.testUser(t, "alice")

	assert.Equal(t, http.StatusServiceUnavailable, doJSON(t, s, http.MethodGet, "/api/blobs/url?handle=a.png", alice.token, nil, nil))

	s.blobs = blob.NewWithSigner(fakeSigner{}, "media", time.Minute)
	var body map[string]interface{}
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodGet, "/api/blobs/url?handle=images/a.png", alice.token, nil, &body))
	assert.Equal(t, "https://blobs.example.com/media/images/a.png?sig=1", body["url"])

	assert.Equal(t, http.StatusBadRequest, doJSON(t, s, http.MethodGet, "/api/blobs/url?handle=../x", alice.token, nil, nil))
}

func TestWebsocketRouteNeedsUpgrade(t *testing.T) {
	s, _ := newTestServer(t)
	assert.Equal(t, http.StatusUpgradeRequired, doJSON(t, s, http.MethodGet, "/ws", "", nil, nil))
}

func TestRestartEndsOrphanedCalls(t *testing.T) {
	s, mr := newTestServer(t)
	alice := s.testUser(t, "alice")
	bob := s.testUser(t, "bob")

	var conv models.Conversation
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/conversations/direct", alice.token,
		DirectConversationRequest{UserID: bob.ID}, &conv))
	var call models.Call
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, "/api/calls", alice.token,
		StartCallRequest{ConversationID: conv.ID, CallType: models.CallVoice, Offer: json.RawMessage(`{"sdp":"o"}`)}, &call))

	// The process dies long after the ring deadline passed.
	require.NoError(t, s.calls.Shutdown(context.Background()))
	require.NoError(t, s.db.Model(&models.Call{}).Where("id = ?", call.ID).
		Update("created_at", time.Now().Add(-time.Hour)).Error)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	restarted, err := NewServerWithDeps(testConfig(), s.db, rdb, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = restarted.relay.Shutdown(context.Background())
		_ = restarted.calls.Shutdown(context.Background())
	})

	var history []models.Call
	require.Equal(t, http.StatusOK, doJSON(t, restarted, http.MethodGet, "/api/conversations/"+conv.ID+"/calls", bob.token, nil, &history))
	require.Len(t, history, 1)
	assert.Equal(t, models.CallEnded, history[0].Status)
	assert.Equal(t, models.EndReasonTimeout, history[0].EndReason)

	assert.Equal(t, http.StatusCreated, doJSON(t, restarted, http.MethodPost, "/api/calls", bob.token,
		StartCallRequest{ConversationID: conv.ID, CallType: models.CallVoice, Offer: json.RawMessage(`{"sdp":"o"}`)}, nil))
}

func TestStaleOfflineCallbackKeepsUserOnline(t *testing.T) {
	s, _ := newTestServer(t)
	alice := s.testUser(t, "alice")
	ctx := context.Background()

	client, err := s.relay.Bind(ctx, alice.ID, nil)
	require.NoError(t, err)
	user, err := s.identity.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, user.Online)

	// An offline handler that lost the race with a reconnect.
	s.onUserOffline(alice.ID)
	user, err = s.identity.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, user.Online)

	require.True(t, s.relay.Unbind(client))
	user, err = s.identity.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, user.Online)
}
