package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"nosmobile/internal/models"
	"nosmobile/internal/notifications"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wsReadTimeout = 3 * time.Second

func listen(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = s.app.Listener(ln) }()
	t.Cleanup(func() { _ = s.app.Shutdown() })
	return ln.Addr().String()
}

type wsConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, addr string, query url.Values) *wsConn {
	t.Helper()
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws", RawQuery: query.Encode()}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	ws := &wsConn{t: t, conn: conn}
	t.Cleanup(func() { _ = conn.Close() })
	// A pong proves the connection is bound.
	ws.send("ping", "ready", nil)
	ws.waitFor("pong")
	return ws
}

func (w *wsConn) send(command, ref string, payload interface{}) {
	w.t.Helper()
	env := notifications.Envelope{Type: command, Ref: ref}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(w.t, err)
		env.Payload = raw
	}
	require.NoError(w.t, w.conn.WriteJSON(env))
}

func (w *wsConn) next() notifications.Envelope {
	w.t.Helper()
	require.NoError(w.t, w.conn.SetReadDeadline(time.Now().Add(wsReadTimeout)))
	var env notifications.Envelope
	require.NoError(w.t, w.conn.ReadJSON(&env))
	return env
}

// waitFor skips frames until one of the given type arrives.
func (w *wsConn) waitFor(eventType string) notifications.Envelope {
	w.t.Helper()
	for {
		env := w.next()
		if env.Type == eventType {
			return env
		}
	}
}

func (w *wsConn) ack(ref string) Ack {
	w.t.Helper()
	for {
		env := w.waitFor(notifications.EventAck)
		var ack Ack
		require.NoError(w.t, json.Unmarshal(env.Payload, &ack))
		if ack.Ref == ref {
			return ack
		}
	}
}

func befriend(t *testing.T, s *Server, a, b testUser) *models.Conversation {
	t.Helper()
	var req models.FriendRequest
	require.Equal(t, http.StatusCreated, doJSON(t, s, http.MethodPost, "/api/friends/requests", a.token,
		FriendRequestBody{ToUserID: b.ID}, &req))
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/friends/requests/"+req.ID+"/respond", b.token,
		RespondFriendRequestBody{Accept: true}, nil))
	var conv models.Conversation
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/conversations/direct", a.token,
		DirectConversationRequest{UserID: b.ID}, &conv))
	return &conv
}

func jsonID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestWebsocket_ChatRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	addr := listen(t, s)
	alice := s.testUser(t, "alice")
	bob := s.testUser(t, "bob")
	conv := befriend(t, s, alice, bob)

	bobWS := dialWS(t, addr, url.Values{"token": {bob.token}})
	aliceWS := dialWS(t, addr, url.Values{"token": {alice.token}})

	online := decode[models.PresenceEvent](t, bobWS.waitFor(models.EventPresenceChanged).Payload)
	assert.Equal(t, alice.ID, online.UserID)
	assert.True(t, online.Online)

	aliceWS.send("send_message", "m1", SendMessageRequest{ConversationID: conv.ID, Content: "hi bob"})
	ack := aliceWS.ack("m1")
	require.True(t, ack.OK, ack.Error)

	delivered := decode[models.Message](t, bobWS.waitFor(models.EventNewMessage).Payload)
	assert.Equal(t, "hi bob", delivered.Content)
	assert.Equal(t, alice.ID, delivered.SenderID)
	assert.Equal(t, models.StatusSent, delivered.Status)

	bobWS.send("mark_read", "r1", MessageRefRequest{MessageID: jsonID(delivered.ID)})
	require.True(t, bobWS.ack("r1").OK)

	status := decode[models.MessageStatusEvent](t, aliceWS.waitFor(models.EventMessageStatusChanged).Payload)
	assert.Equal(t, delivered.ID, status.MessageID)
	assert.Equal(t, models.StatusRead, status.Status)
	assert.Equal(t, bob.ID, status.ReaderID)

	bobWS.send("react", "x1", ReactRequest{MessageID: jsonID(delivered.ID), Reaction: "❤️"})
	require.True(t, bobWS.ack("x1").OK)
	reaction := decode[models.ReactionEvent](t, aliceWS.waitFor(models.EventMessageReaction).Payload)
	assert.Equal(t, "❤️", reaction.Reaction)
}

func TestWebsocket_TypingIsNotEchoed(t *testing.T) {
	s, _ := newTestServer(t)
	addr := listen(t, s)
	alice := s.testUser(t, "alice")
	bob := s.testUser(t, "bob")
	conv := befriend(t, s, alice, bob)

	bobWS := dialWS(t, addr, url.Values{"token": {bob.token}})
	aliceWS := dialWS(t, addr, url.Values{"token": {alice.token}})

	aliceWS.send("typing", "t1", TypingRequest{ConversationID: conv.ID, IsTyping: true})
	// The typing event is published before the ack, so an echo would arrive first.
	first := aliceWS.next()
	assert.Equal(t, notifications.EventAck, first.Type)

	typing := decode[models.TypingEvent](t, bobWS.waitFor(models.EventTyping).Payload)
	assert.Equal(t, alice.ID, typing.UserID)
	assert.True(t, typing.IsTyping)

	// Dropping the connection clears the typing flag for everyone else.
	require.NoError(t, aliceWS.conn.Close())
	for {
		env := bobWS.waitFor(models.EventTyping)
		if ev := decode[models.TypingEvent](t, env.Payload); !ev.IsTyping {
			assert.Equal(t, alice.ID, ev.UserID)
			break
		}
	}
}

func TestWebsocket_CommandErrors(t *testing.T) {
	s, _ := newTestServer(t)
	addr := listen(t, s)
	alice := s.testUser(t, "alice")
	bob := s.testUser(t, "bob")
	mallory := s.testUser(t, "mallory")
	conv := befriend(t, s, alice, bob)

	ws := dialWS(t, addr, url.Values{"token": {mallory.token}})

	ws.send("teleport", "u1", map[string]string{})
	ack := ws.ack("u1")
	assert.False(t, ack.OK)
	assert.Equal(t, models.CodeValidation, ack.Code)

	ws.send("send_message", "m1", SendMessageRequest{ConversationID: conv.ID, Content: "sneaky"})
	ack = ws.ack("m1")
	assert.False(t, ack.OK)
	assert.Equal(t, models.CodeNotParticipant, ack.Code)

	ws.send("send_message", "m2", nil)
	assert.Equal(t, models.CodeValidation, ws.ack("m2").Code)

	require.NoError(t, ws.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ack = decode[Ack](t, ws.waitFor(notifications.EventAck).Payload)
	assert.False(t, ack.OK)
	assert.Equal(t, models.CodeValidation, ack.Code)

	ws.send("ping", "p1", nil)
	pong := decode[map[string]string](t, ws.waitFor(notifications.EventPong).Payload)
	assert.Equal(t, "p1", pong["ref"])
}

func TestWebsocket_DisconnectEndsCallsAndPresence(t *testing.T) {
	s, _ := newTestServer(t)
	addr := listen(t, s)
	alice := s.testUser(t, "alice")
	bob := s.testUser(t, "bob")
	conv := befriend(t, s, alice, bob)

	bobWS := dialWS(t, addr, url.Values{"token": {bob.token}})
	aliceWS := dialWS(t, addr, url.Values{"token": {alice.token}})

	aliceWS.send("start_call", "c1", StartCallRequest{
		ConversationID: conv.ID, CallType: models.CallVideo, Offer: json.RawMessage(`{"sdp":"offer"}`),
	})
	ack := aliceWS.ack("c1")
	require.True(t, ack.OK, ack.Error)

	incoming := decode[models.CallEvent](t, bobWS.waitFor(models.EventIncomingCall).Payload)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(incoming.Payload))
	assert.Equal(t, "alice", incoming.CallerName)

	bobWS.send("answer_call", "a1", AnswerCallRequest{CallID: incoming.CallID, Accept: true, Answer: json.RawMessage(`{"sdp":"answer"}`)})
	require.True(t, bobWS.ack("a1").OK)
	accepted := decode[models.CallEvent](t, aliceWS.waitFor(models.EventCallAccepted).Payload)
	assert.JSONEq(t, `{"sdp":"answer"}`, string(accepted.Payload))

	aliceWS.send("call_signal", "s1", CallSignalRequest{CallID: incoming.CallID, Signal: json.RawMessage(`{"candidate":"c"}`)})
	require.True(t, aliceWS.ack("s1").OK)
	signal := decode[models.CallEvent](t, bobWS.waitFor(models.EventCallSignal).Payload)
	assert.JSONEq(t, `{"candidate":"c"}`, string(signal.Payload))

	require.NoError(t, aliceWS.conn.Close())

	ended := decode[models.CallEvent](t, bobWS.waitFor(models.EventCallEnded).Payload)
	assert.Equal(t, incoming.CallID, ended.CallID)
	assert.Equal(t, models.EndReasonDisconnected, ended.Reason)

	offline := decode[models.PresenceEvent](t, bobWS.waitFor(models.EventPresenceChanged).Payload)
	assert.Equal(t, alice.ID, offline.UserID)
	assert.False(t, offline.Online)
	assert.NotNil(t, offline.LastSeenAt)

	user, err := s.identity.GetUser(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.False(t, user.Online)
}

func TestWebsocket_TicketIsSingleUse(t *testing.T) {
	s, _ := newTestServer(t)
	addr := listen(t, s)
	alice := s.testUser(t, "alice")

	var body struct {
		Ticket string `json:"ticket"`
	}
	require.Equal(t, http.StatusOK, doJSON(t, s, http.MethodPost, "/api/ws/ticket", alice.token, nil, &body))

	dialWS(t, addr, url.Values{"ticket": {body.Ticket}})

	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws", RawQuery: url.Values{"ticket": {body.Ticket}}.Encode()}
	_, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, websocket.ErrBadHandshake))
	require.NotNil(t, resp)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNewAck(t *testing.T) {
	ok := newAck("r", map[string]int{"n": 1}, nil)
	assert.True(t, ok.OK)
	assert.Equal(t, "r", ok.Ref)

	notFound := newAck("r", nil, models.NewNotFoundError("message", "1"))
	assert.False(t, notFound.OK)
	assert.Equal(t, models.CodeNotFound, notFound.Code)
	assert.NotEmpty(t, notFound.Error)

	internal := newAck("r", nil, errors.New("connection refused to 10.0.0.3"))
	assert.Equal(t, models.CodeInternal, internal.Code)
	assert.Equal(t, "Internal server error", internal.Error)
}

func TestParseMessageID(t *testing.T) {
	id, err := parseMessageID("1780000000000000001")
	require.NoError(t, err)
	assert.Equal(t, int64(1780000000000000001), id)

	for _, bad := range []string{"", "abc", "-5", "0"} {
		_, err := parseMessageID(bad)
		assert.True(t, models.IsCode(err, models.CodeValidation), bad)
	}
}
