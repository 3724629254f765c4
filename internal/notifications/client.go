package notifications

import (
	"context"
	"sync"
	"time"

	"nosmobile/internal/observability"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Call offers carry SDP blobs.
	maxMessageSize = 65536

	sendBufferSize = 256
)

// Client is one bound websocket connection. The relay owns the binding; the
// client only knows the user id the relay assigned to it.
type Client struct {
	relay *Relay

	// The websocket connection. Nil in tests.
	Conn *websocket.Conn

	// Buffered channel of outbound frames. It is never closed; done signals
	// the end of the connection instead.
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	userID  string
	limiter *rate.Limiter

	typingMu sync.Mutex
	typing   map[string]bool

	// Callback for handling incoming frames.
	IncomingHandler func(*Client, []byte)
}

func newClient(relay *Relay, conn *websocket.Conn, userID string, limiter *rate.Limiter) *Client {
	return &Client{
		relay:   relay,
		Conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		userID:  userID,
		limiter: limiter,
		typing:  make(map[string]bool),
	}
}

// UserID returns the user this connection was bound to.
func (c *Client) UserID() string {
	return c.userID
}

// Done is closed once the connection is unbound.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// TrySend queues a frame without blocking and reports whether it was queued.
func (c *Client) TrySend(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// sendWithin waits up to timeout for buffer space.
func (c *Client) sendWithin(frame []byte, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case c.send <- frame:
		return true
	case <-c.done:
		return false
	case <-timer.C:
		return false
	}
}

// SetTyping records whether this connection reported typing in a conversation.
func (c *Client) SetTyping(conversationID string, isTyping bool) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if isTyping {
		c.typing[conversationID] = true
	} else {
		delete(c.typing, conversationID)
	}
}

// TypingConversations returns the conversations this connection is still typing in.
func (c *Client) TypingConversations() []string {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	out := make([]string, 0, len(c.typing))
	for id := range c.typing {
		out = append(out, id)
	}
	return out
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// ReadPump pumps frames from the websocket connection to IncomingHandler and
// unbinds the client when the connection ends.
func (c *Client) ReadPump() {
	defer func() {
		c.relay.Unbind(c)
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		c.relay.touch(c.userID)
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				observability.Debug(context.Background(), "websocket read failed",
					zap.String("ws_user_id", c.userID), zap.Error(err))
			}
			return
		}

		if c.limiter != nil && !c.limiter.Allow() {
			c.TrySend(rateLimitedNotice)
			continue
		}
		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump pumps frames from the send buffer to the websocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-c.done:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
