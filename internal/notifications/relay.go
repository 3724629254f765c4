package notifications

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"nosmobile/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000

	defaultSendTimeout  = 250 * time.Millisecond
	defaultFanoutWorker = 256
)

var (
	ErrUserConnectionLimit   = errors.New("user connection limit reached")
	ErrServerConnectionLimit = errors.New("server connection limit reached")
	ErrRelayClosed           = errors.New("relay is shut down")
)

// RelayConfig tunes fan-out and inbound flow control.
type RelayConfig struct {
	// SendTimeout bounds how long a publish waits on one full connection.
	SendTimeout time.Duration
	// Workers is the size of the pool serving slow recipients.
	Workers int
	// CommandRate and CommandBurst limit inbound frames per connection.
	// A zero rate disables the limiter.
	CommandRate  float64
	CommandBurst int
}

// Relay is the binding table between users and their live connections and
// the fan-out path for events. It is safe for concurrent use.
type Relay struct {
	mu         sync.RWMutex
	conns      map[string]map[*Client]struct{}
	owners     map[*Client]string
	totalConns int
	closed     bool

	presence    *Presence
	pool        *ants.Pool
	sendTimeout time.Duration
	cfg         RelayConfig
	wsLog       *observability.WSLogger
}

// NewRelay creates a relay. presence may be nil.
func NewRelay(presence *Presence, cfg RelayConfig) (*Relay, error) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultFanoutWorker
	}
	pool, err := ants.NewPool(cfg.Workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			observability.Error(context.Background(), "fan-out worker panic", zap.Any("panic", p))
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Relay{
		conns:       make(map[string]map[*Client]struct{}),
		owners:      make(map[*Client]string),
		presence:    presence,
		pool:        pool,
		sendTimeout: cfg.SendTimeout,
		cfg:         cfg,
		wsLog:       observability.NewWSLogger("relay"),
	}, nil
}

// Presence returns the presence tracker, which may be nil.
func (r *Relay) Presence() *Presence {
	return r.presence
}

// Bind registers a connection for userID. userID must come from the
// authenticated session, never from the connection's own frames.
func (r *Relay) Bind(ctx context.Context, userID string, conn *websocket.Conn) (*Client, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRelayClosed
	}
	if r.totalConns >= maxTotalConns {
		r.mu.Unlock()
		return nil, ErrServerConnectionLimit
	}
	m, ok := r.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		r.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		r.mu.Unlock()
		return nil, ErrUserConnectionLimit
	}

	var limiter *rate.Limiter
	if r.cfg.CommandRate > 0 {
		burst := r.cfg.CommandBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(r.cfg.CommandRate), burst)
	}
	client := newClient(r, conn, userID, limiter)
	m[client] = struct{}{}
	r.owners[client] = userID
	r.totalConns++
	count := len(m)
	r.mu.Unlock()

	observability.WebSocketConnections.Inc()
	r.wsLog.LogConnect(ctx, userID, count)
	if r.presence != nil {
		r.presence.Register(ctx, userID)
	}
	return client, nil
}

// Unbind removes a connection. The owner is resolved from the handle itself.
// It reports false when the handle was not bound.
func (r *Relay) Unbind(c *Client) bool {
	r.mu.Lock()
	userID, ok := r.owners[c]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.owners, c)
	remaining := 0
	if m, ok := r.conns[userID]; ok {
		delete(m, c)
		remaining = len(m)
		if remaining == 0 {
			delete(r.conns, userID)
		}
	}
	r.totalConns--
	r.mu.Unlock()

	c.close()
	observability.WebSocketConnections.Dec()
	ctx := observability.WithUserID(context.Background(), userID)
	r.wsLog.LogDisconnect(ctx, userID, remaining)
	if r.presence != nil {
		r.presence.Unregister(ctx, userID)
	}
	return true
}

// Connections returns the number of live connections bound to userID.
func (r *Relay) Connections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID])
}

// IsOnline reports whether userID is connected here or, with Redis, anywhere.
func (r *Relay) IsOnline(ctx context.Context, userID string) bool {
	if r.presence != nil {
		return r.presence.IsOnline(ctx, userID)
	}
	return r.Connections(userID) > 0
}

func (r *Relay) touch(userID string) {
	if r.presence != nil {
		r.presence.Touch(context.Background(), userID)
	}
}

// Publish delivers an event to every bound connection of the given users and
// returns the number of connections that accepted it. Users without a
// connection are skipped. A connection whose buffer stays full past the send
// timeout is dropped for this event without delaying the others.
func (r *Relay) Publish(ctx context.Context, eventType string, payload interface{}, userIDs ...string) int {
	frame, err := Encode(eventType, payload)
	if err != nil {
		observability.Error(ctx, "failed to encode event", zap.String("event", eventType), zap.Error(err))
		return 0
	}
	observability.EventsPublished.WithLabelValues(eventType).Inc()

	seen := make(map[string]struct{}, len(userIDs))
	var targets []*Client
	r.mu.RLock()
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		for c := range r.conns[id] {
			targets = append(targets, c)
		}
	}
	r.mu.RUnlock()

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, c := range targets {
		if c.TrySend(frame) {
			delivered.Add(1)
			continue
		}

		c := c
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			start := time.Now()
			ok := c.sendWithin(frame, r.sendTimeout)
			observability.RelaySendLatency.Observe(time.Since(start).Seconds())
			if ok {
				delivered.Add(1)
				return
			}
			r.drop(ctx, c, eventType, "timeout")
		})
		if err != nil {
			wg.Done()
			r.drop(ctx, c, eventType, "overloaded")
		}
	}
	wg.Wait()
	return int(delivered.Load())
}

func (r *Relay) drop(ctx context.Context, c *Client, eventType, reason string) {
	select {
	case <-c.done:
		reason = "closed"
	default:
	}
	failure := &RelayFailure{UserID: c.userID, Event: eventType, Reason: reason}
	observability.RelayDrops.WithLabelValues(reason).Inc()
	observability.Warn(ctx, "relay delivery dropped",
		zap.String("ws_user_id", c.userID),
		zap.String("event", eventType),
		zap.String("reason", reason),
		zap.Error(failure))

	// Best effort so the client can detect the gap and re-fetch history.
	c.TrySend(droppedNotice)
}

// Shutdown closes every connection and stops the worker pool.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	var clients []*Client
	for c := range r.owners {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	// Unbinding closes done, which makes each WritePump send the close frame.
	for _, c := range clients {
		r.Unbind(c)
	}

	if r.presence != nil {
		r.presence.Stop()
	}
	if deadline, ok := ctx.Deadline(); ok {
		return r.pool.ReleaseTimeout(time.Until(deadline))
	}
	r.pool.Release()
	return nil
}
