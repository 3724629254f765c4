package notifications

import (
	"context"
	"strconv"
	"sync"
	"time"

	"nosmobile/internal/observability"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultPresenceOnlineSetKey  = "ws:online_users"
	defaultPresenceLastSeenKeyNS = "ws:last_seen:"
	defaultPresenceTTL           = 90 * time.Second
	defaultReaperInterval        = 60 * time.Second
)

// PresenceConfig controls the Redis mirror and cleanup behavior.
type PresenceConfig struct {
	OnlineSetKey      string
	LastSeenKeyPrefix string
	LastSeenTTL       time.Duration
	ReaperInterval    time.Duration
}

// Presence counts live connections per user, mirrors online state in Redis
// and emits online/offline transitions. Transitions fire immediately on the
// first connect and the last disconnect.
type Presence struct {
	rdb *redis.Client

	mu              sync.RWMutex
	localConnCounts map[string]int
	// Users whose offline callback is running.
	offlineNotified map[string]bool

	onlineSetKey      string
	lastSeenKeyPrefix string
	lastSeenTTL       time.Duration
	reaperInterval    time.Duration

	onUserOnline  func(userID string)
	onUserOffline func(userID string)

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPresence creates a tracker and starts the Redis reaper when Redis is available.
func NewPresence(rdb *redis.Client, cfg PresenceConfig) *Presence {
	p := &Presence{
		rdb:               rdb,
		localConnCounts:   make(map[string]int),
		offlineNotified:   make(map[string]bool),
		onlineSetKey:      defaultPresenceOnlineSetKey,
		lastSeenKeyPrefix: defaultPresenceLastSeenKeyNS,
		lastSeenTTL:       defaultPresenceTTL,
		reaperInterval:    defaultReaperInterval,
		stopCh:            make(chan struct{}),
	}
	if cfg.OnlineSetKey != "" {
		p.onlineSetKey = cfg.OnlineSetKey
	}
	if cfg.LastSeenKeyPrefix != "" {
		p.lastSeenKeyPrefix = cfg.LastSeenKeyPrefix
	}
	if cfg.LastSeenTTL > 0 {
		p.lastSeenTTL = cfg.LastSeenTTL
	}
	if cfg.ReaperInterval > 0 {
		p.reaperInterval = cfg.ReaperInterval
	}

	if p.rdb != nil {
		go p.reaperLoop()
	}
	return p
}

// SetCallbacks installs the transition callbacks. They run on the goroutine
// that caused the transition, outside any lock.
func (p *Presence) SetCallbacks(onOnline, onOffline func(userID string)) {
	p.mu.Lock()
	p.onUserOnline = onOnline
	p.onUserOffline = onOffline
	p.mu.Unlock()
}

// Stop ends the reaper loop.
func (p *Presence) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Register counts a new connection for userID and reports whether it is the
// user's first.
func (p *Presence) Register(ctx context.Context, userID string) bool {
	p.mu.Lock()
	p.localConnCounts[userID]++
	first := p.localConnCounts[userID] == 1
	p.mu.Unlock()

	p.Touch(ctx, userID)
	if first {
		p.emitOnline(userID)
	}
	return first
}

// Touch refreshes the Redis mirror for userID.
func (p *Presence) Touch(ctx context.Context, userID string) {
	if p.rdb == nil {
		return
	}
	if err := p.rdb.SAdd(ctx, p.onlineSetKey, userID).Err(); err != nil {
		observability.Warn(ctx, "presence touch SADD failed", zap.String("target_user_id", userID), zap.Error(err))
	}
	if err := p.rdb.SetEx(ctx, p.lastSeenKey(userID), strconv.FormatInt(time.Now().Unix(), 10), p.lastSeenTTL).Err(); err != nil {
		observability.Warn(ctx, "presence touch SETEX failed", zap.String("target_user_id", userID), zap.Error(err))
	}
}

// Unregister drops one connection of userID and reports whether it was the last.
func (p *Presence) Unregister(ctx context.Context, userID string) bool {
	p.mu.Lock()
	n, ok := p.localConnCounts[userID]
	if !ok {
		p.mu.Unlock()
		return false
	}
	n--
	if n > 0 {
		p.localConnCounts[userID] = n
		p.mu.Unlock()
		return false
	}
	delete(p.localConnCounts, userID)
	p.mu.Unlock()

	if p.rdb != nil {
		if err := p.rdb.SRem(ctx, p.onlineSetKey, userID).Err(); err != nil {
			observability.Warn(ctx, "presence SREM failed", zap.String("target_user_id", userID), zap.Error(err))
		}
		// Keep the last-seen timestamp for lookups, but let it expire.
		_ = p.rdb.SetEx(ctx, p.lastSeenKey(userID), strconv.FormatInt(time.Now().Unix(), 10), p.lastSeenTTL).Err()
	}
	p.emitOffline(userID)
	return true
}

// IsOnline reports whether userID has a local connection or is present in
// the Redis online set.
func (p *Presence) IsOnline(ctx context.Context, userID string) bool {
	p.mu.RLock()
	if p.localConnCounts[userID] > 0 {
		p.mu.RUnlock()
		return true
	}
	p.mu.RUnlock()

	if p.rdb == nil {
		return false
	}
	member, err := p.rdb.SIsMember(ctx, p.onlineSetKey, userID).Result()
	if err != nil {
		return false
	}
	return member
}

// LastSeen returns the last presence refresh recorded in Redis.
func (p *Presence) LastSeen(ctx context.Context, userID string) (time.Time, bool) {
	if p.rdb == nil {
		return time.Time{}, false
	}
	raw, err := p.rdb.Get(ctx, p.lastSeenKey(userID)).Result()
	if err != nil {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(secs, 0).UTC(), true
}

// OnlineUserIDs returns online user ids from Redis (with stale filtering),
// unioned with local connections.
func (p *Presence) OnlineUserIDs(ctx context.Context) []string {
	local := p.localUserIDs()
	if p.rdb == nil {
		return local
	}
	members, err := p.rdb.SMembers(ctx, p.onlineSetKey).Result()
	if err != nil {
		return local
	}

	seen := make(map[string]struct{}, len(members)+len(local))
	result := make([]string, 0, len(members)+len(local))
	for _, userID := range local {
		seen[userID] = struct{}{}
		result = append(result, userID)
	}
	for _, userID := range members {
		if _, ok := seen[userID]; ok {
			continue
		}
		exists, err := p.rdb.Exists(ctx, p.lastSeenKey(userID)).Result()
		if err != nil || exists == 0 {
			continue
		}
		seen[userID] = struct{}{}
		result = append(result, userID)
	}
	return result
}

// reapOnce removes set members whose last-seen key expired, left behind by a
// process that stopped without unregistering.
func (p *Presence) reapOnce(ctx context.Context) {
	if p.rdb == nil {
		return
	}
	members, err := p.rdb.SMembers(ctx, p.onlineSetKey).Result()
	if err != nil {
		return
	}
	for _, userID := range members {
		exists, err := p.rdb.Exists(ctx, p.lastSeenKey(userID)).Result()
		if err != nil || exists > 0 {
			continue
		}
		p.mu.RLock()
		hasLocal := p.localConnCounts[userID] > 0
		p.mu.RUnlock()
		if hasLocal {
			p.Touch(ctx, userID)
			continue
		}
		_ = p.rdb.SRem(ctx, p.onlineSetKey, userID).Err()
	}
}

func (p *Presence) reaperLoop() {
	ctx := context.Background()
	ticker := time.NewTicker(p.reaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapOnce(ctx)
			for _, userID := range p.localUserIDs() {
				p.Touch(ctx, userID)
			}
		}
	}
}

func (p *Presence) emitOnline(userID string) {
	p.mu.Lock()
	delete(p.offlineNotified, userID)
	cb := p.onUserOnline
	p.mu.Unlock()
	if cb != nil {
		cb(userID)
	}
}

func (p *Presence) emitOffline(userID string) {
	p.mu.Lock()
	if p.offlineNotified[userID] {
		p.mu.Unlock()
		return
	}
	p.offlineNotified[userID] = true
	cb := p.onUserOffline
	p.mu.Unlock()
	if cb != nil {
		cb(userID)
	}

	p.mu.Lock()
	delete(p.offlineNotified, userID)
	p.mu.Unlock()
}

func (p *Presence) localUserIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.localConnCounts))
	for userID, count := range p.localConnCounts {
		if count > 0 {
			ids = append(ids, userID)
		}
	}
	return ids
}

func (p *Presence) lastSeenKey(userID string) string {
	return p.lastSeenKeyPrefix + userID
}
