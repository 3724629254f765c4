package server

import (
	"context"
	"time"

	"nosmobile/internal/models"
	"nosmobile/internal/observability"

	"go.uber.org/zap"
)

// onUserOnline runs on a user's first live connection.
func (s *Server) onUserOnline(userID string) {
	ctx := observability.WithUserID(context.Background(), userID)
	online, err := s.identity.SyncPresence(ctx, userID, s.connected(userID))
	if err != nil {
		observability.Warn(ctx, "failed to mark user online", zap.Error(err))
	}
	if !online {
		// Gone again before the handler ran; the offline handler reports it.
		return
	}
	s.publishPresence(ctx, models.PresenceEvent{UserID: userID, Online: true})
}

// onUserOffline runs when a user's last connection is gone. Live calls the
// user is a party to end immediately; there is no reconnect grace period.
func (s *Server) onUserOffline(userID string) {
	ctx := observability.WithUserID(context.Background(), userID)
	online, err := s.identity.SyncPresence(ctx, userID, s.connected(userID))
	if err != nil {
		observability.Warn(ctx, "failed to mark user offline", zap.Error(err))
	}
	if online {
		// Reconnected while the disconnect was being handled.
		return
	}
	if n := s.calls.EndAllForUser(ctx, userID); n > 0 {
		observability.Info(ctx, "ended calls of disconnected user", zap.Int("calls", n))
	}

	now := time.Now().UTC()
	s.publishPresence(ctx, models.PresenceEvent{UserID: userID, Online: false, LastSeenAt: &now})
}

func (s *Server) connected(userID string) func() bool {
	return func() bool { return s.relay.Connections(userID) > 0 }
}

func (s *Server) publishPresence(ctx context.Context, event models.PresenceEvent) {
	contacts, err := s.identity.ListContacts(ctx, event.UserID)
	if err != nil {
		observability.Warn(ctx, "presence fan-out skipped", zap.Error(err))
		return
	}
	if len(contacts) == 0 {
		return
	}
	targets := make([]string, 0, len(contacts))
	for _, u := range contacts {
		targets = append(targets, u.ID)
	}
	s.relay.Publish(ctx, models.EventPresenceChanged, event, targets...)
}
