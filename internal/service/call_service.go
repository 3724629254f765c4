package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"nosmobile/internal/ids"
	"nosmobile/internal/models"
	"nosmobile/internal/observability"
	"nosmobile/internal/repository"

	"go.uber.org/zap"
)

const (
	defaultRingTimeout = 60 * time.Second
	callTimerDeadline  = 10 * time.Second
	callHistoryLimit   = 50
)

// CallService coordinates the call lifecycle and relays opaque signaling
// payloads between call participants. State lives in the calls table; every
// transition is a conditional update on the current status.
type CallService struct {
	callRepo    repository.CallRepository
	userRepo    repository.UserRepository
	convs       *ConversationService
	publisher   Publisher
	ringTimeout time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewCallService returns a new CallService. Calls still ringing after
// ringTimeout end with reason timeout.
func NewCallService(
	callRepo repository.CallRepository,
	userRepo repository.UserRepository,
	convs *ConversationService,
	publisher Publisher,
	ringTimeout time.Duration,
) *CallService {
	if ringTimeout <= 0 {
		ringTimeout = defaultRingTimeout
	}
	return &CallService{
		callRepo:    callRepo,
		userRepo:    userRepo,
		convs:       convs,
		publisher:   publisherOrNop(publisher),
		ringTimeout: ringTimeout,
		timers:      make(map[string]*time.Timer),
	}
}

func callEvent(call *models.Call, userID string) models.CallEvent {
	return models.CallEvent{
		CallID:         call.ID,
		ConversationID: call.ConversationID,
		CallType:       call.CallType,
		Status:         call.Status,
		UserID:         userID,
	}
}

// Initiate starts a ringing call in a conversation and relays the offer to
// every other participant.
func (s *CallService) Initiate(ctx context.Context, fromID, conversationID string, callType models.CallType, offer json.RawMessage) (call *models.Call, err error) {
	ctx, span := observability.StartSpan(ctx, "CallService.Initiate")
	defer func() { observability.EndSpan(span, err) }()

	if conversationID == "" {
		return nil, models.NewValidationError("conversation_id is required")
	}
	if callType == "" {
		callType = models.CallVoice
	}
	if !callType.Valid() {
		return nil, models.NewValidationError("call_type must be voice or video")
	}
	if len(offer) == 0 {
		return nil, models.NewValidationError("offer is required")
	}

	members, err := s.convs.RequireParticipant(ctx, conversationID, fromID)
	if err != nil {
		return nil, err
	}
	callees := others(members, fromID)
	if len(callees) == 0 {
		return nil, models.NewNoOtherParticipantsError(conversationID)
	}

	call = &models.Call{
		ID:             ids.New(),
		ConversationID: conversationID,
		CallType:       callType,
		FromUserID:     fromID,
		Status:         models.CallRinging,
	}
	if len(callees) == 1 {
		call.ToUserID = callees[0]
	}
	if err := s.callRepo.Create(ctx, call); err != nil {
		return nil, err
	}
	observability.CallTransitions.WithLabelValues(string(models.CallRinging), "").Inc()
	s.armTimeout(call.ID, s.ringTimeout)

	evt := callEvent(call, fromID)
	evt.Payload = offer
	if caller, err := s.userRepo.GetByID(ctx, fromID); err == nil {
		evt.CallerName = caller.Name()
	}
	s.publisher.Publish(ctx, models.EventIncomingCall, evt, callees...)
	return call, nil
}

// Answer accepts or declines a ringing call on behalf of a callee. The
// initiator receives the answer payload on accept and a bare notification on
// decline.
func (s *CallService) Answer(ctx context.Context, userID, callID string, accept bool, answer json.RawMessage) (call *models.Call, err error) {
	ctx, span := observability.StartSpan(ctx, "CallService.Answer")
	defer func() { observability.EndSpan(span, err) }()

	call, err = s.callRepo.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.FromUserID == userID {
		return nil, models.NewValidationError("the caller cannot answer their own call")
	}
	if err := s.convs.CheckParticipant(ctx, call.ConversationID, userID); err != nil {
		return nil, err
	}
	if call.Status != models.CallRinging {
		return nil, models.NewConflictError("call is already " + string(call.Status))
	}
	if call.ToUserID != "" && call.ToUserID != userID {
		return nil, models.NewNotParticipantError("call", callID)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{"to_user_id": userID}
	event := models.EventCallDeclined
	if accept {
		updates["status"] = models.CallActive
		updates["answered_at"] = now
		event = models.EventCallAccepted
	} else {
		updates["status"] = models.CallDeclined
		updates["ended_by"] = userID
		updates["ended_at"] = now
	}

	call, applied, err := s.callRepo.Transition(ctx, callID, []models.CallStatus{models.CallRinging}, updates)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, models.NewConflictError("call is already " + string(call.Status))
	}
	s.disarmTimeout(callID)
	observability.CallTransitions.WithLabelValues(string(call.Status), "").Inc()

	evt := callEvent(call, userID)
	if accept {
		evt.Payload = answer
	}
	s.publisher.Publish(ctx, event, evt, call.FromUserID)
	s.dismissInvitees(ctx, call, userID, accept)
	return call, nil
}

// dismissInvitees tells the other invitees of a group call that it no longer
// rings for them.
func (s *CallService) dismissInvitees(ctx context.Context, call *models.Call, answeredBy string, accepted bool) {
	members, err := s.convs.Participants(ctx, call.ConversationID)
	if err != nil {
		observability.Warn(ctx, "invitee lookup failed", zap.String("call_id", call.ID), zap.Error(err))
		return
	}
	var rest []string
	for _, id := range members {
		if id != call.FromUserID && id != answeredBy {
			rest = append(rest, id)
		}
	}
	if len(rest) == 0 {
		return
	}
	evt := callEvent(call, answeredBy)
	evt.Reason = models.EndReasonDeclined
	if accepted {
		evt.Reason = models.EndReasonAnsweredElsewhere
	}
	s.publisher.Publish(ctx, models.EventCallEnded, evt, rest...)
}

// RelaySignal forwards an opaque signaling payload to the other party of a
// live call. Signals for calls that already ended or were declined are
// dropped without error.
func (s *CallService) RelaySignal(ctx context.Context, userID, callID string, signal json.RawMessage, targetUserID string) error {
	if len(signal) == 0 {
		return models.NewValidationError("signal is required")
	}
	call, err := s.callRepo.Get(ctx, callID)
	if err != nil {
		return err
	}
	members, err := s.convs.RequireParticipant(ctx, call.ConversationID, userID)
	if err != nil {
		return err
	}
	if !call.Status.IsLive() {
		observability.Debug(ctx, "dropping signal for finished call",
			zap.String("call_id", callID), zap.String("status", string(call.Status)))
		return nil
	}

	var targets []string
	switch {
	case call.ToUserID != "" && userID == call.FromUserID:
		targets = []string{call.ToUserID}
	case call.ToUserID != "" && userID == call.ToUserID:
		targets = []string{call.FromUserID}
	case call.ToUserID != "":
		return models.NewNotParticipantError("call", callID)
	case userID != call.FromUserID:
		targets = []string{call.FromUserID}
	case targetUserID != "":
		if err := s.convs.CheckParticipant(ctx, call.ConversationID, targetUserID); err != nil {
			return err
		}
		targets = []string{targetUserID}
	default:
		targets = others(members, userID)
	}

	evt := callEvent(call, userID)
	evt.Payload = signal
	s.publisher.Publish(ctx, models.EventCallSignal, evt, targets...)
	return nil
}

// End terminates a call. Ending a call that is no longer live is a no-op.
func (s *CallService) End(ctx context.Context, userID, callID string) (*models.Call, error) {
	call, err := s.callRepo.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if err := s.convs.CheckParticipant(ctx, call.ConversationID, userID); err != nil {
		return nil, err
	}
	// Only the parties may end a two-party call. Invitees of a ringing group
	// call decline instead.
	if call.Status.IsLive() && userID != call.FromUserID && userID != call.ToUserID {
		return nil, models.NewNotParticipantError("call", callID)
	}

	reason := models.EndReasonHangup
	if call.Status == models.CallRinging && call.FromUserID == userID {
		reason = models.EndReasonCancelled
	}
	return s.end(ctx, call, userID, reason)
}

func (s *CallService) end(ctx context.Context, call *models.Call, userID, reason string) (*models.Call, error) {
	ended, applied, err := s.callRepo.Transition(ctx, call.ID, []models.CallStatus{models.CallRinging, models.CallActive},
		map[string]interface{}{
			"status":     models.CallEnded,
			"end_reason": reason,
			"ended_by":   userID,
			"ended_at":   time.Now().UTC(),
		})
	if err != nil {
		return nil, err
	}
	if !applied {
		return ended, nil
	}
	s.disarmTimeout(call.ID)
	observability.CallTransitions.WithLabelValues(string(models.CallEnded), reason).Inc()

	members, err := s.convs.Participants(ctx, call.ConversationID)
	if err != nil {
		observability.Warn(ctx, "call ended without participant lookup", zap.String("call_id", call.ID), zap.Error(err))
		return ended, nil
	}
	evt := callEvent(ended, userID)
	evt.Reason = reason
	s.publisher.Publish(ctx, models.EventCallEnded, evt, others(members, userID)...)
	return ended, nil
}

// EndAllForUser ends the live calls userID placed or is connected to. It is
// used when the user's last connection goes away.
func (s *CallService) EndAllForUser(ctx context.Context, userID string) int {
	calls, err := s.callRepo.ListLiveForUser(ctx, userID)
	if err != nil {
		observability.Warn(ctx, "failed to list live calls", zap.String("target_user_id", userID), zap.Error(err))
		return 0
	}
	ended := 0
	for i := range calls {
		call := &calls[i]
		// An invitee of a ringing group call going away leaves it ringing for the rest.
		if call.FromUserID != userID && call.ToUserID != userID {
			continue
		}
		if _, err := s.end(ctx, call, userID, models.EndReasonDisconnected); err != nil {
			observability.Warn(ctx, "failed to end call on disconnect", zap.String("call_id", call.ID), zap.Error(err))
			continue
		}
		ended++
	}
	return ended
}

// ListByConversation returns the call history of a conversation, newest first.
func (s *CallService) ListByConversation(ctx context.Context, userID, conversationID string) ([]models.Call, error) {
	if err := s.convs.CheckParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	return s.callRepo.ListByConversation(ctx, conversationID, callHistoryLimit)
}

// Recover reconciles live calls left behind by a previous process. Ringing
// calls past their ring deadline end with reason timeout and the rest get
// their timer back. Active calls with no connected party end with reason
// disconnected. connected may be nil, meaning nobody is connected.
func (s *CallService) Recover(ctx context.Context, connected func(userID string) bool) (int, error) {
	calls, err := s.callRepo.ListLive(ctx)
	if err != nil {
		return 0, err
	}
	isConnected := func(userID string) bool {
		return userID != "" && connected != nil && connected(userID)
	}

	ended := 0
	now := time.Now()
	for i := range calls {
		call := &calls[i]
		switch call.Status {
		case models.CallRinging:
			if remaining := call.CreatedAt.Add(s.ringTimeout).Sub(now); remaining > 0 {
				s.armTimeout(call.ID, remaining)
				continue
			}
			if s.expire(call.ID) {
				ended++
			}
		case models.CallActive:
			if isConnected(call.FromUserID) || isConnected(call.ToUserID) {
				continue
			}
			if _, err := s.end(ctx, call, "", models.EndReasonDisconnected); err != nil {
				observability.Warn(ctx, "failed to end orphaned call", zap.String("call_id", call.ID), zap.Error(err))
				continue
			}
			ended++
		}
	}
	if len(calls) > 0 {
		observability.Info(ctx, "recovered live calls", zap.Int("live", len(calls)), zap.Int("ended", ended))
	}
	return ended, nil
}

func (s *CallService) armTimeout(callID string, after time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.timers[callID] = time.AfterFunc(after, func() { s.expire(callID) })
}

func (s *CallService) disarmTimeout(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[callID]; ok {
		t.Stop()
		delete(s.timers, callID)
	}
}

func (s *CallService) expire(callID string) bool {
	s.mu.Lock()
	delete(s.timers, callID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), callTimerDeadline)
	defer cancel()

	call, applied, err := s.callRepo.Transition(ctx, callID, []models.CallStatus{models.CallRinging},
		map[string]interface{}{
			"status":     models.CallEnded,
			"end_reason": models.EndReasonTimeout,
			"ended_at":   time.Now().UTC(),
		})
	if err != nil {
		observability.Warn(ctx, "ring timeout transition failed", zap.String("call_id", callID), zap.Error(err))
		return false
	}
	if !applied {
		return false
	}
	observability.CallTransitions.WithLabelValues(string(models.CallEnded), models.EndReasonTimeout).Inc()
	observability.Info(ctx, "call timed out while ringing", zap.String("call_id", callID))

	targets := []string{call.FromUserID}
	if members, err := s.convs.Participants(ctx, call.ConversationID); err == nil {
		targets = members
	}
	evt := callEvent(call, "")
	evt.Reason = models.EndReasonTimeout
	s.publisher.Publish(ctx, models.EventCallEnded, evt, targets...)
	return true
}

// Shutdown stops every pending ring timer.
func (s *CallService) Shutdown(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	return nil
}

func (s *CallService) pendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
