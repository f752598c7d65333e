// Package call owns the per-chat call lifecycle and relays signaling
// payloads between call participants.
//
// States: ringing -> ongoing -> ended, ringing -> rejected. A timeout or a
// participant vanishing may force ringing or ongoing to ended. rejected and
// ended are terminal. At most one non-terminal call exists per chat.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"veche/internal/fanout"
	"veche/internal/metrics"
	"veche/internal/models"
	"veche/internal/sched"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

const (
	DefaultRingTimeout = 45 * time.Second
	finishedRetention  = 10 * time.Minute
)

var (
	ErrInvalidCall       = errors.New("invalid call request")
	ErrCallActive        = errors.New("chat already has an active call")
	ErrCallNotFound      = errors.New("call not found")
	ErrIllegalTransition = errors.New("illegal call transition")
	ErrNotParticipant    = errors.New("user is not a call participant")
)

// Sessions resolves a user to their live sessions at broadcast time.
type Sessions interface {
	SessionsOf(userID string) []string
}

type Config struct {
	Sessions    Sessions
	Sender      fanout.Sender
	Scheduler   sched.Scheduler
	RingTimeout time.Duration
	Logger      *slog.Logger
}

type activeCall struct {
	session models.CallSession
	ring    sched.Task
}

// Machine is not safe for concurrent use; the scheduler must run callbacks
// on the goroutine that drives the machine.
type Machine struct {
	sessions    Sessions
	sender      fanout.Sender
	sched       sched.Scheduler
	ringTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string

	calls  map[string]*activeCall // callID -> non-terminal call
	byChat map[string]string      // chatID -> callID
	// finished keeps terminal calls around so late events can be told
	// apart from unknown ids.
	finished geche.Geche[string, models.CallSession]
}

func New(ctx context.Context, cfg Config) *Machine {
	ringTimeout := cfg.RingTimeout
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		sessions:    cfg.Sessions,
		sender:      cfg.Sender,
		sched:       cfg.Scheduler,
		ringTimeout: ringTimeout,
		logger:      logger.With("component", "call"),
		now:         time.Now,
		newID:       uuid.NewString,
		calls:       make(map[string]*activeCall),
		byChat:      make(map[string]string),
		finished:    geche.NewMapTTLCache[string, models.CallSession](ctx, finishedRetention, time.Minute),
	}
}

// Initiate opens a ringing call in chatID and notifies every session of
// every participant except the initiator. The initiator is always part of
// the participant list.
func (m *Machine) Initiate(chatID, initiatorID string, callType models.CallType, participants []string) (models.CallSession, error) {
	if chatID == "" || initiatorID == "" {
		return models.CallSession{}, fmt.Errorf("%w: chat and initiator are required", ErrInvalidCall)
	}
	if !callType.Valid() {
		return models.CallSession{}, fmt.Errorf("%w: unknown call type %q", ErrInvalidCall, callType)
	}
	if existing, ok := m.byChat[chatID]; ok {
		return models.CallSession{}, fmt.Errorf("%w: chat %s call %s", ErrCallActive, chatID, existing)
	}

	members := normalizeParticipants(initiatorID, participants)
	if len(members) < 2 {
		return models.CallSession{}, fmt.Errorf("%w: a call needs at least two participants", ErrInvalidCall)
	}

	cs := models.CallSession{
		ID:           m.newID(),
		ChatID:       chatID,
		Participants: members,
		InitiatorID:  initiatorID,
		CallType:     callType,
		Status:       models.CallStatusRinging,
		StartTime:    m.now(),
	}

	ac := &activeCall{session: cs}
	ac.ring = m.sched.AfterFunc(m.ringTimeout, func() { m.ringExpired(cs.ID, ac) })
	m.calls[cs.ID] = ac
	m.byChat[chatID] = cs.ID
	metrics.ActiveCalls.Set(float64(len(m.calls)))

	m.toParticipants(cs, models.ServerEvent{
		Type: models.EventCallIncoming,
		Data: models.CallIncoming{CallSession: cs},
	}, initiatorID)

	m.logger.Info("call initiated", "call_id", cs.ID, "chat_id", chatID, "user_id", initiatorID, "call_type", callType)
	return cs, nil
}

// Accept moves a ringing call to ongoing. Only a callee can accept.
func (m *Machine) Accept(callID, accepterID string) (models.CallSession, error) {
	ac, err := m.active(callID, accepterID, models.CallStatusRinging)
	if err != nil {
		return models.CallSession{}, err
	}
	if accepterID == ac.session.InitiatorID {
		return models.CallSession{}, fmt.Errorf("%w: initiator %s cannot accept call %s", ErrIllegalTransition, accepterID, callID)
	}

	ac.ring.Stop()
	ac.session.Status = models.CallStatusOngoing

	m.toParticipants(ac.session, models.ServerEvent{
		Type: models.EventCallStatusUpdate,
		Data: models.CallStatusUpdate{
			CallID:     callID,
			Status:     models.CallStatusOngoing,
			AcceptedBy: accepterID,
		},
	})
	return ac.session, nil
}

// Reject moves a ringing call to rejected.
func (m *Machine) Reject(callID, rejecterID string) (models.CallSession, error) {
	ac, err := m.active(callID, rejecterID, models.CallStatusRinging)
	if err != nil {
		return models.CallSession{}, err
	}

	cs := m.finish(ac, models.CallStatusRejected)
	m.toParticipants(cs, models.ServerEvent{
		Type: models.EventCallEnded,
		Data: models.CallEnded{
			CallID:     callID,
			Status:     models.CallStatusRejected,
			RejectedBy: rejecterID,
		},
	})
	return cs, nil
}

// End moves a ringing or ongoing call to ended.
func (m *Machine) End(callID, enderID string) (models.CallSession, error) {
	ac, err := m.active(callID, enderID, models.CallStatusRinging, models.CallStatusOngoing)
	if err != nil {
		return models.CallSession{}, err
	}
	return m.forceEnd(ac, enderID), nil
}

// Signal relays payload verbatim to every session of targetUserID. It never
// changes call state. Signals for calls that are not ongoing are dropped
// and reported as ErrIllegalTransition for the caller to log.
func (m *Machine) Signal(callID, fromUserID, targetUserID string, payload json.RawMessage) error {
	ac, err := m.active(callID, fromUserID, models.CallStatusOngoing)
	if err != nil {
		return err
	}
	if !ac.session.HasParticipant(targetUserID) {
		return fmt.Errorf("%w: target %s", ErrNotParticipant, targetUserID)
	}

	fanout.Multicast(m.sender, m.sessions.SessionsOf(targetUserID), models.ServerEvent{
		Type: models.EventCallSignalReceived,
		Data: models.CallSignalReceived{
			CallID:     callID,
			FromUserID: fromUserID,
			Signal:     payload,
		},
	})
	return nil
}

// Abandon ends every non-terminal call userID participates in. It is used
// when the user's last session disconnects.
func (m *Machine) Abandon(userID string) []models.CallSession {
	var ids []string
	for id, ac := range m.calls {
		if ac.session.HasParticipant(userID) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	ended := make([]models.CallSession, 0, len(ids))
	for _, id := range ids {
		ended = append(ended, m.forceEnd(m.calls[id], userID))
	}
	return ended
}

// Get returns a call by id, active or recently finished.
func (m *Machine) Get(callID string) (models.CallSession, bool) {
	if ac, ok := m.calls[callID]; ok {
		return ac.session, true
	}
	cs, err := m.finished.Get(callID)
	if err != nil {
		return models.CallSession{}, false
	}
	return cs, true
}

// ActiveInChat returns the non-terminal call of chatID, if any.
func (m *Machine) ActiveInChat(chatID string) (models.CallSession, bool) {
	id, ok := m.byChat[chatID]
	if !ok {
		return models.CallSession{}, false
	}
	return m.calls[id].session, true
}

func (m *Machine) active(callID, userID string, allowed ...models.CallStatus) (*activeCall, error) {
	ac, ok := m.calls[callID]
	if !ok {
		if cs, err := m.finished.Get(callID); err == nil {
			return nil, fmt.Errorf("%w: call %s is %s", ErrIllegalTransition, callID, cs.Status)
		}
		return nil, fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	if !ac.session.HasParticipant(userID) {
		return nil, fmt.Errorf("%w: %s in call %s", ErrNotParticipant, userID, callID)
	}
	for _, s := range allowed {
		if ac.session.Status == s {
			return ac, nil
		}
	}
	return nil, fmt.Errorf("%w: call %s is %s", ErrIllegalTransition, callID, ac.session.Status)
}

func (m *Machine) forceEnd(ac *activeCall, enderID string) models.CallSession {
	cs := m.finish(ac, models.CallStatusEnded)
	m.toParticipants(cs, models.ServerEvent{
		Type: models.EventCallEnded,
		Data: models.CallEnded{
			CallID:  cs.ID,
			Status:  models.CallStatusEnded,
			EndedBy: enderID,
		},
	})
	return cs
}

// finish moves ac to a terminal status and out of active tracking.
func (m *Machine) finish(ac *activeCall, status models.CallStatus) models.CallSession {
	ac.ring.Stop()
	end := m.now()
	ac.session.Status = status
	ac.session.EndTime = &end

	delete(m.calls, ac.session.ID)
	delete(m.byChat, ac.session.ChatID)
	m.finished.Set(ac.session.ID, ac.session)
	metrics.ActiveCalls.Set(float64(len(m.calls)))

	m.logger.Info("call finished", "call_id", ac.session.ID, "chat_id", ac.session.ChatID, "status", status)
	return ac.session
}

func (m *Machine) ringExpired(callID string, ac *activeCall) {
	if m.calls[callID] != ac || ac.session.Status != models.CallStatusRinging {
		return
	}
	m.logger.Debug("call ring timeout", "call_id", callID)
	m.forceEnd(ac, "")
}

func (m *Machine) toParticipants(cs models.CallSession, ev models.ServerEvent, skipUsers ...string) {
	for _, userID := range cs.Participants {
		if contains(skipUsers, userID) {
			continue
		}
		fanout.Multicast(m.sender, m.sessions.SessionsOf(userID), ev)
	}
}

func normalizeParticipants(initiatorID string, participants []string) []string {
	seen := map[string]bool{initiatorID: true}
	out := []string{initiatorID}
	for _, p := range participants {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

func contains(ids []string, id string) bool {
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}
