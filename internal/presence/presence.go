// Package presence derives the online user set from registry transitions,
// persists the online flag through the user-status collaborator and
// announces every change to all connected sessions.
package presence

import (
	"context"
	"log/slog"
	"time"

	"veche/internal/fanout"
	"veche/internal/metrics"
	"veche/internal/models"
	"veche/internal/registry"
)

// StatusStore is the durable user-status collaborator.
type StatusStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
	ListOnline(ctx context.Context) ([]models.User, error)
}

// Sessions is the read side of the connection registry.
type Sessions interface {
	Sessions() []string
	SessionCount(userID string) int
	Users() []string
}

type Config struct {
	Store    StatusStore
	Sessions Sessions
	Sender   fanout.Sender
	Logger   *slog.Logger
	// Timeout bounds each collaborator call. Zero means no extra deadline.
	Timeout time.Duration
}

type Tracker struct {
	store    StatusStore
	sessions Sessions
	sender   fanout.Sender
	logger   *slog.Logger
	timeout  time.Duration
}

func New(cfg Config) *Tracker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:    cfg.Store,
		sessions: cfg.Sessions,
		sender:   cfg.Sender,
		logger:   logger.With("component", "presence"),
		timeout:  cfg.Timeout,
	}
}

// Apply announces every transition produced by one registry mutation.
func (t *Tracker) Apply(ctx context.Context, transitions []registry.Transition) {
	for _, tr := range transitions {
		if tr.Online {
			t.MarkOnline(ctx, tr.UserID)
		} else {
			t.MarkOffline(ctx, tr.UserID)
		}
	}
}

// MarkOnline persists online=true and broadcasts the snapshot. A failed
// write is logged and the broadcast still goes out.
func (t *Tracker) MarkOnline(ctx context.Context, userID string) {
	t.mark(ctx, userID, true)
}

// MarkOffline persists online=false and broadcasts the snapshot.
func (t *Tracker) MarkOffline(ctx context.Context, userID string) {
	t.mark(ctx, userID, false)
}

func (t *Tracker) mark(ctx context.Context, userID string, online bool) {
	direction := "offline"
	if online {
		direction = "online"
	}
	metrics.PresenceTransitions.WithLabelValues(direction).Inc()
	metrics.OnlineUsers.Set(float64(len(t.sessions.Users())))

	if t.store != nil {
		cctx, cancel := t.callContext(ctx)
		err := t.store.SetOnline(cctx, userID, online)
		cancel()
		if err != nil {
			t.logger.Error("failed to persist presence", "user_id", userID, "online", online, "error", err)
		}
	}

	t.logger.Info("presence changed", "user_id", userID, "online", online)
	t.broadcast(ctx)
}

// IsOnline reports whether userID has at least one live session.
func (t *Tracker) IsOnline(userID string) bool {
	return t.sessions.SessionCount(userID) > 0
}

// Snapshot returns the current online users. The collaborator's list is
// preferred for its profile data; on failure the registry's user set is
// used so the answer is never empty while people are connected.
func (t *Tracker) Snapshot(ctx context.Context) []models.User {
	live := t.sessions.Users()

	if t.store != nil {
		cctx, cancel := t.callContext(ctx)
		users, err := t.store.ListOnline(cctx)
		cancel()
		if err == nil {
			return reconcile(users, live)
		}
		t.logger.Error("failed to list online users", "error", err)
	}

	return reconcile(nil, live)
}

func (t *Tracker) broadcast(ctx context.Context) {
	ev := models.ServerEvent{
		Type: models.EventOnlineUsersUpdate,
		Data: models.OnlineUsersUpdate{Users: t.Snapshot(ctx)},
	}
	fanout.Multicast(t.sender, t.sessions.Sessions(), ev)
}

func (t *Tracker) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, t.timeout)
}

// reconcile keeps the stored profile of every live user and fills in the
// ones the store does not know. Users flagged online in the store but
// without a live session in this process are dropped.
func reconcile(stored []models.User, live []string) []models.User {
	byID := make(map[string]models.User, len(stored))
	for _, u := range stored {
		byID[u.ID] = u
	}

	now := time.Now().Unix()
	users := make([]models.User, 0, len(live))
	for _, id := range live {
		u, ok := byID[id]
		if !ok {
			u = models.User{ID: id}
		}
		u.Presence.Online = true
		if u.Presence.LastSeen == 0 {
			u.Presence.LastSeen = now
		}
		users = append(users, u)
	}
	return users
}
