package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"veche/internal/models"
)

type TokenService interface {
	UserID(token string) (string, error)
	Revoke(token string) error
}

// HubReader is the read side of the coordination hub exposed over REST.
type HubReader interface {
	OnlineUsers(ctx context.Context) ([]models.User, error)
	ActiveCall(ctx context.Context, chatID string) (models.CallSession, bool, error)
}

type UserDirectory interface {
	GetUser(ctx context.Context, id string) (models.User, error)
}

type API struct {
	tokens TokenService
	hub    HubReader
	users  UserDirectory
}

func New(tokens TokenService, hub HubReader, users UserDirectory) *API {
	return &API{tokens: tokens, hub: hub, users: users}
}

type ctxKey struct{}

func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if t, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
			token = strings.TrimSpace(t)
		}
	}
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// RequireAuth rejects requests without a live token and passes the
// token's user id down in the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.tokens.UserID(a.getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	}
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := a.getToken(r)
	if token != "" {
		_ = a.tokens.Revoke(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFrom(r.Context())
	user, err := a.users.GetUser(r.Context(), userID)
	if errors.Is(err, models.ErrNotFound) {
		user = models.User{ID: userID, DisplayName: userID}
	} else if err != nil {
		slog.Error("failed to load user", "user_id", userID, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) OnlineUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := a.hub.OnlineUsers(r.Context())
	if err != nil {
		slog.Error("failed to get online users", "error", err)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, models.OnlineUsersUpdate{Users: users})
}

func (a *API) ActiveCallHandler(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chatId")
	cs, ok, err := a.hub.ActiveCall(r.Context(), chatID)
	if err != nil {
		slog.Error("failed to get active call", "chat_id", chatID, "error", err)
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	if !ok {
		http.Error(w, "No active call", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
