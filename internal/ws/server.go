package ws

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

type Server struct {
	hub      *Hub
	tokens   TokenResolver
	upgrader *websocket.Upgrader
}

func NewServer(hub *Hub, tokens TokenResolver) *Server {
	return &Server{
		hub:    hub,
		tokens: tokens,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, err := s.tokens.UserID(tokenFromRequest(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("error upgrading to websocket", "user_id", userID, "error", err)
		return
	}

	defer func() {
		if err := ws.Close(); err != nil {
			slog.Debug("error closing websocket", "user_id", userID, "error", err)
		}
	}()

	conn, err := NewConnection(r.Context(), s.hub, ws, userID)
	if err != nil {
		slog.Error("failed to open session", "user_id", userID, "error", err)
		return
	}

	if err := conn.Handle(r.Context()); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		slog.Debug("connection closed", "session_id", conn.SessionID(), "user_id", userID, "error", err)
	}
}

// tokenFromRequest checks the "token" header, a bearer Authorization
// header, the "token" cookie, then the "token" query parameter.
func tokenFromRequest(r *http.Request) string {
	if t := r.Header.Get("token"); t != "" {
		return t
	}
	if t, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	if c, err := r.Cookie("token"); err == nil && c.Value != "" {
		return c.Value
	}
	return r.URL.Query().Get("token")
}
