package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"veche/internal/auth"
	"veche/internal/content"
	"veche/internal/models"
)

type TokenIssuer interface {
	Issue(userID string) (auth.TokenResponse, error)
}

type UserStore interface {
	UpsertUser(ctx context.Context, user models.User) error
}

type AdminHandler struct {
	tokens TokenIssuer
	users  UserStore
}

func NewAdminHandler(tokens TokenIssuer, users UserStore) *AdminHandler {
	return &AdminHandler{tokens: tokens, users: users}
}

type AddUserRequest struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

type IssueTokenRequest struct {
	UserID string `json:"userId"`
}

// AddUserHandler creates or updates the profile of a user.
func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := content.ValidateID(req.UserID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	displayName := content.StripTags(req.DisplayName)
	if displayName == "" {
		displayName = req.UserID
	}
	user := models.User{
		ID:          req.UserID,
		DisplayName: displayName,
		AvatarURL:   req.AvatarURL,
	}

	if err := h.users.UpsertUser(r.Context(), user); err != nil {
		slog.Error("failed to upsert user", "user_id", req.UserID, "error", err)
		http.Error(w, fmt.Sprintf("Failed to save user: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// IssueTokenHandler issues a session token for an existing or new user id.
func (h *AdminHandler) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := content.ValidateID(req.UserID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.tokens.Issue(req.UserID)
	if err != nil {
		http.Error(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}

	slog.Info("token issued", "user_id", req.UserID)
	writeJSON(w, http.StatusOK, resp)
}
