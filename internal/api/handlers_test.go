package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"veche/internal/auth"
	"veche/internal/models"

	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	live    map[string]string
	revoked []string
	issued  []string
}

func (f *fakeTokens) UserID(token string) (string, error) {
	if id, ok := f.live[token]; ok {
		return id, nil
	}
	return "", auth.ErrInvalidToken
}

func (f *fakeTokens) Revoke(token string) error {
	f.revoked = append(f.revoked, token)
	delete(f.live, token)
	return nil
}

func (f *fakeTokens) Issue(userID string) (auth.TokenResponse, error) {
	f.issued = append(f.issued, userID)
	return auth.TokenResponse{Token: "tok-" + userID, UserID: userID, TokenExpiry: 1}, nil
}

type fakeHub struct {
	users []models.User
	calls map[string]models.CallSession
	err   error
}

func (f *fakeHub) OnlineUsers(context.Context) ([]models.User, error) {
	return f.users, f.err
}

func (f *fakeHub) ActiveCall(_ context.Context, chatID string) (models.CallSession, bool, error) {
	cs, ok := f.calls[chatID]
	return cs, ok, f.err
}

type fakeUsers map[string]models.User

func (f fakeUsers) GetUser(_ context.Context, id string) (models.User, error) {
	u, ok := f[id]
	if !ok {
		return models.User{}, models.ErrNotFound
	}
	return u, nil
}

func (f fakeUsers) UpsertUser(_ context.Context, u models.User) error {
	f[u.ID] = u
	return nil
}

func newTestAPI() (*API, *fakeTokens, *fakeHub) {
	tokens := &fakeTokens{live: map[string]string{"good": "alice"}}
	hub := &fakeHub{calls: map[string]models.CallSession{}}
	users := fakeUsers{"alice": {ID: "alice", DisplayName: "Alice"}}
	return New(tokens, hub, users), tokens, hub
}

func TestRequireAuth(t *testing.T) {
	a, _, _ := newTestAPI()
	h := a.RequireAuth(a.MeHandler)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	for _, set := range []func(r *http.Request){
		func(r *http.Request) { r.Header.Set("token", "good") },
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") },
		func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: "good"}) },
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		set(req)
		rec := httptest.NewRecorder()
		h(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var u models.User
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&u))
		require.Equal(t, "Alice", u.DisplayName)
	}
}

func TestOnlineUsersHandler(t *testing.T) {
	a, _, hub := newTestAPI()
	hub.users = []models.User{{ID: "alice", Presence: models.Presence{Online: true}}}

	rec := httptest.NewRecorder()
	a.OnlineUsersHandler(rec, httptest.NewRequest(http.MethodGet, "/api/users/online", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.OnlineUsersUpdate
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Users, 1)

	hub.err = errors.New("hub is closed")
	rec = httptest.NewRecorder()
	a.OnlineUsersHandler(rec, httptest.NewRequest(http.MethodGet, "/api/users/online", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestActiveCallHandler(t *testing.T) {
	a, _, hub := newTestAPI()
	hub.calls["c1"] = models.CallSession{ID: "call1", ChatID: "c1", Status: models.CallStatusRinging}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/calls/{chatId}", a.ActiveCallHandler)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/calls/c1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var cs models.CallSession
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cs))
	require.Equal(t, "call1", cs.ID)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/calls/c2", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLogoffHandler(t *testing.T) {
	a, tokens, _ := newTestAPI()

	req := httptest.NewRequest(http.MethodPost, "/api/logoff", nil)
	req.Header.Set("token", "good")
	rec := httptest.NewRecorder()
	a.LogoffHandler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"good"}, tokens.revoked)
	_, err := tokens.UserID("good")
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAdminHandlers(t *testing.T) {
	tokens := &fakeTokens{live: map[string]string{}}
	users := fakeUsers{}
	h := NewAdminHandler(tokens, users)

	body, _ := json.Marshal(AddUserRequest{UserID: "bob", DisplayName: "<b>Bob</b>"})
	rec := httptest.NewRecorder()
	h.AddUserHandler(rec, httptest.NewRequest(http.MethodPost, "/admin/users", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Bob", users["bob"].DisplayName)

	body, _ = json.Marshal(AddUserRequest{UserID: "bad id"})
	rec = httptest.NewRecorder()
	h.AddUserHandler(rec, httptest.NewRequest(http.MethodPost, "/admin/users", bytes.NewReader(body)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body, _ = json.Marshal(IssueTokenRequest{UserID: "bob"})
	rec = httptest.NewRecorder()
	h.IssueTokenHandler(rec, httptest.NewRequest(http.MethodPost, "/admin/tokens", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp auth.TokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "tok-bob", resp.Token)

	rec = httptest.NewRecorder()
	h.IssueTokenHandler(rec, httptest.NewRequest(http.MethodGet, "/admin/tokens", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
