package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"veche/internal/api"
	"veche/internal/auth"
	"veche/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	testAdminAddr = "127.0.0.1:8898"
	testAPIAddr   = "127.0.0.1:8897"
)

func TestIntegration(t *testing.T) {
	t.Setenv("VECHE_DB", filepath.Join(t.TempDir(), "integration_test.db"))
	t.Setenv("ADMIN_ADDR", testAdminAddr)
	t.Setenv("API_ADDR", testAPIAddr)
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("LOG_LEVEL", "error")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		if err := run(ctx, nil); err != nil && err != context.Canceled {
			t.Errorf("Server error: %v", err)
		}
	}()
	defer func() {
		cancel()
		<-stopped
	}()

	waitForServer(t, "http://"+testAdminAddr+"/metrics", 20)
	waitForServer(t, "http://"+testAPIAddr+"/api/me", 20)

	// Step 1: provision two users and issue their tokens
	aliceToken := addUserWithToken(t, "alice", "Alice")
	bobToken := addUserWithToken(t, "bob", "<i>Bob</i>")

	// The CLI path goes through the same admin API.
	require.NoError(t, run(ctx, []string{"-issue-token", "carol"}))

	// Step 2: a bad token never gets a socket
	_, resp, err := websocket.DefaultDialer.Dial(wsURL("nope"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Step 3: both users connect and join the same chat
	alice := dial(t, aliceToken)
	defer func() { _ = alice.Close() }()
	send(t, alice, models.EventJoinChat, models.JoinChatPayload{ChatID: "general"})

	bob := dial(t, bobToken)
	defer func() { _ = bob.Close() }()
	send(t, bob, models.EventJoinChat, models.JoinChatPayload{ChatID: "general"})

	update := awaitEvent(t, alice, models.EventOnlineUsersUpdate, func(data json.RawMessage) bool {
		var u models.OnlineUsersUpdate
		require.NoError(t, json.Unmarshal(data, &u))
		return len(u.Users) == 2
	})
	require.NotEmpty(t, update)

	// Joins are handled asynchronously per connection.
	time.Sleep(200 * time.Millisecond)

	// Step 4: bob's message reaches alice, stored and sanitized
	send(t, bob, models.EventNewMessage, models.NewMessagePayload{Message: models.MessageDraft{
		Chat:    "general",
		Content: "hello **alice**<script>x</script>",
	}})

	data := awaitEvent(t, alice, models.EventMessageReceived, nil)
	var env models.MessageEnvelope
	require.NoError(t, json.Unmarshal(data, &env))
	require.Equal(t, "bob", env.Message.SenderID)
	require.Equal(t, "general", env.Message.ChatID())
	require.NotContains(t, env.Message.Content, "<script>")
	require.Contains(t, env.Message.HTML, "<strong>alice</strong>")

	// Step 5: the REST view agrees with the socket view
	users := getOnline(t, aliceToken)
	require.Len(t, users, 2)
	names := map[string]string{}
	for _, u := range users {
		names[u.ID] = u.DisplayName
		require.True(t, u.Presence.Online)
	}
	require.Equal(t, "Alice", names["alice"])
	require.Equal(t, "Bob", names["bob"])

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/api/calls/general", testAPIAddr), nil)
	require.NoError(t, err)
	req.Header.Set("token", aliceToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Step 6: bob leaves, alice sees him go offline
	require.NoError(t, bob.Close())
	awaitEvent(t, alice, models.EventOnlineUsersUpdate, func(data json.RawMessage) bool {
		var u models.OnlineUsersUpdate
		require.NoError(t, json.Unmarshal(data, &u))
		return len(u.Users) == 1 && u.Users[0].ID == "alice"
	})

	// Step 7: logoff revokes the token
	req, err = http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/api/logoff", testAPIAddr), nil)
	require.NoError(t, err)
	req.Header.Set("token", aliceToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err = http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/api/me", testAPIAddr), nil)
	require.NoError(t, err)
	req.Header.Set("token", aliceToken)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func addUserWithToken(t *testing.T, userID, displayName string) string {
	t.Helper()

	resp := postJSON(t, "/admin/users", api.AddUserRequest{UserID: userID, DisplayName: displayName})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, "/admin/tokens", api.IssueTokenRequest{UserID: userID})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tr auth.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	require.Equal(t, userID, tr.UserID)
	require.NotEmpty(t, tr.Token)
	return tr.Token
}

func postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post("http://"+testAdminAddr+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func getOnline(t *testing.T, token string) []models.User {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/api/users/online", testAPIAddr), nil)
	require.NoError(t, err)
	req.Header.Set("token", token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var u models.OnlineUsersUpdate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&u))
	return u.Users
}

func wsURL(token string) string {
	return fmt.Sprintf("ws://%s/api/chat?token=%s", testAPIAddr, token)
}

func dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(token), nil)
	require.NoError(t, err)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ models.EventType, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(models.ClientEvent{Type: typ, Data: data}))
}

type rawEvent struct {
	Type models.EventType `json:"type"`
	Data json.RawMessage  `json:"data"`
}

// awaitEvent reads frames until one of type typ satisfies match, or fails
// the test after a few seconds.
func awaitEvent(t *testing.T, conn *websocket.Conn, typ models.EventType, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	for {
		var ev rawEvent
		require.NoError(t, conn.ReadJSON(&ev), "waiting for %s", typ)
		if ev.Type != typ {
			continue
		}
		if match == nil || match(ev.Data) {
			return ev.Data
		}
	}
}

func waitForServer(t *testing.T, url string, retries int) {
	t.Helper()
	for i := 0; i < retries; i++ {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server did not start at %s", url)
}
