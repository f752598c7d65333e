package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTokenStore(t *testing.T) {
	const t0Unix = 1700000000

	// Helper to create store with fixed time
	createStore := func(t *testing.T) (*TokenStore, *time.Time) {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)

		ts, err := NewTokenStore(ctx, Config{TokenExpiry: time.Hour})
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}

		currentTime := time.Unix(t0Unix, 0)
		ts.now = func() time.Time {
			return currentTime
		}
		return ts, &currentTime
	}

	t.Run("IssueAndResolve", func(t *testing.T) {
		ts, _ := createStore(t)

		resp, err := ts.Issue("alice")
		if err != nil {
			t.Fatalf("Issue failed: %v", err)
		}
		if resp.Token == "" {
			t.Fatal("Expected token")
		}
		if resp.TokenExpiry != t0Unix+3600 {
			t.Errorf("Expected expiry %d, got %d", t0Unix+3600, resp.TokenExpiry)
		}

		userID, err := ts.UserID(resp.Token)
		if err != nil {
			t.Fatalf("UserID failed: %v", err)
		}
		if userID != "alice" {
			t.Errorf("Expected alice, got %s", userID)
		}
	})

	t.Run("UniqueTokens", func(t *testing.T) {
		ts, _ := createStore(t)
		a, _ := ts.Issue("alice")
		b, _ := ts.Issue("alice")
		if a.Token == b.Token {
			t.Error("Expected distinct tokens")
		}
	})

	t.Run("Expired", func(t *testing.T) {
		ts, now := createStore(t)
		resp, _ := ts.Issue("alice")

		*now = now.Add(time.Hour)
		if _, err := ts.UserID(resp.Token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("Revoke", func(t *testing.T) {
		ts, _ := createStore(t)
		resp, _ := ts.Issue("alice")

		if err := ts.Revoke(resp.Token); err != nil {
			t.Fatalf("Revoke failed: %v", err)
		}
		if _, err := ts.UserID(resp.Token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		ts, _ := createStore(t)
		if _, err := ts.UserID("nope"); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
		if _, err := ts.UserID(""); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Expected ErrInvalidToken, got %v", err)
		}
		if _, err := ts.Issue(""); err == nil {
			t.Error("Expected error for empty user id")
		}
	})
}
