package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/c-pro/geche"
)

const DefaultTokenExpiry = 24 * time.Hour

var ErrInvalidToken = errors.New("invalid or expired token")

type Config struct {
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.TokenExpiry < 0 {
		return errors.New("token expiry must not be negative")
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	return nil
}

type liveToken struct {
	userID  string
	expires time.Time
}

// TokenStore issues opaque session tokens and resolves them back to user
// ids. Tokens live in memory only and die with the process.
type TokenStore struct {
	Config
	liveTokens geche.Geche[string, liveToken]
	now        func() time.Time
}

type TokenResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	TokenExpiry int64  `json:"tokenExpiry"`
}

func NewTokenStore(ctx context.Context, config Config) (*TokenStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &TokenStore{
		Config:     config,
		liveTokens: geche.NewMapTTLCache[string, liveToken](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}, nil
}

// Issue creates a new token for userID.
func (ts *TokenStore) Issue(userID string) (TokenResponse, error) {
	if userID == "" {
		return TokenResponse{}, errors.New("user id is required")
	}
	token, err := generateToken()
	if err != nil {
		slog.Error("token issue failed", "user_id", userID, "error", err)
		return TokenResponse{}, err
	}

	expires := ts.now().Add(ts.TokenExpiry)
	ts.liveTokens.Set(token, liveToken{userID: userID, expires: expires})

	return TokenResponse{
		Token:       token,
		UserID:      userID,
		TokenExpiry: expires.Unix(),
	}, nil
}

// UserID returns the user a live token was issued for.
func (ts *TokenStore) UserID(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	lt, err := ts.liveTokens.Get(token)
	if err != nil {
		return "", ErrInvalidToken
	}
	if !ts.now().Before(lt.expires) {
		_ = ts.liveTokens.Del(token)
		return "", ErrInvalidToken
	}
	return lt.userID, nil
}

func (ts *TokenStore) Revoke(token string) error {
	return ts.liveTokens.Del(token)
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
