package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"veche/internal/api"
	"veche/internal/auth"
	"veche/internal/config"
)

// IssueToken registers the user through the admin API of a running server
// and prints a fresh session token for it.
func IssueToken(userID, displayName string, cfg *config.Config) error {
	if err := postAdmin(cfg, "/admin/users", api.AddUserRequest{UserID: userID, DisplayName: displayName}, nil); err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}

	var result auth.TokenResponse
	if err := postAdmin(cfg, "/admin/tokens", api.IssueTokenRequest{UserID: userID}, &result); err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Printf("\nToken Issued Successfully!\n")
	fmt.Printf("User:    %s\n", result.UserID)
	fmt.Printf("Token:   %s\n", result.Token)
	fmt.Printf("Expires: %s\n\n", time.Unix(result.TokenExpiry, 0).Format(time.RFC3339))
	fmt.Println("Pass it as the token query parameter when opening /api/chat.")
	return nil
}

func postAdmin(cfg *config.Config, path string, req, resp any) error {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s%s", cfg.AdminAddr, path)
	r, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if r.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(r.Body)
		return fmt.Errorf("status %d: %s", r.StatusCode, string(body))
	}

	if resp == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
