package content

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	policy   = bluemonday.UGCPolicy()
	strict   = bluemonday.StrictPolicy()
	markdown = goldmark.New()
	idRegex  = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is used for sanitizing message bodies before they are stored.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// StripTags drops every tag from the input. Display names relayed to other
// users go through it.
func StripTags(input string) string {
	return strings.TrimSpace(strict.Sanitize(input))
}

// Render converts markdown message content to sanitized HTML.
func Render(src string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}

// ValidateID checks if a user or chat id contains only allowed characters
// (alphanumeric, dot, dash, underscore) and is not empty.
func ValidateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}
	if !idRegex.MatchString(id) {
		return errors.New("id contains invalid characters (allowed: alphanumeric, dot, dash, underscore)")
	}
	return nil
}
