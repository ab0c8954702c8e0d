// Package identity resolves bearer tokens to users.
//
// The HTTP provider delegates validation to an external identity service; the
// server itself never parses or verifies token contents.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnauthenticated reports a missing, malformed, or rejected credential.
var ErrUnauthenticated = errors.New("identity: unauthenticated")

// User is the authenticated caller of a request.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Provider validates a bearer token and returns the user it belongs to.
// Implementations return ErrUnauthenticated for any invalid credential.
type Provider interface {
	Authenticate(ctx context.Context, token string) (User, error)
}

// TokenFromHeader extracts the bearer token from an Authorization header
// value. Returns "" when the header is absent or not a Bearer scheme.
func TokenFromHeader(h string) string {
	const prefix = "Bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// HTTPProvider authenticates against an external identity service over HTTP.
//
// It issues GET <baseURL>/user with the caller's bearer token and expects a
// JSON body containing the user id and email on 200. Any non-200 status is
// treated as an invalid credential, not an internal error: the identity
// service is the authority on token validity.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPProvider builds a provider for the identity service at baseURL.
// apiKey is optional; when set it is sent alongside the user token.
func NewHTTPProvider(baseURL, apiKey string) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPProvider) Authenticate(ctx context.Context, token string) (User, error) {
	if token == "" {
		return User{}, ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/user", nil)
	if err != nil {
		return User{}, fmt.Errorf("identity: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if p.apiKey != "" {
		req.Header.Set("apikey", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("identity: request user: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return User{}, ErrUnauthenticated
	}

	var u User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return User{}, fmt.Errorf("identity: decode user: %w", err)
	}
	if u.ID == "" {
		return User{}, ErrUnauthenticated
	}
	return u, nil
}

// Static is a fixed token-to-user table, used in tests and local development.
type Static map[string]User

func (s Static) Authenticate(_ context.Context, token string) (User, error) {
	u, ok := s[token]
	if !ok {
		return User{}, ErrUnauthenticated
	}
	return u, nil
}
