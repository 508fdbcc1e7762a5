// Package auth supplies credentials for engine connections.
//
// The gateway never caches credentials across reconnects: every Connect asks
// the configured HeaderSource for fresh headers.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HeaderSource resolves auth headers for a given auth-type tag at connect
// time.
type HeaderSource interface {
	Headers(ctx context.Context, authType string) (http.Header, error)
}

// Static serves fixed credentials from configuration.
type Static struct {
	APIKey      string
	BearerToken string
}

var _ HeaderSource = (*Static)(nil)

// Headers implements HeaderSource.
func (s *Static) Headers(_ context.Context, authType string) (http.Header, error) {
	h := http.Header{}
	switch authType {
	case "", "none":
		return h, nil
	case "api-key":
		if s.APIKey == "" {
			return nil, fmt.Errorf("auth: api-key requested but none configured")
		}
		h.Set("X-Api-Key", s.APIKey)
		return h, nil
	case "bearer":
		if s.BearerToken == "" {
			return nil, fmt.Errorf("auth: bearer requested but no token configured")
		}
		h.Set("Authorization", "Bearer "+s.BearerToken)
		return h, nil
	default:
		return nil, fmt.Errorf("auth: unsupported auth type %q", authType)
	}
}

// Service fetches short-lived tokens from an external auth service.
type Service struct {
	client *resty.Client
}

var _ HeaderSource = (*Service)(nil)

// NewService creates a token-fetching header source against baseURL.
func NewService(baseURL string) *Service {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Service{client: client}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Headers implements HeaderSource by exchanging the auth-type tag for a
// fresh token.
func (s *Service) Headers(ctx context.Context, authType string) (http.Header, error) {
	var body tokenResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("auth_type", authType).
		SetResult(&body).
		Get("/v1/token")
	if err != nil {
		return nil, fmt.Errorf("auth: token fetch failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("auth: token service returned %s", resp.Status())
	}
	if body.AccessToken == "" {
		return nil, fmt.Errorf("auth: token service returned empty token")
	}

	tokenType := body.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	h := http.Header{}
	h.Set("Authorization", tokenType+" "+body.AccessToken)
	return h, nil
}
