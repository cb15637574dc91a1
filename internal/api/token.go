package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"livecam/native/internal/domain"
)

type tokenResponse struct {
	Token string `json:"token"`
}

// TokenClient requests session credentials from the token minting service.
// It implements domain.TokenAcquirer.
type TokenClient struct {
	*Client
	endpoint string
}

// NewTokenClient creates a TokenClient posting to endpoint.
func NewTokenClient(c *Client, endpoint string) *TokenClient {
	return &TokenClient{Client: c, endpoint: endpoint}
}

// AcquireToken asks for a credential for req. authToken is sent as a bearer
// credential when non-empty. Every failure is a domain error of kind
// ErrTokenRequest; no retry is attempted.
func (c *TokenClient) AcquireToken(ctx context.Context, req domain.TokenRequest, authToken string) (*domain.Credential, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint, authToken, req, &resp); err != nil {
		return nil, domain.NewError(domain.ErrTokenRequest, requestMessage(err), err)
	}
	if resp.Token == "" {
		return nil, domain.NewError(domain.ErrTokenRequest, "empty token in response", nil)
	}

	return &domain.Credential{
		Token:     resp.Token,
		Room:      req.Room,
		Identity:  req.Identity,
		Publish:   req.Publish,
		ExpiresAt: tokenExpiry(resp.Token),
	}, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// signing key lives with the media server, not here.
func tokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// requestMessage is the user-facing text for a failed request: the
// service's own error string when it sent one, else a generic message.
func requestMessage(err error) string {
	var se *StatusError
	if errors.As(err, &se) && se.Message != "" {
		return se.Message
	}
	return domain.GenericRequestMessage
}
