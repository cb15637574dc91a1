package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"livecam/native/internal/domain"
)

type authResponse struct {
	Token string `json:"token"`
}

type resetRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type resetResponse struct {
	OK bool `json:"ok"`
}

// AuthClient talks to the /auth endpoints.
type AuthClient struct {
	*Client
	base          string
	identityField string
}

// NewAuthClient creates an AuthClient. identityField names the JSON field
// carrying the user identifier on login and register.
func NewAuthClient(c *Client, base, identityField string) *AuthClient {
	if identityField == "" {
		identityField = "email"
	}
	return &AuthClient{Client: c, base: base, identityField: identityField}
}

// Login exchanges credentials for a bearer token.
func (c *AuthClient) Login(ctx context.Context, identifier, password string) (string, error) {
	return c.credentials(ctx, "/auth/login", "Login", identifier, password)
}

// Register creates an account and returns its bearer token.
func (c *AuthClient) Register(ctx context.Context, identifier, password string) (string, error) {
	return c.credentials(ctx, "/auth/register", "Register", identifier, password)
}

func (c *AuthClient) credentials(ctx context.Context, path, op, identifier, password string) (string, error) {
	body := map[string]string{
		c.identityField: identifier,
		"password":      password,
	}
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, c.base+path, "", body, &resp); err != nil {
		return "", domain.NewError(domain.ErrAuth, failureMessage(err, op+" failed"), err)
	}
	if resp.Token == "" {
		return "", domain.NewError(domain.ErrAuth, op+" failed: no token in response", nil)
	}
	return resp.Token, nil
}

// Forgot requests a password reset mail. The service answers the same way
// whether or not the account exists, so only transport failures are errors.
func (c *AuthClient) Forgot(ctx context.Context, email string) error {
	err := c.do(ctx, http.MethodPost, c.base+"/auth/forgot", "", map[string]string{"email": email}, nil)
	var se *StatusError
	if err != nil && !errors.As(err, &se) {
		return domain.NewError(domain.ErrAuth, "unable to request reset right now", err)
	}
	return nil
}

// Reset sets a new password using a reset token.
func (c *AuthClient) Reset(ctx context.Context, resetToken, password string) error {
	var resp resetResponse
	err := c.do(ctx, http.MethodPost, c.base+"/auth/reset", "", resetRequest{Token: resetToken, Password: password}, &resp)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.Message != "" {
			return domain.NewError(domain.ErrAuth, se.Message, err)
		}
		return domain.NewError(domain.ErrAuth, "Reset failed", err)
	}
	if !resp.OK {
		return domain.NewError(domain.ErrAuth, "Reset failed", nil)
	}
	return nil
}

// failureMessage prefers the service's error string and falls back to
// "<op> failed (<status>)" or the generic request message.
func failureMessage(err error, fallback string) string {
	var se *StatusError
	if errors.As(err, &se) {
		if se.Message != "" {
			return se.Message
		}
		return fmt.Sprintf("%s (%d)", fallback, se.Status)
	}
	return domain.GenericRequestMessage
}
