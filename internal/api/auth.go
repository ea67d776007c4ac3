package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Authentication endpoints.
const (
	pathLogin    = "/api/v1/auth/login"
	pathRegister = "/api/v1/auth/register"
	pathRefresh  = "/api/v1/auth/refresh"
	pathMe       = "/api/v1/auth/me"
)

// errEmptyCredential is returned when the backend answers 2xx without an
// access token.
var errEmptyCredential = errors.New("api: authentication response has no access token")

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Login exchanges a username and password for a credential pair.
// Rejections match ErrAuth.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResponse, error) {
	c.logger.Info("logging in", slog.String("username", username))

	var ar AuthResponse
	if _, err := c.Do(ctx, http.MethodPost, pathLogin, "", loginRequest{username, password}, &ar); err != nil {
		return nil, fmt.Errorf("login: %w", rejectedAsAuth(err, false))
	}

	return checkAuthResponse(&ar)
}

// Register creates an account and returns its first credential pair. Payload
// problems (400/409/422) match ErrValidation; other rejections match ErrAuth.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	c.logger.Info("registering account", slog.String("username", req.Username))

	var ar AuthResponse
	if _, err := c.Do(ctx, http.MethodPost, pathRegister, "", req, &ar); err != nil {
		return nil, fmt.Errorf("register: %w", rejectedAsAuth(err, true))
	}

	return checkAuthResponse(&ar)
}

// Refresh uses the long-lived credential to obtain a new credential pair.
// A revoked or unknown refresh token matches ErrAuth.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	c.logger.Debug("refreshing access token")

	var ar AuthResponse
	if _, err := c.Do(ctx, http.MethodPost, pathRefresh, "", refreshRequest{refreshToken}, &ar); err != nil {
		return nil, fmt.Errorf("refresh: %w", rejectedAsAuth(err, false))
	}

	return checkAuthResponse(&ar)
}

// Me returns the profile of the user owning accessToken.
func (c *Client) Me(ctx context.Context, accessToken string) (*UserSummary, error) {
	var u UserSummary
	if _, err := c.Do(ctx, http.MethodGet, pathMe, accessToken, nil, &u); err != nil {
		return nil, fmt.Errorf("fetching current user: %w", err)
	}

	c.logger.Debug("fetched current user",
		slog.Int64("user_id", u.UserID),
		slog.String("username", u.Username),
	)

	return &u, nil
}

func checkAuthResponse(ar *AuthResponse) (*AuthResponse, error) {
	if ar.AccessToken == "" {
		return nil, fmt.Errorf("%w: %w", ErrAuth, errEmptyCredential)
	}

	if ar.TokenType == "" {
		ar.TokenType = "Bearer"
	}

	return ar, nil
}
