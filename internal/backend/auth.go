package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ispdesk/portal/internal/ability"
)

// Credentials are posted to /auth/login.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult carries the cookies the backend issued for the new session.
type LoginResult struct {
	Cookies []*http.Cookie
}

// Cookie returns the issued cookie with the given name, if any.
func (r *LoginResult) Cookie(name string) *http.Cookie {
	if r == nil {
		return nil
	}
	for _, c := range r.Cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Login authenticates against the backend and returns its session cookies.
func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResult, error) {
	raw, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("backend: encode credentials: %w", err)
	}
	resp, err := c.send(ctx, request{
		method:      http.MethodPost,
		path:        "/auth/login",
		body:        bytes.NewReader(raw),
		contentType: "application/json",
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)
	result := &LoginResult{Cookies: resp.Cookies()}
	if result.Cookie(AccessTokenCookie) == nil {
		return nil, &Error{Status: http.StatusUnauthorized, Message: "login response carried no session cookie"}
	}
	return result, nil
}

// Logout ends the backend session identified by cookies.
func (c *Client) Logout(ctx context.Context, cookies []*http.Cookie) error {
	return c.sendJSON(ctx, http.MethodPost, "/auth/logout", cookies, nil, nil)
}

// Profile returns the signed-in user with roles and permissions.
func (c *Client) Profile(ctx context.Context, cookies []*http.Cookie) (*ability.User, error) {
	var user ability.User
	if err := c.sendJSON(ctx, http.MethodPost, "/auth/profile", cookies, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}
