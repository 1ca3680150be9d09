package apiclient

import (
	"context"
	"net/http"
)

// Login authenticates and stores the session cookies the backend sets.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	resp, err := c.Do(ctx, Call{
		Method: http.MethodPost,
		Path:   "/api/auth/login",
		Body:   credentials{Username: username, Password: password},
	})
	if err != nil {
		return nil, err
	}
	var out LoginResponse
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout ends the session. An already expired session is not an error.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.Do(ctx, Call{
		Method: http.MethodPost,
		Path:   "/api/auth/logout",
		Accept: []int{http.StatusUnauthorized},
	})
	return err
}

// Me returns the current user, or nil when not authenticated.
func (c *Client) Me(ctx context.Context) (*User, error) {
	resp, err := c.Do(ctx, Call{
		Method: http.MethodGet,
		Path:   "/api/auth/me",
		Accept: []int{http.StatusUnauthorized},
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, nil
	}
	var out User
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account; the backend also starts a session.
func (c *Client) Register(ctx context.Context, username, password string) (*RegisterResponse, error) {
	resp, err := c.Do(ctx, Call{
		Method: http.MethodPost,
		Path:   "/api/auth/register",
		Body:   credentials{Username: username, Password: password},
	})
	if err != nil {
		return nil, err
	}
	var out RegisterResponse
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
