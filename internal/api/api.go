// Package api is the typed client for the user-management backend.
//
// Public endpoints (login, signup, password reset) go out anonymously.
// Everything else is sent through the authenticated pipeline and
// transparently survives a single access token expiry.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/sessionkeeper/internal/pipeline"
	"github.com/florianilch/sessionkeeper/internal/session"
	"github.com/florianilch/sessionkeeper/internal/tokenstore"
)

// ErrNotAuthenticated is returned by calls that need a session when none exists.
var ErrNotAuthenticated = errors.New("not authenticated")

// Doer executes pipeline requests.
type Doer interface {
	Execute(ctx context.Context, req *pipeline.Request) (*pipeline.Response, error)
}

// Client exposes the backend's auth and user endpoints.
type Client struct {
	doer     Doer
	store    *tokenstore.Store
	validate *validator.Validate
}

// New creates a Client. Successful logins and signups are committed to store.
func New(doer Doer, store *tokenstore.Store) (*Client, error) {
	if doer == nil {
		return nil, fmt.Errorf("missing request executor")
	}
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	return &Client{
		doer:     doer,
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// envelope is the response wrapper used by every endpoint.
type envelope[T any] struct {
	Data T `json:"data"`
}

// call executes req and decodes a successful response's data into out (may be nil).
func (c *Client) call(ctx context.Context, req *pipeline.Request, out any) error {
	resp, err := c.doer.Execute(ctx, req)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if out == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.Decode(out)
}

// checkSession fails fast when no credential of any kind is stored.
func (c *Client) checkSession() error {
	if c.store.Get().Empty() {
		return ErrNotAuthenticated
	}
	return nil
}

// userPath builds users/{id} with id escaped as a single segment.
func userPath(id string) string {
	return "users/" + url.PathEscape(id)
}

// Logout forgets the local session. The backend keeps no session state to revoke.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.store.Clear(ctx, session.ReasonLogout); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	slog.InfoContext(ctx, "logged out")
	return nil
}

// Session returns the current status and identity.
func (c *Client) Session() (session.Status, tokenstore.Identity) {
	return c.store.Session().Status(), c.store.Identity()
}
