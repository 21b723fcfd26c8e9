package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/florianilch/sessionkeeper/internal/pipeline"
	"github.com/florianilch/sessionkeeper/internal/tokenstore"
)

// User is a user record as returned by the backend.
type User struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Identity converts the user into the session identity.
func (u User) Identity() tokenstore.Identity {
	return tokenstore.Identity{UserID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}

// CreateUserInput creates a user on behalf of an administrator.
type CreateUserInput struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required"`
}

// UpdateUserInput replaces a user's editable fields (PUT).
type UpdateUserInput struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role" validate:"required"`
}

// EditUserInput changes selected fields (PATCH). Nil fields are left untouched.
type EditUserInput struct {
	Name  *string `json:"name,omitempty" validate:"omitnil,min=1"`
	Email *string `json:"email,omitempty" validate:"omitnil,email"`
	Role  *string `json:"role,omitempty" validate:"omitnil,min=1"`
}

// ListUsers returns all users visible to the caller.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	return c.listUsers(ctx, "users/")
}

// ListManagers returns users with the manager role.
func (c *Client) ListManagers(ctx context.Context) ([]User, error) {
	return c.listUsers(ctx, "users/managers")
}

func (c *Client) listUsers(ctx context.Context, path string) ([]User, error) {
	if err := c.checkSession(); err != nil {
		return nil, err
	}
	var out envelope[[]User]
	if err := c.call(ctx, &pipeline.Request{Method: http.MethodGet, Path: path}, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// GetUser fetches one user.
func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	if err := c.checkSession(); err != nil {
		return nil, err
	}
	var out envelope[User]
	if err := c.call(ctx, &pipeline.Request{Method: http.MethodGet, Path: userPath(id)}, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// CreateUser creates a user.
func (c *Client) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	if err := c.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid user: %w", err)
	}
	if err := c.checkSession(); err != nil {
		return nil, err
	}
	var out envelope[User]
	if err := c.call(ctx, &pipeline.Request{Method: http.MethodPost, Path: "users", Body: in}, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// UpdateUser replaces a user's fields.
func (c *Client) UpdateUser(ctx context.Context, id string, in UpdateUserInput) (*User, error) {
	if err := c.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid user: %w", err)
	}
	return c.modifyUser(ctx, http.MethodPut, id, in)
}

// EditUser patches a user's fields.
func (c *Client) EditUser(ctx context.Context, id string, in EditUserInput) (*User, error) {
	if err := c.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid user: %w", err)
	}
	return c.modifyUser(ctx, http.MethodPatch, id, in)
}

func (c *Client) modifyUser(ctx context.Context, method, id string, body any) (*User, error) {
	if err := c.checkSession(); err != nil {
		return nil, err
	}
	var out envelope[User]
	if err := c.call(ctx, &pipeline.Request{Method: method, Path: userPath(id), Body: body}, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// DeleteUser removes a user.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	if err := c.checkSession(); err != nil {
		return err
	}
	return c.call(ctx, &pipeline.Request{Method: http.MethodDelete, Path: userPath(id)}, nil)
}
