package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/florianilch/sessionkeeper/internal/pipeline"
	"github.com/florianilch/sessionkeeper/internal/tokenstore"
)

// LoginInput holds login credentials.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignupInput registers a new account.
type SignupInput struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
	Role     string `json:"role" validate:"required"`
}

// ForgotPasswordInput requests a password reset mail.
type ForgotPasswordInput struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordInput completes a password reset.
type ResetPasswordInput struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=6"`
}

// authResult is the payload of login and signup.
type authResult struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Login authenticates and establishes the session: tokens and identity are
// stored together.
func (c *Client) Login(ctx context.Context, in LoginInput) (*User, error) {
	if err := c.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid login input: %w", err)
	}
	return c.authenticate(ctx, "users/login", in)
}

// Signup registers an account and establishes its session.
func (c *Client) Signup(ctx context.Context, in SignupInput) (*User, error) {
	if err := c.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("invalid signup input: %w", err)
	}
	return c.authenticate(ctx, "users/", in)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (*User, error) {
	var out envelope[authResult]
	err := c.call(ctx, &pipeline.Request{
		Method:    http.MethodPost,
		Path:      path,
		Body:      body,
		Anonymous: true,
	}, &out)
	if err != nil {
		return nil, err
	}

	user := out.Data.User
	creds := tokenstore.Credentials{AccessToken: out.Data.AccessToken, RefreshToken: out.Data.RefreshToken}
	if err := c.store.Establish(ctx, creds, user.Identity()); err != nil {
		return nil, fmt.Errorf("storing session: %w", err)
	}

	slog.InfoContext(ctx, "session established", "user_id", user.ID, "role", user.Role)
	return &user, nil
}

// ForgotPassword asks the backend to send a reset link.
func (c *Client) ForgotPassword(ctx context.Context, in ForgotPasswordInput) error {
	if err := c.validate.Struct(in); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return c.call(ctx, &pipeline.Request{
		Method:    http.MethodPost,
		Path:      "users/forgot-password",
		Body:      in,
		Anonymous: true,
	}, nil)
}

// ResetPassword sets a new password using a reset token.
func (c *Client) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	if err := c.validate.Struct(in); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return c.call(ctx, &pipeline.Request{
		Method:    http.MethodPost,
		Path:      "users/reset-password",
		Body:      in,
		Anonymous: true,
	}, nil)
}
