package pipeline

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingRefreshToken is the cause of a ReauthFailedError when no
	// refresh token was stored at the time the access token expired.
	ErrMissingRefreshToken = errors.New("no refresh token available")

	// ErrInvalidPath is returned for request paths with a ".." segment,
	// which would leave the API base while still carrying the bearer token.
	ErrInvalidPath = errors.New("request path leaves the API base")

	// errCredentialExpired signals a 401 from Executor to Coordinator. It is
	// never returned to callers.
	errCredentialExpired = errors.New("access credential expired")
)

// NetworkError is a transport-level failure. It is never retried.
type NetworkError struct {
	Method string
	URL    string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UpstreamError is a non-auth HTTP failure surfaced verbatim, including a
// second 401 after a successful refresh.
type UpstreamError struct {
	StatusCode int
	Body       []byte
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// ReauthFailedError is terminal: the refresh failed, the session has been
// cleared, and every call waiting on the refresh fails with the same cause.
type ReauthFailedError struct {
	Cause error
}

func (e *ReauthFailedError) Error() string {
	return fmt.Sprintf("reauthentication failed: %v", e.Cause)
}

func (e *ReauthFailedError) Unwrap() error { return e.Cause }
