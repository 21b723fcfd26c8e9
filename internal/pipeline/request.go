package pipeline

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Request describes one logical API call. Body, when non-nil, is encoded as
// JSON once and resent unchanged on retry.
type Request struct {
	Method string
	// Path is resolved against the executor's base URL.
	Path   string
	Query  url.Values
	Header http.Header
	Body   any

	// Anonymous requests never carry a bearer token and never trigger a
	// refresh (login, signup, password reset).
	Anonymous bool
}

// Response is a fully read upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Success reports whether the status code is 2xx.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}
	return nil
}

// Err returns an *UpstreamError for non-2xx responses and nil otherwise.
func (r *Response) Err() error {
	if r.Success() {
		return nil
	}
	return &UpstreamError{StatusCode: r.StatusCode, Body: r.Body}
}

// ValidatePath rejects paths that, once unescaped, contain a ".." segment.
// Backslashes count as separators.
func ValidatePath(p string) error {
	unescaped, err := url.PathUnescape(p)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}
	for segment := range strings.SplitSeq(strings.ReplaceAll(unescaped, `\`, "/"), "/") {
		if segment == ".." {
			return ErrInvalidPath
		}
	}
	return nil
}
