package tokensource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/florianilch/sessionkeeper/internal/pipeline"
	"github.com/florianilch/sessionkeeper/internal/tokenstore"
)

// RefreshPath is the refresh endpoint relative to the API base URL.
const RefreshPath = "refresh-token"

// maxRefreshResponseSize bounds the refresh response body.
const maxRefreshResponseSize = 1 << 20

var (
	// ErrIncompleteRefresh is returned when the refresh endpoint answers
	// successfully but omits the access or the refresh token.
	ErrIncompleteRefresh = errors.New("refresh response missing token")

	// ErrNoAccessToken is returned by the store token source when no access
	// token is stored.
	ErrNoAccessToken = errors.New("no access token stored")
)

// RefresherOption configures a Refresher.
type RefresherOption func(*refresherConfig)

// refresherConfig holds configuration for NewRefresher.
type refresherConfig struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
}

// WithTransport sets a custom base transport for refresh requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) RefresherOption {
	return func(c *refresherConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds every refresh round trip, independent of the caller's context.
func WithTimeout(timeout time.Duration) RefresherOption {
	return func(c *refresherConfig) {
		c.timeout = timeout
	}
}

// Refresher exchanges a refresh token for a new credential pair.
type Refresher struct {
	endpoint   string
	httpClient *http.Client
}

// Compile-time check to ensure Refresher implements pipeline.Refresher
var _ pipeline.Refresher = (*Refresher)(nil)

// NewRefresher creates a Refresher for the API rooted at baseURL.
func NewRefresher(baseURL string, opts ...RefresherOption) (*Refresher, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", baseURL)
	}

	cfg := &refresherConfig{
		baseTransport: http.DefaultTransport,
		timeout:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Refresher{
		endpoint: base.JoinPath(RefreshPath).String(),
		httpClient: &http.Client{
			Timeout:   cfg.timeout,
			Transport: cfg.baseTransport,
		},
	}, nil
}

// refreshResponse is the body returned by the refresh endpoint.
type refreshResponse struct {
	Data struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	} `json:"data"`
}

// Refresh performs POST /refresh-token authenticated with refreshToken.
//
// Transport failures are returned as *pipeline.NetworkError and non-2xx
// answers as *pipeline.UpstreamError. A success response that lacks either
// token fails with ErrIncompleteRefresh.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (tokenstore.Credentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, http.NoBody)
	if err != nil {
		return tokenstore.Credentials{}, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	// Refresh requests carry the refresh token, never the access token.
	(&oauth2.Token{AccessToken: refreshToken, TokenType: "Bearer"}).SetAuthHeader(req)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return tokenstore.Credentials{}, &pipeline.NetworkError{Method: req.Method, URL: r.endpoint, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRefreshResponseSize))
	if err != nil {
		return tokenstore.Credentials{}, &pipeline.NetworkError{Method: req.Method, URL: r.endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return tokenstore.Credentials{}, &pipeline.UpstreamError{StatusCode: resp.StatusCode, Body: body}
	}

	var payload refreshResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return tokenstore.Credentials{}, fmt.Errorf("decoding refresh response: %w", err)
	}

	creds := tokenstore.Credentials{
		AccessToken:  payload.Data.AccessToken,
		RefreshToken: payload.Data.RefreshToken,
	}
	if creds.AccessToken == "" || creds.RefreshToken == "" {
		return tokenstore.Credentials{}, ErrIncompleteRefresh
	}
	return creds, nil
}

// StoreTokenSource reports the stored credential as an oauth2.Token.
type StoreTokenSource struct {
	store *tokenstore.Store
}

// Compile-time check to ensure StoreTokenSource implements oauth2.TokenSource
var _ oauth2.TokenSource = (*StoreTokenSource)(nil)

// FromStore creates a StoreTokenSource backed by store.
func FromStore(store *tokenstore.Store) *StoreTokenSource {
	return &StoreTokenSource{store: store}
}

// Token returns the current stored access token without refreshing it.
func (s *StoreTokenSource) Token() (*oauth2.Token, error) {
	creds := s.store.Get()
	if creds.AccessToken == "" {
		return nil, ErrNoAccessToken
	}
	return creds.OAuth2(), nil
}
