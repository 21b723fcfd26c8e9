package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/florianilch/sessionkeeper/internal/tokenstore"
)

// maxResponseSize bounds how much of an upstream body is read into memory.
const maxResponseSize = 10 << 20

// RequestIDHeader carries a fresh identifier on every attempt.
const RequestIDHeader = "X-Request-Id"

// ExecutorOption configures an Executor.
type ExecutorOption func(*executorConfig)

// executorConfig holds configuration for NewExecutor.
type executorConfig struct {
	transport http.RoundTripper
	timeout   time.Duration
	metrics   *Metrics
}

// WithTransport sets the transport used for API calls.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) ExecutorOption {
	return func(c *executorConfig) {
		c.transport = transport
	}
}

// WithRequestTimeout bounds each individual attempt.
func WithRequestTimeout(timeout time.Duration) ExecutorOption {
	return func(c *executorConfig) {
		c.timeout = timeout
	}
}

// WithMetrics records the outcome of every Execute call.
func WithMetrics(m *Metrics) ExecutorOption {
	return func(c *executorConfig) {
		c.metrics = m
	}
}

// Executor sends requests with the stored access token and recovers from a
// single expiry through the Coordinator.
type Executor struct {
	baseURL     *url.URL
	httpClient  *http.Client
	store       *tokenstore.Store
	coordinator *Coordinator
	metrics     *Metrics
}

// NewExecutor creates an Executor for the API rooted at baseURL.
func NewExecutor(baseURL string, store *tokenstore.Store, coordinator *Coordinator, opts ...ExecutorOption) (*Executor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host required", baseURL)
	}
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if coordinator == nil {
		return nil, fmt.Errorf("missing coordinator")
	}

	cfg := &executorConfig{
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Executor{
		baseURL: base,
		httpClient: &http.Client{
			Timeout:   cfg.timeout,
			Transport: cfg.transport,
		},
		store:       store,
		coordinator: coordinator,
		metrics:     cfg.metrics,
	}, nil
}

// Execute sends req and returns the upstream response.
//
// Transport failures are returned as *NetworkError. A 401 triggers
// reauthentication and exactly one retry; if the retry is rejected again the
// call fails with *UpstreamError. If reauthentication fails the call fails
// with *ReauthFailedError. Any other status is returned as-is.
func (e *Executor) Execute(ctx context.Context, req *Request) (*Response, error) {
	resp, err := e.execute(ctx, req)
	e.metrics.observeRequest(req.Method, resp, err)
	return resp, err
}

func (e *Executor) execute(ctx context.Context, req *Request) (*Response, error) {
	if err := ValidatePath(req.Path); err != nil {
		return nil, err
	}

	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	if req.Anonymous {
		return e.send(ctx, req, body, "")
	}

	creds := e.store.Get()
	resp, err := e.attempt(ctx, req, body, creds.AccessToken)
	if !errors.Is(err, errCredentialExpired) {
		return resp, err
	}

	slog.DebugContext(ctx, "access token rejected", "method", req.Method, "path", req.Path)

	return e.coordinator.Recover(ctx, creds.AccessToken, func(ctx context.Context, fresh tokenstore.Credentials) (*Response, error) {
		resp, err := e.attempt(ctx, req, body, fresh.AccessToken)
		if errors.Is(err, errCredentialExpired) {
			// No second refresh cycle for the same call.
			return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: resp.Body}
		}
		return resp, err
	})
}

// attempt sends once and classifies a 401 as errCredentialExpired. The
// response is returned alongside that error.
func (e *Executor) attempt(ctx context.Context, req *Request, body []byte, accessToken string) (*Response, error) {
	resp, err := e.send(ctx, req, body, accessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return resp, errCredentialExpired
	}
	return resp, nil
}

// send performs one HTTP round trip. An empty accessToken sends the request
// unauthenticated.
func (e *Executor) send(ctx context.Context, req *Request, body []byte, accessToken string) (*Response, error) {
	target := e.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var bodyReader io.Reader = http.NoBody
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for key, values := range req.Header {
		httpReq.Header[key] = append([]string(nil), values...)
	}
	if httpReq.Header.Get("Accept") == "" {
		httpReq.Header.Set("Accept", "application/json")
	}
	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.NewString()
	httpReq.Header.Set(RequestIDHeader, requestID)
	if accessToken != "" {
		tokenstore.Credentials{AccessToken: accessToken}.OAuth2().SetAuthHeader(httpReq)
	}

	start := time.Now()
	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Method: method, URL: redactedURL(target), Err: err}
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, &NetworkError{Method: method, URL: redactedURL(target), Err: err}
	}

	slog.DebugContext(ctx, "upstream call",
		"method", method,
		"path", target.Path,
		"status", httpResp.StatusCode,
		"duration", time.Since(start),
		"request_id", requestID,
		"authenticated", accessToken != "",
	)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

// encodeBody marshals a request body once so retries resend identical bytes.
func encodeBody(v any) ([]byte, error) {
	switch b := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		return data, nil
	}
}

// redactedURL drops the query string, which may carry user data.
func redactedURL(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	return c.String()
}
