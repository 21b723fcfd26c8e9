package proxy

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/florianilch/sessionkeeper/internal/api"
	"github.com/florianilch/sessionkeeper/internal/pipeline"
)

// maxRequestBody bounds bodies accepted for forwarding.
const maxRequestBody = 10 << 20

var (
	// forwardedHeaders defines the client headers permitted to pass through to the backend.
	// Authorization is deliberately absent: the bearer always comes from the session.
	forwardedHeaders = map[string]bool{
		"Content-Type":    true,
		"Accept":          true,
		"Accept-Language": true,

		// W3C Trace Context for distributed tracing correlation.
		"Traceparent": true,
		"Tracestate":  true,
	}

	// returnedHeaders defines the backend headers copied back to the client.
	returnedHeaders = []string{"Content-Type", "Cache-Control", "Etag", "Last-Modified", pipeline.RequestIDHeader}
)

// ForwardHandler relays /api/* calls to the backend through the authenticated pipeline.
type ForwardHandler struct {
	Doer api.Doer
}

// Compile-time check to ensure ForwardHandler implements http.Handler
var _ http.Handler = (*ForwardHandler)(nil)

// ServeHTTP implements http.Handler interface.
func (h *ForwardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	path := forwardPath(r)
	if err := pipeline.ValidatePath(path); err != nil {
		writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
		return
	}

	var body any
	if r.Body != nil && r.Body != http.NoBody {
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
		if err != nil {
			writeJSONError(ctx, w, "request body too large or unreadable", http.StatusRequestEntityTooLarge)
			return
		}
		if len(data) > 0 {
			body = data
		}
	}

	resp, err := h.Doer.Execute(ctx, &pipeline.Request{
		Method: r.Method,
		Path:   path,
		Query:  r.URL.Query(),
		Header: filterHeaders(r.Header),
		Body:   body,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	for _, key := range returnedHeaders {
		if v := resp.Header.Get(key); v != "" {
			w.Header().Set(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		slog.DebugContext(ctx, "failed to write forwarded response", "error", err)
	}
}

// forwardPath returns the still-escaped remainder after /api/ so that
// encoded separators inside a segment survive the hop.
func forwardPath(r *http.Request) string {
	return strings.TrimPrefix(r.URL.EscapedPath(), "/api/")
}

// filterHeaders keeps only forwardedHeaders.
func filterHeaders(in http.Header) http.Header {
	out := make(http.Header)
	for key, values := range in {
		if forwardedHeaders[key] {
			out[key] = values
		}
	}
	return out
}

// writeError maps pipeline and client errors to gateway responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()

	// Client went away, nobody to answer
	if ctx.Err() != nil {
		return
	}

	var (
		reauthErr   *pipeline.ReauthFailedError
		upstreamErr *pipeline.UpstreamError
		networkErr  *pipeline.NetworkError
	)
	switch {
	case errors.As(err, &reauthErr):
		slog.WarnContext(ctx, "session expired", "cause", reauthErr.Cause)
		writeJSONError(ctx, w, "session expired, log in again", http.StatusUnauthorized)
	case errors.Is(err, pipeline.ErrInvalidPath):
		writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, api.ErrNotAuthenticated):
		writeJSONError(ctx, w, err.Error(), http.StatusUnauthorized)
	case errors.As(err, &upstreamErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(upstreamErr.StatusCode)
		_, _ = w.Write(upstreamErr.Body)
	case errors.As(err, &networkErr):
		slog.ErrorContext(ctx, "backend unreachable", "error", err)
		writeJSONError(ctx, w, "backend unreachable", http.StatusBadGateway)
	default:
		slog.ErrorContext(ctx, "request failed", "error", err)
		writeJSONError(ctx, w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
