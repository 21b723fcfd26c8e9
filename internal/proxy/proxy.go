package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/florianilch/sessionkeeper/internal/api"
	"github.com/florianilch/sessionkeeper/internal/session"
)

// Proxy is the local gateway: it forwards /api/* through the authenticated
// pipeline and exposes the session to local tools.
type Proxy struct {
	mux    *http.ServeMux
	server *http.Server
}

// Compile-time check that Proxy implements http.Handler
var _ http.Handler = (*Proxy)(nil)

// Option configures a Proxy.
type Option func(*config)

type config struct {
	heartbeat time.Duration
	metrics   http.Handler
}

// WithHeartbeat sets the interval of keep-alive comments on the event stream.
func WithHeartbeat(interval time.Duration) Option {
	return func(c *config) {
		if interval > 0 {
			c.heartbeat = interval
		}
	}
}

// WithMetricsHandler exposes h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(c *config) {
		c.metrics = h
	}
}

// New creates the gateway. doer executes forwarded calls, client handles
// login and logout, machine feeds the session endpoints.
func New(doer api.Doer, client *api.Client, machine *session.Machine, opts ...Option) (*Proxy, error) {
	if doer == nil || client == nil || machine == nil {
		return nil, fmt.Errorf("gateway requires executor, client and session machine")
	}

	cfg := &config{heartbeat: 15 * time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := slog.Default()

	mux := http.NewServeMux()

	sessionHandler := &SessionHandler{Client: client, Machine: machine, Heartbeat: cfg.heartbeat}
	mux.Handle("POST /login", applyMiddlewares(http.HandlerFunc(sessionHandler.Login),
		Logging(logger),
		Recovery,
	))
	mux.Handle("POST /logout", applyMiddlewares(http.HandlerFunc(sessionHandler.Logout),
		Logging(logger),
		Recovery,
	))
	mux.Handle("GET /session", applyMiddlewares(http.HandlerFunc(sessionHandler.Status),
		Logging(logger),
		Recovery,
	))
	mux.Handle("GET /session/events", applyMiddlewares(http.HandlerFunc(sessionHandler.Events),
		Logging(logger),
		Recovery,
	))

	// Forward everything under /api/ to the backend with the session's credential
	mux.Handle("/api/{path...}", applyMiddlewares(&ForwardHandler{Doer: doer},
		Logging(logger),
		Recovery,
	))

	if cfg.metrics != nil {
		mux.Handle("GET /metrics", applyMiddlewares(cfg.metrics, Recovery))
	}

	return &Proxy{mux: mux}, nil
}

// ServeHTTP implements http.Handler interface
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (p *Proxy) Start(ctx context.Context, address string) (<-chan error, error) {
	// Startup phase: Create listener synchronously to catch port-in-use errors immediately
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	return p.serve(ctx, listener), nil
}

// serve runs the server on listener until Shutdown.
func (p *Proxy) serve(ctx context.Context, listener net.Listener) <-chan error {
	p.server = &http.Server{
		Handler:     p,
		ReadTimeout: 30 * time.Second, // Inbound: Read entire client request (DoS protection against slow clients)
		// No WriteTimeout: the session event stream stays open for as long as the client listens
		IdleTimeout: 90 * time.Second, // Inbound: Keep-alive wait for next request from client
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := p.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.server == nil {
		return nil
	}

	if err := p.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = p.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
