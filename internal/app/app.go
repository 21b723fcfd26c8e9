package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/florianilch/sessionkeeper/internal/api"
	"github.com/florianilch/sessionkeeper/internal/pipeline"
	"github.com/florianilch/sessionkeeper/internal/proxy"
	"github.com/florianilch/sessionkeeper/internal/session"
	"github.com/florianilch/sessionkeeper/internal/tokensource"
	"github.com/florianilch/sessionkeeper/internal/tokenstore"
)

// App wires the session pipeline and orchestrates the gateway lifecycle.
type App struct {
	cfg     *Config
	backend tokenstore.Backend
	store   *tokenstore.Store
	client  *api.Client
	proxy   *proxy.Proxy

	unsubscribe func()
	closeOnce   sync.Once
	closeErr    error
}

// Option configures an App.
type Option func(*options)

type options struct {
	transport http.RoundTripper
}

// WithTransport sets the base transport for every backend call.
func WithTransport(transport http.RoundTripper) Option {
	return func(o *options) {
		o.transport = transport
	}
}

// New creates a new App instance. The session is hydrated from durable
// storage before New returns.
func New(ctx context.Context, cfg *Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := &options{transport: http.DefaultTransport}
	for _, opt := range opts {
		opt(o)
	}

	backend, err := cfg.Storage.NewBackend()
	if err != nil {
		return nil, fmt.Errorf("failed to create session storage: %w", err)
	}

	a := &App{cfg: cfg, backend: backend}
	if err := a.wire(ctx, o); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context, o *options) error {
	store, err := tokenstore.New(ctx, a.backend)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	refresher, err := tokensource.NewRefresher(a.cfg.Upstream.BaseURL,
		tokensource.WithTransport(o.transport),
		tokensource.WithTimeout(a.cfg.Upstream.RequestTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create refresher: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := pipeline.NewMetrics(registry)

	coordinator, err := pipeline.NewCoordinator(store, refresher,
		pipeline.WithRefreshTimeout(a.cfg.Upstream.RefreshTimeout),
		pipeline.WithRefreshMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create reauth coordinator: %w", err)
	}

	executor, err := pipeline.NewExecutor(a.cfg.Upstream.BaseURL, store, coordinator,
		pipeline.WithTransport(o.transport),
		pipeline.WithRequestTimeout(a.cfg.Upstream.RequestTimeout),
		pipeline.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create executor: %w", err)
	}

	client, err := api.New(executor, store)
	if err != nil {
		return fmt.Errorf("failed to create api client: %w", err)
	}

	gateway, err := proxy.New(executor, client, store.Session(),
		proxy.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	)
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	a.store = store
	a.client = client
	a.proxy = gateway
	a.unsubscribe = store.Session().Subscribe(func(t session.Transition) {
		slog.Info("session changed", "from", t.From, "to", t.To, "reason", t.Reason)
	})

	return nil
}

// Client returns the typed backend client.
func (a *App) Client() *api.Client {
	return a.client
}

// Store returns the session token store.
func (a *App) Store() *tokenstore.Store {
	return a.store
}

// Handler returns the gateway handler without binding a listener.
func (a *App) Handler() http.Handler {
	return a.proxy
}

// Close releases the storage backend. Safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if a.unsubscribe != nil {
			a.unsubscribe()
		}
		if closer, ok := a.backend.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				a.closeErr = fmt.Errorf("closing session storage: %w", err)
			}
		}
	})
	return a.closeErr
}

// Start starts the gateway and blocks until shutdown is triggered.
// Uses errgroup for runtime error monitoring and shutdown function collection for coordinated cleanup.
func (a *App) Start(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	address := a.cfg.Server.Host + ":" + strconv.FormatUint(uint64(a.cfg.Server.Port), 10)
	shutdownFuncs := []func(context.Context) error{
		func(context.Context) error { return a.Close() },
	}

	// Startup phase: Start services
	slog.InfoContext(gCtx, "starting gateway", "address", address, "upstream", a.cfg.Upstream.BaseURL)
	proxyErrCh, err := a.proxy.Start(gCtx, address)
	if err != nil {
		return errors.Join(fmt.Errorf("gateway startup failed: %w", err), a.Close())
	}
	shutdownFuncs = append(shutdownFuncs, a.proxy.Shutdown)

	// Follow logins and logouts made by other processes sharing the session file
	if a.cfg.Storage.Type == StorageTypeFile {
		watcher, err := newSessionWatcher(a.cfg.Storage.File, a.store)
		if err != nil {
			slog.WarnContext(gCtx, "session file not watched", "error", err)
		} else {
			shutdownFuncs = append(shutdownFuncs, watcher.Close)
			g.Go(func() error { return watcher.Run(gCtx) })
		}
	}

	// Monitor runtime errors - errgroup cancels context on first error
	g.Go(func() error {
		select {
		case err := <-proxyErrCh:
			if err != nil {
				slog.ErrorContext(gCtx, "gateway runtime error", "error", err)
				return fmt.Errorf("gateway: %w", err)
			}
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	slog.InfoContext(gCtx, "application ready", "address", address, "session", a.store.Session().Status())

	runtimeErr := g.Wait()

	slog.InfoContext(gCtx, "shutting down services")

	// Shutdown phase: Stop all services
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Shutdown.Timeout)
	defer cancel()

	var errs []error
	if runtimeErr != nil {
		errs = append(errs, fmt.Errorf("runtime: %w", runtimeErr))
	}

	for i := len(shutdownFuncs) - 1; i >= 0; i-- {
		if err := shutdownFuncs[i](shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "service shutdown failed", "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("application stopped")
	return nil
}
