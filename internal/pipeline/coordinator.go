package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/florianilch/sessionkeeper/internal/session"
	"github.com/florianilch/sessionkeeper/internal/tokenstore"
)

// DefaultRefreshTimeout bounds a refresh round trip when the caller sets no
// earlier deadline.
const DefaultRefreshTimeout = 15 * time.Second

// Refresher exchanges a refresh token for a new credential pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (tokenstore.Credentials, error)
}

// RetryFunc resends one original request with the given credentials.
type RetryFunc func(ctx context.Context, creds tokenstore.Credentials) (*Response, error)

// PendingCall is a caller waiting on the outcome of an in-flight refresh.
type PendingCall struct {
	ctx    context.Context
	retry  RetryFunc
	result chan callResult
}

type callResult struct {
	resp *Response
	err  error
}

// flight exists while a refresh call is outstanding. leader is the call
// that started it; it is nil once that caller gave up.
type flight struct {
	leader  *PendingCall
	pending []*PendingCall
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithRefreshTimeout bounds each refresh round trip.
func WithRefreshTimeout(timeout time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if timeout > 0 {
			c.refreshTimeout = timeout
		}
	}
}

// WithRefreshMetrics records refresh outcomes and queue depth.
func WithRefreshMetrics(m *Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Coordinator runs the single-flight refresh protocol.
//
// mu guards flight, which is non-nil exactly while one refresh is in flight.
// Under any number of concurrent expiries exactly one Refresh call is made.
type Coordinator struct {
	store          *tokenstore.Store
	refresher      Refresher
	refreshTimeout time.Duration
	metrics        *Metrics

	mu     sync.Mutex
	flight *flight
}

// NewCoordinator creates a Coordinator committing refreshed credentials to store.
func NewCoordinator(store *tokenstore.Store, refresher Refresher, opts ...CoordinatorOption) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("missing token store")
	}
	if refresher == nil {
		return nil, fmt.Errorf("missing refresher")
	}

	c := &Coordinator{
		store:          store,
		refresher:      refresher,
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Recover is called after a request sent with access token expired came back
// 401. It starts a refresh or joins the one in flight, then resends the
// request once through retry with the refreshed credentials.
//
// The refresh runs on its own goroutine, so every caller, including the one
// that started it, stops waiting as soon as its context is done.
//
// If the refresh fails the store is cleared and the call fails with a
// *ReauthFailedError shared by every caller of the same refresh.
func (c *Coordinator) Recover(ctx context.Context, expired string, retry RetryFunc) (*Response, error) {
	call := &PendingCall{ctx: ctx, retry: retry, result: make(chan callResult, 1)}

	c.mu.Lock()
	if f := c.flight; f != nil {
		f.pending = append(f.pending, call)
		c.mu.Unlock()
		c.metrics.addWaiting(1)
		defer c.metrics.addWaiting(-1)
		return c.wait(call)
	}

	// A refresh completed after this request was sent; its token is already stored.
	if current := c.store.Get(); current.AccessToken != "" && current.AccessToken != expired {
		c.mu.Unlock()
		c.metrics.observeRefresh(refreshSkipped, 0)
		return retry(ctx, current)
	}

	f := &flight{leader: call}
	c.flight = f
	c.mu.Unlock()

	used := c.store.Get().RefreshToken
	refreshCtx, cancel := c.refreshContext(ctx)
	go func() {
		defer cancel()
		c.run(refreshCtx, f, used)
	}()

	return c.wait(call)
}

// run exchanges the refresh token used for flight f and resolves every
// call still waiting on it.
func (c *Coordinator) run(ctx context.Context, f *flight, used string) {
	start := time.Now()

	creds, err := c.refresh(ctx, used)
	if err != nil {
		c.metrics.observeRefresh(refreshFailed, time.Since(start))
		failure := &ReauthFailedError{Cause: err}

		// Cleared before going idle so no caller can observe the stale pair.
		// A login or logout that happened meanwhile is left alone.
		cleared, clearErr := c.store.ClearIf(context.WithoutCancel(ctx), used, session.ReasonRefreshFailed)
		switch {
		case clearErr != nil:
			slog.ErrorContext(ctx, "failed to clear session after refresh failure", "error", clearErr)
		case cleared:
			slog.WarnContext(ctx, "access token refresh failed, session cleared", "error", err)
		default:
			slog.WarnContext(ctx, "access token refresh failed, session changed meanwhile", "error", err)
		}

		for _, call := range c.land(f) {
			call.result <- callResult{err: failure}
		}
		return
	}

	c.metrics.observeRefresh(refreshSucceeded, time.Since(start))
	calls := c.land(f)
	slog.InfoContext(ctx, "access token refreshed", "waiting_calls", len(calls))

	for _, call := range calls {
		go func() {
			resp, err := call.retry(call.ctx, creds)
			call.result <- callResult{resp: resp, err: err}
		}()
	}
}

// refresh exchanges refreshToken and commits the result, unless the session
// moved on to other tokens while the call was out.
func (c *Coordinator) refresh(ctx context.Context, refreshToken string) (tokenstore.Credentials, error) {
	if refreshToken == "" {
		return tokenstore.Credentials{}, ErrMissingRefreshToken
	}

	creds, err := c.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return tokenstore.Credentials{}, err
	}

	if err := c.store.CommitRefresh(context.WithoutCancel(ctx), refreshToken, creds); err != nil {
		return tokenstore.Credentials{}, fmt.Errorf("committing refreshed credentials: %w", err)
	}
	return creds, nil
}

// refreshContext detaches the refresh from the initiating caller's
// cancellation, since other callers share its outcome, but keeps that
// caller's deadline when it is earlier than the refresh timeout.
func (c *Coordinator) refreshContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline := time.Now().Add(c.refreshTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return context.WithDeadline(context.WithoutCancel(ctx), deadline)
}

// land returns the coordinator to idle and hands back every call still
// waiting, the leader first.
func (c *Coordinator) land(f *flight) []*PendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	var calls []*PendingCall
	if f.leader != nil {
		calls = append(calls, f.leader)
	}
	calls = append(calls, f.pending...)
	f.leader = nil
	f.pending = nil
	c.flight = nil
	return calls
}

// wait blocks until the refresh outcome for call is known or its caller gives up.
func (c *Coordinator) wait(call *PendingCall) (*Response, error) {
	select {
	case r := <-call.result:
		return r.resp, r.err
	case <-call.ctx.Done():
		c.mu.Lock()
		if f := c.flight; f != nil {
			if f.leader == call {
				f.leader = nil
			} else {
				f.pending = slices.DeleteFunc(f.pending, func(p *PendingCall) bool { return p == call })
			}
		}
		c.mu.Unlock()
		return nil, call.ctx.Err()
	}
}

// Waiting returns the number of calls queued behind the current refresh.
func (c *Coordinator) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flight == nil {
		return 0
	}
	return len(c.flight.pending)
}
