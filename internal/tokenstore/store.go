package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/florianilch/sessionkeeper/internal/session"
)

var (
	// ErrInvalidCredentials is returned when both tokens of a pair are empty.
	ErrInvalidCredentials = errors.New("tokens not found")
	// ErrInvalidIdentity is returned for an empty or partially populated identity.
	ErrInvalidIdentity = errors.New("user identity incomplete")
	// ErrSessionChanged is returned by CommitRefresh when the stored refresh
	// token is no longer the one the refresh was made with.
	ErrSessionChanged = errors.New("session changed during refresh")
)

// statusFor derives the session status from a credential pair: only an
// access token makes a session authenticated.
func statusFor(creds Credentials) session.Status {
	if creds.AccessToken != "" {
		return session.StatusAuthenticated
	}
	return session.StatusUnauthenticated
}

// Store owns the credential pair and identity.
//
// Reads are lock-free atomic loads of an immutable snapshot. Writes are
// serialized by writeMu and follow write-through order: backend first, then
// the in-memory snapshot, then the session transition.
type Store struct {
	backend Backend
	machine *session.Machine

	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex
}

// New creates a Store hydrated from backend. Partially stored state (for
// example an access token without a refresh token) is accepted as-is.
func New(ctx context.Context, backend Backend) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("missing backend")
	}

	record, err := backend.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate session: %w", err)
	}

	snap := snapshotFromRecord(record)
	initial := statusFor(snap.Credentials)

	s := &Store{
		backend: backend,
		machine: session.NewMachine(initial),
	}
	s.current.Store(&snap)

	slog.DebugContext(ctx, "session hydrated",
		"status", initial,
		"has_access_token", snap.Credentials.AccessToken != "",
		"has_refresh_token", snap.Credentials.RefreshToken != "",
	)

	return s, nil
}

// Session returns the state machine driven by this store.
func (s *Store) Session() *session.Machine {
	return s.machine
}

// Snapshot returns the current credentials and identity. Never blocks.
func (s *Store) Snapshot() Snapshot {
	return *s.current.Load()
}

// Get returns the current credential pair. Never blocks.
func (s *Store) Get() Credentials {
	return s.current.Load().Credentials
}

// Identity returns the current identity. Never blocks.
func (s *Store) Identity() Identity {
	return s.current.Load().Identity
}

// SetCredentials replaces the token pair. The session is authenticated when
// the new pair carries an access token.
func (s *Store) SetCredentials(ctx context.Context, accessToken, refreshToken string) error {
	creds := Credentials{AccessToken: accessToken, RefreshToken: refreshToken}
	if creds.Empty() {
		return ErrInvalidCredentials
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Snapshot()
	next.Credentials = creds
	if err := s.commit(ctx, next); err != nil {
		return err
	}
	s.machine.Advance(statusFor(creds), session.ReasonCredentialsSet)
	return nil
}

// CommitRefresh stores the pair obtained by exchanging usedRefreshToken. It
// fails with ErrSessionChanged, leaving the store untouched, when the stored
// refresh token is no longer usedRefreshToken (a logout or a new login
// happened while the refresh was out).
func (s *Store) CommitRefresh(ctx context.Context, usedRefreshToken string, creds Credentials) error {
	if creds.Empty() {
		return ErrInvalidCredentials
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Snapshot()
	if next.Credentials.RefreshToken != usedRefreshToken {
		return ErrSessionChanged
	}
	next.Credentials = creds
	if err := s.commit(ctx, next); err != nil {
		return err
	}
	s.machine.Advance(statusFor(creds), session.ReasonCredentialsSet)
	return nil
}

// SetIdentity replaces the identity. Every field must be set.
func (s *Store) SetIdentity(ctx context.Context, identity Identity) error {
	if !identity.complete() {
		return ErrInvalidIdentity
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next := s.Snapshot()
	next.Identity = identity
	return s.commit(ctx, next)
}

// Establish stores the token pair and identity of a fresh login in one
// durable write and marks the session authenticated.
func (s *Store) Establish(ctx context.Context, creds Credentials, identity Identity) error {
	if creds.Empty() {
		return ErrInvalidCredentials
	}
	if !identity.complete() {
		return ErrInvalidIdentity
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.commit(ctx, Snapshot{Credentials: creds, Identity: identity}); err != nil {
		return err
	}
	s.machine.Advance(statusFor(creds), session.ReasonLogin)
	return nil
}

// Clear removes credentials and identity from memory and durable storage and
// marks the session unauthenticated. Clearing an empty store is a no-op that
// emits no transition.
//
// Memory is cleared even when the durable delete fails; the failure is returned.
func (s *Store) Clear(ctx context.Context, reason session.Reason) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return s.clear(ctx, reason)
}

// ClearIf clears the store like Clear, but only while the stored refresh
// token is still usedRefreshToken. It reports whether it cleared.
func (s *Store) ClearIf(ctx context.Context, usedRefreshToken string, reason session.Reason) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.Get().RefreshToken != usedRefreshToken {
		return false, nil
	}
	return true, s.clear(ctx, reason)
}

// clear empties memory and the backend. Caller holds writeMu.
func (s *Store) clear(ctx context.Context, reason session.Reason) error {
	var err error
	if current := s.current.Load(); *current != (Snapshot{}) {
		if werr := s.backend.Write(ctx, Record{}); werr != nil {
			slog.ErrorContext(ctx, "failed to remove persisted session", "error", werr)
			err = fmt.Errorf("removing persisted session: %w", werr)
		}
		s.current.Store(&Snapshot{})
	}

	s.machine.Advance(session.StatusUnauthenticated, reason)
	return err
}

// Reload re-reads the backend and adopts its content when another process
// changed it. The session status follows the reloaded access token.
// Returns whether anything changed.
func (s *Store) Reload(ctx context.Context) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	record, err := s.backend.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("reloading session: %w", err)
	}

	next := snapshotFromRecord(record)
	if next == *s.current.Load() {
		return false, nil
	}
	s.current.Store(&next)

	status := statusFor(next.Credentials)
	s.machine.Advance(status, session.ReasonReloaded)

	slog.DebugContext(ctx, "session reloaded from storage", "status", status)
	return true, nil
}

// commit writes next to the backend and publishes it. Caller holds writeMu.
func (s *Store) commit(ctx context.Context, next Snapshot) error {
	if err := s.backend.Write(ctx, next.record()); err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}
	s.current.Store(&next)
	return nil
}
