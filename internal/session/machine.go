package session

import (
	"slices"
	"sync"
	"time"
)

// Status is the externally observable session state.
type Status string

const (
	StatusUnauthenticated Status = "unauthenticated"
	StatusAuthenticated   Status = "authenticated"
)

// Reason describes what caused a transition.
type Reason string

const (
	ReasonLogin          Reason = "login"
	ReasonCredentialsSet Reason = "credentials_set"
	ReasonLogout         Reason = "logout"
	ReasonRefreshFailed  Reason = "refresh_failed"
	ReasonReloaded       Reason = "reloaded"
)

// Transition is delivered to subscribers whenever the status changes.
type Transition struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	Reason Reason    `json:"reason"`
	At     time.Time `json:"at"`
}

// Observer receives transitions. Observers run synchronously on the goroutine
// that caused the transition and must not mutate the token store.
type Observer func(Transition)

type subscription struct {
	id uint64
	fn Observer
}

// Machine holds the current status and fans transitions out to observers
// in subscription order.
type Machine struct {
	mu        sync.Mutex
	status    Status
	observers []subscription
	nextID    uint64
	now       func() time.Time
}

// NewMachine creates a Machine in the given initial status.
func NewMachine(initial Status) *Machine {
	if initial != StatusAuthenticated {
		initial = StatusUnauthenticated
	}
	return &Machine{
		status: initial,
		now:    time.Now,
	}
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Authenticated reports whether the current status is Authenticated.
func (m *Machine) Authenticated() bool {
	return m.Status() == StatusAuthenticated
}

// Subscribe registers fn for future transitions and returns a function that
// removes it again. Unsubscribing more than once is harmless.
func (m *Machine) Subscribe(fn Observer) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.observers = append(m.observers, subscription{id: id, fn: fn})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.observers = slices.DeleteFunc(m.observers, func(s subscription) bool { return s.id == id })
			m.mu.Unlock()
		})
	}
}

// Advance moves the machine to status to. It reports whether a transition
// happened; moving to the current status is a no-op and notifies nobody.
//
// Callers serialize Advance themselves (the token store calls it under its
// write lock), which keeps delivery order identical to mutation order.
func (m *Machine) Advance(to Status, reason Reason) bool {
	m.mu.Lock()
	if m.status == to {
		m.mu.Unlock()
		return false
	}
	t := Transition{From: m.status, To: to, Reason: reason, At: m.now()}
	m.status = to
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	for _, s := range observers {
		s.fn(t)
	}
	return true
}
