package session

import (
	"slices"
	"testing"
)

func TestNewMachineInitialStatus(t *testing.T) {
	tests := []struct {
		name    string
		initial Status
		want    Status
	}{
		{name: "authenticated", initial: StatusAuthenticated, want: StatusAuthenticated},
		{name: "unauthenticated", initial: StatusUnauthenticated, want: StatusUnauthenticated},
		{name: "unknown falls back to unauthenticated", initial: Status("refreshing"), want: StatusUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewMachine(tt.initial).Status(); got != tt.want {
				t.Errorf("Status() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAdvanceNotifiesOnlyOnChange(t *testing.T) {
	m := NewMachine(StatusUnauthenticated)

	var got []Transition
	m.Subscribe(func(tr Transition) { got = append(got, tr) })

	if !m.Advance(StatusAuthenticated, ReasonLogin) {
		t.Fatal("expected transition to authenticated")
	}
	if m.Advance(StatusAuthenticated, ReasonCredentialsSet) {
		t.Error("advancing to the current status must not transition")
	}
	if !m.Advance(StatusUnauthenticated, ReasonLogout) {
		t.Fatal("expected transition to unauthenticated")
	}
	if m.Advance(StatusUnauthenticated, ReasonLogout) {
		t.Error("second logout must not transition")
	}

	if len(got) != 2 {
		t.Fatalf("got %d transitions, want 2: %+v", len(got), got)
	}
	if got[0].From != StatusUnauthenticated || got[0].To != StatusAuthenticated || got[0].Reason != ReasonLogin {
		t.Errorf("first transition = %+v", got[0])
	}
	if got[1].From != StatusAuthenticated || got[1].To != StatusUnauthenticated || got[1].Reason != ReasonLogout {
		t.Errorf("second transition = %+v", got[1])
	}
	if got[0].At.IsZero() {
		t.Error("transition time not set")
	}
}

func TestUnsubscribe(t *testing.T) {
	m := NewMachine(StatusUnauthenticated)

	calls := 0
	unsubscribe := m.Subscribe(func(Transition) { calls++ })

	m.Advance(StatusAuthenticated, ReasonLogin)
	unsubscribe()
	unsubscribe()
	m.Advance(StatusUnauthenticated, ReasonLogout)

	if calls != 1 {
		t.Errorf("observer called %d times, want 1", calls)
	}
	if !m.Advance(StatusAuthenticated, ReasonLogin) || !m.Authenticated() {
		t.Error("machine should keep working after unsubscribe")
	}
}

func TestObserversRunInSubscriptionOrder(t *testing.T) {
	m := NewMachine(StatusUnauthenticated)

	var got []int
	for i := range 8 {
		m.Subscribe(func(Transition) { got = append(got, i) })
	}
	unsubscribe := m.Subscribe(func(Transition) { got = append(got, -1) })
	m.Subscribe(func(Transition) { got = append(got, 8) })
	unsubscribe()

	m.Advance(StatusAuthenticated, ReasonLogin)

	want := []int{0, 1, 2, 3, 4, 5, 6, 7, 8}
	if !slices.Equal(got, want) {
		t.Errorf("delivery order = %v, want %v", got, want)
	}
}
