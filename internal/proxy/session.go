package proxy

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/florianilch/sessionkeeper/internal/api"
	"github.com/florianilch/sessionkeeper/internal/session"
	"github.com/florianilch/sessionkeeper/internal/tokenstore"
)

// eventBuffer bounds transitions queued for a slow event stream client.
const eventBuffer = 16

// SessionView is the body of GET /session and the first event of the stream.
type SessionView struct {
	Status session.Status       `json:"status"`
	User   *tokenstore.Identity `json:"user,omitempty"`
}

// SessionHandler serves login, logout and session observation.
type SessionHandler struct {
	Client    *api.Client
	Machine   *session.Machine
	Heartbeat time.Duration
}

func (h *SessionHandler) view() SessionView {
	status, identity := h.Client.Session()
	v := SessionView{Status: status}
	if !identity.Empty() {
		v.User = &identity
	}
	return v
}

// Login handles POST /login.
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var in api.LoginInput
	if err := readJSON(w, r, &in); err != nil {
		writeJSONError(ctx, w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, err := h.Client.Login(ctx, in); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
			return
		}
		writeError(w, r, err)
		return
	}

	writeJSON(ctx, w, h.view(), http.StatusOK)
}

// Logout handles POST /logout.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Client.Logout(r.Context()); err != nil {
		// The in-memory session is gone either way
		slog.ErrorContext(r.Context(), "logout did not reach durable storage", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /session.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, h.view(), http.StatusOK)
}

// Events handles GET /session/events: the current session first, then every
// transition until the client disconnects.
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Subscribe before the snapshot so no transition falls in between
	events := make(chan session.Transition, eventBuffer)
	unsubscribe := h.Machine.Subscribe(func(t session.Transition) {
		select {
		case events <- t:
		default:
			slog.WarnContext(ctx, "dropping session event for slow client", "to", t.To)
		}
	})
	defer unsubscribe()

	stream, err := NewEventStream(w)
	if err != nil {
		slog.ErrorContext(ctx, "event stream not supported", "error", err)
		writeJSONError(ctx, w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if err := stream.Send("session", h.view()); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-events:
			if err := stream.Send("transition", t); err != nil {
				slog.DebugContext(ctx, "event stream closed", "error", err)
				return
			}
		case <-heartbeat.C:
			if err := stream.Comment("keep-alive"); err != nil {
				return
			}
		}
	}
}
