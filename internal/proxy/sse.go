package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
)

// errNoFlusher is returned when the connection cannot stream.
var errNoFlusher = errors.New("response writer cannot flush")

// lineBreaks drops CR and LF from single-line fields such as event names.
var lineBreaks = strings.NewReplacer("\r", "", "\n", "")

// EventStream writes session events in the text/event-stream format. Each
// frame carries an increasing id so clients can tell whether they missed one.
type EventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	frame   bytes.Buffer
	lastID  uint64
}

// NewEventStream sets the stream headers. The headers are only sent with the
// first frame, so a failure here can still be answered with JSON.
func NewEventStream(w http.ResponseWriter) (*EventStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errNoFlusher
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream;charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	// Stop buffering reverse proxies from holding frames back
	h.Set("X-Accel-Buffering", "no")

	return &EventStream{w: w, flusher: flusher}, nil
}

// Send writes v as JSON under the given event name and flushes it.
func (s *EventStream) Send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	s.lastID++
	s.frame.Reset()
	s.frame.WriteString("id: ")
	s.frame.WriteString(strconv.FormatUint(s.lastID, 10))
	s.frame.WriteString("\nevent: ")
	s.frame.WriteString(lineBreaks.Replace(event))
	s.frame.WriteString("\ndata: ")
	s.frame.Write(data) // compact JSON never contains a raw newline
	s.frame.WriteString("\n\n")
	return s.flush()
}

// Comment writes a comment frame, which clients ignore. Used as keep-alive.
func (s *EventStream) Comment(text string) error {
	s.frame.Reset()
	for line := range strings.Lines(text) {
		s.frame.WriteString(": ")
		s.frame.WriteString(strings.TrimRight(line, "\r\n"))
		s.frame.WriteByte('\n')
	}
	s.frame.WriteByte('\n')
	return s.flush()
}

func (s *EventStream) flush() error {
	if _, err := s.w.Write(s.frame.Bytes()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
