package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonathan/career-pipeline/internal/broadcast"
)

// sseBuffer is how many events a stream may fall behind before the hub drops it
const sseBuffer = 32

// sseWriter writes SSE frames to one response. Every write carries a deadline
// so a peer that stops reading cannot hold the handler forever.
type sseWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	timeout time.Duration
}

func newSSEWriter(w http.ResponseWriter, timeout time.Duration) *sseWriter {
	return &sseWriter{w: w, rc: http.NewResponseController(w), timeout: timeout}
}

// event writes e as one SSE message
func (s *sseWriter) event(e broadcast.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.write(func() error {
		_, err := fmt.Fprintf(s.w, "id: %s\nevent: %s\ndata: %s\n\n", e.ID, e.Type, data)
		return err
	})
}

// comment writes an SSE comment line to keep intermediaries from timing out
func (s *sseWriter) comment(text string) error {
	return s.write(func() error {
		_, err := fmt.Fprintf(s.w, ": %s\n\n", text)
		return err
	})
}

func (s *sseWriter) write(fn func() error) error {
	if err := s.rc.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	defer func() { _ = s.rc.SetWriteDeadline(time.Time{}) }()
	if err := fn(); err != nil {
		return err
	}
	return s.rc.Flush()
}

// handleEvents serves the live channel as Server-Sent Events. The hub only
// queues into the stream's buffer; this handler does the network writes. The
// stream stays open until the client disconnects, the hub drops it or closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	out := newSSEWriter(w, s.writeTimeout)
	conn := broadcast.NewChanConn(sseBuffer)
	key := userID.String()
	if err := s.hub.Subscribe(r.Context(), key, conn); err != nil {
		s.logger.Warn("sse subscribe failed", "user_id", key, "error", err)
		return
	}
	defer func() {
		s.hub.Unsubscribe(key, conn)
		_ = conn.Close()
	}()
	s.logger.Debug("sse subscriber connected", "user_id", key)

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-conn.Events():
			if !open {
				return
			}
			if err := out.event(event); err != nil {
				s.logger.Debug("sse write failed", "user_id", key, "error", err)
				return
			}
		case <-ticker.C:
			if err := out.comment("keep-alive"); err != nil {
				return
			}
		}
	}
}
