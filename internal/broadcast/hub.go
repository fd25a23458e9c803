package broadcast

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrHubClosed is returned when subscribing after Close
var ErrHubClosed = errors.New("broadcast hub is closed")

// Conn is one subscriber connection. Send must be safe for concurrent use:
// runs for the same user publish independently.
type Conn interface {
	Send(ctx context.Context, event Event) error
	Close() error
}

// Hub is the per-user subscriber registry. Created once at process start and
// closed at shutdown; all methods are safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[Conn]struct{}
	closed  bool
	entropy io.Reader
	now     func() time.Time
	logger  *slog.Logger
}

// NewHub creates an empty hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:    make(map[string]map[Conn]struct{}),
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
		logger:  logger,
	}
}

// Subscribe registers conn for userID and greets it with a CONNECTED event
func (h *Hub) Subscribe(ctx context.Context, userID string, conn Conn) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[Conn]struct{})
		h.subs[userID] = set
	}
	set[conn] = struct{}{}
	greeting := h.stamp(Event{Type: EventConnected, Status: "Idle"})
	h.mu.Unlock()

	if err := conn.Send(ctx, greeting); err != nil {
		h.drop(userID, conn, err)
	}
	return nil
}

// Unsubscribe removes conn. Unknown connections are ignored.
func (h *Hub) Unsubscribe(userID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(userID, conn)
}

// Publish delivers event to every connection currently registered for userID.
// Delivery is best-effort: a failed send drops that connection and is not retried.
func (h *Hub) Publish(ctx context.Context, userID string, event Event) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	event = h.stamp(event)
	conns := make([]Conn, 0, len(h.subs[userID]))
	for c := range h.subs[userID] {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.Send(ctx, event); err != nil {
			h.drop(userID, c, err)
		}
	}
}

// Count returns the number of live connections for userID
func (h *Hub) Count(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[userID])
}

// Close disconnects every subscriber. Later publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]map[Conn]struct{})
	h.mu.Unlock()

	for _, set := range subs {
		for c := range set {
			_ = c.Close()
		}
	}
}

func (h *Hub) drop(userID string, conn Conn, cause error) {
	h.mu.Lock()
	removed := h.remove(userID, conn)
	h.mu.Unlock()
	if removed {
		h.logger.Debug("dropping dead subscriber", "user_id", userID, "error", cause)
		_ = conn.Close()
	}
}

// remove must be called with h.mu held
func (h *Hub) remove(userID string, conn Conn) bool {
	set, ok := h.subs[userID]
	if !ok {
		return false
	}
	if _, ok := set[conn]; !ok {
		return false
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(h.subs, userID)
	}
	return true
}

// stamp must be called with h.mu held; the monotonic entropy source is not goroutine-safe
func (h *Hub) stamp(e Event) Event {
	now := h.now()
	e.ID = ulid.MustNew(ulid.Timestamp(now), h.entropy).String()
	e.Timestamp = now.UTC()
	return e
}
