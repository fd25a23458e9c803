package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/jonathan/career-pipeline/internal/broadcast"
)

// wsConn pushes hub events to one WebSocket as text frames. Every frame,
// including replies to client control frames, is written under mu.
type wsConn struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
	closed  bool
}

// Send writes event as a JSON text frame
func (c *wsConn) Send(ctx context.Context, event broadcast.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	var frame bytes.Buffer
	if err := wsutil.WriteServerText(&frame, data); err != nil {
		return err
	}
	return c.write(ctx, frame.Bytes())
}

// write puts one or more complete frames on the wire
func (c *wsConn) write(ctx context.Context, frames []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return broadcast.ErrConnClosed
	}
	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := c.conn.Write(frames)
	return err
}

// handleControl answers a client ping or close. The reply is built in memory
// and written as a whole so it cannot split an event frame.
func (c *wsConn) handleControl(hdr ws.Header, r io.Reader) error {
	var reply bytes.Buffer
	err := wsutil.ControlFrameHandler(&reply, ws.StateServerSide)(hdr, r)
	if reply.Len() > 0 {
		if werr := c.write(context.Background(), reply.Bytes()); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// readLoop consumes client frames until the peer closes or errors. Data
// frames are discarded; the channel is push-only.
func (c *wsConn) readLoop(src io.Reader) error {
	rd := &wsutil.Reader{
		Source:         src,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		OnIntermediate: c.handleControl,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return err
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, rd); err != nil {
				return err
			}
			continue
		}
		if err := rd.Discard(); err != nil {
			return err
		}
	}
}

// Close sends a close frame and closes the socket. Safe to call more than once.
func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = ws.WriteFrame(c.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
	return c.conn.Close()
}

// handleWebSocket upgrades to the WebSocket live channel. Client frames are
// read only to detect disconnects and answer pings.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	conn := &wsConn{conn: raw, timeout: s.writeTimeout}
	key := userID.String()
	if err := s.hub.Subscribe(context.WithoutCancel(r.Context()), key, conn); err != nil {
		s.logger.Warn("websocket subscribe failed", "user_id", key, "error", err)
		_ = conn.Close()
		return
	}
	s.logger.Debug("websocket subscriber connected", "user_id", key)

	defer func() {
		s.hub.Unsubscribe(key, conn)
		_ = conn.Close()
	}()
	err = conn.readLoop(raw)
	s.logger.Debug("websocket subscriber gone", "user_id", key, "error", err)
}
