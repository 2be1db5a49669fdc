package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrConnectionClosed = errors.New("ws: connection closed")
	ErrWriteTimeout     = errors.New("ws: write timed out")
)

const (
	defaultWriteBuffer = 100
	writeTimeout       = 5 * time.Second
)

// Conn wraps a websocket connection behind a single writer goroutine so that
// concurrent snapshot fanout never interleaves frames.
type Conn struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	userID    string
	role      string
	sessionID string

	ctx       context.Context
	cancel    context.CancelFunc
	pumpDone  chan struct{}
	closeOnce sync.Once
}

// NewConn wraps an upgraded connection for the given participant and starts
// its write pump. buffer caps the number of queued snapshot frames; zero or
// negative picks the default.
func NewConn(conn *websocket.Conn, userID, role, sessionID string, buffer int) *Conn {
	if buffer <= 0 {
		buffer = defaultWriteBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		conn:      conn,
		writeCh:   make(chan []byte, buffer),
		userID:    userID,
		role:      role,
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
		pumpDone:  make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

func (c *Conn) writeLoop() {
	defer close(c.pumpDone)
	for {
		select {
		case data := <-c.writeCh:
			if !c.write(data) {
				return
			}
		case <-c.ctx.Done():
			// Flush frames queued before the close, such as the final
			// session_completed snapshot.
			for {
				select {
				case data := <-c.writeCh:
					if !c.write(data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (c *Conn) write(data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return false
	}
	return c.conn.WriteMessage(websocket.TextMessage, data) == nil
}

// WriteJSON queues one JSON message for the write pump. A slow consumer gets
// ErrWriteTimeout instead of stalling the fanout loop.
func (c *Conn) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close tears down the pump and the underlying connection. Safe to call more
// than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		select {
		case <-c.pumpDone:
		case <-time.After(writeTimeout):
		}
		err = c.conn.Close()
	})
	return err
}

// Done is closed once the connection is torn down.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Conn) UserID() string    { return c.userID }
func (c *Conn) Role() string      { return c.role }
func (c *Conn) SessionID() string { return c.sessionID }
