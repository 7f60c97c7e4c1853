package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

var ErrSendBufferFull = errors.New("ws: send buffer full")

// Conn wraps a *websocket.Conn with a buffered, single-goroutine writer so
// concurrent callers (the Command Dispatcher replying directly, the
// Broadcast Bus fanning out) never interleave frames on the wire — the
// actor-style connection called for in §9's re-architecture note, in
// place of the teacher's direct conn.WriteJSON calls from multiple
// goroutines.
type Conn struct {
	ID string

	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	onSendFailure func(id string)
}

func NewConn(id string, ws *websocket.Conn, onSendFailure func(id string)) *Conn {
	c := &Conn{
		ID:            id,
		ws:            ws,
		send:          make(chan []byte, sendBufferSize),
		done:          make(chan struct{}),
		onSendFailure: onSendFailure,
	}
	go c.writeLoop()
	return c
}

// Send enqueues payload for delivery. It returns ErrSendBufferFull
// immediately if the buffer is full rather than blocking, so the "drop
// after one retry" backpressure policy lives one layer up (the Broadcast
// Bus retries once, then drops the frame). A full buffer does not invoke
// onSendFailure; that fires only when a write to the socket fails.
func (c *Conn) Send(payload []byte) error {
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return errors.New("ws: connection closed")
	default:
		return ErrSendBufferFull
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				if c.onSendFailure != nil {
					c.onSendFailure(c.ID)
				}
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.done)
		c.ws.Close()
	})
	return nil
}
