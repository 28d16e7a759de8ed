// Package adapters binds transports to the core endpoint abstraction.
package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/partyhub/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const writeWait = 5 * time.Second

// WSConn is an indirection over *websocket.Conn to ease testing.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(mt int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// WSEndpoint implements core.Endpoint over a websocket. Outbound frames go
// through a buffered channel drained by WritePump; TrySend never blocks.
type WSEndpoint struct {
	conn WSConn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func NewWSEndpoint(conn WSConn, sendBuffer int) *WSEndpoint {
	if sendBuffer <= 0 {
		sendBuffer = 32
	}
	return &WSEndpoint{
		conn: conn,
		send: make(chan core.Frame, sendBuffer),
	}
}

func (c *WSEndpoint) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrBackpressure
	}
}

// Receive blocks on the next inbound frame. ctx is only checked before the
// read starts; once blocked, only Close unblocks it. Callers must pair the
// receive loop with something that closes the endpoint when ctx ends —
// WritePump's owner does exactly that.
func (c *WSEndpoint) Receive(ctx context.Context) (core.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *WSEndpoint) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// WritePump drains the send channel to the network and keeps the connection
// alive with pings. Run it in its own goroutine per connection.
func (c *WSEndpoint) WritePump(ctx context.Context, pingPeriod time.Duration) {
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "adapters.ws").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "adapters.ws").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.ws").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("module", "adapters.ws").Msg("writePump ping failed")
				return
			}
		}
	}
}
