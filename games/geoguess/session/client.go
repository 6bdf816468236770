package session

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096

	// SendBuffer is how many frames may queue for a slow client before new ones are dropped.
	SendBuffer = 32
)

// Sink receives what a client's read pump produces. The hub implements it.
type Sink interface {
	Deliver(c *Client, data []byte)
	Disconnect(c *Client)
}

// Conn is the subset of *websocket.Conn the pumps use.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one websocket connection and the player identity bound to it.
type Client struct {
	ID string

	conn   Conn
	send   chan []byte
	logger zerolog.Logger

	closeOnce sync.Once
}

func NewClient(id string, conn Conn, logger zerolog.Logger) *Client {
	return &Client{
		ID:     id,
		conn:   conn,
		send:   make(chan []byte, SendBuffer),
		logger: logger.With().Str("player", id).Logger(),
	}
}

// enqueue hands a frame to the write pump without blocking. It must only be
// called from the goroutine that also calls close.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close stops the write pump, which then closes the connection.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ReadPump forwards text frames to sink until the connection fails, then
// reports the disconnect. Run it on the connection's own goroutine.
func (c *Client) ReadPump(sink Sink) {
	defer func() {
		sink.Disconnect(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug().Err(err).Msg("set read deadline")
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		sink.Deliver(c, data)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				if err := c.conn.SetWriteDeadline(time.Now().Add(time.Second)); err == nil {
					_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.logger.Debug().Err(err).Msg("ping failed")
				}
				return
			}
		}
	}
}
