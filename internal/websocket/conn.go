package websocket

import (
	"errors"
	"sync"
	"time"

	"punch-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var (
	ErrClosed         = errors.New("connection closed")
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn owns one gorilla connection. Only writePump writes data frames;
// Send only enqueues.
type Conn struct {
	id     string
	userID int
	ws     *websocket.Conn
	send   chan []byte

	done      chan struct{}
	closeOnce sync.Once
	closeMsg  []byte
	closeCode int
	finished  chan struct{}
}

func NewConn(ws *websocket.Conn, sendBuffer int, maxMessageSize int64) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	c := &Conn{
		id:       uuid.NewString(),
		ws:       ws,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}

	if maxMessageSize > 0 {
		ws.SetReadLimit(maxMessageSize)
	}
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.writePump()
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) UserID() int { return c.userID }

// Send enqueues payload without blocking. A full buffer means the peer is
// not keeping up; the connection is closed and ErrSendBufferFull returned.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.CloseWith(websocket.CloseTryAgainLater, "send buffer full")
		return ErrSendBufferFull
	}
}

// Read blocks for the next data frame.
func (c *Conn) Read() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// Done is closed once the connection starts shutting down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Wait blocks until the socket is closed.
func (c *Conn) Wait() { <-c.finished }

// CloseWith sends a close frame with code and reason, then closes the socket.
// Only the first call has an effect.
func (c *Conn) CloseWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(c.done)
	})
}

// CloseCode is the code passed to the first CloseWith, or 1006 when the
// socket broke first. Only meaningful once Done is closed.
func (c *Conn) CloseCode() int {
	if c.closeCode == 0 {
		return websocket.CloseAbnormalClosure
	}
	return c.closeCode
}

// abort marks the connection done without a close status; used when the
// socket is already broken.
func (c *Conn) abort() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Conn) Close() {
	c.CloseWith(websocket.CloseNormalClosure, "")
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
		close(c.finished)
	}()

	for {
		select {
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("ws.write_failed", "conn_id", c.id, "err", err)
				c.abort()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.abort()
				return
			}

		case <-c.done:
			if c.closeMsg != nil {
				_ = c.ws.WriteControl(websocket.CloseMessage, c.closeMsg, time.Now().Add(writeWait))
			}
			return
		}
	}
}
