package ws

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// pingWriteWait bounds how long a keepalive ping may block on a stalled
// connection before the client is dropped.
const pingWriteWait = 5 * time.Second

// Client represents one websocket stream subscriber.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger

	once sync.Once
	done chan struct{}
}

// NewClient constructs a client wrapper.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger, done: make(chan struct{})}
}

// Send writes a message to the websocket connection.
func (c *Client) Send(payload []byte) error {
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		c.Close()
		return err
	}
	return nil
}

// KeepAlive pings the peer on the given period until the client is closed,
// so idle streams survive proxies that reap quiet connections. WriteControl
// is safe to call concurrently with Send.
func (c *Client) KeepAlive(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteWait)); err != nil {
				c.Close()
				return
			}
		}
	}
}

// Close terminates the connection. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
