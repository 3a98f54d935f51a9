package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/avelar/jobchat/pkg/model"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Ping period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum inbound frame size. Covers a max-length message body plus the
	// event envelope with room to spare.
	maxFrameSize = 8192
)

// Client is the middleman between one websocket connection and the rest of
// the service. It owns the socket; the registry only holds a handle to it.
type Client struct {
	id     string
	userID string
	role   model.Role

	conn    *websocket.Conn
	server  *Server
	limiter *rate.Limiter

	// Outbound queue. Fan-out never blocks on it: TrySend drops instead.
	send chan []byte

	// Closed exactly once to tear the connection down.
	quit     chan struct{}
	quitOnce sync.Once
}

// Key implements registry.Subscriber.
func (c *Client) Key() string { return c.id }

// TrySend queues an event for delivery without blocking. Returns false when
// the buffer is full, which gets the client evicted.
func (c *Client) TrySend(event []byte) bool {
	select {
	case <-c.quit:
		// Already shutting down; swallow the event rather than reporting a
		// full buffer and triggering a second eviction.
		return true
	default:
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

// Evict implements registry.Subscriber. Idempotent.
func (c *Client) Evict() {
	c.quitOnce.Do(func() { close(c.quit) })
}

// readPump reads frames off the socket and runs the event handlers, one at
// a time: per-connection FIFO is the only ordering the transport promises.
func (c *Client) readPump() {
	defer func() {
		c.server.disconnect(c)
		c.Evict()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.log.Debug().Err(err).Str("user_id", c.userID).Msg("read error")
			}
			return
		}
		if !c.limiter.Allow() {
			c.server.sendError(c, "TRANSPORT_ERROR", "rate limit exceeded")
			continue
		}
		c.server.handleFrame(c, frame)
	}
}

// writePump serializes all socket writes: queued events, pings, and the
// shutdown close frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case event := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, event); err != nil {
				return
			}

			// Drain whatever queued up behind it.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-c.quit:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
