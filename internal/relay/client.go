package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/huddle-live/huddle/internal/protocol"
	"github.com/huddle-live/huddle/internal/registry"
	"github.com/huddle-live/huddle/internal/util"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP bodies are a few KB;
	// 64 KB leaves generous headroom.
	maxMessageSize = 64 * 1024

	// Outbound queue capacity per connection.
	sendBufferSize = 256
)

// client wraps a single signaling WebSocket and its verified user identity.
// All writes to the socket flow through the send channel and writePump, so
// per-recipient delivery order follows enqueue order.
type client struct {
	id   registry.ConnID
	user string // verified at upgrade time, never client-supplied
	conn *websocket.Conn
	srv  *Server

	send     chan *protocol.Message
	closeOne sync.Once
}

var _ registry.Sink = (*client)(nil)

// Enqueue queues msg for delivery. It never blocks: a connection whose
// outbound buffer is full loses the message, which the client observes as a
// dropped signal and recovers from at the negotiation layer.
func (c *client) Enqueue(msg *protocol.Message) {
	select {
	case c.send <- msg:
	default:
		util.LogWarning("outbound buffer full for %s (conn %s), dropping %s", c.user, c.id, msg.Type)
	}
}

// close shuts the send channel exactly once, releasing the writePump.
func (c *client) close() {
	c.closeOne.Do(func() { close(c.send) })
}

// readPump pumps messages from the WebSocket to the relay router. It is the
// connection's single reader. On exit the connection is treated as an
// implicit leave for every room it had joined.
func (c *client) readPump() {
	defer func() {
		departures := c.srv.reg.DisconnectConnection(c.id)
		for _, d := range departures {
			util.LogDebug("disconnect: %s left room %s (last device %v)", d.User, d.Room, d.LastDevice)
		}
		c.close()
		c.conn.Close()
		util.Stats.RemoveConn()
		util.LogInfo("channel closed for %s (conn %s)", c.user, c.id)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.LogDebug("read error for %s: %v", c.user, err)
			}
			return
		}
		c.srv.route(c, &msg)
	}
}

// writePump pumps messages from the send channel to the WebSocket. It is the
// connection's single writer and also owns keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				util.LogDebug("write error for %s: %v", c.user, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
