package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/cell0os/core/pkg/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// Client is one WebSocket connection: a browser portal tab, a CLI `events
// stream` invocation, or a webchat adapter session. Grounded on the
// teacher's registerClient/BroadcastEvent usage in gateway.Server — the
// teacher's own Client type wasn't present in the retrieved pack, so the
// read/write pump split follows gorilla/websocket's own documented chat
// example rather than a specific teacher file.
type Client struct {
	id          string
	conn        *websocket.Conn
	server      *Server
	sovereignID string // empty until authenticated
	send        chan []byte
	closeOnce   sync.Once
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, s *Server) *Client {
	return &Client{
		id:     uuid.NewString(),
		conn:   conn,
		server: s,
		send:   make(chan []byte, 64),
	}
}

// Run drives the client's read and write pumps until the connection
// closes or ctx is canceled. Blocks the caller (one goroutine per pump).
func (c *Client) Run(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		c.writePump(ctx)
		close(done)
	}()
	c.readPump(ctx)
	<-done
}

func (c *Client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req protocol.RequestFrame
		if err := json.Unmarshal(data, &req); err != nil {
			c.SendResponse(protocol.NewErrorResponse("", protocol.ErrInvalidRequest, "malformed request frame"))
			continue
		}
		c.server.router.Dispatch(ctx, c, &req)
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.conn.Close() // unblocks readPump's ReadMessage so Run returns
			return
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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

// enqueue writes one frame onto the client's outbound buffer, dropping
// the connection (rather than blocking the hub) if the client is too
// slow to drain — the same non-blocking-producer discipline as
// bus.EventBus.
func (c *Client) enqueue(data []byte) {
	select {
	case c.send <- data:
	default:
		slog.Warn("gateway: client send buffer full, dropping connection", "client", c.id)
		c.closeOnce.Do(func() { close(c.send) })
	}
}

// SendResponse answers one RequestFrame.
func (c *Client) SendResponse(resp protocol.ResponseFrame) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.enqueue(data)
}

// SendEvent forwards one bus event frame to this client.
func (c *Client) SendEvent(e protocol.EventFrame) {
	data, err := json.Marshal(protocol.NewEvent(e.Kind, e.TS, e.Payload))
	if err != nil {
		return
	}
	c.enqueue(data)
}

// Close tears down the connection and its send channel.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.send) })
	c.conn.Close()
}
