// Package bluebubbles adapts a BlueBubbles Server (iMessage bridge)
// instance into the Cell 0 OS channel contract: REST for outbound sends,
// a WebSocket subscription for inbound new-message notifications.
package bluebubbles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/channels"
	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/internal/identity"
)

// Channel bridges iMessage through a self-hosted BlueBubbles Server.
type Channel struct {
	*channels.BaseChannel
	cfg    config.BlueBubblesConfig
	client *http.Client
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// New builds a BlueBubbles adapter bound to a server base URL + password.
func New(cfg config.BlueBubblesConfig, msgBus *bus.MessageBus, ident *identity.Registry) (*Channel, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("bluebubbles base_url is required")
	}
	base := channels.NewBaseChannel(bus.ChannelBlueBubbles, msgBus, ident,
		channels.DMPolicy(cfg.DMPolicy), channels.GroupPolicy(cfg.GroupPolicy), cfg.AllowFrom)
	return &Channel{BaseChannel: base, cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}}, nil
}

func (c *Channel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.listenLoop(runCtx)
	c.SetRunning(true)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	return nil
}

func (c *Channel) wsURL() string {
	u, _ := url.Parse(c.cfg.BaseURL)
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/socket.io/"
	q := u.Query()
	q.Set("password", c.cfg.Password)
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Channel) listenLoop(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.wsURL(), nil)
		if err != nil {
			slog.Warn("bluebubbles websocket connect failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		c.conn = conn
		c.readMessages(ctx, conn)
	}
}

type newMessageEvent struct {
	Type string `json:"type"`
	Data struct {
		Text    string `json:"text"`
		GUID    string `json:"guid"`
		IsFromMe bool  `json:"isFromMe"`
		Handle  struct {
			Address string `json:"address"`
		} `json:"handle"`
		Chats []struct {
			GUID     string `json:"guid"`
			GroupName string `json:"groupName,omitempty"`
		} `json:"chats"`
	} `json:"data"`
}

func (c *Channel) readMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("bluebubbles read error, reconnecting", "error", err)
			return
		}
		var evt newMessageEvent
		if err := json.Unmarshal(data, &evt); err != nil || evt.Type != "new-message" || evt.Data.IsFromMe {
			continue
		}
		if evt.Data.Text == "" || len(evt.Data.Chats) == 0 {
			continue
		}
		chat := evt.Data.Chats[0]
		peerKind := "direct"
		if chat.GroupName != "" {
			peerKind = "group"
		}
		c.HandleMessage(evt.Data.Handle.Address, chat.GUID, bus.Content{Text: evt.Data.Text},
			evt.Data.GUID, peerKind, nil)
		_ = ctx
	}
}

func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	payload, _ := json.Marshal(map[string]any{
		"chatGuid": msg.ConversationKey,
		"message":  msg.Content.Text,
		"method":   "apple-script",
	})
	endpoint := c.cfg.BaseURL + "/api/v1/message/text?password=" + url.QueryEscape(c.cfg.Password)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("bluebubbles send: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("bluebubbles send status %d", resp.StatusCode)
	}
	return nil
}
