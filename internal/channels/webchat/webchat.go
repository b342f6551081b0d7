// Package webchat is the only channel with no external platform at all.
// Browser clients connect to the gateway's own /ws endpoint, which answers
// chat.messages.send itself. The adapter tracks which registered connection owns
// which conversation key so outbound replies reach the right browser tab.
package webchat

import (
	"context"
	"fmt"
	"sync"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/channels"
	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/internal/identity"
)

// Channel routes between browser WebSocket connections (owned by the
// gateway) and the message bus.
type Channel struct {
	*channels.BaseChannel
	cfg   config.WebChatConfig
	mu    sync.RWMutex
	conns map[string]func(bus.OutboundMessage) error // conversationKey -> send func
}

// New builds the webchat adapter.
func New(cfg config.WebChatConfig, msgBus *bus.MessageBus, ident *identity.Registry) *Channel {
	base := channels.NewBaseChannel(bus.ChannelWebChat, msgBus, ident,
		channels.DMPolicy(cfg.DMPolicy), channels.GroupPolicy(cfg.GroupPolicy), cfg.AllowFrom)
	return &Channel{BaseChannel: base, cfg: cfg, conns: make(map[string]func(bus.OutboundMessage) error)}
}

func (c *Channel) Start(_ context.Context) error {
	c.SetRunning(true)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	c.mu.Lock()
	c.conns = make(map[string]func(bus.OutboundMessage) error)
	c.mu.Unlock()
	return nil
}

// RegisterConnection associates a conversationKey (one per browser session)
// with the send function the gateway's WS handler uses to push frames down
// that specific socket. The gateway's /ws handler does not call it.
func (c *Channel) RegisterConnection(conversationKey string, send func(bus.OutboundMessage) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conversationKey] = send
}

// UnregisterConnection drops a closed browser connection.
func (c *Channel) UnregisterConnection(conversationKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, conversationKey)
}

// Ingest is called by the gateway's WS handler for every text frame
// received from a web chat client.
func (c *Channel) Ingest(sender, conversationKey, text string) {
	if text == "" {
		return
	}
	c.HandleMessage(sender, conversationKey, bus.Content{Text: text}, "", "direct", nil)
}

func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.RLock()
	send, ok := c.conns[msg.ConversationKey]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("webchat: no active connection for conversation %s", msg.ConversationKey)
	}
	return send(msg)
}
