// Package teams adapts Microsoft Teams' incoming/outgoing webhook model
// into the Cell 0 OS channel contract.
package teams

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/channels"
	"github.com/cell0os/core/internal/cerr"
	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/internal/identity"
)

// Channel receives Teams messages over an incoming webhook and replies via
// the configured outgoing webhook URL.
type Channel struct {
	*channels.BaseChannel
	cfg    config.WebhookConfig
	client *http.Client
}

// New builds a Teams adapter.
func New(cfg config.WebhookConfig, msgBus *bus.MessageBus, ident *identity.Registry) *Channel {
	base := channels.NewBaseChannel(bus.ChannelTeams, msgBus, ident,
		channels.DMPolicy(cfg.DMPolicy), channels.GroupPolicy(cfg.GroupPolicy), cfg.AllowFrom)
	return &Channel{BaseChannel: base, cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}}
}

func (c *Channel) Start(_ context.Context) error {
	c.SetRunning(true)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

type teamsActivity struct {
	Type string `json:"type"`
	Text string `json:"text"`
	ID   string `json:"id"`
	From struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"from"`
	Conversation struct {
		ID         string `json:"id"`
		IsGroup    bool   `json:"isGroup"`
		ConvType   string `json:"conversationType"`
	} `json:"conversation"`
}

// HandleWebhook is mounted by the gateway at cfg.WebhookPath, receiving the
// Bot Framework's activity payload.
func (c *Channel) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}
	if c.cfg.Secret != "" && !validSignature(body, r.Header.Get("X-Cell0-Signature"), c.cfg.Secret) {
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	var act teamsActivity
	if err := json.Unmarshal(body, &act); err != nil || act.Type != "message" || act.Text == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	peerKind := "direct"
	if act.Conversation.IsGroup || act.Conversation.ConvType == "channel" {
		peerKind = "group"
	}
	c.HandleMessage(act.From.ID, act.Conversation.ID, bus.Content{Text: act.Text},
		act.ID, peerKind, map[string]string{"displayName": act.From.Name})
	w.WriteHeader(http.StatusOK)
}

func validSignature(body []byte, got, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(got))
}

func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if c.cfg.OutboundURL == "" {
		return cerr.New(cerr.ChannelSendFail, "teams.no_outbound_url",
			"no outgoing webhook URL configured for this conversation")
	}
	payload, _ := json.Marshal(map[string]any{
		"type": "message",
		"text": msg.Content.Text,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OutboundURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return cerr.Wrap(cerr.ChannelSendFail, "teams.post_failed", "failed to deliver message", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return cerr.New(cerr.ChannelSendFail, "teams.post_status",
			fmt.Sprintf("teams webhook returned status %d", resp.StatusCode))
	}
	return nil
}
