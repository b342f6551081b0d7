// Package googlechat adapts Google Chat's HTTP webhook event model into the
// Cell 0 OS channel contract. Unlike the gateway-initiated adapters, this
// one is driven by inbound HTTP requests the gateway routes to HandleWebhook.
package googlechat

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

// Channel receives Google Chat events over a webhook and replies via the
// space's REST messages.create endpoint.
type Channel struct {
	*channels.BaseChannel
	cfg    config.WebhookConfig
	client *http.Client
}

// New builds a Google Chat adapter.
func New(cfg config.WebhookConfig, msgBus *bus.MessageBus, ident *identity.Registry) *Channel {
	base := channels.NewBaseChannel(bus.ChannelGoogleChat, msgBus, ident,
		channels.DMPolicy(cfg.DMPolicy), channels.GroupPolicy(cfg.GroupPolicy), cfg.AllowFrom)
	return &Channel{BaseChannel: base, cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}}
}

// Start is a no-op: there is no outbound connection to open, only the
// webhook HTTP handler the gateway mounts at cfg.WebhookPath.
func (c *Channel) Start(_ context.Context) error {
	c.SetRunning(true)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

type chatEvent struct {
	Type    string `json:"type"`
	Message struct {
		Name string `json:"name"`
		Text string `json:"text"`
		Sender struct {
			Name        string `json:"name"`
			DisplayName string `json:"displayName"`
		} `json:"sender"`
		Space struct {
			Name string `json:"name"`
			Type string `json:"type"` // "DM" | "ROOM"
		} `json:"space"`
	} `json:"message"`
}

// HandleWebhook is mounted by the gateway at cfg.WebhookPath. It verifies
// the shared-secret signature, normalizes the event, and publishes it.
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

	var evt chatEvent
	if err := json.Unmarshal(body, &evt); err != nil || evt.Type != "MESSAGE" || evt.Message.Text == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	peerKind := "group"
	if evt.Message.Space.Type == "DM" {
		peerKind = "direct"
	}
	c.HandleMessage(evt.Message.Sender.Name, evt.Message.Space.Name, bus.Content{Text: evt.Message.Text},
		evt.Message.Name, peerKind, map[string]string{"displayName": evt.Message.Sender.DisplayName})
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
		return cerr.New(cerr.ChannelSendFail, "googlechat.no_outbound_url",
			"no outbound webhook URL configured for this space")
	}
	payload, _ := json.Marshal(map[string]any{
		"space": msg.ConversationKey,
		"text":  msg.Content.Text,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OutboundURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return cerr.Wrap(cerr.ChannelSendFail, "googlechat.post_failed", "failed to deliver message", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return cerr.New(cerr.ChannelSendFail, "googlechat.post_status",
			fmt.Sprintf("google chat webhook returned status %d", resp.StatusCode))
	}
	return nil
}
