// Package slack adapts a Slack Socket Mode app connection into the Cell 0
// OS channel contract.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/channels"
	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/internal/identity"
)

// Channel connects to Slack over Socket Mode (no public webhook needed).
type Channel struct {
	*channels.BaseChannel
	cfg      config.SlackConfig
	api      *slack.Client
	client   *socketmode.Client
	botID    string
	cancel   context.CancelFunc
}

// New builds a Slack adapter from bot + app tokens.
func New(cfg config.SlackConfig, msgBus *bus.MessageBus, ident *identity.Registry) (*Channel, error) {
	if cfg.BotToken == "" || cfg.AppToken == "" {
		return nil, fmt.Errorf("slack requires both bot_token and app_token for socket mode")
	}
	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	base := channels.NewBaseChannel(bus.ChannelSlack, msgBus, ident,
		channels.DMPolicy(cfg.DMPolicy), channels.GroupPolicy(cfg.GroupPolicy), cfg.AllowFrom)
	return &Channel{BaseChannel: base, cfg: cfg, api: api, client: socketmode.New(api)}, nil
}

func (c *Channel) Start(ctx context.Context) error {
	auth, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth test: %w", err)
	}
	c.botID = auth.UserID

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.consumeEvents()
	go func() {
		if err := c.client.RunContext(runCtx); err != nil && runCtx.Err() == nil {
			slog.Error("slack socket mode run exited", "error", err)
		}
	}()

	c.SetRunning(true)
	slog.Info("slack bot connected", "bot_id", c.botID, "team", auth.Team)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content.Text, false)}
	if ts := msg.Metadata["threadTs"]; ts != "" {
		opts = append(opts, slack.MsgOptionTS(ts))
	}
	_, _, err := c.api.PostMessage(msg.ConversationKey, opts...)
	return err
}

func (c *Channel) consumeEvents() {
	for evt := range c.client.Events {
		switch evt.Type {
		case socketmode.EventTypeEventsAPI:
			if evt.Request != nil {
				c.client.Ack(*evt.Request)
			}
			apiEvt, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok || apiEvt.Type != slackevents.CallbackEvent {
				continue
			}
			c.handleCallback(apiEvt)
		case socketmode.EventTypeSlashCommand:
			if evt.Request != nil {
				c.client.Ack(*evt.Request, map[string]any{"response_type": "ephemeral", "text": "accepted"})
			}
		}
	}
}

func (c *Channel) handleCallback(evt slackevents.EventsAPIEvent) {
	switch in := evt.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if in == nil || in.User == c.botID || in.Text == "" || in.BotID != "" {
			return
		}
		peerKind := "group"
		if in.ChannelType == "im" {
			peerKind = "direct"
		}
		if peerKind == "group" && !strings.Contains(in.Text, "<@"+c.botID+">") {
			return
		}
		c.deliver(in.User, in.Channel, in.Text, in.TimeStamp, in.ThreadTimeStamp, peerKind)
	case *slackevents.AppMentionEvent:
		if in == nil {
			return
		}
		c.deliver(in.User, in.Channel, in.Text, in.TimeStamp, in.ThreadTimeStamp, "group")
	}
}

func (c *Channel) deliver(user, channel, text, ts, threadTS, peerKind string) {
	meta := map[string]string{}
	if threadTS != "" {
		meta["threadTs"] = threadTS
	}
	c.HandleMessage(user, channel, bus.Content{Text: text}, ts, peerKind, meta)
}
