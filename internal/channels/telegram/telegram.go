// Package telegram adapts the Telegram Bot API (long polling via telego)
// into the Cell 0 OS channel contract.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/channels"
	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/internal/identity"
)

// Channel polls Telegram's getUpdates long-poll endpoint.
type Channel struct {
	*channels.BaseChannel
	cfg        config.TelegramConfig
	bot        *telego.Bot
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New builds a Telegram adapter bound to a bot token.
func New(cfg config.TelegramConfig, msgBus *bus.MessageBus, ident *identity.Registry) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	base := channels.NewBaseChannel(bus.ChannelTelegram, msgBus, ident,
		channels.DMPolicy(cfg.DMPolicy), channels.GroupPolicy(cfg.GroupPolicy), cfg.AllowFrom)
	return &Channel{BaseChannel: base, cfg: cfg, bot: bot}, nil
}

func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start telegram long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(update.Message)
				}
			}
		}
	}()
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ConversationKey, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ConversationKey, err)
	}
	_, err = c.bot.SendMessage(ctx, telego.NewSendMessage(telego.ChatID{ID: chatID}, msg.Content.Text))
	return err
}

func (c *Channel) handleMessage(m *telego.Message) {
	if m.Text == "" {
		return
	}
	peerKind := "direct"
	if m.Chat.Type != telego.ChatTypePrivate {
		peerKind = "group"
	}
	sender := strconv.FormatInt(m.From.ID, 10) + "|" + m.From.Username
	chatID := strconv.FormatInt(m.Chat.ID, 10)

	c.HandleMessage(sender, chatID, bus.Content{Text: m.Text}, strconv.Itoa(m.MessageID), peerKind, map[string]string{
		"firstName": m.From.FirstName,
	})
}
