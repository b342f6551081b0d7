// Package discord adapts a Discord bot gateway connection (discordgo) into
// the Cell 0 OS channel contract.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/channels"
	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/internal/identity"
)

const maxMessageLen = 2000

// Channel connects to Discord's gateway over a persistent WebSocket.
type Channel struct {
	*channels.BaseChannel
	cfg       config.DiscordConfig
	session   *discordgo.Session
	botUserID string
}

// New builds a Discord adapter bound to a bot token.
func New(cfg config.DiscordConfig, msgBus *bus.MessageBus, ident *identity.Registry) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	base := channels.NewBaseChannel(bus.ChannelDiscord, msgBus, ident,
		channels.DMPolicy(cfg.DMPolicy), channels.GroupPolicy(cfg.GroupPolicy), cfg.AllowFrom)
	return &Channel{BaseChannel: base, cfg: cfg, session: session}, nil
}

func (c *Channel) Start(_ context.Context) error {
	c.session.AddHandler(c.handleMessage)
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	me, err := c.session.User("@me")
	if err != nil {
		_ = c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	c.botUserID = me.ID
	c.SetRunning(true)
	slog.Info("discord bot connected", "username", me.Username)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}

func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	text := msg.Content.Text
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxMessageLen {
			cutAt := maxMessageLen
			if idx := lastNewline(text[:maxMessageLen]); idx > maxMessageLen/2 {
				cutAt = idx + 1
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		if _, err := c.session.ChannelMessageSend(msg.ConversationKey, chunk); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

func lastNewline(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == c.botUserID || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}

	peerKind := "group"
	if m.GuildID == "" {
		peerKind = "direct"
	}
	if peerKind == "group" && c.requireMentionUnmet(m) {
		return
	}

	c.HandleMessage(m.Author.ID, m.ChannelID, bus.Content{Text: m.Content}, m.ID, peerKind, map[string]string{
		"username": m.Author.Username,
	})
}

// requireMentionUnmet reports whether a group message must be ignored
// because it doesn't @mention the bot and RequireMention is on (the
// default — keeps the bot from answering every message in a busy channel).
func (c *Channel) requireMentionUnmet(m *discordgo.MessageCreate) bool {
	require := true
	if c.cfg.RequireMention != nil {
		require = *c.cfg.RequireMention
	}
	if !require {
		return false
	}
	for _, u := range m.Mentions {
		if u.ID == c.botUserID {
			return false
		}
	}
	return true
}
