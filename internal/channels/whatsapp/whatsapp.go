// Package whatsapp adapts a native multi-device WhatsApp session (via
// whatsmeow) into the Cell 0 OS channel contract.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/channels"
	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/internal/identity"
)

// Channel is a native multi-device WhatsApp client.
type Channel struct {
	*channels.BaseChannel
	cfg       config.WhatsAppConfig
	client    *whatsmeow.Client
	container *sqlstore.Container
	mu        sync.Mutex
}

// New builds a WhatsApp adapter. The device store lives at
// cfg.DeviceStorePath (defaulting to whatsapp.db in the working directory;
// the memory state dir is not consulted) and persists across restarts once
// paired.
func New(cfg config.WhatsAppConfig, msgBus *bus.MessageBus, ident *identity.Registry) *Channel {
	base := channels.NewBaseChannel(bus.ChannelWhatsApp, msgBus, ident,
		channels.DMPolicy(cfg.DMPolicy), channels.GroupPolicy(cfg.GroupPolicy), cfg.AllowFrom)
	return &Channel{BaseChannel: base, cfg: cfg}
}

func (c *Channel) Start(ctx context.Context) error {
	dbPath := c.cfg.DeviceStorePath
	if dbPath == "" {
		dbPath = "whatsapp.db"
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}

	dbLog := waLog.Stdout("whatsapp-store", "WARN", true)
	container, err := sqlstore.New(ctx, "sqlite",
		"file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbLog)
	if err != nil {
		return fmt.Errorf("open whatsapp device store: %w", err)
	}
	c.container = container

	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return fmt.Errorf("load whatsapp device: %w", err)
	}

	clientLog := waLog.Stdout("whatsapp-client", "WARN", true)
	c.client = whatsmeow.NewClient(device, clientLog)
	c.client.AddEventHandler(c.onEvent)

	if c.client.Store.ID == nil {
		qrChan, _ := c.client.GetQRChannel(ctx)
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("connect whatsapp: %w", err)
		}
		go c.consumeQR(qrChan)
	} else if err := c.client.Connect(); err != nil {
		return fmt.Errorf("reconnect whatsapp: %w", err)
	}

	c.SetRunning(true)
	return nil
}

// consumeQR writes each pairing QR code to a PNG next to the device store so
// an operator watching the filesystem can pick it up without a TTY that
// supports inline QR rendering.
func (c *Channel) consumeQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("whatsapp pairing event", "event", evt.Event)
			continue
		}
		path := filepath.Join(filepath.Dir(c.cfg.DeviceStorePath), "whatsapp-pairing-qr.png")
		if err := qrcode.WriteFile(evt.Code, qrcode.Medium, 512, path); err != nil {
			slog.Warn("failed to write whatsapp pairing QR", "error", err)
			continue
		}
		slog.Info("whatsapp pairing QR written, scan with the WhatsApp app", "path", path)
	}
}

func (c *Channel) Stop(_ context.Context) error {
	if c.client != nil {
		c.client.Disconnect()
	}
	if c.container != nil {
		_ = c.container.Close()
	}
	c.SetRunning(false)
	return nil
}

func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return fmt.Errorf("whatsapp client not connected")
	}
	jid, err := types.ParseJID(msg.ConversationKey)
	if err != nil {
		return fmt.Errorf("invalid whatsapp jid %q: %w", msg.ConversationKey, err)
	}
	waMsg := &waE2E.Message{Conversation: proto.String(msg.Content.Text)}
	_, err = client.SendMessage(ctx, jid, waMsg)
	return err
}

func (c *Channel) onEvent(evt any) {
	msg, ok := evt.(*events.Message)
	if !ok {
		return
	}
	text := msg.Message.GetConversation()
	if text == "" {
		text = msg.Message.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return
	}
	sender := msg.Info.Sender.String()
	chatID := msg.Info.Chat.String()
	peerKind := "direct"
	if strings.HasSuffix(chatID, "@g.us") {
		peerKind = "group"
	}
	c.HandleMessage(sender, chatID, bus.Content{Text: text}, msg.Info.ID, peerKind, map[string]string{
		"pushName": msg.Info.PushName,
	})
}
