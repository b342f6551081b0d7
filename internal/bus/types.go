// Package bus defines the canonical message and event types that flow
// between channel adapters, the gateway, the COL pipeline, and the agent
// mesh — the single normalization point spec §3 requires every adapter to
// produce.
package bus

import "time"

// Channel identifiers — the fixed ten-channel matrix from spec §3.
const (
	ChannelWhatsApp    = "whatsapp"
	ChannelTelegram    = "telegram"
	ChannelDiscord     = "discord"
	ChannelSlack       = "slack"
	ChannelSignal      = "signal"
	ChannelMatrix      = "matrix"
	ChannelGoogleChat  = "google-chat"
	ChannelTeams       = "teams"
	ChannelBlueBubbles = "bluebubbles"
	ChannelWebChat     = "webchat"
)

// Attachment is one piece of ordered content media on an InboundMessage.
type Attachment struct {
	Mime        string `json:"mime"`
	SizeBytes   int64  `json:"sizeBytes"`
	BytesHandle string `json:"bytesHandle,omitempty"` // opaque reference, e.g. a local temp path or blob key
	Caption     string `json:"caption,omitempty"`
}

// Content is the text + ordered attachments of a message.
type Content struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// InboundMessage is the canonical form every Channel adapter normalizes
// into (spec §3). `Raw` is kept only for audit; nothing downstream of the
// gateway is permitted to re-parse it.
type InboundMessage struct {
	Channel          string            `json:"channel"`
	ChannelMessageID string            `json:"channelMessageId"`
	Sender           string            `json:"sender"`
	ConversationKey  string            `json:"conversationKey"`
	Content          Content           `json:"content"`
	ReceivedAt       time.Time         `json:"receivedAt"`
	Raw              any               `json:"raw,omitempty"`
	PeerKind         string            `json:"peerKind,omitempty"` // "direct" | "group"
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a reply to be delivered back over the originating
// channel/conversationKey (I7: channel fidelity).
type OutboundMessage struct {
	Channel         string            `json:"channel"`
	ConversationKey string            `json:"conversationKey"`
	Content         Content           `json:"content"`
	InReplyTo       string            `json:"inReplyTo,omitempty"` // channelMessageId this answers
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// MessageHandler handles one inbound message from a channel.
type MessageHandler func(InboundMessage)

// MessageRouter abstracts inbound/outbound routing between channel
// adapters and the COL pipeline.
type MessageRouter interface {
	PublishInbound(msg InboundMessage)
	PublishOutbound(msg OutboundMessage)
	SubscribeOutbound(channel string, handler func(OutboundMessage))
}
