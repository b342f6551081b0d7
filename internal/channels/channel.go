// Package channels provides the channel adapter abstraction: the boundary
// where ten different messaging platforms are each normalized into the
// canonical bus.InboundMessage/OutboundMessage shapes (spec §3, invariant
// I7 — only the adapter that owns a channel may speak on it).
package channels

import (
	"context"
	"strings"
	"time"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/identity"
)

// InternalChannels are pseudo-channels excluded from outbound dispatch —
// used for loopback delivery (CLI, meta-agent self-notes) that never has a
// real adapter listening.
var InternalChannels = map[string]bool{
	"cli":    true,
	"system": true,
}

// IsInternalChannel reports whether name is a pseudo-channel.
func IsInternalChannel(name string) bool { return InternalChannels[name] }

// DMPolicy controls how direct messages from unrecognized senders are handled.
type DMPolicy string

const (
	DMPolicyPairing   DMPolicy = "pairing"
	DMPolicyAllowlist DMPolicy = "allowlist"
	DMPolicyOpen      DMPolicy = "open"
	DMPolicyDisabled  DMPolicy = "disabled"
)

// GroupPolicy controls how group/channel messages are handled.
type GroupPolicy string

const (
	GroupPolicyOpen      GroupPolicy = "open"
	GroupPolicyAllowlist GroupPolicy = "allowlist"
	GroupPolicyDisabled  GroupPolicy = "disabled"
)

// Channel is the contract every platform adapter implements.
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
}

// ReactionChannel is implemented by adapters that can surface COL-phase
// progress as a transient status marker on the originating message (e.g. a
// Telegram reaction, a Discord typing indicator).
type ReactionChannel interface {
	Channel
	OnPhaseEvent(ctx context.Context, conversationKey, messageID, phase string) error
	ClearPhaseEvent(ctx context.Context, conversationKey, messageID string) error
}

// BaseChannel provides the shared bookkeeping every adapter embeds:
// running state, policy evaluation, and identity-aware message handoff to
// the bus. HandleMessage attaches a resolved sovereignId when there is one;
// unresolved senders still reach the bus, and I1 is enforced by the
// gateway's ingress loop.
type BaseChannel struct {
	name        string
	bus         *bus.MessageBus
	identity    *identity.Registry
	running     bool
	dmPolicy    DMPolicy
	groupPolicy GroupPolicy
	allowFrom   []string
}

// NewBaseChannel wires the shared fields every adapter needs.
func NewBaseChannel(name string, msgBus *bus.MessageBus, ident *identity.Registry, dmPolicy DMPolicy, groupPolicy GroupPolicy, allowFrom []string) *BaseChannel {
	return &BaseChannel{
		name:        name,
		bus:         msgBus,
		identity:    ident,
		dmPolicy:    dmPolicy,
		groupPolicy: groupPolicy,
		allowFrom:   allowFrom,
	}
}

func (c *BaseChannel) Name() string          { return c.name }
func (c *BaseChannel) IsRunning() bool        { return c.running }
func (c *BaseChannel) SetRunning(r bool)      { c.running = r }
func (c *BaseChannel) Bus() *bus.MessageBus   { return c.bus }

// isAllowlisted checks the static channel-level allowlist (config.json's
// allow_from) independent of the identity registry — used for DMPolicy
// "allowlist" before any pairing has ever happened.
func (c *BaseChannel) isAllowlisted(sender string) bool {
	if len(c.allowFrom) == 0 {
		return false
	}
	trimmedSender := strings.TrimPrefix(sender, "@")
	for _, allowed := range c.allowFrom {
		if strings.TrimPrefix(allowed, "@") == trimmedSender {
			return true
		}
	}
	return false
}

// checkPolicy reports whether an inbound message should be accepted for
// further processing, based on dm/group policy. This runs BEFORE identity
// resolution — rejecting here is cheaper and keeps unpaired strangers from
// ever touching the identity registry.
func (c *BaseChannel) checkPolicy(peerKind, sender string) bool {
	policy := string(c.dmPolicy)
	if peerKind == "group" {
		policy = string(c.groupPolicy)
	}
	if policy == "" {
		policy = "open"
	}
	switch policy {
	case "disabled":
		return false
	case "allowlist":
		return c.isAllowlisted(sender)
	case "pairing":
		// Pairing-eligible senders are accepted here; the COL pipeline's
		// identity check is what actually gates anything destructive — an
		// unpaired sender can only trigger the pairing flow.
		return true
	default:
		return true
	}
}

// HandleMessage normalizes one adapter-specific receipt into a canonical
// InboundMessage and publishes it, resolving sovereignId along the way.
// Adapters call this instead of touching the bus directly.
func (c *BaseChannel) HandleMessage(sender, conversationKey string, content bus.Content, channelMessageID, peerKind string, metadata map[string]string) {
	if !c.checkPolicy(peerKind, sender) {
		return
	}
	msg := bus.InboundMessage{
		Channel:          c.name,
		ChannelMessageID: channelMessageID,
		Sender:           sender,
		ConversationKey:  conversationKey,
		Content:          content,
		ReceivedAt:       time.Now(),
		PeerKind:         peerKind,
		Metadata:         metadata,
	}
	if sid, err := c.identity.Resolve(c.name, sender); err == nil {
		if msg.Metadata == nil {
			msg.Metadata = map[string]string{}
		}
		msg.Metadata["sovereignId"] = sid
	}
	// Unresolved senders are still published — the gateway's ingress path
	// (not the adapter) is the enforcement point for I1, since unresolved
	// senders may still be routed into the pairing flow rather than COL.
	c.bus.PublishInbound(msg)
}

// Truncate shortens s to maxLen runes of plain-text content, used by
// adapters with hard platform message-length limits.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "…"
}
