package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cell0os/core/internal/bus"
)

// Manager owns every registered adapter's lifecycle and the per-channel
// outbound bus subscriptions (set up in RegisterChannel) that deliver
// OutboundMessage back to the channel that owns the conversation (I7:
// channel fidelity).
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus
	cancel   context.CancelFunc
}

// NewManager creates an empty manager; adapters are registered via
// RegisterChannel before StartAll.
func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}
}

// RegisterChannel adds an adapter under its platform name, also wiring it
// as the outbound subscriber for that channel.
func (m *Manager) RegisterChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
	m.bus.SubscribeOutbound(ch.Name(), func(msg bus.OutboundMessage) {
		if err := ch.Send(context.Background(), msg); err != nil {
			slog.Error("channel send failed", "channel", ch.Name(), "error", err)
		}
	})
}

// UnregisterChannel removes an adapter from the registry. The bus
// subscription is left in place (harmless no-op once the channel is gone)
// since MessageBus has no unsubscribe-by-channel primitive; a fresh
// RegisterChannel after reconnect simply adds another subscriber.
func (m *Manager) UnregisterChannel(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, name)
}

// GetChannel returns the adapter registered under name, if any.
func (m *Manager) GetChannel(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

// StartAll starts every registered adapter. Adapters that fail to start are
// logged and skipped — one platform's outage must not block the others.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	names := make([]string, 0, len(m.channels))
	chans := make([]Channel, 0, len(m.channels))
	for name, ch := range m.channels {
		names = append(names, name)
		chans = append(chans, ch)
	}
	m.mu.RUnlock()

	if len(chans) == 0 {
		slog.Warn("no channels registered")
		return nil
	}

	for i, ch := range chans {
		slog.Info("starting channel", "channel", names[i])
		if err := ch.Start(ctx); err != nil {
			slog.Error("channel start failed", "channel", names[i], "error", err)
		}
	}
	return nil
}

// StopAll stops every adapter, continuing past individual failures so a
// single stuck adapter cannot prevent clean process shutdown.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	chans := make(map[string]Channel, len(m.channels))
	for k, v := range m.channels {
		chans[k] = v
	}
	m.mu.RUnlock()

	var firstErr error
	for name, ch := range chans {
		if err := ch.Stop(ctx); err != nil {
			slog.Error("channel stop failed", "channel", name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", name, err)
			}
		}
	}
	return firstErr
}

// Status reports running state for every registered adapter, surfaced on
// GET /api/system/status.
func (m *Manager) Status() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		out[name] = ch.IsRunning()
	}
	return out
}

// Names returns the registered channel names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	return names
}
