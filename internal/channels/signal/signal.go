// Package signal bridges signal-cli's JSON-RPC daemon mode (a long-running
// subprocess) into the Cell 0 OS channel contract. There is no native Go
// Signal protocol client in the retrieved ecosystem, so this adapter talks
// to the signal-cli binary the way the teacher's exec tooling launches and
// supervises subprocesses.
package signal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/channels"
	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/internal/identity"
)

// Channel supervises a signal-cli daemon subprocess and speaks its
// line-delimited JSON-RPC protocol over stdin/stdout.
type Channel struct {
	*channels.BaseChannel
	cfg    config.SignalConfig
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  *bufio.Writer
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Signal adapter around a signal-cli daemon command line, e.g.
// "signal-cli -a +15555550123 daemon --json".
func New(cfg config.SignalConfig, msgBus *bus.MessageBus, ident *identity.Registry) (*Channel, error) {
	if strings.TrimSpace(cfg.BridgeCommand) == "" {
		return nil, fmt.Errorf("signal bridge_command is required")
	}
	base := channels.NewBaseChannel(bus.ChannelSignal, msgBus, ident,
		channels.DMPolicy(cfg.DMPolicy), channels.GroupPolicy(cfg.GroupPolicy), cfg.AllowFrom)
	return &Channel{BaseChannel: base, cfg: cfg}, nil
}

func (c *Channel) Start(ctx context.Context) error {
	args, err := shellwords.Parse(c.cfg.BridgeCommand)
	if err != nil {
		return fmt.Errorf("parse signal bridge_command: %w", err)
	}
	if len(args) == 0 {
		return fmt.Errorf("empty signal bridge_command")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	cmd := exec.CommandContext(runCtx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("signal stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("signal stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start signal-cli daemon: %w", err)
	}

	c.mu.Lock()
	c.cmd = cmd
	c.stdin = bufio.NewWriter(stdin)
	c.mu.Unlock()

	go c.readLoop(bufio.NewScanner(stdout))
	c.SetRunning(true)
	slog.Info("signal bridge started", "command", c.cfg.BridgeCommand)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = cmd.Process.Kill()
		}
	}
	return nil
}

// rpcRequest mirrors signal-cli's JSON-RPC send method.
type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
	ID      string         `json:"id"`
}

func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stdin == nil {
		return fmt.Errorf("signal bridge not connected")
	}
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  "send",
		Params: map[string]any{
			"recipient": []string{msg.ConversationKey},
			"message":   msg.Content.Text,
		},
		ID: fmt.Sprintf("cell0-%d", time.Now().UnixNano()),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := c.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write to signal bridge: %w", err)
	}
	return c.stdin.Flush()
}

// envelopeNotification mirrors signal-cli's "receive" JSON-RPC notification.
type envelopeNotification struct {
	Method string `json:"method"`
	Params struct {
		Envelope struct {
			Source       string `json:"source"`
			SourceNumber string `json:"sourceNumber"`
			Timestamp    int64  `json:"timestamp"`
			DataMessage  *struct {
				Message          string `json:"message"`
				GroupInfo        *struct{ GroupID string `json:"groupId"` } `json:"groupInfo"`
			} `json:"dataMessage"`
		} `json:"envelope"`
	} `json:"params"`
}

func (c *Channel) readLoop(scanner *bufio.Scanner) {
	defer close(c.done)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	for scanner.Scan() {
		var note envelopeNotification
		if err := json.Unmarshal(scanner.Bytes(), &note); err != nil {
			continue
		}
		if note.Method != "receive" || note.Params.Envelope.DataMessage == nil {
			continue
		}
		dm := note.Params.Envelope.DataMessage
		if dm.Message == "" {
			continue
		}
		sender := note.Params.Envelope.Source
		if sender == "" {
			sender = note.Params.Envelope.SourceNumber
		}
		conversationKey := sender
		peerKind := "direct"
		if dm.GroupInfo != nil {
			conversationKey = dm.GroupInfo.GroupID
			peerKind = "group"
		}
		c.HandleMessage(sender, conversationKey, bus.Content{Text: dm.Message},
			fmt.Sprintf("%d", note.Params.Envelope.Timestamp), peerKind, nil)
	}
}
