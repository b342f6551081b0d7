// Package matrix adapts a Matrix homeserver Client-Server API session
// (long-poll /sync) into the Cell 0 OS channel contract.
package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/cell0os/core/internal/bus"
	"github.com/cell0os/core/internal/channels"
	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/internal/identity"
)

// Channel long-polls a Matrix homeserver's /sync endpoint.
type Channel struct {
	*channels.BaseChannel
	cfg     config.MatrixConfig
	client  *http.Client
	limiter *rate.Limiter
	cancel  context.CancelFunc
	txnSeq  int64
}

// New builds a Matrix adapter bound to an already-logged-in access token.
func New(cfg config.MatrixConfig, msgBus *bus.MessageBus, ident *identity.Registry) (*Channel, error) {
	if cfg.HomeserverURL == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("matrix requires homeserver_url and access_token")
	}
	base := channels.NewBaseChannel(bus.ChannelMatrix, msgBus, ident,
		channels.DMPolicy(cfg.DMPolicy), channels.GroupPolicy(cfg.GroupPolicy), cfg.AllowFrom)
	return &Channel{
		BaseChannel: base,
		cfg:         cfg,
		client:      &http.Client{Timeout: 40 * time.Second},
		limiter:     rate.NewLimiter(rate.Every(time.Second), 3),
	}, nil
}

func (c *Channel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.syncLoop(runCtx)
	c.SetRunning(true)
	slog.Info("matrix sync loop started", "homeserver", c.cfg.HomeserverURL)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

type syncResponse struct {
	NextBatch string `json:"next_batch"`
	Rooms     struct {
		Join map[string]struct {
			Timeline struct {
				Events []matrixEvent `json:"events"`
			} `json:"timeline"`
		} `json:"join"`
	} `json:"rooms"`
}

type matrixEvent struct {
	Type    string `json:"type"`
	Sender  string `json:"sender"`
	EventID string `json:"event_id"`
	Content struct {
		MsgType string `json:"msgtype"`
		Body    string `json:"body"`
	} `json:"content"`
}

func (c *Channel) syncLoop(ctx context.Context) {
	since := ""
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		resp, err := c.sync(ctx, since)
		if err != nil {
			slog.Warn("matrix sync failed, retrying", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		since = resp.NextBatch
		for roomID, room := range resp.Rooms.Join {
			for _, evt := range room.Timeline.Events {
				c.handleEvent(roomID, evt)
			}
		}
	}
}

func (c *Channel) sync(ctx context.Context, since string) (*syncResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Set("timeout", "30000")
	if since != "" {
		q.Set("since", since)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.cfg.HomeserverURL+"/_matrix/client/v3/sync?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("matrix sync status %d: %s", resp.StatusCode, body)
	}
	var out syncResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Channel) handleEvent(roomID string, evt matrixEvent) {
	if evt.Type != "m.room.message" || evt.Sender == c.cfg.UserID || evt.Content.Body == "" {
		return
	}
	c.HandleMessage(evt.Sender, roomID, bus.Content{Text: evt.Content.Body}, evt.EventID, "group", nil)
}

func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.txnSeq++
	txnID := strconv.FormatInt(time.Now().UnixNano()+c.txnSeq, 10)
	body, _ := json.Marshal(map[string]string{"msgtype": "m.text", "body": msg.Content.Text})
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/%s", url.PathEscape(msg.ConversationKey), txnID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.cfg.HomeserverURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("matrix send status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}
