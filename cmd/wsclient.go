package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cell0os/core/internal/config"
	"github.com/cell0os/core/pkg/protocol"
)

// findGatewayAddr probes cfg.Gateway.Port..+PortScanRange for the one
// actually answering /health, since Start's port scan may have bound
// above the configured base port.
func findGatewayAddr(cfg *config.Config) (string, error) {
	host := cfg.Gateway.Host
	if host == "" {
		host = "127.0.0.1"
	}
	client := &http.Client{Timeout: 2 * time.Second}
	for offset := 0; offset <= cfg.Gateway.PortScanRange; offset++ {
		addr := fmt.Sprintf("%s:%d", host, cfg.Gateway.Port+offset)
		resp, err := client.Get("http://" + addr + "/health")
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return addr, nil
		}
	}
	return "", fmt.Errorf("no gateway answering health checks on %s ports %d-%d", host, cfg.Gateway.Port, cfg.Gateway.Port+cfg.Gateway.PortScanRange)
}

// callMethod dials the gateway's WS RPC surface, issues one request, and
// returns its raw result — the same request/response envelope
// internal/gateway/client.go's readPump speaks, reused here as a client
// instead of a server, grounded on vanducng-goclaw/cmd/agent_chat_client.go's
// dial-then-call shape.
func callMethod(cfg *config.Config, method string, params any) (json.RawMessage, error) {
	addr, err := findGatewayAddr(cfg)
	if err != nil {
		return nil, err
	}

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		return nil, fmt.Errorf("dial gateway: %w", err)
	}
	defer conn.Close()

	paramBytes, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req := protocol.RequestFrame{ID: uuid.NewString(), Method: method, Params: paramBytes}
	if err := conn.WriteJSON(req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var resp protocol.ResponseFrame
	if err := conn.ReadJSON(&resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s: %s", resp.Error.Code, resp.Error.Message)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, err
	}
	return raw, nil
}
