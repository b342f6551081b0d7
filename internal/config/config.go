// Package config holds the Cell 0 OS configuration tree. Secrets (admin
// token, database DSN, channel bot tokens) are always sourced from
// environment variables — never persisted into config.json — matching the
// env-only-secret convention this repo's teacher lineage uses throughout.
package config

import "sync"

// Config is the root configuration for the gateway process.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Channels  ChannelsConfig  `json:"channels"`
	Identity  IdentityConfig  `json:"identity"`
	Policy    PolicyConfig    `json:"policy"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Memory    MemoryConfig    `json:"memory"`
	MetaAgent MetaAgentConfig `json:"meta_agent"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`

	mu sync.RWMutex
}

// GatewayConfig configures HTTP/WebSocket listening and auth.
type GatewayConfig struct {
	Host            string   `json:"host"`                       // default loopback
	Port            int      `json:"port"`                       // default 18800
	PortScanRange   int      `json:"port_scan_range"`             // how far upward to scan if occupied (default 10)
	WSPort          int      `json:"ws_port"`                     // default 18789
	PortalPort      int      `json:"portal_port"`                 // default 18790
	AllowLocalAdmin bool     `json:"allow_local_admin"`            // CELL0_ALLOW_LOCAL_ADMIN, default false
	AllowedOrigins  []string `json:"allowed_origins,omitempty"`
	TrustedProxies  []string `json:"trusted_proxies,omitempty"`   // only these may set X-Forwarded-For for local-admin detection
	AdminToken      string   `json:"-"`                            // CELL0_ADMIN_TOKEN, env only
	FlushInterval   string   `json:"flush_interval,omitempty"`    // session-log flush cadence, Go duration (default "2s")
	ReplayBufferLen int      `json:"replay_buffer_len,omitempty"` // event bus ring size (default 256)
	HeartbeatEvery  string   `json:"heartbeat_every,omitempty"`   // default "15s"
	HeartbeatMiss   int      `json:"heartbeat_miss,omitempty"`    // default 3; not read by the gateway, which drops WS clients on its pong deadline
	RateLimitRPM    float64  `json:"rate_limit_rpm,omitempty"`    // per-key requests/min, 0 disables (default)
}

// ChannelsConfig holds per-platform adapter configuration.
type ChannelsConfig struct {
	WhatsApp    WhatsAppConfig    `json:"whatsapp,omitempty"`
	Telegram    TelegramConfig    `json:"telegram,omitempty"`
	Discord     DiscordConfig     `json:"discord,omitempty"`
	Slack       SlackConfig       `json:"slack,omitempty"`
	Signal      SignalConfig      `json:"signal,omitempty"`
	Matrix      MatrixConfig      `json:"matrix,omitempty"`
	GoogleChat  WebhookConfig     `json:"google_chat,omitempty"`
	Teams       WebhookConfig     `json:"teams,omitempty"`
	BlueBubbles BlueBubblesConfig `json:"bluebubbles,omitempty"`
	WebChat     WebChatConfig     `json:"webchat,omitempty"`
}

// ChannelCommon fields shared by every adapter config.
type ChannelCommon struct {
	Enabled     bool     `json:"enabled"`
	DMPolicy    string   `json:"dm_policy,omitempty"`    // "pairing" | "allowlist" | "open" | "disabled"
	GroupPolicy string   `json:"group_policy,omitempty"` // "open" | "allowlist" | "disabled"
	AllowFrom   []string `json:"allow_from,omitempty"`
	HistoryLimit int     `json:"history_limit,omitempty"`
}

type WhatsAppConfig struct {
	ChannelCommon
	DeviceStorePath string `json:"device_store_path,omitempty"` // default whatsapp.db in the working directory
}

type TelegramConfig struct {
	ChannelCommon
	Token string `json:"-"` // CELL0_TELEGRAM_TOKEN
	Proxy string `json:"proxy,omitempty"`
}

type DiscordConfig struct {
	ChannelCommon
	Token          string `json:"-"` // CELL0_DISCORD_TOKEN
	RequireMention *bool  `json:"require_mention,omitempty"`
}

type SlackConfig struct {
	ChannelCommon
	BotToken string `json:"-"` // CELL0_SLACK_BOT_TOKEN
	AppToken string `json:"-"` // CELL0_SLACK_APP_TOKEN (Socket Mode)
}

type SignalConfig struct {
	ChannelCommon
	BridgeCommand string `json:"bridge_command,omitempty"` // e.g. "signal-cli -a +1555... daemon --json"
}

type MatrixConfig struct {
	ChannelCommon
	HomeserverURL string `json:"homeserver_url,omitempty"`
	AccessToken   string `json:"-"` // CELL0_MATRIX_TOKEN
	UserID        string `json:"user_id,omitempty"`
}

type WebhookConfig struct {
	ChannelCommon
	WebhookPath string `json:"webhook_path,omitempty"`
	OutboundURL string `json:"outbound_url,omitempty"`
	Secret      string `json:"-"`
}

type BlueBubblesConfig struct {
	ChannelCommon
	BaseURL  string `json:"base_url,omitempty"`
	Password string `json:"-"`
}

type WebChatConfig struct {
	ChannelCommon
}

// IdentityConfig configures Sovereign Identity resolution.
type IdentityConfig struct {
	AllowlistPath string `json:"allowlist_path,omitempty"` // state_dir/identity/
}

// PolicyConfig configures skill allow/deny profiles per policyProfile.
type PolicyConfig struct {
	PoliciesDir string `json:"policies_dir,omitempty"` // state_dir/kernel/policies (immutable, fsnotify-watched)
}

// SandboxConfig configures the default sandbox posture.
type SandboxConfig struct {
	WorkspaceRoot  string `json:"workspace_root,omitempty"` // state_dir/runtime/sessions/<id>/
	MaxOutputBytes int    `json:"max_output_bytes,omitempty"`
	TimeoutSec     int    `json:"timeout_sec,omitempty"`
}

// MemoryConfig configures the three memory tiers + checkpoint store.
type MemoryConfig struct {
	StateDir           string `json:"state_dir,omitempty"` // root of the logical filesystem layout in §6
	DailyLogDir        string `json:"daily_log_dir,omitempty"`
	CheckpointInterval string `json:"checkpoint_interval,omitempty"` // periodic autosave cadence (default "5m")
	ArchiveAfterDays   int    `json:"archive_after_days,omitempty"`  // compress/offload checkpoint chains older than this
	S3Bucket           string `json:"s3_bucket,omitempty"`           // optional off-host archival target
	S3Prefix           string `json:"s3_prefix,omitempty"`
	LRUSize            int    `json:"lru_size,omitempty"` // long-term-notes hot cache entries
}

// MetaAgentConfig configures the self-improvement loop cadence.
type MetaAgentConfig struct {
	Cron    string `json:"cron,omitempty"`    // default "*/5 * * * *"
	Enabled bool   `json:"enabled"`
}

// DatabaseConfig selects embedded SQLite vs. managed Postgres.
type DatabaseConfig struct {
	Mode        string `json:"mode,omitempty"` // "sqlite" (default) | "postgres"
	SQLitePath  string `json:"sqlite_path,omitempty"`
	PostgresDSN string `json:"-"` // CELL0_POSTGRES_DSN, env only
	RedisAddr   string `json:"redis_addr,omitempty"`
}

func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "postgres" && c.Database.PostgresDSN != ""
}

// TelemetryConfig configures OTLP trace export for COL phases.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// TailscaleConfig configures the optional tailnet-only listener.
// Build-tag gated (see internal/gateway/tailscale.go); disabled unless the
// binary was built with -tags tsnet.
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"` // CELL0_TSNET_AUTH_KEY
	Ephemeral bool   `json:"ephemeral,omitempty"`
}

// ReplaceFrom atomically swaps the data fields of c with src, preserving
// c's mutex. No CLI command calls it.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Gateway = src.Gateway
	c.Channels = src.Channels
	c.Identity = src.Identity
	c.Policy = src.Policy
	c.Sandbox = src.Sandbox
	c.Memory = src.Memory
	c.MetaAgent = src.MetaAgent
	c.Database = src.Database
	c.Telemetry = src.Telemetry
	c.Tailscale = src.Tailscale
}

// Snapshot returns a shallow copy safe for read access outside the lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}

// Default returns a Config populated with the documented defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "127.0.0.1",
			Port:            18800,
			PortScanRange:   10,
			WSPort:          18789,
			PortalPort:      18790,
			FlushInterval:   "2s",
			ReplayBufferLen: 256,
			HeartbeatEvery:  "15s",
			HeartbeatMiss:   3,
		},
		Sandbox: SandboxConfig{
			MaxOutputBytes: 1 << 20,
			TimeoutSec:     300,
		},
		Memory: MemoryConfig{
			CheckpointInterval: "5m",
			ArchiveAfterDays:   30,
			LRUSize:            512,
		},
		MetaAgent: MetaAgentConfig{
			Cron:    "*/5 * * * *",
			Enabled: true,
		},
		Database: DatabaseConfig{
			Mode:       "sqlite",
			SQLitePath: "cell0.db",
		},
	}
}
