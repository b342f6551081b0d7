package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file (comments and trailing commas
// tolerated), then overlays environment-sourced secrets. A missing file is
// not an error: Default() plus env overrides is a valid config for first run.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays every secret and deployment-environment value
// this process needs. The secrets (tokens, passwords, DSN, auth key) carry
// json tag "-", so Save can't leak them back out; the non-secret values
// (port, allow_local_admin, redis_addr, telemetry, tailscale hostname and
// dir, s3_bucket, database mode) have ordinary tags and Save writes them.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("CELL0_ADMIN_TOKEN", &c.Gateway.AdminToken)
	if v := os.Getenv("CELL0_ALLOW_LOCAL_ADMIN"); v != "" {
		c.Gateway.AllowLocalAdmin = v == "true" || v == "1"
	}
	if v := os.Getenv("CELL0_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			c.Gateway.Port = p
		}
	}

	envStr("CELL0_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("CELL0_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("CELL0_SLACK_BOT_TOKEN", &c.Channels.Slack.BotToken)
	envStr("CELL0_SLACK_APP_TOKEN", &c.Channels.Slack.AppToken)
	envStr("CELL0_MATRIX_TOKEN", &c.Channels.Matrix.AccessToken)
	envStr("CELL0_GOOGLE_CHAT_SECRET", &c.Channels.GoogleChat.Secret)
	envStr("CELL0_TEAMS_SECRET", &c.Channels.Teams.Secret)
	envStr("CELL0_BLUEBUBBLES_PASSWORD", &c.Channels.BlueBubbles.Password)

	// Auto-enable a channel once its credential shows up in the environment —
	// lets `docker run -e CELL0_DISCORD_TOKEN=...` light up an adapter with
	// no config.json edit.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Slack.BotToken != "" && c.Channels.Slack.AppToken != "" {
		c.Channels.Slack.Enabled = true
	}
	if c.Channels.Matrix.AccessToken != "" {
		c.Channels.Matrix.Enabled = true
	}

	envStr("CELL0_POSTGRES_DSN", &c.Database.PostgresDSN)
	if c.Database.PostgresDSN != "" {
		c.Database.Mode = "postgres"
	}
	envStr("CELL0_REDIS_ADDR", &c.Database.RedisAddr)

	envStr("CELL0_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	if v := os.Getenv("CELL0_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}

	envStr("CELL0_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("CELL0_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("CELL0_TSNET_DIR", &c.Tailscale.StateDir)

	envStr("CELL0_S3_BUCKET", &c.Memory.S3Bucket)
}

// ApplyEnvOverrides re-applies environment secrets after an in-place config
// replacement (e.g. after ReplaceFrom), since the JSON body itself never
// carries them.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Save writes the non-secret portion of the config to path as indented JSON.
func Save(path string, cfg *Config) error {
	snap := cfg.Snapshot()
	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o600)
}

// Hash returns a short content hash of the non-secret config, so two
// loads of on-disk config can be compared for changes.
func (c *Config) Hash() string {
	snap := c.Snapshot()
	data, _ := json.Marshal(&snap)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// Validate reports every structural problem with cfg that would prevent
// the gateway from starting — the check `config validate` and the
// pre-Start call in `start` both run, mapping to exit code 2 (config
// invalid) per spec §6.
func (c *Config) Validate() error {
	snap := c.Snapshot()
	var errs []string

	if snap.Gateway.Port <= 0 || snap.Gateway.Port > 65535 {
		errs = append(errs, fmt.Sprintf("gateway.port %d out of range", snap.Gateway.Port))
	}
	if snap.Gateway.PortScanRange < 0 {
		errs = append(errs, "gateway.port_scan_range must be >= 0")
	}
	if snap.Gateway.FlushInterval != "" {
		if _, err := time.ParseDuration(snap.Gateway.FlushInterval); err != nil {
			errs = append(errs, "gateway.flush_interval: "+err.Error())
		}
	}
	if snap.Gateway.HeartbeatEvery != "" {
		if _, err := time.ParseDuration(snap.Gateway.HeartbeatEvery); err != nil {
			errs = append(errs, "gateway.heartbeat_every: "+err.Error())
		}
	}
	if snap.Gateway.RateLimitRPM < 0 {
		errs = append(errs, "gateway.rate_limit_rpm must be >= 0")
	}

	switch snap.Database.Mode {
	case "", "sqlite":
		if snap.Database.SQLitePath == "" {
			errs = append(errs, "database.sqlite_path is required in sqlite mode")
		}
	case "postgres":
		if snap.Database.PostgresDSN == "" {
			errs = append(errs, "database.mode is postgres but CELL0_POSTGRES_DSN is unset")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.mode %q is not one of sqlite|postgres", snap.Database.Mode))
	}

	if snap.Memory.CheckpointInterval != "" {
		if _, err := time.ParseDuration(snap.Memory.CheckpointInterval); err != nil {
			errs = append(errs, "memory.checkpoint_interval: "+err.Error())
		}
	}
	if snap.Memory.ArchiveAfterDays < 0 {
		errs = append(errs, "memory.archive_after_days must be >= 0")
	}

	if snap.MetaAgent.Enabled && snap.MetaAgent.Cron == "" {
		errs = append(errs, "meta_agent.cron is required when meta_agent.enabled is true")
	}

	if snap.Telemetry.Enabled && snap.Telemetry.Endpoint == "" {
		errs = append(errs, "telemetry.endpoint is required when telemetry.enabled is true")
	}

	if len(errs) == 0 {
		return nil
	}
	msg := errs[0]
	for _, e := range errs[1:] {
		msg += "; " + e
	}
	return fmt.Errorf("config invalid: %s", msg)
}

// ExpandHome replaces a leading ~ with the user's home directory, used when
// resolving StateDir.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
