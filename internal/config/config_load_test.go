package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("expected Default() to be valid, got: %v", err)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 18800 {
		t.Fatalf("expected default port, got %d", cfg.Gateway.Port)
	}
}

func TestLoadParsesJSON5AndAppliesEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json5")
	body := `{
		// a comment json5 must tolerate
		"gateway": { "port": 19000 },
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("CELL0_ADMIN_TOKEN", "secret-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 19000 {
		t.Fatalf("expected port from file to win, got %d", cfg.Gateway.Port)
	}
	if cfg.Gateway.AdminToken != "secret-token" {
		t.Fatalf("expected env override to populate AdminToken")
	}
}

func TestSaveNeverLeaksSecrets(t *testing.T) {
	cfg := Default()
	cfg.Gateway.AdminToken = "super-secret"
	cfg.Channels.Telegram.Token = "tg-secret"

	path := filepath.Join(t.TempDir(), "config.json")
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), "super-secret") || strings.Contains(string(data), "tg-secret") {
		t.Fatalf("expected no secret to round-trip into config.json, got %s", data)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Gateway.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an invalid port to fail validation")
	}
}

func TestValidateRejectsPostgresModeWithoutDSN(t *testing.T) {
	cfg := Default()
	cfg.Database.Mode = "postgres"
	cfg.Database.PostgresDSN = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected postgres mode without a DSN to fail validation")
	}
}

func TestValidateRejectsMalformedDuration(t *testing.T) {
	cfg := Default()
	cfg.Gateway.HeartbeatEvery = "not-a-duration"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected a malformed duration to fail validation")
	}
}

func TestHashChangesWithContent(t *testing.T) {
	cfg := Default()
	h1 := cfg.Hash()
	cfg.Gateway.Port = 19001
	h2 := cfg.Hash()
	if h1 == h2 {
		t.Fatalf("expected hash to change after editing config")
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	if got := ExpandHome("~/cell0"); got != home+"/cell0" {
		t.Fatalf("expected %s/cell0, got %s", home, got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Fatalf("expected absolute path to pass through unchanged, got %s", got)
	}
}
