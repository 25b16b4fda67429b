package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var overrideVars = []string{
	"DANSO_SERVER_URL", "DANSO_PUSH_TRANSPORT", "DANSO_PUSH_URL", "DANSO_WORKER_URL",
	"DANSO_NOTIFY_PERMISSION", "DANSO_POLL_INTERVAL", "DANSO_ALERT_THRESHOLD",
	"LOG_LEVEL", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "danso.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range overrideVars {
		t.Setenv(k, "")
	}
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  base_url: "http://signals.local:5000"
engine:
  poll_interval: 2s
  request_timeout: 1500ms
chart:
  refresh_interval: 5s
  height: 20
push:
  transport: websocket
  url: "ws://signals.local:5000/ws/snapshots"
notify:
  permission: granted
  worker_url: "ws://signals.local:5000/ws/push"
  alert_threshold: 85
logging:
  level: debug
  format: json
  file: /tmp/danso-test.log
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.BaseURL != "http://signals.local:5000" {
		t.Errorf("Server.BaseURL = %q, want %q", cfg.Server.BaseURL, "http://signals.local:5000")
	}
	if cfg.Server.SnapshotPath != "/api/sts/status" {
		t.Errorf("Server.SnapshotPath = %q, want default", cfg.Server.SnapshotPath)
	}
	if cfg.Engine.PollInterval != 2*time.Second {
		t.Errorf("Engine.PollInterval = %v, want 2s", cfg.Engine.PollInterval)
	}
	if cfg.Engine.RequestTimeout != 1500*time.Millisecond {
		t.Errorf("Engine.RequestTimeout = %v, want 1.5s", cfg.Engine.RequestTimeout)
	}
	if cfg.Chart.Height != 20 {
		t.Errorf("Chart.Height = %d, want 20", cfg.Chart.Height)
	}
	if cfg.Push.Transport != "websocket" {
		t.Errorf("Push.Transport = %q, want websocket", cfg.Push.Transport)
	}
	if cfg.Notify.Permission != "granted" {
		t.Errorf("Notify.Permission = %q, want granted", cfg.Notify.Permission)
	}
	if cfg.Notify.AlertThreshold != 85 {
		t.Errorf("Notify.AlertThreshold = %d, want 85", cfg.Notify.AlertThreshold)
	}
	if cfg.Notify.ReadyTimeout != DefaultReadyTimeout {
		t.Errorf("Notify.ReadyTimeout = %v, want default", cfg.Notify.ReadyTimeout)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  base_url: "http://yaml:5000"
alpaca:
  api_key: "yaml-key"
  api_secret: "yaml-secret"
`)

	t.Setenv("DANSO_SERVER_URL", "http://env:5000")
	t.Setenv("DANSO_POLL_INTERVAL", "3s")
	t.Setenv("APCA_API_KEY_ID", "env-key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Server.BaseURL != "http://env:5000" {
		t.Errorf("Server.BaseURL = %q, want %q (env override)", cfg.Server.BaseURL, "http://env:5000")
	}
	if cfg.Engine.PollInterval != 3*time.Second {
		t.Errorf("Engine.PollInterval = %v, want 3s (env override)", cfg.Engine.PollInterval)
	}
	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want %q (env override)", cfg.Alpaca.APIKey, "env-key")
	}
	// api_secret should remain from YAML since no env override was set.
	if cfg.Alpaca.APISecret != "yaml-secret" {
		t.Errorf("Alpaca.APISecret = %q, want %q (from YAML)", cfg.Alpaca.APISecret, "yaml-secret")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") returned error: %v", err)
	}
	if cfg.Engine.PollInterval != DefaultPollInterval {
		t.Errorf("Engine.PollInterval = %v, want %v", cfg.Engine.PollInterval, DefaultPollInterval)
	}
	if cfg.Chart.RefreshInterval != DefaultRefreshInterval {
		t.Errorf("Chart.RefreshInterval = %v, want %v", cfg.Chart.RefreshInterval, DefaultRefreshInterval)
	}
	if cfg.Push.Transport != "" {
		t.Errorf("Push.Transport = %q, want disabled", cfg.Push.Transport)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"poll too fast", func(c *Config) { c.Engine.PollInterval = 100 * time.Millisecond }, "engine.poll_interval"},
		{"threshold high", func(c *Config) { c.Notify.AlertThreshold = 101 }, "notify.alert_threshold"},
		{"threshold negative", func(c *Config) { c.Notify.AlertThreshold = -1 }, "notify.alert_threshold"},
		{"bad permission", func(c *Config) { c.Notify.Permission = "maybe" }, "notify.permission"},
		{"bad transport", func(c *Config) { c.Push.Transport = "sse" }, "push.transport"},
		{"push without url", func(c *Config) { c.Push.Transport = "grpc" }, "push.url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.wantErr)
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

func TestLoadRejectsBadEnvDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("DANSO_POLL_INTERVAL", "soon")
	if _, err := Load(""); err == nil {
		t.Fatal("Load() should reject an unparseable DANSO_POLL_INTERVAL")
	}
}
