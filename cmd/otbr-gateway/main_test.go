package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, "stack:\n  type: sim\n"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Network.Channel != 15 || cfg.Network.PanID != 0x1234 {
		t.Errorf("network = %+v", cfg.Network)
	}
	if cfg.MQTT.TopicPrefix != "otbr" || cfg.Store.Path != "otbr-gateway.db" {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	n, err := cfg.network()
	if err != nil {
		t.Fatal(err)
	}
	if n.ExtPanID != [8]byte{0xde, 0xad, 0x00, 0xbe, 0xef, 0x00, 0xca, 0xfe} {
		t.Errorf("ext pan id = %x", n.ExtPanID)
	}
	if n.NetworkKey != nil {
		t.Error("network key should be left unset")
	}
}

func TestLoadConfigValues(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, `
stack:
  type: cli
  port: /dev/ttyACM0
  command_timeout: 2s
network:
  channel: 20
  pan_id: 0xabcd
  network_key: 00112233445566778899aabbccddeeff
gateway:
  scan_timeout: 10s
  diag_cooldown: 1m
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Stack.Baud != 115200 {
		t.Errorf("baud = %d", cfg.Stack.Baud)
	}
	if cfg.Network.PanID != 0xabcd {
		t.Errorf("pan id = %#x", cfg.Network.PanID)
	}

	gc, err := cfg.gatewayConfig()
	if err != nil {
		t.Fatal(err)
	}
	if gc.ScanTimeout != 10*time.Second || gc.DiagCooldown != time.Minute || gc.JoinerTimeout != 0 {
		t.Errorf("gateway config = %+v", gc)
	}

	n, err := cfg.network()
	if err != nil {
		t.Fatal(err)
	}
	if n.NetworkKey == nil || n.NetworkKey[15] != 0xff {
		t.Errorf("network key = %v", n.NetworkKey)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown stack", func(c *Config) { c.Stack.Type = "spinel" }},
		{"cli without port", func(c *Config) { c.Stack.Type = "cli" }},
		{"channel too low", func(c *Config) { c.Network.Channel = 10 }},
		{"channel too high", func(c *Config) { c.Network.Channel = 27 }},
		{"broadcast pan id", func(c *Config) { c.Network.PanID = 0xffff }},
		{"long network name", func(c *Config) { c.Network.NetworkName = "this-name-is-too-long" }},
		{"short ext pan id", func(c *Config) { c.Network.ExtPanID = "dead" }},
		{"odd network key", func(c *Config) { c.Network.NetworkKey = "abc" }},
		{"bad duration", func(c *Config) { c.Gateway.ScanTimeout = "soon" }},
		{"negative duration", func(c *Config) { c.Gateway.DiagCooldown = "-1s" }},
		{"bad command timeout", func(c *Config) { c.Stack.CommandTimeout = "x" }},
		{"mqtt without broker", func(c *Config) { c.MQTT.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.Stack.Type = "sim"
			applyDefaults(cfg)
			tt.mutate(cfg)
			if err := cfg.validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := loadConfig(writeConfig(t, "stack: [")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}
