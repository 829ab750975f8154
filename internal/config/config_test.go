package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"REDIS_URL": "redis://localhost:6379/0"})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.AppID != "chess-on-github-app-v1" || cfg.Transport != TransportRedis {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ReconnectWait != 5*time.Second || cfg.ResyncShowDelay != 500*time.Millisecond || cfg.ResyncSettleDelay != 1500*time.Millisecond {
		t.Fatalf("unexpected timings: %+v", cfg)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "plain" || !cfg.Log.ToConsole || cfg.Log.ToFile {
		t.Fatalf("unexpected log config: %+v", cfg.Log)
	}
	if cfg.OTel.Enabled || cfg.OTel.Endpoint != "" {
		t.Fatalf("unexpected otel config: %+v", cfg.OTel)
	}
}

func TestLoadFromOverrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"TRANSPORT":        " WS ",
		"RELAY_URL":        "wss://relay.example.com/rooms",
		"RECONNECT_WAIT":   "10s",
		"LOG_LEVEL":        "debug",
		"LOG_TO_FILE":      "true",
		"OTEL_ENABLED":     "true",
		"OTEL_ENDPOINT":    "http://collector:4318",
		"WS_MAX_RECONNECT": "0",
	})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Transport != TransportWS || cfg.ReconnectWait != 10*time.Second || cfg.WSMaxReconnect != 0 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.ToFile {
		t.Fatalf("log overrides not applied: %+v", cfg.Log)
	}
	if !cfg.OTel.Enabled || cfg.OTel.Endpoint != "http://collector:4318" {
		t.Fatalf("otel overrides not applied: %+v", cfg.OTel)
	}
}

func TestLoadFromValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"redis url missing", map[string]string{}, "REDIS_URL is required"},
		{"redis bad scheme", map[string]string{"REDIS_URL": "http://x"}, "REDIS_URL"},
		{"relay missing", map[string]string{"TRANSPORT": "ws"}, "RELAY_URL is required"},
		{"relay bad scheme", map[string]string{"TRANSPORT": "ws", "RELAY_URL": "http://x"}, "RELAY_URL"},
		{"unknown transport", map[string]string{"TRANSPORT": "carrier-pigeon"}, "TRANSPORT must be"},
		{"bad duration", map[string]string{"REDIS_URL": "redis://x", "RECONNECT_WAIT": "soon"}, "parse env"},
		{"zero wait", map[string]string{"REDIS_URL": "redis://x", "RECONNECT_WAIT": "0s"}, "RECONNECT_WAIT must be positive"},
		{"timeout below interval", map[string]string{"REDIS_URL": "redis://x", "PRESENCE_TIMEOUT": "1s"}, "PRESENCE_TIMEOUT must exceed"},
		{"empty app id", map[string]string{"REDIS_URL": "redis://x", "APP_ID": "  "}, "APP_ID is required"},
	}
	for _, tc := range cases {
		_, err := LoadFrom(tc.env)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}
