package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	TransportRedis = "redis"
	TransportWS    = "ws"
)

type AppConfig struct {
	AppID     string `env:"APP_ID" envDefault:"chess-on-github-app-v1"`
	Transport string `env:"TRANSPORT" envDefault:"redis"`

	RedisURL string `env:"REDIS_URL"`
	RelayURL string `env:"RELAY_URL"`

	ReconnectWait     time.Duration `env:"RECONNECT_WAIT" envDefault:"5s"`
	ResyncShowDelay   time.Duration `env:"RESYNC_SHOW_DELAY" envDefault:"500ms"`
	ResyncSettleDelay time.Duration `env:"RESYNC_SETTLE_DELAY" envDefault:"1500ms"`

	PresenceInterval time.Duration `env:"PRESENCE_INTERVAL" envDefault:"2s"`
	PresenceTimeout  time.Duration `env:"PRESENCE_TIMEOUT" envDefault:"6s"`

	WSMaxReconnect   int           `env:"WS_MAX_RECONNECT" envDefault:"5"`
	WSReconnectDelay time.Duration `env:"WS_RECONNECT_DELAY" envDefault:"1s"`

	MessagesDir string `env:"MESSAGES_DIR"`

	Log  LogConfig  `envPrefix:"LOG_"`
	OTel OTelConfig `envPrefix:"OTEL_"`
}

type LogConfig struct {
	Level     string `env:"LEVEL" envDefault:"info"`
	Format    string `env:"FORMAT" envDefault:"plain"`
	ToConsole bool   `env:"TO_CONSOLE" envDefault:"true"`
	ToFile    bool   `env:"TO_FILE" envDefault:"false"`
	File      string `env:"FILE" envDefault:"logs/p2pchess.log"`
	Caller    bool   `env:"CALLER" envDefault:"false"`
}

type OTelConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	Endpoint string `env:"ENDPOINT"`
}

// Load reads the process environment.
func Load() (*AppConfig, error) {
	return parse(env.Options{})
}

// LoadFrom reads from the given map instead of the process environment.
func LoadFrom(environ map[string]string) (*AppConfig, error) {
	if environ == nil {
		environ = map[string]string{}
	}
	return parse(env.Options{Environment: environ})
}

func parse(opts env.Options) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.AppID = strings.TrimSpace(cfg.AppID)
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.RelayURL = strings.TrimSpace(cfg.RelayURL)
	cfg.MessagesDir = strings.TrimSpace(cfg.MessagesDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	if c.AppID == "" {
		return errors.New("APP_ID is required")
	}
	switch c.Transport {
	case TransportRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for redis transport")
		}
		if err := checkScheme(c.RedisURL, "redis", "rediss"); err != nil {
			return fmt.Errorf("REDIS_URL: %w", err)
		}
	case TransportWS:
		if c.RelayURL == "" {
			return errors.New("RELAY_URL is required for ws transport")
		}
		if err := checkScheme(c.RelayURL, "ws", "wss"); err != nil {
			return fmt.Errorf("RELAY_URL: %w", err)
		}
	default:
		return fmt.Errorf("TRANSPORT must be %q or %q, got %q", TransportRedis, TransportWS, c.Transport)
	}
	for name, d := range map[string]time.Duration{
		"RECONNECT_WAIT":      c.ReconnectWait,
		"RESYNC_SHOW_DELAY":   c.ResyncShowDelay,
		"RESYNC_SETTLE_DELAY": c.ResyncSettleDelay,
		"PRESENCE_INTERVAL":   c.PresenceInterval,
		"PRESENCE_TIMEOUT":    c.PresenceTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.PresenceTimeout <= c.PresenceInterval {
		return errors.New("PRESENCE_TIMEOUT must exceed PRESENCE_INTERVAL")
	}
	if c.WSMaxReconnect < 0 {
		return errors.New("WS_MAX_RECONNECT must not be negative")
	}
	return nil
}

func checkScheme(raw string, allowed ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range allowed {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme: %s", u.Scheme)
}
