package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Duration is a time.Duration that decodes from strings like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile string    `toml:"default_profile"`
	Server         Server    `toml:"server"`
	Sync           Sync      `toml:"sync"`
	Reconnect      Reconnect `toml:"reconnect"`
	Debug          Debug     `toml:"debug"`
}

// Server locates the chat backend.
type Server struct {
	BaseURL   string `toml:"base_url"`
	SocketURL string `toml:"socket_url,omitempty"`
	Token     string `toml:"token,omitempty"`
}

// Sync tunes the synchronization engine.
type Sync struct {
	SendTimeout    Duration `toml:"send_timeout"`
	RequestTimeout Duration `toml:"request_timeout"`
	AckTimeout     Duration `toml:"ack_timeout"`
	SendRate       float64  `toml:"send_rate"`
}

// Reconnect tunes socket reconnect backoff. A zero MaxElapsed retries forever.
type Reconnect struct {
	InitialInterval Duration `toml:"initial_interval"`
	MaxInterval     Duration `toml:"max_interval"`
	MaxElapsed      Duration `toml:"max_elapsed"`
}

// Debug configures the metrics endpoint. An empty address disables it.
type Debug struct {
	MetricsAddr string `toml:"metrics_addr,omitempty"`
}

// Default returns a config with every tunable set.
func Default() *Config {
	return &Config{
		DefaultProfile: "main",
		Sync: Sync{
			SendTimeout:    Duration{30 * time.Second},
			RequestTimeout: Duration{15 * time.Second},
			AckTimeout:     Duration{10 * time.Second},
			SendRate:       5,
		},
		Reconnect: Reconnect{
			InitialInterval: Duration{time.Second},
			MaxInterval:     Duration{30 * time.Second},
		},
	}
}

// Load reads config from path on top of Default. Returns an error if the
// file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except a missing file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Environment overrides.
const (
	EnvToken     = "CHATSYNC_TOKEN"
	EnvBaseURL   = "CHATSYNC_BASE_URL"
	EnvSocketURL = "CHATSYNC_SOCKET_URL"
)

// ApplyEnv loads the optional dotenv files, then overrides server settings
// from the environment. Variables already set in the process win over the
// files.
func (c *Config) ApplyEnv(dotenvFiles ...string) error {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv(EnvSocketURL); v != "" {
		c.Server.SocketURL = v
	}
	return nil
}

// Validate checks the server section.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return errors.New("server.base_url is required")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.base_url %q must be an http(s) URL", c.Server.BaseURL)
	}
	if c.Sync.SendRate < 0 {
		return fmt.Errorf("sync.send_rate must not be negative")
	}
	return nil
}

// SocketURL returns the websocket endpoint, derived from base_url when
// socket_url is unset.
func (c *Config) SocketURL() string {
	if c.Server.SocketURL != "" {
		return c.Server.SocketURL
	}
	u := strings.TrimRight(c.Server.BaseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return u + "/ws"
}
