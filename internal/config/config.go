package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Remote struct {
	BaseURL      string        `yaml:"base_url"`
	WebsocketURL string        `yaml:"websocket_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

type Storage struct {
	Path string `yaml:"path"`
}

type Sync struct {
	Interval time.Duration `yaml:"interval"`
}

type Channel struct {
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	ReconnectBase     time.Duration `yaml:"reconnect_base"`
	MaxReconnects     int           `yaml:"max_reconnects"`
}

type Alerts struct {
	Sound bool `yaml:"sound"`
}

type App struct {
	Remote  Remote  `yaml:"remote"`
	Storage Storage `yaml:"storage"`
	Sync    Sync    `yaml:"sync"`
	Channel Channel `yaml:"channel"`
	Alerts  Alerts  `yaml:"alerts"`
}

// Default returns the configuration used when a key is absent from the file.
func Default() App {
	return App{
		Remote: Remote{
			BaseURL:      "http://localhost:8000",
			WebsocketURL: "ws://localhost:8000/ws/waiter",
			Timeout:      10 * time.Second,
		},
		Storage: Storage{Path: "tableside.db"},
		Sync:    Sync{Interval: 30 * time.Second},
		Channel: Channel{
			KeepaliveInterval: 30 * time.Second,
			ReconnectBase:     time.Second,
			MaxReconnects:     10,
		},
		Alerts: Alerts{Sound: true},
	}
}

// Load reads the YAML config at path on top of the defaults.
func Load(path string) (App, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return App{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return App{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return App{}, err
	}
	return cfg, nil
}

// LoadOrDefault loads path when it exists, otherwise returns the defaults.
func LoadOrDefault(path string) (App, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return App{}, err
	}
	return Load(path)
}

func (c App) validate() error {
	if c.Remote.BaseURL == "" {
		return errors.New("invalid config: remote.base_url is required")
	}
	if c.Remote.WebsocketURL == "" {
		return errors.New("invalid config: remote.websocket_url is required")
	}
	if c.Sync.Interval <= 0 {
		return errors.New("invalid config: sync.interval must be positive")
	}
	if c.Channel.ReconnectBase <= 0 {
		return errors.New("invalid config: channel.reconnect_base must be positive")
	}
	if c.Channel.MaxReconnects <= 0 {
		return errors.New("invalid config: channel.max_reconnects must be positive")
	}
	return nil
}
