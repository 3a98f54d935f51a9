// Package config loads service configuration in three layers: struct
// defaults, an optional YAML file, then JOBCHAT_* environment variables
// (highest priority). Env names map to keys with a double underscore as the
// section separator, e.g. JOBCHAT_SCYLLA__KEYSPACE -> scylla.keyspace.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "JOBCHAT_"

type Config struct {
	Listen string `koanf:"listen"`

	// Node distinguishes this instance's generated message ids (0..1023).
	// Every instance of a multi-instance deployment needs its own value.
	Node int64 `koanf:"node"`

	Log    LogConfig    `koanf:"log"`
	Scylla ScyllaConfig `koanf:"scylla"`
	Kafka  KafkaConfig  `koanf:"kafka"`
	Redis  RedisConfig  `koanf:"redis"`
	Auth   AuthConfig   `koanf:"auth"`
	WS     WSConfig     `koanf:"ws"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type ScyllaConfig struct {
	Hosts    []string `koanf:"hosts"`
	Keyspace string   `koanf:"keyspace"`
}

type KafkaConfig struct {
	// Enabled turns on the cross-instance broadcast bus. A single-instance
	// deployment can run without Kafka; local fan-out still works.
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

type RedisConfig struct {
	Addr string `koanf:"addr"`
}

type AuthConfig struct {
	Secret   string        `koanf:"secret"`
	TokenTTL time.Duration `koanf:"ttl"`
}

type WSConfig struct {
	// HandshakeWindow bounds how long a connection may take to present a
	// valid credential before it is rejected.
	HandshakeWindow time.Duration `koanf:"handshakewindow"`

	// SendBuffer is the per-subscriber outbound queue; a subscriber that
	// falls this far behind is dropped rather than blocking fan-out.
	SendBuffer int `koanf:"sendbuffer"`

	// EventRate/EventBurst rate-limit inbound events per connection.
	EventRate  float64 `koanf:"eventrate"`
	EventBurst int     `koanf:"eventburst"`
}

func Default() Config {
	return Config{
		Listen: ":8080",
		Log:    LogConfig{Level: "info", Format: "json"},
		Scylla: ScyllaConfig{Hosts: []string{"localhost:9042"}, Keyspace: "jobchat"},
		Kafka:  KafkaConfig{Enabled: false, Brokers: []string{"localhost:19092"}, Topic: "jobchat-events"},
		Redis:  RedisConfig{Addr: "localhost:6379"},
		Auth:   AuthConfig{TokenTTL: 24 * time.Hour},
		WS: WSConfig{
			HandshakeWindow: 10 * time.Second,
			SendBuffer:      256,
			EventRate:       20,
			EventBurst:      40,
		},
	}
}

// Load builds the layered configuration. path may be empty; a missing file
// at an explicit path is an error, silence otherwise.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	defaults := Default()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FindFile returns the first config file that exists, honoring the
// JOBCHAT_CONFIG override. Empty means run on defaults and env alone.
func FindFile() string {
	if p := os.Getenv("JOBCHAT_CONFIG"); p != "" {
		return p
	}
	for _, p := range []string{"jobchat.yaml", "jobchat.yml", "/etc/jobchat/config.yaml"} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func (c Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen address required")
	}
	if c.Auth.Secret == "" {
		return errors.New("config: auth.secret required (JOBCHAT_AUTH__SECRET)")
	}
	if len(c.Scylla.Hosts) == 0 {
		return errors.New("config: at least one scylla host required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("config: kafka enabled but no brokers configured")
	}
	if c.WS.HandshakeWindow <= 0 {
		return errors.New("config: ws.handshakewindow must be positive")
	}
	return nil
}
