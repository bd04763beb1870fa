package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Feed      FeedConfig      `yaml:"feed"`
	Avatars   AvatarConfig    `yaml:"avatars"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds the HTTP listen address and the database path.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	DBPath  string `yaml:"db_path"`
}

// FeedConfig holds timeline and send pipeline settings.
type FeedConfig struct {
	// Capacity caps the non-system timeline history.
	Capacity int `yaml:"capacity"`
	// Cooldown is the minimum interval between accepted sends.
	Cooldown Duration `yaml:"cooldown"`
	// Replay is how many recent rows a new subscriber is backfilled with.
	Replay int `yaml:"replay"`
	// SystemNotice, when set, is appended as a system message at startup.
	SystemNotice string `yaml:"system_notice"`
}

// AvatarConfig holds avatar resolution settings.
type AvatarConfig struct {
	// RetryAfter is the backoff window after an empty or failed fetch.
	RetryAfter Duration `yaml:"retry_after"`
	// MaxConcurrent bounds outstanding profile fetches.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RetentionConfig holds configuration for the scheduled maintenance runner.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// Period is how much persisted history to keep, e.g. "168h".
	Period Duration `yaml:"period"`
}

// Addr renders the listen address as host:port.
func (c *Config) Addr() string {
	host := c.Server.Address
	port := c.Server.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Duration is a yaml-friendly wrapper over time.Duration accepting Go
// duration strings ("3s", "25s") and bare integers meaning milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimSpace(value.Value)
	if s == "" {
		*d = 0
		return nil
	}
	if v, err := time.ParseDuration(s); err == nil {
		*d = Duration(v)
		return nil
	}
	var ms int64
	if err := value.Decode(&ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	return fmt.Errorf("invalid duration: %q", value.Value)
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
