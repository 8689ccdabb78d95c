// Package daemon runs a pollen relay: a long-lived process that builds a
// broker from a YAML configuration, bridges the configured transports into
// it, emits scheduled events, and forwards matching events back out to a
// transport.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/pollen"
)

const (
	projectConfigName = "pollen.yaml"
	homeConfigName    = "config.yaml"
)

// Config is the relay configuration file shape. String values are
// environment-expanded (${VAR}) when loaded.
type Config struct {
	Broker    BrokerConfig     `yaml:"broker,omitempty"`
	Redis     *RedisConfig     `yaml:"redis,omitempty"`
	SQS       *SQSConfig       `yaml:"sqs,omitempty"`
	Schedules []ScheduleConfig `yaml:"schedules,omitempty"`
	Forwards  []ForwardConfig  `yaml:"forwards,omitempty"`
}

// BrokerConfig declares the broker the relay constructs.
type BrokerConfig struct {
	// Mode is the delivery mode: "sync" or "async" (default: sync).
	Mode string `yaml:"mode,omitempty"`

	// DefaultChannel attributes inbound transport messages that do not name
	// a channel, in kind:name form (for example "topic:inbox").
	DefaultChannel string `yaml:"default_channel,omitempty"`

	// QueueSize is the async delivery queue capacity.
	QueueSize int `yaml:"queue_size,omitempty"`

	// Workers is the number of async delivery workers.
	Workers int `yaml:"workers,omitempty"`
}

// RedisConfig declares a Redis Pub/Sub transport.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`

	// Prefix namespaces the Redis channels the relay uses (default: "pollen.").
	Prefix string `yaml:"prefix,omitempty"`
}

// SQSConfig declares an Amazon SQS transport. The client is built from the
// default AWS configuration chain.
type SQSConfig struct {
	QueueURL string `yaml:"queue_url"`

	// Channel attributes inbound queue messages without a wire channel, in
	// kind:name form.
	Channel string `yaml:"channel,omitempty"`

	WaitTimeSeconds int   `yaml:"wait_time_seconds,omitempty"`
	MaxMessages     int32 `yaml:"max_messages,omitempty"`
}

// ScheduleConfig declares one cron-driven event emission.
type ScheduleConfig struct {
	// Cron is a five-field cron expression, evaluated in UTC.
	Cron string `yaml:"cron"`

	// Event is the logical name of the emitted event.
	Event string `yaml:"event"`

	// Channel targets the emit, in kind:name form; empty broadcasts to every
	// registered handler.
	Channel string `yaml:"channel,omitempty"`

	// Payload is attached verbatim to every emitted event.
	Payload string `yaml:"payload,omitempty"`
}

// ForwardConfig declares one relay rule: events matching Pattern are
// published to the named transport. A forward whose target transport also
// feeds the broker re-delivers its own output; bridge between different
// transports or scope the pattern away from the re-delivered channel.
type ForwardConfig struct {
	// Pattern selects the forwarded events, in kind:expr form.
	Pattern string `yaml:"pattern"`

	// To names the outbound transport: "redis" or "sqs".
	To string `yaml:"to"`
}

// DiscoverConfigPath resolves the relay config location with first-match
// semantics: the explicit path if given, then ./pollen.yaml, then
// ~/.pollen/config.yaml.
func DiscoverConfigPath(explicitPath string) (string, bool, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", false, fmt.Errorf("resolve working directory: %w", err)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", false, fmt.Errorf("resolve user home: %w", err)
	}
	return DiscoverConfigPathFrom(explicitPath, cwd, homeDir)
}

// DiscoverConfigPathFrom is a testable variant of DiscoverConfigPath.
func DiscoverConfigPathFrom(explicitPath, cwd, homeDir string) (string, bool, error) {
	candidates := make([]string, 0, 2)
	if clean := strings.TrimSpace(explicitPath); clean != "" {
		candidates = append(candidates, filepath.Clean(clean))
	} else {
		candidates = append(candidates, filepath.Join(cwd, projectConfigName))
		candidates = append(candidates, filepath.Join(homeDir, ".pollen", homeConfigName))
	}

	for i, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, true, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			// An explicit path that does not exist is an error, not a miss.
			if i == 0 && strings.TrimSpace(explicitPath) != "" {
				return "", false, fmt.Errorf("config file %q not found", candidate)
			}
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("checking config path %q: %w", candidate, err)
		}
	}
	return "", false, nil
}

// LoadConfig reads, parses, expands, and validates a relay configuration file.
func LoadConfig(path string) (Config, error) {
	// #nosec G304 -- path resolved from explicit local config discovery.
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading relay config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing relay config %q: %w", path, err)
	}
	cfg.expand()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("relay config %q: %w", path, err)
	}
	return cfg, nil
}

// expand applies environment expansion to every string value.
func (c *Config) expand() {
	c.Broker.Mode = expandEnvValue(c.Broker.Mode)
	c.Broker.DefaultChannel = expandEnvValue(c.Broker.DefaultChannel)
	if c.Redis != nil {
		c.Redis.Addr = expandEnvValue(c.Redis.Addr)
		c.Redis.Password = expandEnvValue(c.Redis.Password)
		c.Redis.Prefix = expandEnvValue(c.Redis.Prefix)
	}
	if c.SQS != nil {
		c.SQS.QueueURL = expandEnvValue(c.SQS.QueueURL)
		c.SQS.Channel = expandEnvValue(c.SQS.Channel)
	}
	for i := range c.Schedules {
		c.Schedules[i].Cron = expandEnvValue(c.Schedules[i].Cron)
		c.Schedules[i].Event = expandEnvValue(c.Schedules[i].Event)
		c.Schedules[i].Channel = expandEnvValue(c.Schedules[i].Channel)
		c.Schedules[i].Payload = expandEnvValue(c.Schedules[i].Payload)
	}
	for i := range c.Forwards {
		c.Forwards[i].Pattern = expandEnvValue(c.Forwards[i].Pattern)
		c.Forwards[i].To = expandEnvValue(c.Forwards[i].To)
	}
}

// Validate checks the configuration shape. Channel and pattern syntax is
// checked here so a bad file fails at load, not at relay start.
func (c Config) Validate() error {
	switch c.Broker.Mode {
	case "", string(pollen.ModeSync), string(pollen.ModeAsync):
	default:
		return fmt.Errorf("broker: unknown mode %q", c.Broker.Mode)
	}
	if c.Broker.DefaultChannel != "" {
		if _, err := pollen.ParseChannel(c.Broker.DefaultChannel); err != nil {
			return fmt.Errorf("broker: %w", err)
		}
	}
	if c.Redis != nil && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("redis: addr is required")
	}
	if c.SQS != nil {
		if strings.TrimSpace(c.SQS.QueueURL) == "" {
			return errors.New("sqs: queue_url is required")
		}
		if c.SQS.Channel != "" {
			if _, err := pollen.ParseChannel(c.SQS.Channel); err != nil {
				return fmt.Errorf("sqs: %w", err)
			}
		}
	}
	for i, s := range c.Schedules {
		if strings.TrimSpace(s.Event) == "" {
			return fmt.Errorf("schedules[%d]: event is required", i)
		}
		if s.Channel != "" {
			if _, err := pollen.ParseChannel(s.Channel); err != nil {
				return fmt.Errorf("schedules[%d]: %w", i, err)
			}
		}
	}
	for i, f := range c.Forwards {
		if _, err := pollen.ParsePattern(f.Pattern); err != nil {
			return fmt.Errorf("forwards[%d]: %w", i, err)
		}
		switch f.To {
		case transportRedis:
			if c.Redis == nil {
				return fmt.Errorf("forwards[%d]: redis transport is not configured", i)
			}
		case transportSQS:
			if c.SQS == nil {
				return fmt.Errorf("forwards[%d]: sqs transport is not configured", i)
			}
		default:
			return fmt.Errorf("forwards[%d]: unknown transport %q", i, f.To)
		}
	}
	return nil
}

func expandEnvValue(value string) string {
	return os.ExpandEnv(value)
}
