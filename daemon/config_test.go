package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile(%s) error = %v", name, err)
	}
	return path
}

func TestDiscoverConfigPathFrom_FirstMatchWins(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	projectConfig := writeConfigFile(t, cwd, "pollen.yaml", "broker: {}")

	homeConfigDir := filepath.Join(home, ".pollen")
	if err := os.MkdirAll(homeConfigDir, 0o755); err != nil {
		t.Fatalf("MkdirAll(home config dir) error = %v", err)
	}
	writeConfigFile(t, homeConfigDir, "config.yaml", "broker: {}")

	got, found, err := DiscoverConfigPathFrom("", cwd, home)
	if err != nil {
		t.Fatalf("DiscoverConfigPathFrom() error = %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if got != projectConfig {
		t.Fatalf("path = %q, want %q", got, projectConfig)
	}
}

func TestDiscoverConfigPathFrom_HomeFallback(t *testing.T) {
	cwd := t.TempDir()
	home := t.TempDir()

	homeConfigDir := filepath.Join(home, ".pollen")
	if err := os.MkdirAll(homeConfigDir, 0o755); err != nil {
		t.Fatalf("MkdirAll(home config dir) error = %v", err)
	}
	homeConfig := writeConfigFile(t, homeConfigDir, "config.yaml", "broker: {}")

	got, found, err := DiscoverConfigPathFrom("", cwd, home)
	if err != nil {
		t.Fatalf("DiscoverConfigPathFrom() error = %v", err)
	}
	if !found {
		t.Fatal("found = false, want true")
	}
	if got != homeConfig {
		t.Fatalf("path = %q, want %q", got, homeConfig)
	}
}

func TestDiscoverConfigPathFrom_NoConfig(t *testing.T) {
	_, found, err := DiscoverConfigPathFrom("", t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("DiscoverConfigPathFrom() error = %v", err)
	}
	if found {
		t.Fatal("found = true, want false")
	}
}

func TestDiscoverConfigPathFrom_ExplicitNotFound(t *testing.T) {
	_, found, err := DiscoverConfigPathFrom("/tmp/does-not-exist.yaml", t.TempDir(), t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
	if found {
		t.Fatal("found = true, want false")
	}
}

func TestLoadConfig_ExpandsEnvironment(t *testing.T) {
	t.Setenv("POLLEN_TEST_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("POLLEN_TEST_QUEUE_URL", "https://sqs.eu-west-1.amazonaws.com/123/pollen")

	configYAML := `
broker:
  mode: async
  default_channel: topic:inbox
  queue_size: 64
  workers: 2
redis:
  addr: ${POLLEN_TEST_REDIS_ADDR}
  db: 3
  prefix: hive.
sqs:
  queue_url: ${POLLEN_TEST_QUEUE_URL}
  channel: queue:jobs
  wait_time_seconds: 5
  max_messages: 4
schedules:
  - cron: "*/5 * * * *"
    event: heartbeat
    channel: topic:ops
    payload: '{"source":"relay"}'
forwards:
  - pattern: "topic:orders"
    to: redis
`
	path := writeConfigFile(t, t.TempDir(), "pollen.yaml", configYAML)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Broker.Mode != "async" {
		t.Fatalf("broker mode = %q, want async", cfg.Broker.Mode)
	}
	if cfg.Broker.DefaultChannel != "topic:inbox" {
		t.Fatalf("default channel = %q, want topic:inbox", cfg.Broker.DefaultChannel)
	}
	if cfg.Broker.QueueSize != 64 || cfg.Broker.Workers != 2 {
		t.Fatalf("broker sizing = (%d, %d), want (64, 2)", cfg.Broker.QueueSize, cfg.Broker.Workers)
	}
	if cfg.Redis == nil {
		t.Fatal("redis config missing")
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Fatalf("redis addr = %q, want expanded value", cfg.Redis.Addr)
	}
	if cfg.Redis.DB != 3 || cfg.Redis.Prefix != "hive." {
		t.Fatalf("redis = (%d, %q), want (3, hive.)", cfg.Redis.DB, cfg.Redis.Prefix)
	}
	if cfg.SQS == nil {
		t.Fatal("sqs config missing")
	}
	if cfg.SQS.QueueURL != "https://sqs.eu-west-1.amazonaws.com/123/pollen" {
		t.Fatalf("sqs queue url = %q, want expanded value", cfg.SQS.QueueURL)
	}
	if cfg.SQS.Channel != "queue:jobs" || cfg.SQS.WaitTimeSeconds != 5 || cfg.SQS.MaxMessages != 4 {
		t.Fatalf("sqs = (%q, %d, %d), want (queue:jobs, 5, 4)", cfg.SQS.Channel, cfg.SQS.WaitTimeSeconds, cfg.SQS.MaxMessages)
	}
	if len(cfg.Schedules) != 1 {
		t.Fatalf("schedules = %d, want 1", len(cfg.Schedules))
	}
	s := cfg.Schedules[0]
	if s.Cron != "*/5 * * * *" || s.Event != "heartbeat" || s.Channel != "topic:ops" {
		t.Fatalf("schedule = %+v", s)
	}
	if s.Payload != `{"source":"relay"}` {
		t.Fatalf("schedule payload = %q", s.Payload)
	}
	if len(cfg.Forwards) != 1 {
		t.Fatalf("forwards = %d, want 1", len(cfg.Forwards))
	}
	if cfg.Forwards[0].Pattern != "topic:orders" || cfg.Forwards[0].To != "redis" {
		t.Fatalf("forward = %+v", cfg.Forwards[0])
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	path := writeConfigFile(t, t.TempDir(), "pollen.yaml", "broker: [not a map")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfigValidate(t *testing.T) {
	redisSection := &RedisConfig{Addr: "localhost:6379"}
	sqsSection := &SQSConfig{QueueURL: "https://sqs.example/queue"}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid full config",
			cfg: Config{
				Broker:    BrokerConfig{Mode: "sync", DefaultChannel: "topic:inbox"},
				Redis:     redisSection,
				SQS:       sqsSection,
				Schedules: []ScheduleConfig{{Cron: "* * * * *", Event: "tick", Channel: "topic:ops"}},
				Forwards:  []ForwardConfig{{Pattern: "topic:orders", To: "redis"}},
			},
		},
		{
			name:    "unknown broker mode",
			cfg:     Config{Broker: BrokerConfig{Mode: "batch"}},
			wantErr: true,
		},
		{
			name:    "bad default channel",
			cfg:     Config{Broker: BrokerConfig{DefaultChannel: "inbox"}},
			wantErr: true,
		},
		{
			name:    "redis without addr",
			cfg:     Config{Redis: &RedisConfig{}},
			wantErr: true,
		},
		{
			name:    "sqs without queue url",
			cfg:     Config{SQS: &SQSConfig{}},
			wantErr: true,
		},
		{
			name:    "sqs bad channel",
			cfg:     Config{SQS: &SQSConfig{QueueURL: "https://sqs.example/queue", Channel: "jobs"}},
			wantErr: true,
		},
		{
			name:    "schedule without event",
			cfg:     Config{Schedules: []ScheduleConfig{{Cron: "* * * * *"}}},
			wantErr: true,
		},
		{
			name:    "schedule bad channel",
			cfg:     Config{Schedules: []ScheduleConfig{{Cron: "* * * * *", Event: "tick", Channel: "ops"}}},
			wantErr: true,
		},
		{
			name:    "forward bad pattern",
			cfg:     Config{Redis: redisSection, Forwards: []ForwardConfig{{Pattern: "topic:[", To: "redis"}}},
			wantErr: true,
		},
		{
			name:    "forward unknown transport",
			cfg:     Config{Forwards: []ForwardConfig{{Pattern: "topic:orders", To: "kafka"}}},
			wantErr: true,
		},
		{
			name:    "forward to unconfigured redis",
			cfg:     Config{Forwards: []ForwardConfig{{Pattern: "topic:orders", To: "redis"}}},
			wantErr: true,
		},
		{
			name:    "forward to unconfigured sqs",
			cfg:     Config{Forwards: []ForwardConfig{{Pattern: "topic:orders", To: "sqs"}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}
