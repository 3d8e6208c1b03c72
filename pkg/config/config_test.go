package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"pricer.com/pkg/montecarlo"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pricer.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.NATS.URL != "nats://127.0.0.1:4222" {
		t.Errorf("NATS.URL = %q", cfg.NATS.URL)
	}
	if cfg.Kafka.Enabled || cfg.Redis.Enabled || cfg.MySQL.Enabled {
		t.Error("optional backends should be disabled by default")
	}
	if cfg.Valuation.LatticeSteps != 200 || cfg.Valuation.Paths != 10000 {
		t.Errorf("Valuation = %+v", cfg.Valuation)
	}
	if cfg.Valuation.Precision == nil || *cfg.Valuation.Precision != 4 {
		t.Errorf("Precision = %v, want 4", cfg.Valuation.Precision)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
node_id: 7
nats:
  url: nats://nats:4222
  timeout: 3s
kafka:
  enabled: true
  brokers: [kafka-1:9092, kafka-2:9092]
  flush_interval: 250ms
redis:
  enabled: true
  ttl: 1m
mysql:
  enabled: true
  dsn: user:pw@tcp(db:3306)/pricer
valuation:
  lattice_steps: 500
  paths: 50000
  workers: 8
  seed: 42
  discount: compound
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.NodeID != 7 {
		t.Errorf("NodeID = %d, want 7", cfg.NodeID)
	}
	if cfg.NATS.URL != "nats://nats:4222" || cfg.NATS.Timeout != 3*time.Second {
		t.Errorf("NATS = %+v", cfg.NATS)
	}
	if cfg.NATS.Queue != "pricer-workers" {
		t.Errorf("NATS.Queue default not applied: %q", cfg.NATS.Queue)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.FlushInterval != 250*time.Millisecond {
		t.Errorf("Kafka = %+v", cfg.Kafka)
	}
	if cfg.Redis.TTL != time.Minute || cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.MySQL.DSN != "user:pw@tcp(db:3306)/pricer" {
		t.Errorf("MySQL.DSN = %q", cfg.MySQL.DSN)
	}

	engine, err := cfg.Engine()
	if err != nil {
		t.Fatalf("Engine() error = %v", err)
	}
	if engine.LatticeSteps != 500 || engine.Precision != 4 {
		t.Errorf("engine = %+v", engine)
	}
	mc := engine.MonteCarlo
	if mc.PathCount != 50000 || mc.StepsPerPath != 252 || mc.Workers != 8 || mc.Seed != 42 {
		t.Errorf("monte carlo = %+v", mc)
	}
	if mc.Discount != montecarlo.DiscountCompound {
		t.Errorf("Discount = %v, want compound", mc.Discount)
	}

	w := cfg.Worker()
	if w.NATSURL != cfg.NATS.URL || w.Timeout != 3*time.Second {
		t.Errorf("worker = %+v", w)
	}

	r := cfg.Recorder()
	if r.GroupID != "valuation_recorder" || r.BatchSize != 300 || r.FlushInterval != 250*time.Millisecond {
		t.Errorf("recorder = %+v", r)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "nats: [unclosed"},
		{"bad duration", "nats:\n  timeout: soon\n"},
		{"unknown discount", "valuation:\n  discount: simple\n"},
		{"mysql without kafka", "mysql:\n  enabled: true\n"},
		{"node id out of range", "node_id: 4096\n"},
		{"negative precision", "valuation:\n  precision: -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("Load() expected error")
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of a missing file expected error")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	path := writeConfig(t, "valuation:\n  precision: 2\n")
	t.Setenv(EnvConfigPath, path)

	if got := FindConfigPath(); got != path {
		t.Fatalf("FindConfigPath() = %q, want %q", got, path)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Valuation.Precision == nil || *cfg.Valuation.Precision != 2 {
		t.Errorf("Precision = %v, want 2", cfg.Valuation.Precision)
	}
}

func TestLoad_ZeroPrecision(t *testing.T) {
	cfg, err := Load(writeConfig(t, "valuation:\n  precision: 0\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Valuation.Precision == nil || *cfg.Valuation.Precision != 0 {
		t.Fatalf("Precision = %v, want 0", cfg.Valuation.Precision)
	}

	engine, err := cfg.Engine()
	if err != nil {
		t.Fatalf("Engine() error = %v", err)
	}
	if engine.Precision != 0 {
		t.Errorf("engine.Precision = %d, want 0", engine.Precision)
	}

	// 未配置时使用 4 位小数
	var empty Config
	engine, err = empty.Engine()
	if err != nil {
		t.Fatalf("Engine() error = %v", err)
	}
	if engine.Precision != 4 {
		t.Errorf("engine.Precision = %d, want 4", engine.Precision)
	}
}
