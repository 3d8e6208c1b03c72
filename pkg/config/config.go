// 文件: pkg/config/config.go
// 估值服务配置 (YAML)
//
// 配置文件查找顺序:
//  1. 命令行指定的路径
//  2. $PRICER_CONFIG
//  3. ./pricer.yaml
//
// 都不存在时使用默认配置。

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pricer.com/pkg/montecarlo"
	"pricer.com/pkg/recorder"
	"pricer.com/pkg/valuation"
	"pricer.com/pkg/worker"
)

const (
	EnvConfigPath  = "PRICER_CONFIG"
	ConfigFileName = "pricer.yaml"
)

// Config 服务配置
type Config struct {
	NodeID    int64           `yaml:"node_id"` // 雪花节点号
	NATS      NATSConfig      `yaml:"nats"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Valuation ValuationConfig `yaml:"valuation"`
}

// NATSConfig 请求入口
type NATSConfig struct {
	URL     string        `yaml:"url"`
	Queue   string        `yaml:"queue"`
	Timeout time.Duration `yaml:"timeout"`
}

// KafkaConfig 报告流
type KafkaConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	GroupID       string        `yaml:"group_id"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RedisConfig 报告缓存
type RedisConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	TTL     time.Duration `yaml:"ttl"`
}

// MySQLConfig 估值台账，开启时需要同时开启 Kafka
type MySQLConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// ValuationConfig 估值引擎参数
type ValuationConfig struct {
	LatticeSteps int    `yaml:"lattice_steps"`
	Paths        int    `yaml:"paths"`
	StepsPerPath int    `yaml:"steps_per_path"`
	Workers      int    `yaml:"workers"` // 0 = GOMAXPROCS
	Seed         uint64 `yaml:"seed"`    // 0 = 按时间取种子
	Discount     string `yaml:"discount"`
	Precision    *int32 `yaml:"precision"` // nil = 4，0 表示取整
}

// =============================================================================
// 加载
// =============================================================================

// Load 加载配置，path 为空时按查找顺序寻找，找不到返回默认配置
func Load(path string) (*Config, error) {
	if path == "" {
		path = FindConfigPath()
	}
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FindConfigPath 返回第一个存在的配置文件，没有则返回空字符串
func FindConfigPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" && fileExists(path) {
		return path
	}
	if fileExists(ConfigFileName) {
		return ConfigFileName
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DefaultConfig 本地开发的默认配置，只开启 NATS
func DefaultConfig() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// applyDefaults 填充缺省值
func (c *Config) applyDefaults() {
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://127.0.0.1:4222"
	}
	if c.NATS.Queue == "" {
		c.NATS.Queue = "pricer-workers"
	}
	if c.NATS.Timeout <= 0 {
		c.NATS.Timeout = 10 * time.Second
	}

	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"127.0.0.1:9092"}
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "valuation_recorder"
	}
	if c.Kafka.BatchSize <= 0 {
		c.Kafka.BatchSize = 300
	}
	if c.Kafka.FlushInterval <= 0 {
		c.Kafka.FlushInterval = 500 * time.Millisecond
	}

	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 30 * time.Second
	}

	if c.MySQL.DSN == "" {
		c.MySQL.DSN = "root:123456@tcp(127.0.0.1:3306)/pricer?charset=utf8mb4&parseTime=True&loc=Local"
	}

	if c.Valuation.LatticeSteps <= 0 {
		c.Valuation.LatticeSteps = 200
	}
	if c.Valuation.Paths <= 0 {
		c.Valuation.Paths = 10000
	}
	if c.Valuation.StepsPerPath <= 0 {
		c.Valuation.StepsPerPath = 252
	}
	if c.Valuation.Discount == "" {
		c.Valuation.Discount = montecarlo.DiscountRiskNeutral.String()
	}
	if c.Valuation.Precision == nil {
		precision := int32(4)
		c.Valuation.Precision = &precision
	}
}

// Validate 检查组合是否可用
func (c *Config) Validate() error {
	if c.MySQL.Enabled && !c.Kafka.Enabled {
		return errors.New("config: mysql ledger requires kafka.enabled")
	}
	if _, err := montecarlo.ParseDiscount(c.Valuation.Discount); err != nil {
		return fmt.Errorf("config: valuation.discount: %w", err)
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("config: node_id must be in [0, 1023] (got %d)", c.NodeID)
	}
	if p := c.Valuation.Precision; p != nil && *p < 0 {
		return fmt.Errorf("config: valuation.precision must be >= 0 (got %d)", *p)
	}
	return nil
}

// =============================================================================
// 转换为各组件配置
// =============================================================================

// Engine 估值引擎配置
func (c *Config) Engine() (valuation.Config, error) {
	discount, err := montecarlo.ParseDiscount(c.Valuation.Discount)
	if err != nil {
		return valuation.Config{}, err
	}

	precision := int32(4)
	if c.Valuation.Precision != nil {
		precision = *c.Valuation.Precision
	}

	mc := montecarlo.DefaultConfig()
	mc.PathCount = c.Valuation.Paths
	mc.StepsPerPath = c.Valuation.StepsPerPath
	mc.Discount = discount
	if c.Valuation.Workers > 0 {
		mc.Workers = c.Valuation.Workers
	}
	if c.Valuation.Seed != 0 {
		mc.Seed = c.Valuation.Seed
	}

	return valuation.Config{
		LatticeSteps: c.Valuation.LatticeSteps,
		MonteCarlo:   mc,
		Precision:    precision,
	}, nil
}

// Worker 请求处理器配置
func (c *Config) Worker() worker.Config {
	return worker.Config{
		NATSURL: c.NATS.URL,
		Queue:   c.NATS.Queue,
		Timeout: c.NATS.Timeout,
	}
}

// Recorder 台账写入器配置
func (c *Config) Recorder() recorder.Config {
	cfg := recorder.DefaultConfig(c.Kafka.Brokers)
	cfg.GroupID = c.Kafka.GroupID
	cfg.BatchSize = c.Kafka.BatchSize
	cfg.FlushInterval = c.Kafka.FlushInterval
	return cfg
}
