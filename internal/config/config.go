package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述代理守护进程在启动阶段需要加载的核心配置。
type Config struct {
	Agent    AgentConfig    `json:"agent"`
	Chain    ChainConfig    `json:"chain"`
	Relayer  RelayerConfig  `json:"relayer"`
	Dispatch DispatchConfig `json:"dispatch"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// MetricsConfig 控制指标端点。Address 为空时不启动指标服务。
type MetricsConfig struct {
	Address string `json:"address"`
}

// AgentConfig 描述当前代理的身份信息。签名私钥只允许通过环境变量注入，
// 不落盘。
type AgentConfig struct {
	WalletAddress string `json:"wallet_address"`
	SignerKeyEnv  string `json:"signer_key_env"`
}

// ChainConfig 指定链环境定义文件与默认环境。
type ChainConfig struct {
	Definitions string `json:"definitions"`
	Environment string `json:"environment"`
}

// RelayerConfig 控制中继后端的调用参数。
type RelayerConfig struct {
	TimeoutSeconds int `json:"timeout_seconds"`
}

// DispatchConfig 控制通知分发器的运行方式。
type DispatchConfig struct {
	Mode                string      `json:"mode"`
	Workers             int         `json:"workers"`
	PollIntervalSeconds int         `json:"poll_interval_seconds"`
	Queue               QueueConfig `json:"queue"`
	Store               StoreConfig `json:"store"`
}

// QueueConfig 描述事件接入队列的驱动与连接参数。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接信息。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接信息。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// StoreConfig 描述已处理事件去重存储的驱动与连接信息。
type StoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制交易审计日志。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Agent.SignerKeyEnv == "" {
		c.Agent.SignerKeyEnv = "ACP_SIGNER_KEY"
	}

	if c.Chain.Definitions == "" {
		c.Chain.Definitions = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Chain.Definitions) {
		c.Chain.Definitions = filepath.Join(baseDir, c.Chain.Definitions)
	}
	if c.Chain.Environment == "" {
		c.Chain.Environment = "base-sepolia"
	}

	if c.Relayer.TimeoutSeconds <= 0 {
		c.Relayer.TimeoutSeconds = 15
	}

	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = "socket"
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.PollIntervalSeconds <= 0 {
		c.Dispatch.PollIntervalSeconds = 20
	}
	if c.Dispatch.Queue.Driver == "" {
		c.Dispatch.Queue.Driver = "memory"
	}
	if c.Dispatch.Store.Driver == "" {
		c.Dispatch.Store.Driver = "memory"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
