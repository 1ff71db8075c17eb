package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"OpenEA-Agent/internal/auth"
	"OpenEA-Agent/pkg/logger"
)

// Config 描述了执行助理在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Agent     AgentConfig     `json:"agent"`
	Tools     ToolsConfig     `json:"tools"`
	TaskQueue TaskQueueConfig `json:"task_queue"`
	TaskStore TaskStoreConfig `json:"task_store"`
	Logging   logger.Config   `json:"logging"`
	Evals     EvalsConfig     `json:"evals"`
	Alerts    AlertsConfig    `json:"alerts"`
	Auth      auth.Config     `json:"auth"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address        string `json:"address"`
	MetricsAddress string `json:"metrics_address"`
}

// StorageConfig 描述会话 KV 与审批台账的后端。
type StorageConfig struct {
	Driver  string        `json:"driver"`
	SQLite  SQLiteConfig  `json:"sqlite"`
	MySQL   MySQLConfig   `json:"mysql"`
	Session SessionConfig `json:"session"`
}

// SQLiteConfig 描述本地 SQLite 数据库文件。
type SQLiteConfig struct {
	Path string `json:"path"`
}

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// SessionConfig 允许把会话 KV 单独放到 Redis，审批台账仍留在主存储。
type SessionConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Prefix    string `json:"prefix"`
	Queue     string `json:"queue"`
	BlockWait int    `json:"block_wait_seconds"`
}

// KnowledgeConfig 描述政策文档目录与检索参数。
type KnowledgeConfig struct {
	Enabled *bool  `json:"enabled"`
	Dir     string `json:"dir"`
	TopK    int    `json:"top_k"`
	Window  int    `json:"window"`
}

// IsEnabled 返回是否启用文档检索，默认启用。
func (k KnowledgeConfig) IsEnabled() bool {
	return k.Enabled == nil || *k.Enabled
}

// AgentConfig 控制编排器行为。
type AgentConfig struct {
	StepTimeoutSeconds int      `json:"step_timeout_seconds"`
	KnowledgeTerms     []string `json:"knowledge_terms"`
}

// StepTimeout 返回单个步骤的执行超时。
func (a AgentConfig) StepTimeout() time.Duration {
	return time.Duration(a.StepTimeoutSeconds) * time.Second
}

// ToolsConfig 指向模拟工具的 YAML 夹具文件。
type ToolsConfig struct {
	Fixtures string `json:"fixtures"`
}

// TaskQueueConfig 描述异步任务队列。
type TaskQueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// TaskStoreConfig 描述异步任务状态的存储。
type TaskStoreConfig struct {
	Driver  string `json:"driver"`
	DSN     string `json:"dsn"`
	Retries int    `json:"retries"`
}

// EvalsConfig 指向评测场景文件。
type EvalsConfig struct {
	Scenarios string `json:"scenarios"`
	User      string `json:"user"`
}

// AlertsConfig 配置任务告警投递的消息频道，为空时只写审计日志。
type AlertsConfig struct {
	Channel string `json:"channel"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// DefaultKnowledgeTerms 是触发文档检索的默认关键词。
var DefaultKnowledgeTerms = []string{"policy", "handbook", "guideline", "expenses"}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回一个不依赖配置文件的默认配置，baseDir 作为相对路径的基准。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// Validate 检查驱动名称等枚举值。
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory", "mysql":
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.Driver)
	}
	if c.Storage.Driver == "mysql" && strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
		return errors.New("mysql 存储需要配置 storage.mysql.dsn")
	}
	switch c.Storage.Session.Driver {
	case "", "redis":
	default:
		return fmt.Errorf("未知的会话存储驱动: %s", c.Storage.Session.Driver)
	}
	switch c.TaskQueue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.TaskQueue.Driver)
	}
	switch c.TaskStore.Driver {
	case "memory", "mysql":
	default:
		return fmt.Errorf("未知的任务存储驱动: %s", c.TaskStore.Driver)
	}
	switch c.Auth.Mode {
	case "", auth.ModeDisabled, auth.ModeToken:
	default:
		return fmt.Errorf("未知的认证模式: %s", c.Auth.Mode)
	}
	return nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir, "data")

	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = filepath.Join(c.Runtime.DataDir, "runs.sqlite")
	} else {
		c.Storage.SQLite.Path = resolve(baseDir, c.Storage.SQLite.Path, "")
	}
	if c.Storage.Session.Redis.Prefix == "" {
		c.Storage.Session.Redis.Prefix = "eagent:"
	}

	c.Knowledge.Dir = resolve(baseDir, c.Knowledge.Dir, "kb")
	if c.Knowledge.TopK <= 0 {
		c.Knowledge.TopK = 3
	}
	if c.Knowledge.Window < 0 {
		c.Knowledge.Window = 0
	} else if c.Knowledge.Window == 0 {
		c.Knowledge.Window = 1
	}

	if c.Agent.StepTimeoutSeconds <= 0 {
		c.Agent.StepTimeoutSeconds = 5
	}
	if len(c.Agent.KnowledgeTerms) == 0 {
		c.Agent.KnowledgeTerms = append([]string(nil), DefaultKnowledgeTerms...)
	}

	if c.Tools.Fixtures != "" {
		c.Tools.Fixtures = resolve(baseDir, c.Tools.Fixtures, "")
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Worker <= 0 {
		c.TaskQueue.Worker = 2
	}
	if c.TaskStore.Driver == "" {
		c.TaskStore.Driver = "memory"
	}
	if c.TaskStore.Retries <= 0 {
		c.TaskStore.Retries = 3
	}

	if c.Evals.Scenarios != "" {
		c.Evals.Scenarios = resolve(baseDir, c.Evals.Scenarios, "")
	}
	if c.Evals.User == "" {
		c.Evals.User = "eval-user"
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

func resolve(baseDir, value, fallback string) string {
	if value == "" {
		value = fallback
	}
	if value == "" || filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
