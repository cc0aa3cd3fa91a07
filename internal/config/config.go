package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/meaningfill/class-sub000/internal/analysis"
	"github.com/meaningfill/class-sub000/internal/observability/alerting"
	"github.com/meaningfill/class-sub000/internal/storage/elastic"
	"github.com/meaningfill/class-sub000/internal/storage/sqlstore"
	"github.com/meaningfill/class-sub000/pkg/logger"
)

// EnvPath 指定配置文件路径的环境变量。
const EnvPath = "MEANINGFILL_CONFIG"

// DefaultPath 是未设置 EnvPath 时的配置文件路径。
const DefaultPath = "configs/meaningfill.yaml"

// 存储驱动
const (
	DriverMemory        = "memory"
	DriverSQL           = "sql"
	DriverElasticsearch = "elasticsearch"
)

// 分析队列驱动
const (
	QueueMemory   = "memory"
	QueueRedis    = "redis"
	QueueRabbitMQ = "rabbitmq"
)

// Config 描述服务启动时需要加载的全部配置。
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   logger.Config   `yaml:"logging"`
	LLM       LLMConfig       `yaml:"llm"`
	Assistant AssistantConfig `yaml:"assistant"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Storage   StorageConfig   `yaml:"storage"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Notify    NotifyConfig    `yaml:"notify"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Teams     TeamsConfig     `yaml:"teams"`
}

// ServerConfig 控制 API 服务的监听地址与超时。
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// AuthConfig 描述静态 Bearer Token。
type AuthConfig struct {
	Enabled bool          `yaml:"enabled"`
	Tokens  []TokenConfig `yaml:"tokens"`
}

// TokenConfig 是一个可用的访问令牌。
type TokenConfig struct {
	Subject string   `yaml:"subject"`
	Token   string   `yaml:"token"`
	Scopes  []string `yaml:"scopes"`
}

// LLMConfig 用于配置大模型后端。
type LLMConfig struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
	Language string        `yaml:"language"`
}

// AssistantConfig 控制对话助手。
type AssistantConfig struct {
	Persona       string  `yaml:"persona"`
	HistoryWindow int     `yaml:"history_window"`
	Temperature   float32 `yaml:"temperature"`
}

// KnowledgeConfig 选择知识库实现与检索参数。
type KnowledgeConfig struct {
	Driver         string         `yaml:"driver"`
	SeedFile       string         `yaml:"seed_file"`
	MaxKeywords    int            `yaml:"max_keywords"`
	CandidateLimit int            `yaml:"candidate_limit"`
	TopN           int            `yaml:"top_n"`
	Elasticsearch  elastic.Config `yaml:"elasticsearch"`
}

// CatalogConfig 选择目录实现。
type CatalogConfig struct {
	Driver   string `yaml:"driver"`
	SeedFile string `yaml:"seed_file"`
}

// StorageConfig 描述会话存储与共享的 SQL 连接。
type StorageConfig struct {
	Driver string          `yaml:"driver"`
	SQL    sqlstore.Config `yaml:"sql"`
}

// AnalysisConfig 控制影子分析队列与工作协程。
type AnalysisConfig struct {
	Disabled       bool                      `yaml:"disabled"`
	Queue          string                    `yaml:"queue"`
	Workers        int                       `yaml:"workers"`
	QueueSize      int                       `yaml:"queue_size"`
	PublishTimeout time.Duration             `yaml:"publish_timeout"`
	Redis          analysis.RedisQueueConfig `yaml:"redis"`
	RabbitMQ       analysis.RabbitMQConfig   `yaml:"rabbitmq"`
}

// NotifyConfig 控制高意向通知。
type NotifyConfig struct {
	Log bool      `yaml:"log"`
	SNS SNSConfig `yaml:"sns"`
}

// SNSConfig 描述 SNS 通知渠道。
type SNSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Region   string `yaml:"region"`
	TopicARN string `yaml:"topic_arn"`
}

// Alerting 转换为 alerting.SNSConfig。
func (c SNSConfig) Alerting() alerting.SNSConfig {
	return alerting.SNSConfig{Region: c.Region, TopicARN: c.TopicARN}
}

// MetricsConfig 控制独立的指标端口，为空时只在 API 上暴露 /metrics。
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// TeamsConfig 指定团队定义文件。
type TeamsConfig struct {
	DefinitionFile string `yaml:"definition_file"`
}

// Path 返回应加载的配置文件路径。
func Path() string {
	if p := strings.TrimSpace(os.Getenv(EnvPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load 解析 YAML 配置。同目录下的 .env 会先被加载，${VAR} 与 ${VAR:-default} 占位符按环境变量展开。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}
	baseDir := filepath.Dir(path)

	envFile := filepath.Join(baseDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("加载 .env 失败: %w", err)
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(expandEnv(content)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(baseDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

func expandEnv(content []byte) []byte {
	return placeholder.ReplaceAllFunc(content, func(match []byte) []byte {
		groups := placeholder.FindSubmatch(match)
		if value, ok := os.LookupEnv(string(groups[1])); ok && value != "" {
			return []byte(value)
		}
		return groups[2]
	})
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 120 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	c.LLM.Provider = strings.ToLower(c.LLM.Provider)

	if c.Knowledge.Driver == "" {
		c.Knowledge.Driver = DriverMemory
	}
	c.Knowledge.SeedFile = resolve(baseDir, c.Knowledge.SeedFile)
	if c.Knowledge.MaxKeywords == 0 {
		c.Knowledge.MaxKeywords = 3
	}
	if c.Knowledge.CandidateLimit == 0 {
		c.Knowledge.CandidateLimit = 20
	}
	if c.Knowledge.TopN == 0 {
		c.Knowledge.TopN = 5
	}
	if c.Catalog.Driver == "" {
		c.Catalog.Driver = DriverMemory
	}
	c.Catalog.SeedFile = resolve(baseDir, c.Catalog.SeedFile)
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Storage.SQL.Driver == sqlstore.DriverSQLite && c.Storage.SQL.DSN != "" && !strings.HasPrefix(c.Storage.SQL.DSN, "file:") && c.Storage.SQL.DSN != ":memory:" {
		c.Storage.SQL.DSN = resolve(baseDir, c.Storage.SQL.DSN)
	}

	if c.Analysis.Queue == "" {
		c.Analysis.Queue = QueueMemory
	}
	if c.Analysis.Workers <= 0 {
		c.Analysis.Workers = 2
	}
	if c.Analysis.QueueSize <= 0 {
		c.Analysis.QueueSize = 256
	}
	if c.Analysis.PublishTimeout <= 0 {
		c.Analysis.PublishTimeout = 5 * time.Second
	}

	c.Teams.DefinitionFile = resolve(baseDir, c.Teams.DefinitionFile)

	for i, path := range c.Logging.OutputPaths {
		if path != "stdout" && path != "stderr" {
			c.Logging.OutputPaths[i] = resolve(baseDir, path)
		}
	}
	c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
}

func resolve(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// Validate 检查配置组合是否合法。
func (c *Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("llm.provider 不支持: %q", c.LLM.Provider))
	}
	switch c.Knowledge.Driver {
	case DriverMemory, DriverSQL:
	case DriverElasticsearch:
		if len(c.Knowledge.Elasticsearch.Addresses) == 0 {
			errs = append(errs, errors.New("knowledge.elasticsearch.addresses 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("knowledge.driver 不支持: %q", c.Knowledge.Driver))
	}
	if c.Knowledge.MaxKeywords < 0 || c.Knowledge.CandidateLimit < 0 || c.Knowledge.TopN < 0 {
		errs = append(errs, errors.New("knowledge.max_keywords/candidate_limit/top_n 不能为负数"))
	}
	switch c.Catalog.Driver {
	case DriverMemory, DriverSQL:
	default:
		errs = append(errs, fmt.Errorf("catalog.driver 不支持: %q", c.Catalog.Driver))
	}
	switch c.Storage.Driver {
	case DriverMemory, DriverSQL:
	default:
		errs = append(errs, fmt.Errorf("storage.driver 不支持: %q", c.Storage.Driver))
	}
	if c.UsesSQL() && strings.TrimSpace(c.Storage.SQL.DSN) == "" {
		errs = append(errs, errors.New("使用 sql 驱动时 storage.sql.dsn 不能为空"))
	}
	switch c.Analysis.Queue {
	case QueueMemory:
	case QueueRedis:
		if c.Analysis.Redis.Address == "" {
			errs = append(errs, errors.New("analysis.redis.address 不能为空"))
		}
	case QueueRabbitMQ:
		if c.Analysis.RabbitMQ.URL == "" {
			errs = append(errs, errors.New("analysis.rabbitmq.url 不能为空"))
		}
	default:
		errs = append(errs, fmt.Errorf("analysis.queue 不支持: %q", c.Analysis.Queue))
	}
	if c.Notify.SNS.Enabled && c.Notify.SNS.TopicARN == "" {
		errs = append(errs, errors.New("notify.sns.topic_arn 不能为空"))
	}
	if c.Auth.Enabled {
		if len(c.Auth.Tokens) == 0 {
			errs = append(errs, errors.New("启用鉴权时至少需要一个 token"))
		}
		for i, token := range c.Auth.Tokens {
			if strings.TrimSpace(token.Token) == "" || strings.TrimSpace(token.Subject) == "" {
				errs = append(errs, fmt.Errorf("auth.tokens[%d] 缺少 subject 或 token", i))
			}
		}
	}
	return errors.Join(errs...)
}

// UsesSQL 判断是否有组件需要 SQL 连接。
func (c *Config) UsesSQL() bool {
	return c.Storage.Driver == DriverSQL || c.Knowledge.Driver == DriverSQL || c.Catalog.Driver == DriverSQL
}
