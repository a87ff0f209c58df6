package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	Queue    QueueConfig    `yaml:"queue"`
	Logger   LoggerConfig   `yaml:"logger"`
	Analyzer AnalyzerConfig `yaml:"analyzer"`
	Sinks    SinksConfig    `yaml:"sinks"`
	Jobs     JobsConfig     `yaml:"jobs"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // API key for ingest clients (optional, if empty, auth is disabled)
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Enabled reports whether a MySQL host is configured.
func (c MySQLConfig) Enabled() bool {
	return c.Host != ""
}

// QueueConfig queue configuration
type QueueConfig struct {
	Concurrency int    `yaml:"concurrency"`  // queue processing concurrency
	MaxRetry    int    `yaml:"max_retry"`    // maximum retry count
	TaskTimeout int    `yaml:"task_timeout"` // task timeout (seconds)
	Name        string `yaml:"name"`         // asynq queue name
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, stderr, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// AnalyzerConfig profiling analyzer configuration
type AnalyzerConfig struct {
	FrequencyMHzValue string `yaml:"frequency_mhz"`     // device clock, MHz as reported by the driver
	PlatformValue     string `yaml:"platform"`          // chip identifier
	GraphTypeFilter   bool   `yaml:"graph_type_filter"` // emit only descriptors with a real graph id
	OpTypeFilter      bool   `yaml:"op_type_filter"`    // accept aging host streams, relax model matching
	ProfileMode       string `yaml:"profile_mode"`      // "", static_shape, step_trace, single_op
	MaxBufferSize     int    `yaml:"max_buffer_size"`   // bytes kept per stream between chunks
	DeviceID          uint32 `yaml:"device_id"`
}

// FrequencyMHz implements interfaces.PlatformInfo.
func (c AnalyzerConfig) FrequencyMHz() string {
	return c.FrequencyMHzValue
}

// Platform implements interfaces.PlatformInfo.
func (c AnalyzerConfig) Platform() string {
	return c.PlatformValue
}

// SinksConfig op record sinks configuration
type SinksConfig struct {
	Enabled      []string      `yaml:"enabled"`        // redis, mysql, queue, websocket
	RedisListKey string        `yaml:"redis_list_key"` // list holding recent records
	RedisListCap int64         `yaml:"redis_list_cap"` // list is trimmed to this length
	Retention    time.Duration `yaml:"retention"`      // MySQL rows older than this are purged
	MySQLBatch   int           `yaml:"mysql_batch"`    // records per MySQL insert
}

// JobsConfig periodic jobs configuration
type JobsConfig struct {
	SamplerInterval   time.Duration `yaml:"sampler_interval"`
	RetentionInterval time.Duration `yaml:"retention_interval"`
	FlushInterval     time.Duration `yaml:"flush_interval"` // retry of failed sink writes, MySQL batch flush
}

// Defaults
const (
	DefaultPort              = 8090
	DefaultFrequencyMHz      = "1000"
	DefaultPlatform          = "CHIP_V1_1_0"
	DefaultMaxBufferSize     = 64 << 20
	DefaultQueueConcurrency  = 4
	DefaultQueueMaxRetry     = 3
	DefaultQueueTaskTimeout  = 30
	DefaultQueueName         = "op_records"
	DefaultRedisListKey      = "npuprof:records"
	DefaultRedisListCap      = 10000
	DefaultRetention         = 24 * time.Hour
	DefaultSamplerInterval   = 10 * time.Second
	DefaultRetentionInterval = 10 * time.Minute
	DefaultFlushInterval     = 5 * time.Second
	DefaultMySQLBatch        = 100
)

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := Load(configPath)
	if err != nil {
		return err
	}

	GlobalConfig = cfg
	return nil
}

// Load reads and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	validateAndApplyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	validateAndApplyDefaults(cfg)
	return cfg
}

func validateAndApplyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}

	if cfg.Analyzer.FrequencyMHzValue == "" {
		cfg.Analyzer.FrequencyMHzValue = DefaultFrequencyMHz
	}
	if cfg.Analyzer.PlatformValue == "" {
		cfg.Analyzer.PlatformValue = DefaultPlatform
	}
	if cfg.Analyzer.MaxBufferSize <= 0 {
		cfg.Analyzer.MaxBufferSize = DefaultMaxBufferSize
	}

	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = DefaultQueueConcurrency
	}
	if cfg.Queue.MaxRetry < 0 {
		cfg.Queue.MaxRetry = DefaultQueueMaxRetry
	}
	if cfg.Queue.TaskTimeout <= 0 {
		cfg.Queue.TaskTimeout = DefaultQueueTaskTimeout
	}
	if cfg.Queue.Name == "" {
		cfg.Queue.Name = DefaultQueueName
	}

	if cfg.Sinks.RedisListKey == "" {
		cfg.Sinks.RedisListKey = DefaultRedisListKey
	}
	if cfg.Sinks.RedisListCap <= 0 {
		cfg.Sinks.RedisListCap = DefaultRedisListCap
	}
	if cfg.Sinks.Retention <= 0 {
		cfg.Sinks.Retention = DefaultRetention
	}
	if cfg.Sinks.MySQLBatch <= 0 {
		cfg.Sinks.MySQLBatch = DefaultMySQLBatch
	}

	if cfg.Jobs.SamplerInterval <= 0 {
		cfg.Jobs.SamplerInterval = DefaultSamplerInterval
	}
	if cfg.Jobs.RetentionInterval <= 0 {
		cfg.Jobs.RetentionInterval = DefaultRetentionInterval
	}
	if cfg.Jobs.FlushInterval <= 0 {
		cfg.Jobs.FlushInterval = DefaultFlushInterval
	}

	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Output == "" {
		cfg.Logger.Output = "console"
	}
}
