package config

import (
	"time"
)

type Config struct {
	Bridge         BridgeConfig
	Filtering      FilteringConfig
	Database       DatabaseConfig
	Bus            BusConfig
	Server         ServerConfig
	Logging        LoggingConfig
	RateLimit      RateLimitConfig
	CircuitBreaker CircuitBreakerConfig
	Events         EventsConfig
}

type BridgeConfig struct {
	Links           []LinkConfig   `mapstructure:"links"`
	MessageTracking TrackingConfig `mapstructure:"message_tracking"`
}

type LinkConfig struct {
	Name               string `mapstructure:"name"`
	Addr               string `mapstructure:"addr"`
	SendTimeoutSeconds int    `mapstructure:"send_timeout_seconds"`
}

type TrackingConfig struct {
	MaxAgeMinutes int `mapstructure:"max_age_minutes"`
	MaxMessages   int `mapstructure:"max_messages"`
}

type FilteringConfig struct {
	Enabled         bool                `mapstructure:"enabled"`
	AllowedSenders  []string            `mapstructure:"allowed_senders"`
	BlockedSenders  []string            `mapstructure:"blocked_senders"`
	AllowedChannels []int               `mapstructure:"allowed_channels"`
	BlockedChannels []int               `mapstructure:"blocked_channels"`
	Content         ContentFilterConfig `mapstructure:"content"`
	CustomRules     []RuleConfig        `mapstructure:"custom_rules"`
}

type ContentFilterConfig struct {
	Keywords      []string `mapstructure:"keywords"`
	RegexPatterns []string `mapstructure:"regex_patterns"`
}

type RuleConfig struct {
	Name     string `mapstructure:"name"`
	Kind     string `mapstructure:"kind"`
	Pattern  string `mapstructure:"pattern"`
	Action   string `mapstructure:"action"`
	Priority int    `mapstructure:"priority"`
}

type DatabaseConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	Postgres      PostgresConfig `mapstructure:"postgres"`
	RetentionDays int            `mapstructure:"retention_days"`
	RunMigrations bool           `mapstructure:"run_migrations"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type BusConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	Kafka   KafkaConfig `mapstructure:"kafka"`
	Retry   RetryConfig `mapstructure:"retry"`
}

type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	GroupID       string   `mapstructure:"group_id"`
	MessagesTopic string   `mapstructure:"messages_topic"`
	CommandsTopic string   `mapstructure:"commands_topic"`
	StatsTopic    string   `mapstructure:"stats_topic"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}
