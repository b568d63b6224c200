package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	DLQ      DLQConfig      `yaml:"dlq"`
	Auth     AuthConfig     `yaml:"auth"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Email    EmailConfig    `yaml:"email"`
	Intake   IntakeConfig   `yaml:"intake"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RedisConfig holds the metrics cache connection
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RabbitMQConfig holds RabbitMQ connection settings and the two topologies
// the service uses: the failed-job intake queue and the mail exchange
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Intake     TopologyConfig   `yaml:"intake"`
	Mail       TopologyConfig   `yaml:"mail"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// TopologyConfig names an exchange and, for consumers, a bound queue
type TopologyConfig struct {
	Exchange     string `yaml:"exchange"`
	ExchangeType string `yaml:"exchange_type"`
	Queue        string `yaml:"queue"`
	RoutingKey   string `yaml:"routing_key"`
	Durable      bool   `yaml:"durable"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// DLQConfig tunes the retry scheduler, processor and metrics recorder
type DLQConfig struct {
	BaseDelay          time.Duration `yaml:"base_delay"`
	MaxDelay           time.Duration `yaml:"max_delay"`
	DefaultMaxAttempts int           `yaml:"default_max_attempts"`
	BatchSize          int           `yaml:"batch_size"`
	MaxReportedErrors  int           `yaml:"max_reported_errors"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	SweepTimeout       time.Duration `yaml:"sweep_timeout"`
	StoreTimeout       time.Duration `yaml:"store_timeout"`
	AlertThreshold     int           `yaml:"alert_threshold"`
	SnapshotTTL        time.Duration `yaml:"snapshot_ttl"`
	AlertTTL           time.Duration `yaml:"alert_ttl"`
}

// AuthConfig holds bearer secrets for the HTTP surfaces
type AuthConfig struct {
	CronSecret string `yaml:"cron_secret"`
	APIToken   string `yaml:"api_token"`
}

// AnalysisConfig configures the analysis job handler
type AnalysisConfig struct {
	URL              string        `yaml:"url"`
	Timeout          time.Duration `yaml:"timeout"`
	BreakerFailures  uint32        `yaml:"breaker_failures"`
	BreakerOpenDelay time.Duration `yaml:"breaker_open_delay"`
	RateLimit        float64       `yaml:"rate_limit"`
	RateBurst        int           `yaml:"rate_burst"`
}

// EmailConfig configures the email job handler
type EmailConfig struct {
	RoutingKey string `yaml:"routing_key"`
}

// IntakeConfig configures the failed-job consumer
type IntakeConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads the configuration file, applies defaults and environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RabbitMQ.Connection.RetryAttempts <= 0 {
		c.RabbitMQ.Connection.RetryAttempts = 5
	}
	if c.RabbitMQ.Connection.RetryInterval <= 0 {
		c.RabbitMQ.Connection.RetryInterval = 2 * time.Second
	}
	if c.RabbitMQ.Publish.RetryAttempts <= 0 {
		c.RabbitMQ.Publish.RetryAttempts = 3
	}
	if c.DLQ.BaseDelay <= 0 {
		c.DLQ.BaseDelay = 30 * time.Second
	}
	if c.DLQ.MaxDelay <= 0 {
		c.DLQ.MaxDelay = time.Hour
	}
	if c.DLQ.DefaultMaxAttempts <= 0 {
		c.DLQ.DefaultMaxAttempts = 3
	}
	if c.DLQ.BatchSize <= 0 {
		c.DLQ.BatchSize = 50
	}
	if c.DLQ.MaxReportedErrors <= 0 {
		c.DLQ.MaxReportedErrors = 10
	}
	if c.DLQ.HeartbeatInterval <= 0 {
		c.DLQ.HeartbeatInterval = 30 * time.Second
	}
	if c.DLQ.StaleAfter <= 0 {
		c.DLQ.StaleAfter = 15 * time.Minute
	}
	if c.DLQ.SweepTimeout <= 0 {
		c.DLQ.SweepTimeout = 5 * time.Minute
	}
	if c.DLQ.StoreTimeout <= 0 {
		c.DLQ.StoreTimeout = 10 * time.Second
	}
	if c.DLQ.AlertThreshold <= 0 {
		c.DLQ.AlertThreshold = 5
	}
	if c.DLQ.SnapshotTTL <= 0 {
		c.DLQ.SnapshotTTL = 5 * time.Minute
	}
	if c.DLQ.AlertTTL <= 0 {
		c.DLQ.AlertTTL = time.Hour
	}
	if c.Analysis.Timeout <= 0 {
		c.Analysis.Timeout = 30 * time.Second
	}
	if c.Analysis.BreakerFailures == 0 {
		c.Analysis.BreakerFailures = 5
	}
	if c.Analysis.BreakerOpenDelay <= 0 {
		c.Analysis.BreakerOpenDelay = time.Minute
	}
	if c.Intake.Concurrency <= 0 {
		c.Intake.Concurrency = 4
	}
	if c.Intake.ShutdownTimeout <= 0 {
		c.Intake.ShutdownTimeout = 30 * time.Second
	}
}

// applyEnv lets deployments keep secrets and addresses out of the YAML file
func (c *Config) applyEnv() error {
	stringVars := map[string]*string{
		"CRON_SECRET":       &c.Auth.CronSecret,
		"API_TOKEN":         &c.Auth.APIToken,
		"DATABASE_HOST":     &c.Database.Host,
		"DATABASE_PASSWORD": &c.Database.Password,
		"REDIS_ADDR":        &c.Redis.Addr,
		"REDIS_PASSWORD":    &c.Redis.Password,
		"RABBITMQ_HOST":     &c.RabbitMQ.Host,
		"RABBITMQ_PASSWORD": &c.RabbitMQ.Password,
		"ANALYSIS_API_URL":  &c.Analysis.URL,
		"LOG_LEVEL":         &c.Logging.Level,
	}
	for name, target := range stringVars {
		if v, ok := os.LookupEnv(name); ok {
			*target = v
		}
	}

	if v, ok := os.LookupEnv("PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}

	return nil
}

// Validate checks settings shared by every binary
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.DLQ.MaxDelay < c.DLQ.BaseDelay {
		return fmt.Errorf("dlq max_delay (%s) must not be below base_delay (%s)", c.DLQ.MaxDelay, c.DLQ.BaseDelay)
	}

	if c.DLQ.StaleAfter <= c.DLQ.HeartbeatInterval {
		return fmt.Errorf("dlq stale_after (%s) must exceed heartbeat_interval (%s)", c.DLQ.StaleAfter, c.DLQ.HeartbeatInterval)
	}

	return nil
}

// ValidateAPIConfig checks the settings needed by the api-service
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	// a sweep may overrun its deadline by one outcome write and the stats read
	if budget := c.DLQ.SweepTimeout + 2*c.DLQ.StoreTimeout; c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= budget {
		return fmt.Errorf("server write_timeout (%s) must exceed dlq sweep_timeout plus two store_timeout (%s)", c.Server.WriteTimeout, budget)
	}

	if c.Auth.CronSecret == "" {
		return fmt.Errorf("auth cron_secret is required (set CRON_SECRET)")
	}

	if c.Auth.APIToken == "" {
		return fmt.Errorf("auth api_token is required (set API_TOKEN)")
	}

	return c.validateHandlers()
}

// ValidateWorkerConfig checks the settings needed by the intake worker-service
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.RabbitMQ.Intake.Exchange == "" || c.RabbitMQ.Intake.Queue == "" {
		return fmt.Errorf("rabbitmq intake exchange and queue are required")
	}

	if c.Intake.Concurrency <= 0 {
		return fmt.Errorf("intake concurrency must be greater than 0")
	}

	return nil
}

// ValidateProcessorConfig checks the settings needed to run a sweep in-process
func (c *Config) ValidateProcessorConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}
	return c.validateHandlers()
}

func (c *Config) validateHandlers() error {
	if c.Analysis.URL == "" {
		return fmt.Errorf("analysis url is required (set ANALYSIS_API_URL)")
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.RabbitMQ.Mail.Exchange == "" {
		return fmt.Errorf("rabbitmq mail exchange is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	return nil
}
