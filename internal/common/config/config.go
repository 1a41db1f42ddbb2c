// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main application configuration struct.
type Config struct {
	App        AppConfig               `mapstructure:"app"`
	Camunda    CamundaConfig           `mapstructure:"camunda"`
	Redis      RedisConfig             `mapstructure:"redis"`
	Scheduling SchedulingConfig        `mapstructure:"scheduling"`
	Workers    map[string]WorkerConfig `mapstructure:"workers"`
	Logging    LoggingConfig           `mapstructure:"logging"`
	Server     ServerConfig            `mapstructure:"server"`
	Tracing    TracingConfig           `mapstructure:"tracing"`
	Catalog    CatalogConfig           `mapstructure:"catalog"`
	AWS        AWSConfig               `mapstructure:"aws"`
	Postgres   PostgresConfig          `mapstructure:"postgres"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress          string `mapstructure:"broker_address"`
	UsePlaintextConnection bool   `mapstructure:"use_plaintext"`
	MaxJobsActive          int    `mapstructure:"max_jobs_active"`
	Timeout                int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout         int    `mapstructure:"request_timeout"` // milliseconds
	MaxRetries             int    `mapstructure:"max_retries"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SchedulingConfig controls discovery and the schedule lifecycle manager.
type SchedulingConfig struct {
	// DefaultTaskQueue is the last fallback when neither the schedule nor its
	// owning component declares a task queue.
	DefaultTaskQueue string `mapstructure:"default_task_queue"`
	// AutoSetup runs bulk schedule setup at startup.
	AutoSetup bool `mapstructure:"auto_setup"`
	// RetryInterval re-runs failed setups periodically; 0 disables it. Milliseconds.
	RetryInterval int `mapstructure:"retry_interval"`
	// AllowList restricts discovery to these component types (pkgpath.Name).
	AllowList []string `mapstructure:"allow_list"`
	// KeyPrefix namespaces schedule records in Redis.
	KeyPrefix string `mapstructure:"key_prefix"`
	// Timezone is the default IANA timezone for cron schedules.
	Timezone string `mapstructure:"timezone"`
	// FireLockTTL bounds how long one fire holds its cross-replica lock. Milliseconds.
	FireLockTTL int `mapstructure:"fire_lock_ttl"`
}

// WorkerConfig holds the job worker settings for one activity.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ServerConfig holds the admin/health HTTP server settings.
type ServerConfig struct {
	Address         string `mapstructure:"address"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // milliseconds
}

// TracingConfig enables span export to Jaeger.
type TracingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// CatalogConfig controls the discovered-components catalog file.
type CatalogConfig struct {
	Path  string `mapstructure:"path"`
	Write bool   `mapstructure:"write"`
}

// PostgresConfig enables the schedule fire history.
type PostgresConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// AWSConfig holds the optional SNS alert topic and SES digest sender.
type AWSConfig struct {
	Region string `mapstructure:"region"`
	SES    struct {
		Enabled   bool     `mapstructure:"enabled"`
		FromEmail string   `mapstructure:"from_email"`
		DigestTo  []string `mapstructure:"digest_to"`
	} `mapstructure:"ses"`
	SNS struct {
		Enabled       bool   `mapstructure:"enabled"`
		AlertTopicARN string `mapstructure:"alert_topic_arn"`
	} `mapstructure:"sns"`
}

// RequestTimeoutDuration returns the Zeebe request timeout as a duration.
func (c CamundaConfig) RequestTimeoutDuration() time.Duration {
	return GetDuration(c.RequestTimeout)
}
