package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"care-dispatch/internal/models"

	"github.com/spf13/viper"
)

// Config holds all configuration for the dispatch services.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Email         EmailConfig         `mapstructure:"email"`
	Assignment    AssignmentConfig    `mapstructure:"assignment"`
	Collection    CollectionConfig    `mapstructure:"collection"`
	Lab           LabConfig           `mapstructure:"lab"`
	Escalation    EscalationConfig    `mapstructure:"escalation"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	LogLevel      string              `mapstructure:"log_level"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig selects the store. An empty Host means the in-memory store.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type KafkaConfig struct {
	Brokers           []string `mapstructure:"brokers"`
	NotificationTopic string   `mapstructure:"notification_topic"`
	WorkItemTopic     string   `mapstructure:"work_item_topic"`
	GroupID           string   `mapstructure:"group_id"`
}

type EmailConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Region      string `mapstructure:"region"`
	FromAddress string `mapstructure:"from_address"`
	OpsAddress  string `mapstructure:"ops_address"`
}

type AssignmentConfig struct {
	SLALow     time.Duration `mapstructure:"sla_low"`
	SLAMedium  time.Duration `mapstructure:"sla_medium"`
	SLAHigh    time.Duration `mapstructure:"sla_high"`
	MaxBounces int           `mapstructure:"max_bounces"`
}

type CollectionConfig struct {
	FastingHours float64 `mapstructure:"fasting_hours"`
	MaxAttempts  int     `mapstructure:"max_attempts"`
}

type LabConfig struct {
	ResultTurnaround    time.Duration `mapstructure:"result_turnaround"`
	EscalationThreshold time.Duration `mapstructure:"escalation_threshold"`
	CriticalAckWindow   time.Duration `mapstructure:"critical_ack_window"`
}

type EscalationConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	LabInterval time.Duration `mapstructure:"lab_interval"`
}

type NotificationsConfig struct {
	QueueSize    int    `mapstructure:"queue_size"`
	OpsRecipient string `mapstructure:"ops_recipient"`
}

type MonitoringConfig struct {
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
}

// TracingConfig picks the span exporter: "none" or "stdout".
type TracingConfig struct {
	Exporter    string `mapstructure:"exporter"`
	ServiceName string `mapstructure:"service_name"`
}

// Load reads configuration from path (optional), CARE_* environment
// variables and defaults, in increasing order of precedence for env.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("care")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/care-dispatch")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "care_dispatch")
	v.SetDefault("database.user", "care")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.notification_topic", "care-notifications")
	v.SetDefault("kafka.work_item_topic", "care-work-items")
	v.SetDefault("kafka.group_id", "care-dispatch-listener")

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.region", "us-east-2")

	v.SetDefault("assignment.sla_low", models.SLALow)
	v.SetDefault("assignment.sla_medium", models.SLAMedium)
	v.SetDefault("assignment.sla_high", models.SLAHigh)
	v.SetDefault("assignment.max_bounces", models.MaxBounces)

	v.SetDefault("collection.fasting_hours", 8.0)
	v.SetDefault("collection.max_attempts", 2)

	v.SetDefault("lab.result_turnaround", models.LabResultTurnaround)
	v.SetDefault("lab.escalation_threshold", models.LabEscalationThreshold)
	v.SetDefault("lab.critical_ack_window", models.LabCriticalAckWindow)

	v.SetDefault("escalation.interval", 5*time.Minute)
	v.SetDefault("escalation.lab_interval", 15*time.Minute)

	v.SetDefault("notifications.queue_size", 256)
	v.SetDefault("notifications.ops_recipient", "ops")

	v.SetDefault("monitoring.metrics_path", "/metrics")
	v.SetDefault("monitoring.health_path", "/health")

	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.service_name", "care-dispatch")

	v.SetDefault("log_level", "info")
}

// Validate rejects settings the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Assignment.SLALow <= 0 || c.Assignment.SLAMedium <= 0 || c.Assignment.SLAHigh <= 0 {
		return errors.New("assignment SLA windows must be positive")
	}
	if c.Assignment.MaxBounces < 0 {
		return fmt.Errorf("invalid max bounces: %d", c.Assignment.MaxBounces)
	}
	if c.Collection.MaxAttempts <= 0 {
		return fmt.Errorf("invalid collection max attempts: %d", c.Collection.MaxAttempts)
	}
	if c.Escalation.Interval <= 0 {
		return errors.New("escalation interval must be positive")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("unknown tracing exporter: %q", c.Tracing.Exporter)
	}
	if c.Email.Enabled && c.Email.FromAddress == "" {
		return errors.New("email.from_address is required when email is enabled")
	}
	return nil
}

// SLAWindows returns the assignment deadline width per risk tier.
func (a AssignmentConfig) SLAWindows() map[models.RiskTier]time.Duration {
	return map[models.RiskTier]time.Duration{
		models.RiskLow:    a.SLALow,
		models.RiskMedium: a.SLAMedium,
		models.RiskHigh:   a.SLAHigh,
	}
}

// DSN builds the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}
