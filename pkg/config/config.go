// Package config loads the coordination bus configuration from JSON
// with COORDBUS_* environment overrides for deployment knobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/CodingButter/team-dashboard-sub004/pkg/audit"
	"github.com/CodingButter/team-dashboard-sub004/pkg/batch"
	"github.com/CodingButter/team-dashboard-sub004/pkg/broker"
	"github.com/CodingButter/team-dashboard-sub004/pkg/handoff"
	"github.com/CodingButter/team-dashboard-sub004/pkg/ratelimit"
	"github.com/CodingButter/team-dashboard-sub004/pkg/transport"
)

// SystemConfig holds the complete bus configuration
type SystemConfig struct {
	System     SystemSettings        `json:"system"`
	Redis      transport.RedisConfig `json:"redis"`
	Broker     broker.Config         `json:"broker"`
	Handoff    handoff.Config        `json:"handoff"`
	RateLimit  ratelimit.Config      `json:"rate_limit"`
	Batch      batch.Config          `json:"batch"`
	Tiers      TierSettings          `json:"tiers"`
	Audit      AuditSettings         `json:"audit"`
	API        APISettings           `json:"api"`
	Monitoring MonitoringConfig      `json:"monitoring"`
	Logging    LoggingConfig         `json:"logging"`
}

// SystemSettings holds general system settings
type SystemSettings struct {
	Environment     string        `json:"environment"` // local, staging, production
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// TierSettings locates the subscription tier table
type TierSettings struct {
	// Path to the YAML tier table; empty uses the built-in defaults
	Path string `json:"path"`
	// Watch reloads the table when the file changes
	Watch bool `json:"watch"`
}

// AuditSettings controls the audit trail destinations
type AuditSettings struct {
	// LogEvents mirrors audit events into the structured log
	LogEvents bool `json:"log_events"`
	// KafkaEnabled ships events to the Kafka audit topic
	KafkaEnabled bool              `json:"kafka_enabled"`
	Kafka        audit.KafkaConfig `json:"kafka"`
}

// APISettings holds the HTTP API configuration
type APISettings struct {
	ListenAddress string `json:"listen_address"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	MetricsEnabled bool `json:"metrics_enabled"`
	MetricsPort    int  `json:"metrics_port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `json:"level"`  // debug, info, warn, error
	Format     string `json:"format"` // json, text
	OutputPath string `json:"output_path"`
}

// Load loads configuration from a JSON file and applies environment
// overrides on top.
func Load(path string) (*SystemConfig, error) {
	config := DefaultSystemConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	config.applyEnv()
	return &config, nil
}

// DefaultSystemConfig returns default configuration for local development
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		System: SystemSettings{
			Environment:     "local",
			ShutdownTimeout: 30 * time.Second,
		},
		Redis:     transport.DefaultRedisConfig(),
		Broker:    broker.DefaultConfig(),
		Handoff:   handoff.DefaultConfig(),
		RateLimit: ratelimit.DefaultConfig(),
		Batch:     batch.DefaultConfig(),
		Tiers:     TierSettings{Watch: true},
		Audit: AuditSettings{
			LogEvents: true,
			Kafka:     audit.DefaultKafkaConfig(),
		},
		API: APISettings{
			ListenAddress: ":8080",
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled: true,
			MetricsPort:    9090,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
	}
}

func (c *SystemConfig) applyEnv() {
	c.System.Environment = GetEnv("COORDBUS_ENVIRONMENT", c.System.Environment)
	c.Redis.Address = GetEnv("COORDBUS_REDIS_ADDRESS", c.Redis.Address)
	c.Redis.Password = GetEnv("COORDBUS_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = GetEnvInt("COORDBUS_REDIS_DB", c.Redis.DB)
	c.API.ListenAddress = GetEnv("COORDBUS_LISTEN_ADDRESS", c.API.ListenAddress)
	c.Monitoring.MetricsEnabled = GetEnvBool("COORDBUS_METRICS_ENABLED", c.Monitoring.MetricsEnabled)
	c.Monitoring.MetricsPort = GetEnvInt("COORDBUS_METRICS_PORT", c.Monitoring.MetricsPort)
	c.Logging.Level = GetEnv("COORDBUS_LOG_LEVEL", c.Logging.Level)
	c.Tiers.Path = GetEnv("COORDBUS_TIER_TABLE", c.Tiers.Path)
	c.Audit.KafkaEnabled = GetEnvBool("COORDBUS_AUDIT_KAFKA_ENABLED", c.Audit.KafkaEnabled)
	c.Batch.MaxConcurrentBatches = GetEnvInt("COORDBUS_MAX_CONCURRENT_BATCHES", c.Batch.MaxConcurrentBatches)
	c.Broker.StalenessWindow = GetEnvDuration("COORDBUS_STALENESS_WINDOW", c.Broker.StalenessWindow)
}

// GetEnv retrieves environment variable with a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt retrieves environment variable as int with a default value
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if err := json.Unmarshal([]byte(value), &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// GetEnvBool retrieves environment variable as bool with a default value
func GetEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// GetEnvDuration retrieves environment variable as a duration with a default value
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
