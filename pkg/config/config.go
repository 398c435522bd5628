package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Service names accepted by ValidateService
const (
	ServiceGateway     = "gateway"
	ServiceUser        = "user-service"
	ServiceMonitoring  = "monitoring"
	ServiceAnalytics   = "analytics"
	ServiceOptimizer   = "optimizer"
	MetricsCloudWatch  = "cloudwatch"
	MetricsPrometheus  = "prometheus"
	encryptionKeyBytes = 32
)

// Config holds application configuration
type Config struct {
	LogMode string

	// Storage
	DatabaseURL string
	RedisAddr   string

	// User service
	EncryptionKey string

	// Service endpoints
	GatewayURL           string
	UserServiceURL       string
	MonitoringServiceURL string
	AnalyticsServiceURL  string
	OptimizerServiceURL  string
	HTTPTimeout          time.Duration

	// Monitoring
	AWSRegion          string
	AWSAccessKeyID     string // fallback when the user service fails
	AWSSecretAccessKey string
	MetricsSource      string // cloudwatch, prometheus
	PrometheusURL      string
	CredentialCacheTTL time.Duration

	// Scheduler
	SchedulerEnabled       bool
	ScheduledUsers         []string
	MetricsSchedule        string
	RecommendationSchedule string

	// Gateway
	RateLimit      float64
	RateLimitBurst int

	Ports Ports

	// Output
	OutputFormat string // text, json, yaml
}

// Ports holds the listen port of every service
type Ports struct {
	Gateway     int
	UserService int
	Monitoring  int
	Analytics   int
	Optimizer   int
}

// NewConfig creates a configuration from defaults and the environment
func NewConfig() *Config {
	return fromViper(newViper())
}

// Load creates a configuration from defaults, an optional config file and
// the environment. Environment values win over the file.
func Load(configFile string) (*Config, error) {
	v := newViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}
	return fromViper(v), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("log_mode", "development")
	v.SetDefault("database_url", "host=localhost port=5432 user=costuser password=devpassword dbname=cloudops sslmode=disable")
	v.SetDefault("redis_addr", "")
	v.SetDefault("encryption_key", "")

	v.SetDefault("gateway_url", "http://localhost:3000")
	v.SetDefault("user_service_url", "http://localhost:3001")
	v.SetDefault("monitoring_service_url", "http://localhost:3002")
	v.SetDefault("analytics_service_url", "http://localhost:3008")
	v.SetDefault("optimizer_service_url", "http://localhost:3009")
	v.SetDefault("http_timeout", "10s")

	v.SetDefault("aws_region", "us-east-1")
	v.SetDefault("aws_access_key_id", "")
	v.SetDefault("aws_secret_access_key", "")
	v.SetDefault("metrics_source", MetricsCloudWatch)
	v.SetDefault("prometheus_url", "http://localhost:9090")
	v.SetDefault("credential_cache_ttl", "5m")

	v.SetDefault("scheduler_enabled", true)
	v.SetDefault("scheduled_users", "")
	v.SetDefault("metrics_schedule", "*/5 * * * *")
	v.SetDefault("recommendation_schedule", "0 9 * * *")

	v.SetDefault("rate_limit", 50.0)
	v.SetDefault("rate_limit_burst", 100)

	v.SetDefault("gateway_port", 3000)
	v.SetDefault("user_service_port", 3001)
	v.SetDefault("monitoring_port", 3002)
	v.SetDefault("analytics_port", 3008)
	v.SetDefault("optimizer_port", 3009)

	v.SetDefault("output_format", "text")
	return v
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		LogMode:                v.GetString("log_mode"),
		DatabaseURL:            v.GetString("database_url"),
		RedisAddr:              v.GetString("redis_addr"),
		EncryptionKey:          v.GetString("encryption_key"),
		GatewayURL:             v.GetString("gateway_url"),
		UserServiceURL:         v.GetString("user_service_url"),
		MonitoringServiceURL:   v.GetString("monitoring_service_url"),
		AnalyticsServiceURL:    v.GetString("analytics_service_url"),
		OptimizerServiceURL:    v.GetString("optimizer_service_url"),
		HTTPTimeout:            v.GetDuration("http_timeout"),
		AWSRegion:              v.GetString("aws_region"),
		AWSAccessKeyID:         v.GetString("aws_access_key_id"),
		AWSSecretAccessKey:     v.GetString("aws_secret_access_key"),
		MetricsSource:          strings.ToLower(v.GetString("metrics_source")),
		PrometheusURL:          v.GetString("prometheus_url"),
		CredentialCacheTTL:     v.GetDuration("credential_cache_ttl"),
		SchedulerEnabled:       v.GetBool("scheduler_enabled"),
		ScheduledUsers:         splitList(v.GetString("scheduled_users")),
		MetricsSchedule:        v.GetString("metrics_schedule"),
		RecommendationSchedule: v.GetString("recommendation_schedule"),
		RateLimit:              v.GetFloat64("rate_limit"),
		RateLimitBurst:         v.GetInt("rate_limit_burst"),
		Ports: Ports{
			Gateway:     v.GetInt("gateway_port"),
			UserService: v.GetInt("user_service_port"),
			Monitoring:  v.GetInt("monitoring_port"),
			Analytics:   v.GetInt("analytics_port"),
			Optimizer:   v.GetInt("optimizer_port"),
		},
		OutputFormat: v.GetString("output_format"),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	if c.MetricsSource != MetricsCloudWatch && c.MetricsSource != MetricsPrometheus {
		return fmt.Errorf("unknown METRICS_SOURCE %q (want %s or %s)", c.MetricsSource, MetricsCloudWatch, MetricsPrometheus)
	}
	if c.MetricsSource == MetricsPrometheus && c.PrometheusURL == "" {
		return fmt.Errorf("PROMETHEUS_URL must be set when METRICS_SOURCE is prometheus")
	}
	if c.SchedulerEnabled && (c.MetricsSchedule == "" || c.RecommendationSchedule == "") {
		return fmt.Errorf("schedules must be set when the scheduler is enabled")
	}
	return nil
}

// ValidateService checks the settings a single service needs on top of Validate
func (c *Config) ValidateService(service string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	switch service {
	case ServiceUser:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for %s", service)
		}
		if len(c.EncryptionKey) != encryptionKeyBytes {
			return fmt.Errorf("ENCRYPTION_KEY must be exactly %d bytes, got %d", encryptionKeyBytes, len(c.EncryptionKey))
		}
	case ServiceAnalytics, ServiceOptimizer:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set for %s", service)
		}
	case ServiceGateway:
		if c.RateLimit <= 0 || c.RateLimitBurst <= 0 {
			return fmt.Errorf("RATE_LIMIT and RATE_LIMIT_BURST must be positive")
		}
	case ServiceMonitoring:
	default:
		return fmt.Errorf("unknown service %q", service)
	}
	return nil
}
