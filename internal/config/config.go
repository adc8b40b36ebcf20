package config

import (
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/foxzi/reengage/internal/ipfilter"
)

// Config is the main configuration structure
type Config struct {
	API       APIConfig       `yaml:"api"`
	Database  DatabaseConfig  `yaml:"database"`
	Queue     QueueConfig     `yaml:"queue"`
	DLQ       DLQConfig       `yaml:"dlq"` // Dead Letter Queue configuration
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Campaign  CampaignConfig  `yaml:"campaign"`
	Stats     StatsConfig     `yaml:"stats"`
	Push      PushConfig      `yaml:"push"`
	Lock      LockConfig      `yaml:"lock"`
	Metrics   MetricsConfig   `yaml:"metrics"` // Prometheus metrics configuration
	Logging   LoggingConfig   `yaml:"logging"`
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	Enabled        *bool         `yaml:"enabled"` // Default: true
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	APIKeyHash     string        `yaml:"api_key_hash"`     // bcrypt hash, see 'reengage apikey hash'
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 60s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	AllowedIPs     []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to access API (empty = allow all)
	TrustProxy     bool          `yaml:"trust_proxy"`      // Read client IP from X-Forwarded-For
}

// IsEnabled reports whether the HTTP API should be served
func (c APIConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// DatabaseConfig contains sqlite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig contains job queue and processor settings
type QueueConfig struct {
	Path            string          `yaml:"path"`
	Workers         int             `yaml:"workers"`
	MaxAttempts     int             `yaml:"max_attempts"`
	Backoff         time.Duration   `yaml:"backoff"`     // First retry delay, doubled on each attempt
	MaxBackoff      time.Duration   `yaml:"max_backoff"` // Cap for the retry delay
	ProcessInterval time.Duration   `yaml:"process_interval"`
	HandleTimeout   time.Duration   `yaml:"handle_timeout"`
	RateLimit       float64         `yaml:"rate_limit"` // Jobs per second, 0 = unlimited
	RateBurst       int             `yaml:"rate_burst"`
	Retention       RetentionConfig `yaml:"retention"`
}

// RetentionConfig controls recovery of jobs stuck in sending state
type RetentionConfig struct {
	StaleAfter    time.Duration `yaml:"stale_after"`    // Requeue sending jobs older than this (0 = never)
	CheckInterval time.Duration `yaml:"check_interval"` // How often to look for stale jobs
}

// DLQConfig contains Dead Letter Queue settings
type DLQConfig struct {
	MaxAge          time.Duration `yaml:"max_age"`          // Delete DLQ jobs older than this (0 = keep forever)
	MaxCount        int           `yaml:"max_count"`        // Max jobs in DLQ (0 = unlimited)
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // How often to run DLQ cleanup
}

// SchedulerConfig contains run trigger settings
type SchedulerConfig struct {
	Enabled     *bool  `yaml:"enabled"`      // Default: true
	Cron        string `yaml:"cron"`         // Default: 0 10 * * *
	RunOnStart  bool   `yaml:"run_on_start"` // Run once when the server starts
	Concurrency int    `yaml:"concurrency"`  // Users processed in parallel
	MetricsCron string `yaml:"metrics_cron"` // Daily metrics row, default: 55 23 * * *
}

// IsEnabled reports whether the cron trigger should run
func (c SchedulerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// AnalyzerConfig contains inactivity thresholds
type AnalyzerConfig struct {
	MinDaysInactive   int `yaml:"min_days_inactive"`
	MinCompletedSteps int `yaml:"min_completed_steps"`
	MaxAnalysisDays   int `yaml:"max_analysis_days"`
}

// CampaignConfig contains campaign settings
type CampaignConfig struct {
	// Intervals maps a level to days after the last activity, e.g. {1: 5, 2: 12}
	Intervals map[int]int `yaml:"intervals"`
}

// StatsConfig contains platform stats cache settings
type StatsConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// PushConfig contains delivery transport settings
type PushConfig struct {
	Mode         string        `yaml:"mode"` // log, webhook
	WebhookURL   string        `yaml:"webhook_url"`
	WebhookToken string        `yaml:"webhook_token"`
	Timeout      time.Duration `yaml:"timeout"`
}

// LockConfig contains run lock settings. Without redis_addr the lock is
// process-local.
type LockConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Key           string        `yaml:"key"`
	TTL           time.Duration `yaml:"ttl"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		// Manual scheduler runs answer synchronously
		c.API.WriteTimeout = 60 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/reengage/reengage.db"
	}

	if c.Queue.Path == "" {
		c.Queue.Path = "/var/lib/reengage/queue.db"
	}
	if c.Queue.Workers == 0 {
		c.Queue.Workers = 4
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}
	if c.Queue.Backoff == 0 {
		c.Queue.Backoff = time.Second
	}
	if c.Queue.MaxBackoff == 0 {
		c.Queue.MaxBackoff = 5 * time.Minute
	}
	if c.Queue.ProcessInterval == 0 {
		c.Queue.ProcessInterval = 5 * time.Second
	}
	if c.Queue.HandleTimeout == 0 {
		c.Queue.HandleTimeout = time.Minute
	}
	if c.Queue.Retention.StaleAfter == 0 {
		c.Queue.Retention.StaleAfter = 15 * time.Minute
	}
	if c.Queue.Retention.CheckInterval == 0 {
		c.Queue.Retention.CheckInterval = 5 * time.Minute
	}

	// DLQ defaults
	if c.DLQ.MaxCount == 0 {
		c.DLQ.MaxCount = 50
	}
	if c.DLQ.CleanupInterval == 0 {
		c.DLQ.CleanupInterval = time.Hour
	}

	if c.Scheduler.Cron == "" {
		c.Scheduler.Cron = "0 10 * * *"
	}
	if c.Scheduler.Concurrency == 0 {
		c.Scheduler.Concurrency = 4
	}
	if c.Scheduler.MetricsCron == "" {
		c.Scheduler.MetricsCron = "55 23 * * *"
	}

	if c.Analyzer.MinDaysInactive == 0 {
		c.Analyzer.MinDaysInactive = 5
	}
	if c.Analyzer.MinCompletedSteps == 0 {
		c.Analyzer.MinCompletedSteps = 2
	}
	if c.Analyzer.MaxAnalysisDays == 0 {
		c.Analyzer.MaxAnalysisDays = 60
	}

	if c.Stats.CacheTTL == 0 {
		c.Stats.CacheTTL = time.Hour
	}

	if c.Push.Mode == "" {
		c.Push.Mode = "log"
	}
	if c.Push.Timeout == 0 {
		c.Push.Timeout = 10 * time.Second
	}

	if c.Lock.Key == "" {
		c.Lock.Key = "reengage:scheduler"
	}
	if c.Lock.TTL == 0 {
		c.Lock.TTL = 10 * time.Minute
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Queue.Workers < 0 {
		return fmt.Errorf("queue.workers must not be negative")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("queue.max_attempts must be at least 1")
	}
	if c.Queue.MaxBackoff < c.Queue.Backoff {
		return fmt.Errorf("queue.max_backoff must not be less than queue.backoff")
	}
	if c.Queue.RateLimit < 0 {
		return fmt.Errorf("queue.rate_limit must not be negative")
	}

	if err := c.validateScheduler(); err != nil {
		return err
	}

	if err := c.validateCampaign(); err != nil {
		return err
	}

	if err := c.validatePush(); err != nil {
		return err
	}

	if err := ipfilter.Validate(c.API.AllowedIPs); err != nil {
		return fmt.Errorf("api.allowed_ips: %w", err)
	}
	if err := ipfilter.Validate(c.Metrics.AllowedIPs); err != nil {
		return fmt.Errorf("metrics.allowed_ips: %w", err)
	}

	if c.API.IsEnabled() && c.API.APIKey == "" && c.API.APIKeyHash == "" && len(c.API.AllowedIPs) == 0 {
		return fmt.Errorf("api requires api_key, api_key_hash or allowed_ips")
	}

	return nil
}

// validateScheduler validates cron expressions
func (c *Config) validateScheduler() error {
	if _, err := cron.ParseStandard(c.Scheduler.Cron); err != nil {
		return fmt.Errorf("invalid scheduler.cron %q: %w", c.Scheduler.Cron, err)
	}
	if _, err := cron.ParseStandard(c.Scheduler.MetricsCron); err != nil {
		return fmt.Errorf("invalid scheduler.metrics_cron %q: %w", c.Scheduler.MetricsCron, err)
	}
	if c.Scheduler.Concurrency < 0 {
		return fmt.Errorf("scheduler.concurrency must not be negative")
	}
	return nil
}

// validateCampaign checks that level intervals grow with the level
func (c *Config) validateCampaign() error {
	prev := 0
	for level := 1; level <= 4; level++ {
		days, ok := c.Campaign.Intervals[level]
		if !ok {
			continue
		}
		if days <= prev {
			return fmt.Errorf("campaign.intervals: level %d must be later than the previous level", level)
		}
		prev = days
	}
	for level := range c.Campaign.Intervals {
		if level < 1 || level > 4 {
			return fmt.Errorf("campaign.intervals: unknown level %d (must be 1-4)", level)
		}
	}
	return nil
}

// validatePush validates the delivery transport
func (c *Config) validatePush() error {
	switch c.Push.Mode {
	case "log":
		return nil
	case "webhook":
		if c.Push.WebhookURL == "" {
			return fmt.Errorf("push.webhook_url is required when push.mode is webhook")
		}
		return nil
	default:
		return fmt.Errorf("invalid push.mode: %s (must be log or webhook)", c.Push.Mode)
	}
}
