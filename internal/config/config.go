// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig       `yaml:"app"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Grid      GridConfig      `yaml:"grid"`
	Timing    TimingConfig    `yaml:"timing"`
	Store     StoreConfig     `yaml:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Notify    NotifyConfig    `yaml:"notify"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	LogLevel      string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	HTTPAddr      string `yaml:"http_addr" validate:"required"`
	EncryptionKey Secret `yaml:"encryption_key" validate:"required"` // AES-GCM key sealing users.api_key/api_secret at rest
}

// ExchangeConfig configures the single centralized spot exchange adapter
// every user's credentials are dispatched through.
type ExchangeConfig struct {
	Name              string  `yaml:"name" validate:"required,oneof=mexc_spot fake"`
	BaseURL           string  `yaml:"base_url"` // optional override for API URL
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"required,min=0.1,max=100"`
}

// GridConfig bounds every bot's grid size and minimum investment.
// ProfitNotifyPercent is loaded and validated but not read by the Order
// Monitor, whose milestone step is its own fixed 5%.
type GridConfig struct {
	MaxGridLevels       int    `yaml:"max_grid_levels" validate:"required,min=2"`
	MinGridLevels       int    `yaml:"min_grid_levels" validate:"required,min=2"`
	MinInvestmentUSDT   string `yaml:"min_investment_usdt" validate:"required"`
	ProfitNotifyPercent int    `yaml:"profit_notify_percent" validate:"required,min=1,max=100"`
}

// TimingConfig contains the monitor/health-checker poll intervals.
// HealthCheckIntervalSeconds schedules the health sweep;
// OrderCheckIntervalSeconds is loaded and validated but not read by the
// Order Monitor, which polls at its own fixed 10s interval.
type TimingConfig struct {
	OrderCheckIntervalSeconds  int `yaml:"order_check_interval_seconds" validate:"required,min=1,max=3600"`
	HealthCheckIntervalSeconds int `yaml:"health_check_interval_seconds" validate:"required,min=1,max=86400"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver" validate:"required,oneof=sqlite postgres"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// NotifyConfig configures the notification sinks beyond the always-on
// log sink (internal/notify).
type NotifyConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	WebhookTimeout int    `yaml:"webhook_timeout_seconds"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Load reads configuration from a YAML file with environment variable
// expansion and validates it.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateAppConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateExchangeConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateGridConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateTimingConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateStoreConfig(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateAppConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		return ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	if c.App.HTTPAddr == "" {
		return ValidationError{Field: "app.http_addr", Message: "required"}
	}
	if c.App.EncryptionKey == "" {
		return ValidationError{Field: "app.encryption_key", Message: "required"}
	}
	return nil
}

func (c *Config) validateExchangeConfig() error {
	validExchanges := []string{"mexc_spot", "fake"}
	if !contains(validExchanges, c.Exchange.Name) {
		return ValidationError{
			Field:   "exchange.name",
			Value:   c.Exchange.Name,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validExchanges, ", ")),
		}
	}
	if c.Exchange.RequestsPerSecond <= 0 {
		return ValidationError{
			Field:   "exchange.requests_per_second",
			Value:   c.Exchange.RequestsPerSecond,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateGridConfig() error {
	if c.Grid.MinGridLevels < 2 || c.Grid.MinGridLevels%2 != 0 {
		return ValidationError{
			Field:   "grid.min_grid_levels",
			Value:   c.Grid.MinGridLevels,
			Message: "must be an even number >= 2",
		}
	}
	if c.Grid.MaxGridLevels < c.Grid.MinGridLevels {
		return ValidationError{
			Field:   "grid.max_grid_levels",
			Value:   c.Grid.MaxGridLevels,
			Message: "must be >= min_grid_levels",
		}
	}
	if c.Grid.ProfitNotifyPercent <= 0 {
		return ValidationError{
			Field:   "grid.profit_notify_percent",
			Value:   c.Grid.ProfitNotifyPercent,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateTimingConfig() error {
	if c.Timing.OrderCheckIntervalSeconds <= 0 {
		return ValidationError{Field: "timing.order_check_interval_seconds", Message: "must be positive"}
	}
	if c.Timing.HealthCheckIntervalSeconds <= 0 {
		return ValidationError{Field: "timing.health_check_interval_seconds", Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateStoreConfig() error {
	if !contains([]string{"sqlite", "postgres"}, c.Store.Driver) {
		return ValidationError{
			Field:   "store.driver",
			Value:   c.Store.Driver,
			Message: "must be one of: sqlite, postgres",
		}
	}
	if c.Store.DSN == "" {
		return ValidationError{Field: "store.dsn", Message: "required"}
	}
	return nil
}

// String returns a string representation of the configuration (secrets
// self-redact via Secret.MarshalYAML, nothing to mask here).
func (c *Config) String() string {
	data, _ := yaml.Marshal(*c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Default returns a configuration suitable for local development against
// the fake exchange.
func Default() *Config {
	return &Config{
		App: AppConfig{
			LogLevel:      "INFO",
			HTTPAddr:      ":8080",
			EncryptionKey: "dev-only-32-byte-placeholder-key",
		},
		Exchange: ExchangeConfig{
			Name:              "fake",
			RequestsPerSecond: 10,
		},
		Grid: GridConfig{
			MaxGridLevels:       200,
			MinGridLevels:       2,
			MinInvestmentUSDT:   "10",
			ProfitNotifyPercent: 5,
		},
		Timing: TimingConfig{
			OrderCheckIntervalSeconds:  10,
			HealthCheckIntervalSeconds: 300,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "gridcore.db",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}
