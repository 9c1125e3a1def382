// Package config loads the YAML-declared safety and RBAC surface: error-code
// severity/retry tables, per-vendor rate-limit tiers, and operator role
// permissions.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RetryPolicy is named and referenced by error codes.
type RetryPolicy struct {
	Retryable           bool    `yaml:"retryable"`
	MaxRetries          int     `yaml:"max_retries"`
	InitialDelaySeconds float64 `yaml:"initial_delay_seconds"`
	MaxDelaySeconds     float64 `yaml:"max_delay_seconds"`
	BackoffMultiplier   float64 `yaml:"backoff_multiplier"`
}

// ErrorCode maps a vendor error code to a severity and a named retry policy.
type ErrorCode struct {
	Severity    string `yaml:"severity"`
	RetryPolicy string `yaml:"retry_policy"`
}

// RateLimitTier bounds requests per minute for a vendor.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// VendorSafety holds per-vendor overrides of the global breaker/limiter defaults.
type VendorSafety struct {
	CircuitBreaker struct {
		FailureThreshold int `yaml:"failure_threshold"`
		TimeoutSeconds   int `yaml:"timeout_seconds"`
	} `yaml:"circuit_breaker"`
	RateLimit RateLimitTier `yaml:"rate_limit"`
}

// OperatorRole names a set of permissions an operator assignment grants.
type OperatorRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Config is the full declarative safety/RBAC surface for a tenant.
type Config struct {
	Safety struct {
		CircuitBreakerThreshold      int `yaml:"circuit_breaker_threshold"`
		CircuitBreakerTimeoutSeconds int `yaml:"circuit_breaker_timeout_seconds"`
		MaxRetriesPerWorkflow        int `yaml:"max_retries_per_workflow"`
		MaxRetriesPerVendor          int `yaml:"max_retries_per_vendor"`
		RateLimitWindowSeconds       int `yaml:"rate_limit_window_seconds"`
		MaxEventsPerMinutePerTenant  int `yaml:"max_events_per_minute_per_tenant"`
		ClassifierTimeoutSeconds     int `yaml:"classifier_timeout_seconds"`
	} `yaml:"safety"`

	Redis struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`

	ErrorCodes    map[string]ErrorCode    `yaml:"error_codes"`
	RetryPolicies map[string]RetryPolicy  `yaml:"retry_policies"`
	Vendors       map[string]VendorSafety `yaml:"vendors"`
	OperatorRoles map[string]OperatorRole `yaml:"operator_roles"`
}

// Validate runs referential-integrity checks across the config sections.
func (c *Config) Validate() error {
	for code, def := range c.ErrorCodes {
		if def.RetryPolicy != "" {
			if _, ok := c.RetryPolicies[def.RetryPolicy]; !ok {
				return fmt.Errorf("error code %q references unknown retry policy %q", code, def.RetryPolicy)
			}
		}
		switch def.Severity {
		case "low", "medium", "high", "critical", "":
		default:
			return fmt.Errorf("error code %q has unknown severity %q", code, def.Severity)
		}
	}
	for name, v := range c.Vendors {
		_ = name
		if v.CircuitBreaker.FailureThreshold < 0 {
			return fmt.Errorf("vendor %q has negative circuit_breaker.failure_threshold", name)
		}
	}
	if _, ok := c.OperatorRoles["admin"]; len(c.OperatorRoles) > 0 && !ok {
		return fmt.Errorf("operator_roles must include an %q role", "admin")
	}
	return nil
}

// Default returns a config seeded with sane defaults, matching defaultTemplate.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("invalid default config template: %v", err))
	}
	return cfg
}

// FromYAML parses config bytes and validates them.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile loads and validates a config file from disk.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional loads path if it exists, otherwise returns Default().
func LoadOptional(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return FromFile(path)
}

// Load requires path to exist.
func Load(path string) (*Config, error) {
	return FromFile(path)
}

// GenerateDefault writes the default template to path, creating parent dirs.
func GenerateDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultTemplate), 0o644)
}

// Path returns the conventional config file location under a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".failsafe", "config.yaml")
}

const defaultTemplate = `
safety:
  circuit_breaker_threshold: 5
  circuit_breaker_timeout_seconds: 60
  max_retries_per_workflow: 50
  max_retries_per_vendor: 200
  rate_limit_window_seconds: 60
  max_events_per_minute_per_tenant: 600
  classifier_timeout_seconds: 10

redis:
  url: "redis://localhost:6379/0"

retry_policies:
  default:
    retryable: true
    max_retries: 3
    initial_delay_seconds: 1.0
    max_delay_seconds: 300.0
    backoff_multiplier: 2.0
  aggressive:
    retryable: true
    max_retries: 8
    initial_delay_seconds: 0.5
    max_delay_seconds: 120.0
    backoff_multiplier: 2.0
  none:
    retryable: false
    max_retries: 0
    initial_delay_seconds: 0
    max_delay_seconds: 0
    backoff_multiplier: 1.0

error_codes:
  timeout:
    severity: medium
    retry_policy: default
  connection_reset:
    severity: medium
    retry_policy: aggressive
  rate_limited:
    severity: low
    retry_policy: aggressive
  unauthorized:
    severity: high
    retry_policy: none
  internal_error:
    severity: high
    retry_policy: default
  validation_error:
    severity: low
    retry_policy: none
  payment_declined:
    severity: critical
    retry_policy: none

vendors: {}

operator_roles:
  admin:
    description: "Full control over kill switches and incident resolution"
    permissions:
      - killswitch:activate
      - killswitch:deactivate
      - incident:resolve
      - incident:ignore
  viewer:
    description: "Read-only access"
    permissions:
      - incident:read
      - action:read
`
