// Package config loads the worker configuration from defaults, an optional
// YAML file and environment variable overrides, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the full worker configuration.
type Config struct {
	Environment Environment `yaml:"environment" validate:"required,oneof=development staging production"`
	DevMode     bool        `yaml:"dev_mode"`

	Storage   Storage   `yaml:"storage"`
	GC        GC        `yaml:"gc"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Quota     Quota     `yaml:"quota"`
	Breaker   Breaker   `yaml:"breaker"`
	Signing   Signing   `yaml:"signing"`
	Events    Events    `yaml:"events"`
	Metrics   Metrics   `yaml:"metrics"`
	Logging   Logging   `yaml:"logging"`
}

// Storage selects and configures the persistence backend.
type Storage struct {
	Backend string `yaml:"backend" validate:"required,oneof=memory bolt redis dynamo sqlite"`

	BoltPath   string `yaml:"bolt_path"`
	SQLitePath string `yaml:"sqlite_path"`

	RedisURL           string `yaml:"redis_url"`
	RedisAllowInsecure bool   `yaml:"redis_allow_insecure"`

	DynamoTable  string `yaml:"dynamo_table"`
	DynamoRegion string `yaml:"dynamo_region"`
}

// GC tunes the adaptive collection loop.
type GC struct {
	Schedule      string        `yaml:"schedule" validate:"required"`
	PassBudget    int           `yaml:"pass_budget" validate:"gt=0"`
	AgeThreshold  time.Duration `yaml:"age_threshold" validate:"gt=0"`
	AccessCeiling int64         `yaml:"access_ceiling" validate:"gte=0"`
	SkipLimit     int           `yaml:"skip_limit" validate:"gt=0"`
}

// RateLimit is a fixed window of Points operations per Duration.
type RateLimit struct {
	Points      int64         `yaml:"points" validate:"gt=0"`
	Duration    time.Duration `yaml:"duration" validate:"gt=0"`
	Distributed bool          `yaml:"distributed"`
}

// Quota is the per-client hourly operation budget.
type Quota struct {
	Limit  int64         `yaml:"limit" validate:"gt=0"`
	Window time.Duration `yaml:"window" validate:"gt=0"`
}

// Breaker configures the circuit breaker guarding networked backends.
type Breaker struct {
	FailureThreshold uint32        `yaml:"failure_threshold" validate:"gt=0"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" validate:"gt=0"`
	CallTimeout      time.Duration `yaml:"call_timeout" validate:"gt=0"`
}

// Signing configures event signing.
type Signing struct {
	Secret string `yaml:"secret"`
}

// Events configures the EventBridge sink.
type Events struct {
	Enabled      bool   `yaml:"enabled"`
	EventBusName string `yaml:"event_bus_name"`
	Source       string `yaml:"source"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Port      int    `yaml:"port" validate:"gt=0,lte=65535"`
	Path      string `yaml:"path" validate:"required"`
	Namespace string `yaml:"namespace" validate:"required"`
}

// Logging configures the zap logger.
type Logging struct {
	Level  string `yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"required,oneof=json console"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Environment: Development,
		Storage: Storage{
			Backend:    "memory",
			BoltPath:   "data/sigilmem.db",
			SQLitePath: "data/sigilmem.sqlite",
		},
		GC: GC{
			Schedule:      "@every 1m",
			PassBudget:    100,
			AgeThreshold:  time.Hour,
			AccessCeiling: 2,
			SkipLimit:     3,
		},
		RateLimit: RateLimit{
			Points:   100,
			Duration: time.Minute,
		},
		Quota: Quota{
			Limit:  1000,
			Window: time.Hour,
		},
		Breaker: Breaker{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
			CallTimeout:      5 * time.Second,
		},
		Events: Events{
			EventBusName: "default",
			Source:       "sigilmem",
		},
		Metrics: Metrics{
			Port:      9090,
			Path:      "/metrics",
			Namespace: "sigilmem",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path if it
// exists, then environment variables, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvironment()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvironment overlays environment variables, the highest priority
// source.
func (c *Config) applyEnvironment() {
	if val := os.Getenv("SIGILMEM_ENV"); val != "" {
		c.Environment = Environment(strings.ToLower(val))
	}
	if val := os.Getenv("SIGILMEM_DEV_MODE"); val != "" {
		c.DevMode = parseBool(val)
	}
	if val := os.Getenv("SIGILMEM_STORAGE_BACKEND"); val != "" {
		c.Storage.Backend = val
	}
	if val := os.Getenv("SIGILMEM_REDIS_URL"); val != "" {
		c.Storage.RedisURL = val
	}
	if val := os.Getenv("SIGILMEM_DYNAMO_TABLE"); val != "" {
		c.Storage.DynamoTable = val
	}
	if val := os.Getenv("SIGILMEM_DYNAMO_REGION"); val != "" {
		c.Storage.DynamoRegion = val
	}
	if val := os.Getenv("SIGILMEM_SIGNING_SECRET"); val != "" {
		c.Signing.Secret = val
	}
	if val := os.Getenv("SIGILMEM_EVENT_BUS"); val != "" {
		c.Events.EventBusName = val
		c.Events.Enabled = true
	}
	if val := os.Getenv("SIGILMEM_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil && port > 0 {
			c.Metrics.Port = port
		}
	}
	if val := os.Getenv("SIGILMEM_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}
}

// Validate checks field constraints and the cross-field rules that struct
// tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch c.Storage.Backend {
	case "bolt":
		if c.Storage.BoltPath == "" {
			return fmt.Errorf("storage.bolt_path is required for the bolt backend")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	case "redis":
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("storage.redis_url is required for the redis backend")
		}
	case "dynamo":
		if c.Storage.DynamoTable == "" {
			return fmt.Errorf("storage.dynamo_table is required for the dynamo backend")
		}
	}

	if c.Environment == Production {
		if c.DevMode {
			return fmt.Errorf("dev_mode cannot be enabled in production")
		}
		if c.Signing.Secret == "" {
			return fmt.Errorf("signing.secret is required in production")
		}
		if c.Storage.Backend == "redis" && c.Storage.RedisAllowInsecure {
			return fmt.Errorf("storage.redis_allow_insecure cannot be enabled in production")
		}
	}
	if c.Signing.Secret == "" && !c.DevMode {
		return fmt.Errorf("signing.secret is required unless dev_mode is enabled")
	}

	if c.RateLimit.Distributed && c.Storage.RedisURL == "" {
		return fmt.Errorf("rate_limit.distributed requires storage.redis_url")
	}

	return nil
}

func parseBool(s string) bool {
	val, _ := strconv.ParseBool(s)
	return val
}
