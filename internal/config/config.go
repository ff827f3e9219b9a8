package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	Auth      AuthConfig      `yaml:"auth"`
	Billing   BillingConfig   `yaml:"billing"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type ServerConfig struct {
	Port           string `yaml:"port"`
	Environment    string `yaml:"environment"`
	LogLevel       string `yaml:"log_level"`
	AllowedOrigins string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	// Driver selects the GORM dialector: postgres, mysql, sqlite or
	// clickhouse.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type UpstreamConfig struct {
	// BaseURL of the OpenRouter-compatible API.
	BaseURL string `yaml:"base_url"`
	// RoutingPolicy is round_robin or least_load.
	RoutingPolicy string `yaml:"routing_policy"`
	// RequestTimeout bounds the end-user-facing proxy call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// ProbeTimeout bounds a single liveness probe; shorter than
	// RequestTimeout.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// HealthCooldown is how long a negative health flag sticks before the
	// credential is considered again.
	HealthCooldown time.Duration `yaml:"health_cooldown"`
	DefaultModel   string        `yaml:"default_model"`
}

type AuthConfig struct {
	ClerkSecretKey     string `yaml:"clerk_secret_key"`
	ClerkWebhookSecret string `yaml:"clerk_webhook_secret"`
	// ServiceTokenSecret enables HS256 service-token auth for deployments
	// without Clerk.
	ServiceTokenSecret string `yaml:"service_token_secret"`
	// CronSecret guards the health-check sweep endpoint.
	CronSecret string `yaml:"cron_secret"`
}

type BillingConfig struct {
	StripeSecretKey     string `yaml:"stripe_secret_key"`
	StripeWebhookSecret string `yaml:"stripe_webhook_secret"`
}

type SchedulerConfig struct {
	// HealthCheckInterval enables the in-process sweep ticker when > 0.
	// The external cron endpoint works either way.
	HealthCheckInterval time.Duration `yaml:"healthcheck_interval"`
}

// LoadFromFile loads configuration from a YAML file with environment variable substitution
func LoadFromFile(configPath string) (*Config, error) {
	// Validate and clean the file path to prevent directory traversal
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid config path: path traversal not allowed")
	}

	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("invalid config file: only .yaml and .yml files are allowed")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	content := substituteEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// LoadEnvFiles loads environment variables from .env files in order of precedence
// Loads files in the order provided (first has highest priority)
func LoadEnvFiles(envFiles []string) {
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err == nil {
				fmt.Printf("Loaded environment variables from %s\n", envFile)
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "development"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "ctrl-gateway.db"
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = "https://openrouter.ai/api/v1"
	}
	if c.Upstream.RoutingPolicy == "" {
		c.Upstream.RoutingPolicy = "round_robin"
	}
	if c.Upstream.RequestTimeout == 0 {
		c.Upstream.RequestTimeout = 60 * time.Second
	}
	if c.Upstream.ProbeTimeout == 0 {
		c.Upstream.ProbeTimeout = 5 * time.Second
	}
	if c.Upstream.HealthCooldown == 0 {
		c.Upstream.HealthCooldown = 5 * time.Minute
	}
	if c.Upstream.DefaultModel == "" {
		c.Upstream.DefaultModel = "openai/gpt-4o-mini"
	}
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

// Validate checks the configuration for required fields and consistency
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite", "clickhouse":
	default:
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	switch c.Upstream.RoutingPolicy {
	case "round_robin", "least_load":
	default:
		return fmt.Errorf("unsupported routing policy: %s", c.Upstream.RoutingPolicy)
	}
	if c.Auth.ClerkSecretKey == "" && c.Auth.ServiceTokenSecret == "" {
		return fmt.Errorf("either auth.clerk_secret_key or auth.service_token_secret must be set")
	}
	if c.Auth.CronSecret == "" {
		return fmt.Errorf("auth.cron_secret is required")
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} patterns with environment variables
func substituteEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::(-[^}]*))?\}`)

	return re.ReplaceAllStringFunc(content, func(match string) string {
		submatches := re.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""
		if len(submatches) > 2 && submatches[2] != "" {
			defaultValue = strings.TrimPrefix(submatches[2], "-")
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}
