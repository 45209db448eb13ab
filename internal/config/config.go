// Package config provides configuration management for Cardhaven.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cardhaven/cardhaven/internal/notifications"
	"github.com/cardhaven/cardhaven/internal/storage"
	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// Config holds server configuration. Scalar settings come from environment
// variables; the SMTP, object storage, and Redis blocks come from an
// optional YAML file pointed to by CONFIG_FILE.
type Config struct {
	Environment Environment
	ListenAddr  string
	DatabaseURL string

	// MasterSecret derives the key that encrypts codes at rest.
	MasterSecret string
	// APIKey authenticates operator requests.
	APIKey string

	// GrantTTLSeconds is the default proof-access grant lifetime.
	GrantTTLSeconds int
	// ProofSingleUse restricts each order to one proof-access grant ever.
	ProofSingleUse bool
	// RateLimit is the request budget per client, in limiter period
	// notation such as "100-M".
	RateLimit string
	// PrettyLog switches zerolog to human-readable console output.
	PrettyLog bool

	File FileConfig
}

// FileConfig is the YAML-file portion of the configuration.
type FileConfig struct {
	SMTP          *notifications.SMTPConfig `yaml:"smtp"`
	S3            storage.S3Config          `yaml:"s3"`
	RedisURL      string                    `yaml:"redis_url"`
	WebhookSecret string                    `yaml:"webhook_secret"`
}

// Load reads configuration from the environment and the optional YAML file.
func Load() (*Config, error) {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	grantTTL := getEnvInt("PROOF_GRANT_TTL", 300)
	if grantTTL < 0 {
		grantTTL = 300
	}

	cfg := &Config{
		Environment:     env,
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		MasterSecret:    os.Getenv("MASTER_SECRET"),
		APIKey:          os.Getenv("API_KEY"),
		GrantTTLSeconds: grantTTL,
		ProofSingleUse:  getEnvBool("PROOF_SINGLE_USE", true),
		RateLimit:       getEnv("RATE_LIMIT", "100-M"),
		PrettyLog:       getEnvBool("LOG_PRETTY", env == EnvDevelopment),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		file, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		cfg.File = *file
	}

	return cfg, nil
}

// Validate checks that everything the server cannot run without is set.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.MasterSecret == "" {
		return fmt.Errorf("MASTER_SECRET is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.File.SMTP != nil {
		if err := c.File.SMTP.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// loadFile parses the YAML configuration file.
func loadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var file FileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &file, nil
}

// getEnv reads a string from an environment variable, returning the default if unset.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}
