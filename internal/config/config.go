// Package config loads settings from an optional YAML file, a .env file and
// the environment, in increasing order of precedence.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the CLI and the backend server.
type Config struct {
	// Backend client
	APIURL          string        `yaml:"api_url"`
	Timeout         time.Duration `yaml:"timeout"`
	PullConcurrency int           `yaml:"pull_concurrency"`

	// Ledger-updated events; disabled when AMQPURL is empty
	AMQPURL      string `yaml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange"`

	// Pushgateway receiving the CLI's request metrics on exit; disabled when empty
	PushgatewayURL string `yaml:"pushgateway_url"`

	// Reference backend server
	ListenAddr string `yaml:"listen_addr"`
	DBPath     string `yaml:"db_path"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		APIURL:          "http://localhost:8000",
		Timeout:         10 * time.Second,
		PullConcurrency: 4,
		AMQPExchange:    "splitwithme",
		ListenAddr:      ":8000",
		DBPath:          "./data/splitwithme.db",
		LogLevel:        "info",
	}
}

// Load reads .env (if present), then the YAML file at path (if path is not
// empty), then environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.APIURL = getEnv("SPLITWITHME_API_URL", c.APIURL)
	c.AMQPURL = getEnv("SPLITWITHME_AMQP_URL", c.AMQPURL)
	c.AMQPExchange = getEnv("SPLITWITHME_AMQP_EXCHANGE", c.AMQPExchange)
	c.PushgatewayURL = getEnv("SPLITWITHME_PUSHGATEWAY_URL", c.PushgatewayURL)
	c.ListenAddr = getEnv("SPLITWITHME_LISTEN_ADDR", c.ListenAddr)
	c.DBPath = getEnv("SPLITWITHME_DB_PATH", c.DBPath)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	if v := os.Getenv("SPLITWITHME_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SPLITWITHME_TIMEOUT %q: %w", v, err)
		}
		c.Timeout = d
	}
	if v := os.Getenv("SPLITWITHME_PULL_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SPLITWITHME_PULL_CONCURRENCY %q: %w", v, err)
		}
		c.PullConcurrency = n
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var problems []string

	if u, err := url.Parse(c.APIURL); err != nil || u.Host == "" {
		problems = append(problems, fmt.Sprintf("invalid API URL '%s'", c.APIURL))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		problems = append(problems, fmt.Sprintf("invalid API URL scheme '%s': must be 'http' or 'https'", u.Scheme))
	}

	if c.Timeout <= 0 {
		problems = append(problems, fmt.Sprintf("invalid timeout %s: must be positive", c.Timeout))
	}
	if c.PullConcurrency < 1 {
		problems = append(problems, fmt.Sprintf("invalid pull concurrency %d: must be at least 1", c.PullConcurrency))
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			problems = append(problems, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
		if c.AMQPExchange == "" {
			problems = append(problems, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.PushgatewayURL != "" {
		if u, err := url.Parse(c.PushgatewayURL); err != nil || u.Host == "" {
			problems = append(problems, fmt.Sprintf("invalid Pushgateway URL '%s'", c.PushgatewayURL))
		}
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
