// Package config handles support-agent configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty.
const (
	DefaultPort            = 5000
	DefaultCORSOrigin      = "http://localhost:5173"
	DefaultRateRequests    = 100
	DefaultRateWindow      = 15 * time.Minute
	DefaultProvider        = "openai"
	DefaultModel           = "meta-llama/Meta-Llama-3.1-70B-Instruct-Turbo"
	DefaultOpenAIBaseURL   = "https://api.together.xyz/v1"
	DefaultOllamaURL       = "http://localhost:11434"
	DefaultTemperature     = 0.7
	DefaultMaxTokens       = 1024
	DefaultMaxTurns        = 5
	DefaultMaxAttempts     = 3
	DefaultRetryBackoff    = time.Second
	DefaultContextTokens   = 6000
	DefaultMaxAuditLog     = 1000
	DefaultDatabaseDriver  = "sqlite"
	DefaultDatabasePath    = "support-agent.db"
	DefaultLogFormat       = "text"
	apiKeyEnv              = "TOGETHER_API_KEY"
	defaultConfigDirectory = "support-agent"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/support-agent/config.yaml,
// /etc/support-agent/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", defaultConfigDirectory, "config.yaml"))
	}

	paths = append(paths, filepath.Join("/etc", defaultConfigDirectory, "config.yaml"))
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all support-agent configuration.
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Models    ModelsConfig    `yaml:"models"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Ollama    OllamaConfig    `yaml:"ollama"`
	Database  DatabaseConfig  `yaml:"database"`
	Context   ContextConfig   `yaml:"context"`
	Router    RouterConfig    `yaml:"router"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// CORSConfig lists the browser origins allowed to call the API with
// credentials.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig bounds how many API requests one client may make per
// window.
type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// ModelsConfig defines which model answers and how each invocation is
// shaped.
type ModelsConfig struct {
	Default  string `yaml:"default"`
	Provider string `yaml:"provider"` // openai or ollama

	// Temperature is sent with every request. Unset selects the default
	// of 0.7; an explicit 0 is kept.
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`

	// MaxTurns caps model round trips inside one tool-calling loop.
	MaxTurns int `yaml:"max_turns"`

	// MaxAttempts and RetryBackoff control how rate-limited requests are
	// retried. The wait before attempt n+1 is n × RetryBackoff.
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// OpenAIConfig points at any OpenAI-compatible chat completions endpoint.
// The default is Together's hosted API.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// OllamaConfig defines the local Ollama endpoint.
type OllamaConfig struct {
	URL string `yaml:"url"`
}

// DatabaseConfig selects the record store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite or postgres
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// ContextConfig bounds the history sent to the support agent.
type ContextConfig struct {
	MaxTokens int `yaml:"max_tokens"`
}

// RouterConfig configures the routing audit trail.
type RouterConfig struct {
	MaxAuditLog int `yaml:"max_audit_log"`
}

// MetricsConfig toggles the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file, expands environment
// variables, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied, used when
// no config file is found.
func Default() *Config {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = DefaultPort
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{DefaultCORSOrigin}
	}
	if c.RateLimit.Requests == 0 {
		c.RateLimit.Requests = DefaultRateRequests
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = DefaultRateWindow
	}

	if c.Models.Provider == "" {
		c.Models.Provider = DefaultProvider
	}
	if c.Models.Default == "" {
		c.Models.Default = DefaultModel
	}
	if c.Models.Temperature == nil {
		t := DefaultTemperature
		c.Models.Temperature = &t
	}
	if c.Models.MaxTokens == 0 {
		c.Models.MaxTokens = DefaultMaxTokens
	}
	if c.Models.MaxTurns == 0 {
		c.Models.MaxTurns = DefaultMaxTurns
	}
	if c.Models.MaxAttempts == 0 {
		c.Models.MaxAttempts = DefaultMaxAttempts
	}
	if c.Models.RetryBackoff == 0 {
		c.Models.RetryBackoff = DefaultRetryBackoff
	}

	if c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = DefaultOpenAIBaseURL
	}
	if c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = os.Getenv(apiKeyEnv)
	}
	if c.Ollama.URL == "" {
		c.Ollama.URL = DefaultOllamaURL
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDatabaseDriver
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}

	if c.Context.MaxTokens == 0 {
		c.Context.MaxTokens = DefaultContextTokens
	}
	if c.Router.MaxAuditLog == 0 {
		c.Router.MaxAuditLog = DefaultMaxAuditLog
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

// Validate reports every structural problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if c.RateLimit.Requests < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.requests must not be negative"))
	}
	if c.RateLimit.Window < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.window must not be negative"))
	}

	switch c.Models.Provider {
	case "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("models.provider %q unknown (valid: openai, ollama)", c.Models.Provider))
	}
	if t := c.Models.Temperature; t != nil && (*t < 0 || *t > 2) {
		errs = append(errs, fmt.Errorf("models.temperature %.2f out of range [0, 2]", *t))
	}
	if c.Models.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("models.max_tokens must not be negative"))
	}
	if c.Models.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("models.max_turns must be at least 1"))
	}
	if c.Models.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("models.max_attempts must be at least 1"))
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, fmt.Errorf("database.path is required for sqlite"))
		}
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q unknown (valid: sqlite, postgres)", c.Database.Driver))
	}

	if c.Context.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("context.max_tokens must be at least 1"))
	}
	if c.Router.MaxAuditLog < 1 {
		errs = append(errs, fmt.Errorf("router.max_audit_log must be at least 1"))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q unknown (valid: text, json)", c.LogFormat))
	}

	return errors.Join(errs...)
}

// ListenAddr returns the host:port the API server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Listen.Address, c.Listen.Port)
}
