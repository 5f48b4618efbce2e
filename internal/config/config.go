// Package config handles Taskmate configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/taskmate/config.yaml, /etc/taskmate/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskmate", "config.yaml"))
	}

	paths = append(paths, "/etc/taskmate/config.yaml")
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

// Config holds all Taskmate configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen" toml:"listen"`
	Database   DatabaseConfig   `yaml:"database" toml:"database"`
	LLM        LLMConfig        `yaml:"llm" toml:"llm"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" toml:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" toml:"openai"`
	Gemini     GeminiConfig     `yaml:"gemini" toml:"gemini"`
	Enums      EnumsConfig      `yaml:"enums" toml:"enums"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	MQTT       MQTTConfig       `yaml:"mqtt" toml:"mqtt"`
	Tracing    TracingConfig    `yaml:"tracing" toml:"tracing"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" toml:"checkpoint"`
	LogLevel   string           `yaml:"log_level" toml:"log_level"`
	LogFormat  string           `yaml:"log_format" toml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address" toml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port" toml:"port"`
	// MaxConnections caps concurrent client connections. Zero means unlimited.
	MaxConnections int `yaml:"max_connections" toml:"max_connections"`
}

// DatabaseConfig selects the SQL driver for the task store.
type DatabaseConfig struct {
	// Driver is one of sqlite3 (cgo), sqlite (pure Go) or postgres.
	Driver       string `yaml:"driver" toml:"driver"`
	DSN          string `yaml:"dsn" toml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" toml:"max_open_conns"`
}

// LLMConfig controls the model behind the chat agent.
type LLMConfig struct {
	Provider  string `yaml:"provider" toml:"provider"` // ollama, anthropic, openai, gemini
	Model     string `yaml:"model" toml:"model"`
	OllamaURL string `yaml:"ollama_url" toml:"ollama_url"`
	// MaxRetries is the number of extra attempts after a transient
	// failure. Zero disables retries; omitted means DefaultMaxRetries.
	MaxRetries    int `yaml:"max_retries" toml:"max_retries"`
	MaxIterations int `yaml:"max_iterations" toml:"max_iterations"`
	MaxTokens     int `yaml:"max_tokens" toml:"max_tokens"`
	// Pricing maps a model name to its per-token cost. Models without an
	// entry are recorded at zero cost.
	Pricing map[string]PricingEntry `yaml:"pricing" toml:"pricing"`
}

// PricingEntry is a model's cost in USD per million tokens.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million" toml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million" toml:"output_per_million"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key" toml:"api_key"`
}

// Configured reports whether an API key is present.
func (c AnthropicConfig) Configured() bool { return c.APIKey != "" }

// OpenAIConfig defines settings for OpenAI or any compatible endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" toml:"api_key"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// Configured reports whether an API key is present.
func (c OpenAIConfig) Configured() bool { return c.APIKey != "" }

// GeminiConfig defines Google Gemini API settings.
type GeminiConfig struct {
	APIKey string `yaml:"api_key" toml:"api_key"`
}

// Configured reports whether an API key is present.
func (c GeminiConfig) Configured() bool { return c.APIKey != "" }

// EnumsConfig overrides the task status and priority sets. Empty lists
// keep the built-in members.
type EnumsConfig struct {
	Statuses   []string `yaml:"statuses" toml:"statuses"`
	Priorities []string `yaml:"priorities" toml:"priorities"`
}

// AuthConfig defines API authentication settings.
type AuthConfig struct {
	// JWTSecret enables Bearer token auth when set.
	JWTSecret string        `yaml:"jwt_secret" toml:"jwt_secret"`
	JWTTTL    time.Duration `yaml:"jwt_ttl" toml:"jwt_ttl"`
	// RateLimitPerMinute bounds chat turns per actor. Zero disables it.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" toml:"rate_limit_per_minute"`
}

// MQTTConfig defines the optional task event publisher.
type MQTTConfig struct {
	Broker      string `yaml:"broker" toml:"broker"` // e.g. mqtt://localhost:1883
	Username    string `yaml:"username" toml:"username"`
	Password    string `yaml:"password" toml:"password"`
	ClientID    string `yaml:"client_id" toml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
}

// Configured reports whether a broker URL is present.
func (c MQTTConfig) Configured() bool { return c.Broker != "" }

// TracingConfig defines the OTLP trace exporter. Tracing is off when
// Endpoint is empty.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint" toml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" toml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure" toml:"insecure"`
}

// CheckpointConfig controls conversation state retention.
type CheckpointConfig struct {
	// Persist writes every chat turn's conversation state to the database.
	Persist bool `yaml:"persist" toml:"persist"`
	// Retention drops persisted conversations idle longer than this at
	// startup. Zero keeps everything.
	Retention time.Duration `yaml:"retention" toml:"retention"`
}

// Load reads configuration from a YAML or TOML file, chosen by extension.
// Environment variables in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := newConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultMaxRetries applies when llm.max_retries is omitted.
const DefaultMaxRetries = 2

// newConfig seeds the fields whose zero value is a valid setting. The
// decoders leave absent keys untouched, so an explicit zero survives.
func newConfig() *Config {
	return &Config{LLM: LLMConfig{MaxRetries: DefaultMaxRetries}}
}

// Default returns a default configuration.
func Default() *Config {
	cfg := newConfig()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.DSN == "" && c.Database.Driver != "postgres" {
		c.Database.DSN = "taskmate.db"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModels[c.LLM.Provider]
	}
	if c.LLM.OllamaURL == "" {
		c.LLM.OllamaURL = "http://localhost:11434"
	}
	if c.LLM.MaxIterations == 0 {
		c.LLM.MaxIterations = 8
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.Auth.JWTTTL == 0 {
		c.Auth.JWTTTL = 24 * time.Hour
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "taskmate"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "taskmate"
	}
	if c.Tracing.SamplingRate == 0 {
		c.Tracing.SamplingRate = 1.0
	}
}

var defaultModels = map[string]string{
	"ollama":    "qwen3:4b",
	"anthropic": "claude-sonnet-4-20250514",
	"openai":    "gpt-4o-mini",
	"gemini":    "gemini-2.0-flash",
}

// DefaultModel returns the model used for provider when llm.model is
// not set.
func DefaultModel(provider string) string { return defaultModels[provider] }

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	switch c.Database.Driver {
	case "sqlite3", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q (valid: sqlite3, sqlite, postgres)", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for postgres")
	}
	if _, ok := defaultModels[c.LLM.Provider]; !ok {
		return fmt.Errorf("unknown llm provider %q (valid: ollama, anthropic, openai, gemini)", c.LLM.Provider)
	}
	if c.Checkpoint.Retention < 0 {
		return fmt.Errorf("checkpoint.retention must not be negative")
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative")
	}
	switch c.LLM.Provider {
	case "anthropic":
		if !c.Anthropic.Configured() {
			return fmt.Errorf("anthropic.api_key is required when llm.provider is anthropic")
		}
	case "openai":
		if !c.OpenAI.Configured() {
			return fmt.Errorf("openai.api_key is required when llm.provider is openai")
		}
	case "gemini":
		if !c.Gemini.Configured() {
			return fmt.Errorf("gemini.api_key is required when llm.provider is gemini")
		}
	}
	return nil
}
