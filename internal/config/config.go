// ABOUTME: Configuration loading and parsing for mulchat-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultBotID is the reserved identity of the AI bot.
const DefaultBotID = "677d9c66e765432101234567"

// Config represents the complete mulchat-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	AI       AIConfig       `yaml:"ai" toml:"ai"`
	Bot      BotConfig      `yaml:"bot" toml:"bot"`
	Router   RouterConfig   `yaml:"router" toml:"router"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // health service, empty disables
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration.
// An empty JWTSecret runs the gateway in anonymous mode.
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// AIConfig selects the model that answers messages sent to the bot
type AIConfig struct {
	Provider      string `yaml:"provider" toml:"provider"`
	APIKey        string `yaml:"api_key" toml:"api_key"`
	Model         string `yaml:"model" toml:"model"`
	FallbackModel string `yaml:"fallback_model" toml:"fallback_model"`
	BaseURL       string `yaml:"base_url" toml:"base_url"`
	SystemPrompt  string `yaml:"system_prompt" toml:"system_prompt"`
	SingleFlight  bool   `yaml:"single_flight" toml:"single_flight"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// BotConfig describes the bot's user row
type BotConfig struct {
	ID       string `yaml:"id" toml:"id"`
	Name     string `yaml:"name" toml:"name"`
	Username string `yaml:"username" toml:"username"`
}

// RouterConfig tunes message routing
type RouterConfig struct {
	EnforceRoomMembership bool `yaml:"enforce_room_membership" toml:"enforce_room_membership"`
	SendQueue             int  `yaml:"send_queue" toml:"send_queue"`

	DedupeTTL    time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	File   string `yaml:"file" toml:"file"`
}

// Default returns the configuration used for any value a file leaves out.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr: "0.0.0.0:3000",
			GRPCAddr: "0.0.0.0:50051",
		},
		Database: DatabaseConfig{Path: "./mulchat.db"},
		Auth:     AuthConfig{TokenTTLRaw: "168h"},
		AI: AIConfig{
			Provider:     "gemini",
			Model:        "gemini-3-flash",
			TimeoutRaw:   "30s",
			SingleFlight: true,
		},
		Bot: BotConfig{
			ID:       DefaultBotID,
			Name:     "Mul Chat Bot",
			Username: "mulchatbot",
		},
		Router: RouterConfig{
			EnforceRoomMembership: true,
			SendQueue:             64,
			DedupeTTLRaw:          "5m",
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// DefaultPath resolves the config file location from MULCHAT_CONFIG or the
// XDG config directory.
func DefaultPath() string {
	if p := os.Getenv("MULCHAT_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "mulchat", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize parses durations and validates. Load calls it; callers building
// a Config in code call it themselves.
func (c *Config) Finalize() error {
	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return errors.New("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return errors.New("auth.jwt_secret must be at least 32 bytes")
	}

	switch c.AI.Provider {
	case "gemini", "openai", "anthropic":
		if c.AI.APIKey == "" {
			return fmt.Errorf("ai.api_key is required for provider %q", c.AI.Provider)
		}
	case "ollama", "none":
	default:
		return fmt.Errorf("ai.provider %q is not one of gemini, ollama, openai, anthropic, none", c.AI.Provider)
	}
	if c.AI.Timeout <= 0 {
		return errors.New("ai.timeout must be positive")
	}

	if c.Bot.ID == "" {
		return errors.New("bot.id is required")
	}
	if c.Router.SendQueue <= 0 {
		return errors.New("router.send_queue must be positive")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"ai.timeout", cfg.AI.TimeoutRaw, &cfg.AI.Timeout},
		{"router.dedupe_ttl", cfg.Router.DedupeTTLRaw, &cfg.Router.DedupeTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// sampleYAML is written by the init command.
const sampleYAML = `# mulchat-gateway configuration
server:
  http_addr: "0.0.0.0:3000"
  grpc_addr: "0.0.0.0:50051"

database:
  path: "./mulchat.db"

auth:
  jwt_secret: "${MULCHAT_JWT_SECRET}"
  token_ttl: "168h"

ai:
  provider: "gemini"
  api_key: "${GEMINI_API_KEY}"
  model: "gemini-3-flash"
  fallback_model: "gemini-3-pro"
  timeout: "30s"
  single_flight: true

bot:
  id: "677d9c66e765432101234567"
  name: "Mul Chat Bot"
  username: "mulchatbot"

router:
  enforce_room_membership: true
  send_queue: 64
  dedupe_ttl: "5m"

logging:
  level: "info"
  format: "text"
`

// WriteSample writes a commented starter config to path. Existing files are
// left alone unless force is set.
func WriteSample(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, []byte(sampleYAML), 0o600)
}
