package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = 8000
	defaultProviderTimeout = 60 * time.Second
	defaultDatabasePath    = "data/chat-gateway.db"
	defaultEstimatedTokens = 1000
	defaultWarnFraction    = 0.1
	defaultBodyLimit       = "1M"
)

// Environment variables that override values from the YAML file.
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvOpenAIAPIKey    = "OPENAI_API_KEY"
	EnvGoogleAPIKey    = "GOOGLE_API_KEY"
	EnvJWTSecret       = "JWT_SECRET"
	EnvDatabasePath    = "DATABASE_PATH"
	EnvPort            = "PORT"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server    ServerConfig       `yaml:"server"`
	Log       LogConfig          `yaml:"log"`
	Database  DatabaseConfig     `yaml:"database"`
	Auth      AuthConfig         `yaml:"auth"`
	Quota     QuotaConfig        `yaml:"quota"`
	Providers ProvidersConfig    `yaml:"providers"`
	Pricing   map[string]float64 `yaml:"pricing"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	BodyLimit   string   `yaml:"body_limit"`
	RateLimit   float64  `yaml:"rate_limit"`
	RateBurst   int      `yaml:"rate_burst"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig locates the SQLite file.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds the bearer token verification secret.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// QuotaConfig tunes the quota guard.
type QuotaConfig struct {
	// FailClosed rejects requests when usage cannot be read. The default is fail-open.
	FailClosed      bool           `yaml:"fail_closed"`
	EstimatedTokens int            `yaml:"estimated_tokens"`
	WarnFraction    float64        `yaml:"warn_fraction"`
	Limits          map[string]int `yaml:"limits"`
}

// ProvidersConfig catalogues configured upstream providers.
type ProvidersConfig struct {
	Claude ProviderConfig `yaml:"claude"`
	OpenAI ProviderConfig `yaml:"openai"`
	Gemini ProviderConfig `yaml:"gemini"`
}

// ProviderConfig captures authentication and routing info for a provider.
type ProviderConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
	Headers Headers       `yaml:"headers"`
}

// Headers contains additional HTTP headers to send with a provider request.
type Headers map[string]string

// Default returns a configuration usable without a YAML file.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:        defaultPort,
			CORSOrigins: []string{"http://localhost:3000"},
			BodyLimit:   defaultBodyLimit,
		},
		Log:      LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{Path: defaultDatabasePath},
		Quota:    QuotaConfig{EstimatedTokens: defaultEstimatedTokens, WarnFraction: defaultWarnFraction},
		Providers: ProvidersConfig{
			Claude: ProviderConfig{BaseURL: "https://api.anthropic.com", Timeout: defaultProviderTimeout},
			OpenAI: ProviderConfig{BaseURL: "https://api.openai.com/v1", Timeout: defaultProviderTimeout},
			Gemini: ProviderConfig{BaseURL: "https://generativelanguage.googleapis.com", Timeout: defaultProviderTimeout},
		},
	}
}

// Load reads YAML configuration from disk on top of Default, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}

		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment. A missing
// file is not an error; variables already set are left untouched.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	overrides := map[string]*string{
		EnvAnthropicAPIKey: &c.Providers.Claude.APIKey,
		EnvOpenAIAPIKey:    &c.Providers.OpenAI.APIKey,
		EnvGoogleAPIKey:    &c.Providers.Gemini.APIKey,
		EnvJWTSecret:       &c.Auth.JWTSecret,
		EnvDatabasePath:    &c.Database.Path,
	}
	for key, target := range overrides {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s must be an integer, got %q", EnvPort, v)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate performs strict sanity checks on the configuration. Provider API keys
// are optional here: a provider without a key is rejected per request.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must not be negative, got %v", c.Server.RateLimit)
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database.path must be provided")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret must be provided (or set %s)", EnvJWTSecret)
	}
	if c.Quota.EstimatedTokens < 0 {
		return fmt.Errorf("quota.estimated_tokens must not be negative, got %d", c.Quota.EstimatedTokens)
	}
	if c.Quota.WarnFraction < 0 || c.Quota.WarnFraction > 1 {
		return fmt.Errorf("quota.warn_fraction must be between 0 and 1, got %g", c.Quota.WarnFraction)
	}
	for tier, limit := range c.Quota.Limits {
		if limit < 0 {
			return fmt.Errorf("quota.limits.%s must not be negative, got %d", tier, limit)
		}
	}
	for model, price := range c.Pricing {
		if price < 0 {
			return fmt.Errorf("pricing.%s must not be negative, got %v", model, price)
		}
	}

	providers := map[string]ProviderConfig{
		"claude": c.Providers.Claude,
		"openai": c.Providers.OpenAI,
		"gemini": c.Providers.Gemini,
	}
	for name, provider := range providers {
		if err := validateProvider(name, provider); err != nil {
			return err
		}
	}

	return nil
}

func validateProvider(name string, provider ProviderConfig) error {
	if strings.TrimSpace(provider.BaseURL) == "" {
		return fmt.Errorf("provider %s: base_url must be provided", name)
	}
	if provider.Timeout < 0 {
		return fmt.Errorf("provider %s: timeout must not be negative", name)
	}

	for headerKey := range provider.Headers {
		if !isCanonicalHTTPHeader(headerKey) {
			return fmt.Errorf("provider %s: header %q is not a valid canonical HTTP header", name, headerKey)
		}
	}

	return nil
}

func isCanonicalHTTPHeader(header string) bool {
	if header == "" {
		return false
	}

	for _, r := range header {
		if !(r == '-' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')) {
			return false
		}
	}
	return true
}
