package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// DBSource is the Postgres connection string. Empty selects the in-memory stores.
	DBSource string `mapstructure:"db_source"`
	Port     string `mapstructure:"server_port"`
	Env      string `mapstructure:"environment"`
	LogLevel string `mapstructure:"log_level"`

	GeminiAPIKey      string  `mapstructure:"gemini_api_key"`
	GeminiModel       string  `mapstructure:"gemini_model"`
	GeminiTemperature float32 `mapstructure:"gemini_temperature"`
	GeminiMaxTokens   int32   `mapstructure:"gemini_max_tokens"`

	MaxConversationHistory int           `mapstructure:"max_conversation_history"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout"`
	SeedDefaultAccounts    bool          `mapstructure:"seed_default_accounts"`
}

var defaults = map[string]any{
	"db_source":                "",
	"server_port":              "8080",
	"environment":              "development",
	"log_level":                "info",
	"gemini_api_key":           "",
	"gemini_model":             "gemini-2.5-flash",
	"gemini_temperature":       0.7,
	"gemini_max_tokens":        1000,
	"max_conversation_history": 100,
	"request_timeout":          "30s",
	"seed_default_accounts":    true,
}

// Load reads configuration from the environment (DB_SOURCE, SERVER_PORT, ...)
// and, when path is not empty, from that config file first.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("SERVER_PORT must not be empty")
	}
	if c.MaxConversationHistory <= 0 {
		return fmt.Errorf("MAX_CONVERSATION_HISTORY must be positive, got %d", c.MaxConversationHistory)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.IsProduction() && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// UsePostgres reports whether a database is configured.
func (c *Config) UsePostgres() bool {
	return c.DBSource != ""
}
