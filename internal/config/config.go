// Package config loads the service configuration once at startup.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// providerKeyEnv maps a provider to the variable its SDK conventionally reads.
var providerKeyEnv = map[string]string{
	"openai":    "openai_api_key",
	"groq":      "groq_api_key",
	"anthropic": "anthropic_api_key",
	"gemini":    "gemini_api_key",
	"mock":      "",
}

// Config is the fully resolved configuration.  It is built once and passed
// explicitly to constructors; nothing reads the environment after Load.
type Config struct {
	Port string

	StorageBackend string
	DatabaseURL    string
	SQLitePath     string
	NotifyChannel  string
	MessageCap     int

	LLMProvider string
	LLMModel    string
	LLMAPIKey   string
	LLMBaseURL  string
	LLMTimeout  time.Duration

	ExtractTemperature float32
	PhraseTemperature  float32
	HistoryWindow      int
	PromptsFile        string

	LogLevel string
	LogFile  string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("storage_backend", BackendSQLite)
	v.SetDefault("sqlite_path", "intake.db")
	v.SetDefault("notify_channel", "record_updates")
	v.SetDefault("message_cap", 50)
	v.SetDefault("llm_provider", "openai")
	v.SetDefault("llm_timeout", "30s")
	v.SetDefault("extract_temperature", 0.1)
	v.SetDefault("phrase_temperature", 0.4)
	v.SetDefault("history_window", 4)
}

// Load resolves configuration from defaults, an optional .env file, the
// process environment and any flags already bound on v.  An empty envFile
// loads ./.env when present; a named file must exist.
func Load(v *viper.Viper, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	} else {
		_ = godotenv.Load()
	}

	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Port:               v.GetString("port"),
		StorageBackend:     strings.ToLower(v.GetString("storage_backend")),
		DatabaseURL:        v.GetString("database_url"),
		SQLitePath:         v.GetString("sqlite_path"),
		NotifyChannel:      v.GetString("notify_channel"),
		MessageCap:         v.GetInt("message_cap"),
		LLMProvider:        strings.ToLower(v.GetString("llm_provider")),
		LLMModel:           v.GetString("llm_model"),
		LLMAPIKey:          v.GetString("llm_api_key"),
		LLMBaseURL:         v.GetString("llm_base_url"),
		LLMTimeout:         v.GetDuration("llm_timeout"),
		ExtractTemperature: float32(v.GetFloat64("extract_temperature")),
		PhraseTemperature:  float32(v.GetFloat64("phrase_temperature")),
		HistoryWindow:      v.GetInt("history_window"),
		PromptsFile:        v.GetString("prompts_file"),
		LogLevel:           v.GetString("log_level"),
		LogFile:            v.GetString("log_file"),
	}

	if cfg.LLMAPIKey == "" {
		if key := providerKeyEnv[cfg.LLMProvider]; key != "" {
			cfg.LLMAPIKey = v.GetString(key)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DSN returns the connection string for the selected storage backend.
func (c *Config) DSN() string {
	if c.StorageBackend == BackendPostgres {
		return c.DatabaseURL
	}
	return c.SQLitePath
}

// Validate checks the combinations Load cannot default its way out of.
func (c *Config) Validate() error {
	var errs []error
	switch c.StorageBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL must be set for the postgres backend"))
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH must not be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}
	if _, ok := providerKeyEnv[c.LLMProvider]; !ok {
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}
	if c.MessageCap <= 0 {
		errs = append(errs, errors.New("MESSAGE_CAP must be positive"))
	}
	if c.HistoryWindow <= 0 {
		errs = append(errs, errors.New("HISTORY_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}
