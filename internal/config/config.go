// Package config loads application configuration with multi-source
// priority: environment variables override the config file, which
// overrides the defaults.
//
// A .env file in the working directory is loaded first so local
// development can keep secrets out of the shell profile.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Sentinel errors returned by Validate.
var (
	// ErrMissingProviderURL indicates the completion provider base URL is unset.
	ErrMissingProviderURL = errors.New("missing provider base URL")

	// ErrMissingModel indicates no model name is configured.
	ErrMissingModel = errors.New("missing model name")

	// ErrInvalidRateLimit indicates a non-positive provider rate limit.
	ErrInvalidRateLimit = errors.New("invalid provider rate limit")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresSSLMode indicates an unsupported sslmode value.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidNodeID indicates the snowflake node ID is out of range.
	ErrInvalidNodeID = errors.New("invalid node ID")

	// ErrInvalidTurnTimeout indicates a negative turn timeout.
	ErrInvalidTurnTimeout = errors.New("invalid turn timeout")
)

var validSSLModes = map[string]bool{
	"disable": true, "allow": true, "prefer": true,
	"require": true, "verify-ca": true, "verify-full": true,
}

// Config stores the application configuration.
type Config struct {
	// HTTP server
	ServerAddr string `mapstructure:"server_addr"`

	// Completion provider
	ProviderBaseURL   string  `mapstructure:"provider_base_url"`
	ProviderAPIKey    string  `mapstructure:"provider_api_key"` // SENSITIVE: never log
	ModelName         string  `mapstructure:"model_name"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	RequestBurst      int     `mapstructure:"request_burst"`

	// Conversation
	SystemPrompt string        `mapstructure:"system_prompt"`
	TurnTimeout  time.Duration `mapstructure:"turn_timeout"`

	// Attachment extractor service
	ExtractorBaseURL string `mapstructure:"extractor_base_url"`

	// Image search collaborator
	SearchBaseURL string `mapstructure:"search_base_url"`
	SearchAPIKey  string `mapstructure:"search_api_key"` // SENSITIVE: never log

	// Message ID generation
	NodeID int64 `mapstructure:"node_id"`

	// Turn archive (PostgreSQL)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"` // SENSITIVE: never log
	PostgresDBName   string `mapstructure:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`

	// Tracing
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	Environment  string `mapstructure:"environment"`
}

// Load loads configuration.
// Priority: environment variables > config file (uchat.yaml) > defaults.
func Load() (*Config, error) {
	// Best effort: absence of a .env file is the normal case.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("uchat")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/uchat")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server_addr", "127.0.0.1:8080")

	v.SetDefault("provider_base_url", "")
	v.SetDefault("model_name", "gpt-4o-mini")
	v.SetDefault("requests_per_second", 2.0)
	v.SetDefault("request_burst", 4)

	v.SetDefault("system_prompt", "You are a helpful assistant.")
	v.SetDefault("turn_timeout", 2*time.Minute)

	v.SetDefault("extractor_base_url", "http://localhost:8090")
	v.SetDefault("search_base_url", "")

	v.SetDefault("node_id", 1)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "uchat")
	v.SetDefault("postgres_password", "uchat_dev_password")
	v.SetDefault("postgres_db_name", "uchat")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)

	v.SetDefault("otlp_endpoint", "")
	v.SetDefault("environment", "dev")
}

// bindEnvVariables binds environment variables explicitly. Secrets only
// arrive through the environment, never the config file.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider_api_key", "UCHAT_PROVIDER_API_KEY")
	mustBind("search_api_key", "UCHAT_SEARCH_API_KEY")

	mustBind("server_addr", "UCHAT_SERVER_ADDR")
	mustBind("provider_base_url", "UCHAT_PROVIDER_BASE_URL")
	mustBind("model_name", "UCHAT_MODEL_NAME")
	mustBind("extractor_base_url", "UCHAT_EXTRACTOR_BASE_URL")
	mustBind("search_base_url", "UCHAT_SEARCH_BASE_URL")
	mustBind("node_id", "UCHAT_NODE_ID")
	mustBind("log_level", "UCHAT_LOG_LEVEL")
	mustBind("otlp_endpoint", "UCHAT_OTLP_ENDPOINT")
	mustBind("environment", "UCHAT_ENVIRONMENT")
}

// Validate fails fast on configuration the server cannot start with.
func (c *Config) Validate() error {
	if c.ProviderBaseURL == "" {
		return ErrMissingProviderURL
	}
	if c.ModelName == "" {
		return ErrMissingModel
	}
	if c.RequestsPerSecond <= 0 || c.RequestBurst <= 0 {
		return fmt.Errorf("%w: rps=%v burst=%d", ErrInvalidRateLimit, c.RequestsPerSecond, c.RequestBurst)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}
	// snowflake encodes the node in 10 bits
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("%w: %d (must be 0-1023)", ErrInvalidNodeID, c.NodeID)
	}
	if c.TurnTimeout < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidTurnTimeout, c.TurnTimeout)
	}
	return nil
}
