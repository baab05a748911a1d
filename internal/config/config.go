package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/scheduling/internal/platform/prefstore"
)

type Config struct {
	Port                string        `mapstructure:"PORT"`
	Env                 string        `mapstructure:"ENV"`
	LogLevel            string        `mapstructure:"LOG_LEVEL"`
	CORSOrigins         []string      `mapstructure:"CORS_ORIGINS"`
	FHIRBaseURL         string        `mapstructure:"FHIR_BASE_URL"`
	FHIRTimeout         time.Duration `mapstructure:"FHIR_TIMEOUT"`
	FHIRRetryMax        int           `mapstructure:"FHIR_RETRY_MAX"`
	FHIRToken           string        `mapstructure:"FHIR_TOKEN"`
	PreferenceBackend   string        `mapstructure:"PREFERENCE_BACKEND"`
	PreferenceFile      string        `mapstructure:"PREFERENCE_FILE"`
	PreferenceOwner     string        `mapstructure:"PREFERENCE_OWNER"`
	PreferenceTTL       time.Duration `mapstructure:"PREFERENCE_TTL"`
	RedisURL            string        `mapstructure:"REDIS_URL"`
	DatabaseURL         string        `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32         `mapstructure:"DB_MIN_CONNS"`
	DefaultResourceType string        `mapstructure:"DEFAULT_RESOURCE_TYPE"`
	DefaultView         string        `mapstructure:"DEFAULT_VIEW"`
	RateLimitRPS        float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst      int           `mapstructure:"RATE_LIMIT_BURST"`
}

var envKeys = []string{
	"PORT",
	"ENV",
	"LOG_LEVEL",
	"CORS_ORIGINS",
	"FHIR_BASE_URL",
	"FHIR_TIMEOUT",
	"FHIR_RETRY_MAX",
	"FHIR_TOKEN",
	"PREFERENCE_BACKEND",
	"PREFERENCE_FILE",
	"PREFERENCE_OWNER",
	"PREFERENCE_TTL",
	"REDIS_URL",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"DEFAULT_RESOURCE_TYPE",
	"DEFAULT_VIEW",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("FHIR_TIMEOUT", "30s")
	v.SetDefault("FHIR_RETRY_MAX", 3)
	v.SetDefault("PREFERENCE_BACKEND", prefstore.BackendMemory)
	v.SetDefault("PREFERENCE_FILE", "./data/preferences.json")
	v.SetDefault("PREFERENCE_OWNER", prefstore.DefaultOwner)
	v.SetDefault("PREFERENCE_TTL", "0s")
	v.SetDefault("DB_MAX_CONNS", 5)
	v.SetDefault("DB_MIN_CONNS", 1)
	v.SetDefault("DEFAULT_VIEW", "/patient")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	cfg.PreferenceBackend = strings.ToLower(strings.TrimSpace(cfg.PreferenceBackend))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// PreferenceOptions returns the preference store settings.
func (c *Config) PreferenceOptions() prefstore.Options {
	return prefstore.Options{
		Backend:     c.PreferenceBackend,
		FilePath:    c.PreferenceFile,
		RedisURL:    c.RedisURL,
		TTL:         c.PreferenceTTL,
		DatabaseURL: c.DatabaseURL,
		MaxConns:    c.DBMaxConns,
		MinConns:    c.DBMinConns,
		Owner:       c.PreferenceOwner,
	}
}

// Validate checks that the selected backends have what they need. In
// production the preferences must outlive the process, so the in-memory and
// disabled backends are refused.
func (c *Config) Validate() error {
	switch c.PreferenceBackend {
	case prefstore.BackendMemory, prefstore.BackendNone:
		if c.IsProduction() {
			return fmt.Errorf("PREFERENCE_BACKEND %q is not durable; use file, redis or postgres in production", c.PreferenceBackend)
		}
	case prefstore.BackendFile:
		if c.PreferenceFile == "" {
			return fmt.Errorf("PREFERENCE_FILE is required when PREFERENCE_BACKEND is \"file\"")
		}
	case prefstore.BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when PREFERENCE_BACKEND is \"redis\"")
		}
	case prefstore.BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when PREFERENCE_BACKEND is \"postgres\"")
		}
	default:
		return fmt.Errorf("PREFERENCE_BACKEND must be one of memory, file, redis, postgres or none, got %q", c.PreferenceBackend)
	}

	if c.DefaultView != "" && !strings.HasPrefix(c.DefaultView, "/") {
		return fmt.Errorf("DEFAULT_VIEW must be an absolute path, got %q", c.DefaultView)
	}
	if c.FHIRRetryMax < 0 {
		return fmt.Errorf("FHIR_RETRY_MAX must not be negative, got %d", c.FHIRRetryMax)
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1 when rate limiting is enabled, got %d", c.RateLimitBurst)
	}
	return nil
}
