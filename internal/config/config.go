// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"campusfeed/internal/feed"
	"campusfeed/internal/viewport"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret    string `mapstructure:"JWT_SECRET"`
	Port         string `mapstructure:"PORT"`
	DBDriver     string `mapstructure:"DB_DRIVER"`
	DBHost       string `mapstructure:"DB_HOST"`
	DBPort       string `mapstructure:"DB_PORT"`
	DBUser       string `mapstructure:"DB_USER"`
	DBPassword   string `mapstructure:"DB_PASSWORD"`
	DBName       string `mapstructure:"DB_NAME"`
	DBSSLMode    string `mapstructure:"DB_SSLMODE"`
	SQLitePath   string `mapstructure:"SQLITE_PATH"`
	RedisURL     string `mapstructure:"REDIS_URL"`
	FeatureFlags string `mapstructure:"FEATURE_FLAGS"`
	Env          string `mapstructure:"APP_ENV"`
	// AllowedOrigins is a comma-separated CORS allow list.
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	RefetchDebounceMS      int `mapstructure:"REFETCH_DEBOUNCE_MS"`
	ConnectTimeoutSeconds  int `mapstructure:"CONNECT_TIMEOUT_SECONDS"`
	MutationTimeoutSeconds int `mapstructure:"MUTATION_TIMEOUT_SECONDS"`
	ViewportOverscan       int `mapstructure:"VIEWPORT_OVERSCAN"`
	ViewportRowHeight      int `mapstructure:"VIEWPORT_ROW_HEIGHT"`
	VirtualizeThreshold    int `mapstructure:"VIRTUALIZE_THRESHOLD"`
	FeedPageSize           int `mapstructure:"FEED_PAGE_SIZE"`

	TracingEnabled  bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter string  `mapstructure:"TRACING_EXPORTER"`
	TracingEndpoint string  `mapstructure:"TRACING_ENDPOINT"`
	TracingSample   float64 `mapstructure:"TRACING_SAMPLE_RATE"`
}

// LoadConfig loads application configuration from .env, config files and environment variables.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.DBDriver = strings.ToLower(strings.TrimSpace(config.DBDriver))
	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("DB_DRIVER", "postgres")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "campusfeed")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("SQLITE_PATH", "campusfeed.db")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	viper.SetDefault("FEATURE_FLAGS", "")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")

	viper.SetDefault("REFETCH_DEBOUNCE_MS", 150)
	viper.SetDefault("CONNECT_TIMEOUT_SECONDS", 10)
	viper.SetDefault("MUTATION_TIMEOUT_SECONDS", 15)
	viper.SetDefault("VIEWPORT_OVERSCAN", 5)
	viper.SetDefault("VIEWPORT_ROW_HEIGHT", 120)
	viper.SetDefault("VIRTUALIZE_THRESHOLD", 30)
	viper.SetDefault("FEED_PAGE_SIZE", 50)

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("TRACING_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLE_RATE", 1.0)
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite, got %q", c.DBDriver)
	}
	if c.RefetchDebounceMS <= 0 {
		return errors.New("REFETCH_DEBOUNCE_MS must be positive")
	}
	if c.ConnectTimeoutSeconds <= 0 {
		return errors.New("CONNECT_TIMEOUT_SECONDS must be positive")
	}
	if c.MutationTimeoutSeconds < 0 {
		return errors.New("MUTATION_TIMEOUT_SECONDS must not be negative")
	}
	if c.ViewportRowHeight <= 0 {
		return errors.New("VIEWPORT_ROW_HEIGHT must be positive")
	}
	if c.ViewportOverscan < 0 {
		return errors.New("VIEWPORT_OVERSCAN must not be negative")
	}
	if c.FeedPageSize <= 0 {
		return errors.New("FEED_PAGE_SIZE must be positive")
	}

	if c.IsProduction() {
		if c.JWTSecret == "your-secret-key-change-in-production" {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBDriver == "sqlite" {
			return errors.New("DB_DRIVER sqlite is not supported in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable TLS in production")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

// IsProduction reports whether APP_ENV names a production profile.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// FeedOptions derives the engine settings for a single feed view.
func (c *Config) FeedOptions() feed.Options {
	return feed.Options{
		Debounce:        time.Duration(c.RefetchDebounceMS) * time.Millisecond,
		ConnectTimeout:  time.Duration(c.ConnectTimeoutSeconds) * time.Second,
		MutationTimeout: time.Duration(c.MutationTimeoutSeconds) * time.Second,
		PageSize:        c.FeedPageSize,
	}
}

// ViewportConfig derives the renderer settings used for row windows.
func (c *Config) ViewportConfig() viewport.Config {
	return viewport.Config{
		RowHeight: c.ViewportRowHeight,
		Overscan:  c.ViewportOverscan,
		Threshold: c.VirtualizeThreshold,
	}
}
