// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Analysis AnalysisConfig `mapstructure:"analysis"`
	TLS      TLSConfig      `mapstructure:"tls"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64           `mapstructure:"max_body_bytes"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
	CORS            CORSConfig      `mapstructure:"cors"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"` // e.g., ["http://localhost:5173", "*.example.com"]
}

// Enabled returns true if CORS is configured with at least one allowed origin.
func (c *CORSConfig) Enabled() bool {
	return len(c.AllowedOrigins) > 0
}

// RateLimitConfig limits question requests per server.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Rate    float64 `mapstructure:"rate"` // Requests per second
	Burst   int     `mapstructure:"burst"`
}

// StorageConfig holds dataset storage configuration.
type StorageConfig struct {
	Type         string        `mapstructure:"type"` // s3, azure, http, local
	LocalPath    string        `mapstructure:"local_path"`
	Watch        bool          `mapstructure:"watch"`
	SyncInterval time.Duration `mapstructure:"sync_interval"` // Ignored while watching; 0 disables
	S3           S3Config      `mapstructure:"s3"`
	Azure        AzureConfig   `mapstructure:"azure"`
	HTTP         HTTPConfig    `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Prefix          string `mapstructure:"prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	Container        string `mapstructure:"container"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Prefix           string `mapstructure:"prefix"`
}

// HTTPConfig holds HTTP download configuration.
type HTTPConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// CatalogConfig holds layer catalog configuration.
type CatalogConfig struct {
	Descriptions map[string]string `mapstructure:"descriptions"` // layer name -> description
}

// OracleConfig holds language-model configuration.
type OracleConfig struct {
	Provider        string        `mapstructure:"provider"` // anthropic, none
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	MaxTokens       int64         `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Phrasing        bool          `mapstructure:"phrasing"`
	PhrasingTimeout time.Duration `mapstructure:"phrasing_timeout"`
	Retries         int           `mapstructure:"retries"`
}

// AnalysisConfig holds spatial analysis configuration.
type AnalysisConfig struct {
	BufferSegments int           `mapstructure:"buffer_segments"`
	CacheSize      int           `mapstructure:"cache_size"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// TLSConfig holds TLS/CertMagic configuration.
type TLSConfig struct {
	Enabled  bool      `mapstructure:"enabled"`
	Domains  []string  `mapstructure:"domains"`
	Email    string    `mapstructure:"email"`
	CacheDir string    `mapstructure:"cache_dir"`
	Staging  bool      `mapstructure:"staging"` // Use Let's Encrypt staging
	DNS      DNSConfig `mapstructure:"dns"`
}

// DNSConfig holds Azure DNS settings for the ACME DNS-01 challenge.
// Without a subscription the HTTP-01/TLS-ALPN challenges are used.
type DNSConfig struct {
	SubscriptionID    string `mapstructure:"subscription_id"`
	ResourceGroupName string `mapstructure:"resource_group_name"`
	TenantID          string `mapstructure:"tenant_id"`
	ClientID          string `mapstructure:"client_id"`
	ClientSecret      string `mapstructure:"client_secret"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Defaults sets the default configuration values.
func Defaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 60*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.max_body_bytes", 64<<10)
	viper.SetDefault("server.rate_limit.enabled", false)
	viper.SetDefault("server.rate_limit.rate", 5.0)
	viper.SetDefault("server.rate_limit.burst", 10)
	viper.SetDefault("server.cors.allowed_origins", []string{"http://localhost:5173"})

	// Storage defaults
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local_path", "./data")
	viper.SetDefault("storage.watch", true)
	viper.SetDefault("storage.sync_interval", 15*time.Minute)
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	// Oracle defaults
	viper.SetDefault("oracle.provider", "anthropic")
	viper.SetDefault("oracle.model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("oracle.max_tokens", 1024)
	viper.SetDefault("oracle.timeout", 30*time.Second)
	viper.SetDefault("oracle.phrasing", true)
	viper.SetDefault("oracle.phrasing_timeout", 10*time.Second)
	viper.SetDefault("oracle.retries", 1)

	// Analysis defaults
	viper.SetDefault("analysis.buffer_segments", 32)
	viper.SetDefault("analysis.cache_size", 64)
	viper.SetDefault("analysis.timeout", 30*time.Second)

	// TLS defaults
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cache_dir", "./.certmagic")
	viper.SetDefault("tls.staging", false)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	// Environment variable binding
	viper.SetEnvPrefix("VICINUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Config file
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/vicinus")
	}

	// Try to read config file (not required)
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// The SDK's conventional variable is honoured when no key is configured.
	if cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.Rate <= 0 || c.Server.RateLimit.Burst < 1) {
		return fmt.Errorf("rate limit needs a positive rate and burst")
	}

	if c.TLS.Enabled {
		if len(c.TLS.Domains) == 0 {
			return fmt.Errorf("TLS enabled but no domains specified")
		}
		if c.TLS.Email == "" {
			return fmt.Errorf("TLS enabled but no email specified")
		}
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.LocalPath == "" {
			return fmt.Errorf("local storage path is required")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required")
		}
		if c.Storage.S3.Region == "" {
			return fmt.Errorf("S3 region is required")
		}
	case "azure":
		if c.Storage.Azure.Container == "" {
			return fmt.Errorf("azure container is required")
		}
		if c.Storage.Azure.AccountName == "" && c.Storage.Azure.ConnectionString == "" {
			return fmt.Errorf("azure account name or connection string is required")
		}
	case "http":
		if c.Storage.HTTP.BaseURL == "" {
			return fmt.Errorf("HTTP base URL is required")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Storage.Type)
	}

	switch c.Oracle.Provider {
	case "anthropic":
		if c.Oracle.APIKey == "" {
			return fmt.Errorf("oracle provider anthropic needs an API key (oracle.api_key or ANTHROPIC_API_KEY)")
		}
		if c.Oracle.Model == "" {
			return fmt.Errorf("oracle model is required")
		}
		if c.Oracle.MaxTokens < 1 {
			return fmt.Errorf("invalid oracle max_tokens: %d", c.Oracle.MaxTokens)
		}
	case "none":
	default:
		return fmt.Errorf("unknown oracle provider: %s", c.Oracle.Provider)
	}

	if c.Oracle.Retries < 0 || c.Oracle.Retries > 1 {
		return fmt.Errorf("oracle retries must be 0 or 1, got %d", c.Oracle.Retries)
	}

	if c.Analysis.BufferSegments < 8 {
		return fmt.Errorf("analysis buffer_segments must be at least 8, got %d", c.Analysis.BufferSegments)
	}
	if c.Analysis.CacheSize < 0 {
		return fmt.Errorf("invalid analysis cache_size: %d", c.Analysis.CacheSize)
	}

	return nil
}

// Address returns the server address string.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
