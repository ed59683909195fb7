package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for obra-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Database   DatabaseConfig   `yaml:"database"`
	Cache      CacheConfig      `yaml:"cache"`
	Storage    StorageConfig    `yaml:"storage"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Import     ImportConfig     `yaml:"import"`

	// TemplatesPath points to a YAML file of tabla templates. Empty uses the built-in set.
	TemplatesPath string `yaml:"templates_path" env:"TABLA_TEMPLATES_PATH" env-default:""`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"obra"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"obra_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"5"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// CacheConfig holds the TTLs of the per-owner caches.
type CacheConfig struct {
	SignedURLTTL      time.Duration `yaml:"signed_url_ttl" env:"CACHE_SIGNED_URL_TTL" env-default:"55m"`
	BlobTTL           time.Duration `yaml:"blob_ttl" env:"CACHE_BLOB_TTL" env-default:"30m"`
	TreeTTL           time.Duration `yaml:"tree_ttl" env:"CACHE_TREE_TTL" env-default:"5m"`
	LinksTTL          time.Duration `yaml:"links_ttl" env:"CACHE_LINKS_TTL" env-default:"15m"`
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown" env:"CACHE_RATE_LIMIT_COOLDOWN" env-default:"30s"`
	MaxBlobs          int           `yaml:"max_blobs" env:"CACHE_MAX_BLOBS" env-default:"64"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" env:"CACHE_CLEANUP_INTERVAL" env-default:"1m"`
}

// StorageConfig holds the file blob store configuration.
type StorageConfig struct {
	Root string `yaml:"root" env:"STORAGE_ROOT" env-default:"./data/files"`
	// SigningKey signs file URLs. Server will fail to start if this is not set.
	SigningKey string `yaml:"-" env:"STORAGE_SIGNING_KEY"` // Secret - not in YAML
	// URLTTL is the validity of issued file links. Keep it above Cache.SignedURLTTL.
	URLTTL      time.Duration `yaml:"url_ttl" env:"STORAGE_URL_TTL" env-default:"1h"`
	MaxUploadMB int64         `yaml:"max_upload_mb" env:"STORAGE_MAX_UPLOAD_MB" env-default:"50"`
}

// ExtractionConfig holds the document extraction backend configuration.
type ExtractionConfig struct {
	Provider     string `yaml:"provider" env:"EXTRACTION_PROVIDER" env-default:"openai"` // openai | anthropic
	Endpoint     string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:""`              // OpenAI-compatible base URL
	Model        string `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey       string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	MaxTokens    int    `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"4096"`
	MaxPages     int    `yaml:"max_pages" env:"EXTRACTION_MAX_PAGES" env-default:"20"`
	MaxTextChars int    `yaml:"max_text_chars" env:"EXTRACTION_MAX_TEXT_CHARS" env-default:"60000"`
	OCRLanguages string `yaml:"ocr_languages" env:"OCR_LANGUAGES" env-default:"spa+eng"`
}

// Enabled reports whether PDF and image extraction can run.
// Spreadsheet imports do not need a model.
func (e *ExtractionConfig) Enabled() bool {
	return e.Model != ""
}

// ImportConfig controls document import fan-out.
type ImportConfig struct {
	// Concurrency is how many tablas of one document are extracted at once.
	Concurrency int `yaml:"concurrency" env:"IMPORT_CONCURRENCY" env-default:"4"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Secrets (PGPASSWORD, STORAGE_SIGNING_KEY, LLM_API_KEY) must come from
// environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Reach services on the host when running in a container
	cfg.Database.Host = ResolveHostForDocker(cfg.Database.Host)
	cfg.Extraction.Endpoint = ResolveURLForDocker(cfg.Extraction.Endpoint)

	// Auto-derive BaseURL from Port if not explicitly set
	// Use HTTPS scheme if TLS is configured
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Storage.SigningKey == "" {
		return fmt.Errorf("STORAGE_SIGNING_KEY is required")
	}
	if c.Import.Concurrency < 1 {
		return fmt.Errorf("import concurrency must be at least 1, got %d", c.Import.Concurrency)
	}
	switch strings.ToLower(c.Extraction.Provider) {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown extraction provider %q", c.Extraction.Provider)
	}
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	// Both must be provided together or both empty
	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	// If both provided, verify files exist (actual readability checked by tls.LoadX509KeyPair at startup)
	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
