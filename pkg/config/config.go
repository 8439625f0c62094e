package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all bridge settings. Everything is optional except the
// specification source and the upstream base URL; absent optional settings
// disable the corresponding feature instead of failing startup.
type Config struct {
	// SpecSource is a filesystem path, an http(s) URL, or "db:<name>" for a
	// specification stored in Postgres.
	SpecSource string `yaml:"spec_source"`

	BaseURL  string `yaml:"base_url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// ProxyUserID is the delegated user on whose behalf upstream calls are
	// made. May be changed at runtime through the proxy-user tools.
	ProxyUserID string `yaml:"proxy_user_id"`

	// AmazonMarketplaceID is passed to the vendor access-token endpoint.
	AmazonMarketplaceID string `yaml:"amazon_marketplace_id"`

	DatabaseURL string `yaml:"database_url"`

	// TLSInsecure disables certificate validation toward the upstream.
	// Defaults to false; the upstream environment with self-signed
	// certificates must opt in explicitly.
	TLSInsecure bool `yaml:"tls_insecure"`

	// ValidateBody turns advisory request-body schema validation into a
	// hard per-call error.
	ValidateBody bool `yaml:"validate_body"`

	HTTPMode bool   `yaml:"-"`
	HTTPAddr string `yaml:"-"`
}

// Load builds the configuration from an optional YAML file (BRIDGE_CONFIG)
// layered under environment variables, then applies command line arguments.
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("BRIDGE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		log.Printf("Loaded configuration defaults from %s", path)
	}

	applyEnv(&cfg.SpecSource, "OPENAPI_SPEC")
	applyEnv(&cfg.BaseURL, "API_BASE_URL")
	applyEnv(&cfg.Username, "API_USERNAME")
	applyEnv(&cfg.Password, "API_PASSWORD")
	applyEnv(&cfg.ProxyUserID, "API_PROXY_USER_ID")
	applyEnv(&cfg.AmazonMarketplaceID, "AMAZON_MARKETPLACE_ID")
	applyEnv(&cfg.DatabaseURL, "DATABASE_URL")
	if v := os.Getenv("API_TLS_INSECURE"); v != "" {
		cfg.TLSInsecure = v == "true" || v == "1"
	}
	if v := os.Getenv("VALIDATE_BODY"); v != "" {
		cfg.ValidateBody = v == "true" || v == "1"
	}

	httpValueIndex := -1
	for i, arg := range args {
		switch {
		case arg == "--http" && i+1 < len(args):
			cfg.HTTPMode = true
			cfg.HTTPAddr = args[i+1]
			httpValueIndex = i + 1
		case i != httpValueIndex && cfg.SpecSource == "" && !strings.HasPrefix(arg, "--"):
			cfg.SpecSource = arg
		}
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(content, c)
}

func applyEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks that the settings required for startup are present.
func (c *Config) Validate() error {
	if c.SpecSource == "" {
		return fmt.Errorf("no OpenAPI specification source provided (set OPENAPI_SPEC or pass a path/URL argument)")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if strings.HasPrefix(c.SpecSource, "db:") && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the db: specification source")
	}
	return nil
}

// HasBasicCredentials reports whether username and password are both set.
func (c *Config) HasBasicCredentials() bool {
	return c.Username != "" && c.Password != ""
}

// LogConfiguration logs the effective configuration with secrets masked.
func (c *Config) LogConfiguration() {
	log.Printf("Specification source: %s", c.SpecSource)
	log.Printf("Upstream base URL: %s", c.BaseURL)
	if c.Username != "" {
		log.Printf("Basic auth user: %s", c.Username)
	}
	if c.ProxyUserID != "" {
		log.Printf("Delegated proxy user: %s", c.ProxyUserID)
	}
	if c.AmazonMarketplaceID != "" {
		log.Printf("Amazon marketplace: %s", c.AmazonMarketplaceID)
	}
	if c.DatabaseURL != "" {
		log.Printf("Database: %s", MaskSensitive(c.DatabaseURL))
	}
	if c.TLSInsecure {
		log.Printf("WARNING: upstream certificate validation is disabled")
	}
	if c.HTTPMode {
		log.Printf("HTTP server will start on %s", c.HTTPAddr)
	}
}

// MaskSensitive masks sensitive parts of values for logging
func MaskSensitive(value string) string {
	if len(value) > 20 {
		return value[:8] + "***" + value[len(value)-8:]
	}
	return "***"
}
