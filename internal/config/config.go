package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken      string `toml:"github_token"`
	GitHubAPIURL     string `toml:"github_api_url"`     // REST base URL, empty for github.com
	GitHubGraphQLURL string `toml:"github_graphql_url"` // GraphQL endpoint, empty for github.com

	// Storage
	StorageType string `toml:"storage_type"` // "sqlite" or "postgres"
	SQLitePath  string `toml:"sqlite_path"`
	PostgresURL string `toml:"postgres_url"`

	// API Server
	APIPort string `toml:"api_port"`
	APIHost string `toml:"api_host"`

	// CLI
	APIEndpoint string `toml:"api_endpoint"`

	// Logging
	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`

	// Extraction
	PageDelay         time.Duration `toml:"page_delay"`
	RequestsPerSecond float64       `toml:"requests_per_second"`
	LeaseTTL          time.Duration `toml:"lease_ttl"`
	CSVExportDir      string        `toml:"csv_export_dir"`

	// Job events
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		StorageType:       "sqlite",
		SQLitePath:        "./extractions.db",
		APIPort:           "8080",
		APIHost:           "localhost",
		APIEndpoint:       "http://localhost:8080",
		LogLevel:          "info",
		PageDelay:         500 * time.Millisecond,
		RequestsPerSecond: 1.2,
		LeaseTTL:          2 * time.Minute,
		KafkaTopic:        "extraction-events",
	}
}

// Load loads the configuration. Values come from the TOML file at path (if
// any), then from environment variables, which win.
func Load(path string) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, &ConfigError{Field: "CONFIG_FILE", Message: err.Error()}
		}
	}

	cfg.GitHubToken = getEnv("GITHUB_TOKEN", cfg.GitHubToken)
	cfg.GitHubAPIURL = getEnv("GITHUB_API_URL", cfg.GitHubAPIURL)
	cfg.GitHubGraphQLURL = getEnv("GITHUB_GRAPHQL_URL", cfg.GitHubGraphQLURL)
	cfg.StorageType = getEnv("STORAGE_TYPE", cfg.StorageType)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.PostgresURL = getEnv("POSTGRES_URL", cfg.PostgresURL)
	cfg.APIPort = getEnv("API_PORT", cfg.APIPort)
	cfg.APIHost = getEnv("API_HOST", cfg.APIHost)
	cfg.APIEndpoint = getEnv("API_ENDPOINT", cfg.APIEndpoint)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.CSVExportDir = getEnv("CSV_EXPORT_DIR", cfg.CSVExportDir)
	cfg.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.KafkaTopic)

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}

	var err error
	if cfg.PageDelay, err = getDuration("PAGE_DELAY", cfg.PageDelay); err != nil {
		return nil, err
	}
	if cfg.LeaseTTL, err = getDuration("LEASE_TTL", cfg.LeaseTTL); err != nil {
		return nil, err
	}
	if v := os.Getenv("REQUESTS_PER_SECOND"); v != "" {
		rps, perr := strconv.ParseFloat(v, 64)
		if perr != nil {
			return nil, &ConfigError{Field: "REQUESTS_PER_SECOND", Message: "must be a number"}
		}
		cfg.RequestsPerSecond = rps
	}

	return cfg, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: "must be a duration such as 500ms"}
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration. The GitHub token is not required
// here because the API accepts one per start request.
func (c *Config) Validate() error {
	if c.StorageType != "sqlite" && c.StorageType != "postgres" {
		return &ConfigError{Field: "STORAGE_TYPE", Message: "must be 'sqlite' or 'postgres'"}
	}
	if c.StorageType == "postgres" && c.PostgresURL == "" {
		return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when STORAGE_TYPE is 'postgres'"}
	}
	if c.PageDelay < 0 {
		return &ConfigError{Field: "PAGE_DELAY", Message: "must not be negative"}
	}
	if c.RequestsPerSecond <= 0 {
		return &ConfigError{Field: "REQUESTS_PER_SECOND", Message: "must be positive"}
	}
	if c.LeaseTTL <= 0 {
		return &ConfigError{Field: "LEASE_TTL", Message: "must be positive"}
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return &ConfigError{Field: "KAFKA_TOPIC", Message: "topic is required when KAFKA_BROKERS is set"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
