// Package config provides configuration management for the literature resolver.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SSL mode constants for database connections.
const (
	// SSLModeDisable disables SSL (use only for local development).
	SSLModeDisable = "disable"
	// SSLModeRequire requires SSL but does not verify certificates.
	SSLModeRequire = "require"
	// SSLModeVerifyCA verifies the server certificate against a CA.
	SSLModeVerifyCA = "verify-ca"
	// SSLModeVerifyFull verifies the server certificate and hostname.
	SSLModeVerifyFull = "verify-full"
)

// envPrefix is the prefix for every environment variable read by Load.
const envPrefix = "LITRESOLVER"

// Config holds all configuration for the literature resolver.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Database contains PostgreSQL connection settings.
	Database DatabaseConfig `mapstructure:"database"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Redis contains the shared governor state store settings.
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka contains resolution event publisher settings.
	Kafka KafkaConfig `mapstructure:"kafka"`
	// Cache contains freshness cache settings.
	Cache CacheConfig `mapstructure:"cache"`
	// PaperSources contains provider API configurations.
	PaperSources PaperSourcesConfig `mapstructure:"paper_sources"`
	// LLM contains generative-text provider settings.
	LLM LLMConfig `mapstructure:"llm"`
	// Extraction contains generative-candidate extraction limits.
	Extraction ExtractionConfig `mapstructure:"extraction"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// MetricsPort is the metrics server port (default: 9091).
	MetricsPort int `mapstructure:"metrics_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	// Host is the PostgreSQL server hostname.
	Host string `mapstructure:"host"`
	// Port is the PostgreSQL server port (default: 5432).
	Port int `mapstructure:"port"`
	// User is the database username.
	User string `mapstructure:"user"`
	// Password is the database password (use environment variable in production).
	Password string `mapstructure:"password"`
	// Name is the database name.
	Name string `mapstructure:"name"`
	// SSLMode controls SSL connection security (require, verify-ca, verify-full, disable).
	SSLMode string `mapstructure:"ssl_mode"`
	// MaxConns is the maximum number of connections in the pool (default: 20).
	MaxConns int32 `mapstructure:"max_conns"`
	// MinConns is the minimum number of connections to keep open (default: 2).
	MinConns int32 `mapstructure:"min_conns"`
	// MaxConnLifetime is the maximum lifetime of a connection before it's closed.
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	// MaxConnIdleTime is the maximum time a connection can be idle before it's closed.
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	// HealthCheckPeriod is the interval between health checks of idle connections.
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	// ConnectTimeout is the maximum time to wait for a connection.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	// MigrationPath is the path to migration files (relative or absolute).
	MigrationPath string `mapstructure:"migration_path"`
	// MigrationAutoRun enables automatic migration on startup (default: false).
	MigrationAutoRun bool `mapstructure:"migration_auto_run"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr, file path).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// RedisConfig holds settings for the shared rate-window and circuit store.
// When disabled, governor state lives in process memory.
type RedisConfig struct {
	// Enabled switches governor state to Redis.
	Enabled bool `mapstructure:"enabled"`
	// Addr is the Redis server address (host:port).
	Addr string `mapstructure:"addr"`
	// Password is the Redis password (loaded from LITRESOLVER_REDIS_PASSWORD).
	Password string `mapstructure:"-"`
	// DB is the Redis logical database.
	DB int `mapstructure:"db"`
	// KeyPrefix namespaces every governor key.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// KafkaConfig holds Kafka publisher settings for resolution events.
type KafkaConfig struct {
	// Enabled controls whether Kafka publishing is active.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic resolution events are published to.
	Topic string `mapstructure:"topic"`
	// BatchSize is the maximum number of messages to batch before sending.
	BatchSize int `mapstructure:"batch_size"`
	// BatchTimeout is the maximum time to wait for a batch to fill before sending.
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
}

// CacheConfig holds freshness cache settings.
type CacheConfig struct {
	// TTL is how long a cached query result is served without a live refresh.
	TTL time.Duration `mapstructure:"ttl"`
	// SearchLimit is the number of results requested from the primary provider.
	SearchLimit int `mapstructure:"search_limit"`
	// FetchTimeout bounds a shared (coalesced) provider fetch.
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
}

// PaperSourcesConfig holds configuration for all provider APIs.
type PaperSourcesConfig struct {
	// SemanticScholar is the primary bibliographic provider.
	SemanticScholar PaperSourceConfig `mapstructure:"semantic_scholar"`
	// Crossref is the DOI-metadata provider.
	Crossref PaperSourceConfig `mapstructure:"crossref"`
	// PubMed is the biomedical literature provider.
	PubMed PaperSourceConfig `mapstructure:"pubmed"`
}

// PaperSourceConfig holds configuration for a single provider API.
type PaperSourceConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is the API key (loaded from environment variable, e.g. LITRESOLVER_PAPER_SOURCES_SEMANTIC_SCHOLAR_API_KEY).
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second (token bucket under the governor).
	RateLimit float64 `mapstructure:"rate_limit"`
	// Mailto is sent to providers that offer a polite pool for identified clients.
	Mailto string `mapstructure:"mailto"`
	// Governor contains the sliding-window and circuit breaker settings.
	Governor GovernorConfig `mapstructure:"governor"`
}

// GovernorConfig holds rate governor and circuit breaker settings for one endpoint.
type GovernorConfig struct {
	// Window is the trailing window over which the quota applies.
	Window time.Duration `mapstructure:"window"`
	// QuotaUnauthenticated is the per-window quota without an API key.
	QuotaUnauthenticated int `mapstructure:"quota_unauthenticated"`
	// QuotaAuthenticated is the per-window quota with an API key.
	QuotaAuthenticated int `mapstructure:"quota_authenticated"`
	// BaseSpacing is the minimum interval between admitted calls at low utilization.
	BaseSpacing time.Duration `mapstructure:"base_spacing"`
	// SpacingJitter is the maximum random delay added to each spacing wait.
	SpacingJitter time.Duration `mapstructure:"spacing_jitter"`
	// AdmissionJitter is the maximum random delay added after waiting for a full window.
	AdmissionJitter time.Duration `mapstructure:"admission_jitter"`
	// UtilizationMid doubles spacing once window utilization reaches it.
	UtilizationMid float64 `mapstructure:"utilization_mid"`
	// UtilizationHigh triples spacing once window utilization reaches it.
	UtilizationHigh float64 `mapstructure:"utilization_high"`
	// CircuitThreshold is the number of consecutive failures that opens the circuit.
	CircuitThreshold int `mapstructure:"circuit_threshold"`
	// CircuitCooldown is how long the circuit stays open after the last failure.
	CircuitCooldown time.Duration `mapstructure:"circuit_cooldown"`
	// RateLimitRetries is the maximum number of rate-limited (429/403) attempts.
	RateLimitRetries int `mapstructure:"rate_limit_retries"`
	// RateLimitBaseDelay is the first backoff delay on 429/403; it doubles per retry.
	RateLimitBaseDelay time.Duration `mapstructure:"rate_limit_base_delay"`
	// RateLimitMaxDelay caps the 429/403 backoff delay.
	RateLimitMaxDelay time.Duration `mapstructure:"rate_limit_max_delay"`
	// TransientRetries is the maximum number of attempts on network errors and 5xx.
	TransientRetries int `mapstructure:"transient_retries"`
	// TransientDelay is the linear step between transient retries.
	TransientDelay time.Duration `mapstructure:"transient_delay"`
}

// LLMConfig holds generative-text provider configuration.
type LLMConfig struct {
	// Enabled turns on generative discovery.
	Enabled bool `mapstructure:"enabled"`
	// Provider is the LLM provider (openai, anthropic).
	Provider string `mapstructure:"provider"`
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries for failed calls.
	MaxRetries int `mapstructure:"max_retries"`
	// Temperature is the LLM temperature setting.
	Temperature float64 `mapstructure:"temperature"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// OpenAIConfig holds OpenAI-specific settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key (loaded from LITRESOLVER_LLM_OPENAI_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// Model is the OpenAI model to use.
	Model string `mapstructure:"model"`
	// BaseURL is the OpenAI API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// AnthropicConfig holds Anthropic-specific settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (loaded from LITRESOLVER_LLM_ANTHROPIC_API_KEY env var).
	APIKey string `mapstructure:"-"`
	// Model is the Anthropic model to use.
	Model string `mapstructure:"model"`
	// BaseURL is the Anthropic API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// ExtractionConfig bounds generative-candidate extraction.
type ExtractionConfig struct {
	// DefaultMaxResults applies when a request does not set max_results.
	DefaultMaxResults int `mapstructure:"default_max_results"`
	// MaxResultsCeiling is the hard upper bound on max_results.
	MaxResultsCeiling int `mapstructure:"max_results_ceiling"`
	// TitleFallbackLimit bounds per-request title-search lookups for unmatched candidates.
	TitleFallbackLimit int `mapstructure:"title_fallback_limit"`
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	params := url.Values{}
	params.Set("sslmode", c.SSLMode)
	if c.ConnectTimeout > 0 {
		params.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		params.Encode(),
	)
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// MetricsAddress returns the metrics server address.
func (c *ServerConfig) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}

// Quota returns the per-window quota for an authenticated or anonymous client.
func (c GovernorConfig) Quota(authenticated bool) int {
	if authenticated {
		return c.QuotaAuthenticated
	}
	return c.QuotaUnauthenticated
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/literature-resolver")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Secrets never come from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.LLM.OpenAI.APIKey = os.Getenv(envPrefix + "_LLM_OPENAI_API_KEY")
	cfg.LLM.Anthropic.APIKey = os.Getenv(envPrefix + "_LLM_ANTHROPIC_API_KEY")

	cfg.PaperSources.SemanticScholar.APIKey = os.Getenv(envPrefix + "_PAPER_SOURCES_SEMANTIC_SCHOLAR_API_KEY")
	cfg.PaperSources.Crossref.APIKey = os.Getenv(envPrefix + "_PAPER_SOURCES_CROSSREF_API_KEY")
	cfg.PaperSources.PubMed.APIKey = os.Getenv(envPrefix + "_PAPER_SOURCES_PUBMED_API_KEY")

	cfg.Redis.Password = os.Getenv(envPrefix + "_REDIS_PASSWORD")
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9091)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "litresolver")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "literature_resolver")
	// Use LITRESOLVER_DATABASE_SSL_MODE=disable for local development.
	v.SetDefault("database.ssl_mode", SSLModeRequire)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "30m")
	v.SetDefault("database.health_check_period", "30s")
	v.SetDefault("database.connect_timeout", "10s")
	v.SetDefault("database.migration_path", "migrations")
	v.SetDefault("database.migration_auto_run", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "literature_resolver")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "litresolver:governor")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "events.literature_resolver")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout", "10ms")

	v.SetDefault("cache.ttl", "6h")
	v.SetDefault("cache.search_limit", 12)
	v.SetDefault("cache.fetch_timeout", "2m")

	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("paper_sources.semantic_scholar.enabled", true)
	v.SetDefault("paper_sources.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("paper_sources.semantic_scholar.timeout", "30s")
	v.SetDefault("paper_sources.semantic_scholar.rate_limit", 10.0)
	setGovernorDefaults(v, "paper_sources.semantic_scholar.governor", 950, 90, time.Second)

	v.SetDefault("paper_sources.crossref.enabled", true)
	v.SetDefault("paper_sources.crossref.base_url", "https://api.crossref.org")
	v.SetDefault("paper_sources.crossref.timeout", "20s")
	v.SetDefault("paper_sources.crossref.rate_limit", 10.0)
	v.SetDefault("paper_sources.crossref.mailto", "")
	setGovernorDefaults(v, "paper_sources.crossref.governor", 2500, 2500, 200*time.Millisecond)

	v.SetDefault("paper_sources.pubmed.enabled", true)
	v.SetDefault("paper_sources.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("paper_sources.pubmed.timeout", "20s")
	v.SetDefault("paper_sources.pubmed.rate_limit", 3.0) // NCBI allows 3 req/sec without an API key
	setGovernorDefaults(v, "paper_sources.pubmed.governor", 900, 3000, 350*time.Millisecond)

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", "90s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.anthropic.model", "claude-3-5-sonnet-20241022")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")

	v.SetDefault("extraction.default_max_results", 12)
	v.SetDefault("extraction.max_results_ceiling", 25)
	v.SetDefault("extraction.title_fallback_limit", 5)
}

func setGovernorDefaults(v *viper.Viper, prefix string, anonQuota, authQuota int, spacing time.Duration) {
	v.SetDefault(prefix+".window", "5m")
	v.SetDefault(prefix+".quota_unauthenticated", anonQuota)
	v.SetDefault(prefix+".quota_authenticated", authQuota)
	v.SetDefault(prefix+".base_spacing", spacing)
	v.SetDefault(prefix+".spacing_jitter", "250ms")
	v.SetDefault(prefix+".admission_jitter", "5s")
	v.SetDefault(prefix+".utilization_mid", 0.6)
	v.SetDefault(prefix+".utilization_high", 0.8)
	v.SetDefault(prefix+".circuit_threshold", 5)
	v.SetDefault(prefix+".circuit_cooldown", "10m")
	v.SetDefault(prefix+".rate_limit_retries", 5)
	v.SetDefault(prefix+".rate_limit_base_delay", "2s")
	v.SetDefault(prefix+".rate_limit_max_delay", "30s")
	v.SetDefault(prefix+".transient_retries", 3)
	v.SetDefault(prefix+".transient_delay", "1s")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MetricsPort <= 0 || c.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.Server.MetricsPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid database port: %d", c.Database.Port)
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns (%d) must be >= min_conns (%d)", c.Database.MaxConns, c.Database.MinConns)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required when redis is enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required when kafka is enabled")
	}

	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.Cache.SearchLimit <= 0 {
		return fmt.Errorf("cache search_limit must be positive")
	}

	sources := map[string]PaperSourceConfig{
		"semantic_scholar": c.PaperSources.SemanticScholar,
		"crossref":         c.PaperSources.Crossref,
		"pubmed":           c.PaperSources.PubMed,
	}
	for name, src := range sources {
		if err := src.Governor.validate(); err != nil {
			return fmt.Errorf("paper_sources.%s.governor: %w", name, err)
		}
	}

	if c.Extraction.DefaultMaxResults <= 0 {
		return fmt.Errorf("extraction default_max_results must be positive")
	}
	if c.Extraction.DefaultMaxResults > c.Extraction.MaxResultsCeiling {
		return fmt.Errorf("extraction default_max_results (%d) must be <= max_results_ceiling (%d)",
			c.Extraction.DefaultMaxResults, c.Extraction.MaxResultsCeiling)
	}
	if c.Extraction.TitleFallbackLimit < 0 {
		return fmt.Errorf("extraction title_fallback_limit must not be negative")
	}

	if c.LLM.Enabled {
		switch strings.ToLower(c.LLM.Provider) {
		case "openai":
			if c.LLM.OpenAI.APIKey == "" {
				return fmt.Errorf("LLM provider %q requires %s_LLM_OPENAI_API_KEY to be set", c.LLM.Provider, envPrefix)
			}
		case "anthropic":
			if c.LLM.Anthropic.APIKey == "" {
				return fmt.Errorf("LLM provider %q requires %s_LLM_ANTHROPIC_API_KEY to be set", c.LLM.Provider, envPrefix)
			}
		default:
			return fmt.Errorf("unsupported LLM provider: %q", c.LLM.Provider)
		}
	}

	return nil
}

func (g GovernorConfig) validate() error {
	if g.Window <= 0 {
		return fmt.Errorf("window must be positive")
	}
	if g.QuotaUnauthenticated <= 0 || g.QuotaAuthenticated <= 0 {
		return fmt.Errorf("quotas must be positive")
	}
	if !(g.UtilizationMid > 0 && g.UtilizationMid < g.UtilizationHigh && g.UtilizationHigh <= 1) {
		return fmt.Errorf("utilization thresholds must satisfy 0 < mid < high <= 1")
	}
	if g.CircuitThreshold <= 0 {
		return fmt.Errorf("circuit_threshold must be positive")
	}
	if g.RateLimitRetries < 0 || g.TransientRetries < 1 {
		return fmt.Errorf("retry counts out of range")
	}
	return nil
}
