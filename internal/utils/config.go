package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMongo    = "mongo"
	StoreDriverMemory   = "memory"
)

type Config struct {
	ServerPort  string
	JWTSecret   string
	JWTTTL      time.Duration
	StoreDriver string
	Postgres    PostgresConfig
	Mongo       MongoConfig
	Redis       RedisConfig
	Logging     LoggingConfig
	OpenAI      OpenAIConfig
	Billing     BillingConfig
	Trial       TrialConfig
	Workspace   WorkspaceConfig
}

type PostgresConfig struct {
	DSN               string
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// RedisConfig is optional; an empty Addr disables the subscription cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CacheTTL time.Duration
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

// OpenAIConfig carries the provider endpoint plus the fixed sampling and image
// parameters. Callers of the completion gateway never override these per request.
type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	ChatModel    string
	ImageModel   string
	Temperature  float64
	MaxTokens    int
	ImageSize    string
	ImageQuality string
	HTTPTimeout  time.Duration
}

// BillingConfig points at the checkout and portal endpoints. WebhookSecret
// guards the subscription replacement hook; empty disables it.
type BillingConfig struct {
	CheckoutEndpoint string
	PortalEndpoint   string
	WebhookSecret    string
	HTTPTimeout      time.Duration
}

// WorkspaceConfig controls eviction of idle per-user chat workspaces. A zero
// IdleTimeout keeps workspaces for the life of the process.
type WorkspaceConfig struct {
	IdleTimeout   time.Duration
	EvictInterval time.Duration
}

type TrialConfig struct {
	Days int
}

// TrialLength returns the configured trial duration.
func (t TrialConfig) TrialLength() time.Duration {
	days := t.Days
	if days <= 0 {
		days = 14
	}
	return time.Duration(days) * 24 * time.Hour
}

func LoadConfig() (*Config, error) {
	port := envOrDefault("PORT", "8080")
	jwtSecret := envOrDefault("JWT_SECRET", "dev-secret")

	pgPort, _ := strconv.Atoi(envOrDefault("POSTGRES_PORT", "5432"))
	maxConns := parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "8"), 8)
	minConns := parseInt32(envOrDefault("POSTGRES_MIN_CONNS", "1"), 1)

	logging := LoggingConfig{
		Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
		Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
		EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
		ServiceName:  envOrDefault("SERVICE_NAME", "lumina-server"),
	}

	cfg := &Config{
		ServerPort:  port,
		JWTSecret:   jwtSecret,
		JWTTTL:      parseDuration(envOrDefault("JWT_TTL", "24h"), 24*time.Hour),
		StoreDriver: strings.ToLower(envOrDefault("STORE_DRIVER", StoreDriverPostgres)),
		Postgres: PostgresConfig{
			DSN:               os.Getenv("POSTGRES_DSN"),
			Host:              envOrDefault("POSTGRES_HOST", "localhost"),
			Port:              pgPort,
			User:              envOrDefault("POSTGRES_USER", "postgres"),
			Password:          envOrDefault("POSTGRES_PASSWORD", "postgres"),
			Database:          envOrDefault("POSTGRES_DB", "lumina"),
			MaxConns:          maxConns,
			MinConns:          minConns,
			MaxConnLifetime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
			MaxConnIdleTime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
			HealthCheckPeriod: parseDuration(envOrDefault("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
			ConnectTimeout:    parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Mongo: MongoConfig{
			URI:            envOrDefault("MONGO_URI", "mongodb://localhost:27017"),
			Database:       envOrDefault("MONGO_DATABASE", "lumina"),
			ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseInt(envOrDefault("REDIS_DB", "0"), 0),
			CacheTTL: parseDuration(envOrDefault("SUBSCRIPTION_CACHE_TTL", "5m"), 5*time.Minute),
		},
		Logging: logging,
		OpenAI: OpenAIConfig{
			BaseURL:      strings.TrimRight(envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"), "/"),
			APIKey:       strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			ChatModel:    envOrDefault("OPENAI_CHAT_MODEL", "gpt-3.5-turbo"),
			ImageModel:   envOrDefault("OPENAI_IMAGE_MODEL", "dall-e-3"),
			Temperature:  parseFloat(envOrDefault("OPENAI_TEMPERATURE", "0.7"), 0.7),
			MaxTokens:    parseInt(envOrDefault("OPENAI_MAX_TOKENS", "1000"), 1000),
			ImageSize:    envOrDefault("OPENAI_IMAGE_SIZE", "1024x1024"),
			ImageQuality: envOrDefault("OPENAI_IMAGE_QUALITY", "standard"),
			HTTPTimeout:  parseDuration(envOrDefault("OPENAI_HTTP_TIMEOUT", "60s"), 60*time.Second),
		},
		Billing: BillingConfig{
			CheckoutEndpoint: strings.TrimSpace(os.Getenv("BILLING_CHECKOUT_ENDPOINT")),
			PortalEndpoint:   strings.TrimSpace(os.Getenv("BILLING_PORTAL_ENDPOINT")),
			WebhookSecret:    strings.TrimSpace(os.Getenv("BILLING_WEBHOOK_SECRET")),
			HTTPTimeout:      parseDuration(envOrDefault("BILLING_HTTP_TIMEOUT", "20s"), 20*time.Second),
		},
		Trial: TrialConfig{
			Days: parseInt(envOrDefault("TRIAL_DAYS", "14"), 14),
		},
		Workspace: WorkspaceConfig{
			IdleTimeout:   parseDuration(envOrDefault("WORKSPACE_IDLE_TIMEOUT", "30m"), 30*time.Minute),
			EvictInterval: parseDuration(envOrDefault("WORKSPACE_EVICT_INTERVAL", "1m"), time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMongo, StoreDriverMemory:
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		return fmt.Errorf("config: OPENAI_TEMPERATURE must be within [0, 2], got %v", c.OpenAI.Temperature)
	}
	if c.OpenAI.MaxTokens <= 0 {
		return fmt.Errorf("config: OPENAI_MAX_TOKENS must be positive")
	}
	return nil
}

func (c PostgresConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

func envOrDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parseInt(value string, fallback int) int {
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return i
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}
