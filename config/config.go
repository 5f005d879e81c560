package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates application configuration values.
type Config struct {
	HTTP     HTTPConfig
	Lipila   LipilaConfig
	Gateway  GatewayConfig
	Poll     PollConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Logging  LoggingConfig
}

// HTTPConfig governs HTTP server behaviour.
type HTTPConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LipilaConfig holds the gateway account settings.
type LipilaConfig struct {
	SecretKey   string
	BaseURL     string
	Currency    string
	CountryCode string
	CallbackURL string // default card redirect when the caller gives none
	MockMode    bool
}

// GatewayConfig tunes the retry policy, timeouts and circuit breaker.
type GatewayConfig struct {
	MaxRetries         int
	RetryDelay         time.Duration
	MobileMoneyTimeout time.Duration
	CardTimeout        time.Duration
	StatusTimeout      time.Duration
	BreakerThreshold   int
}

type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// PostgresConfig is optional; without a URL subscriptions are kept in memory.
type PostgresConfig struct {
	URL string
}

// RedisConfig is optional; without an address idempotency marks are kept in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// KafkaConfig is optional; without brokers events are dropped.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level  string
	Format string // text|json
}

const (
	defaultPort               = 8080
	defaultReadTimeout        = 10 * time.Second
	defaultWriteTimeout       = 60 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultBaseURL            = "https://api.lipila.dev/api/v1"
	defaultCurrency           = "ZMW"
	defaultCountryCode        = "260"
	defaultMaxRetries         = 3
	defaultRetryDelay         = time.Second
	defaultMobileMoneyTimeout = 45 * time.Second
	defaultCardTimeout        = 30 * time.Second
	defaultStatusTimeout      = 30 * time.Second
	defaultBreakerThreshold   = 10
	defaultPollInterval       = 3 * time.Second
	defaultPollTimeout        = 5 * time.Minute
	defaultKafkaTopic         = "payment.events"
	defaultLoggingLevel       = "info"
	defaultLoggingFormat      = "text"
)

// Load reads configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Lipila: LipilaConfig{
			SecretKey:   strings.TrimSpace(os.Getenv("LIPILA_SECRET_KEY")),
			BaseURL:     valueOrDefault("LIPILA_BASE_URL", defaultBaseURL),
			Currency:    strings.ToUpper(valueOrDefault("LIPILA_CURRENCY", defaultCurrency)),
			CountryCode: valueOrDefault("LIPILA_COUNTRY_CODE", defaultCountryCode),
			CallbackURL: os.Getenv("LIPILA_CALLBACK_URL"),
			MockMode:    parseBoolWithDefault("LIPILA_MOCK_MODE", false),
		},
		Gateway: GatewayConfig{
			MaxRetries:       parseIntWithDefault("GATEWAY_MAX_RETRIES", defaultMaxRetries),
			BreakerThreshold: parseIntWithDefault("GATEWAY_BREAKER_THRESHOLD", defaultBreakerThreshold),
		},
		Postgres: PostgresConfig{URL: os.Getenv("PG_URL")},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       parseIntWithDefault("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
			Topic:   valueOrDefault("KAFKA_TOPIC", defaultKafkaTopic),
		},
		Logging: LoggingConfig{
			Level:  valueOrDefault("LOG_LEVEL", defaultLoggingLevel),
			Format: valueOrDefault("LOG_FORMAT", defaultLoggingFormat),
		},
	}

	port, err := parsePort("PORT", defaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTP.Port = port

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"GATEWAY_RETRY_DELAY", defaultRetryDelay, &cfg.Gateway.RetryDelay},
		{"GATEWAY_MOBILE_MONEY_TIMEOUT", defaultMobileMoneyTimeout, &cfg.Gateway.MobileMoneyTimeout},
		{"GATEWAY_CARD_TIMEOUT", defaultCardTimeout, &cfg.Gateway.CardTimeout},
		{"GATEWAY_STATUS_TIMEOUT", defaultStatusTimeout, &cfg.Gateway.StatusTimeout},
		{"POLL_INTERVAL", defaultPollInterval, &cfg.Poll.Interval},
		{"POLL_TIMEOUT", defaultPollTimeout, &cfg.Poll.Timeout},
		{"SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout, &cfg.HTTP.ShutdownTimeout},
	}
	for _, d := range durations {
		v, err := parseDurationWithDefault(d.key, d.fallback)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}

	if cfg.Gateway.MaxRetries < 0 {
		return Config{}, fmt.Errorf("GATEWAY_MAX_RETRIES must not be negative, got %d", cfg.Gateway.MaxRetries)
	}
	if cfg.Poll.Interval >= cfg.Poll.Timeout {
		return Config{}, fmt.Errorf("POLL_INTERVAL (%s) must be shorter than POLL_TIMEOUT (%s)", cfg.Poll.Interval, cfg.Poll.Timeout)
	}
	return cfg, nil
}

var placeholderSecrets = []string{"your_secret_key", "your-secret-key", "changeme", "change-me", "secret", "xxx", "placeholder", "todo"}

// CredentialProblem describes why the secret key cannot work, or returns ""
// if it looks usable.
func (c LipilaConfig) CredentialProblem() string {
	key := strings.TrimSpace(c.SecretKey)
	if key == "" {
		return "LIPILA_SECRET_KEY is not set"
	}
	lower := strings.ToLower(key)
	if strings.HasPrefix(lower, "<") && strings.HasSuffix(lower, ">") {
		return "LIPILA_SECRET_KEY still holds a template placeholder"
	}
	if strings.HasPrefix(lower, "your_") || strings.HasPrefix(lower, "your-") {
		return "LIPILA_SECRET_KEY looks like a placeholder"
	}
	for _, p := range placeholderSecrets {
		if lower == p {
			return fmt.Sprintf("LIPILA_SECRET_KEY looks like a placeholder (%q)", p)
		}
	}
	return ""
}

func valueOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolWithDefault(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		val, err := strconv.ParseBool(v)
		if err != nil {
			return fallback
		}
		return val
	}
	return fallback
}

func parseIntWithDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if val, err := strconv.Atoi(v); err == nil {
			return val
		}
	}
	return fallback
}

func parseDurationWithDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func parsePort(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		if port <= 0 || port > 65535 {
			return 0, fmt.Errorf("port %d is out of range", port)
		}
		return port, nil
	}
	return fallback, nil
}

func splitCSV(csv string) []string {
	if csv == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
