package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultAppName             = "LexConsultWallet"
	defaultAppEnv              = "development"
	defaultPort                = "8080"
	defaultLogLevel            = "info"
	defaultShutdownDelay       = 10 * time.Second
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultGatewayTimeout      = 10 * time.Second
	defaultStoreTimeout        = 10 * time.Second
	defaultLedgerMaxAttempts   = 5
	defaultHistoryMaxLimit     = 200
	defaultCurrency            = "INR"
	defaultWithdrawalRateLimit = 5
	developmentJWTSecret       = "development-only-secret"

	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret            string
	PaymentSigningSecret string

	PayoutGatewayURL    string
	PayoutGatewayKey    string
	PayoutGatewaySecret string
	OrderGatewayURL     string
	GatewayTimeout      time.Duration

	StoreTimeout        time.Duration
	LedgerMaxAttempts   int
	HistoryMaxLimit     int
	Currency            string
	WithdrawalRateLimit int
}

// source resolves a key from the environment first, then from the optional
// YAML file named by CONFIG_FILE.
type source struct {
	file map[string]string
}

func (s source) get(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	if v := s.file[key]; v != "" {
		return v
	}
	return fallback
}

func (s source) positiveInt(key string, fallback int) (int, error) {
	v := s.get(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return n, nil
}

func (s source) duration(key string, fallback time.Duration) (time.Duration, error) {
	v := s.get(key, "")
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// secondsOrDuration reads an integer seconds key, falling back to a Go
// duration key.
func (s source) secondsOrDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := s.get(secondsKey, ""); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	return s.duration(durationKey, fallback)
}

// Load reads configuration from the environment, an optional .env file in the
// working directory and an optional YAML file named by CONFIG_FILE. Environment
// variables win over both files.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	src := source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		values, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = values
	}

	cfg := Config{
		AppName:              src.get("APP_NAME", defaultAppName),
		AppEnv:               src.get("APP_ENV", defaultAppEnv),
		Port:                 src.get("PORT", defaultPort),
		LogLevel:             strings.ToLower(src.get("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:          src.get("DATABASE_URL", ""),
		RedisURL:             src.get("REDIS_URL", ""),
		JWTSecret:            src.get("JWT_SECRET", ""),
		PaymentSigningSecret: src.get("PAYMENT_SIGNING_SECRET", ""),
		PayoutGatewayURL:     src.get("PAYOUT_GATEWAY_URL", ""),
		PayoutGatewayKey:     src.get("PAYOUT_GATEWAY_KEY", ""),
		PayoutGatewaySecret:  src.get("PAYOUT_GATEWAY_SECRET", ""),
		OrderGatewayURL:      src.get("ORDER_GATEWAY_URL", ""),
		Currency:             strings.ToUpper(src.get("CURRENCY", defaultCurrency)),
	}

	var err error
	if cfg.ShutdownPeriod, err = src.secondsOrDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = src.secondsOrDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.GatewayTimeout, err = src.duration("GATEWAY_TIMEOUT", defaultGatewayTimeout); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = src.duration("STORE_TIMEOUT", defaultStoreTimeout); err != nil {
		return Config{}, err
	}
	if cfg.LedgerMaxAttempts, err = src.positiveInt("LEDGER_MAX_ATTEMPTS", defaultLedgerMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.HistoryMaxLimit, err = src.positiveInt("HISTORY_MAX_LIMIT", defaultHistoryMaxLimit); err != nil {
		return Config{}, err
	}
	if cfg.WithdrawalRateLimit, err = src.positiveInt("WITHDRAWAL_RATE_LIMIT", defaultWithdrawalRateLimit); err != nil {
		return Config{}, err
	}

	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", cfg.AppEnv)
		}
	} else if cfg.JWTSecret == "" {
		cfg.JWTSecret = developmentJWTSecret
	}

	return cfg, nil
}

func readFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var values map[string]string
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return values, nil
}

// IsDevelopment reports whether the service runs locally, where Postgres and
// Redis are optional.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
