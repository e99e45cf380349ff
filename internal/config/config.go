package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/solven/escrow/internal/apperr"
	"github.com/solven/escrow/internal/commission"
)

const (
	defaultAppName        = "SolvenEscrow"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultCommissionRate = "0.05"
	defaultWithdrawalFee  = "50"
	defaultCurrency       = "NGN"
	defaultGatewayTimeout = 15 * time.Second
	defaultGatewayRetries = 3
	defaultOTPTTL         = 10 * time.Minute
	defaultAccessTTL      = 15 * time.Minute
	defaultRefreshTTL     = 30 * 24 * time.Hour
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	RedisURL       string
	DBMaxConns     int32
	RunMigrations  bool
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	CommissionRate decimal.Decimal
	WithdrawalFee  decimal.Decimal
	Currency       string

	GatewayTimeout    time.Duration
	GatewayRetries    int
	PaystackSecretKey string
	MonnifySecretKey  string

	JWTSecret       string
	RefreshSecret   string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	OTPTTL          time.Duration
}

// Load reads a .env file when present, then the environment, and validates
// the result. Outside development DATABASE_URL, REDIS_URL, JWT secrets and
// gateway keys are mandatory.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:           getEnv("APP_NAME", defaultAppName),
		AppEnv:            getEnv("APP_ENV", defaultAppEnv),
		Port:              getEnv("PORT", defaultPort),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "json")),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		Currency:          strings.ToUpper(getEnv("CURRENCY", defaultCurrency)),
		PaystackSecretKey: os.Getenv("PAYSTACK_SECRET_KEY"),
		MonnifySecretKey:  os.Getenv("MONNIFY_SECRET_KEY"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		RefreshSecret:     os.Getenv("JWT_REFRESH_SECRET"),
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg.ShutdownPeriod = duration("SHUTDOWN_TIMEOUT", defaultShutdownDelay, collect)
	cfg.IdempotencyTTL = duration("IDEMPOTENCY_TTL", defaultIdempotencyTTL, collect)
	cfg.GatewayTimeout = duration("GATEWAY_TIMEOUT", defaultGatewayTimeout, collect)
	cfg.OTPTTL = duration("OTP_TTL", defaultOTPTTL, collect)
	cfg.AccessTokenTTL = duration("ACCESS_TOKEN_TTL", defaultAccessTTL, collect)
	cfg.RefreshTokenTTL = duration("REFRESH_TOKEN_TTL", defaultRefreshTTL, collect)

	cfg.GatewayRetries = integer("GATEWAY_RETRIES", defaultGatewayRetries, collect)
	cfg.DBMaxConns = int32(integer("DB_MAX_CONNS", 0, collect))
	cfg.RunMigrations = boolean("RUN_MIGRATIONS", true, collect)

	cfg.CommissionRate = amount("COMMISSION_RATE", defaultCommissionRate, collect)
	cfg.WithdrawalFee = amount("WITHDRAWAL_FEE", defaultWithdrawalFee, collect)

	if err := commission.ValidateRate(cfg.CommissionRate); err != nil {
		collect(err)
	}
	if cfg.WithdrawalFee.IsNegative() {
		collect(fmt.Errorf("WITHDRAWAL_FEE must not be negative: %w", apperr.ErrInvalidConfiguration))
	}
	if cfg.GatewayRetries < 1 {
		collect(fmt.Errorf("GATEWAY_RETRIES must be at least 1: %w", apperr.ErrInvalidConfiguration))
	}

	if cfg.IsDev() {
		if cfg.JWTSecret == "" {
			cfg.JWTSecret = "dev-access-secret"
		}
		if cfg.RefreshSecret == "" {
			cfg.RefreshSecret = "dev-refresh-secret"
		}
		if cfg.PaystackSecretKey == "" {
			cfg.PaystackSecretKey = "sk_test_sandbox"
		}
		if cfg.MonnifySecretKey == "" {
			cfg.MonnifySecretKey = "mk_test_sandbox"
		}
	} else {
		for key, val := range map[string]string{
			"DATABASE_URL":        cfg.DatabaseURL,
			"REDIS_URL":           cfg.RedisURL,
			"JWT_SECRET":          cfg.JWTSecret,
			"JWT_REFRESH_SECRET":  cfg.RefreshSecret,
			"PAYSTACK_SECRET_KEY": cfg.PaystackSecretKey,
			"MONNIFY_SECRET_KEY":  cfg.MonnifySecretKey,
		} {
			if val == "" {
				collect(fmt.Errorf("%s must be set when APP_ENV=%s: %w", key, cfg.AppEnv, apperr.ErrInvalidConfiguration))
			}
		}
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether in-memory fallbacks and sandbox secrets are allowed.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// duration accepts Go durations ("90s") or a bare number of seconds.
func duration(key string, fallback time.Duration, collect func(error)) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		collect(fmt.Errorf("invalid %s %q: %w", key, v, apperr.ErrInvalidConfiguration))
		return fallback
	}
	return d
}

func integer(key string, fallback int, collect func(error)) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		collect(fmt.Errorf("invalid %s %q: %w", key, v, apperr.ErrInvalidConfiguration))
		return fallback
	}
	return n
}

func boolean(key string, fallback bool, collect func(error)) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		collect(fmt.Errorf("invalid %s %q: %w", key, v, apperr.ErrInvalidConfiguration))
		return fallback
	}
	return b
}

func amount(key, fallback string, collect func(error)) decimal.Decimal {
	v := getEnv(key, fallback)
	d, err := decimal.NewFromString(v)
	if err != nil {
		collect(fmt.Errorf("invalid %s %q: %w", key, v, apperr.ErrInvalidConfiguration))
		return decimal.RequireFromString(fallback)
	}
	return d
}
