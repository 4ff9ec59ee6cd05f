package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// RedisConfig holds Redis connection and behavior settings. Redis is
// optional: when REDIS_URL is unset the server runs on in-memory
// counters and skips the stream sink.
type RedisConfig struct {
	URL                string
	Stream             string
	DialTimeout        *time.Duration
	ReadTimeout        *time.Duration
	WriteTimeout       *time.Duration
	PoolSize           *int
	MinIdleConns       *int
	MaxRetries         *int
	HealthcheckTimeout time.Duration
	EventTTL           time.Duration
	StreamMaxLen       int64
	EnableOTel         bool
	TLSConfig          *tls.Config
}

// RabbitConfig holds the optional RabbitMQ event sink settings.
type RabbitConfig struct {
	URL      string
	Exchange string
}

// HTTPConfig holds the public HTTP listener settings.
type HTTPConfig struct {
	Addr              string
	ShutdownTimeout   time.Duration
	ReadHeaderTimeout time.Duration
}

// LimitsConfig holds per-window request budgets for the fixed-window
// rate limiter. Nil values mean "use the built-in default".
type LimitsConfig struct {
	CartSync       *int
	CartSyncWindow *time.Duration
	Mutation       *int
	MutationWindow *time.Duration
	Strict         bool
}

// OrdersConfig holds order service and reaper tuning knobs. Nil
// values mean "use the built-in default".
type OrdersConfig struct {
	IdempotencyTTL    *time.Duration
	IdempotencyStrict bool
	ReservationTTL    *time.Duration
	ReaperInterval    *time.Duration
	ReaperBatch       *int
	HeartbeatThrottle time.Duration
	InternalToken     string
}

// LoadOrders reads order service tuning from env.
func LoadOrders() (OrdersConfig, error) {
	cfg := OrdersConfig{
		InternalToken: strings.TrimSpace(os.Getenv("INTERNAL_TOKEN")),
	}
	var err error

	if cfg.IdempotencyTTL, err = optionalDuration("IDEMPOTENCY_TTL"); err != nil {
		return cfg, err
	}
	if cfg.IdempotencyStrict, err = optionalBool("IDEMPOTENCY_STRICT"); err != nil {
		return cfg, err
	}
	if cfg.ReservationTTL, err = optionalDuration("RESERVATION_TTL"); err != nil {
		return cfg, err
	}
	if cfg.ReaperInterval, err = optionalDuration("REAPER_INTERVAL"); err != nil {
		return cfg, err
	}
	if cfg.ReaperBatch, err = optionalInt("REAPER_BATCH"); err != nil {
		return cfg, err
	}
	if cfg.HeartbeatThrottle, err = durationOrDefault("CART_HEARTBEAT_THROTTLE", 30*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadRedis reads Redis config from env. The second return reports
// whether Redis is enabled at all.
func LoadRedis() (RedisConfig, bool, error) {
	cfg := RedisConfig{
		URL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
		Stream: strings.TrimSpace(os.Getenv("REDIS_STREAM")),
	}
	if cfg.URL == "" {
		return cfg, false, nil
	}

	var err error
	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, false, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, false, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, false, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, false, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, false, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, false, err
	}

	if cfg.HealthcheckTimeout, err = durationOrDefault("REDIS_HEALTHCHECK_TIMEOUT", 2*time.Second); err != nil {
		return cfg, false, err
	}
	if cfg.EventTTL, err = durationOrDefault("REDIS_EVENT_TTL", 24*time.Hour); err != nil {
		return cfg, false, err
	}
	if cfg.StreamMaxLen, err = int64OrDefault("REDIS_STREAM_MAXLEN", 10000); err != nil {
		return cfg, false, err
	}

	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, false, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, false, err
	}

	return cfg, true, nil
}

// LoadRabbit reads RabbitMQ sink config from env. The second return
// reports whether the sink is enabled.
func LoadRabbit() (RabbitConfig, bool) {
	cfg := RabbitConfig{
		URL:      strings.TrimSpace(os.Getenv("RABBIT_URL")),
		Exchange: strings.TrimSpace(os.Getenv("RABBIT_EXCHANGE")),
	}
	if cfg.URL == "" {
		return cfg, false
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "sitecart.orders"
	}
	return cfg, true
}

// LoadHTTP reads the public HTTP listener settings from env.
func LoadHTTP() (HTTPConfig, error) {
	cfg := HTTPConfig{
		Addr: strings.TrimSpace(os.Getenv("HTTP_ADDR")),
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}

	var err error
	if cfg.ShutdownTimeout, err = durationOrDefault("HTTP_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	if cfg.ReadHeaderTimeout, err = durationOrDefault("HTTP_READ_HEADER_TIMEOUT", 5*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadLimits reads rate limiter overrides from env.
func LoadLimits() (LimitsConfig, error) {
	var cfg LimitsConfig
	var err error

	if cfg.CartSync, err = optionalInt("RATE_LIMIT_CART_SYNC"); err != nil {
		return cfg, err
	}
	if cfg.CartSyncWindow, err = optionalDuration("RATE_LIMIT_CART_SYNC_WINDOW"); err != nil {
		return cfg, err
	}
	if cfg.Mutation, err = optionalInt("RATE_LIMIT_MUTATION"); err != nil {
		return cfg, err
	}
	if cfg.MutationWindow, err = optionalDuration("RATE_LIMIT_MUTATION_WINDOW"); err != nil {
		return cfg, err
	}
	if cfg.Strict, err = optionalBool("RATE_LIMIT_STRICT"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func durationOrDefault(name string, fallback time.Duration) (time.Duration, error) {
	val, err := optionalDuration(name)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return fallback, nil
	}
	return *val, nil
}

func int64OrDefault(name string, fallback int64) (int64, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("%s must be >= 0", name)
	}
	return val, nil
}
