package orders

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type ReliabilityConfig struct {
	RetryMaxAttempts    int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	PaceInterval        time.Duration
	PaceBurst           int
}

// DefaultReliabilityConfig is used when the env vars are unset.
func DefaultReliabilityConfig() ReliabilityConfig {
	return ReliabilityConfig{
		RetryMaxAttempts:    3,
		RetryBaseDelay:      100 * time.Millisecond,
		RetryMaxDelay:       2 * time.Second,
		BreakerMaxFailures:  5,
		BreakerResetTimeout: 5 * time.Second,
		PaceInterval:        50 * time.Millisecond,
		PaceBurst:           20,
	}
}

// LoadReliabilityConfigFromEnv reads gateway reliability settings.
// Each var falls back to its default when unset.
func LoadReliabilityConfigFromEnv() (ReliabilityConfig, error) {
	cfg := DefaultReliabilityConfig()
	var err error

	if cfg.RetryMaxAttempts, err = parseOptionalInt("GATEWAY_RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts); err != nil {
		return cfg, err
	}
	if cfg.RetryBaseDelay, err = parseOptionalDuration("GATEWAY_RETRY_BASE_DELAY", cfg.RetryBaseDelay); err != nil {
		return cfg, err
	}
	if cfg.RetryMaxDelay, err = parseOptionalDuration("GATEWAY_RETRY_MAX_DELAY", cfg.RetryMaxDelay); err != nil {
		return cfg, err
	}
	if cfg.BreakerMaxFailures, err = parseOptionalInt("GATEWAY_BREAKER_MAX_FAILURES", cfg.BreakerMaxFailures); err != nil {
		return cfg, err
	}
	if cfg.BreakerResetTimeout, err = parseOptionalDuration("GATEWAY_BREAKER_RESET_TIMEOUT", cfg.BreakerResetTimeout); err != nil {
		return cfg, err
	}
	if cfg.PaceInterval, err = parseOptionalDuration("GATEWAY_PACE_INTERVAL", cfg.PaceInterval); err != nil {
		return cfg, err
	}
	if cfg.PaceBurst, err = parseOptionalInt("GATEWAY_PACE_BURST", cfg.PaceBurst); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Wrap applies the configured reliability controls around a gateway.
func (cfg ReliabilityConfig) Wrap(base PaymentGateway) PaymentGateway {
	var pacer *Pacer
	if cfg.PaceInterval > 0 && cfg.PaceBurst > 0 {
		pacer = NewPacer(cfg.PaceInterval, cfg.PaceBurst)
	}
	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:  cfg.BreakerMaxFailures,
		ResetTimeout: cfg.BreakerResetTimeout,
	})
	retry := RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}
	return NewReliableGateway(base, pacer, breaker, retry)
}

func parseOptionalDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, errors.New(name + " must be >= 0")
	}
	return val, nil
}

func parseOptionalInt(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return 0, errors.New(name + " must be >= 0")
	}
	return val, nil
}
