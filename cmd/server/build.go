package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"strings"
	"time"

	"sitecart/cmd/server/config"
	"sitecart/internal/cart"
	cartsdb "sitecart/internal/db/carts"
	eventsdb "sitecart/internal/db/events"
	ordersdb "sitecart/internal/db/orders"
	"sitecart/internal/events"
	"sitecart/internal/idempotency"
	"sitecart/internal/orders"
	"sitecart/internal/realtime"
)

var openDB = func(driver, dsn string) (*sql.DB, error) {
	return sql.Open(driver, dsn)
}

// buildCartStore returns a Postgres-backed cart store when a DSN is
// configured and reachable, otherwise an in-memory store so local runs
// work without a database.
func buildCartStore(ctx context.Context, dsn string, logf func(format string, args ...any)) (cart.Store, func()) {
	if dsn == "" {
		return cart.NewMemoryStore(), func() {}
	}

	db, err := openDB("pgx", dsn)
	if err != nil {
		logf("postgres open failed, falling back to in-memory carts: %v", err)
		return cart.NewMemoryStore(), func() {}
	}

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	store, err := cartsdb.NewStoreWithSchema(setupCtx, db)
	if err != nil {
		_ = db.Close()
		logf("cart schema init failed, falling back to in-memory carts: %v", err)
		return cart.NewMemoryStore(), func() {}
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			logf("close carts db: %v", err)
		}
	}
	return store, cleanup
}

// orderServiceConfig carries the wiring knobs for buildOrderService.
type orderServiceConfig struct {
	dsn            string
	gateway        orders.PaymentGateway
	publisher      events.Publisher
	idempotencyTTL time.Duration
	strict         bool
}

// buildOrderService wires the order service. When a DSN is configured
// and reachable it uses Postgres for both orders and idempotency keys,
// otherwise it falls back to in-memory storage so local runs work
// without a database. The returned purger is non-nil only for the
// Postgres idempotency store; the reaper picks it up to trim expired
// keys on its sweep cadence.
func buildOrderService(ctx context.Context, cfg orderServiceConfig,
	logf func(format string, args ...any)) (*orders.Service, orders.Store, orders.Purger, func()) {
	cleanup := func() {}
	var store orders.Store = orders.NewMemoryStore()
	var keys idempotency.Store = idempotency.NewMemoryStore()
	var purger orders.Purger

	if cfg.dsn != "" {
		sqlDB, err := openDB("pgx", cfg.dsn)
		if err != nil {
			logf("postgres open failed, falling back to in-memory orders: %v", err)
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			pgStore, err := ordersdb.NewStoreWithSchema(setupCtx, sqlDB)
			if err != nil {
				logf("postgres init failed, falling back to in-memory orders: %v", err)
				_ = sqlDB.Close()
			} else {
				pgKeys, err := ordersdb.NewIdempotencyStoreWithSchema(setupCtx, sqlDB)
				if err != nil {
					logf("idempotency init failed, falling back to in-memory orders: %v", err)
					_ = sqlDB.Close()
				} else {
					logf("postgres orders enabled")
					store = pgStore
					keys = pgKeys
					purger = pgKeys
					cleanup = func() {
						if err := sqlDB.Close(); err != nil {
							logf("close orders db: %v", err)
						}
					}
				}
			}
		}
	}

	gateway := cfg.gateway
	if gateway == nil {
		gateway = orders.NoopGateway{}
	}

	guardOpts := []idempotency.Option{idempotency.WithLogf(logf)}
	if cfg.idempotencyTTL > 0 {
		guardOpts = append(guardOpts, idempotency.WithTTL(cfg.idempotencyTTL))
	}
	if cfg.strict {
		guardOpts = append(guardOpts, idempotency.WithStrict(true))
	}
	guard := idempotency.NewGuard(keys, guardOpts...)

	return orders.NewService(store, gateway, guard, cfg.publisher, logf), store, purger, cleanup
}

// buildEventSinks assembles the fanout targets for order events: an
// in-process ring for debugging, plus whichever durable sinks are
// configured (Postgres archive, Redis stream, RabbitMQ exchange) and
// the websocket hub.
func buildEventSinks(ctx context.Context, dsn string, redisClient events.RedisPipelineClient,
	redisCfg config.RedisConfig, hub *realtime.Hub, logf func(format string, args ...any)) ([]events.Publisher, func(), error) {
	sinks := []events.Publisher{events.NewLocalPublisher(256)}
	var closers []func()

	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if dsn != "" {
		db, err := openDB("pgx", dsn)
		if err != nil {
			logf("postgres open failed, skipping event archive: %v", err)
		} else {
			setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			archive, err := eventsdb.NewPostgresArchiveWithSchema(setupCtx, db)
			cancel()
			if err != nil {
				_ = db.Close()
				logf("event archive schema init failed, skipping: %v", err)
			} else {
				sinks = append(sinks, archive)
				closers = append(closers, func() {
					if err := db.Close(); err != nil {
						logf("close events db: %v", err)
					}
				})
			}
		}
	}

	if redisClient != nil {
		sinks = append(sinks, events.NewRedisStreamPublisher(redisClient, redisCfg.Stream, redisCfg.EventTTL, redisCfg.StreamMaxLen))
	}

	if path := strings.TrimSpace(os.Getenv("EVENT_LOG_FILE")); path != "" {
		fileLog, err := events.NewFileLog(path)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		sinks = append(sinks, fileLog)
		closers = append(closers, func() {
			if err := fileLog.Close(); err != nil {
				logf("close event log: %v", err)
			}
		})
	}

	if rabbitCfg, enabled := config.LoadRabbit(); enabled {
		rabbit, err := events.NewRabbitPublisher(rabbitCfg.URL, rabbitCfg.Exchange)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		sinks = append(sinks, rabbit)
		closers = append(closers, rabbit.Close)
	}

	if hub != nil {
		sinks = append(sinks, events.NewBroadcastPublisher(hub))
	}

	return sinks, cleanup, nil
}

// defaultTaxTable maps tax code to per-country rates, with "*" as the
// catch-all destination.
var defaultTaxTable = map[string]map[string]float64{
	"standard": {"US": 0.08, "GB": 0.20, "DE": 0.19, "*": 0.10},
	"reduced":  {"GB": 0.05, "DE": 0.07, "*": 0.05},
	"zero":     {"*": 0},
}

// loadTaxRates returns the tax lookup used by the estimator. The table
// can be replaced wholesale with TAX_TABLE_FILE pointing at a JSON
// document of the same shape as defaultTaxTable.
func loadTaxRates(logf func(format string, args ...any)) cart.TaxRateFunc {
	table := defaultTaxTable

	if path := strings.TrimSpace(os.Getenv("TAX_TABLE_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			logf("read TAX_TABLE_FILE: %v", err)
		} else {
			var loaded map[string]map[string]float64
			if err := json.Unmarshal(raw, &loaded); err != nil {
				logf("parse TAX_TABLE_FILE: %v", err)
			} else {
				table = loaded
			}
		}
	}

	return func(taxCode, country string) float64 {
		rates, ok := table[taxCode]
		if !ok {
			return 0
		}
		if rate, ok := rates[country]; ok {
			return rate
		}
		return rates["*"]
	}
}
