package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"sitecart/cmd/server/config"
	"sitecart/internal/cart"
	"sitecart/internal/events"
	"sitecart/internal/httpapi"
	"sitecart/internal/observability"
	"sitecart/internal/orders"
	"sitecart/internal/ratelimit"
	"sitecart/internal/realtime"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	_ = godotenv.Load()

	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	var out io.Writer = os.Stdout
	if os.Getenv("APP_ENV") != "production" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "sitecart").Logger()
}

func run(ctx context.Context, logger zerolog.Logger) error {
	logf := func(format string, args ...any) {
		logger.Warn().Msgf(format, args...)
	}

	httpCfg, err := config.LoadHTTP()
	if err != nil {
		return err
	}
	ordersCfg, err := config.LoadOrders()
	if err != nil {
		return err
	}
	limitsCfg, err := config.LoadLimits()
	if err != nil {
		return err
	}

	dsn := strings.TrimSpace(os.Getenv("DATABASE_URL"))

	health := map[string]string{"postgres": "disabled", "redis": "disabled"}

	var redisClient *redis.Client
	redisCfg, redisEnabled, err := config.LoadRedis()
	if err != nil {
		return err
	}
	if redisEnabled {
		client, closeRedis, err := buildRedisClient(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer closeRedis()
		redisClient = client
		health["redis"] = "ok"
	}

	hub := realtime.NewHub()
	go hub.Run(ctx)

	var pipeClient events.RedisPipelineClient
	if redisClient != nil {
		pipeClient = redisClientAdapter{client: redisClient}
	}
	sinks, closeSinks, err := buildEventSinks(ctx, dsn, pipeClient, redisCfg, hub, logf)
	if err != nil {
		return err
	}
	defer closeSinks()
	publisher := events.NewFanoutPublisher(sinks...)

	relCfg, err := orders.LoadReliabilityConfigFromEnv()
	if err != nil {
		return err
	}
	gateway := relCfg.Wrap(orders.NewInMemoryGateway())

	svcCfg := orderServiceConfig{
		dsn:       dsn,
		gateway:   gateway,
		publisher: publisher,
		strict:    ordersCfg.IdempotencyStrict,
	}
	if ordersCfg.IdempotencyTTL != nil {
		svcCfg.idempotencyTTL = *ordersCfg.IdempotencyTTL
	}
	orderSvc, orderStore, purger, closeOrders := buildOrderService(ctx, svcCfg, logf)
	defer closeOrders()

	if dsn != "" {
		health["postgres"] = "ok"
		if _, ok := orderStore.(*orders.MemoryStore); ok {
			health["postgres"] = "fallback"
		}
	}

	reaperOpts := []orders.ReaperOption{orders.WithReaperLogf(logf)}
	if ordersCfg.ReservationTTL != nil {
		reaperOpts = append(reaperOpts, orders.WithReaperTTL(*ordersCfg.ReservationTTL))
	}
	if ordersCfg.ReaperInterval != nil {
		reaperOpts = append(reaperOpts, orders.WithReaperInterval(*ordersCfg.ReaperInterval))
	}
	if ordersCfg.ReaperBatch != nil {
		reaperOpts = append(reaperOpts, orders.WithReaperBatch(*ordersCfg.ReaperBatch))
	}
	if purger != nil {
		reaperOpts = append(reaperOpts, orders.WithReaperPurger(purger))
	}
	reaper := orders.NewReaper(orderStore, publisher, reaperOpts...)
	go reaper.Run(ctx)

	cartStore, closeCarts := buildCartStore(ctx, dsn, logf)
	defer closeCarts()
	carts := cart.NewService(cartStore, ordersCfg.HeartbeatThrottle)

	var counters ratelimit.CounterStore = ratelimit.NewMemoryStore()
	if redisClient != nil {
		counters = ratelimit.NewRedisStore(redisClient)
	}
	limiter := ratelimit.NewLimiter(counters, limitsCfg.Strict, logf)

	limits := httpapi.DefaultRateLimits()
	if limitsCfg.CartSync != nil {
		limits.CartSync = int64(*limitsCfg.CartSync)
	}
	if limitsCfg.CartSyncWindow != nil {
		limits.CartSyncWindow = *limitsCfg.CartSyncWindow
	}
	if limitsCfg.Mutation != nil {
		limits.Mutation = int64(*limitsCfg.Mutation)
	}
	if limitsCfg.MutationWindow != nil {
		limits.MutationWindow = *limitsCfg.MutationWindow
	}

	metrics := observability.NewMetrics()

	srvOpts := []httpapi.Option{
		httpapi.WithRateLimits(limits),
		httpapi.WithTaxRates(loadTaxRates(logf)),
		httpapi.WithHub(hub),
		httpapi.WithHealth(func() map[string]string { return health }),
	}
	if ordersCfg.InternalToken != "" {
		srvOpts = append(srvOpts, httpapi.WithInternalToken(ordersCfg.InternalToken))
	}

	api := httpapi.NewServer(carts, orderSvc, reaper, limiter, metrics, logger, srvOpts...)

	srv := &http.Server{
		Addr:              httpCfg.Addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: httpCfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpCfg.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		metrics.MarkShutdown(0)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
