package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ubersystem/internal/config"
	"ubersystem/internal/httpserver"
	"ubersystem/internal/mailer"
	"ubersystem/internal/mqhandler"
	"ubersystem/pkg/circuitbreaker"
	"ubersystem/pkg/logger"
	"ubersystem/pkg/mq"
	"ubersystem/pkg/otel"
	"ubersystem/pkg/redis"
	"ubersystem/pkg/util"
)

const (
	serviceName   = "mail-relay"
	version       = "1.0.0"
	outboundQueue = "email.outbound.q"
)

func main() {
	cfg := config.LoadRelay()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting mail-relay...",
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("smtp_host", cfg.SMTP.Host),
		zap.Int("smtp_port", cfg.SMTP.Port),
	)

	shutdownTracing, err := otel.Init(serviceName, version, cfg.Otel, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis：投递去重和重试计数
	rdb := redis.NewRedisClient(cfg.Redis)
	if err := redis.Ping(ctx, rdb); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()

	deduper := util.NewDeduper(rdb, cfg.Relay.DedupeTTL, log)
	retryCounter := util.NewRetryCounter(rdb, cfg.Relay.RetryTTL)

	// MQ Publisher，只用来写 DLQ
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// SMTP + 熔断
	breakerCfg := cfg.CircuitBreaker
	breakerCfg.OnStateChange = func(from, to circuitbreaker.State) {
		log.Warn("SMTP circuit breaker state changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	deliverer := mqhandler.WithBreaker(mailer.NewSMTPTransport(cfg.SMTP), circuitbreaker.NewCircuitBreaker(breakerCfg))

	handler := mqhandler.NewOutboundEmailHandler(deliverer, deduper, retryCounter, publisher, log).
		WithMaxRetries(cfg.Relay.MaxRetries)

	// MQ Consumer for email.outbound
	log.Info("Initializing MQ consumer for email.outbound...",
		zap.String("queue", outboundQueue),
		zap.Int("prefetch", cfg.Relay.Prefetch),
	)
	consumer, err := mq.NewConsumer(cfg.MQ.URL, outboundQueue, mq.RoutingEmailOutbound, cfg.Relay.Prefetch, log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(handler.Handle)

	go func() {
		if err := consumer.StartConsuming(ctx); err != nil {
			log.Fatal("email.outbound consumer failed", zap.Error(err))
		}
	}()

	// HTTP Server (health checks + metrics)
	router := httpserver.NewProbeRouter(httpserver.PingFunc(func(ctx context.Context) error {
		return redis.Ping(ctx, rdb)
	}))
	srv := router.Server(":" + cfg.Relay.Port)

	go func() {
		log.Info("HTTP server starting", zap.String("port", cfg.Relay.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("mail-relay is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down mail-relay gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("mail-relay shutdown complete")
}
